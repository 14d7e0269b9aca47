package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/guessly/clob/params"
	"github.com/guessly/clob/pkg/api"
	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/engine"
	"github.com/guessly/clob/pkg/app/events"
	"github.com/guessly/clob/pkg/app/resolution"
	"github.com/guessly/clob/pkg/app/settlement"
	"github.com/guessly/clob/pkg/chain"
	"github.com/guessly/clob/pkg/crypto"
	"github.com/guessly/clob/pkg/metrics"
	"github.com/guessly/clob/pkg/storage"
	"github.com/guessly/clob/pkg/trader"
	"github.com/guessly/clob/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Vault ----
	vault := account.NewVault(cfg.Accounts.Operator)
	vaultState, err := store.LoadVault()
	if err != nil {
		sugar.Fatalw("vault_restore_failed", "err", err)
	}
	vault.Restore(vaultState)
	vault.SetPersister(store.PersistVaultChange)

	// ---- Markets ----
	registry := market.NewRegistry()
	if err := loadMarkets(registry, store, cfg.MarketsFile); err != nil {
		sugar.Fatalw("markets_load_failed", "err", err)
	}

	// ---- Events ----
	hub := api.NewHub(logger)
	go hub.Run(ctx)
	sinks := events.Fanout{hub}

	if cfg.Node.EventLog != "" {
		eventLog, err := storage.NewEventLog(cfg.Node.EventLog)
		if err != nil {
			sugar.Fatalw("event_log_open_failed", "err", err)
		}
		defer eventLog.Close()
		sinks = append(sinks, eventLog)
	}

	if cfg.Events.AMQPURL != "" {
		conn, ch, err := events.DialAMQP(ctx, cfg.Events.AMQPURL)
		if err != nil {
			sugar.Fatalw("amqp_dial_failed", "err", err)
		}
		defer conn.Close()
		pub, err := events.NewAMQPPublisher(ch, cfg.Events.Exchange, 1024, logger)
		if err != nil {
			sugar.Fatalw("amqp_publisher_failed", "err", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		sugar.Infow("amqp_enabled", "exchange", cfg.Events.Exchange)
	}

	// ---- Settlement projection ----
	var projector engine.Projector
	if cfg.Ledger.BaseURL != "" {
		dispatcher := settlement.NewDispatcher(
			settlement.NewHTTPReporter(cfg.Ledger.BaseURL, cfg.Ledger.Timeout),
			settlement.DispatcherConfig{
				QueueSize: cfg.Ledger.QueueSize,
				Workers:   cfg.Ledger.Workers,
				Timeout:   cfg.Ledger.Timeout,
			},
			logger,
		)
		dispatcher.Start()
		defer dispatcher.Close()
		projector = dispatcher
		sugar.Infow("ledger_projection_enabled", "base_url", cfg.Ledger.BaseURL)
	}

	// ---- Engine ----
	eng, err := engine.New(engine.Config{
		Vault:   vault,
		Markets: registry,
		Fees: settlement.Schedule{
			PlatformBps: cfg.Fees.PlatformBps,
			CreatorBps:  cfg.Fees.CreatorBps,
			DividendBps: cfg.Fees.DividendBps,
		},
		Platform:  cfg.Accounts.Platform,
		Journal:   store,
		Sink:      sinks,
		Projector: projector,
		Logger:    logger,
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	orders, err := store.LoadOrders()
	if err != nil {
		sugar.Fatalw("orders_load_failed", "err", err)
	}
	nextID, err := store.LoadSequence()
	if err != nil {
		sugar.Fatalw("sequence_load_failed", "err", err)
	}
	if err := eng.Restore(orders, nextID); err != nil {
		sugar.Fatalw("engine_restore_failed", "err", err)
	}

	// ---- Resolution ----
	resolver := resolution.NewResolver(registry, eng, util.RealClock{}, resolution.Backoff{}, logger)
	resolver.SetPersister(store)
	registry.OnResolve(resolver.Notify)
	if err := resolver.Sweep(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("resolution_sweep_failed", "err", err)
	}

	resolutions := make(chan resolution.Resolution, 16)
	go func() {
		if err := resolver.Run(ctx, resolutions); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Errorw("resolver_stopped", "err", err)
		}
	}()

	if cfg.Chain.RPCURL != "" && cfg.Chain.Resolver != (common.Address{}) {
		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			sugar.Fatalw("chain_dial_failed", "rpc", cfg.Chain.RPCURL, "err", err)
		}
		defer client.Close()
		watcher := chain.NewWatcher(client, cfg.Chain.Resolver, util.RealClock{}, logger)
		go func() {
			if err := watcher.Run(ctx, resolutions); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("watcher_stopped", "err", err)
			}
		}()
		sugar.Infow("chain_watcher_enabled", "resolver", cfg.Chain.Resolver.Hex())
	}

	// ---- Order flow feeder (devnet) ----
	// Enable with: ENABLE_TXGEN=true
	if cfg.Node.TxGen {
		var active []common.Address
		for _, m := range registry.List() {
			if !m.Resolved() {
				active = append(active, m.Address)
			}
		}
		feedCfg := trader.DefaultFeederConfig()
		feedCfg.Markets = active
		if feeder, err := trader.NewFeeder(eng, vault, feedCfg, logger); err != nil {
			sugar.Warnw("feeder_disabled", "err", err)
		} else {
			go feeder.Run(ctx)
		}
	} else {
		sugar.Info("txgen_disabled")
	}

	// ---- API Server ----
	domain := crypto.DefaultDomain()
	domain.ChainID = new(big.Int).SetUint64(cfg.Chain.ChainID)
	domain.VerifyingContract = cfg.Chain.OrderBook

	apiServer := api.NewServer(api.Config{
		Engine:         eng,
		Markets:        registry,
		Balances:       vault,
		Intents:        crypto.NewEIP712Signer(domain),
		Guard:          api.NewReplayGuard(util.RealClock{}, cfg.Node.IntentTTL),
		Hub:            hub,
		Logger:         logger,
		AllowedOrigins: cfg.Node.AllowedOrigins,
	})
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"markets", registry.Count(),
		"orders", len(orders),
		"next_order_id", eng.NextOrderID(),
		"state_digest", eng.StateDigest().Hex(),
		"fees_bps", cfg.Fees.PlatformBps+cfg.Fees.CreatorBps+cfg.Fees.DividendBps)

	<-ctx.Done()
	sugar.Info("node_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
}

// loadMarkets restores persisted markets, then registers any seed market not
// seen before. Persisted state wins so a resolved market stays resolved.
func loadMarkets(registry *market.Registry, store *storage.PebbleStore, seedFile string) error {
	persisted, err := store.LoadMarkets()
	if err != nil {
		return err
	}
	if err := registry.Restore(persisted); err != nil {
		return err
	}
	if seedFile == "" {
		return nil
	}
	seed, err := market.LoadFile(seedFile)
	if err != nil {
		return err
	}
	for _, m := range seed {
		if _, err := registry.Get(m.Address); err == nil {
			continue
		}
		if err := registry.Register(m); err != nil {
			return err
		}
		registered, err := registry.Get(m.Address)
		if err != nil {
			return err
		}
		if err := store.SaveMarket(registered); err != nil {
			return err
		}
	}
	return nil
}
