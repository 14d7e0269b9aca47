package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/guessly/clob/params"
	"github.com/guessly/clob/pkg/chain"
	"github.com/guessly/clob/pkg/crypto"
	"github.com/guessly/clob/pkg/trader"
	"github.com/guessly/clob/pkg/util"
)

// sweep executes a market order against the on-chain OrderBook: it plans a
// price-time sweep of the opposite side and submits it as one fillOrders tx.
func main() {
	var (
		mkt     = flag.String("market", "", "market address")
		outcome = flag.Uint("outcome", 0, "outcome index 0 or 1")
		buy     = flag.Bool("buy", true, "buy (sweep asks) or sell (sweep bids)")
		amount  = flag.Uint64("amount", 0, "shares to trade")
		limit   = flag.Uint64("limit", 0, "worst acceptable price in µ-units, 0 for none")
		dryRun  = flag.Bool("dry-run", false, "print the plan without sending")
	)
	flag.Parse()

	cfg := params.LoadFromEnv("")
	logger, err := util.NewLogger(cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if cfg.Chain.RPCURL == "" || cfg.Chain.OrderBook == (common.Address{}) {
		sugar.Fatal("CHAIN_RPC_URL and CHAIN_ORDERBOOK are required")
	}
	if !common.IsHexAddress(*mkt) || *amount == 0 {
		sugar.Fatal("-market and -amount are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		sugar.Fatalw("chain_dial_failed", "err", err)
	}
	defer backend.Close()

	ccfg := chain.ClientConfig{
		Contract:     cfg.Chain.OrderBook,
		PollInterval: cfg.Chain.PollInterval,
		Logger:       logger,
	}
	if cfg.Chain.PrivateKey != "" {
		signer, err := crypto.FromPrivateKeyHex(cfg.Chain.PrivateKey)
		if err != nil {
			sugar.Fatalw("key_invalid", "err", err)
		}
		ccfg.Key = signer.PrivateKey()
	} else if !*dryRun {
		sugar.Fatal("CHAIN_PRIVATE_KEY is required unless -dry-run")
	}

	client, err := chain.NewClient(ctx, backend, ccfg)
	if err != nil {
		sugar.Fatalw("client_init_failed", "err", err)
	}

	order := trader.MarketOrder{
		Market:     common.HexToAddress(*mkt),
		Outcome:    uint8(*outcome),
		Buy:        *buy,
		Amount:     *amount,
		LimitPrice: *limit,
		SkipOwn:    true,
	}
	sweeper := trader.NewSweeper(client, logger)

	if *dryRun {
		plan, err := sweeper.Plan(ctx, order)
		if err != nil {
			sugar.Fatalw("plan_failed", "err", err)
		}
		printJSON(plan)
		return
	}

	plan, exec, err := sweeper.Execute(ctx, order)
	if err != nil {
		sugar.Fatalw("sweep_failed", "err", err)
	}
	printJSON(map[string]interface{}{"plan": plan, "execution": exec})
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
