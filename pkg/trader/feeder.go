package trader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/engine"
	"github.com/guessly/clob/pkg/util"
)

// FeederConfig controls the devnet order flow generator.
type FeederConfig struct {
	Interval    time.Duration
	BatchSize   int // actions per tick
	NumAccounts int
	Markets     []common.Address
	MidPrice    uint64 // µ-units
	Spread      uint64 // resting orders are placed within Spread of MidPrice
	MaxAmount   uint64
	TakePercent int    // share of actions that are market orders
	Funding     uint64 // collateral and shares credited to each account
	Seed        int64
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:    100 * time.Millisecond,
		BatchSize:   10,
		NumAccounts: 50,
		MidPrice:    500_000,
		Spread:      100_000,
		MaxAmount:   100,
		TakePercent: 20,
		Funding:     1_000_000_000_000,
		Seed:        time.Now().UnixNano(),
	}
}

// Funder credits simulated accounts before they trade.
type Funder interface {
	Deposit(owner common.Address, asset account.Asset, amount uint64) error
	Approve(owner common.Address, amount uint64) error
	SetApprovalForAll(owner common.Address, approved bool) error
}

type FeederStats struct {
	Placed  uint64
	Swept   uint64
	Skipped uint64
}

// Feeder places random resting orders around a mid price and sweeps the book
// with market orders from a pool of simulated accounts.
type Feeder struct {
	cfg      FeederConfig
	eng      *engine.Engine
	accounts []common.Address
	rng      *rand.Rand
	logger   *zap.Logger

	placed, swept, skipped atomic.Uint64
}

// FeederAccount derives the i-th simulated trader address.
func FeederAccount(i int) common.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	return common.BytesToAddress(crypto.Keccak256([]byte("guessly-feeder"), buf[:]))
}

func NewFeeder(eng *engine.Engine, funder Funder, cfg FeederConfig, logger *zap.Logger) (*Feeder, error) {
	def := DefaultFeederConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.NumAccounts <= 0 {
		cfg.NumAccounts = def.NumAccounts
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = def.MaxAmount
	}
	if cfg.Funding == 0 {
		cfg.Funding = def.Funding
	}
	if cfg.MidPrice == 0 || cfg.MidPrice >= orderbook.PriceScale {
		return nil, fmt.Errorf("feeder: mid price %d outside (0, %d)", cfg.MidPrice, orderbook.PriceScale)
	}
	if len(cfg.Markets) == 0 {
		return nil, errors.New("feeder: no markets")
	}

	f := &Feeder{
		cfg:      cfg,
		eng:      eng,
		accounts: make([]common.Address, cfg.NumAccounts),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		logger:   util.OrNop(logger).Named("feeder"),
	}
	for i := range f.accounts {
		who := FeederAccount(i)
		f.accounts[i] = who
		if err := funder.Deposit(who, account.CollateralAsset(), cfg.Funding); err != nil {
			return nil, err
		}
		for _, m := range cfg.Markets {
			for _, o := range []uint8{orderbook.OutcomeYes, orderbook.OutcomeNo} {
				if err := funder.Deposit(who, account.ShareAsset(m, o), cfg.Funding); err != nil {
					return nil, err
				}
			}
		}
		if err := funder.Approve(who, account.Unlimited); err != nil {
			return nil, err
		}
		if err := funder.SetApprovalForAll(who, true); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Feeder) Accounts() []common.Address { return f.accounts }

func (f *Feeder) Stats() FeederStats {
	return FeederStats{Placed: f.placed.Load(), Swept: f.swept.Load(), Skipped: f.skipped.Load()}
}

// Step runs one batch of actions. Rejections the engine is expected to
// produce (empty book, resolved market, short balance) count as skipped.
func (f *Feeder) Step(ctx context.Context) error {
	for i := 0; i < f.cfg.BatchSize; i++ {
		who := f.accounts[f.rng.Intn(len(f.accounts))]
		mkt := f.cfg.Markets[f.rng.Intn(len(f.cfg.Markets))]
		outcome := uint8(f.rng.Intn(2))
		amount := uint64(f.rng.Int63n(int64(f.cfg.MaxAmount))) + 1

		var err error
		if f.rng.Intn(100) < f.cfg.TakePercent {
			_, _, err = NewSweeper(NewLocalVenue(f.eng, who), nil).Execute(ctx, MarketOrder{
				Market: mkt, Outcome: outcome, Buy: f.rng.Intn(2) == 0, Amount: amount, SkipOwn: true,
			})
			if err == nil {
				f.swept.Add(1)
			}
		} else {
			isBid := f.rng.Intn(2) == 0
			_, err = f.eng.PlaceOrder(who, mkt, outcome, f.price(isBid), amount, isBid)
			if err == nil {
				f.placed.Add(1)
			}
		}
		if err != nil {
			if !expected(err) {
				return err
			}
			f.skipped.Add(1)
		}
	}
	return nil
}

// price keeps bids below and asks above the mid.
func (f *Feeder) price(isBid bool) uint64 {
	offset := uint64(1)
	if f.cfg.Spread > 0 {
		offset += uint64(f.rng.Int63n(int64(f.cfg.Spread)))
	}
	if isBid {
		if offset >= f.cfg.MidPrice {
			return 1
		}
		return f.cfg.MidPrice - offset
	}
	if f.cfg.MidPrice+offset >= orderbook.PriceScale {
		return orderbook.PriceScale - 1
	}
	return f.cfg.MidPrice + offset
}

func expected(err error) bool {
	return errors.Is(err, ErrNoLiquidity) ||
		errors.Is(err, engine.ErrMarketResolved) ||
		errors.Is(err, engine.ErrInsufficientBalance) ||
		errors.Is(err, engine.ErrInvalidOrderParameters)
}

// Run steps every Interval until ctx is done.
func (f *Feeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	start := time.Now()
	lastLog := start

	f.logger.Info("feeder_started",
		zap.Int("accounts", len(f.accounts)),
		zap.Int("markets", len(f.cfg.Markets)),
		zap.Int("batch", f.cfg.BatchSize),
		zap.Duration("interval", f.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			s := f.Stats()
			f.logger.Info("feeder_stopped",
				zap.Uint64("placed", s.Placed),
				zap.Uint64("swept", s.Swept),
				zap.Duration("elapsed", time.Since(start).Round(time.Second)))
			return ctx.Err()
		case <-ticker.C:
			if err := f.Step(ctx); err != nil {
				f.logger.Error("feeder_step_failed", zap.Error(err))
			}
			if time.Since(lastLog) >= 10*time.Second {
				lastLog = time.Now()
				s := f.Stats()
				f.logger.Info("feeder_stats",
					zap.Uint64("placed", s.Placed),
					zap.Uint64("swept", s.Swept),
					zap.Uint64("skipped", s.Skipped))
			}
		}
	}
}
