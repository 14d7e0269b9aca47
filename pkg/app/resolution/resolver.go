package resolution

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/engine"
	"github.com/guessly/clob/pkg/util"
)

// Resolution is an external signal that a market settled.
type Resolution struct {
	Market  common.Address
	Outcome uint8
	Source  string // "chain", "api", ...
}

type Canceller interface {
	CancelAllOrders(mkt common.Address) (*engine.CancelResult, error)
}

type Registry interface {
	Resolve(addr common.Address, outcome uint8) (bool, error)
	Get(addr common.Address) (market.Market, error)
	List() []market.Market
}

// Persister stores the resolved market record. *storage.PebbleStore
// implements it.
type Persister interface {
	SaveMarket(m market.Market) error
}

type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Resolver turns resolution signals into a durable market record and order
// cancellation. Both steps are idempotent, so every failure is retried with
// backoff.
type Resolver struct {
	registry  Registry
	engine    Canceller
	persister Persister
	clock     util.Clock
	backoff   Backoff
	logger    *zap.Logger
	pending   chan common.Address
}

func NewResolver(registry Registry, eng Canceller, clock util.Clock, backoff Backoff, logger *zap.Logger) *Resolver {
	if clock == nil {
		clock = util.RealClock{}
	}
	if backoff.Initial <= 0 {
		backoff.Initial = 200 * time.Millisecond
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = 30 * time.Second
	}
	return &Resolver{
		registry: registry,
		engine:   eng,
		clock:    clock,
		backoff:  backoff,
		logger:   util.OrNop(logger).Named("resolution"),
		pending:  make(chan common.Address, 256),
	}
}

// SetPersister makes every resolution save the market record before its
// orders are cancelled.
func (r *Resolver) SetPersister(p Persister) { r.persister = p }

// Notify queues persistence and cancellation for a market that was resolved
// elsewhere.
// It is meant to be registered with market.Registry.OnResolve.
func (r *Resolver) Notify(m market.Market) {
	select {
	case r.pending <- m.Address:
	default:
		// dropped; the next Sweep picks it up
		r.logger.Warn("resolution_queue_full", zap.String("market", m.Address.Hex()))
	}
}

// Resolve marks the market resolved, persists it and cancels its resting
// orders, retrying each step until it commits or ctx ends.
func (r *Resolver) Resolve(ctx context.Context, res Resolution) (*engine.CancelResult, error) {
	changed, err := r.registry.Resolve(res.Market, res.Outcome)
	if err != nil {
		return nil, err
	}
	r.logger.Info("market_resolved",
		zap.String("market", res.Market.Hex()),
		zap.Uint8("outcome", res.Outcome),
		zap.String("source", res.Source),
		zap.Bool("changed", changed))
	return r.settle(ctx, res.Market)
}

// settle persists a resolved market, then cancels its orders. A market that
// is not durably resolved would reopen for trading after a restart, so the
// save is retried like the cancellation.
func (r *Resolver) settle(ctx context.Context, mkt common.Address) (*engine.CancelResult, error) {
	if r.persister != nil {
		m, err := r.registry.Get(mkt)
		if err != nil {
			return nil, err
		}
		err = r.retry(ctx, "save_market", mkt, func(int) (bool, error) {
			return false, r.persister.SaveMarket(m)
		})
		if err != nil {
			r.logger.Error("market_save_abandoned", zap.String("market", mkt.Hex()), zap.Error(err))
			return nil, err
		}
	}
	return r.Cancel(ctx, mkt)
}

// Cancel runs CancelAllOrders with exponential backoff. Unknown or
// unresolved markets fail immediately.
func (r *Resolver) Cancel(ctx context.Context, mkt common.Address) (res *engine.CancelResult, err error) {
	err = r.retry(ctx, "cancel", mkt, func(attempt int) (bool, error) {
		res, err = r.engine.CancelAllOrders(mkt)
		if err != nil {
			permanent := errors.Is(err, engine.ErrMarketNotFound) || errors.Is(err, engine.ErrMarketNotResolved)
			return permanent, err
		}
		if len(res.Cancelled) > 0 {
			r.logger.Info("orders_cancelled",
				zap.String("market", mkt.Hex()),
				zap.Int("orders", len(res.Cancelled)),
				zap.Int("attempt", attempt))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// retry calls fn with exponential backoff until it succeeds, reports a
// permanent error, or ctx ends.
func (r *Resolver) retry(ctx context.Context, op string, mkt common.Address, fn func(attempt int) (permanent bool, err error)) error {
	delay := r.backoff.Initial
	for attempt := 1; ; attempt++ {
		permanent, err := fn(attempt)
		if err == nil || permanent {
			return err
		}
		r.logger.Warn(op+"_retry",
			zap.String("market", mkt.Hex()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(delay):
		}
		delay *= 2
		if delay > r.backoff.Max {
			delay = r.backoff.Max
		}
	}
}

// Sweep cancels leftover orders on every resolved market. Used at startup to
// finish cancellations interrupted by a restart.
func (r *Resolver) Sweep(ctx context.Context) error {
	for _, m := range r.registry.List() {
		if !m.Resolved() {
			continue
		}
		if _, err := r.Cancel(ctx, m.Address); err != nil {
			return err
		}
	}
	return nil
}

// Run consumes resolutions from in (e.g. the chain watcher) and markets
// queued by Notify until ctx ends or in is closed.
func (r *Resolver) Run(ctx context.Context, in <-chan Resolution) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := r.Resolve(ctx, res); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("resolution_failed",
					zap.String("market", res.Market.Hex()),
					zap.String("source", res.Source),
					zap.Error(err))
			}
		case mkt := <-r.pending:
			if _, err := r.settle(ctx, mkt); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("cancel_failed", zap.String("market", mkt.Hex()), zap.Error(err))
			}
		}
	}
}
