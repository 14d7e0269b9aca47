package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/resolution"
	"github.com/guessly/clob/pkg/util"
)

// Watcher follows MarketResolved logs emitted by the resolver contract and
// forwards them as resolutions.
type Watcher struct {
	backend  Backend
	resolver common.Address
	clock    util.Clock
	retry    time.Duration
	logger   *zap.Logger
}

func NewWatcher(backend Backend, resolver common.Address, clock util.Clock, logger *zap.Logger) *Watcher {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Watcher{
		backend:  backend,
		resolver: resolver,
		clock:    clock,
		retry:    2 * time.Second,
		logger:   util.OrNop(logger).Named("watcher"),
	}
}

// DecodeResolution parses a MarketResolved log.
func DecodeResolution(l types.Log) (resolution.Resolution, error) {
	ev := orderBook.Events["MarketResolved"]
	if len(l.Topics) != 2 || l.Topics[0] != ev.ID {
		return resolution.Resolution{}, fmt.Errorf("not a MarketResolved log: %s", l.TxHash.Hex())
	}
	vals, err := orderBook.Unpack("MarketResolved", l.Data)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("decode MarketResolved: %w", err)
	}
	outcome, ok := vals[0].(uint8)
	if !ok {
		return resolution.Resolution{}, fmt.Errorf("unexpected outcome type %T", vals[0])
	}
	return resolution.Resolution{
		Market:  common.BytesToAddress(l.Topics[1].Bytes()),
		Outcome: outcome,
		Source:  "chain",
	}, nil
}

// Run subscribes and sends every resolution to out until ctx ends. Dropped
// subscriptions are re-established after a pause. Removed (reorged) logs are
// ignored.
func (w *Watcher) Run(ctx context.Context, out chan<- resolution.Resolution) error {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{w.resolver},
		Topics:    [][]common.Hash{{orderBook.Events["MarketResolved"].ID}},
	}
	for {
		err := w.follow(ctx, q, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("subscription_lost", zap.Error(err), zap.Duration("retry_in", w.retry))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(w.retry):
		}
	}
}

func (w *Watcher) follow(ctx context.Context, q ethereum.FilterQuery, out chan<- resolution.Resolution) error {
	logs := make(chan types.Log, 16)
	sub, err := w.backend.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	w.logger.Info("watching_resolutions", zap.String("resolver", w.resolver.Hex()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case l := <-logs:
			if l.Removed {
				continue
			}
			res, err := DecodeResolution(l)
			if err != nil {
				w.logger.Warn("bad_resolution_log", zap.Error(err))
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
