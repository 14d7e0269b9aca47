package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/metrics"
	"github.com/guessly/clob/pkg/util"
)

// DispatcherConfig bounds the projection pipeline.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration // per report call
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Dispatcher projects committed batches to a LedgerReporter off the trading
// path. Submit never blocks; when the queue is full the batch is dropped and
// logged. Report failures are logged and never retried into the engine.
type Dispatcher struct {
	reporter LedgerReporter
	cfg      DispatcherConfig
	logger   *zap.Logger

	queue  chan Batch
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(reporter LedgerReporter, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		reporter: reporter,
		cfg:      cfg,
		logger:   util.OrNop(logger).Named("settlement"),
		queue:    make(chan Batch, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when Close drains the queue.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Submit enqueues a batch and reports whether it was accepted.
func (d *Dispatcher) Submit(b Batch) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- b:
		return true
	default:
		metrics.LedgerDropped.Inc()
		d.logger.Warn("ledger_projection_dropped",
			zap.String("market", b.Market.Hex()),
			zap.String("taker", b.Taker.Hex()),
			zap.Int("fills", len(b.Fills)))
		return false
	}
}

// Close stops accepting batches and waits until queued ones are reported.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for b := range d.queue {
		d.report(b)
	}
}

func (d *Dispatcher) report(b Batch) {
	positions, volume := Project(b)
	for _, u := range positions {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		err := d.reporter.OnFill(ctx, u)
		cancel()
		if err != nil {
			d.fail("on_fill", b, err, zap.String("user", u.User.Hex()))
		}
	}
	if volume == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.reporter.OnVolumeDelta(ctx, *volume); err != nil {
		d.fail("on_volume_delta", b, err)
	}
}

func (d *Dispatcher) fail(call string, b Batch, err error, fields ...zap.Field) {
	if !errors.Is(err, ErrExternalLedgerUnavailable) {
		err = errors.Join(ErrExternalLedgerUnavailable, err)
	}
	metrics.LedgerFailures.WithLabelValues(call).Inc()
	fields = append(fields,
		zap.String("call", call),
		zap.String("market", b.Market.Hex()),
		zap.String("market_id", b.MarketID),
		zap.Error(err))
	d.logger.Warn("ledger_report_failed", fields...)
}
