package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/events"
	"github.com/guessly/clob/pkg/app/settlement"
	"github.com/guessly/clob/pkg/metrics"
	"github.com/guessly/clob/pkg/util"
)

var (
	ErrInvalidOrderParameters = orderbook.ErrInvalidOrderParameters
	ErrOrderNotFound          = orderbook.ErrOrderNotFound
	ErrInsufficientBalance    = account.ErrInsufficientBalance
	ErrInsufficientAllowance  = account.ErrInsufficientAllowance
	ErrMarketNotFound         = market.ErrMarketNotFound

	ErrMarketResolved    = errors.New("market resolved")
	ErrMarketNotResolved = errors.New("market not resolved")
	ErrOrderNotActive    = errors.New("order not active")
	ErrExcessFillAmount  = errors.New("fill amount exceeds remaining")
)

// SettlementTarget moves collateral and shares atomically. *account.Vault
// implements it.
type SettlementTarget interface {
	Operator() common.Address
	Apply(transfers []account.Transfer, commit func(account.Change) error) error
	Digest() common.Hash
}

// MarketSource resolves market metadata. *market.Registry implements it.
type MarketSource interface {
	Get(addr common.Address) (market.Market, error)
}

// JournalEntry is the complete durable effect of one engine call: the
// post-state of every touched order, the next order id and the vault change.
type JournalEntry struct {
	Orders []orderbook.Order
	NextID uint64
	Vault  account.Change
}

// Journal persists a JournalEntry atomically. A Commit error aborts the call.
type Journal interface {
	Commit(JournalEntry) error
}

// Projector hands committed fills to the external ledger. Submit is called
// under the engine write lock and must not block.
type Projector interface {
	Submit(settlement.Batch) bool
}

type Config struct {
	Vault    SettlementTarget
	Markets  MarketSource
	Fees     settlement.Schedule
	Platform common.Address // fee sink; also receives creator/dividend fees of markets without one

	Journal   Journal
	Sink      events.Sink
	Projector Projector
	Clock     util.Clock
	Logger    *zap.Logger
}

// Engine executes order placement, fills and post-resolution cancellation.
// Every mutating call holds the write lock for its whole duration, so calls
// are serialized and each one is all-or-nothing.
type Engine struct {
	mu        sync.RWMutex
	ledger    *orderbook.Ledger
	vault     SettlementTarget
	markets   MarketSource
	fees      settlement.Schedule
	platform  common.Address
	journal   Journal
	sink      events.Sink
	projector Projector
	clock     util.Clock
	logger    *zap.Logger
	newFillID func() string
}

func New(cfg Config) (*Engine, error) {
	if cfg.Vault == nil || cfg.Markets == nil {
		return nil, errors.New("engine: vault and markets are required")
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	if cfg.Fees.TotalBps() > 0 && cfg.Platform == (common.Address{}) {
		return nil, errors.New("engine: platform fee address required when fees are charged")
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	return &Engine{
		ledger:    orderbook.NewLedger(),
		vault:     cfg.Vault,
		markets:   cfg.Markets,
		fees:      cfg.Fees,
		platform:  cfg.Platform,
		journal:   cfg.Journal,
		sink:      cfg.Sink,
		projector: cfg.Projector,
		clock:     cfg.Clock,
		logger:    util.OrNop(cfg.Logger).Named("engine"),
		newFillID: func() string { return uuid.NewString() },
	}, nil
}

// Restore loads persisted orders. Call before serving traffic.
func (e *Engine) Restore(orders []orderbook.Order, nextID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Restore(orders, nextID)
}

func (e *Engine) Fees() settlement.Schedule { return e.fees }

func (e *Engine) Order(id uint64) (orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.GetOrder(id)
}

// OrdersForSide lists every order id of a side in arrival order, including
// inactive ones. Readers skip inactive entries.
func (e *Engine) OrdersForSide(mkt common.Address, outcome uint8, isBid bool) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.OrdersForSide(mkt, outcome, isBid)
}

type Depth struct {
	Market  common.Address         `json:"market"`
	Outcome uint8                  `json:"outcome"`
	Bids    []orderbook.PriceLevel `json:"bids"`
	Asks    []orderbook.PriceLevel `json:"asks"`
}

// Depth aggregates resting size by price, best first on each side.
func (e *Engine) Depth(mkt common.Address, outcome uint8) Depth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Depth{
		Market:  mkt,
		Outcome: outcome,
		Bids:    e.ledger.Levels(mkt, outcome, true),
		Asks:    e.ledger.Levels(mkt, outcome, false),
	}
}

func (e *Engine) NextOrderID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.NextID()
}

// StateDigest commits to the order ledger and the vault together.
func (e *Engine) StateDigest() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := sha3.NewLegacyKeccak256()
	ledger := e.ledger.Digest()
	vault := e.vault.Digest()
	h.Write(ledger[:])
	h.Write(vault[:])
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// commit runs the vault batch and journals the result in the same step.
func (e *Engine) commit(transfers []account.Transfer, orders []orderbook.Order, nextID uint64) error {
	return e.vault.Apply(transfers, func(c account.Change) error {
		if e.journal == nil {
			return nil
		}
		if err := e.journal.Commit(JournalEntry{Orders: orders, NextID: nextID, Vault: c}); err != nil {
			return fmt.Errorf("journal commit: %w", err)
		}
		return nil
	})
}

func (e *Engine) emit(evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	now := e.clock.Now()
	batch := make([]events.Envelope, len(evs))
	for i, ev := range evs {
		batch[i] = events.Wrap(ev, now)
	}
	e.sink.Publish(batch)
}

func (e *Engine) activeMarket(addr common.Address) (market.Market, error) {
	m, err := e.markets.Get(addr)
	if err != nil {
		return market.Market{}, err
	}
	if m.Resolved() {
		return market.Market{}, fmt.Errorf("%w: %s", ErrMarketResolved, addr.Hex())
	}
	return m, nil
}

func observe(op string, start time.Time, err error) {
	metrics.EngineLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Rejections.WithLabelValues(op).Inc()
	}
}
