package resolution

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/engine"
	"github.com/guessly/clob/pkg/util"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000e5c00")
	mkt      = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	maker    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

type flakyCanceller struct {
	failures int
	calls    int
}

func (c *flakyCanceller) CancelAllOrders(m common.Address) (*engine.CancelResult, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("journal unavailable")
	}
	return &engine.CancelResult{Market: m}, nil
}

func newRegistry(t *testing.T) *market.Registry {
	t.Helper()
	r := market.NewRegistry()
	if err := r.Register(market.Market{Address: mkt, ID: "m"}); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCancelRetriesWithBackoff(t *testing.T) {
	clock := util.NewManualClock(time.Unix(0, 0))
	c := &flakyCanceller{failures: 3}
	r := NewResolver(newRegistry(t), c, clock, Backoff{Initial: time.Second, Max: 3 * time.Second}, nil)

	if _, err := r.Resolve(context.Background(), Resolution{Market: mkt, Outcome: 1, Source: "test"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.calls != 4 {
		t.Fatalf("calls = %d, want 4", c.calls)
	}
	// 1s + 2s + 3s (capped)
	if got := clock.Now().Sub(time.Unix(0, 0)); got != 6*time.Second {
		t.Fatalf("waited %v, want 6s", got)
	}
}

func TestCancelStopsOnContext(t *testing.T) {
	c := &flakyCanceller{failures: 1 << 30}
	r := NewResolver(newRegistry(t), c, util.NewManualClock(time.Unix(0, 0)), Backoff{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// ManualClock fires immediately, so the select may pick the timer a few
	// times before it sees the cancelled context.
	if _, err := r.Resolve(ctx, Resolution{Market: mkt, Outcome: 0}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResolveRejectsConflictingOutcome(t *testing.T) {
	reg := newRegistry(t)
	r := NewResolver(reg, &flakyCanceller{}, nil, Backoff{}, nil)
	if _, err := r.Resolve(context.Background(), Resolution{Market: mkt, Outcome: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), Resolution{Market: mkt, Outcome: 1}); err != nil {
		t.Fatalf("repeat resolution should be idempotent: %v", err)
	}
	if _, err := r.Resolve(context.Background(), Resolution{Market: mkt, Outcome: 0}); !errors.Is(err, market.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

type flakyStore struct {
	failures int
	saved    []market.Market
	calls    int
	log      *[]string
}

func (s *flakyStore) SaveMarket(m market.Market) error {
	s.calls++
	*s.log = append(*s.log, "save")
	if s.calls <= s.failures {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, m)
	return nil
}

type loggingCanceller struct {
	flakyCanceller
	log *[]string
}

func (c *loggingCanceller) CancelAllOrders(m common.Address) (*engine.CancelResult, error) {
	*c.log = append(*c.log, "cancel")
	return c.flakyCanceller.CancelAllOrders(m)
}

func TestResolvePersistsMarketBeforeCancelling(t *testing.T) {
	var log []string
	clock := util.NewManualClock(time.Unix(0, 0))
	store := &flakyStore{failures: 2, log: &log}
	r := NewResolver(newRegistry(t), &loggingCanceller{log: &log}, clock, Backoff{Initial: time.Second, Max: time.Minute}, nil)
	r.SetPersister(store)

	if _, err := r.Resolve(context.Background(), Resolution{Market: mkt, Outcome: 1}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := []string{"save", "save", "save", "cancel"}; !slices.Equal(log, want) {
		t.Fatalf("calls = %v, want %v", log, want)
	}
	if len(store.saved) != 1 || !store.saved[0].Resolved() || store.saved[0].Outcome != 1 {
		t.Fatalf("saved = %+v", store.saved)
	}
	if got := clock.Now().Sub(time.Unix(0, 0)); got != 3*time.Second {
		t.Fatalf("waited %v, want 3s", got)
	}
}

func TestResolveGivesUpSavingOnContext(t *testing.T) {
	var log []string
	r := NewResolver(newRegistry(t), &loggingCanceller{log: &log}, util.NewManualClock(time.Unix(0, 0)), Backoff{}, nil)
	r.SetPersister(&flakyStore{failures: 1 << 30, log: &log})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Resolve(ctx, Resolution{Market: mkt, Outcome: 0}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, call := range log {
		if call == "cancel" {
			t.Fatal("orders cancelled before the market was saved")
		}
	}
}

func newEngine(t *testing.T, reg *market.Registry) (*engine.Engine, *account.Vault) {
	t.Helper()
	v := account.NewVault(operator)
	if err := v.Deposit(maker, account.CollateralAsset(), 1_000); err != nil {
		t.Fatal(err)
	}
	if err := v.Approve(maker, account.Unlimited); err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(engine.Config{Vault: v, Markets: reg})
	if err != nil {
		t.Fatal(err)
	}
	return eng, v
}

func TestRunCancelsOnChainSignalAndRegistryNotify(t *testing.T) {
	reg := newRegistry(t)
	eng, vault := newEngine(t, reg)
	r := NewResolver(reg, eng, nil, Backoff{}, nil)
	reg.OnResolve(r.Notify)

	id, err := eng.PlaceOrder(maker, mkt, 0, 500_000, 100, true)
	if err != nil {
		t.Fatal(err)
	}

	in := make(chan Resolution, 1)
	in <- Resolution{Market: mkt, Outcome: 0, Source: "chain"}
	close(in)
	if err := r.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	o, err := eng.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if o.Active || !o.Cancelled {
		t.Fatalf("order not cancelled: %+v", o)
	}
	if got := vault.Balance(maker, account.CollateralAsset()); got != 1_000 {
		t.Fatalf("maker balance = %d, want full refund", got)
	}
}

func TestSweepFinishesResolvedMarkets(t *testing.T) {
	reg := newRegistry(t)
	eng, vault := newEngine(t, reg)
	if _, err := eng.PlaceOrder(maker, mkt, 1, 250_000, 40, true); err != nil {
		t.Fatal(err)
	}
	// resolved without a listener, as after a crash
	if _, err := reg.Resolve(mkt, 1); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(reg, eng, nil, Backoff{}, nil)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := vault.Balance(operator, account.CollateralAsset()); got != 0 {
		t.Fatalf("escrow left = %d", got)
	}
}
