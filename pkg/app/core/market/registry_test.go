package market

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var addr = common.HexToAddress("0x000000000000000000000000000000000000c0de")

func newMarket() Market {
	return Market{
		Address:      addr,
		ID:           "clx-btc-100k",
		Creator:      common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		DividendPool: common.HexToAddress("0x00000000000000000000000000000000000000d1"),
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newMarket()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newMarket()); !errors.Is(err, ErrMarketExists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}
	m, err := r.Get(addr)
	if err != nil {
		t.Fatal(err)
	}
	if m.Kind != KindOpinion || m.Status != Active {
		t.Fatalf("unexpected defaults: %+v", m)
	}
	if _, err := r.Get(common.Address{1}); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestRegisterValidates(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Market)
	}{
		{"zero address", func(m *Market) { m.Address = common.Address{} }},
		{"missing id", func(m *Market) { m.ID = "" }},
		{"bad outcome", func(m *Market) { m.Outcome = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMarket()
			tt.edit(&m)
			if err := NewRegistry().Register(m); !errors.Is(err, ErrInvalidMarketConfig) {
				t.Fatalf("expected ErrInvalidMarketConfig, got %v", err)
			}
		})
	}
}

func TestResolveIsTerminal(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(newMarket())

	var fired []Market
	r.OnResolve(func(m Market) { fired = append(fired, m) })

	changed, err := r.Resolve(addr, 1)
	if err != nil || !changed {
		t.Fatalf("first resolve: changed=%v err=%v", changed, err)
	}
	changed, err = r.Resolve(addr, 1)
	if err != nil || changed {
		t.Fatalf("repeat resolve: changed=%v err=%v", changed, err)
	}
	if _, err := r.Resolve(addr, 0); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if len(fired) != 1 || fired[0].Outcome != 1 || !fired[0].Resolved() {
		t.Fatalf("listener calls = %+v", fired)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	body := `markets:
  - address: "0x000000000000000000000000000000000000c0de"
    id: clx-1
    kind: shares
    question: "Will it rain?"
    creator: "0x00000000000000000000000000000000000000c1"
  - address: "0x000000000000000000000000000000000000beef"
    id: clx-2
    status: resolved
    outcome: 1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	markets, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets", len(markets))
	}
	if markets[0].Address != addr || markets[0].Kind != KindShares {
		t.Fatalf("first market = %+v", markets[0])
	}
	if !markets[1].Resolved() || markets[1].Outcome != 1 {
		t.Fatalf("second market = %+v", markets[1])
	}
}
