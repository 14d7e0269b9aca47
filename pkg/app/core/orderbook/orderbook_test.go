package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob     = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	marketX = common.HexToAddress("0x1000000000000000000000000000000000000001")
	marketY = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		maker   common.Address
		market  common.Address
		outcome uint8
		price   uint64
		amount  uint64
		wantErr bool
	}{
		{"valid bid", alice, marketX, 0, 500000, 100, false},
		{"valid no outcome", alice, marketX, 1, 1, 1, false},
		{"zero price", alice, marketX, 0, 0, 100, true},
		{"price at scale", alice, marketX, 0, PriceScale, 100, true},
		{"zero amount", alice, marketX, 0, 500000, 0, true},
		{"outcome out of range", alice, marketX, 2, 500000, 100, true},
		{"zero maker", common.Address{}, marketX, 0, 500000, 100, true},
		{"zero market", alice, common.Address{}, 0, 500000, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger()
			_, err := l.CreateOrder(tt.maker, tt.market, tt.outcome, tt.price, tt.amount, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateOrder() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidOrderParameters) {
					t.Errorf("error %v is not ErrInvalidOrderParameters", err)
				}
				if l.Len() != 0 || l.NextID() != 1 {
					t.Errorf("rejected order mutated the ledger: len=%d next=%d", l.Len(), l.NextID())
				}
			}
		})
	}
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	l := NewLedger()
	var last uint64
	for i := 0; i < 5; i++ {
		id, err := l.CreateOrder(alice, marketX, 0, 400000, 10, i%2 == 0)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
	if l.NextID() != last+1 {
		t.Errorf("NextID = %d, want %d", l.NextID(), last+1)
	}
}

func TestLedgersDoNotShareSequence(t *testing.T) {
	a, b := NewLedger(), NewLedger()
	idA, _ := a.CreateOrder(alice, marketX, 0, 400000, 10, true)
	idB, _ := b.CreateOrder(alice, marketY, 0, 400000, 10, true)
	if idA != 1 || idB != 1 {
		t.Errorf("independent ledgers should both start at 1, got %d and %d", idA, idB)
	}
}

func TestOrdersForSideKeepsArrivalOrderAndStaleEntries(t *testing.T) {
	l := NewLedger()
	first, _ := l.CreateOrder(alice, marketX, 0, 500000, 10, true)
	second, _ := l.CreateOrder(bob, marketX, 0, 500000, 10, true)
	third, _ := l.CreateOrder(alice, marketX, 0, 600000, 10, true)
	l.CreateOrder(alice, marketX, 0, 600000, 10, false) // other side
	l.CreateOrder(alice, marketX, 1, 600000, 10, true)  // other outcome

	o, _ := l.GetOrder(first)
	o.Filled = o.Amount
	o.Active = false
	if err := l.Put(o); err != nil {
		t.Fatalf("put: %v", err)
	}

	all := l.OrdersForSide(marketX, 0, true)
	want := []uint64{first, second, third}
	if len(all) != len(want) {
		t.Fatalf("OrdersForSide = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Fatalf("OrdersForSide = %v, want %v", all, want)
		}
	}

	active := l.ActiveOrdersForSide(marketX, 0, true)
	if len(active) != 2 || active[0] != second || active[1] != third {
		t.Errorf("ActiveOrdersForSide = %v, want [%d %d]", active, second, third)
	}
}

func TestGetOrderReturnsCopy(t *testing.T) {
	l := NewLedger()
	id, _ := l.CreateOrder(alice, marketX, 0, 500000, 10, true)

	o, _ := l.GetOrder(id)
	o.Filled = 5

	again, _ := l.GetOrder(id)
	if again.Filled != 0 {
		t.Error("mutating a returned order leaked into the ledger")
	}

	if _, err := l.GetOrder(999); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("GetOrder(999) err = %v, want ErrOrderNotFound", err)
	}
}

func TestLevelsAggregateBestFirst(t *testing.T) {
	l := NewLedger()
	l.CreateOrder(alice, marketX, 0, 400000, 10, true)
	l.CreateOrder(bob, marketX, 0, 600000, 5, true)
	l.CreateOrder(bob, marketX, 0, 400000, 7, true)
	l.CreateOrder(alice, marketX, 0, 700000, 3, false)
	l.CreateOrder(alice, marketX, 0, 650000, 4, false)

	bids := l.Levels(marketX, 0, true)
	if len(bids) != 2 || bids[0].Price != 600000 || bids[1].Amount != 17 || bids[1].Orders != 2 {
		t.Errorf("bid levels = %+v", bids)
	}
	asks := l.Levels(marketX, 0, false)
	if len(asks) != 2 || asks[0].Price != 650000 {
		t.Errorf("ask levels = %+v", asks)
	}
}

func TestCostTruncates(t *testing.T) {
	tests := []struct {
		amount, price, want uint64
	}{
		{50, 500000, 25},
		{50_000_000, 500000, 25_000_000},
		{3, 333333, 0},
		{7, 999999, 6},
		{1 << 62, 999999, 4611681406741369476}, // needs the 128-bit intermediate
	}
	for _, tt := range tests {
		if got := Cost(tt.amount, tt.price); got != tt.want {
			t.Errorf("Cost(%d, %d) = %d, want %d", tt.amount, tt.price, got, tt.want)
		}
	}
}

func TestDigestTracksState(t *testing.T) {
	l := NewLedger()
	id, _ := l.CreateOrder(alice, marketX, 0, 500000, 10, true)
	before := l.Digest()

	if l.Digest() != before {
		t.Fatal("digest is not deterministic")
	}

	o, _ := l.GetOrder(id)
	o.Filled = 1
	l.Put(o)
	if l.Digest() == before {
		t.Error("digest did not change after a fill")
	}
}

func TestRestoreRebuildsIndex(t *testing.T) {
	l := NewLedger()
	a, _ := l.CreateOrder(alice, marketX, 0, 500000, 10, true)
	b, _ := l.CreateOrder(bob, marketX, 0, 500000, 10, true)
	o, _ := l.GetOrder(a)
	o.Active = false
	o.Cancelled = true
	l.Put(o)

	snap := l.Snapshot()
	restored := NewLedger()
	if err := restored.Restore(snap.Orders, snap.NextID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Digest() != l.Digest() {
		t.Error("restored ledger differs from original")
	}
	if ids := restored.ActiveOrdersForSide(marketX, 0, true); len(ids) != 1 || ids[0] != b {
		t.Errorf("active ids after restore = %v", ids)
	}
	if restored.NextID() != b+1 {
		t.Errorf("NextID after restore = %d, want %d", restored.NextID(), b+1)
	}
}

func TestOrderValidate(t *testing.T) {
	ok := Order{ID: 1, Amount: 10, Filled: 4, Active: true}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}
	over := Order{ID: 2, Amount: 10, Filled: 11}
	if over.Validate() == nil {
		t.Error("overfilled order accepted")
	}
	stale := Order{ID: 3, Amount: 10, Filled: 10, Active: true}
	if stale.Validate() == nil {
		t.Error("fully filled active order accepted")
	}
	cancelled := Order{ID: 4, Amount: 10, Filled: 3, Cancelled: true}
	if err := cancelled.Validate(); err != nil {
		t.Errorf("cancelled order rejected: %v", err)
	}
}
