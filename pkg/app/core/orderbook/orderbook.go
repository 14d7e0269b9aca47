package orderbook

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger stores every order ever created, keyed by id, plus the per-side
// arrival index. It is not safe for concurrent use; the engine serializes
// access.
type Ledger struct {
	seq    *Sequence
	orders map[uint64]*Order
	index  *LevelIndex
}

func NewLedger() *Ledger {
	return &Ledger{
		seq:    NewSequence(1),
		orders: make(map[uint64]*Order),
		index:  NewLevelIndex(),
	}
}

// NewOrder validates the parameters and builds the order that the next
// Insert will accept. The ledger is not modified.
func (l *Ledger) NewOrder(maker, market common.Address, outcomeIndex uint8, price, amount uint64, isBid bool, createdAt int64) (Order, error) {
	if err := ValidateParams(maker, market, outcomeIndex, price, amount); err != nil {
		return Order{}, err
	}
	return Order{
		ID:           l.seq.Peek(),
		Maker:        maker,
		Market:       market,
		OutcomeIndex: outcomeIndex,
		Price:        price,
		Amount:       amount,
		IsBid:        isBid,
		Active:       true,
		CreatedAt:    createdAt,
	}, nil
}

// Insert stores an order built by NewOrder and appends it to its side.
func (l *Ledger) Insert(o Order) error {
	if o.ID != l.seq.Peek() {
		return fmt.Errorf("insert order %d: expected id %d", o.ID, l.seq.Peek())
	}
	l.seq.Next()
	cp := o
	l.orders[o.ID] = &cp
	l.index.Append(o.Side(), o.ID)
	if !o.Active {
		l.index.Deactivate(o.ID)
	}
	return nil
}

// CreateOrder validates, assigns the next id and stores the order.
func (l *Ledger) CreateOrder(maker, market common.Address, outcomeIndex uint8, price, amount uint64, isBid bool) (uint64, error) {
	o, err := l.NewOrder(maker, market, outcomeIndex, price, amount, isBid, 0)
	if err != nil {
		return 0, err
	}
	if err := l.Insert(o); err != nil {
		return 0, err
	}
	return o.ID, nil
}

// GetOrder returns a copy of the order.
func (l *Ledger) GetOrder(id uint64) (Order, error) {
	o, ok := l.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return *o, nil
}

// Put replaces a stored order with an updated copy. Deactivated orders are
// tagged stale in the index but stay in it.
func (l *Ledger) Put(o Order) error {
	cur, ok := l.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, o.ID)
	}
	if cur.Side() != o.Side() {
		return fmt.Errorf("order %d: side is immutable", o.ID)
	}
	*cur = o
	if !o.Active {
		l.index.Deactivate(o.ID)
	}
	return nil
}

// OrdersForSide returns all ids of a side in arrival order, stale ones included.
func (l *Ledger) OrdersForSide(market common.Address, outcomeIndex uint8, isBid bool) []uint64 {
	return l.index.IDs(SideKey{Market: market, OutcomeIndex: outcomeIndex, IsBid: isBid})
}

// ActiveOrdersForSide is OrdersForSide with stale entries skipped.
func (l *Ledger) ActiveOrdersForSide(market common.Address, outcomeIndex uint8, isBid bool) []uint64 {
	return l.index.ActiveIDs(SideKey{Market: market, OutcomeIndex: outcomeIndex, IsBid: isBid})
}

// ActiveOrders returns copies of every active order of a market across both
// outcomes and both sides.
func (l *Ledger) ActiveOrders(market common.Address) []Order {
	var out []Order
	for _, outcome := range []uint8{OutcomeYes, OutcomeNo} {
		for _, isBid := range []bool{true, false} {
			for _, id := range l.ActiveOrdersForSide(market, outcome, isBid) {
				o := l.orders[id]
				if o == nil || !o.Active {
					continue
				}
				out = append(out, *o)
			}
		}
	}
	return out
}

// Levels aggregates active orders of a side by price, best price first.
func (l *Ledger) Levels(market common.Address, outcomeIndex uint8, isBid bool) []PriceLevel {
	byPrice := make(map[uint64]*PriceLevel)
	for _, id := range l.ActiveOrdersForSide(market, outcomeIndex, isBid) {
		o := l.orders[id]
		lv, ok := byPrice[o.Price]
		if !ok {
			lv = &PriceLevel{Price: o.Price}
			byPrice[o.Price] = lv
		}
		lv.Amount += o.Remaining()
		lv.Orders++
	}

	levels := make([]PriceLevel, 0, len(byPrice))
	for _, lv := range byPrice {
		levels = append(levels, *lv)
	}
	// Bids high to low, asks low to high.
	sort.Slice(levels, func(i, j int) bool {
		if isBid {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// NextID returns the id the next order will receive.
func (l *Ledger) NextID() uint64 { return l.seq.Peek() }

// Len returns the number of orders ever stored.
func (l *Ledger) Len() int { return len(l.orders) }

// Restore rebuilds the ledger from persisted orders. Ids are monotonic, so
// sorting by id reproduces arrival order in the index.
func (l *Ledger) Restore(orders []Order, nextID uint64) error {
	sorted := append([]Order(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	l.orders = make(map[uint64]*Order, len(sorted))
	l.index = NewLevelIndex()
	l.seq = NewSequence(1)
	for _, o := range sorted {
		if _, dup := l.orders[o.ID]; dup {
			return fmt.Errorf("restore: duplicate order %d", o.ID)
		}
		cp := o
		l.orders[o.ID] = &cp
		l.index.Append(o.Side(), o.ID)
		if !o.Active {
			l.index.Deactivate(o.ID)
		}
		l.seq.Restore(o.ID + 1)
	}
	l.seq.Restore(nextID)
	return nil
}
