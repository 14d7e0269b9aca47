package settlement

import (
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// Fill is one (order, amount) pair executed by a FillOrders call.
type Fill struct {
	OrderID    uint64         `json:"orderId"`
	Maker      common.Address `json:"maker"`
	MakerIsBid bool           `json:"makerIsBid"`
	Amount     uint64         `json:"amount"`
	Price      uint64         `json:"price"`
	Cost       uint64         `json:"cost"`
	Fees       Breakdown      `json:"fees"`
}

// Batch is the committed result of one FillOrders call.
type Batch struct {
	MarketID string
	Market   common.Address
	Outcome  uint8
	Taker    common.Address
	Fills    []Fill
}

// PositionUpdate is one onFill report: Amount shares at the size-weighted
// average Price, bought or (Sell) sold by User.
type PositionUpdate struct {
	MarketID string
	Market   common.Address
	User     common.Address
	Outcome  uint8
	Amount   uint64
	Sell     bool
	Price    uint64
}

// VolumeUpdate is one onVolumeDelta report with the gross pre-fee cost.
type VolumeUpdate struct {
	MarketID string
	Market   common.Address
	Volume   uint64
}

type vwap struct {
	hi, lo uint64 // 128-bit sum of amount*price
	amount uint64
}

func (v *vwap) add(amount, price uint64) {
	h, l := bits.Mul64(amount, price)
	var carry uint64
	v.lo, carry = bits.Add64(v.lo, l, 0)
	v.hi, _ = bits.Add64(v.hi, h, carry)
	v.amount += amount
}

// price is floor(sum(amount*price) / sum(amount)). The quotient never exceeds
// the largest price added, so Div64 cannot overflow.
func (v *vwap) price() uint64 {
	if v.amount == 0 {
		return 0
	}
	q, _ := bits.Div64(v.hi, v.lo, v.amount)
	return q
}

// Project turns a batch into ledger updates: exactly one taker update carrying
// the size-weighted average price, one update per distinct maker in first-seen
// order, and one volume update with the summed per-pair cost. An empty batch
// projects nothing.
func Project(b Batch) ([]PositionUpdate, *VolumeUpdate) {
	if len(b.Fills) == 0 {
		return nil, nil
	}

	var (
		taker  vwap
		volume uint64
		makers = make(map[common.Address]*vwap)
		order  []common.Address
	)
	// All fills in a batch rest on the same side.
	takerSells := b.Fills[0].MakerIsBid
	for _, f := range b.Fills {
		taker.add(f.Amount, f.Price)
		volume += f.Cost
		m, ok := makers[f.Maker]
		if !ok {
			m = &vwap{}
			makers[f.Maker] = m
			order = append(order, f.Maker)
		}
		m.add(f.Amount, f.Price)
	}

	updates := make([]PositionUpdate, 0, 1+len(order))
	updates = append(updates, PositionUpdate{
		MarketID: b.MarketID,
		Market:   b.Market,
		User:     b.Taker,
		Outcome:  b.Outcome,
		Amount:   taker.amount,
		Sell:     takerSells,
		Price:    taker.price(),
	})
	for _, addr := range order {
		m := makers[addr]
		updates = append(updates, PositionUpdate{
			MarketID: b.MarketID,
			Market:   b.Market,
			User:     addr,
			Outcome:  b.Outcome,
			Amount:   m.amount,
			Sell:     !takerSells,
			Price:    m.price(),
		})
	}
	return updates, &VolumeUpdate{MarketID: b.MarketID, Market: b.Market, Volume: volume}
}
