package orderbook

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point denominator for prices and share amounts
// (6 decimals, USDC style). A price of 500000 is 0.50 collateral per share.
const PriceScale uint64 = 1_000_000

// PriceDecimals is log10(PriceScale).
const PriceDecimals = 6

// Binary outcomes.
const (
	OutcomeYes uint8 = 0
	OutcomeNo  uint8 = 1
)

var (
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	ErrOrderNotFound          = errors.New("order not found")
)

// Order is a resting maker instruction. Orders are never deleted: fills and
// cancellation only move Filled forward or clear Active.
type Order struct {
	ID           uint64         `json:"id"`
	Maker        common.Address `json:"maker"`
	Market       common.Address `json:"market"`
	OutcomeIndex uint8          `json:"outcomeIndex"`
	Price        uint64         `json:"price"`  // µ-units, 0 < price < PriceScale
	Amount       uint64         `json:"amount"` // share units
	Filled       uint64         `json:"filled"`
	IsBid        bool           `json:"isBid"`
	Active       bool           `json:"active"`
	Cancelled    bool           `json:"cancelled"`

	// Escrow is what is still locked for this order: collateral for bids,
	// outcome shares for asks.
	Escrow uint64 `json:"escrow"`

	CreatedAt int64 `json:"createdAt"` // unix millis
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() uint64 {
	return o.Amount - o.Filled
}

// Side returns the book side this order rests on.
func (o *Order) Side() SideKey {
	return SideKey{Market: o.Market, OutcomeIndex: o.OutcomeIndex, IsBid: o.IsBid}
}

// Validate checks the fill accounting invariants.
func (o *Order) Validate() error {
	if o.Filled > o.Amount {
		return fmt.Errorf("order %d: filled %d exceeds amount %d", o.ID, o.Filled, o.Amount)
	}
	if o.Active && o.Filled == o.Amount {
		return fmt.Errorf("order %d: fully filled but still active", o.ID)
	}
	if !o.Active && !o.Cancelled && o.Filled < o.Amount {
		return fmt.Errorf("order %d: inactive with %d remaining but not cancelled", o.ID, o.Remaining())
	}
	return nil
}

// Cost returns floor(amount * price / PriceScale) using a 128-bit intermediate.
// price must not exceed PriceScale.
func Cost(amount, price uint64) uint64 {
	hi, lo := bits.Mul64(amount, price)
	q, _ := bits.Div64(hi, lo, PriceScale)
	return q
}

// ValidateParams checks the placement parameters shared by every venue.
func ValidateParams(maker, market common.Address, outcomeIndex uint8, price, amount uint64) error {
	switch {
	case maker == (common.Address{}):
		return fmt.Errorf("%w: zero maker address", ErrInvalidOrderParameters)
	case market == (common.Address{}):
		return fmt.Errorf("%w: zero market address", ErrInvalidOrderParameters)
	case outcomeIndex > OutcomeNo:
		return fmt.Errorf("%w: outcome index %d", ErrInvalidOrderParameters, outcomeIndex)
	case price == 0 || price >= PriceScale:
		return fmt.Errorf("%w: price %d outside (0, %d)", ErrInvalidOrderParameters, price, PriceScale)
	case amount == 0:
		return fmt.Errorf("%w: zero amount", ErrInvalidOrderParameters)
	}
	return nil
}

// PriceLevel aggregates the remaining size of active orders at one price.
type PriceLevel struct {
	Price  uint64 `json:"price"`
	Amount uint64 `json:"amount"`
	Orders int    `json:"orders"`
}
