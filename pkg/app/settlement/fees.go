package settlement

import (
	"errors"
	"fmt"
	"math/bits"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

var ErrInvalidSchedule = errors.New("invalid fee schedule")

// Schedule holds the fee rates charged on the collateral side of every fill.
type Schedule struct {
	PlatformBps uint64 `json:"platformBps"`
	CreatorBps  uint64 `json:"creatorBps"`
	DividendBps uint64 `json:"dividendBps"`
}

// Breakdown is the fee owed to each sink for one fill.
type Breakdown struct {
	Platform uint64 `json:"platform"`
	Creator  uint64 `json:"creator"`
	Dividend uint64 `json:"dividend"`
}

func (b Breakdown) Total() uint64 { return b.Platform + b.Creator + b.Dividend }

func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{
		Platform: b.Platform + o.Platform,
		Creator:  b.Creator + o.Creator,
		Dividend: b.Dividend + o.Dividend,
	}
}

func (s Schedule) TotalBps() uint64 { return s.PlatformBps + s.CreatorBps + s.DividendBps }

// Validate requires the combined rate to stay below 100% so the seller always
// receives something for a non-zero cost.
func (s Schedule) Validate() error {
	if s.PlatformBps >= BpsDenominator || s.CreatorBps >= BpsDenominator || s.DividendBps >= BpsDenominator {
		return fmt.Errorf("%w: rate out of range", ErrInvalidSchedule)
	}
	if total := s.TotalBps(); total >= BpsDenominator {
		return fmt.Errorf("%w: total %d bps >= %d", ErrInvalidSchedule, total, BpsDenominator)
	}
	return nil
}

// Split computes each sink's fee as floor(cost * bps / 10000). The flooring
// remainder stays with the payer.
func (s Schedule) Split(cost uint64) Breakdown {
	return Breakdown{
		Platform: bpsOf(cost, s.PlatformBps),
		Creator:  bpsOf(cost, s.CreatorBps),
		Dividend: bpsOf(cost, s.DividendBps),
	}
}

func bpsOf(cost, bps uint64) uint64 {
	if bps == 0 || cost == 0 {
		return 0
	}
	hi, lo := bits.Mul64(cost, bps)
	q, _ := bits.Div64(hi, lo, BpsDenominator)
	return q
}
