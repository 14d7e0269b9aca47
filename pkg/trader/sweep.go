package trader

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/util"
)

var (
	ErrNoLiquidity   = errors.New("no liquidity within limit")
	ErrInvalidMarket = errors.New("invalid market order")
)

// Venue is where orders live: the local engine or the on-chain contract.
// OrderIDs may include orders of the other side; the sweeper filters them.
type Venue interface {
	Taker() common.Address
	OrderIDs(ctx context.Context, market common.Address, outcome uint8, isBid bool) ([]uint64, error)
	Order(ctx context.Context, id uint64) (orderbook.Order, error)
	FillOrders(ctx context.Context, ids, amounts []uint64) (*Execution, error)
	PlaceOrder(ctx context.Context, market common.Address, outcome uint8, price, amount uint64, isBid bool) (uint64, error)
}

// Execution is what a venue reports back for a submitted batch.
type Execution struct {
	TotalCost uint64      `json:"totalCost"`
	TxHash    common.Hash `json:"txHash,omitempty"` // on-chain venues only
}

// MarketOrder asks to buy or sell Amount shares at the best available prices.
// LimitPrice bounds the worst accepted price; zero means no bound.
type MarketOrder struct {
	Market     common.Address
	Outcome    uint8
	Buy        bool
	Amount     uint64
	LimitPrice uint64
	SkipOwn    bool // ignore resting orders made by the taker
}

// Plan is the batch a sweep would submit.
type Plan struct {
	IDs      []uint64 `json:"ids"`
	Amounts  []uint64 `json:"amounts"`
	Filled   uint64   `json:"filled"`
	Cost     uint64   `json:"cost"`
	AvgPrice uint64   `json:"avgPrice"`
}

type Sweeper struct {
	venue  Venue
	logger *zap.Logger
}

func NewSweeper(venue Venue, logger *zap.Logger) *Sweeper {
	return &Sweeper{venue: venue, logger: util.OrNop(logger).Named("trader")}
}

// Plan selects resting orders by price-time priority: a buy takes asks from
// the lowest price up, a sell takes bids from the highest price down, and equal
// prices go to the lower (earlier) id. Inactive entries are skipped, and so is
// any pair whose cost would truncate to zero.
func (s *Sweeper) Plan(ctx context.Context, mo MarketOrder) (*Plan, error) {
	if mo.Amount == 0 || mo.Outcome > 1 || mo.Market == (common.Address{}) {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidMarket, mo)
	}

	restingBids := !mo.Buy
	ids, err := s.venue.OrderIDs(ctx, mo.Market, mo.Outcome, restingBids)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	taker := s.venue.Taker()
	candidates := make([]orderbook.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.venue.Order(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load order %d: %w", id, err)
		}
		if !o.Active || o.Remaining() == 0 || o.IsBid != restingBids {
			continue
		}
		if mo.SkipOwn && o.Maker == taker {
			continue
		}
		if !withinLimit(mo, o.Price) {
			continue
		}
		candidates = append(candidates, o)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Price != b.Price {
			if mo.Buy {
				return a.Price < b.Price
			}
			return a.Price > b.Price
		}
		return a.ID < b.ID
	})

	p := &Plan{}
	var hi, lo uint64
	need := mo.Amount
	for i := range candidates {
		if need == 0 {
			break
		}
		o := &candidates[i]
		take := min(need, o.Remaining())
		cost := orderbook.Cost(take, o.Price)
		if cost == 0 {
			continue
		}
		p.IDs = append(p.IDs, o.ID)
		p.Amounts = append(p.Amounts, take)
		p.Filled += take
		p.Cost += cost
		need -= take

		h, l := bits.Mul64(take, o.Price)
		var carry uint64
		lo, carry = bits.Add64(lo, l, 0)
		hi, _ = bits.Add64(hi, h, carry)
	}
	if p.Filled == 0 {
		return nil, ErrNoLiquidity
	}
	p.AvgPrice, _ = bits.Div64(hi, lo, p.Filled)
	return p, nil
}

func withinLimit(mo MarketOrder, price uint64) bool {
	if mo.LimitPrice == 0 {
		return true
	}
	if mo.Buy {
		return price <= mo.LimitPrice
	}
	return price >= mo.LimitPrice
}

// Execute plans the sweep and submits it as one FillOrders batch. A partial
// plan is submitted as is; callers compare Plan.Filled with the request.
func (s *Sweeper) Execute(ctx context.Context, mo MarketOrder) (*Plan, *Execution, error) {
	p, err := s.Plan(ctx, mo)
	if err != nil {
		return nil, nil, err
	}
	exec, err := s.venue.FillOrders(ctx, p.IDs, p.Amounts)
	if err != nil {
		return p, nil, fmt.Errorf("fill %d orders: %w", len(p.IDs), err)
	}
	s.logger.Info("market_order_executed",
		zap.String("market", mo.Market.Hex()),
		zap.Uint8("outcome", mo.Outcome),
		zap.Bool("buy", mo.Buy),
		zap.Uint64("requested", mo.Amount),
		zap.Uint64("filled", p.Filled),
		zap.Uint64("avg_price", p.AvgPrice),
		zap.Int("orders", len(p.IDs)))
	return p, exec, nil
}
