package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/events"
	"github.com/guessly/clob/pkg/app/settlement"
	"github.com/guessly/clob/pkg/metrics"
)

// FillResult describes a committed FillOrders call.
type FillResult struct {
	Market    common.Address       `json:"market"`
	Outcome   uint8                `json:"outcome"`
	Taker     common.Address       `json:"taker"`
	TakerBuys bool                 `json:"takerBuys"`
	Fills     []settlement.Fill    `json:"fills"`
	FillIDs   []string             `json:"fillIds"`
	Remaining []uint64             `json:"remaining"` // per pair, after that pair
	TotalCost uint64               `json:"totalCost"`
	Fees      settlement.Breakdown `json:"fees"`
	Refunds   []Refund             `json:"refunds,omitempty"`
}

// Refund is escrow returned to a maker outside a fill: collateral dust of a
// fully filled bid, or the remaining escrow of a cancelled order.
type Refund struct {
	OrderID uint64         `json:"orderId"`
	Maker   common.Address `json:"maker"`
	Asset   account.Asset  `json:"asset"`
	Amount  uint64         `json:"amount"`
}

// FillOrders executes the taker against the given resting orders, filling
// amounts[i] of ids[i]. All orders must be active and share one market,
// outcome and side. Either every pair settles or nothing changes.
//
// Against bids the taker sells shares and receives cost minus fees; against
// asks the taker pays cost and the maker receives cost minus fees. cost is
// floor(amount*price/1e6) computed per pair.
func (e *Engine) FillOrders(taker common.Address, ids, amounts []uint64) (res *FillResult, err error) {
	start := time.Now()
	defer func() { observe("fill", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	res, marketID, err := e.fillLocked(taker, ids, amounts)
	if err != nil {
		return nil, err
	}

	e.afterFill(res, marketID)
	return res, nil
}

type stagedFill struct {
	order     *orderbook.Order
	fill      settlement.Fill
	remaining uint64
}

func (e *Engine) fillLocked(taker common.Address, ids, amounts []uint64) (*FillResult, string, error) {
	if len(ids) == 0 || len(ids) != len(amounts) {
		return nil, "", fmt.Errorf("%w: %d order ids, %d amounts", ErrInvalidOrderParameters, len(ids), len(amounts))
	}
	if taker == (common.Address{}) {
		return nil, "", fmt.Errorf("%w: zero taker", ErrInvalidOrderParameters)
	}

	staged := make(map[uint64]*orderbook.Order, len(ids))
	var (
		side  orderbook.SideKey
		mkt   market.Market
		fills = make([]stagedFill, 0, len(ids))
	)
	for i, id := range ids {
		o, ok := staged[id]
		if !ok {
			cur, err := e.ledger.GetOrder(id)
			if err != nil {
				return nil, "", err
			}
			o = &cur
			staged[id] = o
		}

		if i == 0 {
			side = o.Side()
			m, err := e.activeMarket(side.Market)
			if err != nil {
				return nil, "", err
			}
			mkt = m
		} else if o.Side() != side {
			return nil, "", fmt.Errorf("%w: order %d is not on the batch side", ErrInvalidOrderParameters, id)
		}

		amt := amounts[i]
		switch {
		case !o.Active:
			return nil, "", fmt.Errorf("%w: order %d", ErrOrderNotActive, id)
		case amt == 0:
			return nil, "", fmt.Errorf("%w: zero fill amount for order %d", ErrInvalidOrderParameters, id)
		case amt > o.Remaining():
			return nil, "", fmt.Errorf("%w: order %d has %d remaining, fill %d", ErrExcessFillAmount, id, o.Remaining(), amt)
		}

		cost := orderbook.Cost(amt, o.Price)
		if cost == 0 {
			return nil, "", fmt.Errorf("%w: fill of %d on order %d costs nothing", ErrInvalidOrderParameters, amt, id)
		}

		o.Filled += amt
		if o.Filled == o.Amount {
			o.Active = false
		}
		fills = append(fills, stagedFill{order: o, fill: settlement.Fill{
			OrderID:    id,
			Maker:      o.Maker,
			MakerIsBid: o.IsBid,
			Amount:     amt,
			Price:      o.Price,
			Cost:       cost,
			Fees:       e.fees.Split(cost),
		}, remaining: o.Remaining()})
	}

	res := &FillResult{
		Market:    side.Market,
		Outcome:   side.OutcomeIndex,
		Taker:     taker,
		TakerBuys: !side.IsBid,
	}
	transfers := e.fillTransfers(taker, mkt, fills, res)

	touched := make([]orderbook.Order, 0, len(staged))
	for _, o := range staged {
		touched = append(touched, *o)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i].ID < touched[j].ID })

	if err := e.commit(transfers, touched, e.ledger.NextID()); err != nil {
		return nil, "", err
	}
	for _, o := range touched {
		if err := e.ledger.Put(o); err != nil {
			panic(err) // unreachable: every staged order came from the ledger
		}
	}
	return res, mkt.ID, nil
}

// fillTransfers builds the vault batch for the staged fills and records the
// per-pair results in res. Escrow on the staged orders is drawn down as the
// transfers are planned.
func (e *Engine) fillTransfers(taker common.Address, mkt market.Market, fills []stagedFill, res *FillResult) []account.Transfer {
	operator := e.vault.Operator()
	collateral := account.CollateralAsset()
	shares := account.ShareAsset(mkt.Address, fills[0].order.OutcomeIndex)
	creator, dividend := e.feeSinks(mkt)

	var out []account.Transfer
	for _, sf := range fills {
		o, f := sf.order, sf.fill
		fees := f.Fees
		net := f.Cost - fees.Total()

		if o.IsBid {
			// taker sells shares into the bid, paid out of the maker's escrow
			out = append(out,
				account.Transfer{From: taker, To: o.Maker, Asset: shares, Amount: f.Amount, Pull: true},
				account.Transfer{From: operator, To: taker, Asset: collateral, Amount: net},
				account.Transfer{From: operator, To: e.platform, Asset: collateral, Amount: fees.Platform},
				account.Transfer{From: operator, To: creator, Asset: collateral, Amount: fees.Creator},
				account.Transfer{From: operator, To: dividend, Asset: collateral, Amount: fees.Dividend},
			)
			o.Escrow -= f.Cost
		} else {
			// taker buys escrowed shares and pays the maker directly
			out = append(out,
				account.Transfer{From: operator, To: taker, Asset: shares, Amount: f.Amount},
				account.Transfer{From: taker, To: o.Maker, Asset: collateral, Amount: net, Pull: true},
				account.Transfer{From: taker, To: e.platform, Asset: collateral, Amount: fees.Platform, Pull: true},
				account.Transfer{From: taker, To: creator, Asset: collateral, Amount: fees.Creator, Pull: true},
				account.Transfer{From: taker, To: dividend, Asset: collateral, Amount: fees.Dividend, Pull: true},
			)
			o.Escrow -= f.Amount
		}

		res.Fills = append(res.Fills, f)
		res.FillIDs = append(res.FillIDs, e.newFillID())
		res.Remaining = append(res.Remaining, sf.remaining)
		res.TotalCost += f.Cost
		res.Fees = res.Fees.Add(fees)
	}

	// A fully filled bid keeps the truncation dust of its escrow; hand it back.
	for _, sf := range fills {
		o := sf.order
		if !o.IsBid || o.Active || o.Escrow == 0 {
			continue
		}
		out = append(out, account.Transfer{From: operator, To: o.Maker, Asset: collateral, Amount: o.Escrow})
		res.Refunds = append(res.Refunds, Refund{OrderID: o.ID, Maker: o.Maker, Asset: collateral, Amount: o.Escrow})
		o.Escrow = 0
	}
	return out
}

// feeSinks falls back to the platform for markets without a creator or
// dividend pool.
func (e *Engine) feeSinks(m market.Market) (creator, dividend common.Address) {
	creator, dividend = m.Creator, m.DividendPool
	if creator == (common.Address{}) {
		creator = e.platform
	}
	if dividend == (common.Address{}) {
		dividend = e.platform
	}
	return creator, dividend
}

func (e *Engine) afterFill(res *FillResult, marketID string) {
	evs := make([]events.Event, 0, 2*len(res.Fills))
	for i, f := range res.Fills {
		evs = append(evs,
			events.OrderFilled{
				FillID:       res.FillIDs[i],
				OrderID:      f.OrderID,
				Market:       res.Market,
				OutcomeIndex: res.Outcome,
				Maker:        f.Maker,
				Taker:        res.Taker,
				Amount:       f.Amount,
				Price:        f.Price,
				Cost:         f.Cost,
				Remaining:    res.Remaining[i],
			},
			events.FeeCollected{
				FillID:      res.FillIDs[i],
				OrderID:     f.OrderID,
				Market:      res.Market,
				PlatformFee: f.Fees.Platform,
				CreatorFee:  f.Fees.Creator,
				DividendFee: f.Fees.Dividend,
			},
		)
		metrics.FeesCollected.WithLabelValues("platform").Add(float64(f.Fees.Platform))
		metrics.FeesCollected.WithLabelValues("creator").Add(float64(f.Fees.Creator))
		metrics.FeesCollected.WithLabelValues("dividend").Add(float64(f.Fees.Dividend))
	}
	for _, r := range res.Refunds {
		metrics.EscrowRefunded.WithLabelValues("collateral").Add(float64(r.Amount))
	}
	metrics.Fills.Add(float64(len(res.Fills)))
	metrics.TradedVolume.Add(float64(res.TotalCost))

	e.logger.Debug("orders_filled",
		zap.String("market", res.Market.Hex()),
		zap.String("taker", res.Taker.Hex()),
		zap.Int("pairs", len(res.Fills)),
		zap.Uint64("total_cost", res.TotalCost))
	e.emit(evs)

	if e.projector != nil {
		e.projector.Submit(settlement.Batch{
			MarketID: marketID,
			Market:   res.Market,
			Outcome:  res.Outcome,
			Taker:    res.Taker,
			Fills:    res.Fills,
		})
	}
}
