package engine

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/events"
	"github.com/guessly/clob/pkg/metrics"
)

type CancelResult struct {
	Market    common.Address `json:"market"`
	Cancelled []uint64       `json:"cancelled"`
	Refunds   []Refund       `json:"refunds"`
}

// CancelAllOrders deactivates every active order of a resolved market, both
// outcomes and both sides, and returns each order's remaining escrow to its
// maker. Orders already inactive are left alone, so a repeated call is a
// no-op returning an empty result.
func (e *Engine) CancelAllOrders(mkt common.Address) (res *CancelResult, err error) {
	start := time.Now()
	defer func() { observe("cancel", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	res, err = e.cancelLocked(mkt)
	if err != nil {
		return nil, err
	}
	if len(res.Cancelled) == 0 {
		return res, nil
	}

	evs := make([]events.Event, 0, len(res.Refunds))
	for _, r := range res.Refunds {
		evs = append(evs, events.OrderCancelled{
			OrderID: r.OrderID,
			Market:  mkt,
			Maker:   r.Maker,
			Refund:  r.Amount,
			IsBid:   r.Asset.Kind == account.Collateral,
		})
		kind := "collateral"
		if r.Asset.Kind == account.OutcomeShare {
			kind = "shares"
		}
		metrics.EscrowRefunded.WithLabelValues(kind).Add(float64(r.Amount))
	}
	metrics.OrdersCancelled.Add(float64(len(res.Cancelled)))
	e.logger.Info("market_orders_cancelled",
		zap.String("market", mkt.Hex()),
		zap.Int("orders", len(res.Cancelled)))
	e.emit(evs)
	return res, nil
}

func (e *Engine) cancelLocked(mkt common.Address) (*CancelResult, error) {
	m, err := e.markets.Get(mkt)
	if err != nil {
		return nil, err
	}
	if !m.Resolved() {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotResolved, mkt.Hex())
	}

	res := &CancelResult{Market: mkt}
	active := e.ledger.ActiveOrders(mkt)
	if len(active) == 0 {
		return res, nil
	}

	operator := e.vault.Operator()
	transfers := make([]account.Transfer, 0, len(active))
	touched := make([]orderbook.Order, 0, len(active))
	for _, o := range active {
		asset := account.CollateralAsset()
		if !o.IsBid {
			asset = account.ShareAsset(mkt, o.OutcomeIndex)
		}
		transfers = append(transfers, account.Transfer{From: operator, To: o.Maker, Asset: asset, Amount: o.Escrow})
		res.Cancelled = append(res.Cancelled, o.ID)
		res.Refunds = append(res.Refunds, Refund{OrderID: o.ID, Maker: o.Maker, Asset: asset, Amount: o.Escrow})

		o.Active = false
		o.Cancelled = true
		o.Escrow = 0
		touched = append(touched, o)
	}

	if err := e.commit(transfers, touched, e.ledger.NextID()); err != nil {
		return nil, err
	}
	for _, o := range touched {
		if err := e.ledger.Put(o); err != nil {
			panic(err)
		}
	}
	return res, nil
}
