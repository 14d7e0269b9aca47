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

// PlaceOrder escrows the maker's funds and rests a new order. Bids escrow
// Cost(amount, price) collateral, asks escrow amount outcome shares. Orders
// never match on placement.
func (e *Engine) PlaceOrder(maker, mkt common.Address, outcome uint8, price, amount uint64, isBid bool) (id uint64, err error) {
	start := time.Now()
	defer func() { observe("place", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.placeLocked(maker, mkt, outcome, price, amount, isBid)
	if err != nil {
		return 0, err
	}

	side := "ask"
	if isBid {
		side = "bid"
	}
	metrics.OrdersPlaced.WithLabelValues(side).Inc()
	e.logger.Debug("order_placed",
		zap.Uint64("order_id", o.ID),
		zap.String("maker", maker.Hex()),
		zap.String("market", mkt.Hex()),
		zap.Uint8("outcome", outcome),
		zap.Uint64("price", price),
		zap.Uint64("amount", amount),
		zap.Bool("is_bid", isBid))
	e.emit([]events.Event{events.OrderPlaced{
		OrderID:      o.ID,
		Market:       mkt,
		Maker:        maker,
		OutcomeIndex: outcome,
		Price:        price,
		Amount:       amount,
		IsBid:        isBid,
	}})
	return o.ID, nil
}

func (e *Engine) placeLocked(maker, mkt common.Address, outcome uint8, price, amount uint64, isBid bool) (orderbook.Order, error) {
	o, err := e.ledger.NewOrder(maker, mkt, outcome, price, amount, isBid, e.clock.Now().UnixMilli())
	if err != nil {
		return orderbook.Order{}, err
	}
	if _, err := e.activeMarket(mkt); err != nil {
		return orderbook.Order{}, err
	}

	escrow := account.Transfer{From: maker, To: e.vault.Operator(), Pull: true}
	if isBid {
		escrow.Asset = account.CollateralAsset()
		escrow.Amount = orderbook.Cost(amount, price)
		if escrow.Amount == 0 {
			return orderbook.Order{}, fmt.Errorf("%w: bid of %d at %d costs nothing", ErrInvalidOrderParameters, amount, price)
		}
	} else {
		escrow.Asset = account.ShareAsset(mkt, outcome)
		escrow.Amount = amount
	}
	o.Escrow = escrow.Amount

	if err := e.commit([]account.Transfer{escrow}, []orderbook.Order{o}, o.ID+1); err != nil {
		return orderbook.Order{}, err
	}
	if err := e.ledger.Insert(o); err != nil {
		// unreachable: NewOrder peeked the sequence under e.mu
		panic(err)
	}
	return o, nil
}
