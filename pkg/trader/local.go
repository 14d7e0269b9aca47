package trader

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/engine"
)

// LocalVenue trades against an in-process engine as one taker.
type LocalVenue struct {
	eng   *engine.Engine
	taker common.Address
}

func NewLocalVenue(eng *engine.Engine, taker common.Address) *LocalVenue {
	return &LocalVenue{eng: eng, taker: taker}
}

func (v *LocalVenue) Taker() common.Address { return v.taker }

func (v *LocalVenue) OrderIDs(_ context.Context, mkt common.Address, outcome uint8, isBid bool) ([]uint64, error) {
	return v.eng.OrdersForSide(mkt, outcome, isBid), nil
}

func (v *LocalVenue) Order(_ context.Context, id uint64) (orderbook.Order, error) {
	return v.eng.Order(id)
}

func (v *LocalVenue) FillOrders(_ context.Context, ids, amounts []uint64) (*Execution, error) {
	res, err := v.eng.FillOrders(v.taker, ids, amounts)
	if err != nil {
		return nil, err
	}
	return &Execution{TotalCost: res.TotalCost}, nil
}

func (v *LocalVenue) PlaceOrder(_ context.Context, mkt common.Address, outcome uint8, price, amount uint64, isBid bool) (uint64, error) {
	return v.eng.PlaceOrder(v.taker, mkt, outcome, price, amount, isBid)
}
