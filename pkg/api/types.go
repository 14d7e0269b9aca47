package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/events"
	"github.com/guessly/clob/pkg/crypto"
)

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a market as served by the REST API.
type MarketInfo struct {
	Address      common.Address `json:"address"`
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Question     string         `json:"question,omitempty"`
	Creator      common.Address `json:"creator"`
	DividendPool common.Address `json:"dividendPool"`
	Status       string         `json:"status"` // "active" | "resolved"
	Outcome      *uint8         `json:"outcome,omitempty"`
}

func marketInfo(m market.Market) MarketInfo {
	info := MarketInfo{
		Address:      m.Address,
		ID:           m.ID,
		Kind:         string(m.Kind),
		Question:     m.Question,
		Creator:      m.Creator,
		DividendPool: m.DividendPool,
		Status:       m.Status.String(),
	}
	if m.Resolved() {
		o := m.Outcome
		info.Outcome = &o
	}
	return info
}

// BookSnapshot is the aggregated depth of one market outcome.
type BookSnapshot struct {
	Market    common.Address `json:"market"`
	Outcome   uint8          `json:"outcome"`
	Bids      []LevelInfo    `json:"bids"` // best (highest) first
	Asks      []LevelInfo    `json:"asks"` // best (lowest) first
	Timestamp int64          `json:"timestamp"`
}

type LevelInfo struct {
	Price       uint64 `json:"price"`       // µ-units
	Probability string `json:"probability"` // price as a decimal fraction
	Amount      uint64 `json:"amount"`
	Orders      int    `json:"orders"`
}

func levels(in []orderbook.PriceLevel) []LevelInfo {
	out := make([]LevelInfo, len(in))
	for i, l := range in {
		out[i] = LevelInfo{Price: l.Price, Probability: micro(l.Price), Amount: l.Amount, Orders: l.Orders}
	}
	return out
}

// OrderInfo is an order with display fields.
type OrderInfo struct {
	orderbook.Order
	Probability string `json:"probability"`
	Remaining   uint64 `json:"remaining"`
	Status      string `json:"status"` // "open" | "filled" | "cancelled"
}

func orderInfo(o orderbook.Order) OrderInfo {
	status := "open"
	switch {
	case o.Cancelled:
		status = "cancelled"
	case !o.Active:
		status = "filled"
	}
	return OrderInfo{Order: o, Probability: micro(o.Price), Remaining: o.Remaining(), Status: status}
}

type BalanceInfo struct {
	Asset   account.Asset `json:"asset"`
	Amount  uint64        `json:"amount"`
	Decimal string        `json:"decimal"`
}

type AccountBalances struct {
	Address  common.Address `json:"address"`
	Balances []BalanceInfo  `json:"balances"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Intent    crypto.PlaceOrderIntent `json:"intent"`
	Signature hexutil.Bytes           `json:"signature"`
}

type PlaceOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

// FillOrdersRequest is the payload for POST /api/v1/fills.
type FillOrdersRequest struct {
	Intent    crypto.FillOrdersIntent `json:"intent"`
	Signature hexutil.Bytes           `json:"signature"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage channels:
// "all", "market:<address>", "account:<address>".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSAck confirms a subscription change.
type WSAck struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSMessage carries one engine event.
type WSMessage struct {
	Channel string          `json:"channel"`
	Event   events.Envelope `json:"event"`
}

// micro renders a µ-unit value as a decimal string.
func micro(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -orderbook.PriceDecimals).String()
}
