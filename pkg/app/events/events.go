package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Type string

const (
	TypeOrderPlaced    Type = "OrderPlaced"
	TypeOrderFilled    Type = "OrderFilled"
	TypeFeeCollected   Type = "FeeCollected"
	TypeOrderCancelled Type = "OrderCancelled"
)

// Event is anything the engine emits after a commit.
type Event interface {
	EventType() Type
	MarketAddress() common.Address
	// Parties are the accounts whose state the event touches.
	Parties() []common.Address
}

type OrderPlaced struct {
	OrderID      uint64         `json:"orderId"`
	Market       common.Address `json:"market"`
	Maker        common.Address `json:"maker"`
	OutcomeIndex uint8          `json:"outcomeIndex"`
	Price        uint64         `json:"price"`
	Amount       uint64         `json:"amount"`
	IsBid        bool           `json:"isBid"`
}

type OrderFilled struct {
	FillID       string         `json:"fillId"`
	OrderID      uint64         `json:"orderId"`
	Market       common.Address `json:"market"`
	OutcomeIndex uint8          `json:"outcomeIndex"`
	Maker        common.Address `json:"maker"`
	Taker        common.Address `json:"taker"`
	Amount       uint64         `json:"amount"`
	Price        uint64         `json:"price"`
	Cost         uint64         `json:"cost"`
	Remaining    uint64         `json:"remaining"`
}

type FeeCollected struct {
	FillID      string         `json:"fillId"`
	OrderID     uint64         `json:"orderId"`
	Market      common.Address `json:"market"`
	PlatformFee uint64         `json:"platformFee"`
	CreatorFee  uint64         `json:"creatorFee"`
	DividendFee uint64         `json:"dividendFee"`
}

type OrderCancelled struct {
	OrderID uint64         `json:"orderId"`
	Market  common.Address `json:"market"`
	Maker   common.Address `json:"maker"`
	Refund  uint64         `json:"refund"`
	IsBid   bool           `json:"isBid"`
}

func (OrderPlaced) EventType() Type                    { return TypeOrderPlaced }
func (e OrderPlaced) MarketAddress() common.Address    { return e.Market }
func (e OrderPlaced) Parties() []common.Address        { return []common.Address{e.Maker} }
func (OrderFilled) EventType() Type                    { return TypeOrderFilled }
func (e OrderFilled) MarketAddress() common.Address    { return e.Market }
func (e OrderFilled) Parties() []common.Address        { return []common.Address{e.Maker, e.Taker} }
func (FeeCollected) EventType() Type                   { return TypeFeeCollected }
func (e FeeCollected) MarketAddress() common.Address   { return e.Market }
func (FeeCollected) Parties() []common.Address         { return nil }
func (OrderCancelled) EventType() Type                 { return TypeOrderCancelled }
func (e OrderCancelled) MarketAddress() common.Address { return e.Market }
func (e OrderCancelled) Parties() []common.Address     { return []common.Address{e.Maker} }

// Envelope is the wire form shared by every sink.
type Envelope struct {
	Type   Type           `json:"type"`
	Time   time.Time      `json:"time"`
	Market common.Address `json:"market"`
	Data   Event          `json:"data"`
}

func Wrap(e Event, at time.Time) Envelope {
	return Envelope{Type: e.EventType(), Time: at, Market: e.MarketAddress(), Data: e}
}

// Sink receives committed events in commit order. The engine publishes while
// holding its write lock, so implementations must not block.
type Sink interface {
	Publish(batch []Envelope)
}

type Nop struct{}

func (Nop) Publish([]Envelope) {}

// Fanout publishes to every sink in turn.
type Fanout []Sink

func (f Fanout) Publish(batch []Envelope) {
	for _, s := range f {
		if s != nil {
			s.Publish(batch)
		}
	}
}

// Recorder keeps everything it receives.
type Recorder struct {
	mu  sync.Mutex
	all []Envelope
}

func (r *Recorder) Publish(batch []Envelope) {
	r.mu.Lock()
	r.all = append(r.all, batch...)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.all...)
}

// OfType returns the payloads of recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.all {
		if e.Type == t {
			out = append(out, e.Data)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.all = nil
	r.mu.Unlock()
}
