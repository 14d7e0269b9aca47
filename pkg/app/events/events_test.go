package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	amqp "github.com/rabbitmq/amqp091-go"
)

var mkt = common.HexToAddress("0x000000000000000000000000000000000000c0de")

func TestFanoutAndRecorder(t *testing.T) {
	var a, b Recorder
	f := Fanout{&a, nil, &b}
	now := time.Unix(1700000000, 0).UTC()
	f.Publish([]Envelope{
		Wrap(OrderPlaced{OrderID: 1, Market: mkt}, now),
		Wrap(FeeCollected{OrderID: 1, Market: mkt, PlatformFee: 3}, now),
	})

	if len(a.Events()) != 2 || len(b.Events()) != 2 {
		t.Fatalf("fanout delivered %d/%d", len(a.Events()), len(b.Events()))
	}
	fees := a.OfType(TypeFeeCollected)
	if len(fees) != 1 || fees[0].(FeeCollected).PlatformFee != 3 {
		t.Fatalf("fees = %+v", fees)
	}
	a.Reset()
	if len(a.Events()) != 0 {
		t.Fatal("reset kept events")
	}
}

func TestEnvelopeJSON(t *testing.T) {
	e := Wrap(OrderFilled{FillID: "f1", OrderID: 9, Market: mkt, Amount: 50, Cost: 25}, time.Unix(0, 0).UTC())
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != "OrderFilled" || decoded.Data["cost"] != 25.0 || decoded.Data["fillId"] != "f1" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	exchange  string
	published []amqp.Publishing
	keys      []string
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.exchange = name
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisherRoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewAMQPPublisher(ch, "clob.events", 16, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	p.Publish([]Envelope{
		Wrap(OrderPlaced{OrderID: 1, Market: mkt}, now),
		Wrap(OrderCancelled{OrderID: 1, Market: mkt, Refund: 10}, now),
	})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	if ch.exchange != "clob.events" || !ch.closed {
		t.Fatalf("exchange=%q closed=%v", ch.exchange, ch.closed)
	}
	if len(ch.keys) != 2 || ch.keys[0] != "OrderPlaced" || ch.keys[1] != "OrderCancelled" {
		t.Fatalf("routing keys = %v", ch.keys)
	}
	if ch.published[0].ContentType != "application/json" {
		t.Fatalf("content type = %q", ch.published[0].ContentType)
	}
}
