package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/util"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards events to a topic exchange for indexers. Routing
// key is the event type. Publishing happens on a background goroutine so a
// slow broker never stalls the engine; overflow is dropped and logged.
type AMQPPublisher struct {
	ch       Channel
	exchange string
	logger   *zap.Logger
	queue    chan Envelope
	done     chan struct{}
	once     sync.Once
}

// DialAMQP connects to url, retrying until ctx ends, and opens a channel.
func DialAMQP(ctx context.Context, url string) (*amqp.Connection, *amqp.Channel, error) {
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err != nil {
				conn.Close()
				return nil, nil, err
			}
			return conn, ch, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, err
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// NewAMQPPublisher declares exchange (durable topic) and starts the publish
// loop.
func NewAMQPPublisher(ch Channel, exchange string, buffer int, logger *zap.Logger) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = 4096
	}
	p := &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		logger:   util.OrNop(logger).Named("amqp"),
		queue:    make(chan Envelope, buffer),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

func (p *AMQPPublisher) Publish(batch []Envelope) {
	for _, e := range batch {
		select {
		case p.queue <- e:
		default:
			p.logger.Warn("event_dropped", zap.String("type", string(e.Type)), zap.String("market", e.Market.Hex()))
		}
	}
}

func (p *AMQPPublisher) loop() {
	defer close(p.done)
	for e := range p.queue {
		body, err := json.Marshal(e)
		if err != nil {
			p.logger.Error("event_encode_failed", zap.String("type", string(e.Type)), zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = p.ch.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.Time,
			Type:         string(e.Type),
			Body:         body,
		})
		cancel()
		if err != nil {
			p.logger.Warn("event_publish_failed", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}
}

// Close flushes queued events and closes the channel. Publish must not be
// called afterwards.
func (p *AMQPPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.queue)
		<-p.done
		err = p.ch.Close()
	})
	return err
}
