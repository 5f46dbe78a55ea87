package rabbitmq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	queue string
	at    time.Time
	msg   amqp.Publishing
}

// fakeBroker is an in-process stand-in for a broker: every queue is a
// buffered Go channel shared by all consumers.
type fakeBroker struct {
	mu        sync.Mutex
	queues    map[string]chan amqp.Delivery
	declared  map[string]amqp.Table
	declares  int
	published []publishedMessage
	qos       []int
	acks      atomic.Int64
	tag       atomic.Uint64
	dials     atomic.Int64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:   make(map[string]chan amqp.Delivery),
		declared: make(map[string]amqp.Table),
	}
}

func (b *fakeBroker) queue(name string) chan amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 1024)
		b.queues[name] = q
	}
	return q
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.dials.Add(1)
	return &fakeConn{broker: b}, nil
}

func (b *fakeBroker) publishedTo(queue string) []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedMessage
	for _, p := range b.published {
		if p.queue == queue {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBroker) Ack(tag uint64, multiple bool) error {
	b.acks.Add(1)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, multiple, requeue bool) error { return nil }

func (b *fakeBroker) Reject(tag uint64, requeue bool) error { return nil }

type fakeConn struct {
	broker *fakeBroker
	closed atomic.Bool
}

func (c *fakeConn) Channel() (Channel, error) {
	return &fakeChannel{broker: c.broker}, nil
}

func (c *fakeConn) IsClosed() bool { return c.closed.Load() }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeChannel struct {
	broker *fakeBroker
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	ch.broker.declared[name] = args
	ch.broker.declares++
	ch.broker.mu.Unlock()
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	ch.broker.qos = append(ch.broker.qos, prefetchCount)
	ch.broker.mu.Unlock()
	return nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	ch.broker.mu.Lock()
	ch.broker.published = append(ch.broker.published, publishedMessage{queue: key, at: time.Now(), msg: msg})
	ch.broker.mu.Unlock()

	ch.broker.queue(key) <- amqp.Delivery{
		Acknowledger: ch.broker,
		DeliveryTag:  ch.broker.tag.Add(1),
		MessageId:    msg.MessageId,
		Headers:      msg.Headers,
		Priority:     msg.Priority,
		Timestamp:    msg.Timestamp,
		Expiration:   msg.Expiration,
		Body:         msg.Body,
		RoutingKey:   key,
	}
	return nil
}

func (ch *fakeChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return ch.broker.queue(queue), nil
}

func (ch *fakeChannel) Close() error { return nil }
