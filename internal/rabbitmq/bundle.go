package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/abdul-hamid-achik/vodpipe/internal/tracing"
	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by a Bundle.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Connection is the subset of *amqp.Connection used by a Bundle.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP opens a real broker connection.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Bundle owns a fixed set of channels on one broker connection.
type Bundle struct {
	conn     Connection
	channels []Channel
	registry *Registry
	prefetch int
	timeout  time.Duration
	log      *slog.Logger

	wg sync.WaitGroup
}

type BundleConfig struct {
	URL      string
	Queues   []string
	Channels int
	Prefetch int
	// HandleTimeout bounds each listener call when positive.
	HandleTimeout time.Duration
	Dial          Dialer
}

// Connect opens cfg.Channels channels and declares every queue on each of
// them. Declaration is idempotent.
func Connect(ctx context.Context, cfg BundleConfig, registry *Registry) (*Bundle, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("rabbitmq: channel count must be positive, got %d", cfg.Channels)
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialAMQP
	}
	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = PrefetchCount
	}

	conn, err := dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	b := &Bundle{
		conn:     conn,
		registry: registry,
		prefetch: prefetch,
		timeout:  cfg.HandleTimeout,
		log:      logger.FromContext(ctx),
	}

	for i := 0; i < cfg.Channels; i++ {
		ch, err := conn.Channel()
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("rabbitmq: open channel %d: %w", i, err)
		}
		b.channels = append(b.channels, ch)

		for _, q := range cfg.Queues {
			if err := declareQueue(ch, q); err != nil {
				_ = b.Close()
				return nil, err
			}
		}
	}

	return b, nil
}

func declareQueue(ch Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-max-priority": int32(MaxPriority),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", queue, err)
	}
	return nil
}

func (b *Bundle) Len() int {
	return len(b.channels)
}

// Publish sends msg on the channel at index.
func (b *Bundle) Publish(ctx context.Context, msg Message, index int) error {
	if index < 0 || index >= len(b.channels) {
		return fmt.Errorf("rabbitmq: channel index %d out of range [0, %d)", index, len(b.channels))
	}
	err := b.channels[index].PublishWithContext(ctx, "", msg.Queue, false, false, msg.publishing(time.Now()))
	if err != nil {
		return fmt.Errorf("rabbitmq: publish to %s: %w", msg.Queue, err)
	}
	return nil
}

// BeginConsuming starts one consume loop per channel. Each loop runs every
// registered listener for queue, acks the delivery, then reports a
// recoverable outcome on results. Loops stop when ctx is done or the
// delivery channel closes.
func (b *Bundle) BeginConsuming(ctx context.Context, queue string, results chan<- Requeue) error {
	for i, ch := range b.channels {
		if err := ch.Qos(b.prefetch, 0, false); err != nil {
			return fmt.Errorf("rabbitmq: qos on channel %d: %w", i, err)
		}
		deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("rabbitmq: consume %s on channel %d: %w", queue, i, err)
		}

		b.wg.Add(1)
		go b.consume(ctx, queue, i, deliveries, results)
	}
	return nil
}

func (b *Bundle) consume(ctx context.Context, queue string, index int, deliveries <-chan amqp.Delivery, results chan<- Requeue) {
	defer b.wg.Done()
	log := b.log.With("queue", queue, "channel", index)
	log.Debug("consumer started")

	for {
		var d amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			log.Debug("consumer stopped")
			return
		case d, ok = <-deliveries:
			if !ok {
				log.Debug("delivery channel closed")
				return
			}
		}

		metrics.MessagesConsumedTotal.WithLabelValues(queue).Inc()
		msg := messageFromDelivery(queue, d)

		if msg.Expired(time.Now()) {
			metrics.MessagesExpiredTotal.WithLabelValues(queue).Inc()
			log.Warn("dropping expired message", "first_published", msg.FirstPublished, "max_age", msg.MaxAge)
			ack(log, d)
			continue
		}

		requeue, hasRequeue := b.dispatch(ctx, log, msg)

		ack(log, d)

		if hasRequeue {
			select {
			case results <- requeue:
			case <-ctx.Done():
				log.Warn("requeue lost on shutdown", "reason", requeue.Reason)
				return
			}
		}
	}
}

// dispatch runs every listener for msg.Queue. The last listener that asks
// for a requeue wins.
func (b *Bundle) dispatch(ctx context.Context, log *slog.Logger, msg Message) (Requeue, bool) {
	var (
		out Requeue
		has bool
	)

	hctx := tracing.ExtractHeaders(ctx, msg.headers)
	hctx = logger.WithLogger(logger.WithQueue(hctx, msg.Queue), log)
	if msg.ID != "" {
		hctx = logger.WithTaskID(hctx, msg.ID)
	}

	for _, l := range b.registry.Listeners(msg.Queue) {
		err := b.handle(hctx, l, msg)
		if err == nil {
			continue
		}
		if r, ok := requeueFor(msg, err); ok {
			out, has = r, true
			log.Debug("listener requested requeue", "reason", r.Reason, "delay", r.Delay, "target", r.Message.Queue)
			continue
		}
		log.Error("listener failed, dropping message", "error", err, "priority", msg.Priority)
	}
	return out, has
}

func (b *Bundle) handle(ctx context.Context, l Listener, msg Message) (err error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rabbitmq: listener panic: %v", r)
		}
	}()
	return l.Handle(ctx, msg.Body, msg.Queue, msg.Priority)
}

func ack(log *slog.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error("failed to ack delivery", "error", err, "delivery_tag", d.DeliveryTag)
	}
}

// Wait blocks until every consume loop has returned.
func (b *Bundle) Wait() {
	b.wg.Wait()
}

func (b *Bundle) Healthy() error {
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("rabbitmq: connection closed")
	}
	return nil
}

func (b *Bundle) Close() error {
	var result *multierror.Error
	for _, ch := range b.channels {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
