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

const publishTimeout = 10 * time.Second

type Config struct {
	URL               string
	Queues            []string
	PublisherChannels int
	PrefetchCount     int
	PublishBuffer     int
	HandleTimeout     time.Duration
	Dial              Dialer
}

// Client is the task-queue facade. Publish never waits for the broker: a
// single publisher goroutine drains a bounded buffer round-robin over the
// publisher bundle. Every AddListener call opens its own consumer bundle.
//
// Deliveries are acked before a requested requeue is republished, so a
// crash between the two loses that retry.
type Client struct {
	cfg     Config
	enabled bool
	log     *slog.Logger

	publisher *Bundle
	publishCh chan Message
	results   chan Requeue

	consumeCtx    context.Context
	stopConsumers context.CancelFunc

	mu        sync.RWMutex
	closing   bool
	closed    bool
	consumers []*Bundle

	pendingMu sync.Mutex
	pending   map[*time.Timer]Message

	consumerWG  sync.WaitGroup
	requeueDone chan struct{}
	publishDone chan struct{}
}

// New connects the publisher bundle and starts the background loops. When
// enabled is false the client is inert: Publish drops messages and
// AddListener returns ErrDisabled.
func New(ctx context.Context, cfg Config, enabled bool) (*Client, error) {
	if cfg.PublisherChannels < 1 {
		cfg.PublisherChannels = PublisherChannels
	}
	if cfg.PrefetchCount < 1 {
		cfg.PrefetchCount = PrefetchCount
	}
	if cfg.PublishBuffer < 1 {
		cfg.PublishBuffer = 1024
	}

	c := &Client{
		cfg:         cfg,
		enabled:     enabled,
		log:         logger.FromContext(ctx).With("component", "rabbitmq"),
		pending:     make(map[*time.Timer]Message),
		requeueDone: make(chan struct{}),
		publishDone: make(chan struct{}),
	}
	c.consumeCtx, c.stopConsumers = context.WithCancel(context.WithoutCancel(ctx))

	if !enabled {
		c.log.Warn("broker disabled, messages will be dropped")
		close(c.requeueDone)
		close(c.publishDone)
		return c, nil
	}

	publisher, err := Connect(ctx, BundleConfig{
		URL:      cfg.URL,
		Queues:   cfg.Queues,
		Channels: cfg.PublisherChannels,
		Prefetch: cfg.PrefetchCount,
		Dial:     cfg.Dial,
	}, NewRegistry())
	if err != nil {
		return nil, err
	}

	c.publisher = publisher
	c.publishCh = make(chan Message, cfg.PublishBuffer)
	c.results = make(chan Requeue, cfg.PublishBuffer)

	go c.publishLoop()
	go c.requeueLoop()

	c.log.Info("broker client started", "publisher_channels", publisher.Len(), "queues", cfg.Queues)
	return c, nil
}

// Publish enqueues body for queue. It blocks only while the buffer is full.
func (c *Client) Publish(ctx context.Context, queue string, body []byte, priority uint8, maxAge time.Duration) error {
	ctx, span := tracing.StartPublishSpan(ctx, queue, priority)
	defer span.End()

	msg := NewMessage(queue, body, priority, maxAge)
	msg.headers = amqp.Table{}
	tracing.InjectHeaders(ctx, msg.headers)

	return c.enqueue(ctx, msg)
}

func (c *Client) enqueue(ctx context.Context, msg Message) error {
	if !c.enabled {
		logger.FromContext(ctx).Debug("broker disabled, dropping message", "queue", msg.Queue)
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.publishCh <- msg:
		metrics.PublishBufferDepth.Set(float64(len(c.publishCh)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) publishLoop() {
	defer close(c.publishDone)

	next := 0
	for msg := range c.publishCh {
		metrics.PublishBufferDepth.Set(float64(len(c.publishCh)))

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := c.publisher.Publish(ctx, msg, next)
		cancel()
		next = (next + 1) % c.publisher.Len()

		metrics.RecordPublish(msg.Queue, err)
		if err != nil {
			c.log.Error("publish failed, dropping message", "queue", msg.Queue, "priority", msg.Priority, "error", err)
		}
	}
}

// requeueLoop turns consumer requeue requests into delayed republishes.
func (c *Client) requeueLoop() {
	defer close(c.requeueDone)

	for r := range c.results {
		metrics.MessagesRequeuedTotal.WithLabelValues(r.Message.Queue, r.Reason).Inc()

		if r.Delay <= 0 {
			c.republish(r.Message)
			continue
		}

		msg := r.Message
		c.pendingMu.Lock()
		var t *time.Timer
		t = time.AfterFunc(r.Delay, func() {
			c.pendingMu.Lock()
			_, owned := c.pending[t]
			delete(c.pending, t)
			metrics.PendingRequeues.Set(float64(len(c.pending)))
			c.pendingMu.Unlock()
			if owned {
				c.republish(msg)
			}
		})
		c.pending[t] = msg
		metrics.PendingRequeues.Set(float64(len(c.pending)))
		c.pendingMu.Unlock()
	}

	c.flushPending()
}

// flushPending republishes every delayed requeue now.
func (c *Client) flushPending() {
	c.pendingMu.Lock()
	var msgs []Message
	for t, msg := range c.pending {
		t.Stop()
		msgs = append(msgs, msg)
		delete(c.pending, t)
	}
	metrics.PendingRequeues.Set(0)
	c.pendingMu.Unlock()

	if len(msgs) > 0 {
		c.log.Info("flushing delayed requeues", "count", len(msgs))
	}
	for _, msg := range msgs {
		c.republish(msg)
	}
}

func (c *Client) republish(msg Message) {
	if err := c.enqueue(context.Background(), msg); err != nil {
		c.log.Error("requeue failed", "queue", msg.Queue, "error", err)
	}
}

// AddListener opens a dedicated one-channel bundle for queue and starts
// consuming it with l as its only listener. Calling it again with the same
// listener adds parallelism: the bundles compete for deliveries and each
// message is handled once.
func (c *Client) AddListener(ctx context.Context, queue string, l Listener) error {
	if !c.enabled {
		return ErrDisabled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}

	registry := NewRegistry()
	registry.Add(queue, l)

	b, err := Connect(ctx, BundleConfig{
		URL:           c.cfg.URL,
		Queues:        c.cfg.Queues,
		Channels:      1,
		Prefetch:      c.cfg.PrefetchCount,
		HandleTimeout: c.cfg.HandleTimeout,
		Dial:          c.cfg.Dial,
	}, registry)
	if err != nil {
		return err
	}

	if err := b.BeginConsuming(c.consumeCtx, queue, c.results); err != nil {
		_ = b.Close()
		return err
	}

	c.consumers = append(c.consumers, b)
	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		b.Wait()
	}()

	metrics.WorkerListeners.Set(float64(len(c.consumers)))
	c.log.Info("listener added", "queue", queue, "consumers", len(c.consumers))
	return nil
}

// Healthy reports whether the publisher connection is open.
func (c *Client) Healthy(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.publisher.Healthy()
}

// Close stops consumers, republishes pending delayed requeues, drains the
// publish buffer and closes every connection.
func (c *Client) Close(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closing = true
	c.mu.Unlock()

	c.stopConsumers()
	if err := waitCtx(ctx, c.consumerWG.Wait); err != nil {
		return fmt.Errorf("rabbitmq: waiting for consumers: %w", err)
	}

	close(c.results)
	if err := waitChan(ctx, c.requeueDone); err != nil {
		return fmt.Errorf("rabbitmq: flushing requeues: %w", err)
	}

	c.mu.Lock()
	c.closed = true
	close(c.publishCh)
	consumers := c.consumers
	c.mu.Unlock()

	if err := waitChan(ctx, c.publishDone); err != nil {
		return fmt.Errorf("rabbitmq: draining publish buffer: %w", err)
	}

	var result *multierror.Error
	for _, b := range consumers {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.publisher.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	c.log.Info("broker client closed")
	return result.ErrorOrNil()
}

func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	return waitChan(ctx, done)
}

func waitChan(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrClosed, ctx.Err())
	}
}
