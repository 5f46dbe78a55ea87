package rabbitmq

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, broker *fakeBroker) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Queues:            []string{"vod", "vod_failover", "search"},
		PublisherChannels: 2,
		PublishBuffer:     16,
		Dial:              broker.dial,
	}, true)
	require.NoError(t, err)
	return c
}

func closeClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
}

type recordingListener struct {
	mu     sync.Mutex
	calls  []time.Time
	bodies [][]byte
	prios  []uint8
	fn     func(n int) error
}

func (l *recordingListener) Handle(ctx context.Context, body []byte, queue string, priority uint8) error {
	l.mu.Lock()
	l.calls = append(l.calls, time.Now())
	l.bodies = append(l.bodies, body)
	l.prios = append(l.prios, priority)
	n := len(l.calls)
	l.mu.Unlock()
	if l.fn == nil {
		return nil
	}
	return l.fn(n)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// TestClient_DeferLoop tests that N defers produce N republishes each at
// least the deferred delay apart and one final success.
func TestClient_DeferLoop(t *testing.T) {
	const (
		defers = 3
		delay  = 40 * time.Millisecond
	)

	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	l := &recordingListener{fn: func(n int) error {
		if n <= defers {
			return Defer(delay)
		}
		return nil
	}}
	require.NoError(t, c.AddListener(context.Background(), "vod", l))

	payload := []byte(`{"type":"Process","vod_uuid":"x","session_id":"s1"}`)
	require.NoError(t, c.Publish(context.Background(), "vod", payload, HighPriority, time.Hour))

	require.Eventually(t, func() bool { return l.count() == defers+1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(3 * delay)
	assert.Equal(t, defers+1, l.count(), "no further deliveries after success")

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 1; i < len(l.calls); i++ {
		gap := l.calls[i].Sub(l.calls[i-1])
		assert.GreaterOrEqual(t, gap, delay, "redelivery %d came after %v", i, gap)
		assert.True(t, bytes.Equal(payload, l.bodies[i]), "payload must be identical")
		assert.Equal(t, HighPriority, l.prios[i])
	}
	published := broker.publishedTo("vod")
	assert.Len(t, published, defers+1)
	for _, p := range published {
		assert.NotEmpty(t, p.msg.MessageId)
		assert.Equal(t, published[0].msg.MessageId, p.msg.MessageId, "requeues keep the message id")
	}
	assert.Equal(t, int64(defers+1), broker.acks.Load(), "every delivery is acked")
}

// TestClient_RateLimit tests that rate limiting becomes a short defer.
func TestClient_RateLimit(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	l := &recordingListener{fn: func(n int) error {
		if n == 1 {
			return ErrRateLimit
		}
		return nil
	}}
	require.NoError(t, c.AddListener(context.Background(), "vod", l))
	require.NoError(t, c.Publish(context.Background(), "vod", []byte("x"), DefaultPriority, 0))

	require.Eventually(t, func() bool { return l.count() == 2 }, 5*time.Second, 5*time.Millisecond)
	l.mu.Lock()
	gap := l.calls[1].Sub(l.calls[0])
	l.mu.Unlock()
	assert.GreaterOrEqual(t, gap, RateLimitDelay)
}

// TestClient_SwitchQueue tests failover to another queue with the same payload.
func TestClient_SwitchQueue(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	primary := &recordingListener{fn: func(int) error { return SwitchQueue("vod_failover") }}
	failover := &recordingListener{}
	require.NoError(t, c.AddListener(context.Background(), "vod", primary))
	require.NoError(t, c.AddListener(context.Background(), "vod_failover", failover))

	require.NoError(t, c.Publish(context.Background(), "vod", []byte("payload"), 5, time.Hour))

	require.Eventually(t, func() bool { return failover.count() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, primary.count())
	failover.mu.Lock()
	assert.Equal(t, []byte("payload"), failover.bodies[0])
	assert.Equal(t, uint8(5), failover.prios[0])
	failover.mu.Unlock()
}

// TestClient_FatalDrops tests that a fatal error acks without requeue.
func TestClient_FatalDrops(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	l := &recordingListener{fn: func(int) error { return errors.New("malformed payload") }}
	require.NoError(t, c.AddListener(context.Background(), "vod", l))
	require.NoError(t, c.Publish(context.Background(), "vod", []byte("bad"), 0, 0))

	require.Eventually(t, func() bool { return broker.acks.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, l.count())
	assert.Len(t, broker.publishedTo("vod"), 1)
}

// TestClient_FuncListenerAddedTwice tests that registering one ListenerFunc
// twice adds a consumer but still handles every message exactly once.
func TestClient_FuncListenerAddedTwice(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	var (
		mu     sync.Mutex
		bodies []string
	)
	fn := ListenerFunc(func(ctx context.Context, body []byte, queue string, priority uint8) error {
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		return nil
	})
	require.NoError(t, c.AddListener(context.Background(), "vod", fn))
	require.NoError(t, c.AddListener(context.Background(), "vod", fn))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WorkerListeners))

	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, c.Publish(context.Background(), "vod", []byte(body), 0, 0))
	}

	require.Eventually(t, func() bool { return broker.acks.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, bodies)
}

// TestClient_DistinctListenersCompete tests that two listeners on one queue
// split the deliveries instead of both handling each one.
func TestClient_DistinctListenersCompete(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	first := &recordingListener{}
	second := &recordingListener{}
	require.NoError(t, c.AddListener(context.Background(), "vod", first))
	require.NoError(t, c.AddListener(context.Background(), "vod", second))

	const messages = 6
	for i := 0; i < messages; i++ {
		require.NoError(t, c.Publish(context.Background(), "vod", []byte("x"), 0, 0))
	}

	require.Eventually(t, func() bool { return broker.acks.Load() == messages }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, messages, first.count()+second.count())
}

// TestClient_DropsExpired tests that messages past their max age skip listeners.
func TestClient_DropsExpired(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	l := &recordingListener{}
	require.NoError(t, c.AddListener(context.Background(), "vod", l))

	old := Message{Queue: "vod", Body: []byte("stale"), MaxAge: time.Hour, FirstPublished: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, c.enqueue(context.Background(), old))

	require.Eventually(t, func() bool { return broker.acks.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, l.count())
}

// TestClient_CloseFlushesPending tests that delayed requeues are published on close.
func TestClient_CloseFlushesPending(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)

	l := &recordingListener{fn: func(int) error { return Defer(time.Hour) }}
	require.NoError(t, c.AddListener(context.Background(), "vod", l))
	require.NoError(t, c.Publish(context.Background(), "vod", []byte("later"), 0, 0))

	require.Eventually(t, func() bool {
		c.pendingMu.Lock()
		defer c.pendingMu.Unlock()
		return len(c.pending) == 1
	}, 5*time.Second, 5*time.Millisecond)

	closeClient(t, c)

	published := broker.publishedTo("vod")
	require.Len(t, published, 2)
	assert.Equal(t, []byte("later"), published[1].msg.Body)

	assert.ErrorIs(t, c.Publish(context.Background(), "vod", []byte("x"), 0, 0), ErrClosed)
	assert.ErrorIs(t, c.AddListener(context.Background(), "vod", l), ErrClosed)
	assert.ErrorIs(t, c.Close(context.Background()), ErrClosed)
}

// TestClient_RoundRobin tests that publishes rotate across publisher channels.
func TestClient_RoundRobin(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)

	for i := 0; i < 6; i++ {
		require.NoError(t, c.Publish(context.Background(), "search", []byte{byte(i)}, 0, 0))
	}
	closeClient(t, c)

	published := broker.publishedTo("search")
	require.Len(t, published, 6)
	for i, p := range published {
		assert.Equal(t, []byte{byte(i)}, p.msg.Body, "publish order preserved")
	}
}

// TestClient_Disabled tests the inert client.
func TestClient_Disabled(t *testing.T) {
	broker := newFakeBroker()
	c, err := New(context.Background(), Config{Dial: broker.dial}, false)
	require.NoError(t, err)

	assert.NoError(t, c.Publish(context.Background(), "vod", []byte("x"), 0, 0))
	assert.ErrorIs(t, c.AddListener(context.Background(), "vod", &recordingListener{}), ErrDisabled)
	assert.NoError(t, c.Healthy(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
	assert.Equal(t, int64(0), broker.dials.Load())
}

// TestClient_ListenerPerChannel tests that each AddListener call dials its own bundle.
func TestClient_ListenerPerChannel(t *testing.T) {
	broker := newFakeBroker()
	c := newTestClient(t, broker)
	defer closeClient(t, c)

	l := &recordingListener{}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.AddListener(context.Background(), "vod", l))
	}
	assert.Equal(t, int64(4), broker.dials.Load())

	require.NoError(t, c.Publish(context.Background(), "vod", []byte("once"), 0, 0))
	require.Eventually(t, func() bool { return broker.acks.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, l.count(), "a message is handled by one consumer")
}
