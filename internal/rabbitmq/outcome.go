package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimit asks for a short retry; it is treated as Defer(RateLimitDelay).
	ErrRateLimit = errors.New("rabbitmq: rate limited")
	ErrDisabled  = errors.New("rabbitmq: broker disabled")
	ErrClosed    = errors.New("rabbitmq: client closed")
)

const RateLimitDelay = 100 * time.Millisecond

// Listener handles messages delivered from a queue. A nil return means the
// message is done; Defer, ErrRateLimit and SwitchQueue request a republish;
// any other error is logged and the message dropped.
type Listener interface {
	Handle(ctx context.Context, body []byte, queue string, priority uint8) error
}

type ListenerFunc func(ctx context.Context, body []byte, queue string, priority uint8) error

func (f ListenerFunc) Handle(ctx context.Context, body []byte, queue string, priority uint8) error {
	return f(ctx, body, queue, priority)
}

type DeferError struct {
	Delay time.Duration
}

func (e *DeferError) Error() string {
	return fmt.Sprintf("rabbitmq: defer %s", e.Delay)
}

func Defer(d time.Duration) error {
	return &DeferError{Delay: d}
}

type SwitchQueueError struct {
	Queue string
}

func (e *SwitchQueueError) Error() string {
	return fmt.Sprintf("rabbitmq: switch to queue %s", e.Queue)
}

func SwitchQueue(queue string) error {
	return &SwitchQueueError{Queue: queue}
}

// Requeue is a consumer's request to republish a message.
type Requeue struct {
	Message Message
	Delay   time.Duration
	Reason  string
}

const (
	reasonDefer     = "defer"
	reasonRateLimit = "rate_limit"
	reasonSwitch    = "switch_queue"
)

// requeueFor maps a listener error to a requeue of msg. It returns false for
// success and for fatal errors.
func requeueFor(msg Message, err error) (Requeue, bool) {
	if err == nil {
		return Requeue{}, false
	}

	var de *DeferError
	if errors.As(err, &de) {
		return Requeue{Message: msg, Delay: de.Delay, Reason: reasonDefer}, true
	}
	if errors.Is(err, ErrRateLimit) {
		return Requeue{Message: msg, Delay: RateLimitDelay, Reason: reasonRateLimit}, true
	}
	var sq *SwitchQueueError
	if errors.As(err, &sq) && sq.Queue != "" {
		return Requeue{Message: msg.WithQueue(sq.Queue), Reason: reasonSwitch}, true
	}
	return Requeue{}, false
}
