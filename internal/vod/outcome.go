package vod

import (
	"errors"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
	"github.com/abdul-hamid-achik/vodpipe/internal/rabbitmq"
)

const (
	UploadPendingDelay = 1000 * time.Millisecond
	NotFastifiedDelay  = 5000 * time.Millisecond
	UnavailableDelay   = 1000 * time.Millisecond
	BucketDownDelay    = time.Hour
	ClipLockedDelay    = 5000 * time.Millisecond
)

var (
	// ErrUploadPending means the upload session has not committed yet.
	ErrUploadPending = errors.New("vod: upload session not finished")
	// ErrNotFastified means a stage needs the fastified segment first.
	ErrNotFastified = errors.New("vod: source not fastified")
	ErrBucketDown   = errors.New("vod: bucket is down")
	// ErrBucketFailover means work for the bucket belongs on the failover queue.
	ErrBucketFailover = errors.New("vod: bucket is failing over")
	// ErrClipLocked means another worker is producing the same staged clip.
	ErrClipLocked = errors.New("vod: staged clip in progress elsewhere")
)

// Outcome maps a stage error to the broker-level result: nil, a requeue
// outcome from the rabbitmq package, or the error itself when it is fatal.
// Without a failover queue a failing-over bucket is treated as down.
func Outcome(err error, failoverQueue string) error {
	if err == nil {
		return nil
	}

	var deferErr *rabbitmq.DeferError
	var switchErr *rabbitmq.SwitchQueueError
	switch {
	case errors.As(err, &deferErr), errors.As(err, &switchErr), errors.Is(err, rabbitmq.ErrRateLimit):
		return err
	case errors.Is(err, ErrUploadPending):
		return rabbitmq.Defer(UploadPendingDelay)
	case errors.Is(err, ErrNotFastified):
		return rabbitmq.Defer(NotFastifiedDelay)
	case errors.Is(err, ErrClipLocked):
		return rabbitmq.Defer(ClipLockedDelay)
	case errors.Is(err, ErrBucketDown):
		return rabbitmq.Defer(BucketDownDelay)
	case errors.Is(err, ErrBucketFailover) && failoverQueue == "":
		return rabbitmq.Defer(BucketDownDelay)
	case errors.Is(err, ErrBucketFailover):
		return rabbitmq.SwitchQueue(failoverQueue)
	case apperror.Is(err, apperror.ErrRateLimited):
		return rabbitmq.ErrRateLimit
	case apperror.Is(err, apperror.ErrServiceUnavailable):
		return rabbitmq.Defer(UnavailableDelay)
	default:
		return err
	}
}

// outcomeLabel names an outcome for metrics.
func outcomeLabel(outcome error) string {
	var deferErr *rabbitmq.DeferError
	var switchErr *rabbitmq.SwitchQueueError
	switch {
	case outcome == nil:
		return "success"
	case errors.Is(outcome, rabbitmq.ErrRateLimit):
		return "rate_limited"
	case errors.As(outcome, &deferErr):
		return "deferred"
	case errors.As(outcome, &switchErr):
		return "switched"
	default:
		return "fatal"
	}
}
