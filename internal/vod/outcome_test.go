package vod

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
	"github.com/abdul-hamid-achik/vodpipe/internal/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOutcome tests the mapping from stage errors to broker outcomes.
func TestOutcome(t *testing.T) {
	fatal := errors.New("corrupt input")

	tests := []struct {
		name       string
		err        error
		wantDefer  time.Duration
		wantQueue  string
		wantLabel  string
		noFailover bool
	}{
		{name: "success", err: nil, wantLabel: "success"},
		{name: "upload pending", err: fmt.Errorf("fastify: %w", ErrUploadPending), wantDefer: time.Second, wantLabel: "deferred"},
		{name: "not fastified", err: ErrNotFastified, wantDefer: 5 * time.Second, wantLabel: "deferred"},
		{name: "clip locked", err: ErrClipLocked, wantDefer: 5 * time.Second, wantLabel: "deferred"},
		{name: "bucket down", err: fmt.Errorf("%w: vods", ErrBucketDown), wantDefer: time.Hour, wantLabel: "deferred"},
		{name: "bucket failover", err: fmt.Errorf("%w: vods", ErrBucketFailover), wantQueue: "vod_failover", wantLabel: "switched"},
		{name: "bucket failover without failover queue", err: fmt.Errorf("%w: vods", ErrBucketFailover), noFailover: true, wantDefer: time.Hour, wantLabel: "deferred"},
		{name: "service unavailable", err: apperror.Wrap(fatal, apperror.ErrServiceUnavailable), wantDefer: time.Second, wantLabel: "deferred"},
		{name: "explicit defer passes through", err: rabbitmq.Defer(7 * time.Second), wantDefer: 7 * time.Second, wantLabel: "deferred"},
		{name: "explicit switch passes through", err: rabbitmq.SwitchQueue("other"), wantQueue: "other", wantLabel: "switched"},
		{name: "fatal", err: fatal, wantLabel: "fatal"},
		{name: "conflict is fatal", err: apperror.Wrap(fatal, apperror.ErrConflict), wantLabel: "fatal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failover := "vod_failover"
			if tt.noFailover {
				failover = ""
			}
			got := Outcome(tt.err, failover)
			assert.Equal(t, tt.wantLabel, outcomeLabel(got))

			switch {
			case tt.wantDefer > 0:
				var de *rabbitmq.DeferError
				require.ErrorAs(t, got, &de)
				assert.Equal(t, tt.wantDefer, de.Delay)
			case tt.wantQueue != "":
				var se *rabbitmq.SwitchQueueError
				require.ErrorAs(t, got, &se)
				assert.Equal(t, tt.wantQueue, se.Queue)
			case tt.err == nil:
				assert.NoError(t, got)
			default:
				assert.ErrorIs(t, got, fatal)
			}
		})
	}
}

// TestOutcome_RateLimited tests both rate limit spellings.
func TestOutcome_RateLimited(t *testing.T) {
	for _, err := range []error{
		rabbitmq.ErrRateLimit,
		apperror.Wrap(errors.New("429 from storage"), apperror.ErrRateLimited),
	} {
		got := Outcome(err, "vod_failover")
		assert.ErrorIs(t, got, rabbitmq.ErrRateLimit)
		assert.Equal(t, "rate_limited", outcomeLabel(got))
	}
}
