package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type publishCall struct {
	queue  string
	body   []byte
	maxAge time.Duration
}

type mockPublisher struct {
	calls []publishCall
	err   error
}

func (m *mockPublisher) Publish(ctx context.Context, queue string, body []byte, priority uint8, maxAge time.Duration) error {
	m.calls = append(m.calls, publishCall{queue: queue, body: body, maxAge: maxAge})
	return m.err
}

// TestNotifier tests the search task payloads.
func TestNotifier(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name      string
		send      func(n *Notifier)
		wantCalls int
		wantType  string
	}{
		{
			name:      "update vod data",
			send:      func(n *Notifier) { n.RequestUpdateVodData(context.Background(), id) },
			wantCalls: 1,
			wantType:  TypeUpdateVodData,
		},
		{
			name:      "sync vods",
			send:      func(n *Notifier) { n.RequestSyncVod(context.Background(), []uuid.UUID{id}) },
			wantCalls: 1,
			wantType:  TypeSyncVod,
		},
		{
			name:      "empty sync is skipped",
			send:      func(n *Notifier) { n.RequestSyncVod(context.Background(), nil) },
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			tt.send(NewNotifier(pub, "search"))

			if len(pub.calls) != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", len(pub.calls), tt.wantCalls)
			}
			if tt.wantCalls == 0 {
				return
			}
			call := pub.calls[0]
			if call.queue != "search" || call.maxAge != MaxAge {
				t.Errorf("call = %+v", call)
			}
			var task Task
			if err := json.Unmarshal(call.body, &task); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if task.Type != tt.wantType {
				t.Errorf("type = %q, want %q", task.Type, tt.wantType)
			}
		})
	}
}

// TestNotifier_PublishErrorSwallowed tests that failures do not panic or propagate.
func TestNotifier_PublishErrorSwallowed(t *testing.T) {
	pub := &mockPublisher{err: errors.New("closed")}
	NewNotifier(pub, "search").RequestUpdateVodData(context.Background(), uuid.New())

	if len(pub.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(pub.calls))
	}
}
