// Package search publishes reindex requests for the search service.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/google/uuid"
)

const (
	TypeUpdateVodData = "UpdateVodData"
	TypeSyncVod       = "SyncVod"

	// MaxAge bounds how long a reindex request may sit in the queue.
	MaxAge = 24 * time.Hour
)

// Publisher is the subset of the broker client used here.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte, priority uint8, maxAge time.Duration) error
}

type Task struct {
	Type       string      `json:"type"`
	VideoUUID  *uuid.UUID  `json:"video_uuid,omitempty"`
	VideoUUIDs []uuid.UUID `json:"video_uuids,omitempty"`
}

// Notifier sends fire-and-forget reindex requests. Failures are logged.
type Notifier struct {
	pub   Publisher
	queue string
}

func NewNotifier(pub Publisher, queue string) *Notifier {
	return &Notifier{pub: pub, queue: queue}
}

func (n *Notifier) RequestUpdateVodData(ctx context.Context, videoUUID uuid.UUID) {
	n.send(ctx, Task{Type: TypeUpdateVodData, VideoUUID: &videoUUID})
}

func (n *Notifier) RequestSyncVod(ctx context.Context, videoUUIDs []uuid.UUID) {
	if len(videoUUIDs) == 0 {
		return
	}
	n.send(ctx, Task{Type: TypeSyncVod, VideoUUIDs: videoUUIDs})
}

func (n *Notifier) send(ctx context.Context, t Task) {
	body, err := json.Marshal(t)
	if err == nil {
		err = n.pub.Publish(ctx, n.queue, body, 0, MaxAge)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to request search update",
			"type", t.Type,
			"error", fmt.Errorf("publish %s: %w", n.queue, err),
		)
	}
}
