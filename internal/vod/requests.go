package vod

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/rabbitmq"
	"github.com/google/uuid"
)

// MaxAge is how long a pipeline task stays valid in the queue.
const MaxAge = 6 * time.Hour

// Publisher is the subset of the broker client the pipeline needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte, priority uint8, maxAge time.Duration) error
}

// Requester enqueues pipeline tasks. Producers such as vodctl and the
// sweeper use it directly; the worker uses it to chain stages.
type Requester struct {
	pub   Publisher
	queue string
}

func NewRequester(pub Publisher, queue string) *Requester {
	return &Requester{pub: pub, queue: queue}
}

func (r *Requester) Queue() string {
	return r.queue
}

func (r *Requester) Request(ctx context.Context, t Task, priority uint8) error {
	body, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, r.queue, body, priority, MaxAge)
}

// RequestVodProcessing asks for a fastify pass. High priority puts it ahead
// of backfill work.
func (r *Requester) RequestVodProcessing(ctx context.Context, vodUUID uuid.UUID, id, sessionID string, highPriority bool) error {
	t := ProcessTask{VodUUID: vodUUID}
	if id != "" {
		t.ID = &id
	}
	if sessionID != "" {
		t.SessionID = &sessionID
	}

	priority := rabbitmq.DefaultPriority
	if highPriority {
		priority = rabbitmq.HighPriority
	}
	return r.Request(ctx, t, priority)
}

func (r *Requester) RequestGeneratePreview(ctx context.Context, vodUUID uuid.UUID, priority uint8) error {
	return r.Request(ctx, GeneratePreviewTask{VodUUID: vodUUID}, priority)
}

func (r *Requester) RequestGenerateThumbnail(ctx context.Context, vodUUID uuid.UUID, priority uint8) error {
	return r.Request(ctx, GenerateThumbnailTask{VodUUID: vodUUID}, priority)
}

func (r *Requester) RequestStagedClip(ctx context.Context, clipID int64, priority uint8) error {
	return r.Request(ctx, GenerateStagedClipTask{ClipID: clipID}, priority)
}

func (r *Requester) RequestDelete(ctx context.Context, vodUUIDs []uuid.UUID) error {
	return r.Request(ctx, DeleteTask{VodUUIDs: vodUUIDs}, rabbitmq.DefaultPriority)
}
