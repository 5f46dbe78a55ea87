package vod

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/abdul-hamid-achik/vodpipe/internal/rabbitmq"
	"github.com/abdul-hamid-achik/vodpipe/internal/status"
	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
	"github.com/abdul-hamid-achik/vodpipe/internal/tracing"
	"github.com/abdul-hamid-achik/vodpipe/internal/transcode"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// SearchNotifier receives reindex requests after stages commit.
type SearchNotifier interface {
	RequestUpdateVodData(ctx context.Context, videoUUID uuid.UUID)
	RequestSyncVod(ctx context.Context, videoUUIDs []uuid.UUID)
}

// BucketStatus reports operator flags for a bucket.
type BucketStatus interface {
	Status(ctx context.Context, bucket string) (status.Status, error)
}

// Locker grants short exclusive leases across workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type Config struct {
	Queue         string
	FailoverQueue string
	TempDir       string
	URLExpiry     time.Duration
	ClipLockTTL   time.Duration
}

type Dependencies struct {
	DB         db.TxQuerier
	Storage    *storage.Manager
	Uploader   *storage.MultipartUploader
	Transcoder transcode.Transcoder
	Publisher  Publisher

	// Optional collaborators.
	Search SearchNotifier
	Status BucketStatus
	Locker Locker
}

// Worker consumes pipeline tasks. It implements rabbitmq.Listener.
type Worker struct {
	*Requester

	db         db.TxQuerier
	storage    *storage.Manager
	uploader   *storage.MultipartUploader
	transcoder transcode.Transcoder
	search     SearchNotifier
	status     BucketStatus
	locker     Locker
	cfg        Config
}

var _ rabbitmq.Listener = (*Worker)(nil)

func NewWorker(deps *Dependencies, cfg Config) *Worker {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	if cfg.ClipLockTTL <= 0 {
		cfg.ClipLockTTL = 30 * time.Minute
	}
	uploader := deps.Uploader
	if uploader == nil {
		uploader = storage.NewMultipartUploader()
	}
	return &Worker{
		Requester:  NewRequester(deps.Publisher, cfg.Queue),
		db:         deps.DB,
		storage:    deps.Storage,
		uploader:   uploader,
		transcoder: deps.Transcoder,
		search:     deps.Search,
		status:     deps.Status,
		locker:     deps.Locker,
		cfg:        cfg,
	}
}

// job carries delivery facts every stage needs.
type job struct {
	priority   uint8
	onFailover bool
}

// Handle decodes one task, runs its stage and maps the result to a broker
// outcome.
func (w *Worker) Handle(ctx context.Context, body []byte, queue string, priority uint8) error {
	task, err := DecodeTask(body)
	if err != nil {
		logger.FromContext(ctx).Error("invalid task payload", "error", err)
		metrics.RecordTask("unknown", "fatal", 0)
		return err
	}

	ctx, span := tracing.StartTaskSpan(ctx, queue, task.Type())
	defer span.End()

	log := logger.FromContext(ctx).With("task_type", task.Type(), "priority", priority)
	ctx = logger.WithLogger(ctx, log)
	log.Info("job started")
	start := time.Now()

	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	j := job{priority: priority, onFailover: queue == w.cfg.FailoverQueue && w.cfg.FailoverQueue != ""}
	err = w.run(ctx, j, task)
	outcome := Outcome(err, w.cfg.FailoverQueue)
	label := outcomeLabel(outcome)

	metrics.RecordTask(task.Type(), label, time.Since(start).Seconds())
	tracing.AddSpanAttributes(ctx, attribute.String("vodpipe.outcome", label))

	switch label {
	case "success":
		log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
	case "fatal":
		tracing.RecordError(ctx, err)
		log.Error("job failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
	default:
		log.Info("job requeued", "outcome", label, "reason", err)
	}
	return outcome
}

func (w *Worker) run(ctx context.Context, j job, task Task) error {
	switch t := task.(type) {
	case ProcessTask:
		ctx = logger.WithVodUUID(ctx, t.VodUUID.String())
		return w.fastify(ctx, j, t)
	case GeneratePreviewTask:
		ctx = logger.WithVodUUID(ctx, t.VodUUID.String())
		return w.generatePreview(ctx, j, t.VodUUID)
	case GenerateThumbnailTask:
		ctx = logger.WithVodUUID(ctx, t.VodUUID.String())
		return w.generateThumbnail(ctx, j, t.VodUUID)
	case GenerateStagedClipTask:
		return w.generateStagedClip(ctx, j, t.ClipID)
	case DeleteTask:
		return w.deleteVods(ctx, j, t.VodUUIDs)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownTask, task)
	}
}

// bucket resolves a backend after consulting its operator flag.
func (w *Worker) bucket(ctx context.Context, j job, name string) (storage.Backend, error) {
	if w.status != nil {
		st, err := w.status.Status(ctx, name)
		if err != nil {
			logger.FromContext(ctx).Warn("bucket status unavailable, assuming up", "bucket", name, "error", err)
			st = status.Up
		}
		switch st {
		case status.Down:
			return nil, fmt.Errorf("%w: %s", ErrBucketDown, name)
		case status.Failover:
			if !j.onFailover {
				return nil, fmt.Errorf("%w: %s", ErrBucketFailover, name)
			}
		}
	}
	return w.storage.Get(name)
}

// segmentURL returns a URL ffmpeg can read the segment from.
func (w *Worker) segmentURL(ctx context.Context, b storage.Backend, seg SegmentID) (string, error) {
	url, err := b.SignedURL(ctx, seg.Key(), w.cfg.URLExpiry)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", seg, err)
	}
	return url, nil
}

func (w *Worker) tempDir(stage string) (string, error) {
	if err := os.MkdirAll(w.cfg.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(w.cfg.TempDir, "vod-"+stage+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// timed records a stage step and logs its duration.
func timed(ctx context.Context, taskType, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordTaskStage(taskType, step, time.Since(start).Seconds())
	logger.FromContext(ctx).Debug(step+" finished", "duration_ms", time.Since(start).Milliseconds(), "ok", err == nil)
	return err
}

// fileMD5 returns the base64 MD5 of a file, the form stored on associations.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// makePublicIfNeeded mirrors the VOD's visibility onto a segment. Failures
// are logged; the stage has already committed.
func (w *Worker) makePublicIfNeeded(ctx context.Context, b storage.Backend, vodUUID uuid.UUID, seg SegmentID) {
	log := logger.FromContext(ctx)
	public, err := w.db.IsVodPublic(ctx, db.UUID(vodUUID))
	if err != nil {
		log.Warn("failed to check vod visibility", "error", err)
		return
	}
	if !public {
		return
	}
	if err := b.MakePublic(ctx, seg.Key()); err != nil {
		log.Warn("failed to make segment public", "segment", seg.Key(), "error", err)
	}
}

func (w *Worker) notifyUpdate(ctx context.Context, vodUUID uuid.UUID) {
	if w.search != nil {
		w.search.RequestUpdateVodData(ctx, vodUUID)
	}
}

func removeAll(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.FromContext(ctx).Warn("failed to remove temp dir", "dir", dir, "error", err)
	}
}
