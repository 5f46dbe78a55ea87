package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPartSize    int64 = 100 * 1024 * 1024
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = 500 * time.Millisecond
)

var ErrPartFailed = errors.New("storage: multipart part failed")

// sequentialSessions is implemented by backends whose sessions only accept
// parts in order, such as GCS resumable uploads.
type sequentialSessions interface {
	SequentialParts() bool
}

// MultipartUploader splits a source into fixed-size parts and uploads each
// one independently with retries. A session is either completed with every
// part in part-number order or aborted.
type MultipartUploader struct {
	PartSize    int64
	MaxAttempts int
	BaseDelay   time.Duration
	Concurrency int

	// Progress, when set, receives the size of every committed part.
	Progress func(n int64)

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func NewMultipartUploader() *MultipartUploader {
	return &MultipartUploader{
		PartSize:    DefaultPartSize,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Concurrency: 1,
	}
}

// Backoff returns the delay before retry number attempt (0-based).
func (u *MultipartUploader) Backoff(attempt int) time.Duration {
	d := u.BaseDelay * time.Duration(1<<attempt)
	return d + u.jitterFn()(u.BaseDelay)
}

// Upload sends size bytes from src to key and returns the session id that
// was committed.
func (u *MultipartUploader) Upload(ctx context.Context, b SessionBackend, key, contentType string, src io.ReaderAt, size int64) (string, error) {
	if size <= 0 {
		return "", apperror.WrapWithMessage(
			fmt.Errorf("upload %s: empty input", key),
			apperror.ErrBadRequest.Code, "Refusing to upload an empty object", apperror.ErrBadRequest.StatusCode,
		)
	}

	log := logger.FromContext(ctx).With("key", key, "size", size)
	start := time.Now()

	sessionID, err := b.StartSession(ctx, key, contentType)
	if err != nil {
		return "", fmt.Errorf("start session for %s: %w", key, err)
	}

	parts := u.plan(size)
	completed := make([]CompletedPart, len(parts))

	limit := u.Concurrency
	if limit < 1 {
		limit = 1
	}
	if seq, ok := b.(sequentialSessions); ok && seq.SequentialParts() {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range parts {
		g.Go(func() error {
			cp, err := u.uploadPart(gctx, b, key, sessionID, parts[i], src)
			if err != nil {
				return err
			}
			completed[i] = cp
			if u.Progress != nil {
				u.Progress(parts[i].Size)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("multipart upload failed, aborting session", "session_id", sessionID, "error", err)
		if aerr := b.AbortSession(context.WithoutCancel(ctx), key, sessionID); aerr != nil {
			log.Warn("abort session failed", "session_id", sessionID, "error", aerr)
		}
		return "", err
	}

	sort.Slice(completed, func(i, j int) bool { return completed[i].Number < completed[j].Number })
	if err := b.FinishSession(ctx, key, sessionID, completed); err != nil {
		return "", fmt.Errorf("finish session for %s: %w", key, err)
	}

	log.Info("multipart upload completed", "parts", len(parts), "duration_ms", time.Since(start).Milliseconds())
	return sessionID, nil
}

// UploadFile uploads the file at path, using a session when the file is
// larger than one part.
func (u *MultipartUploader) UploadFile(ctx context.Context, b Backend, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() > u.partSize() {
		_, err = u.Upload(ctx, b, key, contentType, f, info.Size())
		return err
	}
	if info.Size() == 0 {
		return apperror.WrapWithMessage(
			fmt.Errorf("upload %s: empty input", key),
			apperror.ErrBadRequest.Code, "Refusing to upload an empty object", apperror.ErrBadRequest.StatusCode,
		)
	}
	return u.uploadWhole(ctx, b, key, contentType, f, info.Size())
}

// uploadWhole sends a single-part object, retrying with the same backoff as
// session parts. Every attempt rereads src from offset 0.
func (u *MultipartUploader) uploadWhole(ctx context.Context, b Backend, key, contentType string, src io.ReaderAt, size int64) error {
	err := u.retry(ctx, func() error {
		return b.Upload(ctx, key, io.NewSectionReader(src, 0, size), contentType, size)
	}, "key", key)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPartFailed, key, err)
	}
	return nil
}

func (u *MultipartUploader) plan(size int64) []Part {
	partSize := u.partSize()
	n := (size + partSize - 1) / partSize
	parts := make([]Part, 0, n)
	for i := int64(0); i < n; i++ {
		offset := i * partSize
		length := min(partSize, size-offset)
		parts = append(parts, Part{
			Number: int32(i + 1),
			Offset: offset,
			Size:   length,
			Total:  size,
		})
	}
	return parts
}

func (u *MultipartUploader) uploadPart(ctx context.Context, b SessionBackend, key, sessionID string, part Part, src io.ReaderAt) (CompletedPart, error) {
	buf := make([]byte, part.Size)
	if _, err := src.ReadAt(buf, part.Offset); err != nil && !errors.Is(err, io.EOF) {
		return CompletedPart{}, fmt.Errorf("read part %d: %w", part.Number, err)
	}

	sum := md5.Sum(buf)
	part.MD5 = base64.StdEncoding.EncodeToString(sum[:])

	var cp CompletedPart
	err := u.retry(ctx, func() error {
		var err error
		cp, err = b.UploadPart(ctx, key, sessionID, part, bytes.NewReader(buf))
		return err
	}, "key", key, "part", part.Number)
	if err != nil {
		return CompletedPart{}, fmt.Errorf("%w: part %d of %s: %w", ErrPartFailed, part.Number, key, err)
	}
	cp.Number = part.Number
	return cp, nil
}

// retry runs fn until it succeeds or MaxAttempts is reached, sleeping
// Backoff between attempts. A cancelled context stops it early.
func (u *MultipartUploader) retry(ctx context.Context, fn func() error, logArgs ...any) error {
	attempts := u.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := u.sleepFn()(ctx, u.Backoff(attempt-1)); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		logger.FromContext(ctx).Warn("upload attempt failed",
			append(logArgs, "attempt", attempt+1, "error", err)...)
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (u *MultipartUploader) partSize() int64 {
	if u.PartSize <= 0 {
		return DefaultPartSize
	}
	return u.PartSize
}

func (u *MultipartUploader) sleepFn() func(context.Context, time.Duration) error {
	if u.sleep != nil {
		return u.sleep
	}
	return sleepContext
}

func (u *MultipartUploader) jitterFn() func(time.Duration) time.Duration {
	if u.jitter != nil {
		return u.jitter
	}
	return randomJitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
