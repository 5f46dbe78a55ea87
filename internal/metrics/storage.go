package metrics

import (
	"context"
	"io"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
)

// InstrumentedBackend records operation counts, latency and transferred
// bytes for a storage backend.
type InstrumentedBackend struct {
	storage.Backend
	bucket string
}

func NewInstrumentedBackend(bucket string, b storage.Backend) *InstrumentedBackend {
	return &InstrumentedBackend{Backend: b, bucket: bucket}
}

func (s *InstrumentedBackend) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(s.bucket, op, status).Inc()
	StorageOperationDuration.WithLabelValues(s.bucket, op).Observe(time.Since(start).Seconds())
}

// SequentialParts forwards the ordering constraint of the wrapped backend.
func (s *InstrumentedBackend) SequentialParts() bool {
	seq, ok := s.Backend.(interface{ SequentialParts() bool })
	return ok && seq.SequentialParts()
}

func (s *InstrumentedBackend) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	start := time.Now()
	err := s.Backend.Upload(ctx, key, reader, contentType, size)
	s.observe("upload", start, err)
	if err == nil {
		StorageBytesTotal.WithLabelValues(s.bucket, "upload").Add(float64(size))
	}
	return err
}

func (s *InstrumentedBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := s.Backend.Download(ctx, key)
	s.observe("download", start, err)
	if err != nil {
		return nil, err
	}
	return &instrumentedReadCloser{ReadCloser: reader, bucket: s.bucket}, nil
}

func (s *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Backend.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := s.Backend.Exists(ctx, key)
	s.observe("exists", start, err)
	return exists, err
}

func (s *InstrumentedBackend) UploadPart(ctx context.Context, key, sessionID string, part storage.Part, data io.Reader) (storage.CompletedPart, error) {
	start := time.Now()
	cp, err := s.Backend.UploadPart(ctx, key, sessionID, part, data)
	s.observe("upload_part", start, err)
	if err == nil {
		StorageBytesTotal.WithLabelValues(s.bucket, "upload").Add(float64(part.Size))
	}
	return cp, err
}

func (s *InstrumentedBackend) IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error) {
	start := time.Now()
	done, err := s.Backend.IsSessionFinished(ctx, key, sessionID)
	s.observe("session_status", start, err)
	return done, err
}

type instrumentedReadCloser struct {
	io.ReadCloser
	bucket    string
	bytesRead int64
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	StorageBytesTotal.WithLabelValues(r.bucket, "download").Add(float64(r.bytesRead))
	return r.ReadCloser.Close()
}
