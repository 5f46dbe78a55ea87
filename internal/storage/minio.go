package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
)

var _ Backend = (*MinIOBackend)(nil)

// MinIOBackend talks to any S3-compatible server through minio-go. Objects
// are made public by tagging them; the bucket policy grants anonymous reads
// on that tag.
type MinIOBackend struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	config *Config
}

func NewMinIOBackend(cfg *Config) (*MinIOBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOBackend{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

func (s *MinIOBackend) EnsureBucket(ctx context.Context) error {
	log := logger.FromContext(ctx)

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Info("creating bucket", "bucket", s.bucket, "region", s.config.Region)
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
			Region: s.config.Region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("bucket created", "bucket", s.bucket)
	}

	return nil
}

func (s *MinIOBackend) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	log := logger.FromContext(ctx)
	start := time.Now()

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Error("storage upload failed", "bucket", s.bucket, "key", key, "size", size, "error", err)
		return fmt.Errorf("upload to %s: %w", key, err)
	}

	log.Debug("storage upload completed", "bucket", s.bucket, "key", key, "size", size, "content_type", contentType, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *MinIOBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		log.Error("storage download failed", "bucket", s.bucket, "key", key, "error", err)
		return nil, fmt.Errorf("download %s: %w", key, err)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isMinIOCode(err, "NoSuchKey") {
			log.Warn("storage object not found", "bucket", s.bucket, "key", key)
			return nil, ErrNotFound
		}
		log.Error("storage stat failed", "bucket", s.bucket, "key", key, "error", err)
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	log.Debug("storage download started", "bucket", s.bucket, "key", key, "size", info.Size, "duration_ms", time.Since(start).Milliseconds())
	return obj, nil
}

func (s *MinIOBackend) Delete(ctx context.Context, key string) error {
	log := logger.FromContext(ctx)

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		log.Error("storage delete failed", "bucket", s.bucket, "key", key, "error", err)
		return fmt.Errorf("delete %s: %w", key, err)
	}

	log.Debug("storage object deleted", "bucket", s.bucket, "key", key)
	return nil
}

func (s *MinIOBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinIOCode(err, "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	return true, nil
}

func (s *MinIOBackend) PublicURL(key string) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key
	}
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucket + "/" + key
	return u.String()
}

func (s *MinIOBackend) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	log := logger.FromContext(ctx)

	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		log.Error("storage presign failed", "bucket", s.bucket, "key", key, "error", err)
		return "", fmt.Errorf("presign %s: %w", key, err)
	}

	log.Debug("storage presigned url generated", "bucket", s.bucket, "key", key, "expiry_seconds", int(expiry.Seconds()))
	return url.String(), nil
}

func (s *MinIOBackend) MakePublic(ctx context.Context, key string) error {
	t, err := tags.NewTags(map[string]string{"visibility": "public"}, true)
	if err != nil {
		return fmt.Errorf("build tags: %w", err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		if isMinIOCode(err, "NoSuchKey") {
			return ErrNotFound
		}
		return fmt.Errorf("make public %s: %w", key, err)
	}
	return nil
}

func (s *MinIOBackend) HealthCheck(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *MinIOBackend) StartSession(ctx context.Context, key, contentType string) (string, error) {
	id, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("new multipart upload %s: %w", key, err)
	}
	return id, nil
}

func (s *MinIOBackend) UploadPart(ctx context.Context, key, sessionID string, part Part, data io.Reader) (CompletedPart, error) {
	p, err := s.core.PutObjectPart(ctx, s.bucket, key, sessionID, int(part.Number), data, part.Size, minio.PutObjectPartOptions{
		Md5Base64: part.MD5,
	})
	if err != nil {
		return CompletedPart{}, fmt.Errorf("put part %d of %s: %w", part.Number, key, err)
	}
	return CompletedPart{Number: part.Number, ETag: p.ETag}, nil
}

func (s *MinIOBackend) FinishSession(ctx context.Context, key, sessionID string, parts []CompletedPart) error {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: int(p.Number), ETag: p.ETag})
	}
	if _, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, sessionID, complete, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("complete multipart upload %s: %w", key, err)
	}
	return nil
}

func (s *MinIOBackend) AbortSession(ctx context.Context, key, sessionID string) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, sessionID); err != nil {
		return fmt.Errorf("abort multipart upload %s: %w", key, err)
	}
	return nil
}

// IsSessionFinished treats an upload id the server no longer knows as
// finished when the object exists.
func (s *MinIOBackend) IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error) {
	_, err := s.core.ListObjectParts(ctx, s.bucket, key, sessionID, 0, 1)
	if err == nil {
		return false, nil
	}
	if !isMinIOCode(err, "NoSuchUpload") {
		return false, fmt.Errorf("list parts %s: %w", key, err)
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrSessionNotFound
	}
	return true, nil
}

func isMinIOCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == code
}
