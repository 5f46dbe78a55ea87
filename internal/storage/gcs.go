package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const gcsUploadBase = "https://storage.googleapis.com/upload/storage/v1"

var _ Backend = (*GCSBackend)(nil)

// GCSBackend stores objects in Google Cloud Storage. Upload sessions are
// resumable upload URIs, so the session id handed to clients is the URI
// itself and parts must arrive in order.
type GCSBackend struct {
	client     *gcs.Client
	http       *http.Client
	uploadBase string
	bucket     string
	config     *Config
}

func NewGCSBackend(ctx context.Context, cfg *Config) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	hc, _, err := htransport.NewClient(ctx, append(opts, option.WithScopes(gcs.ScopeReadWrite))...)
	if err != nil {
		return nil, fmt.Errorf("create gcs http client: %w", err)
	}
	hc.Transport = otelhttp.NewTransport(hc.Transport)

	return &GCSBackend{
		client:     client,
		http:       hc,
		uploadBase: gcsUploadBase,
		bucket:     cfg.Bucket,
		config:     cfg,
	}, nil
}

func (s *GCSBackend) SequentialParts() bool { return true }

func (s *GCSBackend) object(key string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

func (s *GCSBackend) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	start := time.Now()

	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload to %s: %w", key, err)
	}

	logger.FromContext(ctx).Debug("storage upload completed", "bucket", s.bucket, "key", key, "size", size, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *GCSBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return r, nil
}

func (s *GCSBackend) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	return true, nil
}

func (s *GCSBackend) PublicURL(key string) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

func (s *GCSBackend) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", key, err)
	}
	return u, nil
}

func (s *GCSBackend) MakePublic(ctx context.Context, key string) error {
	if err := s.object(key).ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("make public %s: %w", key, err)
	}
	return nil
}

func (s *GCSBackend) HealthCheck(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket attrs %s: %w", s.bucket, err)
	}
	return nil
}

func (s *GCSBackend) StartSession(ctx context.Context, key, contentType string) (string, error) {
	u := fmt.Sprintf("%s/b/%s/o?uploadType=resumable&name=%s", s.uploadBase, url.PathEscape(s.bucket), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Upload-Content-Type", contentType)
	req.ContentLength = 0

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("start resumable upload %s: %w", key, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", apperror.FromStatus(resp.StatusCode, fmt.Errorf("start resumable upload %s: %s", key, resp.Status))
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("start resumable upload %s: no session uri", key)
	}
	return loc, nil
}

func (s *GCSBackend) UploadPart(ctx context.Context, key, sessionID string, part Part, data io.Reader) (CompletedPart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionID, data)
	if err != nil {
		return CompletedPart{}, err
	}
	req.ContentLength = part.Size
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", part.Offset, part.Offset+part.Size-1, part.Total))

	resp, err := s.http.Do(req)
	if err != nil {
		return CompletedPart{}, fmt.Errorf("upload part %d of %s: %w", part.Number, key, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return CompletedPart{Number: part.Number, ETag: resp.Header.Get("ETag")}, nil
	case http.StatusPermanentRedirect:
		if part.Last() {
			return CompletedPart{}, fmt.Errorf("upload part %d of %s: session still incomplete after last part", part.Number, key)
		}
		return CompletedPart{Number: part.Number}, nil
	default:
		return CompletedPart{}, apperror.FromStatus(resp.StatusCode, fmt.Errorf("upload part %d of %s: %s", part.Number, key, resp.Status))
	}
}

// FinishSession only verifies completion; GCS commits the object when the
// last byte arrives.
func (s *GCSBackend) FinishSession(ctx context.Context, key, sessionID string, parts []CompletedPart) error {
	done, err := s.IsSessionFinished(ctx, key, sessionID)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("finish session %s: upload incomplete", key)
	}
	return nil
}

func (s *GCSBackend) AbortSession(ctx context.Context, key, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("abort session %s: %w", key, err)
	}
	defer drainClose(resp.Body)

	// 499 is the documented response for a cancelled resumable upload.
	if resp.StatusCode != 499 && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return apperror.FromStatus(resp.StatusCode, fmt.Errorf("abort session %s: %s", key, resp.Status))
	}
	return nil
}

// IsSessionFinished queries the resumable session with an empty PUT. A 308
// means bytes are still missing.
func (s *GCSBackend) IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionID, nil)
	if err != nil {
		return false, err
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", "bytes */*")

	resp, err := s.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("query session %s: %w", key, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return true, nil
	case http.StatusPermanentRedirect:
		return false, nil
	case http.StatusNotFound, http.StatusGone:
		return false, ErrSessionNotFound
	default:
		return false, apperror.FromStatus(resp.StatusCode, fmt.Errorf("query session %s: %s", key, resp.Status))
	}
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
