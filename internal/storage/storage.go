package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var (
	ErrNotFound        = errors.New("storage: file not found")
	ErrAlreadyExists   = errors.New("storage: file already exists")
	ErrInvalidKey      = errors.New("storage: invalid key")
	ErrAccessDenied    = errors.New("storage: access denied")
	ErrSessionNotFound = errors.New("storage: upload session not found")
)

// Backend is the capability set the pipeline needs from one bucket.
// Implementations exist for S3, S3-compatible servers, GCS and the local
// filesystem; callers never depend on a concrete backend.
type Backend interface {
	SessionBackend

	Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	MakePublic(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// SessionBackend exposes multipart (resumable) upload sessions.
type SessionBackend interface {
	StartSession(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, sessionID string, part Part, data io.Reader) (CompletedPart, error)
	FinishSession(ctx context.Context, key, sessionID string, parts []CompletedPart) error
	AbortSession(ctx context.Context, key, sessionID string) error
	// IsSessionFinished reports whether every byte of the session has been
	// committed to the object. Unknown sessions return ErrSessionNotFound.
	IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error)
}

// Part describes one slice of a multipart upload. Number starts at 1.
type Part struct {
	Number int32
	Offset int64
	Size   int64
	Total  int64
	MD5    string
}

func (p Part) Last() bool {
	return p.Offset+p.Size >= p.Total
}

type CompletedPart struct {
	Number int32
	ETag   string
}

type Config struct {
	Bucket          string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UseSSL          bool
	Region          string
	Root            string
	PublicBaseURL   string
	CredentialsFile string
}

// DownloadToFile streams key into path and returns the number of bytes written.
func DownloadToFile(ctx context.Context, b Backend, key, path string) (int64, error) {
	rc, err := b.Download(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("download %s: %w", key, err)
	}
	return n, nil
}

func validKey(key string) bool {
	return key != "" && key[0] != '/'
}
