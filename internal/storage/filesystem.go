package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const sessionDir = ".sessions"

var _ Backend = (*FilesystemBackend)(nil)

// FilesystemBackend keeps objects as files under root/bucket. Sessions are
// directories of numbered part files that get concatenated on finish.
type FilesystemBackend struct {
	base   string
	bucket string
	config *Config
}

func NewFilesystemBackend(cfg *Config) (*FilesystemBackend, error) {
	base := filepath.Join(cfg.Root, cfg.Bucket)
	if err := os.MkdirAll(filepath.Join(base, sessionDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FilesystemBackend{base: base, bucket: cfg.Bucket, config: cfg}, nil
}

func (s *FilesystemBackend) path(key string) (string, error) {
	if !validKey(key) || strings.Contains(key, "..") || strings.HasPrefix(key, sessionDir) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.base, filepath.FromSlash(key)), nil
}

func (s *FilesystemBackend) sessionPath(sessionID string) (string, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", ErrSessionNotFound
	}
	return filepath.Join(s.base, sessionDir, sessionID), nil
}

func (s *FilesystemBackend) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	return writeAtomically(dst, reader)
}

func (s *FilesystemBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return f, nil
}

func (s *FilesystemBackend) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	return true, nil
}

func (s *FilesystemBackend) PublicURL(key string) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.base, filepath.FromSlash(key)))
}

// SignedURL returns a local path; ffmpeg reads it directly.
func (s *FilesystemBackend) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return p, nil
}

func (s *FilesystemBackend) MakePublic(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Chmod(p, 0o644); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("make public %s: %w", key, err)
	}
	return nil
}

func (s *FilesystemBackend) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.base); err != nil {
		return fmt.Errorf("storage root: %w", err)
	}
	return nil
}

func (s *FilesystemBackend) StartSession(ctx context.Context, key, contentType string) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	id := uuid.NewString()
	dir := filepath.Join(s.base, sessionDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "key"), []byte(key), 0o600); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *FilesystemBackend) UploadPart(ctx context.Context, key, sessionID string, part Part, data io.Reader) (CompletedPart, error) {
	dir, err := s.sessionPath(sessionID)
	if err != nil {
		return CompletedPart{}, err
	}
	if _, err := os.Stat(dir); err != nil {
		return CompletedPart{}, ErrSessionNotFound
	}
	name := filepath.Join(dir, "part-"+strconv.Itoa(int(part.Number)))
	if err := writeAtomically(name, data); err != nil {
		return CompletedPart{}, err
	}
	return CompletedPart{Number: part.Number, ETag: part.MD5}, nil
}

func (s *FilesystemBackend) FinishSession(ctx context.Context, key, sessionID string, parts []CompletedPart) error {
	dir, err := s.sessionPath(sessionID)
	if err != nil {
		return err
	}
	dst, err := s.path(key)
	if err != nil {
		return err
	}

	readers := make([]io.Reader, 0, len(parts))
	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range parts {
		f, err := os.Open(filepath.Join(dir, "part-"+strconv.Itoa(int(p.Number))))
		if err != nil {
			return fmt.Errorf("finish session: part %d: %w", p.Number, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	if err := writeAtomically(dst, io.MultiReader(readers...)); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cleanup session: %w", err)
	}
	return nil
}

func (s *FilesystemBackend) AbortSession(ctx context.Context, key, sessionID string) error {
	dir, err := s.sessionPath(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *FilesystemBackend) IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error) {
	dir, err := s.sessionPath(sessionID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err == nil {
		return false, nil
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

func writeAtomically(dst string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierror.Append(err, os.Remove(tmp.Name())).ErrorOrNil()
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}
