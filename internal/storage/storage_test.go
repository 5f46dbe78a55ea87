package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
)

// TestMemoryBackend_Upload tests the Upload method.
func TestMemoryBackend_Upload(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		content     string
		contentType string
		wantErr     error
	}{
		{
			name:        "upload video segment",
			key:         "c0ffee/source/video.mp4",
			content:     "\x00\x00\x00\x18ftypmp42",
			contentType: "video/mp4",
		},
		{
			name:        "upload thumbnail",
			key:         "c0ffee/source/thumbnail.jpg",
			content:     "\xff\xd8\xff\xe0",
			contentType: "image/jpeg",
		},
		{
			name:        "upload with empty key",
			key:         "",
			content:     "content",
			contentType: "video/mp4",
			wantErr:     ErrInvalidKey,
		},
		{
			name:        "upload with absolute key",
			key:         "/etc/passwd",
			content:     "content",
			contentType: "text/plain",
			wantErr:     ErrInvalidKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewMemoryBackend("vods")
			err := backend.Upload(context.Background(), tt.key, strings.NewReader(tt.content), tt.contentType, int64(len(tt.content)))

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Upload() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr == nil {
				data, exists := backend.GetData(tt.key)
				if !exists {
					t.Fatal("Upload() file not stored")
				}
				if string(data) != tt.content {
					t.Errorf("Upload() stored content = %q, want %q", string(data), tt.content)
				}
				ct, _ := backend.GetContentType(tt.key)
				if ct != tt.contentType {
					t.Errorf("Upload() content type = %q, want %q", ct, tt.contentType)
				}
			}
		})
	}
}

// TestMemoryBackend_Download tests the Download method.
func TestMemoryBackend_Download(t *testing.T) {
	backend := NewMemoryBackend("vods")
	backend.Put("a/source/fastify.mp4", []byte("fast"))

	rc, err := backend.Download(context.Background(), "a/source/fastify.mp4")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if string(data) != "fast" {
		t.Errorf("Download() = %q", data)
	}

	if _, err := backend.Download(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download(missing) error = %v, want ErrNotFound", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := backend.Download(ctx, "a/source/fastify.mp4"); !errors.Is(err, context.Canceled) {
		t.Errorf("Download() with canceled context error = %v", err)
	}
}

// TestMemoryBackend_MakePublic tests public flags on stored objects.
func TestMemoryBackend_MakePublic(t *testing.T) {
	backend := NewMemoryBackend("vods")
	backend.Put("k", []byte("v"))

	if backend.IsPublic("k") {
		t.Fatal("object should start private")
	}
	if err := backend.MakePublic(context.Background(), "k"); err != nil {
		t.Fatalf("MakePublic() error = %v", err)
	}
	if !backend.IsPublic("k") {
		t.Error("object should be public")
	}
	if err := backend.MakePublic(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MakePublic(missing) error = %v", err)
	}
}

// TestMemoryBackend_Sessions tests session completion reporting.
func TestMemoryBackend_Sessions(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("vods")

	backend.SetSession("s1", "v/source/video.mp4", false)
	done, err := backend.IsSessionFinished(ctx, "v/source/video.mp4", "s1")
	if err != nil || done {
		t.Errorf("IsSessionFinished(s1) = %v, %v; want false, nil", done, err)
	}

	if _, err := backend.IsSessionFinished(ctx, "v/source/video.mp4", "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("IsSessionFinished(nope) error = %v", err)
	}

	id, err := backend.StartSession(ctx, "v/source/video.mp4", "video/mp4")
	if err != nil {
		t.Fatal(err)
	}
	cp, err := backend.UploadPart(ctx, "v/source/video.mp4", id, Part{Number: 1, Size: 3, Total: 3}, strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.FinishSession(ctx, "v/source/video.mp4", id, []CompletedPart{cp}); err != nil {
		t.Fatal(err)
	}
	done, err = backend.IsSessionFinished(ctx, "v/source/video.mp4", id)
	if err != nil || !done {
		t.Errorf("IsSessionFinished() = %v, %v; want true, nil", done, err)
	}
}

// TestManager tests bucket resolution.
func TestManager(t *testing.T) {
	m := NewManager("primary")
	primary := NewMemoryBackend("primary")
	m.Register("primary", primary)
	m.Register("archive", NewMemoryBackend("archive"))

	b, err := m.Get("primary")
	if err != nil {
		t.Fatalf("Get(primary) error = %v", err)
	}
	if b != primary {
		t.Error("Get(primary) returned the wrong backend")
	}

	if _, err := m.Get("unknown"); !apperror.Is(err, apperror.ErrInvalidBucket) {
		t.Errorf("Get(unknown) error = %v, want invalid bucket", err)
	}

	if got := m.Buckets(); len(got) != 2 || got[0] != "archive" || got[1] != "primary" {
		t.Errorf("Buckets() = %v", got)
	}
	if m.DefaultBucket() != "primary" {
		t.Errorf("DefaultBucket() = %q", m.DefaultBucket())
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// TestDownloadToFile tests streaming an object to disk.
func TestDownloadToFile(t *testing.T) {
	backend := NewMemoryBackend("vods")
	backend.Put("v/source/video.ts", []byte("transport stream"))

	path := filepath.Join(t.TempDir(), "input.ts")
	n, err := DownloadToFile(context.Background(), backend, "v/source/video.ts", path)
	if err != nil {
		t.Fatalf("DownloadToFile() error = %v", err)
	}
	if n != int64(len("transport stream")) {
		t.Errorf("DownloadToFile() n = %d", n)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "transport stream" {
		t.Errorf("file content = %q", data)
	}

	if _, err := DownloadToFile(context.Background(), backend, "missing", path); !errors.Is(err, ErrNotFound) {
		t.Errorf("DownloadToFile(missing) error = %v", err)
	}
}

// TestMemoryBackend_SignedURL tests signed url generation.
func TestMemoryBackend_SignedURL(t *testing.T) {
	backend := NewMemoryBackend("vods")
	backend.Put("k", []byte("v"))

	u, err := backend.SignedURL(context.Background(), "k", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(u, "expires=3600") {
		t.Errorf("SignedURL() = %q", u)
	}
	if _, err := backend.SignedURL(context.Background(), "missing", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("SignedURL(missing) error = %v", err)
	}
}
