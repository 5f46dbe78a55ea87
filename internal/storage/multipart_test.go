package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
)

func testUploader(partSize int64) (*MultipartUploader, *[]time.Duration) {
	var mu sync.Mutex
	var sleeps []time.Duration
	u := &MultipartUploader{
		PartSize:    partSize,
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		Concurrency: 1,
		sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			sleeps = append(sleeps, d)
			return nil
		},
		jitter: func(time.Duration) time.Duration { return time.Millisecond },
	}
	return u, &sleeps
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// TestMultipartUploader_Integrity checks that parts reassemble to the input.
func TestMultipartUploader_Integrity(t *testing.T) {
	const partSize = 1024

	tests := []struct {
		name      string
		size      int
		wantParts int
	}{
		{"single byte", 1, 1},
		{"one part", partSize, 1},
		{"exactly three parts", 3 * partSize, 3},
		{"three parts plus one byte", 3*partSize + 1, 4},
	}

	for _, tt := range tests {
		for _, concurrency := range []int{1, 3} {
			t.Run(tt.name, func(t *testing.T) {
				u, _ := testUploader(partSize)
				u.Concurrency = concurrency
				backend := NewMemoryBackend("vods")
				input := pattern(tt.size)

				var progressed int64
				var mu sync.Mutex
				u.Progress = func(n int64) {
					mu.Lock()
					progressed += n
					mu.Unlock()
				}

				id, err := u.Upload(context.Background(), backend, "v/source/video.mp4", "video/mp4", bytes.NewReader(input), int64(len(input)))
				if err != nil {
					t.Fatalf("Upload() error = %v", err)
				}

				got, ok := backend.GetData("v/source/video.mp4")
				if !ok {
					t.Fatal("object not committed")
				}
				if !bytes.Equal(got, input) {
					t.Errorf("reassembled object differs from input (got %d bytes, want %d)", len(got), len(input))
				}
				if parts := backend.SessionParts(id); len(parts) != tt.wantParts {
					t.Errorf("parts = %v, want %d", parts, tt.wantParts)
				}
				if progressed != int64(tt.size) {
					t.Errorf("progress = %d, want %d", progressed, tt.size)
				}
			})
		}
	}
}

// TestMultipartUploader_ZeroLength rejects empty input before any network call.
func TestMultipartUploader_ZeroLength(t *testing.T) {
	u, _ := testUploader(1024)
	backend := NewMemoryBackend("vods")

	_, err := u.Upload(context.Background(), backend, "k", "video/mp4", bytes.NewReader(nil), 0)
	if !apperror.Is(err, apperror.ErrBadRequest) {
		t.Fatalf("Upload() error = %v, want bad request", err)
	}
	if backend.Calls() != 0 {
		t.Errorf("backend calls = %d, want 0", backend.Calls())
	}
}

// TestMultipartUploader_RetriesThenSucceeds checks backoff on transient part failures.
func TestMultipartUploader_RetriesThenSucceeds(t *testing.T) {
	u, sleeps := testUploader(1024)
	backend := NewMemoryBackend("vods")
	backend.PartFailures[2] = 3

	input := pattern(2048)
	if _, err := u.Upload(context.Background(), backend, "k", "video/mp4", bytes.NewReader(input), int64(len(input))); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	want := []time.Duration{
		10*time.Millisecond + time.Millisecond,
		20*time.Millisecond + time.Millisecond,
		40*time.Millisecond + time.Millisecond,
	}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

// TestMultipartUploader_RetriesExhausted aborts the session without committing.
func TestMultipartUploader_RetriesExhausted(t *testing.T) {
	u, _ := testUploader(1024)
	backend := NewMemoryBackend("vods")
	backend.PartFailures[1] = 5

	input := pattern(3000)
	_, err := u.Upload(context.Background(), backend, "k", "video/mp4", bytes.NewReader(input), int64(len(input)))
	if !errors.Is(err, ErrPartFailed) {
		t.Fatalf("Upload() error = %v, want ErrPartFailed", err)
	}
	if _, ok := backend.GetData("k"); ok {
		t.Error("object must not be committed after a failed part")
	}
}

// TestMultipartUploader_Backoff checks the exponential schedule.
func TestMultipartUploader_Backoff(t *testing.T) {
	u := &MultipartUploader{BaseDelay: 100 * time.Millisecond, jitter: func(time.Duration) time.Duration { return 0 }}

	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond} {
		if got := u.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}

	u.jitter = nil
	for i := 0; i < 20; i++ {
		got := u.Backoff(1)
		if got < 200*time.Millisecond || got >= 300*time.Millisecond {
			t.Fatalf("Backoff(1) with jitter = %v, want [200ms, 300ms)", got)
		}
	}
}

// TestMultipartUploader_UploadFile picks single or multipart upload by size.
func TestMultipartUploader_UploadFile(t *testing.T) {
	dir := t.TempDir()
	u, _ := testUploader(1024)
	backend := NewMemoryBackend("vods")

	small := filepath.Join(dir, "small.mp4")
	if err := os.WriteFile(small, pattern(100), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := u.UploadFile(context.Background(), backend, "small", small, "video/mp4"); err != nil {
		t.Fatalf("UploadFile(small) error = %v", err)
	}

	large := filepath.Join(dir, "large.mp4")
	if err := os.WriteFile(large, pattern(4000), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := u.UploadFile(context.Background(), backend, "large", large, "video/mp4"); err != nil {
		t.Fatalf("UploadFile(large) error = %v", err)
	}
	got, _ := backend.GetData("large")
	if !bytes.Equal(got, pattern(4000)) {
		t.Error("large upload differs from input")
	}

	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := u.UploadFile(context.Background(), backend, "empty", empty, "video/mp4"); !apperror.Is(err, apperror.ErrBadRequest) {
		t.Errorf("UploadFile(empty) error = %v, want bad request", err)
	}
}

// TestMultipartUploader_UploadFileRetries retries a single-part upload with backoff.
func TestMultipartUploader_UploadFileRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.mp4")
	if err := os.WriteFile(path, pattern(500), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		failures   int
		wantErr    bool
		wantSleeps int
	}{
		{"fails once", 1, false, 1},
		{"fails four times", 4, false, 4},
		{"exhausted", 5, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, sleeps := testUploader(1024)
			backend := NewMemoryBackend("vods")
			backend.UploadFailures = tt.failures

			err := u.UploadFile(context.Background(), backend, "small", path, "video/mp4")
			if tt.wantErr {
				if !errors.Is(err, ErrPartFailed) {
					t.Fatalf("UploadFile() error = %v, want ErrPartFailed", err)
				}
				if _, ok := backend.GetData("small"); ok {
					t.Error("object must not exist after exhausted retries")
				}
			} else {
				if err != nil {
					t.Fatalf("UploadFile() error = %v", err)
				}
				got, _ := backend.GetData("small")
				if !bytes.Equal(got, pattern(500)) {
					t.Error("retried upload differs from input")
				}
			}
			if len(*sleeps) != tt.wantSleeps {
				t.Errorf("sleeps = %v, want %d", *sleeps, tt.wantSleeps)
			}
			if backend.Calls() != int64(min(tt.failures+1, 5)) {
				t.Errorf("backend calls = %d, want %d", backend.Calls(), min(tt.failures+1, 5))
			}
		})
	}
}

// TestMultipartUploader_UploadFileCancelled stops retrying once the context is done.
func TestMultipartUploader_UploadFileCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.mp4")
	if err := os.WriteFile(path, pattern(10), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	u, _ := testUploader(1024)
	u.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	backend := NewMemoryBackend("vods")
	backend.UploadFailures = 1

	err := u.UploadFile(ctx, backend, "small", path, "video/mp4")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("UploadFile() error = %v, want context.Canceled", err)
	}
	if backend.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.Calls())
	}
}
