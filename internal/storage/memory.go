package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is an in-memory Backend for tests. It supports sessions,
// public flags and injected part failures, and is safe for concurrent use.
type MemoryBackend struct {
	bucket   string
	files    map[string]memoryFile
	sessions map[string]*memorySession
	mu       sync.RWMutex

	// PartFailures makes the next N attempts of a part number fail.
	PartFailures map[int32]int
	// UploadFailures makes the next N whole-object uploads fail after the
	// reader was consumed.
	UploadFailures int
	calls          atomic.Int64
}

type memoryFile struct {
	data        []byte
	contentType string
	public      bool
}

type memorySession struct {
	key         string
	contentType string
	parts       map[int32][]byte
	finished    bool
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend(bucket string) *MemoryBackend {
	return &MemoryBackend{
		bucket:       bucket,
		files:        make(map[string]memoryFile),
		sessions:     make(map[string]*memorySession),
		PartFailures: make(map[int32]int),
	}
}

func (s *MemoryBackend) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return ErrInvalidKey
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UploadFailures > 0 {
		s.UploadFailures--
		return fmt.Errorf("injected failure for %s", key)
	}
	s.files[key] = memoryFile{data: data, contentType: contentType}
	return nil
}

func (s *MemoryBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(file.data)), nil
}

func (s *MemoryBackend) Delete(ctx context.Context, key string) error {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

func (s *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.files[key]
	return exists, nil
}

func (s *MemoryBackend) PublicURL(key string) string {
	return fmt.Sprintf("memory://%s/%s", s.bucket, key)
}

func (s *MemoryBackend) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.calls.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.files[key]; !exists {
		return "", ErrNotFound
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", s.bucket, key, int(expiry.Seconds())), nil
}

func (s *MemoryBackend) MakePublic(ctx context.Context, key string) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	file, exists := s.files[key]
	if !exists {
		return ErrNotFound
	}
	file.public = true
	s.files[key] = file
	return nil
}

func (s *MemoryBackend) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryBackend) StartSession(ctx context.Context, key, contentType string) (string, error) {
	s.calls.Add(1)
	if !validKey(key) {
		return "", ErrInvalidKey
	}

	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &memorySession{key: key, contentType: contentType, parts: make(map[int32][]byte)}
	return id, nil
}

func (s *MemoryBackend) UploadPart(ctx context.Context, key, sessionID string, part Part, data io.Reader) (CompletedPart, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return CompletedPart{}, err
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return CompletedPart{}, fmt.Errorf("read part: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.PartFailures[part.Number]; n > 0 {
		s.PartFailures[part.Number] = n - 1
		return CompletedPart{}, fmt.Errorf("injected failure for part %d", part.Number)
	}

	sess, ok := s.sessions[sessionID]
	if !ok || sess.key != key {
		return CompletedPart{}, ErrSessionNotFound
	}
	sess.parts[part.Number] = buf
	return CompletedPart{Number: part.Number, ETag: fmt.Sprintf("etag-%d", part.Number)}, nil
}

func (s *MemoryBackend) FinishSession(ctx context.Context, key, sessionID string, parts []CompletedPart) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.key != key {
		return ErrSessionNotFound
	}

	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := sess.parts[p.Number]
		if !ok {
			return fmt.Errorf("finish session: part %d was never uploaded", p.Number)
		}
		buf.Write(data)
	}

	s.files[key] = memoryFile{data: buf.Bytes(), contentType: sess.contentType}
	sess.finished = true
	return nil
}

func (s *MemoryBackend) AbortSession(ctx context.Context, key, sessionID string) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryBackend) IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error) {
	s.calls.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	return sess.finished, nil
}

// SetSession registers a session with a fixed id (test helper).
func (s *MemoryBackend) SetSession(id, key string, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &memorySession{key: key, parts: make(map[int32][]byte), finished: finished}
}

// SessionParts returns the uploaded part numbers of a session in order (test helper).
func (s *MemoryBackend) SessionParts(id string) []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	nums := make([]int32, 0, len(sess.parts))
	for n := range sess.parts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// GetData returns the raw data for a key (test helper).
func (s *MemoryBackend) GetData(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return nil, false
	}
	return file.data, true
}

// GetContentType returns the content type for a key (test helper).
func (s *MemoryBackend) GetContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return "", false
	}
	return file.contentType, true
}

// IsPublic reports whether MakePublic was called for key (test helper).
func (s *MemoryBackend) IsPublic(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files[key].public
}

// Put stores data directly without counting a call (test helper).
func (s *MemoryBackend) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = memoryFile{data: data}
}

// Calls returns the number of backend operations performed (test helper).
func (s *MemoryBackend) Calls() int64 {
	return s.calls.Load()
}

// Count returns the number of stored files (test helper).
func (s *MemoryBackend) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
