package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
)

// Manager maps bucket names to the backend that serves them. Metadata rows
// record the bucket a VOD was written to, so every stage resolves its
// backend through here.
type Manager struct {
	backends      map[string]Backend
	defaultBucket string
	mu            sync.RWMutex
}

func NewManager(defaultBucket string) *Manager {
	return &Manager{
		backends:      make(map[string]Backend),
		defaultBucket: defaultBucket,
	}
}

func (m *Manager) Register(bucket string, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[bucket] = b
}

func (m *Manager) Get(bucket string) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.backends[bucket]
	if !ok {
		return nil, apperror.Wrap(fmt.Errorf("bucket %q", bucket), apperror.ErrInvalidBucket)
	}
	return b, nil
}

func (m *Manager) DefaultBucket() string {
	return m.defaultBucket
}

func (m *Manager) Buckets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck checks every registered backend and returns the first failure.
func (m *Manager) HealthCheck(ctx context.Context) error {
	for _, name := range m.Buckets() {
		b, err := m.Get(name)
		if err != nil {
			return err
		}
		if err := b.HealthCheck(ctx); err != nil {
			return fmt.Errorf("bucket %s: %w", name, err)
		}
	}
	return nil
}
