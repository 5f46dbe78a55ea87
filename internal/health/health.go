package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type Checker struct {
	checks  map[string]CheckFunc
	timeout time.Duration
}

func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc), timeout: 5 * time.Second}
}

func (c *Checker) With(name string, fn CheckFunc) *Checker {
	c.checks[name] = fn
	return c
}

func (c *Checker) WithDatabase(pool *pgxpool.Pool) *Checker {
	if pool == nil {
		return c
	}
	return c.With("database", pool.Ping)
}

func (c *Checker) WithRedis(client *redis.Client) *Checker {
	if client == nil {
		return c
	}
	return c.With("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func (c *Checker) CheckAll(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	components := make([]ComponentHealth, 0, len(c.checks))

	for name, fn := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			comp := check(ctx, name, fn)
			mu.Lock()
			components = append(components, comp)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	status := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
	}

	return HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	}
}

func check(ctx context.Context, name string, fn CheckFunc) ComponentHealth {
	start := time.Now()
	err := fn(ctx)
	comp := ComponentHealth{
		Name:    name,
		Status:  StatusHealthy,
		Latency: time.Since(start).Milliseconds(),
	}
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	}
	return comp
}

func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func ReadinessHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
