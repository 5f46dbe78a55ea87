// Package status tracks per-bucket availability flags kept in Redis so
// operators can drain or fail over a bucket without redeploying workers.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	Up       Status = "up"
	Down     Status = "down"
	Failover Status = "failover"
)

const keyPrefix = "vodpipe:bucket-status:"

var known = []string{string(Up), string(Down), string(Failover)}

func Parse(s string) (Status, error) {
	switch Status(s) {
	case Up, Down, Failover:
		return Status(s), nil
	case "":
		return Up, nil
	default:
		return "", fmt.Errorf("unknown bucket status %q", s)
	}
}

func Key(bucket string) string {
	return keyPrefix + bucket
}

// Checker reads bucket flags through a short-lived cache.
type Checker struct {
	rdb   *redis.Client
	cache *ttlcache.Cache[string, Status]
	read  func(ctx context.Context, bucket string) (string, error)
}

// NewChecker returns a Checker. A nil client reports every bucket as up.
func NewChecker(rdb *redis.Client, ttl time.Duration) *Checker {
	c := &Checker{
		rdb: rdb,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Status](ttl),
			ttlcache.WithDisableTouchOnHit[string, Status](),
		),
	}
	c.read = c.readRedis
	return c
}

func (c *Checker) readRedis(ctx context.Context, bucket string) (string, error) {
	if c.rdb == nil {
		return "", nil
	}
	v, err := c.rdb.Get(ctx, Key(bucket)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Status returns the flag for bucket. Read failures are returned uncached so
// the next call retries.
func (c *Checker) Status(ctx context.Context, bucket string) (Status, error) {
	var readErr error
	loader := ttlcache.LoaderFunc[string, Status](
		func(cache *ttlcache.Cache[string, Status], key string) *ttlcache.Item[string, Status] {
			raw, err := c.read(ctx, key)
			if err != nil {
				readErr = err
				return nil
			}
			st, err := Parse(raw)
			if err != nil {
				logger.FromContext(ctx).Warn("ignoring bucket status", "bucket", key, "error", err)
				st = Up
			}
			metrics.SetBucketStatus(key, string(st), known)
			return cache.Set(key, st, ttlcache.DefaultTTL)
		},
	)

	item := c.cache.Get(bucket, ttlcache.WithLoader(loader))
	if item == nil {
		if readErr == nil {
			readErr = errors.New("no status loaded")
		}
		return "", fmt.Errorf("bucket status %s: %w", bucket, readErr)
	}
	return item.Value(), nil
}

// Set stores a flag for bucket and drops the local cached copy.
func (c *Checker) Set(ctx context.Context, bucket string, st Status) error {
	if c.rdb == nil {
		return errors.New("bucket status requires redis")
	}
	if err := c.rdb.Set(ctx, Key(bucket), string(st), 0).Err(); err != nil {
		return fmt.Errorf("set bucket status %s: %w", bucket, err)
	}
	c.cache.Delete(bucket)
	return nil
}
