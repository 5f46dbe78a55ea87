//go:build integration

package status

import (
	"context"
	"testing"
	"time"

	"github.com/orlangure/gnomock"
	redispreset "github.com/orlangure/gnomock/preset/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	container, err := gnomock.Start(redispreset.Preset())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gnomock.Stop(container) })

	rdb := redis.NewClient(&redis.Options{Addr: container.DefaultAddress()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// TestIntegration_CheckerRoundTrip tests Set and Status against redis.
func TestIntegration_CheckerRoundTrip(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := NewChecker(rdb, time.Minute)

	st, err := c.Status(ctx, "vods")
	require.NoError(t, err)
	assert.Equal(t, Up, st)

	require.NoError(t, c.Set(ctx, "vods", Down))
	st, err = c.Status(ctx, "vods")
	require.NoError(t, err)
	assert.Equal(t, Down, st)
}

// TestIntegration_Locker tests exclusive leases.
func TestIntegration_Locker(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	l := NewLocker(rdb)

	unlock, ok, err := l.TryLock(ctx, "clip:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "clip:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	unlock()
	unlock2, ok, err := l.TryLock(ctx, "clip:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()
}
