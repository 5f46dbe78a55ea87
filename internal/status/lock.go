package status

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "vodpipe:lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker hands out short leases in Redis. A lease expires on its own if the
// holder dies.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// TryLock returns ok=false without blocking when another holder has key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	k := lockPrefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// The lease must be released even when the job ctx is done.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
			logger.FromContext(ctx).Warn("failed to release lock", "key", key, "error", err)
		}
	}
	return unlock, true, nil
}
