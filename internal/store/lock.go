package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deepresearch/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

func (r *RedisStore) lockKey(id string) string { return r.prefix + "lock:" + id }

// Lock claims the run of id with SET NX. The lease is extended every ttl/3
// while held, so a crashed owner releases it within ttl.
func (r *RedisStore) Lock(ctx context.Context, id string, ttl time.Duration) (func(), bool, error) {
	key := r.lockKey(id)
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		logging.StoreError("Failed to lock session %s: %v", id, err)
		return nil, false, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	if !ok {
		logging.StoreDebug("Session %s is locked by another owner", id)
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := extendLock.Run(context.Background(), r.rdb, []string{key}, token, ttl.Milliseconds()).Err(); err != nil {
					logging.StoreWarn("Failed to extend lock on session %s: %v", id, err)
				}
			}
		}
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := releaseLock.Run(context.Background(), r.rdb, []string{key}, token).Err(); err != nil {
				logging.StoreWarn("Failed to release lock on session %s: %v", id, err)
			}
		})
	}
	return unlock, true, nil
}
