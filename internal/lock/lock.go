// Package lock serializes fetches of the same video across processes that
// share a cache directory. Within one process the materializer already
// collapses concurrent misses; the lock covers replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/snapetech/tubecache/internal/logger"
)

// Locker acquires an exclusive lock on key. unlock is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Noop is the single-process Locker: every Lock succeeds immediately.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// KeyFor is the lock key for a video ID.
func KeyFor(id string) string { return "tubecache:fetch:" + id }

// Delete the key only if it still holds our token, so a lock that expired and
// was taken by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a SET NX PX lock with a random token per holder.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	log    *logger.Logger
}

// NewRedis returns a Redis locker. ttl bounds how long a crashed holder blocks others.
func NewRedis(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		poll:   250 * time.Millisecond,
		log:    log.WithComponent("lock"),
	}
}

// Lock blocks until key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	waited := false
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			if waited {
				r.log.Debug("lock acquired after wait", "key", key)
			}
			return func() { r.release(key, token) }, nil
		}
		if !waited {
			r.log.Debug("lock held elsewhere, waiting", "key", key)
			waited = true
		}
		t := time.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.log.Warn("lock release failed", "key", key, "err", err)
		return
	}
	if n == 0 {
		r.log.Warn("lock expired before release", "key", key, "ttl", r.ttl)
	}
}
