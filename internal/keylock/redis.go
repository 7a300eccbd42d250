package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "slotowl:lock:"

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Distributed holds the in-process lock for a key and then a Redis lease on
// it, so replicas sharing the Redis instance are serialized as well. The
// lease is renewed while held.
type Distributed struct {
	local  *Local
	rdb    *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewDistributed creates a Distributed locker with leases of ttl.
func NewDistributed(local *Local, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Distributed {
	return &Distributed{
		local:  local,
		rdb:    rdb,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

// Lock implements Locker.
func (d *Distributed) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := d.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	rkey := redisKeyPrefix + key
	token := uuid.NewString()
	if err := d.acquire(ctx, rkey, token); err != nil {
		unlockLocal()
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go d.renew(rkey, token, stop, done)

	return func() {
		close(stop)
		<-done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, d.rdb, []string{rkey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			d.logger.Warn("releasing lock lease", "key", key, "error", err)
		}
		unlockLocal()
	}, nil
}

func (d *Distributed) acquire(ctx context.Context, rkey, token string) error {
	ticker := time.NewTicker(d.retry)
	defer ticker.Stop()

	for {
		ok, err := d.rdb.SetNX(ctx, rkey, token, d.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquiring lock lease: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Distributed) renew(rkey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.ttl/3)
			err := renewScript.Run(ctx, d.rdb, []string{rkey}, token, d.ttl.Milliseconds()).Err()
			cancel()
			if err != nil {
				d.logger.Warn("renewing lock lease", "key", rkey, "error", err)
			}
		}
	}
}
