package tenant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// InvalidationChannel is the Redis pub/sub channel on which the admin surface
// announces tenant or channel changes. Payloads are a tenant id or a channel
// address.
const InvalidationChannel = "slotowl:tenant:changed"

// Lookup loads the tenant bound to a channel address.
type Lookup interface {
	LookupByChannel(ctx context.Context, address string) (*Tenant, error)
}

type cacheEntry struct {
	tenant  *Tenant // nil for a cached miss
	expires time.Time
}

// Resolver maps channel addresses to tenants through a TTL cache. Concurrent
// misses for the same address share one lookup.
type Resolver struct {
	lookup Lookup
	ttl    time.Duration
	negTTL time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewResolver creates a Resolver. Unknown addresses are cached for a fifth
// of ttl.
func NewResolver(lookup Lookup, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		lookup: lookup,
		ttl:    ttl,
		negTTL: ttl / 5,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// Resolve returns the active tenant for address, or ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, address string) (*Tenant, error) {
	if address == "" {
		return nil, ErrNotFound
	}

	r.mu.RLock()
	e, ok := r.cache[address]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expires) {
		if e.tenant == nil {
			return nil, ErrNotFound
		}
		return e.tenant, nil
	}

	v, err, _ := r.group.Do(address, func() (any, error) {
		t, err := r.lookup.LookupByChannel(ctx, address)
		switch {
		case errors.Is(err, ErrNotFound):
			r.store(address, nil, r.negTTL)
			return nil, ErrNotFound
		case err != nil:
			return nil, err
		}
		r.store(address, t, r.ttl)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tenant), nil
}

func (r *Resolver) store(address string, t *Tenant, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[address] = cacheEntry{tenant: t, expires: r.now().Add(ttl)}
	r.mu.Unlock()
}

// Invalidate evicts cache entries matching a channel address or a tenant id.
// An empty key clears the whole cache.
func (r *Resolver) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == "" {
		clear(r.cache)
		return
	}
	for addr, e := range r.cache {
		if addr == key || (e.tenant != nil && e.tenant.ID.String() == key) {
			delete(r.cache, addr)
		}
	}
}

// Listen evicts cache entries on messages published to InvalidationChannel.
// It blocks until ctx is cancelled.
func (r *Resolver) Listen(ctx context.Context, rdb *redis.Client) error {
	pubsub := rdb.Subscribe(ctx, InvalidationChannel)
	defer pubsub.Close()

	r.logger.Info("tenant cache invalidation listener started", "channel", InvalidationChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.logger.Debug("tenant cache invalidated", "key", msg.Payload)
			r.Invalidate(msg.Payload)
		}
	}
}
