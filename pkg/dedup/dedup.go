// Package dedup records which inbound message ids have already been handled.
package dedup

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Claimer is an atomic compare-and-set over message ids: the first caller for
// a (channel, messageID) pair gets true, every later caller gets false.
type Claimer interface {
	Claim(ctx context.Context, channel, messageID string) (bool, error)
}

// Deduplicator layers a Redis hot path over durable Postgres records, with an
// in-memory fallback when durable storage is unavailable. A message is only
// reported as a duplicate when an earlier caller actually claimed it.
type Deduplicator struct {
	redis    *RedisStore
	durable  Claimer
	memory   *MemoryStore
	logger   *slog.Logger
	dupes    prometheus.Counter
	degraded prometheus.Counter
}

// Metrics holds the counters a Deduplicator reports to. Both are optional.
type Metrics struct {
	Duplicates prometheus.Counter
	Degraded   prometheus.Counter
}

// New creates a Deduplicator. redis and durable may be nil; memory is required.
func New(redis *RedisStore, durable Claimer, memory *MemoryStore, logger *slog.Logger, m Metrics) *Deduplicator {
	return &Deduplicator{
		redis:    redis,
		durable:  durable,
		memory:   memory,
		logger:   logger,
		dupes:    m.Duplicates,
		degraded: m.Degraded,
	}
}

// Claim reports whether this is the first delivery of messageID on channel.
func (d *Deduplicator) Claim(ctx context.Context, channel, messageID string) (bool, error) {
	// 1. Redis hot path.
	if d.redis != nil {
		isNew, err := d.redis.Claim(ctx, channel, messageID)
		switch {
		case err != nil:
			d.logger.Warn("redis dedup claim failed, falling back to database", "error", err)
		case !isNew:
			d.recordDuplicate()
			return false, nil
		}
	}

	// 2. Durable record.
	if d.durable != nil {
		isNew, err := d.durable.Claim(ctx, channel, messageID)
		if err == nil {
			if !isNew {
				d.recordDuplicate()
			}
			return isNew, nil
		}
		d.logger.Error("durable dedup claim failed, using in-memory fallback",
			"error", err,
			"channel", channel,
			"message_id", messageID,
		)
		if d.degraded != nil {
			d.degraded.Inc()
		}
	}

	// 3. Degraded mode: bounded window of possible reprocessing.
	isNew, err := d.memory.Claim(ctx, channel, messageID)
	if err == nil && !isNew {
		d.recordDuplicate()
	}
	return isNew, err
}

func (d *Deduplicator) recordDuplicate() {
	if d.dupes != nil {
		d.dupes.Inc()
	}
}
