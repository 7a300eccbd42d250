package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix is the prefix for all dedup keys in Redis.
const redisKeyPrefix = "slotowl:dedup:"

// RedisStore claims message ids with SET NX and a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a RedisStore. Keys expire after ttl.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// redisKey builds the dedup key for a channel + message id.
func redisKey(channel, messageID string) string {
	return redisKeyPrefix + channel + ":" + messageID
}

// Claim implements Claimer.
func (s *RedisStore) Claim(ctx context.Context, channel, messageID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, redisKey(channel, messageID), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
