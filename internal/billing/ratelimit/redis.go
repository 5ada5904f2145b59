package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "circular:ratelimit:"

// RedisLimiter keeps each key's hits in a sorted set scored by arrival time.
// Replicas sharing the client share the budget.
type RedisLimiter struct {
	client *redis.Client
	limit  Limit
	now    func() time.Time
}

// NewRedisLimiter returns a RedisLimiter enforcing limit.
func NewRedisLimiter(client *redis.Client, limit Limit) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit.withDefaults(), now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	redisKey := keyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-l.limit.Window).UnixNano(), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
	count := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window for %s: %w", key, err)
	}
	if count.Val() >= int64(l.limit.Requests) {
		return false, nil
	}

	// Rejected requests are not recorded, matching Window.
	pipe = l.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: ulid.Make().String()})
	pipe.Expire(ctx, redisKey, l.limit.Window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("record rate limit hit for %s: %w", key, err)
	}
	return true, nil
}
