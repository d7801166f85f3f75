package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// reserveScript atomically evicts expired entries, then either records a new
// request or returns the milliseconds until the oldest one expires.
//
// KEYS[1] window key; ARGV: now (ms), window (ms), limit, member.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return 0
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
	wait = 1
end
return wait
`)

// RedisLimiter shares one quota window between every process pointed at the
// same Redis key. The window is a sorted set of request timestamps.
type RedisLimiter struct {
	redis  *redis.Client
	key    string
	quota  Quota
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisLimiter creates a limiter whose window lives under
// RedisKeyPrefix+name.
func NewRedisLimiter(redisClient *redis.Client, name string, q Quota, logger zerolog.Logger) (*RedisLimiter, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if name == "" {
		return nil, fmt.Errorf("quota name is required")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		redis:  redisClient,
		key:    RedisKeyPrefix + name,
		quota:  q,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Key returns the Redis key holding the window.
func (r *RedisLimiter) Key() string {
	return r.key
}

// Reserve implements Limiter.
func (r *RedisLimiter) Reserve(ctx context.Context) (time.Duration, error) {
	now := r.now().UnixMilli()

	waitMillis, err := reserveScript.Run(ctx, r.redis, []string{r.key},
		now, r.quota.Window.Milliseconds(), r.quota.Limit, uuid.NewString()).Int64()
	if err != nil {
		return 0, fmt.Errorf("run reserve script: %w", err)
	}

	if waitMillis > 0 {
		r.logger.Debug().
			Str("key", r.key).
			Int64("wait_ms", waitMillis).
			Msg("Shared quota exhausted")
		return time.Duration(waitMillis) * time.Millisecond, nil
	}
	return 0, nil
}

// State reads the current window usage from Redis.
func (r *RedisLimiter) State(ctx context.Context) (QuotaState, error) {
	now := r.now()
	lower := fmt.Sprintf("(%d", now.Add(-r.quota.Window).UnixMilli())

	used, err := r.redis.ZCount(ctx, r.key, lower, "+inf").Result()
	if err != nil {
		return QuotaState{}, fmt.Errorf("count quota window: %w", err)
	}

	state := QuotaState{
		Used:   int(used),
		Limit:  r.quota.Limit,
		Window: r.quota.Window,
	}

	if used > 0 {
		oldest, err := r.redis.ZRangeByScoreWithScores(ctx, r.key, &redis.ZRangeBy{
			Min:   lower,
			Max:   "+inf",
			Count: 1,
		}).Result()
		if err != nil {
			return QuotaState{}, fmt.Errorf("read oldest quota entry: %w", err)
		}
		if len(oldest) > 0 {
			state.OldestAt = time.UnixMilli(int64(oldest[0].Score))
		}
	}

	quotaUsed.WithLabelValues("redis").Set(float64(state.Used))
	return state, nil
}

// Reset clears the shared window.
func (r *RedisLimiter) Reset(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("reset quota window: %w", err)
	}
	return nil
}
