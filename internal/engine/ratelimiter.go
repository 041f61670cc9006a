package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/redis/go-redis/v9"
)

const rateWindow = time.Second

// RateLimiter is a sliding-window limiter shared through Redis. Each allowed
// send is a member of a sorted set scored by its timestamp in milliseconds.
type RateLimiter struct {
	redisClient   *redis.Client
	logger        *slog.Logger
	clock         clock.Clock
	script        *redis.Script
	retryInterval time.Duration
}

// The script trims entries older than the window, then admits the request
// only while the remaining count is below the limit.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, math.floor(window / 1000) + 1)
    return 1
end
return 0
`)

type RateLimiterOption func(*RateLimiter)

// WithLimiterClock overrides the clock used to score window entries.
func WithLimiterClock(c clock.Clock) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.clock = c
	}
}

// WithRetryInterval sets how long Wait sleeps between attempts.
func WithRetryInterval(d time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.retryInterval = d
		}
	}
}

// NewRateLimiter creates a rate limiter backed by Redis.
func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		redisClient:   redisClient,
		logger:        logger,
		clock:         clock.NewRealClock(),
		script:        slidingWindowScript,
		retryInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

func rlKey(provider string) string {
	return fmt.Sprintf("rl:mail:%s", provider)
}

// Allow reports whether one more send through provider fits in the current
// one-second window. limit <= 0 disables limiting. Redis errors fail open.
func (rl *RateLimiter) Allow(ctx context.Context, provider string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := rl.clock.Now()
	member := fmt.Sprintf("%d:%d", now.UnixMilli(), time.Now().UnixNano())

	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(provider)},
		now.UnixMilli(), rateWindow.Milliseconds(), limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "provider", provider)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "provider", provider, "limit", limit)
		return false
	}
	return true
}

// Wait blocks until a send through provider is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, provider string, limit int) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for send slot: %w", err)
		}
		if rl.Allow(ctx, provider, limit) {
			return nil
		}

		timer := time.NewTimer(rl.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for send slot: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
