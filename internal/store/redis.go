package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore holds the shared state of the send guard: circuit breaker
// counters and the sliding-window rate limit. Reminders never live here.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	s := &RedisStore{client: redis.NewClient(opts)}
	if err := s.Ping(ctx); err != nil {
		s.client.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying client for the breaker and limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
