package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/redis/go-redis/v9"
)

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"

	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// CircuitBreaker tracks consecutive send failures per email provider in
// Redis, so every process sending through the same provider shares one view.
//
// Closed: sends go through and failures are counted.
// Open: sends are rejected until the cooldown has passed since the last failure.
// Half-open: trial sends are allowed. A success closes the circuit, a failure reopens it.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	clock            clock.Clock
	failureThreshold int
	cooldownPeriod   time.Duration
}

// CircuitBreakerState is the breaker state as reported on the dashboard.
type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before a trial request.
func WithCooldown(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.cooldownPeriod = d
		}
	}
}

// WithBreakerClock overrides the clock used for cooldown timing.
func WithBreakerClock(c clock.Clock) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.clock = c
	}
}

// NewCircuitBreaker creates a circuit breaker backed by Redis.
func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		clock:            clock.NewRealClock(),
		failureThreshold: defaultFailureThreshold,
		cooldownPeriod:   defaultCooldown,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func cbKey(provider string) string {
	return fmt.Sprintf("cb:mail:%s", provider)
}

// AllowRequest reports the provider's circuit state and whether a send may
// proceed. Redis errors leave the circuit closed.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, provider string) (string, bool) {
	key := cbKey(provider)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return StateClosed, true
	}

	switch data["state"] {
	case StateOpen:
		if !cb.cooledDown(data["last_failed_at"]) {
			return StateOpen, false
		}
		if err := cb.redisClient.HSet(ctx, key, "state", StateHalfOpen).Err(); err != nil {
			cb.logger.Error("failed to move circuit to half-open", "error", err, "provider", provider)
		}
		cb.logger.Info("circuit breaker half-open", "provider", provider)
		return StateHalfOpen, true

	case StateHalfOpen:
		return StateHalfOpen, true

	default:
		return StateClosed, true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, provider string) {
	key := cbKey(provider)

	prev, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	if err := cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0).Err(); err != nil {
		cb.logger.Error("failed to record circuit breaker success", "error", err, "provider", provider)
		return
	}

	if prev == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "provider", provider)
	}
}

// RecordFailure counts a failed send and opens the circuit once the
// threshold is reached, or immediately when a half-open trial fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, provider string) {
	key := cbKey(provider)

	var incr *redis.IntCmd
	var state *redis.StringCmd
	_, err := cb.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "failures", 1)
		pipe.HSet(ctx, key, "last_failed_at", cb.clock.Now().Unix())
		state = pipe.HGet(ctx, key, "state")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		cb.logger.Error("failed to record circuit breaker failure", "error", err, "provider", provider)
		return
	}

	failures := incr.Val()
	switch {
	case state.Val() == StateHalfOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker re-opened (half-open trial failed)", "provider", provider)
	case state.Val() != StateOpen && failures >= int64(cb.failureThreshold):
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker opened",
			"provider", provider,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state.Val() == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the provider's circuit state without changing it.
func (cb *CircuitBreaker) GetState(ctx context.Context, provider string) CircuitBreakerState {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(provider)).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}
	if state == StateOpen && cb.cooledDown(data["last_failed_at"]) {
		state = StateHalfOpen
	}

	result := CircuitBreakerState{State: state, Failures: failures}
	if lastFailed, _ := strconv.ParseInt(data["last_failed_at"], 10, 64); lastFailed > 0 {
		result.LastFailedAt = time.Unix(lastFailed, 0).UTC().Format(time.RFC3339)
	}
	return result
}

func (cb *CircuitBreaker) cooledDown(lastFailedAt string) bool {
	last, _ := strconv.ParseInt(lastFailedAt, 10, 64)
	return cb.clock.Now().Unix()-last >= int64(cb.cooldownPeriod.Seconds())
}
