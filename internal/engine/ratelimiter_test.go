package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRL(t *testing.T, opts ...RateLimiterOption) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRateLimiter(client, logger, opts...)
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !rl.Allow(ctx, "sendgrid", 5) {
			t.Errorf("request %d should be allowed (limit=5)", i+1)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl.Allow(ctx, "sendgrid", 3)
	}

	if rl.Allow(ctx, "sendgrid", 3) {
		t.Error("request should be blocked when over limit")
	}
}

func TestRateLimiter_ZeroLimit_AllowsAll(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !rl.Allow(ctx, "sendgrid", 0) {
			t.Errorf("request %d should be allowed with limit=0 (unlimited)", i+1)
		}
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	rl := setupTestRL(t, WithLimiterClock(clk))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rl.Allow(ctx, "sendgrid", 2)
	}
	if rl.Allow(ctx, "sendgrid", 2) {
		t.Fatal("third request inside the window should be blocked")
	}

	clk.Add(1100 * time.Millisecond)
	if !rl.Allow(ctx, "sendgrid", 2) {
		t.Error("request after the window should be allowed")
	}
}

func TestRateLimiter_IsolationBetweenProviders(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rl.Allow(ctx, "sendgrid", 2)
	}

	if rl.Allow(ctx, "sendgrid", 2) {
		t.Error("sendgrid should be blocked")
	}
	if !rl.Allow(ctx, "postmark", 2) {
		t.Error("postmark should be allowed, limits are per provider")
	}
}

func TestRateLimiter_WaitReturnsWhenAllowed(t *testing.T) {
	rl := setupTestRL(t)

	if err := rl.Wait(context.Background(), "sendgrid", 1); err != nil {
		t.Fatalf("expected immediate slot, got %v", err)
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	rl := setupTestRL(t, WithLimiterClock(clk), WithRetryInterval(5*time.Millisecond))
	rl.Allow(context.Background(), "sendgrid", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx, "sendgrid", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
