package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		2,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background())
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background())
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by rate limit")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.Allow(context.Background())
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new second window should allow call")
	}
}

func TestRedisRateLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestRedisRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, 10); err == nil {
		t.Fatal("NewRedisRateLimiter() expected error for nil client")
	}
}

func TestRedisAttemptGuardConcludedLifecycle(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	guard, err := NewRedisAttemptGuard(rdb, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisAttemptGuard() error = %v", err)
	}

	// No marker until the attempt is explicitly concluded, so a delivery
	// that died mid-flight is retried.
	concluded, err := guard.Concluded(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Concluded() error = %v", err)
	}
	if concluded {
		t.Fatal("attempt 1 should not be concluded before being marked")
	}

	if err := guard.MarkConcluded(context.Background(), 7, 1); err != nil {
		t.Fatalf("MarkConcluded() error = %v", err)
	}

	concluded, err = guard.Concluded(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Concluded() error = %v", err)
	}
	if !concluded {
		t.Fatal("attempt 1 should be concluded after being marked")
	}

	// A different attempt of the same invoice is unaffected.
	concluded, err = guard.Concluded(context.Background(), 7, 2)
	if err != nil {
		t.Fatalf("Concluded() error = %v", err)
	}
	if concluded {
		t.Fatal("attempt 2 should not be concluded")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
