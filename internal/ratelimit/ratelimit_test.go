package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiterExhaustsAndRefills(t *testing.T) {
	limiter, err := NewMemoryLimiter(2, time.Second)
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "user-1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i, d, err)
		}
	}

	d, _ := limiter.Allow(ctx, "user-1")
	if d.Allowed {
		t.Fatal("expected third request to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry-after %s", d.RetryAfter)
	}

	if d, _ := limiter.Allow(ctx, "user-2"); !d.Allowed {
		t.Fatal("expected other subjects to have their own bucket")
	}

	now = now.Add(600 * time.Millisecond)
	if d, _ := limiter.Allow(ctx, "user-1"); !d.Allowed {
		t.Fatal("expected a token to refill after half the window")
	}
}

func TestMemoryLimiterEvictsIdleSubjects(t *testing.T) {
	limiter, err := NewMemoryLimiter(1, time.Second)
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Allow(context.Background(), "")
	if _, ok := limiter.limiters["anonymous"]; !ok {
		t.Fatal("expected empty subject to map to anonymous")
	}

	now = now.Add(3 * time.Second)
	_, _ = limiter.Allow(context.Background(), "other")
	if _, ok := limiter.limiters["anonymous"]; ok {
		t.Fatal("expected idle subject to be evicted")
	}
}

func TestNewLimitersRejectBadConfig(t *testing.T) {
	if _, err := NewMemoryLimiter(0, time.Second); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewMemoryLimiter(1, 0); err == nil {
		t.Fatal("expected error for zero window")
	}
	if _, err := NewRedisLimiter(nil, 1, time.Second, ""); err == nil {
		t.Fatal("expected error for nil redis client")
	}
}

func TestRedisLimiterSpacing(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewRedisLimiter(client, 60, time.Minute, "")
	if err != nil {
		t.Fatalf("NewRedisLimiter: %v", err)
	}
	if limiter.intervalMS != 1000 || limiter.windowMS != 60_000 {
		t.Fatalf("unexpected spacing interval=%d window=%d", limiter.intervalMS, limiter.windowMS)
	}
	if limiter.keyPrefix != "cropflow:ratelimit" {
		t.Fatalf("unexpected default prefix %q", limiter.keyPrefix)
	}

	tight, err := NewRedisLimiter(client, 50, 10*time.Millisecond, "custom")
	if err != nil {
		t.Fatalf("NewRedisLimiter: %v", err)
	}
	if tight.intervalMS != 1 {
		t.Fatalf("expected interval to stay at least 1ms, got %d", tight.intervalMS)
	}
}

func TestRedisLimiterReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewRedisLimiter(client, 1, time.Second, "")
	if err != nil {
		t.Fatalf("NewRedisLimiter: %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "user-1"); err == nil {
		t.Fatal("expected an error when redis is unreachable")
	}
}
