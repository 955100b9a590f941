package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter admits or rejects one request for subject.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

// gcraScript keeps a single theoretical arrival time per key. A request is
// admitted while the arrival time stays within one window of now.
var gcraScript = redis.NewScript(`
local interval = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tat = tonumber(redis.call("GET", KEYS[1]) or now)
if tat < now then
  tat = now
end

local next_tat = tat + interval
local allow_at = next_tat - window
if allow_at > now then
  local left = math.floor((window - (tat - now)) / interval)
  if left < 0 then
    left = 0
  end
  return {0, left, allow_at - now}
end

redis.call("SET", KEYS[1], next_tat, "PX", math.ceil(next_tat - now))
return {1, math.floor((window - (next_tat - now)) / interval), 0}
`)

// RedisLimiter shares admission state for each subject across api replicas.
// capacity requests are admitted per window, spread evenly after the initial
// burst.
type RedisLimiter struct {
	client     redis.UniversalClient
	intervalMS int64
	windowMS   int64
	keyPrefix  string
	now        func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisLimiter, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}

	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = "cropflow:ratelimit"
	}

	windowMS := max(window.Milliseconds(), int64(capacity))
	return &RedisLimiter{
		client:     client,
		intervalMS: windowMS / int64(capacity),
		windowMS:   windowMS,
		keyPrefix:  keyPrefix,
		now:        time.Now,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	key := l.keyPrefix + ":" + normalizeSubject(subject)
	raw, err := gcraScript.Run(ctx, l.client, []string{key},
		l.intervalMS,
		l.windowMS,
		l.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: expected 3 values, got %d", key, len(raw))
	}

	return Decision{
		Allowed:    raw[0] == 1,
		Remaining:  raw[1],
		RetryAfter: time.Duration(raw[2]) * time.Millisecond,
	}, nil
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}
