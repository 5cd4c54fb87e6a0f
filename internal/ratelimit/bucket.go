// Package ratelimit throttles outbound provider calls with a token bucket kept in
// Redis, so every process sharing the application's provider quota draws from
// the same bucket.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var tokenBucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// Config sizes the bucket.
type Config struct {
	Prefix         string
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
}

// Decision is the outcome of one bucket draw.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Bucket is a Redis-backed token bucket. A nil *Bucket never throttles.
type Bucket struct {
	rdb    redis.Scripter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewBucket constructs a Bucket. It returns nil when rdb is nil.
func NewBucket(rdb redis.Scripter, cfg Config, logger *slog.Logger) *Bucket {
	if rdb == nil {
		return nil
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.RefillTokens <= 0 {
		cfg.RefillTokens = cfg.Capacity
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 15 * time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * cfg.RefillInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucket{rdb: rdb, cfg: cfg, logger: logger, now: time.Now}
}

// Take draws one token for key.
func (b *Bucket) Take(ctx context.Context, key string) (Decision, error) {
	args := []interface{}{
		b.now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL / time.Second),
	}
	vals, err := tokenBucketScript.Run(ctx, b.rdb, []string{b.cfg.Prefix + ":" + key}, args...).Result()
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(vals)
}

// Wait blocks until a token for key is available or ctx ends. Redis failures let
// the call through.
func (b *Bucket) Wait(ctx context.Context, key string) error {
	if b == nil {
		return nil
	}
	for {
		decision, err := b.Take(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("rate limiter unavailable, allowing call", "key", key, "error", err)
			return nil
		}
		if decision.Allowed {
			return nil
		}

		delay := decision.RetryAfter
		if delay < 50*time.Millisecond {
			delay = 50 * time.Millisecond
		}
		b.logger.Debug("rate limited", "key", key, "retry_after", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func parseDecision(vals interface{}) (Decision, error) {
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket result: %#v", vals)
	}
	return Decision{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
