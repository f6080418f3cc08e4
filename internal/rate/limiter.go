package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter keys in the shared store.
const DefaultKeyPrefix = "rl"

// ARGV: 1 = now (ms), 2 = eviction cutoff (ms, inclusive), 3 = window (ms), 4 = marker member.
// Returns {count_before_insert, pttl_ms}.
const slidingWindowScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// Config holds limiter construction parameters.
type Config struct {
	KeyPrefix string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Result is the outcome of a single window check.
type Result struct {
	Limit      int
	Count      int
	Remaining  int
	Allowed    bool
	ResetAfter time.Duration
}

// Limiter enforces sliding-window request budgets using Redis sorted sets.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a sliding-window [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Key builds the store key for a caller and route pair.
func (l *Limiter) Key(caller, route string) string {
	return l.config.KeyPrefix + ":" + caller + ":" + route
}

// Check records one request marker for key and reports whether it fits in the
// budget of limit requests per window. The marker is recorded whether or not the
// request is allowed.
func (l *Limiter) Check(ctx context.Context, key string, window time.Duration, limit int) (Result, error) {
	if window <= 0 || limit <= 0 {
		return Result{}, ErrInvalidLimit
	}

	now := l.config.Now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	vals, err := slidingWindowLua.Run(ctx, l.redis, []string{key},
		nowMs,
		nowMs-windowMs,
		windowMs,
		member,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("%w: unexpected script reply length %d", ErrStoreUnavailable, len(vals))
	}

	count := int(vals[0]) + 1
	return Result{
		Limit:      limit,
		Count:      count,
		Remaining:  remaining(limit, count),
		Allowed:    count <= limit,
		ResetAfter: resetAfter(vals[1], window),
	}, nil
}

// Status reports the current window occupancy for key without recording a
// marker. It is a read-only view and is not linearized with Check.
func (l *Limiter) Status(ctx context.Context, key string, window time.Duration, limit int) (Result, error) {
	if window <= 0 || limit <= 0 {
		return Result{}, ErrInvalidLimit
	}

	cutoff := l.config.Now().Add(-window).UnixMilli()

	pipe := l.redis.Pipeline()
	countCmd := pipe.ZCount(ctx, key, "("+strconv.FormatInt(cutoff, 10), "+inf")
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count := int(countCmd.Val())
	return Result{
		Limit:      limit,
		Count:      count,
		Remaining:  remaining(limit, count),
		Allowed:    count < limit,
		ResetAfter: resetAfter(ttlCmd.Val().Milliseconds(), window),
	}, nil
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

// PTTL reports -1/-2 for keys without expiry or missing keys; treat both as a
// full window.
func resetAfter(ttlMs int64, window time.Duration) time.Duration {
	if ttlMs <= 0 {
		return window
	}
	return time.Duration(ttlMs) * time.Millisecond
}
