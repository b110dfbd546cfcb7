package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = time.Minute

// Verdict is the outcome of one rate-limit check.
type Verdict struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Limiter keeps fixed-window per-endpoint, per-IP counters in redis.
// The counter is incremented atomically; the expiry is set only when
// the increment created the window.
type Limiter struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow counts one hit for (endpoint, ip) against limit. When redis
// is unreachable the limiter fails open so a cache outage does not
// take the whole service down with it.
func (l *Limiter) Allow(ctx context.Context, endpoint, ip string, limit int) Verdict {
	if l == nil || l.rdb == nil || limit <= 0 {
		return Verdict{Allowed: true, Limit: limit, Remaining: limit, Reset: window}
	}

	key := "ratelimit:" + endpoint + ":" + ip

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Verdict{Allowed: true, Limit: limit, Remaining: limit, Reset: window}
	}
	if n == 1 {
		l.rdb.Expire(ctx, key, window)
	}

	reset := window
	if ttl, err := l.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		reset = ttl
	}

	remaining := limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Verdict{
		Allowed:   n <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// ClientIP picks the client address from proxy headers in trust
// order, falling back to "unknown".
func ClientIP(header func(string) string) string {
	if ip := strings.TrimSpace(header("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(header("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := header("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	return "unknown"
}
