package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestAllowCountsDown(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := l.Allow(ctx, "main", "1.2.3.4", 3)
		if !v.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
		if v.Remaining != 3-(i+1) {
			t.Fatalf("remaining = %d after %d requests", v.Remaining, i+1)
		}
	}

	v := l.Allow(ctx, "main", "1.2.3.4", 3)
	if v.Allowed || v.Remaining != 0 {
		t.Fatalf("4th request: %+v", v)
	}
}

func TestWindowsAreIndependent(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	l.Allow(ctx, "main", "1.2.3.4", 1)
	if v := l.Allow(ctx, "main", "5.6.7.8", 1); !v.Allowed {
		t.Fatalf("other IP denied")
	}
	if v := l.Allow(ctx, "extract", "1.2.3.4", 1); !v.Allowed {
		t.Fatalf("other endpoint denied")
	}
}

func TestWindowExpires(t *testing.T) {
	l, mr := testLimiter(t)
	ctx := context.Background()

	l.Allow(ctx, "main", "1.2.3.4", 1)
	if v := l.Allow(ctx, "main", "1.2.3.4", 1); v.Allowed {
		t.Fatalf("second request allowed inside window")
	}

	mr.FastForward(61 * time.Second)
	if v := l.Allow(ctx, "main", "1.2.3.4", 1); !v.Allowed {
		t.Fatalf("request denied after window expired")
	}
}

func TestFailsOpenWithoutRedis(t *testing.T) {
	l := New(nil)
	if v := l.Allow(context.Background(), "main", "1.2.3.4", 1); !v.Allowed {
		t.Fatalf("nil redis denied request")
	}
}

func TestClientIP(t *testing.T) {
	headers := map[string]string{}
	get := func(name string) string { return headers[name] }

	if got := ClientIP(get); got != "unknown" {
		t.Fatalf("no headers: %q", got)
	}

	headers["X-Forwarded-For"] = "9.9.9.9, 10.0.0.1"
	if got := ClientIP(get); got != "9.9.9.9" {
		t.Fatalf("xff: %q", got)
	}

	headers["X-Real-IP"] = "8.8.8.8"
	if got := ClientIP(get); got != "8.8.8.8" {
		t.Fatalf("x-real-ip: %q", got)
	}

	headers["CF-Connecting-IP"] = "7.7.7.7"
	if got := ClientIP(get); got != "7.7.7.7" {
		t.Fatalf("cf: %q", got)
	}
}
