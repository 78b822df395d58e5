package validation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewLimiter(rdb, 5)
	ctx := context.Background()

	if !l.Allow(ctx, "s1", 3) {
		t.Fatal("first batch rejected")
	}
	if !l.Allow(ctx, "s1", 2) {
		t.Fatal("batch at limit rejected")
	}
	if l.Allow(ctx, "s1", 1) {
		t.Error("batch over limit allowed")
	}
	if !l.Allow(ctx, "s2", 1) {
		t.Error("other key affected")
	}

	mr.FastForward(2 * time.Second)
	if !l.Allow(ctx, "s1", 1) {
		t.Error("window did not reset")
	}
}

func TestLimiterDisabled(t *testing.T) {
	var l *Limiter
	if !l.Allow(context.Background(), "s1", 100) {
		t.Error("nil limiter rejected")
	}
	if !NewLimiter(nil, 0).Allow(context.Background(), "s1", 100) {
		t.Error("zero limit rejected")
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	mr.Close()

	if !NewLimiter(rdb, 1).Allow(context.Background(), "s1", 5) {
		t.Error("limiter did not fail open")
	}
}
