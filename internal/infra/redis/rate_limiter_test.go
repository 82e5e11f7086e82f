//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("window fills then reports time to reset", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		rl := NewRateLimiter(NewMemoryClientWithClock(clock))

		for i := 0; i < 3; i++ {
			ok, _, err := rl.Allow(ctx, "rate_limit:submit:s1", 3, time.Minute)
			if err != nil || !ok {
				t.Fatalf("hit %d should pass: %v %v", i, ok, err)
			}
		}
		clock.Advance(20 * time.Second)
		ok, wait, err := rl.Allow(ctx, "rate_limit:submit:s1", 3, time.Minute)
		if err != nil || ok {
			t.Fatalf("fourth hit should be refused: %v %v", ok, err)
		}
		if wait != 40*time.Second {
			t.Errorf("expected 40s until reset, got %v", wait)
		}

		clock.Advance(41 * time.Second)
		if ok, _, _ := rl.Allow(ctx, "rate_limit:submit:s1", 3, time.Minute); !ok {
			t.Error("a new window should start after expiry")
		}
	})

	t.Run("counter without expiry gets a fresh window", func(t *testing.T) {
		mem := NewMemoryClient()
		rl := NewRateLimiter(mem)
		// simulate a crash between INCR and EXPIRE
		for i := 0; i < 2; i++ {
			_, _ = mem.Incr(ctx, "k")
		}
		ok, wait, err := rl.Allow(ctx, "k", 1, time.Minute)
		if err != nil || ok || wait != time.Minute {
			t.Fatalf("expected refusal with a full window: %v %v %v", ok, wait, err)
		}
		if ttl, _ := mem.TTL(ctx, "k"); ttl <= 0 {
			t.Errorf("expected the key to expire again, ttl %v", ttl)
		}
	})

	t.Run("store failure is returned", func(t *testing.T) {
		mem := NewMemoryClient()
		mem.FailWith = errors.New("connection refused")
		if _, _, err := NewRateLimiter(mem).Allow(ctx, "k", 1, time.Minute); err == nil {
			t.Error("expected an error")
		}
	})
}
