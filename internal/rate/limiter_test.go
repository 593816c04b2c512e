package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, map[Action]Policy{
		ActionLogin: {
			Window:        time.Minute,
			MaxRequests:   3,
			BlockDuration: 5 * time.Minute,
		},
	}), mr
}

func TestAllowWithinBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, ActionLogin, "ip:203.0.113.9")
		if err != nil {
			t.Fatalf("Allow %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("expected request %d allowed", i)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("expected remaining %d, got %d", 3-(i+1), d.Remaining)
		}
	}
}

func TestOverBudgetBlocks(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, ActionLogin, "ip:x"); err != nil {
			t.Fatalf("Allow %d failed: %v", i, err)
		}
	}

	d, err := limiter.Allow(ctx, ActionLogin, "ip:x")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denied decision")
	}
	if time.Until(d.ResetAt) <= 0 {
		t.Fatal("expected future ResetAt")
	}

	// Block flag persists beyond the counting window.
	mr.FastForward(2 * time.Minute)
	if _, err := limiter.Allow(ctx, ActionLogin, "ip:x"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected block to outlive window, got %v", err)
	}

	mr.FastForward(5 * time.Minute)
	if _, err := limiter.Allow(ctx, ActionLogin, "ip:x"); err != nil {
		t.Fatalf("expected block expired, got %v", err)
	}
}

func TestResetClearsBlock(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = limiter.Allow(ctx, ActionLogin, "p:alice")
	}
	if _, err := limiter.Allow(ctx, ActionLogin, "p:alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected blocked, got %v", err)
	}

	if err := limiter.Reset(ctx, ActionLogin, "p:alice"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := limiter.Allow(ctx, ActionLogin, "p:alice"); err != nil {
		t.Fatalf("expected allowed after reset, got %v", err)
	}
}

func TestAllowAllUnionOfScopes(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.AllowAll(ctx, ActionLogin, "ip:y", "p:bob"); err != nil {
			t.Fatalf("AllowAll %d failed: %v", i, err)
		}
	}

	// Fourth attempt exceeds the IP scope first.
	if _, err := limiter.AllowAll(ctx, ActionLogin, "ip:y", "p:other"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP scope to limit, got %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	if _, err := limiter.Allow(context.Background(), Action("bogus"), "x"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}
