package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLockoutLimiter(t *testing.T) (*LockoutLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLockoutLimiter(client, LockoutConfig{
		Enabled:          true,
		CaptchaThreshold: 3,
		LockThreshold:    5,
		LockDuration:     15 * time.Minute,
		CounterWindow:    time.Hour,
	}), mr
}

func TestLockoutEscalation(t *testing.T) {
	limiter, _ := newLockoutLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		status, err := limiter.RecordFailure(ctx, "p-1")
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if status.CaptchaRequired || status.Locked {
			t.Fatalf("unexpected escalation at failure %d: %+v", i, status)
		}
	}

	status, err := limiter.RecordFailure(ctx, "p-1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !status.CaptchaRequired {
		t.Fatal("expected captcha required at third failure")
	}
	if status.Locked {
		t.Fatal("did not expect lock at third failure")
	}

	_, _ = limiter.RecordFailure(ctx, "p-1")
	status, err = limiter.RecordFailure(ctx, "p-1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected hard lock at fifth failure")
	}
	if time.Until(status.LockedUntil) <= 0 {
		t.Fatal("expected future LockedUntil")
	}
}

func TestLockoutExpires(t *testing.T) {
	limiter, mr := newLockoutLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = limiter.RecordFailure(ctx, "p-1")
	}

	status, err := limiter.Status(ctx, "p-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected locked")
	}

	mr.FastForward(16 * time.Minute)

	status, err = limiter.Status(ctx, "p-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Locked {
		t.Fatal("expected lock expired")
	}
}

func TestLockoutReset(t *testing.T) {
	limiter, _ := newLockoutLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = limiter.RecordFailure(ctx, "p-1")
	}
	if err := limiter.Reset(ctx, "p-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	status, err := limiter.Status(ctx, "p-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Failures != 0 || status.Locked || status.CaptchaRequired {
		t.Fatalf("expected clean status after reset, got %+v", status)
	}
}
