package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionCapBurnsAndDenies(t *testing.T) {
	engine, _, _ := newTestEngine(t, func(cfg *Config) {
		cfg.Session.MaxPerPrincipal = 2
	})
	ctx := context.Background()

	registerTestPrincipal(t, engine, "oscar@example.org", "cap pw 123456")
	login := LoginRequest{Identifier: "oscar@example.org", Password: "cap pw 123456"}

	first, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login 1: %v", err)
	}
	if _, err := engine.Login(ctx, login); err != nil {
		t.Fatalf("login 2: %v", err)
	}

	// The third concurrent session crosses the cap: denied, and the
	// existing sessions die with it.
	if _, err := engine.Login(ctx, login); !errors.Is(err, ErrSessionLimitExceeded) {
		t.Fatalf("err = %v, want ErrSessionLimitExceeded", err)
	}
	if _, err := engine.ValidateAccess(ctx, first.Tokens.AccessToken); err == nil {
		t.Fatal("pre-cap session survived")
	}

	// With the slate wiped, a fresh login succeeds.
	if _, err := engine.Login(ctx, login); err != nil {
		t.Fatalf("login after wipe: %v", err)
	}
}

func TestCSRFBoundToSession(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	registerTestPrincipal(t, engine, "pam@example.org", "csrf pw 123456")
	login := LoginRequest{Identifier: "pam@example.org", Password: "csrf pw 123456"}

	a, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login a: %v", err)
	}
	b, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login b: %v", err)
	}

	if err := engine.VerifyCSRF(ctx, a.SessionID, a.CSRFToken); err != nil {
		t.Fatalf("own token rejected: %v", err)
	}
	if err := engine.VerifyCSRF(ctx, a.SessionID, b.CSRFToken); !errors.Is(err, ErrCSRFInvalid) {
		t.Fatalf("cross-session err = %v, want ErrCSRFInvalid", err)
	}
	if err := engine.VerifyCSRF(ctx, a.SessionID, "v1.tampered"); !errors.Is(err, ErrCSRFInvalid) {
		t.Fatalf("garbage err = %v, want ErrCSRFInvalid", err)
	}

	// ValidateWithCSRF wires both checks together.
	if _, err := engine.ValidateWithCSRF(ctx, a.Tokens.AccessToken, a.CSRFToken); err != nil {
		t.Fatalf("validate with csrf: %v", err)
	}
	if _, err := engine.ValidateWithCSRF(ctx, a.Tokens.AccessToken, b.CSRFToken); !errors.Is(err, ErrCSRFInvalid) {
		t.Fatalf("err = %v, want ErrCSRFInvalid", err)
	}
}

func TestInvalidateSessionOwnership(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	owner := registerTestPrincipal(t, engine, "quinn@example.org", "owner pw 12345")
	intruder := registerTestPrincipal(t, engine, "rita@example.org", "intruder pw 12")

	result, err := engine.Login(ctx, LoginRequest{Identifier: "quinn@example.org", Password: "owner pw 12345"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := engine.InvalidateSession(ctx, intruder.PrincipalID, result.SessionID); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("cross-principal err = %v, want ErrSessionInvalid", err)
	}

	if err := engine.InvalidateSession(ctx, owner.PrincipalID, result.SessionID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := engine.ValidateAccess(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}

	sessions, err := engine.Sessions(ctx, owner.PrincipalID, "")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
}

func TestLoginRateLimit(t *testing.T) {
	engine, mr, _ := newTestEngine(t, func(cfg *Config) {
		cfg.RateLimit.Login = RateLimitPolicy{
			Window:        time.Minute,
			MaxRequests:   3,
			BlockDuration: 5 * time.Minute,
		}
	})
	ctx := context.Background()

	registerTestPrincipal(t, engine, "sara@example.org", "ratelimit pw 1")
	bad := LoginRequest{Identifier: "sara@example.org", Password: "wrong wrong"}

	for i := 0; i < 3; i++ {
		if _, err := engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v", i+1, err)
		}
	}
	if _, err := engine.Login(ctx, bad); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// The block outlives the counting window.
	mr.FastForward(2 * time.Minute)
	if _, err := engine.Login(ctx, bad); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("after window err = %v, want ErrRateLimited", err)
	}
}
