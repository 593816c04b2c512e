package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestRefreshRotation(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	registerTestPrincipal(t, engine, "ivy@example.org", "rotation pw 12")
	first, err := engine.Login(ctx, LoginRequest{Identifier: "ivy@example.org", Password: "rotation pw 12"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := engine.Refresh(ctx, first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("rotation changed session: %s vs %s", second.SessionID, first.SessionID)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// The rotated pair works end to end.
	if _, err := engine.ValidateAccess(ctx, second.Tokens.AccessToken); err != nil {
		t.Fatalf("validate rotated access: %v", err)
	}
	third, err := engine.Refresh(ctx, second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if third.SessionID != first.SessionID {
		t.Fatal("chain broke the session identity")
	}
}

func TestRefreshReuseBurnsEverySession(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	registerTestPrincipal(t, engine, "judy@example.org", "reuse pw 1234")
	login := LoginRequest{Identifier: "judy@example.org", Password: "reuse pw 1234"}

	victim, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	other, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	rotated, err := engine.Refresh(ctx, victim.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Replaying the spent token is theft: every session dies.
	if _, err := engine.Refresh(ctx, victim.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("err = %v, want ErrRefreshReuse", err)
	}

	if _, err := engine.ValidateAccess(ctx, rotated.Tokens.AccessToken); err == nil {
		t.Fatal("rotated access survived the escalation")
	}
	if _, err := engine.ValidateAccess(ctx, other.Tokens.AccessToken); err == nil {
		t.Fatal("unrelated session survived the escalation")
	}
	if _, err := engine.Refresh(ctx, rotated.Tokens.RefreshToken); err == nil {
		t.Fatal("rotated refresh survived the escalation")
	}
}

func TestRefreshRejectsBadInput(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.Refresh(ctx, "garbage"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}

	registerTestPrincipal(t, engine, "kate@example.org", "refresh pw 123")
	result, err := engine.Login(ctx, LoginRequest{Identifier: "kate@example.org", Password: "refresh pw 123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// An access token is not a refresh token.
	if _, err := engine.Refresh(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	registerTestPrincipal(t, engine, "liam@example.org", "logout pw 1234")
	result, err := engine.Login(ctx, LoginRequest{Identifier: "liam@example.org", Password: "logout pw 1234"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := engine.Logout(ctx, result.Tokens.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := engine.ValidateAccess(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("access after logout err = %v, want ErrTokenRevoked", err)
	}
	if _, err := engine.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("refresh after logout err = %v, want ErrSessionInvalid", err)
	}
}

func TestLogoutAllStrandsEveryToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	p := registerTestPrincipal(t, engine, "mona@example.org", "strand pw 1234")
	login := LoginRequest{Identifier: "mona@example.org", Password: "strand pw 1234"}

	a, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login a: %v", err)
	}
	b, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login b: %v", err)
	}

	if err := engine.LogoutAll(ctx, p.PrincipalID); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	for _, tokens := range []TokenPair{a.Tokens, b.Tokens} {
		if _, err := engine.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("access err = %v, want ErrTokenRevoked", err)
		}
		if _, err := engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("refresh err = %v, want ErrTokenRevoked", err)
		}
	}

	// A fresh login works and picks up the bumped version.
	again, err := engine.Login(ctx, login)
	if err != nil {
		t.Fatalf("login after logout all: %v", err)
	}
	auth, err := engine.ValidateAccess(ctx, again.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if auth.TokenVersion < 2 {
		t.Fatalf("token version = %d, want >= 2", auth.TokenVersion)
	}
}
