package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

func newRedis(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestCaptchaClaimConsumesOnSuccess(t *testing.T) {
	client, _ := newRedis(t)
	store := NewCaptchaStore(client, "", 3)
	ctx := context.Background()

	if err := store.Save(ctx, "c-1", "AbCd47", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Claim(ctx, "c-1", "abcd47"); err != nil {
		t.Fatalf("expected case-insensitive claim to succeed, got %v", err)
	}

	// Single use: the same answer cannot be replayed.
	if err := store.Claim(ctx, "c-1", "abcd47"); !errors.Is(err, ErrCaptchaNotFound) {
		t.Fatalf("expected ErrCaptchaNotFound on replay, got %v", err)
	}
}

func TestCaptchaClaimBurnsAttempts(t *testing.T) {
	client, _ := newRedis(t)
	store := NewCaptchaStore(client, "", 3)
	ctx := context.Background()

	if err := store.Save(ctx, "c-1", "abcd47", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Claim(ctx, "c-1", "wrong1"); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := store.Claim(ctx, "c-1", "wrong2"); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := store.Claim(ctx, "c-1", "wrong3"); !errors.Is(err, ErrCaptchaExhausted) {
		t.Fatalf("expected exhausted on third wrong guess, got %v", err)
	}

	// Exhaustion destroys the challenge even for the right answer.
	if err := store.Claim(ctx, "c-1", "abcd47"); !errors.Is(err, ErrCaptchaNotFound) {
		t.Fatalf("expected ErrCaptchaNotFound after exhaustion, got %v", err)
	}
}

func TestMFAChallengeRoundTrip(t *testing.T) {
	client, _ := newRedis(t)
	store := NewMFALoginChallengeStore(client, "")
	ctx := context.Background()

	record := &MFALoginChallenge{
		PrincipalID: "p-1",
		Role:        "clinician",
		IPAddress:   "203.0.113.9",
		UserAgent:   "test-agent",
		ExpiresAt:   time.Now().Add(5 * time.Minute).Unix(),
	}
	if err := store.Save(ctx, "ch-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "ch-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PrincipalID != "p-1" || got.Role != "clinician" || got.IPAddress != "203.0.113.9" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMFAChallengeAttemptsExceeded(t *testing.T) {
	client, _ := newRedis(t)
	store := NewMFALoginChallengeStore(client, "")
	ctx := context.Background()

	record := &MFALoginChallenge{
		PrincipalID: "p-1",
		Role:        "patient",
		ExpiresAt:   time.Now().Add(5 * time.Minute).Unix(),
	}
	if err := store.Save(ctx, "ch-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		exceeded, err := store.RecordFailure(ctx, "ch-1", 5)
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if exceeded {
			t.Fatalf("unexpected exhaustion at attempt %d", i)
		}
	}

	exceeded, err := store.RecordFailure(ctx, "ch-1", 5)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !exceeded {
		t.Fatal("expected fifth failure to exhaust the challenge")
	}

	if _, err := store.Get(ctx, "ch-1"); !errors.Is(err, ErrMFALoginChallengeNotFound) {
		t.Fatalf("expected challenge deleted after exhaustion, got %v", err)
	}
}

func TestMFAChallengeExpired(t *testing.T) {
	client, _ := newRedis(t)
	store := NewMFALoginChallengeStore(client, "")
	ctx := context.Background()

	record := &MFALoginChallenge{
		PrincipalID: "p-1",
		ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
	}
	if err := store.Save(ctx, "ch-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "ch-1"); !errors.Is(err, ErrMFALoginChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestTrustedDeviceLifecycle(t *testing.T) {
	client, _ := newRedis(t)
	store := NewTrustedDeviceStore(client, "")
	ctx := context.Background()

	device, err := store.Trust(ctx, "p-1", "fp-raw", "office workstation", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	if device.FingerprintHash != FingerprintHash("fp-raw") {
		t.Fatal("fingerprint hash mismatch")
	}

	trusted, err := store.IsTrusted(ctx, "p-1", "fp-raw")
	if err != nil {
		t.Fatalf("IsTrusted failed: %v", err)
	}
	if !trusted {
		t.Fatal("expected device trusted")
	}

	trusted, err = store.IsTrusted(ctx, "p-1", "fp-other")
	if err != nil {
		t.Fatalf("IsTrusted failed: %v", err)
	}
	if trusted {
		t.Fatal("unexpected trust for unknown fingerprint")
	}

	devices, err := store.List(ctx, "p-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 1 || devices[0].Label != "office workstation" {
		t.Fatalf("unexpected device list: %+v", devices)
	}

	if err := store.Revoke(ctx, "p-1", device.FingerprintHash); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	trusted, err = store.IsTrusted(ctx, "p-1", "fp-raw")
	if err != nil {
		t.Fatalf("IsTrusted failed: %v", err)
	}
	if trusted {
		t.Fatal("expected trust revoked")
	}

	if err := store.Revoke(ctx, "p-1", device.FingerprintHash); !errors.Is(err, ErrTrustedDeviceNotFound) {
		t.Fatalf("expected not found on repeat revoke, got %v", err)
	}
}

func TestTrustedDeviceExpiryFixedAtRegistration(t *testing.T) {
	client, mr := newRedis(t)
	store := NewTrustedDeviceStore(client, "")
	ctx := context.Background()

	if _, err := store.Trust(ctx, "p-1", "fp-raw", "", time.Hour); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	// Use refreshes LastUsedAt but must not extend the window.
	if _, err := store.IsTrusted(ctx, "p-1", "fp-raw"); err != nil {
		t.Fatalf("IsTrusted failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	trusted, err := store.IsTrusted(ctx, "p-1", "fp-raw")
	if err != nil {
		t.Fatalf("IsTrusted failed: %v", err)
	}
	if trusted {
		t.Fatal("expected trust expired after fixed window")
	}
}

func TestRevocationDenylist(t *testing.T) {
	client, mr := newRedis(t)
	store, err := NewRevocationStore(client, nil, "")
	if err != nil {
		t.Fatalf("NewRevocationStore failed: %v", err)
	}
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("unexpected revocation for fresh jti")
	}

	if err := store.Revoke(ctx, "jti-1", "p-1", "logout", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected jti revoked")
	}

	// The denylist entry evaporates with the token's natural expiry.
	mr.FastForward(2 * time.Hour)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected denylist entry expired")
	}
}

func TestRevocationDurableLogPrune(t *testing.T) {
	client, _ := newRedis(t)

	db, err := sql.Open("sqlite", "file:revocation_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewRevocationStore(client, db, "")
	if err != nil {
		t.Fatalf("NewRevocationStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-old", "p-1", "logout", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "jti-new", "p-1", "logout", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	pruned, err := store.Prune(ctx, time.Now().Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}

	var remaining int
	if err := db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens`).Scan(&remaining); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 remaining row, got %d", remaining)
	}
}
