package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "sess", 0), mr
}

func testSession(refreshJTI string) *Session {
	now := time.Now().Unix()
	return &Session{
		SessionID:      "s-1",
		PrincipalID:    "p-1",
		Role:           "clinician",
		TokenVersion:   1,
		RefreshHash:    sha256.Sum256([]byte(refreshJTI)),
		IPAddress:      "203.0.113.9",
		UserAgent:      "test-agent",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now + 3600,
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PrincipalID != "p-1" || got.Role != "clinician" || got.TokenVersion != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash did not round trip")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "absent")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestGetExpiredDeletes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	sess.ExpiresAt = time.Now().Unix() - 10
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil for expired session, got %v", err)
	}

	count, err := store.ActiveSessionCount(ctx, "p-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected expired session removed from index, count = %d", count)
	}
}

func TestRotateRefreshHashSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	next := sha256.Sum256([]byte("jti-2"))
	rotated, err := store.RotateRefreshHash(ctx, "s-1", sess.RefreshHash, next)
	if err != nil {
		t.Fatalf("RotateRefreshHash failed: %v", err)
	}
	if rotated.RefreshHash != next {
		t.Fatal("rotation did not install next hash")
	}
	if rotated.PrincipalID != "p-1" {
		t.Fatalf("rotation corrupted session: %+v", rotated)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get after rotation failed: %v", err)
	}
	if got.RefreshHash != next {
		t.Fatal("stored blob does not carry rotated hash")
	}
}

func TestRotateRefreshHashMismatchDestroysSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stale := sha256.Sum256([]byte("already-consumed"))
	next := sha256.Sum256([]byte("jti-2"))
	if _, err := store.RotateRefreshHash(ctx, "s-1", stale, next); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}

	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected session destroyed after mismatch, got %v", err)
	}
	count, err := store.ActiveSessionCount(ctx, "p-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty index after mismatch, count = %d", count)
	}
}

func TestRotateRefreshHashNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	hash := sha256.Sum256([]byte("jti-1"))
	_, err := store.RotateRefreshHash(context.Background(), "absent", hash, hash)
	if !errors.Is(err, ErrRotateSessionNotFound) {
		t.Fatalf("expected ErrRotateSessionNotFound, got %v", err)
	}
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected not-found to also match redis.Nil, got %v", err)
	}
}

func TestRotateRefreshHashExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	sess.ExpiresAt = time.Now().Unix() - 5
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	next := sha256.Sum256([]byte("jti-2"))
	if _, err := store.RotateRefreshHash(ctx, "s-1", sess.RefreshHash, next); !errors.Is(err, ErrRotateSessionExpired) {
		t.Fatalf("expected ErrRotateSessionExpired, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestDeleteAllForPrincipal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"s-1", "s-2", "s-3"} {
		sess := testSession("jti-" + sid)
		sess.SessionID = sid
		if err := store.Save(ctx, sess, time.Hour); err != nil {
			t.Fatalf("Save %s failed: %v", sid, err)
		}
	}

	if err := store.DeleteAllForPrincipal(ctx, "p-1", "s-2"); err != nil {
		t.Fatalf("DeleteAllForPrincipal failed: %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "p-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s-2" {
		t.Fatalf("expected only s-2 to survive, got %v", ids)
	}

	if err := store.DeleteAllForPrincipal(ctx, "p-1", ""); err != nil {
		t.Fatalf("full DeleteAllForPrincipal failed: %v", err)
	}
	count, err := store.ActiveSessionCount(ctx, "p-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 sessions, got %d", count)
	}
}

func TestGetManyReadOnlySkipsMissing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("jti-1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.GetManyReadOnly(ctx, []string{"s-1", "absent"})
	if err != nil {
		t.Fatalf("GetManyReadOnly failed: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s-1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestMaybeTouchUpdatesLastActivity(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client, "sess", time.Minute)
	ctx := context.Background()

	sess := testSession("jti-1")
	sess.LastActivityAt = time.Now().Add(-5 * time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if time.Now().Unix()-got.LastActivityAt > 5 {
		t.Fatalf("expected touched LastActivityAt, got %d", got.LastActivityAt)
	}
}
