package jobs

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/caremesh/authcore"
)

func TestPruneSweepRemovesExpiredRows(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sink, err := authcore.NewSQLiteAuditSink(db)
	if err != nil {
		t.Fatalf("audit sink: %v", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithRevocationDB(db).
		WithAuditSink(sink).
		WithCredentialStore(nopCredentials{}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()

	// One audit row well past the retention window, one fresh.
	sink.Emit(ctx, authcore.AuditEvent{
		Timestamp: time.Now().Add(-100 * 24 * time.Hour),
		EventType: "login_failure",
	})
	sink.Emit(ctx, authcore.AuditEvent{
		Timestamp: time.Now(),
		EventType: "login_success",
	})

	// A live revocation must survive the sweep.
	if err := engine.RevokeToken(ctx, "live-jti", "p1", "test", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	mgr, err := NewManager(Config{
		RedisURI: "redis://" + mr.Addr(),
	}, engine, sink, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(mgr.Shutdown)

	if err := mgr.handlePrune(ctx, nil); err != nil {
		t.Fatalf("handlePrune: %v", err)
	}

	var auditRows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&auditRows); err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if auditRows != 1 {
		t.Fatalf("audit rows = %d, want 1", auditRows)
	}

	var revokedRows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens`).Scan(&revokedRows); err != nil {
		t.Fatalf("count revoked rows: %v", err)
	}
	if revokedRows != 1 {
		t.Fatalf("revoked rows = %d, want 1", revokedRows)
	}
}

func TestNewManagerRequiresEngine(t *testing.T) {
	if _, err := NewManager(Config{RedisURI: "redis://localhost:6379"}, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil engine")
	}
}

type nopCredentials struct{}

func (nopCredentials) FindByIdentifier(context.Context, string) (*authcore.Principal, error) {
	return nil, nil
}

func (nopCredentials) FindByID(context.Context, string) (*authcore.Principal, error) {
	return nil, nil
}

func (nopCredentials) CreatePrincipal(context.Context, *authcore.Principal) error { return nil }

func (nopCredentials) UpdatePasswordHash(context.Context, string, string) error { return nil }

func (nopCredentials) RecordLoginOutcome(context.Context, string, bool, time.Time) error { return nil }

func (nopCredentials) TwoFactor(context.Context, string) (*authcore.TwoFactorRecord, error) {
	return nil, nil
}

func (nopCredentials) SaveTwoFactor(context.Context, string, *authcore.TwoFactorRecord) error {
	return nil
}

func (nopCredentials) UpdateTwoFactorCounter(context.Context, string, int64) error { return nil }

func (nopCredentials) ConsumeBackupCode(context.Context, string, [32]byte) (bool, error) {
	return false, nil
}
