package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRevocationBackend = errors.New("revocation backend unavailable")
)

const revocationSchema = `
CREATE TABLE IF NOT EXISTS revoked_tokens (
	jti          TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	reason       TEXT NOT NULL,
	revoked_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires_at ON revoked_tokens (expires_at);
`

// RevocationStore denylists token IDs. The hot path is a Redis key with
// a TTL matching the token's remaining lifetime; a SQLite log keeps a
// durable record that survives Redis restarts and feeds the audit trail.
type RevocationStore struct {
	redis  redis.UniversalClient
	db     *sql.DB
	prefix string
}

// NewRevocationStore creates the store and its SQLite schema. db may be
// nil, in which case only the Redis denylist is maintained.
func NewRevocationStore(redisClient redis.UniversalClient, db *sql.DB, prefix string) (*RevocationStore, error) {
	if prefix == "" {
		prefix = "rvk"
	}
	if db != nil {
		if _, err := db.Exec(revocationSchema); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
		}
	}
	return &RevocationStore{
		redis:  redisClient,
		db:     db,
		prefix: prefix,
	}, nil
}

func (s *RevocationStore) key(jti string) string {
	return s.prefix + ":" + jti
}

// Revoke denylists a jti until its natural expiry. Revoking an already
// revoked or expired token is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, jti, principalID, reason string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, s.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}

	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO revoked_tokens (jti, principal_id, reason, revoked_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)`,
			jti, principalID, reason, time.Now().Unix(), expiresAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRevocationBackend, err)
		}
	}

	return nil
}

// IsRevoked reports whether a jti is on the denylist. Backend failures
// surface as errors so callers fail closed.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return n > 0, nil
}

// Prune removes durable log rows for tokens that expired before the
// cutoff. The Redis side needs no pruning; TTLs handle it.
func (s *RevocationStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return n, nil
}
