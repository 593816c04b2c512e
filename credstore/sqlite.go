package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caremesh/authcore"
)

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	principal_id  TEXT PRIMARY KEY,
	identifier    TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL,
	status        INTEGER NOT NULL DEFAULT 0,
	last_login_at INTEGER,
	last_login_ok INTEGER
);

CREATE TABLE IF NOT EXISTS two_factor (
	principal_id      TEXT PRIMARY KEY,
	enabled           INTEGER NOT NULL,
	secret            TEXT NOT NULL,
	last_used_counter INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_codes (
	principal_id TEXT NOT NULL,
	hash         BLOB NOT NULL,
	PRIMARY KEY (principal_id, hash)
);
`

// SQLiteStore implements authcore.CredentialStore on a local SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create credential schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindByIdentifier(ctx context.Context, identifier string) (*authcore.Principal, error) {
	return s.findWhere(ctx, "identifier = ?", identifier)
}

func (s *SQLiteStore) FindByID(ctx context.Context, principalID string) (*authcore.Principal, error) {
	return s.findWhere(ctx, "principal_id = ?", principalID)
}

func (s *SQLiteStore) findWhere(ctx context.Context, where string, arg any) (*authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT principal_id, identifier, password_hash, role, status FROM principals WHERE `+where, arg)

	var p authcore.Principal
	var status int
	err := row.Scan(&p.PrincipalID, &p.Identifier, &p.PasswordHash, &p.Role, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = authcore.AccountStatus(status)
	return &p, nil
}

func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *authcore.Principal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (principal_id, identifier, password_hash, role, status)
		 VALUES (?, ?, ?, ?, ?)`,
		p.PrincipalID, p.Identifier, p.PasswordHash, p.Role, int(p.Status))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return authcore.ErrPrincipalExists
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, principalID, newHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE principals SET password_hash = ? WHERE principal_id = ?`, newHash, principalID)
	return err
}

func (s *SQLiteStore) RecordLoginOutcome(ctx context.Context, principalID string, success bool, at time.Time) error {
	ok := 0
	if success {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE principals SET last_login_at = ?, last_login_ok = ? WHERE principal_id = ?`,
		at.Unix(), ok, principalID)
	return err
}

func (s *SQLiteStore) TwoFactor(ctx context.Context, principalID string) (*authcore.TwoFactorRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT enabled, secret, last_used_counter FROM two_factor WHERE principal_id = ?`, principalID)

	var rec authcore.TwoFactorRecord
	var enabled int
	err := row.Scan(&enabled, &rec.Secret, &rec.LastUsedCounter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Enabled = enabled == 1

	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM backup_codes WHERE principal_id = ?`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[:], raw)
		rec.BackupCodeHashes = append(rec.BackupCodeHashes, h)
	}
	return &rec, rows.Err()
}

func (s *SQLiteStore) SaveTwoFactor(ctx context.Context, principalID string, record *authcore.TwoFactorRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	enabled := 0
	if record.Enabled {
		enabled = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO two_factor (principal_id, enabled, secret, last_used_counter)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (principal_id) DO UPDATE SET
		   enabled = excluded.enabled,
		   secret = excluded.secret,
		   last_used_counter = excluded.last_used_counter`,
		principalID, enabled, record.Secret, record.LastUsedCounter); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE principal_id = ?`, principalID); err != nil {
		return err
	}
	for _, h := range record.BackupCodeHashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (principal_id, hash) VALUES (?, ?)`,
			principalID, h[:]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpdateTwoFactorCounter(ctx context.Context, principalID string, counter int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE two_factor SET last_used_counter = ? WHERE principal_id = ?`, counter, principalID)
	return err
}

func (s *SQLiteStore) ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE principal_id = ? AND hash = ?`, principalID, hash[:])
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
