package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	principal_id TEXT,
	session_id   TEXT,
	ip           TEXT,
	success      INTEGER NOT NULL,
	error        TEXT,
	metadata     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_events_principal ON audit_events (principal_id, timestamp);
`

// SQLiteSink appends events to a durable local table. Insert failures
// are dropped silently; audit persistence must never block or fail an
// authentication operation.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.db == nil {
		return
	}

	var metadata []byte
	if len(event.Metadata) > 0 {
		metadata, _ = json.Marshal(event.Metadata)
	}

	success := 0
	if event.Success {
		success = 1
	}

	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (timestamp, event_type, principal_id, session_id, ip, success, error, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.Unix(), event.EventType, event.PrincipalID, event.SessionID,
		event.IP, success, event.Error, string(metadata),
	)
}

// Prune removes events recorded before the cutoff and reports how many
// rows went away.
func (s *SQLiteSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE timestamp < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
