// Package journal keeps a local SQLite history of session lifecycle
// events: state transitions, reconnect schedules, and engine exits.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/datagate-shell/common"
)

// Entry kinds recorded by the shell.
const (
	KindState     = "state"
	KindReconnect = "reconnect"
	KindEngine    = "engine"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 20

// Entry is one journal row.
type Entry struct {
	ID        int64
	Time      time.Time
	SessionID string
	Kind      string
	State     string
	Detail    string
}

// Journal is a session history stored in a SQLite database.
// It is safe for concurrent use.
type Journal struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	time_ns    INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS entries_time ON entries(time_ns);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", path, err)
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: creating schema: %w", err)
	}

	common.LogDebug("Session journal opened: %s", path)
	return &Journal{db: db, path: path}, nil
}

// OpenDefault opens the journal in the application data directory.
func OpenDefault(ctx context.Context) (*Journal, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return Open(ctx, filepath.Join(dir, common.JournalFileName))
}

// Record appends an entry. A zero Time is replaced with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (time_ns, session_id, kind, state, detail) VALUES (?, ?, ?, ?, ?)`,
		e.Time.UnixNano(), e.SessionID, e.Kind, e.State, e.Detail)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, time_ns, session_id, kind, state, detail FROM entries ORDER BY time_ns DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ns int64
		)
		if err := rows.Scan(&e.ID, &ns, &e.SessionID, &e.Kind, &e.State, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Time = time.Unix(0, ns)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than before and reports how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM entries WHERE time_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: closing %s: %w", j.path, err)
	}
	return nil
}
