// Package sqlite provides the durable on-device session store.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL for concurrent
// reads. The local store is the system's last line of defense: every
// successful remote write was committed here first, and when the remote is
// unreachable this store is authoritative.
//
// The store performs no conflict resolution of its own - Save replaces the
// row for a session id unconditionally. Deciding which copy of a session
// wins is the resolver's job, before Save is called.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kastlog/kastlog/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection holding the session collection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a connection to the database at path, creating the parent
// directory if needed. The caller MUST call Close() when done.
//
// Example:
//
//	st, err := sqlite.Open(filepath.Join(dataDir, "sessions.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	// WAL for concurrent readers during writes
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return st, nil
}

// Close checkpoints the WAL and closes the connection.
func (st *Store) Close() error {
	if st.conn == nil {
		return nil
	}
	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	st.conn = nil
	return nil
}

// Path returns the database file path (the daemon watches its directory).
func (st *Store) Path() string {
	return st.path
}

// InitSchema creates the sessions table and its indexes if they don't
// exist. Idempotent - safe to call on every startup.
func (st *Store) InitSchema() error {
	return st.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (st *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		target INTEGER NOT NULL,
		total_kubbs INTEGER NOT NULL DEFAULT 0,
		total_batons INTEGER NOT NULL DEFAULT 0,
		start_time TEXT NOT NULL,
		end_time TEXT,
		is_complete INTEGER NOT NULL DEFAULT 0,
		rounds TEXT NOT NULL DEFAULT '[]',  -- JSON array
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_date ON sessions(date);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	-- Composite index for the incomplete-session lookup
	CREATE INDEX IF NOT EXISTS idx_sessions_incomplete
	    ON sessions(date, is_complete);
	`
	if _, err := st.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Save inserts or replaces the session row keyed by its id.
//
// The upsert is idempotent: saving identical content twice leaves exactly
// one row, unchanged. Any prior row for the id is replaced unconditionally.
func (st *Store) Save(s *model.Session) error {
	return st.SaveContext(context.Background(), s)
}

// SaveContext inserts or replaces a session with context support.
func (st *Store) SaveContext(ctx context.Context, s *model.Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	roundsJSON, err := json.Marshal(s.Rounds)
	if err != nil {
		return fmt.Errorf("failed to marshal rounds: %w", err)
	}

	query := `
	INSERT INTO sessions (
		id, date, target, total_kubbs, total_batons,
		start_time, end_time, is_complete, rounds,
		created_at, modified_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		target = excluded.target,
		total_kubbs = excluded.total_kubbs,
		total_batons = excluded.total_batons,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		is_complete = excluded.is_complete,
		rounds = excluded.rounds,
		modified_at = excluded.modified_at
	`

	_, err = st.conn.ExecContext(ctx, query,
		s.ID,
		s.Date,
		s.Target,
		s.TotalKubbs,
		s.TotalBatons,
		s.StartTime.Format(time.RFC3339Nano),
		timeToNullString(s.EndTime),
		boolToInt(s.IsComplete),
		string(roundsJSON),
		s.CreatedAt.Format(time.RFC3339Nano),
		s.ModifiedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// LoadAll returns every stored session ordered by created_at descending
// (newest session first).
func (st *Store) LoadAll() ([]*model.Session, error) {
	return st.LoadAllContext(context.Background())
}

// LoadAllContext returns all sessions with context support.
func (st *Store) LoadAllContext(ctx context.Context) ([]*model.Session, error) {
	query := selectColumns + ` FROM sessions ORDER BY created_at DESC`
	rows, err := st.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// FindIncomplete returns the first session that is resumable at the given
// time: same calendar day, target unmet, not marked complete. Returns
// (nil, nil) when no session qualifies.
func (st *Store) FindIncomplete(now time.Time) (*model.Session, error) {
	return st.FindIncompleteContext(context.Background(), now)
}

// FindIncompleteContext finds the resumable session with context support.
func (st *Store) FindIncompleteContext(ctx context.Context, now time.Time) (*model.Session, error) {
	query := selectColumns + `
	FROM sessions
	WHERE date = ? AND is_complete = 0 AND total_kubbs < target
	ORDER BY created_at DESC
	LIMIT 1
	`
	rows, err := st.conn.QueryContext(ctx, query, now.Format(model.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete session: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// Get retrieves a single session by id. Returns sql.ErrNoRows if absent.
func (st *Store) Get(id string) (*model.Session, error) {
	return st.GetContext(context.Background(), id)
}

// GetContext retrieves a session by id with context support.
func (st *Store) GetContext(ctx context.Context, id string) (*model.Session, error) {
	query := selectColumns + ` FROM sessions WHERE id = ?`
	rows, err := st.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, sql.ErrNoRows
	}
	return sessions[0], nil
}

// Delete removes the session row. Returns nil if the session doesn't exist
// (idempotent).
func (st *Store) Delete(id string) error {
	return st.DeleteContext(context.Background(), id)
}

// DeleteContext removes a session with context support.
func (st *Store) DeleteContext(ctx context.Context, id string) error {
	if _, err := st.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored sessions.
func (st *Store) Count() (int, error) {
	return st.CountContext(context.Background())
}

// CountContext returns the session count with context support.
func (st *Store) CountContext(ctx context.Context) (int, error) {
	var count int
	if err := st.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

const selectColumns = `
	SELECT id, date, target, total_kubbs, total_batons,
	       start_time, end_time, is_complete, rounds,
	       created_at, modified_at`

// scanSessions is a helper to scan multiple sessions from query results.
func scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var sessions []*model.Session

	for rows.Next() {
		var (
			s                              model.Session
			startTime, createdAt, modifiedAt string
			endTime                        sql.NullString
			isComplete                     int
			roundsJSON                     string
		)

		err := rows.Scan(
			&s.ID,
			&s.Date,
			&s.Target,
			&s.TotalKubbs,
			&s.TotalBatons,
			&startTime,
			&endTime,
			&isComplete,
			&roundsJSON,
			&createdAt,
			&modifiedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		// Timestamps are required; a row that fails to parse is corrupt
		// and must surface as a persistence error, not as zero times.
		if s.StartTime, err = time.Parse(time.RFC3339Nano, startTime); err != nil {
			return nil, fmt.Errorf("corrupt start_time for %s: %w", s.ID, err)
		}
		if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at for %s: %w", s.ID, err)
		}
		if s.ModifiedAt, err = time.Parse(time.RFC3339Nano, modifiedAt); err != nil {
			return nil, fmt.Errorf("corrupt modified_at for %s: %w", s.ID, err)
		}
		if s.EndTime, err = nullStringToTime(endTime); err != nil {
			return nil, fmt.Errorf("corrupt end_time for %s: %w", s.ID, err)
		}
		s.IsComplete = isComplete != 0

		if roundsJSON != "" && roundsJSON != "null" {
			if err := json.Unmarshal([]byte(roundsJSON), &s.Rounds); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rounds for %s: %w", s.ID, err)
			}
		}

		sessions = append(sessions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
