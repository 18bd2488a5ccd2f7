package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/session"
	"deepresearch/internal/types"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions in a single-file SQLite database.
//
// Storage location: .deepresearch/sessions.db by default.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	topic      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	stage      TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// NewSQLiteStore opens (or creates) the session database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	logging.StoreDebug("Initializing SQLiteStore at path: %s", dbPath)

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create session store directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		logging.StoreError("Failed to open session database at %s: %v", dbPath, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent Advance calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionsSchema); err != nil {
		db.Close()
		logging.StoreError("Failed to initialize session schema: %v", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("SQLiteStore ready: %s", dbPath)
	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, topic, kind, stage, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   topic = excluded.topic,
		   kind = excluded.kind,
		   stage = excluded.stage,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		sess.ID, sess.Topic, string(sess.Kind), string(sess.Stage), string(data),
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		logging.StoreError("Failed to save session %s: %v", sess.ID, err)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	logging.StoreDebug("Session saved: id=%s stage=%s bytes=%d", sess.ID, sess.Stage, len(data))
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return decode(id, []byte(data))
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

// List returns summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.List")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, kind, stage, created_at, updated_at
		 FROM sessions
		 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum          Summary
			kind, stage  string
			created, upd time.Time
		)
		if err := rows.Scan(&sum.ID, &sum.Topic, &kind, &stage, &created, &upd); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.Kind = session.Kind(kind)
		sum.Stage = session.Stage(stage)
		sum.CreatedAt = created
		sum.UpdatedAt = upd
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
