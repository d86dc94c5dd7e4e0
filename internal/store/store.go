// Package store journals session lifecycles in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peterje/ptybridge/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	pid        INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	exit_code  INTEGER,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

var ErrNotFound = errors.New("session not found")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a running session.
func (s *Store) RecordStart(ctx context.Context, id, command string, pid int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, command, pid, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, command, pid, models.StatusRunning, at.UTC())
	if err != nil {
		return fmt.Errorf("record start %s: %w", id, err)
	}
	return nil
}

// RecordExit marks a session exited. exitCode may be nil when the status is
// not yet known.
func (s *Store) RecordExit(ctx context.Context, id string, exitCode *int, at time.Time) error {
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, exit_code = ?, ended_at = ? WHERE id = ?`,
		models.StatusExited, code, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("record exit %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStale marks sessions left running by a previous host as stopped and
// returns how many were changed.
func (s *Store) MarkStale(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?`,
		models.StatusStopped, at.UTC(), models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Get(ctx context.Context, id string) (models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command, pid, status, exit_code, started_at, ended_at FROM sessions WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// List returns the most recent sessions first.
func (s *Store) List(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, pid, status, exit_code, started_at, ended_at FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	records := []models.SessionRecord{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (models.SessionRecord, error) {
	var (
		rec   models.SessionRecord
		code  sql.NullInt64
		ended sql.NullTime
	)
	if err := sc.Scan(&rec.ID, &rec.Command, &rec.PID, &rec.Status, &code, &rec.StartedAt, &ended); err != nil {
		return rec, err
	}
	if code.Valid {
		c := int(code.Int64)
		rec.ExitCode = &c
	}
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	return rec, nil
}
