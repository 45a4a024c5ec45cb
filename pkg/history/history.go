// Package history keeps a local record of configure and build runs in a sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver loaded here

	"github.com/umputun/sqlwasm/pkg/failure"
)

// Run is a single stage execution
type Run struct {
	ID        string
	Stage     string
	Recipe    string
	State     string
	Started   time.Time
	Duration  time.Duration
	Error     string
	Artifacts []Artifact
}

// Artifact is a file produced by a run
type Artifact struct {
	Name   string
	Size   int64
	SHA256 string
}

// Store is a history database
type Store struct {
	db   *sql.DB
	path string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		recipe TEXT NOT NULL,
		state TEXT NOT NULL,
		started INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS runs_started ON runs (started)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		PRIMARY KEY (run_id, name)
	)`,
}

// Open makes the database file if needed and prepares the schema
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, failure.Config("open history", errors.New("empty history path"))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, failure.Filesystem("open history", fmt.Errorf("can't open %s: %w", path, err))
	}
	db.SetMaxOpenConns(1) // single writer, avoids SQLITE_BUSY on concurrent access from one process

	for _, q := range schema {
		if _, err = db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, failure.Filesystem("open history", fmt.Errorf("can't prepare schema in %s: %w", path, err))
		}
	}
	log.Printf("[DEBUG] history database %s", path)
	return &Store{db: db, path: path}, nil
}

// Record saves the run with its artifacts and returns its id. Empty id is generated.
func (s *Store) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", failure.Filesystem("record run", err)
	}
	defer tx.Rollback() // nolint, no-op after commit

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, stage, recipe, state, started, duration, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Stage, r.Recipe, r.State, r.Started.UnixNano(), int64(r.Duration), r.Error)
	if err != nil {
		return "", failure.Filesystem("record run", fmt.Errorf("can't insert run %s: %w", r.ID, err))
	}
	for _, a := range r.Artifacts {
		_, err = tx.ExecContext(ctx, `INSERT INTO artifacts (run_id, name, size, sha256) VALUES (?, ?, ?, ?)`,
			r.ID, a.Name, a.Size, a.SHA256)
		if err != nil {
			return "", failure.Filesystem("record run", fmt.Errorf("can't insert artifact %s: %w", a.Name, err))
		}
	}
	if err = tx.Commit(); err != nil {
		return "", failure.Filesystem("record run", err)
	}
	return r.ID, nil
}

// Recent returns up to limit runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, stage, recipe, state, started, duration, error
		FROM runs ORDER BY started DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, failure.Filesystem("list runs", err)
	}
	defer rows.Close()

	res := []Run{}
	for rows.Next() {
		var r Run
		var started, duration int64
		if err = rows.Scan(&r.ID, &r.Stage, &r.Recipe, &r.State, &started, &duration, &r.Error); err != nil {
			return nil, failure.Filesystem("list runs", err)
		}
		r.Started, r.Duration = time.Unix(0, started), time.Duration(duration)
		res = append(res, r)
	}
	if err = rows.Err(); err != nil {
		return nil, failure.Filesystem("list runs", err)
	}
	if len(res) == 0 {
		return res, nil
	}

	for i := range res {
		if err = s.artifacts(ctx, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Store) artifacts(ctx context.Context, r *Run) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, size, sha256 FROM artifacts WHERE run_id = ? ORDER BY name`, r.ID)
	if err != nil {
		return failure.Filesystem("list artifacts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Artifact
		if err = rows.Scan(&a.Name, &a.Size, &a.SHA256); err != nil {
			return failure.Filesystem("list artifacts", err)
		}
		r.Artifacts = append(r.Artifacts, a)
	}
	if err = rows.Err(); err != nil {
		return failure.Filesystem("list artifacts", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("can't close history %s: %w", s.path, err)
	}
	return nil
}
