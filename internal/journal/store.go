// Package journal keeps a SQLite history of task graph runs. It is fed by a
// scheduler listener and never influences scheduling.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one execution of a task set.
type Run struct {
	ID         string
	Pipeline   string
	Status     string
	Total      int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// TaskRun is the journal entry of one task within a run.
type TaskRun struct {
	RunID      string
	Task       string
	Status     string
	Result     string
	Error      string
	Origin     string // task whose failure was propagated, empty on success
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the task ran, or zero if it has not finished.
func (t TaskRun) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Store defines the journal persistence operations.
type Store interface {
	BeginRun(ctx context.Context, pipeline string, total int, at time.Time) (string, error)
	RecordStart(ctx context.Context, runID, task string, at time.Time) error
	RecordFinish(ctx context.Context, runID, task string, at time.Time, result string, taskErr error, origin string) error
	FinishRun(ctx context.Context, runID string, at time.Time, failed int) error

	Runs(ctx context.Context, limit int) ([]Run, error)
	TaskRuns(ctx context.Context, runID string) ([]TaskRun, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the journal at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates a private in-memory journal for tests.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Listener callbacks write from many goroutines; one connection serializes them.
	db.SetMaxOpenConns(1)

	// modernc.org/sqlite needs foreign keys enabled per connection
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}
