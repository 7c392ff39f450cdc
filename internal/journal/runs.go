package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BeginRun inserts a running run and returns its generated ID.
func (s *SQLiteStore) BeginRun(ctx context.Context, pipeline string, total int, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, status, total, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, pipeline, StatusRunning, total, nanos(at))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run finished. Any failed task makes the run failed.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, at time.Time, failed int) error {
	status := StatusSucceeded
	if failed > 0 {
		status = StatusFailed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, failed = ?, finished_at = ?
		WHERE id = ?
	`, status, failed, nanos(at), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return expectRow(res, "run", runID)
}

// RecordStart upserts a task entry as running.
func (s *SQLiteStore) RecordStart(ctx context.Context, runID, task string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, task, status, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, task) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at
	`, runID, task, StatusRunning, nanos(at))
	if err != nil {
		return fmt.Errorf("failed to record start of %s: %w", task, err)
	}
	return nil
}

// RecordFinish stores the outcome of a task. A task that was never recorded as
// started is inserted.
func (s *SQLiteStore) RecordFinish(ctx context.Context, runID, task string, at time.Time, result string, taskErr error, origin string) error {
	status := StatusSucceeded
	errorStr := ""
	if taskErr != nil {
		status = StatusFailed
		errorStr = taskErr.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, task, status, result, error, origin, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			origin = excluded.origin,
			finished_at = excluded.finished_at
	`, runID, task, status, result, errorStr, origin, nanos(at))
	if err != nil {
		return fmt.Errorf("failed to record finish of %s: %w", task, err)
	}
	return nil
}

// Runs returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, status, total, failed, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.Status, &r.Total, &r.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = fromNanos(started)
		r.FinishedAt = fromNanos(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// TaskRuns returns the task entries of a run ordered by start time.
func (s *SQLiteStore) TaskRuns(ctx context.Context, runID string) ([]TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task, status, COALESCE(result, ''), COALESCE(error, ''), COALESCE(origin, ''), started_at, finished_at
		FROM task_runs
		WHERE run_id = ?
		ORDER BY COALESCE(started_at, finished_at), task
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var entries []TaskRun
	for rows.Next() {
		var tr TaskRun
		var started, finished sql.NullInt64
		if err := rows.Scan(&tr.RunID, &tr.Task, &tr.Status, &tr.Result, &tr.Error, &tr.Origin, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		tr.StartedAt = fromNanos(started)
		tr.FinishedAt = fromNanos(finished)
		entries = append(entries, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task runs: %w", err)
	}
	return entries, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
