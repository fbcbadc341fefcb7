package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/freshkeep/internal/model"
)

// JobStore keeps the most recent run of every scheduled job.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// RecordRun replaces the stored last run of run.Name.
func (s *JobStore) RecordRun(ctx context.Context, run model.JobRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (name, run_id, started_at, finished_at, status, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET run_id = excluded.run_id, started_at = excluded.started_at,
		 finished_at = excluded.finished_at, status = excluded.status, error = excluded.error`,
		run.Name, run.RunID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Status, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}

// LastRuns returns the last recorded run of every job, keyed by job name.
func (s *JobStore) LastRuns(ctx context.Context) (map[string]model.JobRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, run_id, started_at, finished_at, status, error FROM job_runs ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	runs := make(map[string]model.JobRun)
	for rows.Next() {
		var r model.JobRun
		if err := rows.Scan(&r.Name, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs[r.Name] = r
	}
	return runs, rows.Err()
}
