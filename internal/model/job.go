package model

import "time"

type JobRunStatus string

const (
	JobRunSucceeded JobRunStatus = "succeeded"
	JobRunFailed    JobRunStatus = "failed"
)

// JobRun is the persisted record of a job's most recent invocation.
type JobRun struct {
	Name       string       `json:"name"`
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Status     JobRunStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
}
