// Package queue provides the durable delayed job queue backing the
// scheduler. Jobs survive process restarts; the database enforces the
// at-most-one-pending-entry-per-schedule invariant with a partial unique
// index. Queue-level retry covers job processing failures (crash
// mid-run, store unavailable) and is distinct from per-schedule workflow
// retry, which the execution engine implements by creating new
// executions.
package queue

import (
	"encoding/json"
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/internal/ids"
)

// JobStatus represents the current state of a queued job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusDead marks jobs that exhausted their processing attempts.
	// Dead jobs are kept for inspection, never redelivered.
	JobStatusDead JobStatus = "dead"
)

// Job is one durable queue entry. ScheduleID is empty for manual and
// retry runs, which are not subject to the one-pending-per-schedule
// invariant.
type Job struct {
	ID          string          `json:"id"`
	ScheduleID  string          `json:"schedule_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	RunAt       time.Time       `json:"run_at"`
	Priority    int             `json:"priority"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RunPayload is the message a queue job carries to the execution engine.
type RunPayload struct {
	ScheduleID string `json:"schedule_id,omitempty"`
	WorkflowID string `json:"workflow_id"`
	UserID     string `json:"user_id"`
	// ExecutionID is set for manual and retry runs whose pending
	// execution record already exists; scheduled fires leave it empty
	// and the engine creates the record at claim time.
	ExecutionID string `json:"execution_id,omitempty"`
}

// Encode marshals the payload for storage
func (p RunPayload) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode run payload")
	}
	return data, nil
}

// DecodeRunPayload unmarshals a job payload
func DecodeRunPayload(raw json.RawMessage) (*RunPayload, error) {
	var p RunPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode run payload")
	}
	if p.WorkflowID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "run payload missing workflow id")
	}
	return &p, nil
}

// newJob builds a pending job ready for insertion
func newJob(scheduleID string, payload json.RawMessage, delay time.Duration, priority, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          ids.New(ids.Job),
		ScheduleID:  scheduleID,
		Payload:     payload,
		RunAt:       now.Add(delay),
		Priority:    priority,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
