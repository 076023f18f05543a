// Package execution is the authoritative ledger of workflow runs. Every
// run, scheduled, manual, or retry, gets a record here before any work
// happens, and the record's status transitions follow a strict state
// machine.
package execution

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an execution
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted,
		StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Execution is one run of a workflow. ScheduleID is empty for manual
// runs. RetryOf links a retry to the execution it replaces.
type Execution struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	WorkflowID string `json:"workflow_id"`
	ScheduleID string `json:"schedule_id,omitempty"`

	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`

	// SessionID is set when a browser session is provisioned for the run
	SessionID string `json:"session_id,omitempty"`

	// Results maps step ID to that step's output, populated as the run
	// progresses and frozen at the terminal transition
	Results map[string]json.RawMessage `json:"results,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	RetryOf    string `json:"retry_of,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry is one append-only log line attached to an execution
type LogEntry struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Level       string          `json:"level"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Log levels for execution log entries
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)
