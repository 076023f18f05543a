// Package schedule owns recurring-trigger configurations: the cron
// evaluator, the persistent schedule registry, and the service that keeps
// registry state and the delayed job queue in agreement.
package schedule

import "time"

// Schedule is a persistent recurring-trigger configuration bound to one
// workflow. Counters satisfy RunCount == SuccessCount + FailureCount at
// all times; updates go through atomic SQL increments, never
// read-modify-write on a loaded copy.
type Schedule struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	WorkflowID string `json:"workflow_id"` // immutable after creation

	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	Active         bool   `json:"active"`

	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	RunCount     int `json:"run_count"`
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`

	// Policy
	MaxConcurrentRuns int           `json:"max_concurrent_runs"`
	RetryOnFailure    bool          `json:"retry_on_failure"`
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	Timeout           time.Duration `json:"timeout"`

	// Notification flags, forwarded to the notification collaborator only
	NotifyOnSuccess bool `json:"notify_on_success"`
	NotifyOnFailure bool `json:"notify_on_failure"`
	NotifyOnStart   bool `json:"notify_on_start"`

	// Opaque metadata, forwarded verbatim to executions it spawns
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTimeout applies when a schedule is created without one.
const DefaultTimeout = 5 * time.Minute
