package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/logger"
)

// Backoff bounds for queue-level retry. Delay doubles per attempt,
// starting at the configured base, never exceeding the cap.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 30 * time.Second
	maxBackoff         = time.Hour
)

// Queue is a durable delayed job queue over SQLite. Workers poll it via
// DequeueDue; producers use Enqueue (replace any pending entry for the
// schedule) or EnsurePending (no-op if one exists).
type Queue struct {
	store       *store
	maxAttempts int
	backoffBase time.Duration
}

// Options tunes queue retry behavior
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// New creates a queue over an existing database connection
func New(db *sql.DB, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	return &Queue{
		store:       &store{db: db},
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
	}
}

// Enqueue inserts a pending job that becomes due after delay. When
// scheduleID is non-empty any existing pending job for that schedule is
// replaced in the same transaction, so a re-trigger reflects the latest
// schedule state instead of colliding with the unique index.
func (q *Queue) Enqueue(scheduleID string, payload json.RawMessage, delay time.Duration, priority int) (*Job, error) {
	job := newJob(scheduleID, payload, delay, priority, q.maxAttempts)

	tx, err := q.store.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin enqueue transaction")
	}
	defer tx.Rollback()

	if scheduleID != "" {
		if err := q.store.deletePending(tx, scheduleID); err != nil {
			return nil, err
		}
	}
	if err := q.store.insert(tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit enqueue transaction")
	}

	logger.Logger.Debugw("job enqueued",
		"job_id", job.ID,
		"schedule_id", scheduleID,
		"run_at", job.RunAt)
	return job, nil
}

// EnsurePending enqueues a job for the schedule only if none is pending.
// Used by the reconciliation loop, which must be idempotent: running it
// twice leaves exactly one pending entry per active schedule.
func (q *Queue) EnsurePending(scheduleID string, payload json.RawMessage, runAt time.Time) (*Job, error) {
	existing, err := q.store.getPendingForSchedule(scheduleID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return q.Enqueue(scheduleID, payload, time.Until(runAt), 0)
}

// Cancel removes any pending job for the schedule. Jobs already claimed
// by a worker are untouched.
func (q *Queue) Cancel(scheduleID string) error {
	tx, err := q.store.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin cancel transaction")
	}
	defer tx.Rollback()

	if err := q.store.deletePending(tx, scheduleID); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit cancel transaction")
}

// DequeueDue claims the highest-priority due job. Returns nil when the
// queue has nothing due. The claim is a guarded UPDATE, so two workers
// polling simultaneously cannot both receive the same job.
func (q *Queue) DequeueDue(now time.Time) (*Job, error) {
	for {
		id, err := q.store.nextDueID(now)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}

		claimed, err := q.store.claim(id)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// lost the race, try the next candidate
			continue
		}
		return q.store.get(id)
	}
}

// Complete marks a claimed job as done
func (q *Queue) Complete(jobID string) error {
	return q.store.setStatus(q.store.db, jobID, JobStatusCompleted, nil, "")
}

// Retry handles a processing failure. The job goes back to pending with
// exponential backoff, or to the dead letter state once its attempts are
// exhausted. This is queue-level retry for infrastructure failures; it
// never reruns a workflow that failed on its own.
func (q *Queue) Retry(job *Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		logger.Logger.Warnw("job moved to dead letter",
			"job_id", job.ID,
			"schedule_id", job.ScheduleID,
			"attempts", job.Attempts,
			"error", msg)
		return q.store.setStatus(q.store.db, job.ID, JobStatusDead, nil, msg)
	}

	shift := job.Attempts - 1
	if shift < 0 {
		shift = 0
	}
	delay := q.backoffBase << shift
	if delay > maxBackoff {
		delay = maxBackoff
	}
	runAt := time.Now().UTC().Add(delay)

	// A reconciliation sweep may have queued the schedule's next fire
	// while this job was running; the retried job replaces that entry so
	// the unique pending index is never violated.
	tx, err := q.store.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin retry transaction")
	}
	defer tx.Rollback()

	if job.ScheduleID != "" {
		if err := q.store.deletePendingExcept(tx, job.ScheduleID, job.ID); err != nil {
			return err
		}
	}
	if err := q.store.setStatus(tx, job.ID, JobStatusPending, &runAt, msg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit retry transaction")
	}

	logger.Logger.Infow("job scheduled for retry",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"retry_in", delay)
	return nil
}

// RecoverOrphans returns every running job to pending. Called once at
// startup: any job still marked running was orphaned by a crash, since
// no worker holds claims across restarts.
func (q *Queue) RecoverOrphans() (int, error) {
	n, err := q.store.recoverRunning()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Logger.Infow("recovered orphaned jobs", "count", n)
	}
	return n, nil
}

// PendingForSchedule returns the schedule's pending job, nil if none
func (q *Queue) PendingForSchedule(scheduleID string) (*Job, error) {
	return q.store.getPendingForSchedule(scheduleID)
}

// Get returns a job by ID
func (q *Queue) Get(id string) (*Job, error) {
	return q.store.get(id)
}

// Cleanup deletes finished jobs older than the cutoff
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	return q.store.cleanupOld(olderThan)
}

// Stats summarizes queue depth by state. Failed counts jobs that failed
// at least one processing attempt and are waiting to be retried; Dead
// counts jobs that exhausted their attempts.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

// GetStats returns current queue depth counters
func (q *Queue) GetStats() (*Stats, error) {
	var stats Stats
	var err error

	if stats.Waiting, err = q.store.countByStatus(JobStatusPending); err != nil {
		return nil, err
	}
	if stats.Active, err = q.store.countByStatus(JobStatusRunning); err != nil {
		return nil, err
	}
	if stats.Completed, err = q.store.countByStatus(JobStatusCompleted); err != nil {
		return nil, err
	}
	if stats.Failed, err = q.store.countRetryPending(); err != nil {
		return nil, err
	}
	if stats.Dead, err = q.store.countByStatus(JobStatusDead); err != nil {
		return nil, err
	}
	return &stats, nil
}
