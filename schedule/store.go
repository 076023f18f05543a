package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ayu2310/Wflow/errors"
)

// Store handles persistence of schedules. It never touches the job
// queue: reacting to schedule changes is the Service's job.
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `
	id, user_id, workflow_id, cron_expression, timezone, active,
	next_run_at, last_run_at, run_count, success_count, failure_count,
	max_concurrent_runs, retry_on_failure, max_retries,
	retry_delay_seconds, timeout_seconds,
	notify_on_success, notify_on_failure, notify_on_start,
	metadata, created_at, updated_at`

// Create persists a new schedule. The caller is responsible for eager
// cron validation and the initial NextRunAt computation.
func (s *Store) Create(sched *Schedule) error {
	metadataJSON, err := marshalMetadata(sched.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.UserID, sched.WorkflowID,
		sched.CronExpression, sched.Timezone, sched.Active,
		timePtr(sched.NextRunAt), timePtr(sched.LastRunAt),
		sched.RunCount, sched.SuccessCount, sched.FailureCount,
		sched.MaxConcurrentRuns, sched.RetryOnFailure, sched.MaxRetries,
		int(sched.RetryDelay.Seconds()), int(sched.Timeout.Seconds()),
		sched.NotifyOnSuccess, sched.NotifyOnFailure, sched.NotifyOnStart,
		metadataJSON,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", sched.ID)
	}
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("schedule %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return sched, nil
}

// Update persists mutable schedule fields. The workflow reference is
// immutable and deliberately not part of the statement.
func (s *Store) Update(sched *Schedule) error {
	metadataJSON, err := marshalMetadata(sched.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE schedules SET
			cron_expression = ?, timezone = ?, active = ?,
			next_run_at = ?,
			max_concurrent_runs = ?, retry_on_failure = ?, max_retries = ?,
			retry_delay_seconds = ?, timeout_seconds = ?,
			notify_on_success = ?, notify_on_failure = ?, notify_on_start = ?,
			metadata = ?, updated_at = ?
		WHERE id = ?`,
		sched.CronExpression, sched.Timezone, sched.Active,
		timePtr(sched.NextRunAt),
		sched.MaxConcurrentRuns, sched.RetryOnFailure, sched.MaxRetries,
		int(sched.RetryDelay.Seconds()), int(sched.Timeout.Seconds()),
		sched.NotifyOnSuccess, sched.NotifyOnFailure, sched.NotifyOnStart,
		metadataJSON, now.Format(time.RFC3339),
		sched.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %s", sched.ID)
	}
	return requireRow(result, sched.ID)
}

// Delete removes a schedule
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}
	return requireRow(result, id)
}

// SetActive toggles the active flag
func (s *Store) SetActive(id string, active bool) error {
	result, err := s.db.Exec(`
		UPDATE schedules SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set active for schedule %s", id)
	}
	return requireRow(result, id)
}

// SetNextRun records a freshly computed next trigger instant
func (s *Store) SetNextRun(id string, next time.Time) error {
	result, err := s.db.Exec(`
		UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		next.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set next run for schedule %s", id)
	}
	return requireRow(result, id)
}

// RecordRunOutcome bumps run statistics after an execution finishes.
// Single atomic UPDATE so concurrent runs of the same schedule cannot
// lose increments.
func (s *Store) RecordRunOutcome(id string, success bool, ranAt time.Time) error {
	successDelta := 0
	failureDelta := 0
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}

	result, err := s.db.Exec(`
		UPDATE schedules SET
			run_count = run_count + 1,
			success_count = success_count + ?,
			failure_count = failure_count + ?,
			last_run_at = ?,
			updated_at = ?
		WHERE id = ?`,
		successDelta, failureDelta,
		ranAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id)
	if err != nil {
		return errors.Wrapf(err, "failed to record run outcome for schedule %s", id)
	}
	return requireRow(result, id)
}

// ListActive returns all active schedules, soonest next run first.
// Used by the reconciliation loop at startup.
func (s *Store) ListActive() ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE active = 1
		ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active schedules")
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDue returns active schedules whose next run has already passed.
// The reconciliation sweep re-enqueues these; limited to 100 per batch
// so a large backlog cannot overwhelm the worker pool.
func (s *Store) ListDue(now time.Time) ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE active = 1 AND next_run_at IS NOT NULL AND next_run_at < ?
		ORDER BY next_run_at ASC
		LIMIT 100`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListByUser returns a user's schedules, newest first, with pagination.
// Page is 1-based.
func (s *Store) ListByUser(userID string, page, limit int) ([]*Schedule, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list schedules for user %s", userID)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListByWorkflow returns schedules bound to a workflow
func (s *Store) ListByWorkflow(workflowID string) ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE workflow_id = ?
		ORDER BY created_at DESC`,
		workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list schedules for workflow %s", workflowID)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var nextRunAt, lastRunAt, metadata sql.NullString
	var retryDelaySeconds, timeoutSeconds int
	var createdAt, updatedAt string

	err := row.Scan(
		&sched.ID, &sched.UserID, &sched.WorkflowID,
		&sched.CronExpression, &sched.Timezone, &sched.Active,
		&nextRunAt, &lastRunAt,
		&sched.RunCount, &sched.SuccessCount, &sched.FailureCount,
		&sched.MaxConcurrentRuns, &sched.RetryOnFailure, &sched.MaxRetries,
		&retryDelaySeconds, &timeoutSeconds,
		&sched.NotifyOnSuccess, &sched.NotifyOnFailure, &sched.NotifyOnStart,
		&metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sched.RetryDelay = time.Duration(retryDelaySeconds) * time.Second
	sched.Timeout = time.Duration(timeoutSeconds) * time.Second

	if nextRunAt.Valid {
		t, err := time.Parse(time.RFC3339, nextRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_run_at for schedule %s", sched.ID)
		}
		sched.NextRunAt = &t
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_run_at for schedule %s", sched.ID)
		}
		sched.LastRunAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sched.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to parse metadata for schedule %s", sched.ID)
		}
	}

	sched.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for schedule %s", sched.ID)
	}
	sched.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for schedule %s", sched.ID)
	}

	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func marshalMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schedule metadata")
	}
	return string(data), nil
}

func timePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("schedule %s", id)
	}
	return nil
}
