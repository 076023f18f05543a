package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ayu2310/Wflow/errors"
)

// store handles queue persistence. All claim-state changes are guarded
// UPDATEs so concurrent workers cannot double-claim a job.
type store struct {
	db *sql.DB
}

const jobColumns = `
	id, schedule_id, payload, run_at, priority, status,
	attempts, max_attempts, last_error, created_at, updated_at`

// insert adds a job row
func (s *store) insert(tx *sql.Tx, job *Job) error {
	_, err := tx.Exec(`
		INSERT INTO queue_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullableID(job.ScheduleID), string(job.Payload),
		job.RunAt.UTC().Format(time.RFC3339), job.Priority, string(job.Status),
		job.Attempts, job.MaxAttempts, nullableID(job.LastError),
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert job %s", job.ID)
	}
	return nil
}

// deletePending removes any pending job for a schedule inside a tx
func (s *store) deletePending(tx *sql.Tx, scheduleID string) error {
	_, err := tx.Exec(`
		DELETE FROM queue_jobs
		WHERE schedule_id = ? AND status = ?`,
		scheduleID, string(JobStatusPending))
	if err != nil {
		return errors.Wrapf(err, "failed to remove pending job for schedule %s", scheduleID)
	}
	return nil
}

// deletePendingExcept removes pending jobs for a schedule, sparing one.
// Used by retry, where the job going back to pending must not delete
// itself.
func (s *store) deletePendingExcept(tx *sql.Tx, scheduleID, keepID string) error {
	_, err := tx.Exec(`
		DELETE FROM queue_jobs
		WHERE schedule_id = ? AND status = ? AND id != ?`,
		scheduleID, string(JobStatusPending), keepID)
	if err != nil {
		return errors.Wrapf(err, "failed to remove pending job for schedule %s", scheduleID)
	}
	return nil
}

// getPendingForSchedule returns the pending job for a schedule, nil if none
func (s *store) getPendingForSchedule(scheduleID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobColumns+`
		FROM queue_jobs
		WHERE schedule_id = ? AND status = ?`,
		scheduleID, string(JobStatusPending))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get pending job for schedule %s", scheduleID)
	}
	return job, nil
}

// get returns a job by ID
func (s *store) get(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// nextDueID returns the ID of the best due pending job, or "" if none.
// Highest priority first, then oldest run_at.
func (s *store) nextDueID(now time.Time) (string, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM queue_jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY priority DESC, run_at ASC
		LIMIT 1`,
		string(JobStatusPending), now.UTC().Format(time.RFC3339)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to find due job")
	}
	return id, nil
}

// claim transitions a pending job to running and bumps its attempt
// counter. Returns false if another worker claimed it first.
func (s *store) claim(id string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE queue_jobs
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(JobStatusRunning), time.Now().UTC().Format(time.RFC3339),
		id, string(JobStatusPending))
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// setStatus moves a job to a final or retry state
func (s *store) setStatus(ex execer, id string, status JobStatus, runAt *time.Time, lastError string) error {
	var err error
	if runAt != nil {
		_, err = ex.Exec(`
			UPDATE queue_jobs
			SET status = ?, run_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`,
			string(status), runAt.UTC().Format(time.RFC3339), nullableID(lastError),
			time.Now().UTC().Format(time.RFC3339), id)
	} else {
		_, err = ex.Exec(`
			UPDATE queue_jobs
			SET status = ?, last_error = ?, updated_at = ?
			WHERE id = ?`,
			string(status), nullableID(lastError),
			time.Now().UTC().Format(time.RFC3339), id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s status to %s", id, status)
	}
	return nil
}

// recoverRunning re-queues every job stuck in running state. A
// reconciliation sweep may have queued a fresh pending entry for a
// schedule while its fired job was still running; the recovered job
// replaces that entry so the unique pending index is never violated.
// Returns the number of jobs recovered.
func (s *store) recoverRunning() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin recovery transaction")
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, schedule_id FROM queue_jobs WHERE status = ?`,
		string(JobStatusRunning))
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running jobs")
	}

	type orphan struct {
		id         string
		scheduleID sql.NullString
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.scheduleID); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "failed to scan running job")
		}
		orphans = append(orphans, o)
	}
	if err := rows.Close(); err != nil {
		return 0, errors.Wrap(err, "failed to read running jobs")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, o := range orphans {
		if o.scheduleID.Valid {
			if err := s.deletePending(tx, o.scheduleID.String); err != nil {
				return 0, err
			}
		}
		if _, err := tx.Exec(`
			UPDATE queue_jobs
			SET status = ?, updated_at = ?
			WHERE id = ?`,
			string(JobStatusPending), now, o.id); err != nil {
			return 0, errors.Wrapf(err, "failed to recover job %s", o.id)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit recovery transaction")
	}
	return len(orphans), nil
}

// countByStatus returns the number of jobs in a given status
func (s *store) countByStatus(status JobStatus) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_jobs WHERE status = ?`,
		string(status)).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count %s jobs", status)
	}
	return count, nil
}

// countRetryPending returns pending jobs with at least one failed
// processing attempt behind them
func (s *store) countRetryPending() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM queue_jobs
		WHERE status = ? AND attempts > 0`,
		string(JobStatusPending)).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count retry-pending jobs")
	}
	return count, nil
}

// cleanupOld removes completed and dead jobs older than the cutoff
func (s *store) cleanupOld(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.Exec(`
		DELETE FROM queue_jobs
		WHERE status IN (?, ?) AND updated_at < ?`,
		string(JobStatusCompleted), string(JobStatusDead), cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduleID, lastError sql.NullString
	var payload, runAt, status, createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &scheduleID, &payload, &runAt, &job.Priority, &status,
		&job.Attempts, &job.MaxAttempts, &lastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduleID.Valid {
		job.ScheduleID = scheduleID.String
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	job.Payload = json.RawMessage(payload)
	job.Status = JobStatus(status)

	job.RunAt, err = time.Parse(time.RFC3339, runAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse run_at for job %s", job.ID)
	}
	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}

	return &job, nil
}

func nullableID(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
