package execution

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/internal/ids"
)

// Store persists executions and their log streams. All state
// transitions are status-guarded UPDATEs: the statement names the
// states it may fire from, and zero rows affected means the record was
// not in one of them. Repeating a terminal transition is a no-op; every
// other out-of-order transition is ErrIllegalTransition.
type Store struct {
	db *sql.DB
}

// NewStore creates a new execution store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const executionColumns = `
	id, user_id, workflow_id, schedule_id, status,
	started_at, completed_at, duration_ms, session_id, results,
	error_message, error_code, retry_count, max_retries, retry_of,
	metadata, created_at, updated_at`

// Create persists a new pending execution. The record exists before any
// work happens, so a crash at any later point leaves an auditable row.
func (s *Store) Create(exec *Execution) error {
	if exec.ID == "" {
		exec.ID = ids.New(ids.Execution)
	}
	exec.Status = StatusPending

	metadataJSON, err := marshalJSON(exec.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.UserID, exec.WorkflowID, nullable(exec.ScheduleID),
		string(exec.Status),
		nil, nil, nil, nullable(exec.SessionID), nil,
		nullable(exec.ErrorMessage), nullable(exec.ErrorCode),
		exec.RetryCount, exec.MaxRetries, nullable(exec.RetryOf),
		metadataJSON,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", exec.ID)
	}
	return nil
}

// Get retrieves an execution by ID
func (s *Store) Get(id string) (*Execution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("execution %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get execution %s", id)
	}
	return exec, nil
}

// MarkStarted moves pending to running, recording the session handle
// and start instant
func (s *Store) MarkStarted(id, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE executions
		SET status = ?, session_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusRunning), nullable(sessionID), now, now,
		id, string(StatusPending))
	if err != nil {
		return errors.Wrapf(err, "failed to mark execution %s started", id)
	}
	return s.checkTransition(result, id, StatusRunning)
}

// MarkCompleted moves running to completed, freezing results and
// computing the duration from the recorded start
func (s *Store) MarkCompleted(id string, results map[string]json.RawMessage) error {
	resultsJSON, err := marshalJSON(results)
	if err != nil {
		return err
	}
	return s.finish(id, StatusCompleted, resultsJSON, "", "", []Status{StatusRunning})
}

// MarkFailed moves running to failed. Also accepts pending to failed,
// which covers runs that never started because provisioning failed.
func (s *Store) MarkFailed(id, errMessage, errCode string, results map[string]json.RawMessage) error {
	resultsJSON, err := marshalJSON(results)
	if err != nil {
		return err
	}
	return s.finish(id, StatusFailed, resultsJSON, errMessage, errCode,
		[]Status{StatusRunning, StatusPending})
}

// MarkCancelled moves pending or running to cancelled
func (s *Store) MarkCancelled(id string) error {
	return s.finish(id, StatusCancelled, nil, "", "",
		[]Status{StatusPending, StatusRunning})
}

// MarkTimeout moves running to timeout
func (s *Store) MarkTimeout(id string) error {
	return s.finish(id, StatusTimeout, nil, "execution deadline exceeded", "timeout",
		[]Status{StatusRunning})
}

// finish performs a guarded terminal transition from any of the listed
// states, computing duration_ms from started_at when one was recorded
func (s *Store) finish(id string, to Status, resultsJSON interface{}, errMessage, errCode string, from []Status) error {
	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if current.Status == to {
		// repeating a terminal transition is a no-op
		return nil
	}

	now := time.Now().UTC()
	var durationMS interface{}
	if current.StartedAt != nil {
		durationMS = now.Sub(*current.StartedAt).Milliseconds()
	}

	args := []interface{}{
		string(to), now.Format(time.RFC3339), durationMS,
		resultsJSON, nullable(errMessage), nullable(errCode),
		now.Format(time.RFC3339), id,
	}
	placeholders := ""
	for _, f := range from {
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(f))
	}

	result, err := s.db.Exec(`
		UPDATE executions
		SET status = ?, completed_at = ?, duration_ms = ?,
			results = COALESCE(?, results),
			error_message = ?, error_code = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to mark execution %s %s", id, to)
	}
	return s.checkTransition(result, id, to)
}

// checkTransition turns a zero-row guarded UPDATE into the right error
func (s *Store) checkTransition(result sql.Result, id string, to Status) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 1 {
		return nil
	}

	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if current.Status == to {
		return nil
	}
	return errors.Wrapf(errors.ErrIllegalTransition,
		"execution %s: %s -> %s", id, current.Status, to)
}

// SaveResults updates the results snapshot of a live execution. Used to
// persist partial step output as the run progresses.
func (s *Store) SaveResults(id string, results map[string]json.RawMessage) error {
	resultsJSON, err := marshalJSON(results)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE executions SET results = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		resultsJSON, time.Now().UTC().Format(time.RFC3339),
		id, string(StatusPending), string(StatusRunning))
	if err != nil {
		return errors.Wrapf(err, "failed to save results for execution %s", id)
	}
	return nil
}

// AppendLog attaches a log line to a live execution. Logs against
// terminal executions are dropped silently: a late worker flushing its
// buffer after cancellation is expected, not an error.
func (s *Store) AppendLog(executionID, level, message string, data json.RawMessage) error {
	var status string
	err := s.db.QueryRow(`SELECT status FROM executions WHERE id = ?`, executionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("execution %s", executionID)
		}
		return errors.Wrapf(err, "failed to check execution %s", executionID)
	}
	if Status(status).Terminal() {
		return nil
	}

	var dataValue interface{}
	if len(data) > 0 {
		dataValue = string(data)
	}
	_, err = s.db.Exec(`
		INSERT INTO execution_logs (execution_id, ts, level, message, data)
		VALUES (?, ?, ?, ?, ?)`,
		executionID, time.Now().UTC().Format(time.RFC3339Nano), level, message, dataValue)
	if err != nil {
		return errors.Wrapf(err, "failed to append log for execution %s", executionID)
	}
	return nil
}

// Logs returns an execution's log lines in insertion order
func (s *Store) Logs(executionID string) ([]*LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, execution_id, ts, level, message, data
		FROM execution_logs
		WHERE execution_id = ?
		ORDER BY id ASC`,
		executionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list logs for execution %s", executionID)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var entry LogEntry
		var ts string
		var data sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &ts, &entry.Level,
			&entry.Message, &data); err != nil {
			return nil, errors.Wrap(err, "failed to scan log entry")
		}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse log timestamp")
		}
		if data.Valid {
			entry.Data = json.RawMessage(data.String)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// ListByUser returns a user's executions, newest first. Page is 1-based.
func (s *Store) ListByUser(userID string, page, limit int) ([]*Execution, error) {
	return s.list(`WHERE user_id = ?`, userID, page, limit)
}

// ListByWorkflow returns a workflow's executions, newest first
func (s *Store) ListByWorkflow(workflowID string, page, limit int) ([]*Execution, error) {
	return s.list(`WHERE workflow_id = ?`, workflowID, page, limit)
}

// ListBySchedule returns a schedule's executions, newest first
func (s *Store) ListBySchedule(scheduleID string, page, limit int) ([]*Execution, error) {
	return s.list(`WHERE schedule_id = ?`, scheduleID, page, limit)
}

// ListByStatus returns executions in a given state, newest first
func (s *Store) ListByStatus(status Status, page, limit int) ([]*Execution, error) {
	return s.list(`WHERE status = ?`, string(status), page, limit)
}

func (s *Store) list(where string, arg interface{}, page, limit int) ([]*Execution, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT `+executionColumns+`
		FROM executions `+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		arg, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CountRunningForSchedule counts the schedule's in-flight runs. The
// concurrency ceiling check reads this, not the in-memory index, so it
// survives restarts. Pending runs are excluded: a run waiting in the
// queue holds no session, and a retry's own pending record must not
// block the retry from starting.
func (s *Store) CountRunningForSchedule(scheduleID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM executions
		WHERE schedule_id = ? AND status = ?`,
		scheduleID, string(StatusRunning)).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count running executions for schedule %s", scheduleID)
	}
	return count, nil
}

// ListUnfinished returns executions still pending or running. The
// reconciliation loop uses this to find runs orphaned by a crash.
func (s *Store) ListUnfinished() ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT `+executionColumns+`
		FROM executions
		WHERE status IN (?, ?)
		ORDER BY created_at ASC`,
		string(StatusPending), string(StatusRunning))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unfinished executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var scheduleID, startedAt, completedAt, sessionID sql.NullString
	var results, errorMessage, errorCode, retryOf, metadata sql.NullString
	var durationMS sql.NullInt64
	var status, createdAt, updatedAt string

	err := row.Scan(
		&exec.ID, &exec.UserID, &exec.WorkflowID, &scheduleID, &status,
		&startedAt, &completedAt, &durationMS, &sessionID, &results,
		&errorMessage, &errorCode, &exec.RetryCount, &exec.MaxRetries, &retryOf,
		&metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = Status(status)
	if scheduleID.Valid {
		exec.ScheduleID = scheduleID.String
	}
	if sessionID.Valid {
		exec.SessionID = sessionID.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = errorMessage.String
	}
	if errorCode.Valid {
		exec.ErrorCode = errorCode.String
	}
	if retryOf.Valid {
		exec.RetryOf = retryOf.String
	}
	if durationMS.Valid {
		exec.DurationMS = &durationMS.Int64
	}

	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
		}
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed_at for execution %s", exec.ID)
		}
		exec.CompletedAt = &t
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &exec.Results); err != nil {
			return nil, errors.Wrapf(err, "failed to parse results for execution %s", exec.ID)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &exec.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to parse metadata for execution %s", exec.ID)
		}
	}

	exec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for execution %s", exec.ID)
	}
	exec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for execution %s", exec.ID)
	}

	return &exec, nil
}

func marshalJSON(v interface{}) (interface{}, error) {
	switch m := v.(type) {
	case map[string]string:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]json.RawMessage:
		if len(m) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal execution field")
	}
	return string(data), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
