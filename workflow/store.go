package workflow

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/internal/ids"
)

// Store handles persistence of workflow documents
type Store struct {
	db *sql.DB
}

// NewStore creates a new workflow store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create validates and persists a new workflow. Missing step IDs are not
// tolerated here: the saved document is the parsed, deterministic form.
// Returns the validation warnings for the caller to log.
func (s *Store) Create(w *Workflow) ([]string, error) {
	if w.ID == "" {
		w.ID = ids.New(ids.Workflow)
	}

	warnings, err := w.Validate()
	if err != nil {
		return nil, err
	}

	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal workflow steps")
	}
	settingsJSON, err := json.Marshal(w.Settings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal workflow settings")
	}

	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO workflows (id, user_id, name, description, steps, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Name, nullable(w.Description),
		string(stepsJSON), string(settingsJSON),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create workflow %s", w.ID)
	}

	return warnings, nil
}

// Get retrieves a workflow by ID
func (s *Store) Get(id string) (*Workflow, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, description, steps, settings, created_at, updated_at
		FROM workflows WHERE id = ?`, id)

	w, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("workflow %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get workflow %s", id)
	}
	return w, nil
}

// Update replaces a workflow's mutable fields. Steps are re-validated;
// warnings are returned for the caller to log.
func (s *Store) Update(w *Workflow) ([]string, error) {
	warnings, err := w.Validate()
	if err != nil {
		return nil, err
	}

	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal workflow steps")
	}
	settingsJSON, err := json.Marshal(w.Settings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal workflow settings")
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE workflows
		SET name = ?, description = ?, steps = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		w.Name, nullable(w.Description), string(stepsJSON), string(settingsJSON),
		now.Format(time.RFC3339), w.ID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update workflow %s", w.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return nil, errors.NewNotFoundError("workflow %s", w.ID)
	}

	w.UpdatedAt = now
	return warnings, nil
}

// Delete removes a workflow
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete workflow %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("workflow %s", id)
	}
	return nil
}

// ListByUser returns a user's workflows, newest first, with pagination.
// Page is 1-based.
func (s *Store) ListByUser(userID string, page, limit int) ([]*Workflow, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, name, description, steps, settings, created_at, updated_at
		FROM workflows
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list workflows for user %s", userID)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan workflow")
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var w Workflow
	var description sql.NullString
	var stepsJSON, settingsJSON string
	var createdAt, updatedAt string

	err := row.Scan(&w.ID, &w.UserID, &w.Name, &description,
		&stepsJSON, &settingsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		w.Description = description.String
	}
	if err := json.Unmarshal([]byte(stepsJSON), &w.Steps); err != nil {
		return nil, errors.Wrapf(err, "failed to parse steps for workflow %s", w.ID)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &w.Settings); err != nil {
		return nil, errors.Wrapf(err, "failed to parse settings for workflow %s", w.ID)
	}

	w.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for workflow %s", w.ID)
	}
	w.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for workflow %s", w.ID)
	}

	return &w, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
