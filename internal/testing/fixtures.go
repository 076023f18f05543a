package testing

import (
	"database/sql"
	"testing"
	"time"
)

// SeedWorkflow inserts a minimal workflow row so rows referencing it
// pass foreign key checks
func SeedWorkflow(t *testing.T, conn *sql.DB, id, userID string) {
	t.Helper()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := conn.Exec(`
		INSERT INTO workflows (id, user_id, name, steps, settings, created_at, updated_at)
		VALUES (?, ?, ?, '[]', '{}', ?, ?)`,
		id, userID, "workflow "+id, now, now)
	if err != nil {
		t.Fatalf("Failed to seed workflow %s: %v", id, err)
	}
}

// SeedSchedule inserts a minimal active schedule row bound to an
// existing workflow
func SeedSchedule(t *testing.T, conn *sql.DB, id, workflowID, userID string) {
	t.Helper()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := conn.Exec(`
		INSERT INTO schedules (id, user_id, workflow_id, cron_expression, timezone, active, created_at, updated_at)
		VALUES (?, ?, ?, '*/5 * * * *', 'UTC', 1, ?, ?)`,
		id, userID, workflowID, now, now)
	if err != nil {
		t.Fatalf("Failed to seed schedule %s: %v", id, err)
	}
}
