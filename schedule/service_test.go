package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu2310/Wflow/errors"
	wftesting "github.com/ayu2310/Wflow/internal/testing"
	"github.com/ayu2310/Wflow/queue"
)

func newTestService(t *testing.T) (*Service, *queue.Queue) {
	t.Helper()
	conn := wftesting.CreateTestDB(t)
	wftesting.SeedWorkflow(t, conn, "wf-1", "user-1")
	q := queue.New(conn, queue.Options{})
	return NewService(NewStore(conn), q), q
}

func TestServiceCreateComputesNextRunAndEnqueues(t *testing.T) {
	svc, q := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Timezone:       "UTC",
		Active:         true,
	})
	require.NoError(t, err)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(time.Now()))
	assert.Equal(t, 5*time.Minute, sched.Timeout, "default timeout applied")

	job, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, job, "active schedule gets a pending queue entry")

	payload, err := queue.DecodeRunPayload(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, sched.ID, payload.ScheduleID)
	assert.Equal(t, "wf-1", payload.WorkflowID)
}

func TestServiceCreateRejectsInvalidExpressionEagerly(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "nonsense",
		Active:         true,
	})
	assert.True(t, errors.IsInvalidExpressionError(err))
}

func TestServiceCreateInactiveDoesNotEnqueue(t *testing.T) {
	svc, q := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Active:         false,
	})
	require.NoError(t, err)

	job, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestServiceUpdateRejectsWorkflowChange(t *testing.T) {
	svc, _ := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Active:         true,
	})
	require.NoError(t, err)

	sched.WorkflowID = "wf-other"
	_, err = svc.Update(sched)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestServiceUpdateReplacesPendingEntry(t *testing.T) {
	svc, q := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Active:         true,
	})
	require.NoError(t, err)

	before, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, before)

	sched.CronExpression = "0 * * * *"
	updated, err := svc.Update(sched)
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", updated.CronExpression)

	after, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.NotEqual(t, before.ID, after.ID, "pending entry replaced, not kept")
}

func TestServicePauseResumeLifecycle(t *testing.T) {
	svc, q := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Active:         true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Pause(sched.ID))

	got, err := svc.Get(sched.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	job, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	assert.Nil(t, job, "pause withdraws the pending queue entry")

	require.NoError(t, svc.Resume(sched.ID))

	got, err = svc.Get(sched.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()), "resume recomputes next run from now")

	job, err = q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestServiceDeleteRemovesPendingEntry(t *testing.T) {
	svc, q := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Active:         true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(sched.ID))

	_, err = svc.Get(sched.ID)
	assert.True(t, errors.IsNotFoundError(err))

	job, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestServiceEnsureQueuedIsIdempotent(t *testing.T) {
	svc, q := newTestService(t)

	sched, err := svc.Create(&Schedule{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Active:         true,
	})
	require.NoError(t, err)

	first, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	now := time.Now()
	require.NoError(t, svc.EnsureQueued(sched, now))
	require.NoError(t, svc.EnsureQueued(sched, now))

	after, err := q.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, first.ID, after.ID, "reconciliation never duplicates a pending entry")
}
