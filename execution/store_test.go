package execution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu2310/Wflow/errors"
	wftesting "github.com/ayu2310/Wflow/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn := wftesting.CreateTestDB(t)
	wftesting.SeedWorkflow(t, conn, "wf-1", "user-1")
	return NewStore(conn)
}

func createPending(t *testing.T, store *Store) *Execution {
	t.Helper()
	exec := &Execution{
		UserID:     "user-1",
		WorkflowID: "wf-1",
		MaxRetries: 2,
	}
	require.NoError(t, store.Create(exec))
	return exec
}

func TestCreateStartsPending(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Zero(t, got.RetryCount)
}

func TestHappyPathPendingRunningCompleted(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)

	require.NoError(t, store.MarkStarted(exec.ID, "sess-1"))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "sess-1", got.SessionID)
	require.NotNil(t, got.StartedAt)

	results := map[string]json.RawMessage{
		"step-1": json.RawMessage(`{"title":"Example"}`),
	}
	require.NoError(t, store.MarkCompleted(exec.ID, results))

	got, err = store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationMS)
	assert.JSONEq(t, `{"title":"Example"}`, string(got.Results["step-1"]))
}

func TestPendingToFailedOnProvisioningFailure(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)

	require.NoError(t, store.MarkFailed(exec.ID, "no sessions available", "provisioning", nil))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "no sessions available", got.ErrorMessage)
	assert.Equal(t, "provisioning", got.ErrorCode)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.DurationMS, "no start instant means no duration")
}

func TestCancelFromPendingAndRunning(t *testing.T) {
	store := newTestStore(t)

	pending := createPending(t, store)
	require.NoError(t, store.MarkCancelled(pending.ID))
	got, err := store.Get(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	running := createPending(t, store)
	require.NoError(t, store.MarkStarted(running.ID, "sess-1"))
	require.NoError(t, store.MarkCancelled(running.ID))
	got, err = store.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestTimeoutOnlyFromRunning(t *testing.T) {
	store := newTestStore(t)

	exec := createPending(t, store)
	err := store.MarkTimeout(exec.ID)
	assert.True(t, errors.IsIllegalTransitionError(err), "pending cannot time out")

	require.NoError(t, store.MarkStarted(exec.ID, "sess-1"))
	require.NoError(t, store.MarkTimeout(exec.ID))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, got.Status)
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)
	require.NoError(t, store.MarkStarted(exec.ID, "sess-1"))
	require.NoError(t, store.MarkCompleted(exec.ID, nil))

	assert.True(t, errors.IsIllegalTransitionError(store.MarkStarted(exec.ID, "sess-2")))
	assert.True(t, errors.IsIllegalTransitionError(store.MarkFailed(exec.ID, "late", "x", nil)))
	assert.True(t, errors.IsIllegalTransitionError(store.MarkCancelled(exec.ID)))
	assert.True(t, errors.IsIllegalTransitionError(store.MarkTimeout(exec.ID)))
}

func TestRepeatingTerminalTransitionIsNoOp(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)
	require.NoError(t, store.MarkStarted(exec.ID, "sess-1"))
	require.NoError(t, store.MarkCompleted(exec.ID, nil))

	// a second identical transition must not error or change the record
	require.NoError(t, store.MarkCompleted(exec.ID, nil))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRunningCannotRestart(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)
	require.NoError(t, store.MarkStarted(exec.ID, "sess-1"))

	assert.True(t, errors.IsIllegalTransitionError(store.MarkStarted(exec.ID, "sess-2")))
}

func TestAppendLogDroppedOnTerminalExecution(t *testing.T) {
	store := newTestStore(t)
	exec := createPending(t, store)

	require.NoError(t, store.AppendLog(exec.ID, LogLevelInfo, "queued", nil))
	require.NoError(t, store.MarkStarted(exec.ID, "sess-1"))
	require.NoError(t, store.AppendLog(exec.ID, LogLevelInfo, "step started", json.RawMessage(`{"step":"s1"}`)))
	require.NoError(t, store.MarkCompleted(exec.ID, nil))

	// late flush after completion: silently dropped
	require.NoError(t, store.AppendLog(exec.ID, LogLevelInfo, "late line", nil))

	logs, err := store.Logs(exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "queued", logs[0].Message)
	assert.Equal(t, "step started", logs[1].Message)
}

func TestAppendLogUnknownExecution(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendLog("exe_missing", LogLevelInfo, "hello", nil)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCountRunningForSchedule(t *testing.T) {
	conn := wftesting.CreateTestDB(t)
	wftesting.SeedWorkflow(t, conn, "wf-1", "user-1")
	wftesting.SeedSchedule(t, conn, "sch-1", "wf-1", "user-1")
	store := NewStore(conn)

	for i := 0; i < 3; i++ {
		exec := &Execution{UserID: "user-1", WorkflowID: "wf-1", ScheduleID: "sch-1"}
		require.NoError(t, store.Create(exec))
		if i > 0 {
			require.NoError(t, store.MarkStarted(exec.ID, "sess"))
		}
		if i == 2 {
			require.NoError(t, store.MarkCompleted(exec.ID, nil))
		}
	}

	// one pending, one running, one completed: only running counts
	count, err := store.CountRunningForSchedule("sch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListByStatusAndUnfinished(t *testing.T) {
	store := newTestStore(t)

	a := createPending(t, store)
	b := createPending(t, store)
	require.NoError(t, store.MarkStarted(b.ID, "sess"))
	c := createPending(t, store)
	require.NoError(t, store.MarkStarted(c.ID, "sess"))
	require.NoError(t, store.MarkCompleted(c.ID, nil))

	pending, err := store.ListByStatus(StatusPending, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	unfinished, err := store.ListUnfinished()
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)
}

func TestRetryLinkage(t *testing.T) {
	store := newTestStore(t)

	first := createPending(t, store)
	require.NoError(t, store.MarkStarted(first.ID, "sess"))
	require.NoError(t, store.MarkFailed(first.ID, "boom", "step_failed", nil))

	retry := &Execution{
		UserID:     "user-1",
		WorkflowID: "wf-1",
		RetryCount: first.RetryCount + 1,
		MaxRetries: first.MaxRetries,
		RetryOf:    first.ID,
	}
	require.NoError(t, store.Create(retry))

	got, err := store.Get(retry.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.RetryOf)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, StatusPending, got.Status)
}
