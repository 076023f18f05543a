package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/execution"
	wftesting "github.com/ayu2310/Wflow/internal/testing"
	"github.com/ayu2310/Wflow/internal/util"
	"github.com/ayu2310/Wflow/queue"
	"github.com/ayu2310/Wflow/schedule"
	"github.com/ayu2310/Wflow/workflow"
)

// fakeSessions provisions in-memory session handles
type fakeSessions struct {
	mu        sync.Mutex
	created   int
	closed    map[string]int
	createErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{closed: make(map[string]int)}
}

func (f *fakeSessions) CreateSession(ctx context.Context, cfg SessionConfig) (*SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &SessionHandle{ID: "sess-1"}, nil
}

func (f *fakeSessions) CloseSession(ctx context.Context, handle *SessionHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[handle.ID]++
	return nil
}

// fakeSteps executes steps from a scripted behavior table
type fakeSteps struct {
	mu sync.Mutex
	// stepErrs maps step ID to the error that step returns
	stepErrs map[string]error
	// conditionOutcome is returned by every EvaluateCondition call
	conditionOutcome bool
	// stepDelay simulates slow steps
	stepDelay time.Duration
	executed  []string
}

func (f *fakeSteps) ExecuteStep(ctx context.Context, session *SessionHandle, step workflow.Step) (json.RawMessage, error) {
	if f.stepDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.stepDelay):
		}
	}
	f.mu.Lock()
	f.executed = append(f.executed, step.ID)
	err := f.stepErrs[step.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeSteps) EvaluateCondition(ctx context.Context, session *SessionHandle, cond workflow.Condition) (bool, error) {
	return f.conditionOutcome, nil
}

func (f *fakeSteps) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

type testHarness struct {
	engine     *Engine
	queue      *queue.Queue
	workflows  *workflow.Store
	schedules  *schedule.Service
	executions *execution.Store
	sessions   *fakeSessions
	steps      *fakeSteps
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	conn := wftesting.CreateTestDB(t)

	q := queue.New(conn, queue.Options{})
	workflows := workflow.NewStore(conn)
	executions := execution.NewStore(conn)
	schedules := schedule.NewService(schedule.NewStore(conn), q)
	sessions := newFakeSessions()
	steps := &fakeSteps{stepErrs: map[string]error{}}

	eng := New(workflows, schedules, executions, q, sessions, steps, nil, nil,
		BrowserDefaults{Headless: true, Viewport: workflow.Viewport{Width: 1280, Height: 720}})

	return &testHarness{
		engine:     eng,
		queue:      q,
		workflows:  workflows,
		schedules:  schedules,
		executions: executions,
		sessions:   sessions,
		steps:      steps,
	}
}

func (h *testHarness) createWorkflow(t *testing.T, steps ...workflow.Step) *workflow.Workflow {
	t.Helper()
	w := &workflow.Workflow{
		UserID: "user-1",
		Name:   "test workflow",
		Steps:  steps,
	}
	_, err := h.workflows.Create(w)
	require.NoError(t, err)
	return w
}

func (h *testHarness) createSchedule(t *testing.T, workflowID string, mutate func(*schedule.Schedule)) *schedule.Schedule {
	t.Helper()
	sched := &schedule.Schedule{
		UserID:         "user-1",
		WorkflowID:     workflowID,
		CronExpression: "*/5 * * * *",
		Timezone:       "UTC",
		Active:         true,
	}
	if mutate != nil {
		mutate(sched)
	}
	created, err := h.schedules.Create(sched)
	require.NoError(t, err)
	return created
}

// drainOne claims the schedule's due job and processes it
func (h *testHarness) drainOne(t *testing.T) *queue.Job {
	t.Helper()
	job, err := h.queue.DequeueDue(time.Now().Add(10 * time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job, "expected a due job")

	if err := h.engine.ProcessJob(context.Background(), job); err != nil {
		require.NoError(t, h.queue.Retry(job, err))
	} else {
		require.NoError(t, h.queue.Complete(job.ID))
	}
	return job
}

func (h *testHarness) latestExecution(t *testing.T, workflowID string) *execution.Execution {
	t.Helper()
	execs, err := h.executions.ListByWorkflow(workflowID, 1, 1)
	require.NoError(t, err)
	require.NotEmpty(t, execs)
	return execs[0]
}

func TestScheduledRunHappyPath(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t,
		workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1},
		workflow.Step{ID: "s2", Type: workflow.StepExtract, Order: 2},
	)
	sched := h.createSchedule(t, w.ID, nil)

	h.drainOne(t)

	exec := h.latestExecution(t, w.ID)
	assert.Equal(t, execution.StatusCompleted, exec.Status)
	assert.Equal(t, sched.ID, exec.ScheduleID)
	assert.Equal(t, "sess-1", exec.SessionID)
	assert.JSONEq(t, `{"ok":true}`, string(exec.Results["s1"]))
	assert.JSONEq(t, `{"ok":true}`, string(exec.Results["s2"]))
	assert.Equal(t, []string{"s1", "s2"}, h.steps.order())
	assert.Equal(t, 1, h.sessions.closed["sess-1"], "session closed exactly once")

	logs, err := h.executions.Logs(exec.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(logs), 4, "start and complete entries for both steps")
	var started, completed int
	for _, entry := range logs {
		switch entry.Message {
		case "step started":
			started++
		case "step completed":
			completed++
		}
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, completed)

	got, err := h.schedules.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Zero(t, got.FailureCount)

	next, err := h.queue.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, next, "next fire queued after the run")
}

func TestRequiredStepFailureFailsRunAndQueuesRetry(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t,
		workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1},
		workflow.Step{ID: "s2", Type: workflow.StepAct, Order: 2},
	)
	sched := h.createSchedule(t, w.ID, func(s *schedule.Schedule) {
		s.RetryOnFailure = true
		s.MaxRetries = 1
		s.RetryDelay = time.Minute
	})
	h.steps.stepErrs["s1"] = errors.New("element not found")

	h.drainOne(t)

	execs, err := h.executions.ListBySchedule(sched.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2, "failed run plus its queued retry")

	var failed, retry *execution.Execution
	for _, e := range execs {
		if e.Status == execution.StatusFailed {
			failed = e
		} else {
			retry = e
		}
	}
	require.NotNil(t, failed)
	require.NotNil(t, retry)

	assert.Contains(t, failed.ErrorMessage, "element not found")
	assert.Equal(t, "step_failed:s1", failed.ErrorCode)
	assert.NotContains(t, h.steps.order(), "s2", "required failure aborts remaining steps")

	assert.Equal(t, execution.StatusPending, retry.Status)
	assert.Equal(t, failed.ID, retry.RetryOf)
	assert.Equal(t, 1, retry.RetryCount)

	got, err := h.schedules.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailureCount)

	next, err := h.queue.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	assert.NotNil(t, next, "one failed run never stalls the schedule")
}

func TestOptionalStepFailureContinues(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t,
		workflow.Step{ID: "s1", Type: workflow.StepObserve, Order: 1, Required: util.Ptr(false)},
		workflow.Step{ID: "s2", Type: workflow.StepExtract, Order: 2},
	)
	h.createSchedule(t, w.ID, nil)
	h.steps.stepErrs["s1"] = errors.New("flaky selector")

	h.drainOne(t)

	exec := h.latestExecution(t, w.ID)
	assert.Equal(t, execution.StatusCompleted, exec.Status)
	assert.JSONEq(t, `{"error":"flaky selector"}`, string(exec.Results["s1"]))
	assert.JSONEq(t, `{"ok":true}`, string(exec.Results["s2"]))
}

func TestRunTimeout(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t,
		workflow.Step{ID: "s1", Type: workflow.StepWait, Order: 1},
		workflow.Step{ID: "s2", Type: workflow.StepExtract, Order: 2},
	)
	h.createSchedule(t, w.ID, func(s *schedule.Schedule) {
		s.Timeout = 50 * time.Millisecond
	})
	h.steps.stepDelay = 200 * time.Millisecond

	h.drainOne(t)

	exec := h.latestExecution(t, w.ID)
	assert.Equal(t, execution.StatusTimeout, exec.Status)
	assert.Equal(t, 1, h.sessions.closed["sess-1"], "session released on timeout")
}

func TestProvisioningFailureGoesPendingToFailed(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})
	sched := h.createSchedule(t, w.ID, nil)
	h.sessions.createErr = errors.Wrap(errors.ErrProvisioning, "no capacity")

	h.drainOne(t)

	exec := h.latestExecution(t, w.ID)
	assert.Equal(t, execution.StatusFailed, exec.Status)
	assert.Equal(t, "provisioning", exec.ErrorCode)
	assert.Nil(t, exec.StartedAt, "run never started")
	assert.Empty(t, h.steps.order())

	got, err := h.schedules.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailureCount)
}

func TestPausedScheduleJobDroppedAtClaim(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})
	sched := h.createSchedule(t, w.ID, nil)

	// pause after the fire was queued but leave the job in place, as if
	// the pause raced the queue entry
	require.NoError(t, h.schedules.Store().SetActive(sched.ID, false))

	job, err := h.queue.DequeueDue(time.Now().Add(10 * time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, h.engine.ProcessJob(context.Background(), job))

	execs, err := h.executions.ListBySchedule(sched.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, execs, "no run for a paused schedule")
	assert.Empty(t, h.steps.order())
}

func TestConditionStepRunsChosenBranch(t *testing.T) {
	h := newHarness(t)

	cfg, err := json.Marshal(workflow.ConditionStepConfig{
		Condition: workflow.Condition{Kind: workflow.ConditionElementExists, Selector: "#sale"},
		Then:      []workflow.Step{{ID: "then-1", Type: workflow.StepAct, Order: 1}},
		Else:      []workflow.Step{{ID: "else-1", Type: workflow.StepAct, Order: 1}},
	})
	require.NoError(t, err)

	w := h.createWorkflow(t,
		workflow.Step{ID: "cond", Type: workflow.StepCondition, Order: 1, Config: cfg},
		workflow.Step{ID: "after", Type: workflow.StepExtract, Order: 2},
	)
	h.createSchedule(t, w.ID, nil)
	h.steps.conditionOutcome = true

	h.drainOne(t)

	exec := h.latestExecution(t, w.ID)
	assert.Equal(t, execution.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"then-1", "after"}, h.steps.order())
	assert.JSONEq(t, `{"condition":true}`, string(exec.Results["cond"]))
	assert.Contains(t, exec.Results, "then-1")
	assert.NotContains(t, exec.Results, "else-1")
}

func TestConcurrencyCeilingPushesBack(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})
	sched := h.createSchedule(t, w.ID, func(s *schedule.Schedule) {
		s.MaxConcurrentRuns = 1
	})

	// an execution already in flight for this schedule
	inflight := &execution.Execution{
		UserID:     "user-1",
		WorkflowID: w.ID,
		ScheduleID: sched.ID,
	}
	require.NoError(t, h.executions.Create(inflight))
	require.NoError(t, h.executions.MarkStarted(inflight.ID, "sess-0"))

	job, err := h.queue.DequeueDue(time.Now().Add(10 * time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, h.engine.ProcessJob(context.Background(), job))
	require.NoError(t, h.queue.Complete(job.ID))

	// no new run started; a fresh pending entry waits out the ceiling
	execs, err := h.executions.ListBySchedule(sched.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	pushed, err := h.queue.PendingForSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, pushed)
	assert.True(t, pushed.RunAt.After(time.Now()), "pushed-back entry is delayed")
}

func TestManualSubmitRunsImmediately(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})

	exec, err := h.engine.Submit("user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, exec.Status)
	assert.Empty(t, exec.ScheduleID)

	h.drainOne(t)

	got, err := h.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, got.Status)
}

func TestCancelPendingExecution(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})

	exec, err := h.engine.Submit("user-1", w.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.Cancel(exec.ID))

	got, err := h.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, got.Status)
}

func TestCancelledExecutionJobDroppedAtFireTime(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})

	exec, err := h.engine.Submit("user-1", w.ID)
	require.NoError(t, err)
	require.NoError(t, h.engine.Cancel(exec.ID))

	// the job is still queued; firing it must not redeliver or error
	job, err := h.queue.DequeueDue(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, h.engine.ProcessJob(context.Background(), job))

	got, err := h.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, got.Status)
	assert.Empty(t, h.steps.order(), "no step runs for a cancelled execution")
	assert.Zero(t, h.sessions.created, "no session provisioned")
}

func TestRetryExecutionRequiresTerminalState(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkflow(t, workflow.Step{ID: "s1", Type: workflow.StepNavigate, Order: 1})

	exec, err := h.engine.Submit("user-1", w.ID)
	require.NoError(t, err)

	_, err = h.engine.RetryExecution(exec, 0)
	assert.True(t, errors.IsIllegalTransitionError(err))
}
