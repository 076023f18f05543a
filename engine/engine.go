package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/execution"
	"github.com/ayu2310/Wflow/logger"
	"github.com/ayu2310/Wflow/queue"
	"github.com/ayu2310/Wflow/schedule"
	"github.com/ayu2310/Wflow/workflow"
)

// pushBackDelay spaces out re-attempts when a schedule is already at
// its concurrency ceiling
const pushBackDelay = 30 * time.Second

// BrowserDefaults fills session settings a workflow leaves unset
type BrowserDefaults struct {
	Headless bool
	Viewport workflow.Viewport
}

// Engine turns due queue jobs into workflow runs. The execution store
// is the authority on run state; the engine's active-run index exists
// only so Cancel can reach a live context, and is rebuilt empty on
// restart.
type Engine struct {
	workflows  *workflow.Store
	schedules  *schedule.Service
	executions *execution.Store
	queue      *queue.Queue
	sessions   SessionProvider
	steps      StepExecutor
	notifier   Notifier
	limiter    *SessionLimiter
	browser    BrowserDefaults

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	executionID string
	workflowID  string
	scheduleID  string
	startedAt   time.Time
	cancel      context.CancelFunc
}

// New creates an engine. Notifier may be nil.
func New(
	workflows *workflow.Store,
	schedules *schedule.Service,
	executions *execution.Store,
	q *queue.Queue,
	sessions SessionProvider,
	steps StepExecutor,
	notifier Notifier,
	limiter *SessionLimiter,
	browser BrowserDefaults,
) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		workflows:  workflows,
		schedules:  schedules,
		executions: executions,
		queue:      q,
		sessions:   sessions,
		steps:      steps,
		notifier:   notifier,
		limiter:    limiter,
		browser:    browser,
		active:     make(map[string]*activeRun),
	}
}

// ProcessJob handles one claimed queue job end to end. A nil return
// completes the job; an error sends it through queue-level retry.
func (e *Engine) ProcessJob(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeRunPayload(job.Payload)
	if err != nil {
		return err
	}

	// Scheduled fires re-read the schedule at claim time: pauses and
	// deletions that landed while the job waited win over the stale job.
	var sched *schedule.Schedule
	if payload.ScheduleID != "" {
		sched, err = e.schedules.Get(payload.ScheduleID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				logger.Logger.Infow("dropping job for deleted schedule",
					"job_id", job.ID, "schedule_id", payload.ScheduleID)
				return nil
			}
			return err
		}
		if !sched.Active {
			logger.Logger.Infow("dropping job for paused schedule",
				"job_id", job.ID, "schedule_id", sched.ID)
			return nil
		}

		running, err := e.executions.CountRunningForSchedule(sched.ID)
		if err != nil {
			return err
		}
		if running >= sched.MaxConcurrentRuns {
			logger.Logger.Infow("schedule at concurrency ceiling, pushing back",
				"schedule_id", sched.ID,
				"running", running,
				"max", sched.MaxConcurrentRuns)
			_, err := e.queue.Enqueue(sched.ID, job.Payload, pushBackDelay, job.Priority)
			return err
		}
	}

	exec, err := e.resolveExecution(payload, sched)
	if err != nil {
		return err
	}
	if exec == nil {
		// the run was cancelled or otherwise finished before fire time
		return nil
	}

	wf, err := e.workflows.Get(payload.WorkflowID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			// workflow deleted after the job was queued
			return e.executions.MarkFailed(exec.ID, "workflow no longer exists", "workflow_missing", nil)
		}
		return err
	}

	firedAt := time.Now().UTC()
	if err := e.run(ctx, exec, wf, sched); err != nil {
		// infrastructure failure before a terminal state was recorded;
		// let queue-level retry reprocess the job
		return err
	}

	if sched != nil {
		if err := e.finishScheduledRun(exec, sched, firedAt); err != nil {
			return err
		}
	}
	return nil
}

// resolveExecution returns the run's ledger record, creating a pending
// one for scheduled fires. Manual and retry runs carry theirs in the
// payload. Returns nil when the record reached a terminal state before
// the job fired, e.g. a run cancelled while it waited in the queue; the
// caller drops the job.
func (e *Engine) resolveExecution(payload *queue.RunPayload, sched *schedule.Schedule) (*execution.Execution, error) {
	if payload.ExecutionID != "" {
		exec, err := e.executions.Get(payload.ExecutionID)
		if err != nil {
			return nil, err
		}
		if exec.Status.Terminal() {
			logger.Logger.Infow("dropping job for finished execution",
				"execution_id", exec.ID, "status", exec.Status)
			return nil, nil
		}
		if exec.Status != execution.StatusPending {
			return nil, errors.Wrapf(errors.ErrIllegalTransition,
				"execution %s is %s, expected pending", exec.ID, exec.Status)
		}
		return exec, nil
	}

	exec := &execution.Execution{
		UserID:     payload.UserID,
		WorkflowID: payload.WorkflowID,
		ScheduleID: payload.ScheduleID,
	}
	if sched != nil {
		exec.MaxRetries = sched.MaxRetries
		exec.Metadata = sched.Metadata
	}
	if err := e.executions.Create(exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// finishScheduledRun records the outcome on the schedule, queues the
// next fire, and applies the schedule's retry policy. The next fire is
// queued unconditionally: one failed run never stalls a schedule.
func (e *Engine) finishScheduledRun(exec *execution.Execution, sched *schedule.Schedule, firedAt time.Time) error {
	final, err := e.executions.Get(exec.ID)
	if err != nil {
		return err
	}
	success := final.Status == execution.StatusCompleted

	if err := e.schedules.Store().RecordRunOutcome(sched.ID, success, firedAt); err != nil {
		return err
	}
	if err := e.schedules.ScheduleNextRun(sched, firedAt); err != nil {
		return err
	}

	retryable := final.Status == execution.StatusFailed || final.Status == execution.StatusTimeout
	if retryable && sched.RetryOnFailure && final.RetryCount < sched.MaxRetries {
		if _, err := e.RetryExecution(final, sched.RetryDelay); err != nil {
			return err
		}
	}
	return nil
}

// run drives one execution from pending to a terminal state
func (e *Engine) run(parent context.Context, exec *execution.Execution, wf *workflow.Workflow, sched *schedule.Schedule) error {
	timeout := runTimeout(wf, sched)
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	e.registerActive(exec, cancel)
	defer e.unregisterActive(exec.ID)

	session, err := e.provisionSession(ctx, wf, sched)
	if err != nil {
		// provisioning failure is a recorded outcome: pending -> failed
		if markErr := e.executions.MarkFailed(exec.ID, err.Error(), "provisioning", nil); markErr != nil {
			return markErr
		}
		logger.Logger.Errorw("session provisioning failed",
			"execution_id", exec.ID, "error", err)
		e.notifyOutcome(ctx, exec.ID, sched)
		return nil
	}
	// close on every exit path; CloseSession is idempotent
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := e.sessions.CloseSession(closeCtx, session); err != nil {
			logger.Logger.Warnw("failed to close session",
				"execution_id", exec.ID, "session_id", session.ID, "error", err)
		}
	}()

	if err := e.executions.MarkStarted(exec.ID, session.ID); err != nil {
		return err
	}
	if sched != nil && sched.NotifyOnStart {
		if started, err := e.executions.Get(exec.ID); err == nil {
			e.notifier.NotifyStart(ctx, started)
		}
	}

	logger.Logger.Infow("execution started",
		"execution_id", exec.ID,
		"workflow_id", wf.ID,
		"session_id", session.ID,
		"steps", len(wf.Steps),
		"timeout", timeout)

	results := make(map[string]json.RawMessage)
	steps := make([]workflow.Step, len(wf.Steps))
	copy(steps, wf.Steps)
	workflow.SortSteps(steps)

	stepErr := e.runSteps(ctx, exec.ID, session, steps, results)

	switch {
	case parent.Err() != nil:
		// process shutting down; leave the record running for the
		// reconciliation loop to settle after restart
		return parent.Err()
	case ctx.Err() == context.DeadlineExceeded:
		if err := e.executions.MarkTimeout(exec.ID); err != nil {
			return err
		}
	case ctx.Err() == context.Canceled:
		// cancelled via Cancel, not by shutdown
		if err := e.executions.MarkCancelled(exec.ID); err != nil {
			return err
		}
	case stepErr != nil:
		var sErr *errors.StepError
		code := "step_failed"
		if errors.As(stepErr, &sErr) {
			code = "step_failed:" + sErr.StepID
		}
		if err := e.executions.MarkFailed(exec.ID, stepErr.Error(), code, results); err != nil {
			return err
		}
	default:
		if err := e.executions.MarkCompleted(exec.ID, results); err != nil {
			return err
		}
	}

	e.notifyOutcome(ctx, exec.ID, sched)
	return nil
}

// runSteps executes steps in order, recording per-step results. An
// optional step's failure is logged and recorded but does not stop the
// run; a required step's failure aborts immediately.
func (e *Engine) runSteps(ctx context.Context, executionID string, session *SessionHandle, steps []workflow.Step, results map[string]json.RawMessage) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.logStep(executionID, execution.LogLevelInfo, "step started", step)

		var result json.RawMessage
		var err error
		if step.Type == workflow.StepCondition {
			result, err = e.runConditionStep(ctx, executionID, session, step, results)
		} else {
			result, err = e.steps.ExecuteStep(ctx, session, step)
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			failure, _ := json.Marshal(map[string]string{"error": err.Error()})
			results[step.ID] = failure
			e.saveResults(executionID, results)

			if step.IsRequired() {
				e.logStep(executionID, execution.LogLevelError, "required step failed: "+err.Error(), step)
				return errors.NewStepError(step.ID, string(step.Type), true, err)
			}
			e.logStep(executionID, execution.LogLevelWarn, "optional step failed, continuing: "+err.Error(), step)
			continue
		}

		if result != nil {
			results[step.ID] = result
		}
		e.saveResults(executionID, results)
		e.logStep(executionID, execution.LogLevelInfo, "step completed", step)
	}
	return nil
}

// runConditionStep evaluates the predicate and runs the chosen branch.
// Branch steps share the top-level results map, so their output is
// visible in the final record keyed by their own step IDs.
func (e *Engine) runConditionStep(ctx context.Context, executionID string, session *SessionHandle, step workflow.Step, results map[string]json.RawMessage) (json.RawMessage, error) {
	cfg, err := workflow.ParseConditionConfig(step.Config)
	if err != nil {
		return nil, err
	}

	outcome, err := e.steps.EvaluateCondition(ctx, session, cfg.Condition)
	if err != nil {
		return nil, err
	}

	branch := cfg.Else
	if outcome {
		branch = cfg.Then
	}
	branchSteps := make([]workflow.Step, len(branch))
	copy(branchSteps, branch)
	workflow.SortSteps(branchSteps)

	if err := e.runSteps(ctx, executionID, session, branchSteps, results); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]bool{"condition": outcome})
}

// provisionSession acquires a rate limit slot, then asks the provider
func (e *Engine) provisionSession(ctx context.Context, wf *workflow.Workflow, sched *schedule.Schedule) (*SessionHandle, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for session slot")
		}
	}

	cfg := SessionConfig{
		Headless: e.browser.Headless,
		Viewport: e.browser.Viewport,
		Timezone: wf.Settings.Timezone,
	}
	if wf.Settings.Headless != nil {
		cfg.Headless = *wf.Settings.Headless
	}
	if wf.Settings.Viewport.Width > 0 && wf.Settings.Viewport.Height > 0 {
		cfg.Viewport = wf.Settings.Viewport
	}
	if sched != nil {
		cfg.Metadata = sched.Metadata
	}

	return e.sessions.CreateSession(ctx, cfg)
}

// Submit creates a manual run: a pending execution plus an immediately
// due job. Manual runs bypass schedule policy entirely.
func (e *Engine) Submit(userID, workflowID string) (*execution.Execution, error) {
	if _, err := e.workflows.Get(workflowID); err != nil {
		return nil, err
	}

	exec := &execution.Execution{
		UserID:     userID,
		WorkflowID: workflowID,
	}
	if err := e.executions.Create(exec); err != nil {
		return nil, err
	}

	payload, err := queue.RunPayload{
		WorkflowID:  workflowID,
		UserID:      userID,
		ExecutionID: exec.ID,
	}.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := e.queue.Enqueue("", payload, 0, 1); err != nil {
		return nil, err
	}

	logger.Logger.Infow("manual run submitted",
		"execution_id", exec.ID, "workflow_id", workflowID)
	return exec, nil
}

// RetryExecution creates a fresh pending execution linked to a finished
// one and queues it after delay. The retry job carries no schedule ID,
// so it is exempt from the one-pending-per-schedule rule and cannot
// displace the schedule's next regular fire.
func (e *Engine) RetryExecution(prev *execution.Execution, delay time.Duration) (*execution.Execution, error) {
	if !prev.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrIllegalTransition,
			"cannot retry execution %s in state %s", prev.ID, prev.Status)
	}

	retry := &execution.Execution{
		UserID:     prev.UserID,
		WorkflowID: prev.WorkflowID,
		ScheduleID: prev.ScheduleID,
		RetryCount: prev.RetryCount + 1,
		MaxRetries: prev.MaxRetries,
		RetryOf:    prev.ID,
		Metadata:   prev.Metadata,
	}
	if err := e.executions.Create(retry); err != nil {
		return nil, err
	}

	payload, err := queue.RunPayload{
		ScheduleID:  prev.ScheduleID,
		WorkflowID:  prev.WorkflowID,
		UserID:      prev.UserID,
		ExecutionID: retry.ID,
	}.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := e.queue.Enqueue("", payload, delay, 1); err != nil {
		return nil, err
	}

	logger.Logger.Infow("retry queued",
		"execution_id", retry.ID,
		"retry_of", prev.ID,
		"attempt", retry.RetryCount,
		"delay", delay)
	return retry, nil
}

// Cancel stops an execution. Live runs get their context cancelled and
// finish through the normal terminal path; pending runs are marked
// cancelled directly.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	run, live := e.active[executionID]
	e.mu.Unlock()

	if live {
		run.cancel()
		logger.Logger.Infow("cancelling live execution", "execution_id", executionID)
		return nil
	}

	return e.executions.MarkCancelled(executionID)
}

// ActiveRun describes one in-flight execution
type ActiveRun struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	ScheduleID  string    `json:"schedule_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// ActiveRuns lists in-flight executions from the in-memory index. This
// is a point-in-time snapshot of this process only; the execution store
// remains the authority.
func (e *Engine) ActiveRuns() []ActiveRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	runs := make([]ActiveRun, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, ActiveRun{
			ExecutionID: r.executionID,
			WorkflowID:  r.workflowID,
			ScheduleID:  r.scheduleID,
			StartedAt:   r.startedAt,
		})
	}
	return runs
}

func (e *Engine) registerActive(exec *execution.Execution, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[exec.ID] = &activeRun{
		executionID: exec.ID,
		workflowID:  exec.WorkflowID,
		scheduleID:  exec.ScheduleID,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
	}
}

func (e *Engine) unregisterActive(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, executionID)
}

func (e *Engine) notifyOutcome(ctx context.Context, executionID string, sched *schedule.Schedule) {
	if sched == nil {
		return
	}
	final, err := e.executions.Get(executionID)
	if err != nil {
		return
	}
	switch final.Status {
	case execution.StatusCompleted:
		if sched.NotifyOnSuccess {
			e.notifier.NotifySuccess(ctx, final)
		}
	case execution.StatusFailed, execution.StatusTimeout:
		if sched.NotifyOnFailure {
			e.notifier.NotifyFailure(ctx, final)
		}
	}
}

func (e *Engine) logStep(executionID, level, message string, step workflow.Step) {
	data, _ := json.Marshal(map[string]interface{}{
		"step_id":   step.ID,
		"step_type": step.Type,
		"order":     step.Order,
	})
	if err := e.executions.AppendLog(executionID, level, message, data); err != nil {
		logger.Logger.Warnw("failed to append execution log",
			"execution_id", executionID, "error", err)
	}
}

func (e *Engine) saveResults(executionID string, results map[string]json.RawMessage) {
	if err := e.executions.SaveResults(executionID, results); err != nil {
		logger.Logger.Warnw("failed to save partial results",
			"execution_id", executionID, "error", err)
	}
}

// runTimeout picks the run deadline: schedule policy wins, then the
// workflow's own setting, then the global default
func runTimeout(wf *workflow.Workflow, sched *schedule.Schedule) time.Duration {
	if sched != nil && sched.Timeout > 0 {
		return sched.Timeout
	}
	if wf.Settings.TimeoutSeconds > 0 {
		return time.Duration(wf.Settings.TimeoutSeconds) * time.Second
	}
	return schedule.DefaultTimeout
}
