// Package monitor runs the reconciliation loop that keeps the schedule
// registry, the job queue, and the execution ledger in agreement. It is
// the safety net under the queue's normal operation: anything the happy
// path drops (crash between dequeue and re-enqueue, clock skew, a
// missed fire) is repaired on the next sweep.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ayu2310/Wflow/execution"
	"github.com/ayu2310/Wflow/logger"
	"github.com/ayu2310/Wflow/schedule"
)

// DefaultInterval between reconciliation sweeps
const DefaultInterval = time.Minute

// Monitor reconciles periodically. Every repair action is idempotent,
// so overlapping or repeated sweeps converge on the same state.
type Monitor struct {
	schedules  *schedule.Service
	executions *execution.Store
	interval   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a monitor
func New(schedules *schedule.Service, executions *execution.Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		schedules:  schedules,
		executions: executions,
		interval:   interval,
	}
}

// Start settles runs orphaned by the previous process, performs one
// immediate sweep, then sweeps on the configured interval until Stop
// or context cancellation.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	if err := m.settleOrphanedRuns(); err != nil {
		logger.Logger.Warnw("failed to settle orphaned runs", "error", err)
	}
	m.Reconcile(time.Now())

	go m.loop(runCtx)
	logger.Logger.Infow("monitor started", "interval", m.interval)
	return nil
}

// Stop halts the sweep loop and waits for the current sweep to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	logger.Logger.Infow("monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Reconcile(now)
		}
	}
}

// Reconcile performs one sweep: every active schedule whose next fire
// is due or missing gets exactly one pending queue entry. Running it
// twice back to back changes nothing the second time.
func (m *Monitor) Reconcile(now time.Time) {
	due, err := m.schedules.Store().ListDue(now)
	if err != nil {
		logger.Logger.Errorw("reconcile: failed to list due schedules", "error", err)
		return
	}

	repaired := 0
	for _, sched := range due {
		if err := m.schedules.EnsureQueued(sched, now); err != nil {
			logger.Logger.Errorw("reconcile: failed to queue schedule",
				"schedule_id", sched.ID, "error", err)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		logger.Logger.Infow("reconcile sweep complete",
			"due", len(due), "queued", repaired)
	}
}

// ReconcileAll walks every active schedule, not just the overdue ones.
// Used at daemon startup so schedules with a NULL next fire, left by an
// interrupted create, get one computed.
func (m *Monitor) ReconcileAll(now time.Time) error {
	active, err := m.schedules.Store().ListActive()
	if err != nil {
		return err
	}

	for _, sched := range active {
		if err := m.schedules.EnsureQueued(sched, now); err != nil {
			logger.Logger.Errorw("reconcile: failed to queue schedule",
				"schedule_id", sched.ID, "error", err)
		}
	}
	logger.Logger.Infow("full reconcile complete", "active_schedules", len(active))
	return nil
}

// settleOrphanedRuns fails executions left running by a crashed
// process. Runs only before the worker pool starts, when no execution
// can legitimately be running.
func (m *Monitor) settleOrphanedRuns() error {
	unfinished, err := m.executions.ListUnfinished()
	if err != nil {
		return err
	}

	settled := 0
	for _, exec := range unfinished {
		if exec.Status != execution.StatusRunning {
			// pending runs still have a queue job; leave them
			continue
		}
		if err := m.executions.MarkFailed(exec.ID,
			"interrupted by process restart", "orphaned", nil); err != nil {
			logger.Logger.Warnw("failed to settle orphaned execution",
				"execution_id", exec.ID, "error", err)
			continue
		}
		settled++
	}

	if settled > 0 {
		logger.Logger.Infow("settled orphaned executions", "count", settled)
	}
	return nil
}
