package schedule

import (
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/internal/ids"
	"github.com/ayu2310/Wflow/logger"
	"github.com/ayu2310/Wflow/queue"
)

// Service coordinates the schedule registry with the delayed job queue.
// Every mutation that changes when or whether a schedule fires goes
// through here, so registry state and queue state stay in agreement.
type Service struct {
	store *Store
	queue *queue.Queue
}

// NewService creates a schedule service
func NewService(store *Store, q *queue.Queue) *Service {
	return &Service{store: store, queue: q}
}

// Store exposes the underlying registry for read paths
func (s *Service) Store() *Store {
	return s.store
}

// Create validates and persists a new schedule, then enqueues its first
// fire if active. Invalid cron expressions and unknown timezones are
// rejected here, never deferred to first fire.
func (s *Service) Create(sched *Schedule) (*Schedule, error) {
	if sched.WorkflowID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "schedule requires a workflow id")
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	if sched.Timeout <= 0 {
		sched.Timeout = DefaultTimeout
	}
	if sched.MaxConcurrentRuns <= 0 {
		sched.MaxConcurrentRuns = 1
	}

	next, err := NextRun(sched.CronExpression, sched.Timezone, time.Now())
	if err != nil {
		return nil, err
	}

	sched.ID = ids.New(ids.Schedule)
	sched.NextRunAt = &next

	if err := s.store.Create(sched); err != nil {
		return nil, err
	}

	if sched.Active {
		if err := s.enqueueFire(sched, next); err != nil {
			return nil, err
		}
	}

	logger.Logger.Infow("schedule created",
		"schedule_id", sched.ID,
		"workflow_id", sched.WorkflowID,
		"cron", sched.CronExpression,
		"timezone", sched.Timezone,
		"next_run_at", next)
	return sched, nil
}

// Get retrieves a schedule by ID
func (s *Service) Get(id string) (*Schedule, error) {
	return s.store.Get(id)
}

// Update applies changes to a schedule. The workflow binding is
// immutable; changing the expression or timezone recomputes the next
// fire and replaces any pending queue entry so the old trigger time
// cannot fire.
func (s *Service) Update(sched *Schedule) (*Schedule, error) {
	current, err := s.store.Get(sched.ID)
	if err != nil {
		return nil, err
	}
	if sched.WorkflowID != "" && sched.WorkflowID != current.WorkflowID {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "schedule workflow binding is immutable")
	}
	sched.WorkflowID = current.WorkflowID
	sched.UserID = current.UserID

	if sched.Timezone == "" {
		sched.Timezone = current.Timezone
	}
	if sched.CronExpression == "" {
		sched.CronExpression = current.CronExpression
	}

	next, err := NextRun(sched.CronExpression, sched.Timezone, time.Now())
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = &next

	if err := s.store.Update(sched); err != nil {
		return nil, err
	}

	if err := s.queue.Cancel(sched.ID); err != nil {
		return nil, err
	}
	if sched.Active {
		if err := s.enqueueFire(sched, next); err != nil {
			return nil, err
		}
	}
	return s.store.Get(sched.ID)
}

// Pause deactivates a schedule and withdraws its pending queue entry.
// Runs already in flight are unaffected.
func (s *Service) Pause(id string) error {
	if err := s.store.SetActive(id, false); err != nil {
		return err
	}
	if err := s.queue.Cancel(id); err != nil {
		return err
	}
	logger.Logger.Infow("schedule paused", "schedule_id", id)
	return nil
}

// Resume reactivates a schedule, recomputing the next fire from now
func (s *Service) Resume(id string) error {
	sched, err := s.store.Get(id)
	if err != nil {
		return err
	}

	next, err := NextRun(sched.CronExpression, sched.Timezone, time.Now())
	if err != nil {
		return err
	}

	if err := s.store.SetActive(id, true); err != nil {
		return err
	}
	if err := s.store.SetNextRun(id, next); err != nil {
		return err
	}

	sched.Active = true
	sched.NextRunAt = &next
	if err := s.enqueueFire(sched, next); err != nil {
		return err
	}

	logger.Logger.Infow("schedule resumed", "schedule_id", id, "next_run_at", next)
	return nil
}

// Delete removes a schedule and its pending queue entry
func (s *Service) Delete(id string) error {
	if err := s.queue.Cancel(id); err != nil {
		return err
	}
	return s.store.Delete(id)
}

// ScheduleNextRun records the outcome of a fire and enqueues the
// following one. Called by the engine after every run, success or not,
// so one failed run never stalls the schedule.
func (s *Service) ScheduleNextRun(sched *Schedule, firedAt time.Time) error {
	next, err := NextRun(sched.CronExpression, sched.Timezone, firedAt)
	if err != nil {
		return err
	}
	if err := s.store.SetNextRun(sched.ID, next); err != nil {
		return err
	}
	if !sched.Active {
		return nil
	}
	return s.enqueueFire(sched, next)
}

// EnsureQueued reconciles one schedule against the queue, enqueueing a
// fire only if none is pending. Recomputes a stale or missing NextRunAt
// first. Idempotent.
func (s *Service) EnsureQueued(sched *Schedule, now time.Time) error {
	next := sched.NextRunAt
	if next == nil || next.Before(now) {
		computed, err := NextRun(sched.CronExpression, sched.Timezone, now)
		if err != nil {
			return err
		}
		if err := s.store.SetNextRun(sched.ID, computed); err != nil {
			return err
		}
		next = &computed
	}

	payload, err := runPayload(sched)
	if err != nil {
		return err
	}
	_, err = s.queue.EnsurePending(sched.ID, payload, *next)
	return err
}

func (s *Service) enqueueFire(sched *Schedule, at time.Time) error {
	payload, err := runPayload(sched)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(sched.ID, payload, time.Until(at), 0)
	return err
}

func runPayload(sched *Schedule) ([]byte, error) {
	return queue.RunPayload{
		ScheduleID: sched.ID,
		WorkflowID: sched.WorkflowID,
		UserID:     sched.UserID,
	}.Encode()
}
