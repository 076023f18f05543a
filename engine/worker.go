package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/logger"
	"github.com/ayu2310/Wflow/queue"
)

// WorkerPoolConfig tunes the polling workers
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
	StopTimeout  time.Duration `json:"stop_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      2,
		PollInterval: time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// WorkerPool polls the queue and hands due jobs to the engine. Claim
// atomicity lives in the queue, so workers never coordinate with each
// other directly.
type WorkerPool struct {
	engine    *Engine
	queue     *queue.Queue
	config    WorkerPoolConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewWorkerPool creates a pool whose workers derive from ctx; cancelling
// it shuts the pool down along with the rest of the process
func NewWorkerPool(ctx context.Context, eng *Engine, q *queue.Queue, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultWorkerPoolConfig().StopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		engine:    eng,
		queue:     q,
		config:    cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
	}
}

// Start recovers orphaned jobs, then launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// restarted after Stop; derive a fresh context
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.mu.Unlock()

	if _, err := wp.queue.RecoverOrphans(); err != nil {
		logger.Logger.Warnw("orphan recovery failed, continuing", "error", err)
	}

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	logger.Logger.Infow("worker pool started",
		"workers", wp.config.Workers,
		"poll_interval", wp.config.PollInterval)
}

// Stop cancels the workers and waits for in-flight runs, up to the
// configured timeout
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Logger.Infow("worker pool stopped")
	case <-time.After(wp.config.StopTimeout):
		logger.Logger.Warnw("worker pool stop timed out",
			"timeout", wp.config.StopTimeout)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	backoff := time.Second
	const maxConsecutiveErrors = 5
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNext(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// database closed under us during shutdown
					return
				}

				errorCount++
				logger.Logger.Errorw("worker failed to process job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)
				if errorCount >= maxConsecutiveErrors {
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
				}
			} else {
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

// processNext claims one due job and runs it. Engine errors route the
// job through queue-level retry; only infrastructure errors bubble up
// to the worker's backoff.
func (wp *WorkerPool) processNext() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	job, err := wp.queue.DequeueDue(time.Now())
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	if err := wp.engine.ProcessJob(wp.ctx, job); err != nil {
		return wp.queue.Retry(job, err)
	}
	return wp.queue.Complete(job.ID)
}
