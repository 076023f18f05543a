package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayu2310/Wflow/browser"
	"github.com/ayu2310/Wflow/config"
	"github.com/ayu2310/Wflow/engine"
	"github.com/ayu2310/Wflow/execution"
	"github.com/ayu2310/Wflow/monitor"
	"github.com/ayu2310/Wflow/queue"
	"github.com/ayu2310/Wflow/schedule"
	"github.com/ayu2310/Wflow/workflow"
)

// StartCmd starts the daemon
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Wflow daemon",
	Long: `Start the Wflow daemon in foreground mode.

The daemon will:
- Recover jobs orphaned by a previous crash
- Reconcile active schedules against the job queue
- Start the worker pool draining due jobs
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: runStart,
}

func init() {
	StartCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides config)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workers := cfg.Engine.Workers
	if flagWorkers, _ := cmd.Flags().GetInt("workers"); flagWorkers > 0 {
		workers = flagWorkers
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New(database, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
	})
	workflows := workflow.NewStore(database)
	executions := execution.NewStore(database)
	schedules := schedule.NewService(schedule.NewStore(database), q)

	requestTimeout := time.Duration(cfg.Browser.RequestTimeoutSeconds) * time.Second
	sessions := browser.NewProvider(
		cfg.Browser.ServiceURL, cfg.Browser.APIKey, cfg.Browser.ProjectID, requestTimeout)
	steps := browser.NewExecutor(cfg.Browser.RunnerURL, cfg.Browser.APIKey, requestTimeout)

	var limiter *engine.SessionLimiter
	if cfg.Engine.SessionsPerMinute > 0 {
		limiter = engine.NewSessionLimiter(cfg.Engine.SessionsPerMinute)
	}

	eng := engine.New(workflows, schedules, executions, q, sessions, steps, nil, limiter,
		engine.BrowserDefaults{
			Headless: cfg.Browser.Headless,
			Viewport: workflow.Viewport{
				Width:  cfg.Browser.ViewportWidth,
				Height: cfg.Browser.ViewportHeight,
			},
		})

	pool := engine.NewWorkerPool(ctx, eng, q, engine.WorkerPoolConfig{
		Workers:      workers,
		PollInterval: time.Duration(cfg.Engine.PollIntervalSeconds) * time.Second,
	})

	mon := monitor.New(schedules, executions,
		time.Duration(cfg.Monitor.IntervalSeconds)*time.Second)

	// Settle orphans and reconcile before workers start pulling jobs
	if err := mon.Start(ctx); err != nil {
		return err
	}
	if err := mon.ReconcileAll(time.Now()); err != nil {
		return err
	}
	pool.Start()

	fmt.Println("Wflow daemon started")
	fmt.Printf("  Workers: %d\n", workers)
	fmt.Printf("  Poll interval: %ds\n", cfg.Engine.PollIntervalSeconds)
	fmt.Printf("  Monitor interval: %ds\n", cfg.Monitor.IntervalSeconds)
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")

	// reverse order of startup
	pool.Stop()
	mon.Stop()
	cancel()

	fmt.Println("Wflow daemon stopped")
	return nil
}
