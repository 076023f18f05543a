package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayu2310/Wflow/queue"
	"github.com/ayu2310/Wflow/schedule"
)

// ScheduleCmd groups schedule operations
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and control schedules",
	Long: `Inspect and control workflow schedules.

Examples:
  wflow schedule ls <user-id>      # List a user's schedules
  wflow schedule show <id>         # Show one schedule
  wflow schedule pause <id>        # Pause a schedule
  wflow schedule resume <id>       # Resume a paused schedule
  wflow schedule rm <id>           # Delete a schedule`,
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls <user-id>",
	Short: "List a user's schedules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, database, err := openScheduleService()
		if err != nil {
			return err
		}
		defer database.Close()

		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		schedules, err := svc.Store().ListByUser(args[0], page, limit)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules found")
			return nil
		}

		fmt.Printf("%-40s %-16s %-8s %-7s %s\n", "ID", "CRON", "ACTIVE", "RUNS", "NEXT RUN")
		for _, s := range schedules {
			next := "-"
			if s.NextRunAt != nil {
				next = s.NextRunAt.Format(time.RFC3339)
			}
			fmt.Printf("%-40s %-16s %-8v %-7d %s\n",
				s.ID, s.CronExpression, s.Active, s.RunCount, next)
		}
		return nil
	},
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show <schedule-id>",
	Short: "Show one schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, database, err := openScheduleService()
		if err != nil {
			return err
		}
		defer database.Close()

		s, err := svc.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Schedule:     %s\n", s.ID)
		fmt.Printf("Workflow:     %s\n", s.WorkflowID)
		fmt.Printf("Cron:         %s (%s)\n", s.CronExpression, s.Timezone)
		fmt.Printf("Active:       %v\n", s.Active)
		if s.NextRunAt != nil {
			fmt.Printf("Next run:     %s\n", s.NextRunAt.Format(time.RFC3339))
		}
		if s.LastRunAt != nil {
			fmt.Printf("Last run:     %s\n", s.LastRunAt.Format(time.RFC3339))
		}
		fmt.Printf("Runs:         %d (%d ok, %d failed)\n",
			s.RunCount, s.SuccessCount, s.FailureCount)
		fmt.Printf("Concurrency:  %d\n", s.MaxConcurrentRuns)
		if s.RetryOnFailure {
			fmt.Printf("Retry:        up to %d, delay %s\n", s.MaxRetries, s.RetryDelay)
		}
		fmt.Printf("Timeout:      %s\n", s.Timeout)
		return nil
	},
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <schedule-id>",
	Short: "Pause a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, database, err := openScheduleService()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := svc.Pause(args[0]); err != nil {
			return err
		}
		fmt.Printf("Schedule %s paused\n", args[0])
		return nil
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <schedule-id>",
	Short: "Resume a paused schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, database, err := openScheduleService()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := svc.Resume(args[0]); err != nil {
			return err
		}
		fmt.Printf("Schedule %s resumed\n", args[0])
		return nil
	},
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <schedule-id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, database, err := openScheduleService()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := svc.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Schedule %s deleted\n", args[0])
		return nil
	},
}

func init() {
	scheduleLsCmd.Flags().Int("page", 1, "Page number")
	scheduleLsCmd.Flags().Int("limit", 20, "Schedules per page")

	ScheduleCmd.AddCommand(scheduleLsCmd)
	ScheduleCmd.AddCommand(scheduleShowCmd)
	ScheduleCmd.AddCommand(schedulePauseCmd)
	ScheduleCmd.AddCommand(scheduleResumeCmd)
	ScheduleCmd.AddCommand(scheduleRmCmd)
}

func openScheduleService() (*schedule.Service, *sql.DB, error) {
	database, err := openDatabase("")
	if err != nil {
		return nil, nil, err
	}
	svc := schedule.NewService(schedule.NewStore(database), queue.New(database, queue.Options{}))
	return svc, database, nil
}
