package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayu2310/Wflow/queue"
)

// QueueCmd groups job queue operations
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the job queue",
	Long: `Inspect the durable job queue.

Examples:
  wflow queue stats              # Show queue depth by state
  wflow queue cleanup --days 7   # Remove finished jobs older than 7 days`,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		stats, err := queue.New(database, queue.Options{}).GetStats()
		if err != nil {
			return err
		}

		fmt.Printf("  %-12s %d\n", "Waiting:", stats.Waiting)
		fmt.Printf("  %-12s %d\n", "Active:", stats.Active)
		fmt.Printf("  %-12s %d\n", "Completed:", stats.Completed)
		fmt.Printf("  %-12s %d\n", "Failed:", stats.Failed)
		fmt.Printf("  %-12s %d\n", "Dead:", stats.Dead)
		return nil
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old finished jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		days, _ := cmd.Flags().GetInt("days")
		removed, err := queue.New(database, queue.Options{}).Cleanup(
			time.Duration(days) * 24 * time.Hour)
		if err != nil {
			return err
		}

		fmt.Printf("Removed %d finished jobs older than %d days\n", removed, days)
		return nil
	},
}

func init() {
	queueCleanupCmd.Flags().Int("days", 7, "Remove finished jobs older than this many days")

	QueueCmd.AddCommand(queueStatsCmd)
	QueueCmd.AddCommand(queueCleanupCmd)
}
