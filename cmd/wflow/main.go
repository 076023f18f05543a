package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ayu2310/Wflow/cmd/wflow/commands"
	"github.com/ayu2310/Wflow/config"
	"github.com/ayu2310/Wflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "wflow",
	Short: "Wflow - browser workflow scheduler and execution engine",
	Long: `Wflow schedules and runs browser automation workflows.

Workflows are ordered lists of typed steps executed against cloud
browser sessions. Schedules fire them on cron expressions through a
durable job queue; every run is tracked in an execution ledger.

Available commands:
  start     - Start the daemon (workers + reconciliation loop)
  db        - Manage database operations
  schedule  - Inspect and control schedules
  queue     - Inspect the job queue
  version   - Show version information

Examples:
  wflow start                  # Start daemon in foreground
  wflow schedule ls <user>     # List a user's schedules
  wflow db stats               # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.Initialize(cfg.LogFormat.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
