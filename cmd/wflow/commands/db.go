package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayu2310/Wflow/config"
	"github.com/ayu2310/Wflow/errors"
)

// DbCmd groups database operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Wflow database",
	Long: `Manage database operations.

Examples:
  wflow db migrate   # Apply pending schema migrations
  wflow db stats     # Show entity counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Database migrated")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	path, err := config.GetDatabasePath()
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s\n\n", path)

	tables := []struct {
		label string
		query string
	}{
		{"Workflows", `SELECT COUNT(*) FROM workflows`},
		{"Schedules", `SELECT COUNT(*) FROM schedules`},
		{"Active schedules", `SELECT COUNT(*) FROM schedules WHERE active = 1`},
		{"Executions", `SELECT COUNT(*) FROM executions`},
		{"Running executions", `SELECT COUNT(*) FROM executions WHERE status = 'running'`},
		{"Queue jobs pending", `SELECT COUNT(*) FROM queue_jobs WHERE status = 'pending'`},
		{"Queue jobs dead", `SELECT COUNT(*) FROM queue_jobs WHERE status = 'dead'`},
	}

	for _, t := range tables {
		var count int
		if err := database.QueryRow(t.query).Scan(&count); err != nil {
			return errors.Wrapf(err, "failed to count %s", t.label)
		}
		fmt.Printf("  %-22s %d\n", t.label+":", count)
	}
	return nil
}
