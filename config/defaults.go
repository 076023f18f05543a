package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultDirPermissions is used when creating the ~/.wflow directory
const DefaultDirPermissions = 0o755

// SetDefaults installs default values for every configuration key.
// Config files and environment variables override these.
func SetDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	v.SetDefault("database.path", filepath.Join(homeDir, ".wflow", "wflow.db"))

	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.poll_interval_seconds", 1)
	v.SetDefault("engine.sessions_per_minute", 30)

	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_seconds", 30)

	v.SetDefault("monitor.interval_seconds", 60)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.service_url", "")
	v.SetDefault("browser.api_key", "")
	v.SetDefault("browser.project_id", "")
	v.SetDefault("browser.runner_url", "")
	v.SetDefault("browser.request_timeout_seconds", 60)

	v.SetDefault("log.json", false)
}
