// Package config loads the Wflow daemon configuration.
package config

// Config represents the core Wflow configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	LogFormat LogFormatConfig `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the execution engine worker pool
type EngineConfig struct {
	// Number of concurrent workers draining the job queue (default: 2)
	Workers int `mapstructure:"workers"`

	// How often an idle worker polls the queue, in seconds (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// Max browser sessions provisioned per minute across all workers.
	// Protects the cloud-browser provider's own rate limits. 0 = unlimited.
	SessionsPerMinute int `mapstructure:"sessions_per_minute"`
}

// QueueConfig configures queue-level retry behaviour for job processing
// failures. Distinct from per-schedule workflow retry policy.
type QueueConfig struct {
	// Attempts before a job is moved to the dead-letter state (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`

	// Base backoff between attempts, in seconds; doubles per attempt (default: 30)
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds"`
}

// MonitorConfig configures the reconciliation loop
type MonitorConfig struct {
	// How often to sweep for schedules whose next run has slipped past
	// without a live queue entry, in seconds (default: 60)
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// BrowserConfig configures the cloud browser provider and the defaults
// handed to it when a workflow's own settings leave them unset.
type BrowserConfig struct {
	Headless       bool `mapstructure:"headless"`
	ViewportWidth  int  `mapstructure:"viewport_width"`
	ViewportHeight int  `mapstructure:"viewport_height"`

	// Session provider API. Empty ServiceURL leaves the daemon without a
	// browser backend; runs then fail at provisioning.
	ServiceURL string `mapstructure:"service_url"`
	APIKey     string `mapstructure:"api_key"`
	ProjectID  string `mapstructure:"project_id"`

	// Step runner service that drives steps against a live session
	RunnerURL string `mapstructure:"runner_url"`

	// HTTP timeout for provider calls, in seconds (default: 60)
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LogFormatConfig configures logger output
type LogFormatConfig struct {
	JSON bool `mapstructure:"json"`
}
