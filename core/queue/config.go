package queue

import "time"

// Config holds the configuration for the queue service and worker components.
// Designed for environment-based configuration using popular env parsing libraries.
type Config struct {
	// Worker configuration
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`

	// Service configuration
	DefaultMaxRetries int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
	DefaultTimeout    time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"5m"`
	SnapshotTTL       time.Duration `env:"QUEUE_SNAPSHOT_TTL" envDefault:"24h"`
	RetryBackoffStep  time.Duration `env:"QUEUE_RETRY_BACKOFF_STEP" envDefault:"2m"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		PollInterval:       time.Second,
		ShutdownTimeout:    30 * time.Second,
		MaxConcurrentTasks: 10,
		DefaultMaxRetries:  3,
		DefaultTimeout:     5 * time.Minute,
		SnapshotTTL:        24 * time.Hour,
		RetryBackoffStep:   2 * time.Minute,
	}
}
