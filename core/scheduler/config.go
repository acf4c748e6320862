package scheduler

import "time"

// Config holds the configuration for the priority scheduler.
// Designed for environment-based configuration using popular env parsing libraries.
type Config struct {
	Algorithm           Algorithm     `env:"SCHEDULER_ALGORITHM" envDefault:"adaptive"`
	MaxConcurrentTasks  int           `env:"SCHEDULER_MAX_CONCURRENT_TASKS" envDefault:"10"`
	StarvationThreshold time.Duration `env:"SCHEDULER_STARVATION_THRESHOLD" envDefault:"5m"`
	AgingInterval       time.Duration `env:"SCHEDULER_AGING_INTERVAL" envDefault:"30s"`
	ShutdownTimeout     time.Duration `env:"SCHEDULER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Algorithm:           AlgorithmAdaptive,
		MaxConcurrentTasks:  10,
		StarvationThreshold: 5 * time.Minute,
		AgingInterval:       30 * time.Second,
		ShutdownTimeout:     30 * time.Second,
	}
}
