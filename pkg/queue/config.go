package queue

import "time"

// Config holds the retry queue settings.
type Config struct {
	Name               string        `env:"QUEUE_NAME" envDefault:"billing-events"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"2m"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"4"`
	MaxAttempts        int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"8"`
	BackoffStep        time.Duration `env:"QUEUE_BACKOFF_STEP" envDefault:"30s"`
}
