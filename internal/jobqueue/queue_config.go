package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue.
type QueueConfig struct {
	MaxWorkers int // concurrent workers per queue (default: 10)

	MaxRetries  int           // maximum attempts per job, River only (default: 10)
	RetryPolicy RetryPolicy   // retry timing, River only
	JobTimeout  time.Duration // maximum time a single handler may run (default: 1 minute)
}

// RetryPolicy defines how the durable backend retries failed jobs.
type RetryPolicy struct {
	InitialInterval time.Duration // wait before the first retry (default: 1s)
	MaxInterval     time.Duration // cap between retries (default: 15 minutes)
	Multiplier      float64       // backoff growth factor (default: 2.0)
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,
		MaxRetries: 10,
		RetryPolicy: RetryPolicy{
			InitialInterval: 1 * time.Second,
			MaxInterval:     15 * time.Minute,
			Multiplier:      2.0,
		},
		JobTimeout: 1 * time.Minute,
	}
}

// DevelopmentQueueConfig fails faster for local iteration.
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 3
	config.MaxRetries = 3
	config.JobTimeout = 30 * time.Second
	return config
}

// RiverQueueConfig converts our config to River's queue configuration format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
