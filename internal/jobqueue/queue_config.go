/*
Package jobqueue configuration: tunable parameters for the River analysis queue.

# Tuning

  - MaxWorkers bounds how many analyses run at once. Each one holds a model
    call open for up to a few minutes, so the provider's rate limit is
    usually the real ceiling.
  - MaxAttempts defaults to 1. Failures that can never succeed (missing PR,
    bad credentials, malformed diff or model output) are cancelled on the
    first attempt regardless of this value.
  - JobTimeout caps one attempt, including the model call and its retries.
  - RetryPolicy spaces out attempts when MaxAttempts > 1.
*/
package jobqueue

import (
	"fmt"
	"math"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/pranalysis/internal/config"
)

// QueueConfig holds the configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers  int
	MaxAttempts int
	JobTimeout  time.Duration
	RetryPolicy RetryPolicy
}

// RetryPolicy defines how failed jobs are rescheduled. It implements
// river.ClientRetryPolicy.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  4,
		MaxAttempts: 1,
		JobTimeout:  10 * time.Minute,
		RetryPolicy: RetryPolicy{
			InitialInterval: 30 * time.Second,
			MaxInterval:     30 * time.Minute,
			Multiplier:      2.0,
		},
	}
}

// FromConfig overlays the [queue] section of the application config on the
// defaults. Zero values keep the default.
func FromConfig(cfg config.QueueConfig) *QueueConfig {
	qc := DefaultQueueConfig()
	if cfg.MaxWorkers > 0 {
		qc.MaxWorkers = cfg.MaxWorkers
	}
	if cfg.MaxAttempts > 0 {
		qc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.JobTimeout > 0 {
		qc.JobTimeout = cfg.JobTimeout
	}
	return qc
}

// Validate checks the values River would reject or misbehave on
func (c *QueueConfig) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("queue max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("queue max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("queue job_timeout must be positive, got %s", c.JobTimeout)
	}
	return nil
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// NextRetry schedules the next attempt with exponential backoff based on
// the number of attempts already made.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(p.interval(job.Attempt))
}

func (p RetryPolicy) interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxInterval) || math.IsInf(delay, 0) {
		return p.MaxInterval
	}
	return time.Duration(delay)
}
