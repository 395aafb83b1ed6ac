// Package retry implements exponential backoff with jitter for outbound
// calls that can transiently fail: platform delivery APIs and LLM requests.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxRetries int           // maximum retry attempts after the first try
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on the computed delay
	Multiplier float64       // exponential backoff multiplier
	Jitter     bool          // add random jitter to prevent thundering herd
	LogRetries bool          // log each retry attempt

	// RetryIf gates retries when set: a failed attempt is only retried
	// while it returns true. Nil retries every error.
	RetryIf func(error) bool
}

// Result describes how a retried operation went.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// DeliveryConfig returns a retry configuration for outbound message
// delivery. Platform send APIs recover quickly, so retries are short.
func DeliveryConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// LLMConfig returns a retry configuration optimized for LLM requests.
// Only transient transport failures (rate limits, 5xx, timeouts) are
// retried; a bad request fails on the first attempt.
func LLMConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
		LogRetries: true,
		RetryIf:    IsRetryableError,
	}
}

// Do executes an operation with exponential backoff retry logic.
func Do(ctx context.Context, config Config, operation func() error) Result {
	startTime := time.Now()

	result := Result{}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && attempt > 0 {
				log.Debug().
					Int("retries", attempt).
					Dur("duration", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries {
				log.Warn().
					Err(err).
					Int("attempts", result.Attempts).
					Msg("Operation failed with non-retryable error")
			}
			return result
		}

		if attempt >= config.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries {
				log.Warn().
					Err(err).
					Int("attempts", result.Attempts).
					Dur("duration", result.TotalDuration).
					Msg("Operation failed, retries exhausted")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		if config.LogRetries {
			log.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Operation failed, retrying after backoff")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	// Unreachable, the loop always returns.
	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// Up to 10% random jitter in either direction.
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
