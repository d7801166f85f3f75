package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docketsync_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docketsync_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 2, 4, 8, 16, 64, 256, 1024},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docketsync_retry_exhausted_total",
		Help: "Total number of times the retry budget was exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// MaxBackoff caps a single delay. Zero means uncapped.
	MaxBackoff time.Duration

	// MaxElapsed is the total time budget measured from the first attempt.
	MaxElapsed time.Duration
}

// DefaultRetryConfig returns the default retry configuration: delays of
// 1s, 2s, 4s, ... for up to one hour.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxElapsed:        1 * time.Hour,
	}
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be > 0 (got %s)", c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %g)", c.BackoffMultiplier)
	}
	if c.MaxElapsed <= 0 {
		return fmt.Errorf("max_elapsed must be > 0 (got %s)", c.MaxElapsed)
	}
	return nil
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable
// class, or the elapsed budget is spent. The last delay is shortened so no
// sleep runs past the budget.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func() error, classify func(error) ErrorClass) error {
	start := time.Now()
	backoff := config.InitialBackoff

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Dur("elapsed", time.Since(start)).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		errorClass := classify(err)
		if !shouldRetry(errorClass) {
			return err
		}

		elapsed := time.Since(start)
		if elapsed >= config.MaxElapsed {
			retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			logger.Error().
				Err(err).
				Str("error_class", string(errorClass)).
				Int("attempts", attempt).
				Dur("elapsed", elapsed).
				Msg("Retry budget exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}

		wait := backoff
		if remaining := config.MaxElapsed - elapsed; wait > remaining {
			wait = remaining
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
}
