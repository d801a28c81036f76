package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
	// RetryableErrors reports whether an error is worth another attempt.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns the retry policy used for broadcast publishing.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except cancellation and an open
// circuit.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrCircuitBreakerOpen):
		return false
	}
	return true
}

// RetryStats describes a finished Retry.
type RetryStats struct {
	Attempts  int
	TotalWait time.Duration
	LastError error
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// retries are exhausted or ctx is done.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry and also reports what happened.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	var stats RetryStats
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	for attempt := 0; ; attempt++ {
		stats.Attempts++
		err := fn()
		if err == nil {
			stats.LastError = nil
			return stats, nil
		}
		stats.LastError = err
		if !retryable(err) {
			return stats, err
		}
		if attempt >= config.MaxRetries {
			return stats, errors.Wrapf(err, "giving up after %d attempts", stats.Attempts)
		}
		wait := calculateBackoff(config, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stats, ctx.Err()
		case <-timer.C:
			stats.TotalWait += wait
		}
	}
}

func calculateBackoff(config RetryConfig, attempt int) time.Duration {
	mult := config.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(mult, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter && backoff > 0 {
		// +/- 25%
		backoff = backoff * (0.75 + rand.Float64()*0.5)
	}
	return time.Duration(backoff)
}
