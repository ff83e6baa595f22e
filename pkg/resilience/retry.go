// Package resilience retries dependency dialing at process startup.
//
// Only connection setup goes through here. Search calls to the backend are
// issued once and fail straight through to the caller.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// StartupRetry suits databases and brokers that come up alongside the
// service in compose or k8s.
func StartupRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	d := StartupRetry()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = d.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = d.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// Dial calls dial until it succeeds, the attempts run out or ctx ends.
func Dial[T any](ctx context.Context, name string, cfg RetryConfig, dial func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "dial", "dependency", name)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := dial()
		if err == nil {
			if attempt > 1 {
				logger.Info("connected after retry", "attempt", attempt)
			}
			return v, nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := backoff(attempt, cfg)
		logger.Warn("dial failed, retrying", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err, "next_delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("dialing %s aborted: %w", name, ctx.Err())
		}
	}
	return zero, fmt.Errorf("dialing %s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if d < 0 {
		d = float64(cfg.InitialDelay)
	}
	return time.Duration(d)
}
