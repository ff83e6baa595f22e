package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDialSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Dial(context.Background(), "postgres", fast(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "conn", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "conn", v)
	assert.Equal(t, 3, calls)
}

func TestDialGivesUp(t *testing.T) {
	refused := errors.New("connection refused")
	calls := 0
	_, err := Dial(context.Background(), "redis", fast(2), func() (int, error) {
		calls++
		return 0, refused
	})
	require.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "redis")
	assert.Equal(t, 2, calls)
}

func TestDialStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fast(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	calls := 0
	_, err := Dial(ctx, "postgres", cfg, func() (int, error) {
		calls++
		return 0, errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}.withDefaults()
	assert.Equal(t, time.Second, backoff(1, cfg))
	assert.Equal(t, 2*time.Second, backoff(2, cfg))
	assert.Equal(t, 3*time.Second, backoff(5, cfg))
}
