package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRateLimiterReturnsSameInstanceForSameName(t *testing.T) {
	a := GetRateLimiter("rl-same", RateLimiterConfig{Rate: 5, Burst: 5})
	b := GetRateLimiter("rl-same", RateLimiterConfig{Rate: 100, Burst: 100})
	assert.Same(t, a, b, "second call must return the first limiter, ignoring its config")
}

func TestGetRateLimiterAppliesDefaults(t *testing.T) {
	l := GetRateLimiter("rl-defaults", RateLimiterConfig{})
	assert.Equal(t, 20, l.Burst())
}

func TestExecuteWithRateLimiterRunsFunction(t *testing.T) {
	result, err := ExecuteWithRateLimiter(context.Background(), "rl-run", RateLimiterConfig{Rate: 1000, Burst: 1000}, func() (interface{}, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestExecuteWithRateLimiterFailsWhenWaitLimitExceeded(t *testing.T) {
	name := "rl-wait-limit"
	GetRateLimiter(name, RateLimiterConfig{Rate: 0.001, Burst: 1})

	_, err := ExecuteWithRateLimiter(context.Background(), name, RateLimiterConfig{}, func() (interface{}, error) {
		return "first", nil
	})
	require.NoError(t, err)

	_, err = ExecuteWithRateLimiter(context.Background(), name, RateLimiterConfig{WaitLimit: 10 * time.Millisecond}, func() (interface{}, error) {
		return "second", nil
	})
	require.Error(t, err)
}

func TestExecuteWithRateLimiterRespectsContextCancellation(t *testing.T) {
	name := "rl-ctx-cancel"
	GetRateLimiter(name, RateLimiterConfig{Rate: 0.001, Burst: 1})
	_, err := ExecuteWithRateLimiter(context.Background(), name, RateLimiterConfig{}, func() (interface{}, error) {
		return "first", nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ExecuteWithRateLimiter(ctx, name, RateLimiterConfig{}, func() (interface{}, error) {
		return "second", nil
	})
	require.Error(t, err)
}
