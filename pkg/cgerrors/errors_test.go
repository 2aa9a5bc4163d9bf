package cgerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentBusyErrorMessageIncludesReasonAndRetry(t *testing.T) {
	err := &AgentBusyError{Reason: "queueLength>=max", RetryAfterMs: 250}
	assert.Contains(t, err.Error(), "queueLength>=max")
	assert.Contains(t, err.Error(), "250")
}

func TestAgentBusyErrorUnwrapsViaErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("admit task: %w", &AgentBusyError{Reason: "status!=idle", RetryAfterMs: 100})

	var busyErr *AgentBusyError
	require := assert.New(t)
	require.True(errors.As(wrapped, &busyErr))
	require.Equal("status!=idle", busyErr.Reason)
}

func TestHTTPErrorMessageIncludesStatusAndBody(t *testing.T) {
	err := &HTTPError{Status: 503, Body: "service unavailable"}
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "service unavailable")
}

func TestSentinelErrorsAreDistinctAndWrappable(t *testing.T) {
	wrapped := fmt.Errorf("lookup failed: %w", ErrNotFound)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrStoreUnavailable))
}

func TestPoolSentinelErrorsAreDistinct(t *testing.T) {
	assert.NotEqual(t, ErrAcquireTimeout.Error(), ErrPoolClosed.Error())
	assert.NotEqual(t, ErrPoolClosed.Error(), ErrConnectionBroken.Error())
}
