package agent

import (
	"context"
	"testing"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, handler Handler) *Agent {
	t.Helper()
	a := New(Config{
		Type:           "indexer",
		Capabilities:   Capabilities{MaxConcurrency: 1},
		SupportedTasks: []string{"index"},
		Handler:        handler,
	})
	require.NoError(t, a.Initialize(context.Background()))
	return a
}

func TestAgentProcessRunsHandlerAndReturnsToIdle(t *testing.T) {
	a := newTestAgent(t, func(ctx context.Context, task Task) (interface{}, error) {
		return "done", nil
	})

	result := a.Process(context.Background(), Task{ID: "t1", Type: "index"})
	assert.NoError(t, result.Err)
	assert.Equal(t, "done", result.Data)
	assert.Equal(t, StatusIdle, a.Status())
}

func TestAgentRejectsUnsupportedTaskType(t *testing.T) {
	a := newTestAgent(t, func(ctx context.Context, task Task) (interface{}, error) {
		return nil, nil
	})

	result := a.Process(context.Background(), Task{ID: "t1", Type: "parse"})
	require.Error(t, result.Err)
	busyErr, ok := result.Err.(*cgerrors.AgentBusyError)
	require.True(t, ok)
	assert.Equal(t, "unsupportedTaskType", busyErr.Reason)
}

func TestAgentRejectsWhenNotInitialized(t *testing.T) {
	a := New(Config{Type: "indexer", Handler: func(ctx context.Context, task Task) (interface{}, error) {
		return nil, nil
	}})

	result := a.Process(context.Background(), Task{ID: "t1", Type: "index"})
	require.Error(t, result.Err)
	_, ok := result.Err.(*cgerrors.AgentBusyError)
	assert.True(t, ok)
}

func TestAgentRejectsWhenMemoryAtLimit(t *testing.T) {
	a := newTestAgent(t, func(ctx context.Context, task Task) (interface{}, error) {
		return nil, nil
	})
	a.SetMemoryUsage(1 << 62)

	result := a.Process(context.Background(), Task{ID: "t1", Type: "index"})
	require.Error(t, result.Err)
	busyErr, ok := result.Err.(*cgerrors.AgentBusyError)
	require.True(t, ok)
	assert.Equal(t, "memoryUsage>=limit", busyErr.Reason)
}

func TestAgentSurfacesHandlerErrorAsErrorStatus(t *testing.T) {
	a := newTestAgent(t, func(ctx context.Context, task Task) (interface{}, error) {
		return nil, assert.AnError
	})

	result := a.Process(context.Background(), Task{ID: "t1", Type: "index"})
	assert.Error(t, result.Err)
	assert.Equal(t, StatusError, a.Status())
}

func TestAgentShutdownStopsAcceptingTasks(t *testing.T) {
	a := newTestAgent(t, func(ctx context.Context, task Task) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, a.Shutdown(context.Background()))

	result := a.Process(context.Background(), Task{ID: "t1", Type: "index"})
	require.Error(t, result.Err)
	_, ok := result.Err.(*cgerrors.AgentBusyError)
	assert.True(t, ok)
}

func TestAgentBusyWhenConcurrencyExhausted(t *testing.T) {
	release := make(chan struct{})
	a := New(Config{
		Type:           "indexer",
		Capabilities:   Capabilities{MaxConcurrency: 1},
		SupportedTasks: []string{"index"},
		Handler: func(ctx context.Context, task Task) (interface{}, error) {
			<-release
			return "ok", nil
		},
	})
	require.NoError(t, a.Initialize(context.Background()))

	done := make(chan Result, 1)
	go func() {
		done <- a.Process(context.Background(), Task{ID: "t1", Type: "index"})
	}()

	time.Sleep(20 * time.Millisecond)
	second := a.Process(context.Background(), Task{ID: "t2", Type: "index"})
	require.Error(t, second.Err)
	_, ok := second.Err.(*cgerrors.AgentBusyError)
	assert.True(t, ok)

	close(release)
	first := <-done
	assert.NoError(t, first.Err)
}
