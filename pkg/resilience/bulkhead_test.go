package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBulkheadExecutesUnderLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBulkhead("test", BulkheadConfig{MaxConcurrentCalls: 2}, nil)
	defer b.Close()

	result, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestBulkheadRejectsWhenFullAndNoQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBulkhead("test", BulkheadConfig{MaxConcurrentCalls: 1}, nil)
	defer b.Close()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	var busyErr *cgerrors.AgentBusyError
	assert.ErrorAs(t, err, &busyErr)

	close(release)
	<-done
}

func TestBulkheadQueuesWhenConfigured(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBulkhead("test", BulkheadConfig{MaxConcurrentCalls: 1, MaxQueueDepth: 1, QueueTimeout: time.Second}, nil)
	defer b.Close()

	release := make(chan struct{})
	go func() {
		_, _ = b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	resultCh := make(chan interface{}, 1)
	go func() {
		v, _ := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "queued-ran", nil
		})
		resultCh <- v
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case v := <-resultCh:
		assert.Equal(t, "queued-ran", v)
	case <-time.After(time.Second):
		t.Fatal("queued operation never ran")
	}
}

func TestBulkheadPropagatesOperationError(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBulkhead("test", BulkheadConfig{MaxConcurrentCalls: 1}, nil)
	defer b.Close()

	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("operation failed")
	})
	require.Error(t, err)
	assert.Equal(t, "operation failed", err.Error())
}

func TestBulkheadRejectsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBulkhead("test", BulkheadConfig{}, nil)
	b.Close()

	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestBulkheadStatsReportsActive(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBulkhead("test", BulkheadConfig{MaxConcurrentCalls: 2}, nil)
	defer b.Close()

	release := make(chan struct{})
	go func() {
		_, _ = b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Active)
	close(release)
}
