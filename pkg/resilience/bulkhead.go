package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/observability"
)

// BulkheadConfig bounds concurrency and queueing for one named resource.
type BulkheadConfig struct {
	MaxConcurrentCalls int
	MaxQueueDepth      int
	QueueTimeout       time.Duration
}

func (c *BulkheadConfig) applyDefaults() {
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = 10
	}
	if c.MaxQueueDepth < 0 {
		c.MaxQueueDepth = 0
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 30 * time.Second
	}
}

type queuedOperation struct {
	ctx      context.Context
	op       func(context.Context) (interface{}, error)
	result   chan operationResult
	queuedAt time.Time
}

type operationResult struct {
	value interface{}
	err   error
}

// Bulkhead implements bounded-concurrency admission with an optional bounded
// wait queue; over-admission is reported as AgentBusyError, matching the
// AgentBusy{reason, retryAfterMs} contract used by agent task acceptance.
type Bulkhead struct {
	name   string
	config BulkheadConfig

	semaphore chan struct{}
	queue     chan *queuedOperation

	activeRequests atomic.Int64
	queuedRequests atomic.Int64

	logger observability.Logger
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewBulkhead constructs a bulkhead with defaults applied for any zero field.
func NewBulkhead(name string, config BulkheadConfig, logger observability.Logger) *Bulkhead {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	b := &Bulkhead{
		name:      name,
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrentCalls),
		logger:    logger,
	}
	if config.MaxQueueDepth > 0 {
		b.queue = make(chan *queuedOperation, config.MaxQueueDepth)
		b.wg.Add(1)
		go b.processQueue()
	}
	return b
}

// Execute admits operation under the bulkhead's concurrency bound, queueing
// it if a slot isn't immediately free, or rejecting with AgentBusyError if
// the queue (when configured) is also full.
func (b *Bulkhead) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	if b.closed.Load() {
		return nil, &cgerrors.AgentBusyError{Reason: "bulkhead closed", RetryAfterMs: 0}
	}

	select {
	case b.semaphore <- struct{}{}:
		return b.executeWithResource(ctx, operation)
	default:
		return b.handleResourceUnavailable(ctx, operation)
	}
}

func (b *Bulkhead) executeWithResource(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	b.activeRequests.Add(1)
	defer func() {
		<-b.semaphore
		b.activeRequests.Add(-1)
	}()
	return operation(ctx)
}

func (b *Bulkhead) handleResourceUnavailable(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	if b.queue == nil {
		return nil, &cgerrors.AgentBusyError{
			Reason:       "queueLength>=max",
			RetryAfterMs: 100,
		}
	}

	op := &queuedOperation{ctx: ctx, op: operation, result: make(chan operationResult, 1), queuedAt: time.Now()}
	select {
	case b.queue <- op:
		b.queuedRequests.Add(1)
	default:
		return nil, &cgerrors.AgentBusyError{
			Reason:       "queueLength>=max",
			RetryAfterMs: int64(b.config.QueueTimeout.Milliseconds()),
		}
	}

	select {
	case r := <-op.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(b.config.QueueTimeout):
		return nil, &cgerrors.AgentBusyError{Reason: "queue wait timeout", RetryAfterMs: 0}
	}
}

func (b *Bulkhead) processQueue() {
	defer b.wg.Done()
	for op := range b.queue {
		b.queuedRequests.Add(-1)
		select {
		case b.semaphore <- struct{}{}:
			val, err := b.executeQueued(op)
			select {
			case op.result <- operationResult{val, err}:
			default:
			}
		case <-op.ctx.Done():
			select {
			case op.result <- operationResult{nil, op.ctx.Err()}:
			default:
			}
		}
	}
}

func (b *Bulkhead) executeQueued(op *queuedOperation) (interface{}, error) {
	b.activeRequests.Add(1)
	defer func() {
		<-b.semaphore
		b.activeRequests.Add(-1)
	}()
	return op.op(op.ctx)
}

// Close stops accepting new work and drains the queue goroutine.
func (b *Bulkhead) Close() {
	if b.closed.CompareAndSwap(false, true) {
		if b.queue != nil {
			close(b.queue)
		}
		b.wg.Wait()
	}
}

// Stats reports current admission counters.
type BulkheadStats struct {
	Active int64
	Queued int64
}

// Stats returns a snapshot of the bulkhead's current load.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{Active: b.activeRequests.Load(), Queued: b.queuedRequests.Load()}
}
