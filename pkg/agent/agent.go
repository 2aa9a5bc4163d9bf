// Package agent implements the typed agent runtime and knowledge bus (C13):
// every component runs inside an agent with a bounded task queue, a
// lifecycle, and best-effort publish/subscribe messaging between agents.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/observability"
	"github.com/developer-mesh/codegraph/pkg/resilience"
	"github.com/google/uuid"
)

// Status is an agent's current lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusShutdown Status = "shutdown"
)

// Capabilities bounds what an agent will accept.
type Capabilities struct {
	MaxConcurrency int
	MemoryLimit    int64
	Priority       int
}

func (c *Capabilities) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 256 * 1024 * 1024
	}
}

// Task is one unit of work submitted to an agent.
type Task struct {
	ID   string
	Type string
	Data interface{}
}

// Result is what processing a Task produced.
type Result struct {
	TaskID string
	Data   interface{}
	Err    error
}

// Handler processes one task and returns its result payload.
type Handler func(ctx context.Context, task Task) (interface{}, error)

// Agent is a typed, single-threaded-over-its-queue worker admitted through a
// bulkhead, matching the lifecycle initialize() -> idle -> process(task)* ->
// shutdown from spec.md §4.13.
type Agent struct {
	Type         string
	capabilities Capabilities
	supported    map[string]struct{}
	handler      Handler

	bulkhead *resilience.Bulkhead
	logger   observability.Logger

	mu          sync.Mutex
	status      Status
	queueLength atomic.Int64
	memoryUsage atomic.Int64
}

// Config describes how to construct an Agent.
type Config struct {
	Type            string
	Capabilities    Capabilities
	SupportedTasks  []string
	Handler         Handler
	Logger          observability.Logger
	QueueDepth      int
	QueueWaitBudget time.Duration
}

// New constructs an agent in the shutdown state; callers must call
// Initialize, which moves it to idle, before submitting tasks.
func New(cfg Config) *Agent {
	cfg.Capabilities.applyDefaults()
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	queueWait := cfg.QueueWaitBudget
	if queueWait <= 0 {
		queueWait = 30 * time.Second
	}

	supported := make(map[string]struct{}, len(cfg.SupportedTasks))
	for _, t := range cfg.SupportedTasks {
		supported[t] = struct{}{}
	}

	a := &Agent{
		Type:         cfg.Type,
		capabilities: cfg.Capabilities,
		supported:    supported,
		handler:      cfg.Handler,
		logger:       cfg.Logger,
		status:       StatusShutdown,
		bulkhead: resilience.NewBulkhead(cfg.Type, resilience.BulkheadConfig{
			MaxConcurrentCalls: cfg.Capabilities.MaxConcurrency,
			MaxQueueDepth:      cfg.QueueDepth,
			QueueTimeout:       queueWait,
		}, cfg.Logger),
	}
	return a
}

// Initialize transitions the agent from shutdown to idle.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusIdle
	a.logger.Info("agent initialized", map[string]interface{}{"type": a.Type})
	return nil
}

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetMemoryUsage records the agent's current memory usage estimate, used by
// admission checks.
func (a *Agent) SetMemoryUsage(bytes int64) {
	a.memoryUsage.Store(bytes)
}

// admissionCheck returns an AgentBusyError describing why task cannot be
// accepted right now, or nil if it can.
func (a *Agent) admissionCheck(task Task) error {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()

	if status != StatusIdle && status != StatusBusy {
		return &cgerrors.AgentBusyError{Reason: "status!=idle", RetryAfterMs: 250}
	}
	if _, ok := a.supported[task.Type]; len(a.supported) > 0 && !ok {
		return &cgerrors.AgentBusyError{Reason: "unsupportedTaskType", RetryAfterMs: 0}
	}
	if a.memoryUsage.Load() >= a.capabilities.MemoryLimit {
		return &cgerrors.AgentBusyError{Reason: "memoryUsage>=limit", RetryAfterMs: 500}
	}
	return nil
}

// Process admits and runs task under the agent's bulkhead, rejecting with
// AgentBusyError per spec.md §4.13's task acceptance rule.
func (a *Agent) Process(ctx context.Context, task Task) Result {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := a.admissionCheck(task); err != nil {
		return Result{TaskID: task.ID, Err: err}
	}

	a.queueLength.Add(1)
	defer a.queueLength.Add(-1)

	a.setStatus(StatusBusy)
	defer a.settleStatus()

	value, err := a.bulkhead.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return a.handler(ctx, task)
	})
	if err != nil {
		if _, busy := err.(*cgerrors.AgentBusyError); !busy {
			a.setStatus(StatusError)
		}
		return Result{TaskID: task.ID, Err: err}
	}
	return Result{TaskID: task.ID, Data: value}
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// settleStatus returns the agent to idle after a task completes, unless it
// was left in error or shutdown by the task itself.
func (a *Agent) settleStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusBusy {
		a.status = StatusIdle
	}
}

// QueueLength reports the number of tasks currently admitted or in flight.
func (a *Agent) QueueLength() int64 {
	return a.queueLength.Load()
}

// Shutdown drains in-flight work and transitions the agent to shutdown; it
// no longer accepts tasks afterward.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.bulkhead.Close()
	a.setStatus(StatusShutdown)
	a.logger.Info("agent shutdown", map[string]interface{}{"type": a.Type})
	return nil
}
