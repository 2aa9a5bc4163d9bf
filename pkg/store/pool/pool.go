// Package pool implements the bounded connection pool (C2): acquire/release
// with timeout, FIFO waiters, idle eviction, and periodic health checks.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/observability"
	"github.com/developer-mesh/codegraph/pkg/store"
)

// Config bounds pool size and timing. Defaults match spec.md §4.2.
type Config struct {
	MinConnections   int
	MaxConnections   int
	AcquireTimeout   time.Duration
	IdleTimeout      time.Duration
	HealthCheckEvery time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinConnections <= 0 {
		c.MinConnections = 1
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.HealthCheckEvery <= 0 {
		c.HealthCheckEvery = 60 * time.Second
	}
}

// Handle is a pooled connection lent to exactly one caller for the duration
// of an acquire/release scope.
type Handle struct {
	*store.Store
	pool    *Pool
	idleAt  time.Time
	broken  bool
}

// Release returns the handle to its pool.
func (h *Handle) Release() {
	h.pool.release(h)
}

type waiter struct {
	ch chan *Handle
}

// Pool is the bounded connection pool over one database path.
type Pool struct {
	path   string
	opts   store.OpenOptions
	cfg    Config
	logger observability.Logger

	mu       sync.Mutex
	idle     *list.List // of *Handle
	open     int
	waiters  *list.List // of *waiter
	closed   bool

	stopHealth chan struct{}
	wg         sync.WaitGroup
}

// New constructs a pool against path, eagerly opening MinConnections handles.
func New(ctx context.Context, path string, openOpts store.OpenOptions, cfg Config, logger observability.Logger) (*Pool, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	p := &Pool{
		path:       path,
		opts:       openOpts,
		cfg:        cfg,
		logger:     logger,
		idle:       list.New(),
		waiters:    list.New(),
		stopHealth: make(chan struct{}),
	}

	for i := 0; i < cfg.MinConnections; i++ {
		h, err := p.newHandle(ctx)
		if err != nil {
			return nil, err
		}
		p.idle.PushBack(h)
		p.open++
	}

	p.wg.Add(1)
	go p.healthCheckLoop()

	return p, nil
}

func (p *Pool) newHandle(ctx context.Context) (*Handle, error) {
	s, err := store.Open(ctx, p.path, p.opts, p.logger)
	if err != nil {
		return nil, err
	}
	return &Handle{Store: s, pool: p, idleAt: time.Now()}, nil
}

// Acquire blocks until a connection is free or AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, cgerrors.ErrPoolClosed
	}

	if el := p.idle.Front(); el != nil {
		h := p.idle.Remove(el).(*Handle)
		p.mu.Unlock()
		return h, nil
	}

	if p.open < p.cfg.MaxConnections {
		p.open++
		p.mu.Unlock()
		h, err := p.newHandle(ctx)
		if err != nil {
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			return nil, err
		}
		return h, nil
	}

	w := &waiter{ch: make(chan *Handle, 1)}
	el := p.waiters.PushBack(w)
	p.mu.Unlock()

	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()

	select {
	case h := <-w.ch:
		if h == nil {
			return nil, cgerrors.ErrPoolClosed
		}
		return h, nil
	case <-ctx.Done():
		p.removeWaiter(el)
		return nil, ctx.Err()
	case <-timeout.C:
		p.removeWaiter(el)
		return nil, cgerrors.ErrAcquireTimeout
	}
}

func (p *Pool) removeWaiter(el *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == el {
			p.waiters.Remove(e)
			return
		}
	}
}

// release returns h to the pool, handing it directly to the oldest waiter
// (FIFO) if one is present.
func (p *Pool) release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.broken {
		p.open--
		_ = h.Store.Close()
		return
	}

	if p.closed {
		_ = h.Store.Close()
		return
	}

	if el := p.waiters.Front(); el != nil {
		w := p.waiters.Remove(el).(*waiter)
		w.ch <- h
		return
	}

	h.idleAt = time.Now()
	p.idle.PushBack(h)
}

// healthCheckLoop periodically closes idle handles that have exceeded
// IdleTimeout while more than MinConnections are open, and runs SELECT 1
// against the remaining idle handles. A handle that fails is marked broken:
// it stays in the idle list, can still be acquired, and is closed when it is
// next released. It is not replaced.
func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.runHealthCheck()
		}
	}
}

func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	var toCheck []*Handle
	for el := p.idle.Front(); el != nil; {
		next := el.Next()
		h := el.Value.(*Handle)
		age := time.Since(h.idleAt)
		if p.open > p.cfg.MinConnections && age > p.cfg.IdleTimeout {
			p.idle.Remove(el)
			p.open--
			_ = h.Store.Close()
		} else {
			toCheck = append(toCheck, h)
		}
		el = next
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range toCheck {
		if _, err := h.Exec(ctx, "SELECT 1"); err != nil {
			h.broken = true
			p.logger.Warn("pool health check failed, handle marked broken", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Shutdown drains the waiter queue (rejecting all with PoolClosed), then
// closes every idle handle.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for el := p.waiters.Front(); el != nil; el = el.Next() {
		el.Value.(*waiter).ch <- nil
	}
	p.waiters.Init()
	var handles []*Handle
	for el := p.idle.Front(); el != nil; el = el.Next() {
		handles = append(handles, el.Value.(*Handle))
	}
	p.idle.Init()
	p.mu.Unlock()

	close(p.stopHealth)
	p.wg.Wait()

	for _, h := range handles {
		_ = h.Store.Close()
	}
	return nil
}
