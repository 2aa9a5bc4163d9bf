// Package cgerrors declares the error taxonomy shared by every component:
// storage, pool, validation, runtime and external-call failures.
package cgerrors

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrIntegrity        = errors.New("integrity error")
	ErrSchemaDrift       = errors.New("schema drift detected")
	ErrNotFound         = errors.New("not found")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Pool errors.
var (
	ErrAcquireTimeout  = errors.New("acquire timeout")
	ErrPoolClosed      = errors.New("pool closed")
	ErrConnectionBroken = errors.New("connection broken")
)

// Validation errors.
var (
	ErrInvalidEntity = errors.New("invalid entity")
	ErrInvalidDepth  = errors.New("invalid depth")
	ErrInvalidQuery  = errors.New("invalid query")
)

// Runtime errors.
var (
	ErrTaskUnsupported = errors.New("task type unsupported")
)

// External errors.
var (
	ErrEmbeddingProviderUnavailable = errors.New("embedding provider unavailable")
	ErrTimeout                      = errors.New("operation timed out")
)

// AgentBusyError is returned when an agent cannot accept a task right now.
type AgentBusyError struct {
	Reason       string
	RetryAfterMs int64
}

func (e *AgentBusyError) Error() string {
	return fmt.Sprintf("agent busy: %s (retry after %dms)", e.Reason, e.RetryAfterMs)
}

// HTTPError wraps a non-2xx response from a remote embedding provider.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status=%d body=%s", e.Status, e.Body)
}
