package embedding

import (
	"context"
	"fmt"

	"github.com/developer-mesh/codegraph/pkg/observability"
)

// Orchestrator wraps a selected provider with a deterministic fallback: if
// the selected provider fails to initialize or embed, the fallback handles
// the request instead (spec.md §4.10 "Fallback policy").
type Orchestrator struct {
	selected Provider
	fallback Provider
	logger   observability.Logger

	selectedReady bool
}

// NewOrchestrator constructs an orchestrator around selected, with a
// deterministic provider of the same dimension as fallback.
func NewOrchestrator(selected Provider, logger observability.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Orchestrator{
		selected: selected,
		fallback: NewDeterministicProvider(selected.GetDimension()),
		logger:   logger,
	}
}

// Initialize attempts to initialize the selected provider; failure degrades
// to fallback-only operation rather than propagating the error.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.selected.Initialize(ctx); err != nil {
		o.logger.Warn("embedding provider initialization failed, using fallback", map[string]interface{}{
			"provider": o.selected.Info().Name, "error": err.Error(),
		})
		o.selectedReady = false
		return nil
	}
	o.selectedReady = true
	return nil
}

// Info reports the active provider's identity (selected if ready, else
// fallback), used to build cache keys so swapping providers does not yield
// stale hits.
func (o *Orchestrator) Info() Info {
	if o.selectedReady {
		return o.selected.Info()
	}
	return o.fallback.Info()
}

// CacheKeyComponent derives the provider/model/dimension triple a caller
// should fold into a query-cache descriptor alongside content.
func (o *Orchestrator) CacheKeyComponent() string {
	info := o.Info()
	return fmt.Sprintf("%s:%s:%d", info.Name, info.Model, info.Dimension)
}

// Embed embeds text via the selected provider, falling back on any error.
func (o *Orchestrator) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.selectedReady {
		v, err := o.selected.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		o.logger.Warn("embed call failed, falling back", map[string]interface{}{
			"provider": o.selected.Info().Name, "error": err.Error(),
		})
	}
	return o.fallback.Embed(ctx, text)
}

// EmbedBatch embeds a batch via the selected provider, falling back (for the
// whole batch) on any error.
func (o *Orchestrator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if o.selectedReady {
		v, err := o.selected.EmbedBatch(ctx, texts)
		if err == nil {
			return v, nil
		}
		o.logger.Warn("embed batch failed, falling back", map[string]interface{}{
			"provider": o.selected.Info().Name, "error": err.Error(),
		})
	}
	return o.fallback.EmbedBatch(ctx, texts)
}

// Close closes both the selected and fallback providers.
func (o *Orchestrator) Close() error {
	if err := o.selected.Close(); err != nil {
		return err
	}
	return o.fallback.Close()
}
