package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingProvider struct {
	dimension     int
	initErr       error
	embedErr      error
	initCalled    bool
	embedCalled   bool
}

func (f *failingProvider) Info() Info {
	return Info{Kind: KindHTTPOpenAI, Name: "failing", Model: "test", Dimension: f.dimension}
}
func (f *failingProvider) Initialize(ctx context.Context) error { f.initCalled = true; return f.initErr }
func (f *failingProvider) GetDimension() int                    { return f.dimension }
func (f *failingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalled = true
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, f.dimension), nil
}
func (f *failingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (f *failingProvider) Close() error { return nil }

func TestOrchestratorFallsBackOnInitError(t *testing.T) {
	p := &failingProvider{dimension: 8, initErr: errors.New("boom")}
	o := NewOrchestrator(p, nil)

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, KindMemory, o.Info().Kind)
}

func TestOrchestratorUsesSelectedWhenHealthy(t *testing.T) {
	p := &failingProvider{dimension: 8}
	o := NewOrchestrator(p, nil)

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, KindHTTPOpenAI, o.Info().Kind)

	_, err := o.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, p.embedCalled)
}

func TestOrchestratorFallsBackOnEmbedError(t *testing.T) {
	p := &failingProvider{dimension: 8, embedErr: errors.New("rate limited")}
	o := NewOrchestrator(p, nil)
	require.NoError(t, o.Initialize(context.Background()))

	v, err := o.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, v, 8)
}

func TestOrchestratorCacheKeyReflectsActiveProvider(t *testing.T) {
	p := &failingProvider{dimension: 8, initErr: errors.New("boom")}
	o := NewOrchestrator(p, nil)
	require.NoError(t, o.Initialize(context.Background()))

	key := o.CacheKeyComponent()
	assert.Contains(t, key, "deterministic")
}
