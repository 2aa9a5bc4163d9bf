package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicProviderIsStable(t *testing.T) {
	p := NewDeterministicProvider(16)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
}

func TestDeterministicProviderDiffersByInput(t *testing.T) {
	p := NewDeterministicProvider(16)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "alpha")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "beta")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestDeterministicProviderIsNormalized(t *testing.T) {
	p := NewDeterministicProvider(32)
	v, err := p.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, norm, 0.01)
}

func TestDeterministicProviderNeverFailsInitialize(t *testing.T) {
	p := NewDeterministicProvider(8)
	assert.NoError(t, p.Initialize(context.Background()))
}

func TestDeterministicProviderEmbedBatch(t *testing.T) {
	p := NewDeterministicProvider(8)
	out, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.NotEqual(t, out[0], out[1])
}
