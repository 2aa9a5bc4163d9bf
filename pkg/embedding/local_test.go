package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProviderMeanPoolsTokens(t *testing.T) {
	p := NewLocalProvider(16)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "func foo bar")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "foo bar func")
	require.NoError(t, err)

	// Mean pooling over the same token set (any order) yields the same vector.
	assert.Equal(t, v1, v2)
}

func TestLocalProviderEmptyTextProducesVector(t *testing.T) {
	p := NewLocalProvider(8)
	v, err := p.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, v, 8)
}

func TestLocalProviderIsNormalized(t *testing.T) {
	p := NewLocalProvider(24)
	v, err := p.Embed(context.Background(), "the quick brown fox jumps")
	require.NoError(t, err)

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, norm, 0.01)
}
