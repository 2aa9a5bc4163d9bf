package embedding

import (
	"context"
	"math"
	"strings"
)

// LocalProvider extracts a mean-pooled, normalized feature vector from text
// in-process, with no network dependency. Each dimension accumulates a
// deterministic per-token hash contribution, then the accumulator is
// averaged over token count and L2-normalized — a lightweight stand-in for a
// trained embedding model that still produces geometry textually-similar
// inputs agree on.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider constructs a local provider of the given dimension.
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = 128
	}
	return &LocalProvider{dimension: dimension}
}

func (p *LocalProvider) Info() Info {
	return Info{Kind: KindLocal, Name: "local-mean-pool", Model: "mean-pool-v1", Dimension: p.dimension}
}

func (p *LocalProvider) Initialize(ctx context.Context) error { return nil }

func (p *LocalProvider) GetDimension() int { return p.dimension }

func tokenHash(token string, dim int) []float32 {
	vec := make([]float32, dim)
	var h uint32 = 2166136261
	for _, c := range token {
		h ^= uint32(c)
		h *= 16777619
	}
	for i := 0; i < dim; i++ {
		h ^= h << 13
		h ^= h >> 17
		h ^= h << 5
		vec[i] = (float32(h%20000) - 10000) / 10000
	}
	return vec
}

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := strings.Fields(strings.ToLower(text))
	sum := make([]float64, p.dimension)
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for _, tok := range tokens {
		h := tokenHash(tok, p.dimension)
		for i, v := range h {
			sum[i] += float64(v)
		}
	}

	vec := make([]float32, p.dimension)
	n := float64(len(tokens))
	var norm float64
	for i, v := range sum {
		mean := v / n
		vec[i] = float32(mean)
		norm += mean * mean
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *LocalProvider) Close() error { return nil }
