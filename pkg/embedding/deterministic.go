package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DeterministicProvider maps text to a pseudo-random normalized vector via a
// hash seed. It never fails initialization or embedding, making it the
// orchestrator's always-available fallback.
type DeterministicProvider struct {
	dimension int
}

// NewDeterministicProvider constructs a deterministic provider of the given
// dimension.
func NewDeterministicProvider(dimension int) *DeterministicProvider {
	if dimension <= 0 {
		dimension = 128
	}
	return &DeterministicProvider{dimension: dimension}
}

func (p *DeterministicProvider) Info() Info {
	return Info{Kind: KindMemory, Name: "deterministic", Model: "hash-v1", Dimension: p.dimension}
}

func (p *DeterministicProvider) Initialize(ctx context.Context) error { return nil }

func (p *DeterministicProvider) GetDimension() int { return p.dimension }

// Embed hashes text with sha256, expands the digest into dimension floats via
// a simple counter-mode stretch, then L2-normalizes the result.
func (p *DeterministicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimension)
	seed := sha256.Sum256([]byte(text))

	block := seed
	for i := 0; i < p.dimension; i++ {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		offset := (i % 8) * 4
		bits := binary.BigEndian.Uint32(block[offset : offset+4])
		vec[i] = (float32(bits%20000) - 10000) / 10000
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
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

func (p *DeterministicProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (p *DeterministicProvider) Close() error { return nil }
