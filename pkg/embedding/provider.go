// Package embedding implements the embedding provider abstraction (C10): a
// uniform interface over a deterministic fallback, an in-process mean-pooled
// model, and remote HTTP providers, with retries, bounded concurrency and a
// fallback-on-failure orchestrator.
package embedding

import "context"

// Kind names a provider variant. Modeled as a closed tagged set rather than
// an open-ended interface hierarchy, per spec.md §9's dynamic-dispatch note.
type Kind string

const (
	KindMemory     Kind = "memory"
	KindLocal      Kind = "local"
	KindHTTPOpenAI Kind = "http-openai"
	KindHTTPOllama Kind = "http-ollama"
	KindHTTPCloudRU Kind = "http-cloudru"
)

// Info describes a provider's identity for cache-key derivation and logging.
type Info struct {
	Kind      Kind
	Name      string
	Model     string
	Dimension int
}

// Provider is the uniform interface every embedding variant satisfies.
type Provider interface {
	Info() Info
	Initialize(ctx context.Context) error
	GetDimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// maxBatchSize bounds how many texts a single EmbedBatch call sends in one
// request/fan-out round before chunking (spec.md §4.10 "Batching").
const maxBatchSize = 64

func chunkTexts(texts []string, size int) [][]string {
	if size <= 0 {
		size = maxBatchSize
	}
	var chunks [][]string
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		chunks = append(chunks, texts[i:end])
	}
	return chunks
}
