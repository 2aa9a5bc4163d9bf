package embedding

import "fmt"

// FactoryConfig carries the subset of engine configuration needed to select
// and construct a Provider.
type FactoryConfig struct {
	Provider       string // memory|local|openai|ollama|cloudru
	Dimension      int
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        int64 // nanoseconds, avoids importing time at the config boundary
	MaxConcurrency int
	MaxRetries     int
}

// NewProvider builds the Provider named by cfg.Provider. An empty name or
// "memory" selects the in-memory deterministic provider; any other name not
// listed here returns an error.
func NewProvider(cfg FactoryConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewDeterministicProvider(cfg.Dimension), nil
	case "local":
		return NewLocalProvider(cfg.Dimension), nil
	case "openai":
		return NewHTTPProvider(KindHTTPOpenAI, httpConfigFrom(cfg)), nil
	case "ollama":
		return NewHTTPProvider(KindHTTPOllama, httpConfigFrom(cfg)), nil
	case "cloudru":
		return NewHTTPProvider(KindHTTPCloudRU, httpConfigFrom(cfg)), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

func httpConfigFrom(cfg FactoryConfig) HTTPConfig {
	return HTTPConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		Dimension:      cfg.Dimension,
		MaxConcurrency: int64(cfg.MaxConcurrency),
		MaxRetries:     uint64(cfg.MaxRetries),
	}
}
