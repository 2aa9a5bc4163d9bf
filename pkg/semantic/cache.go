// Package semantic implements the semantic cache and code analyzer (C11):
// three LRU-backed caches keyed by content, and lightweight structural
// analysis used to classify and compare code fragments.
package semantic

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is one cached value with byte-size accounting and a TTL, matching
// the reference semantic cache's CacheEntry shape minus its Redis-specific
// fields (this cache is in-process only, per SPEC_FULL.md §4.0's single
// -process ambient stack).
type entry[T any] struct {
	value     T
	size      int
	storedAt  time.Time
	ttl       time.Duration
}

func (e entry[T]) expired() bool {
	return e.ttl > 0 && time.Since(e.storedAt) > e.ttl
}

// tierStats mirrors the reference cache's atomic hit/miss counters.
type tierStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (s *tierStats) hitRate() float64 {
	h, m := s.hits.Load(), s.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// lruTier is one named LRU map with TTL and byte-size accounting.
type lruTier[T any] struct {
	name  string
	cache *lru.Cache[string, entry[T]]
	stats tierStats

	mu        sync.Mutex
	totalSize int64
}

func newTier[T any](name string, size int) (*lruTier[T], error) {
	if size <= 0 {
		size = 1000
	}
	t := &lruTier[T]{name: name}
	c, err := lru.NewWithEvict[string, entry[T]](size, func(_ string, v entry[T]) {
		t.mu.Lock()
		t.totalSize -= int64(v.size)
		t.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	t.cache = c
	return t, nil
}

// get looks up key, evicting it (via the tier's onEvict callback, which
// keeps totalSize in sync) if it has outlived its TTL.
func (t *lruTier[T]) get(key string) (T, bool) {
	var zero T
	v, ok := t.cache.Get(key)
	if !ok || v.expired() {
		if ok {
			t.cache.Remove(key)
		}
		t.stats.misses.Add(1)
		return zero, false
	}
	t.stats.hits.Add(1)
	return v.value, true
}

func (t *lruTier[T]) set(key string, value T, size int, ttl time.Duration) {
	if old, ok := t.cache.Peek(key); ok {
		t.mu.Lock()
		t.totalSize -= int64(old.size)
		t.mu.Unlock()
	}
	t.cache.Add(key, entry[T]{value: value, size: size, storedAt: time.Now(), ttl: ttl})
	t.mu.Lock()
	t.totalSize += int64(size)
	t.mu.Unlock()
}

func (t *lruTier[T]) len() int { return t.cache.Len() }

func (t *lruTier[T]) purge() {
	t.cache.Purge()
	t.mu.Lock()
	t.totalSize = 0
	t.mu.Unlock()
}

// Cache holds the three semantic caches named in spec.md §4.11: embeddings,
// search results, and a general-purpose tier.
type Cache struct {
	embeddings *lruTier[[]float32]
	embTTL     time.Duration

	results    *lruTier[[]SearchHit]
	resultsTTL time.Duration

	general    *lruTier[[]byte]
	generalTTL time.Duration
}

// SearchHit is one cached semantic search result, shaped to carry enough
// for a cache consumer to reconstruct a ranked list without a round trip.
type SearchHit struct {
	ID         string
	Similarity float64
}

// Config tunes tier capacities and TTLs.
type Config struct {
	EmbeddingsSize int
	EmbeddingsTTL  time.Duration
	ResultsSize    int
	ResultsTTL     time.Duration
	GeneralSize    int
	GeneralTTL     time.Duration
}

func (c *Config) applyDefaults() {
	if c.EmbeddingsSize <= 0 {
		c.EmbeddingsSize = 2000
	}
	if c.EmbeddingsTTL <= 0 {
		c.EmbeddingsTTL = time.Hour
	}
	if c.ResultsSize <= 0 {
		c.ResultsSize = 500
	}
	if c.ResultsTTL <= 0 {
		c.ResultsTTL = 10 * time.Minute
	}
	if c.GeneralSize <= 0 {
		c.GeneralSize = 1000
	}
	if c.GeneralTTL <= 0 {
		c.GeneralTTL = 30 * time.Minute
	}
}

// New constructs the three-tier semantic cache.
func New(cfg Config) (*Cache, error) {
	cfg.applyDefaults()
	embeddings, err := newTier[[]float32]("embeddings", cfg.EmbeddingsSize)
	if err != nil {
		return nil, err
	}
	results, err := newTier[[]SearchHit]("results", cfg.ResultsSize)
	if err != nil {
		return nil, err
	}
	general, err := newTier[[]byte]("general", cfg.GeneralSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		embeddings: embeddings, embTTL: cfg.EmbeddingsTTL,
		results: results, resultsTTL: cfg.ResultsTTL,
		general: general, generalTTL: cfg.GeneralTTL,
	}, nil
}

// GetEmbedding looks up a cached embedding by content key.
func (c *Cache) GetEmbedding(key string) ([]float32, bool) { return c.embeddings.get(key) }

// SetEmbedding caches an embedding under key.
func (c *Cache) SetEmbedding(key string, vec []float32) {
	c.embeddings.set(key, vec, len(vec)*4, c.embTTL)
}

// GetResults looks up a cached ranked result list by query descriptor key.
func (c *Cache) GetResults(key string) ([]SearchHit, bool) { return c.results.get(key) }

// SetResults caches a ranked result list under key.
func (c *Cache) SetResults(key string, hits []SearchHit) {
	c.results.set(key, hits, len(hits)*16, c.resultsTTL)
}

// GetGeneral looks up an arbitrary cached byte payload.
func (c *Cache) GetGeneral(key string) ([]byte, bool) { return c.general.get(key) }

// SetGeneral caches an arbitrary byte payload under key.
func (c *Cache) SetGeneral(key string, value []byte) {
	c.general.set(key, value, len(value), c.generalTTL)
}

// Warmup preloads embeddings ahead of traffic, matching spec.md §4.11's
// `warmup(preloaded)` hook.
func (c *Cache) Warmup(preloaded map[string][]float32) {
	for key, vec := range preloaded {
		c.SetEmbedding(key, vec)
	}
}

// TierStats reports size and hit-rate per tier.
type TierStats struct {
	Entries int
	HitRate float64
	Bytes   int64
}

// Stats reports current statistics for every tier.
func (c *Cache) Stats() map[string]TierStats {
	return map[string]TierStats{
		"embeddings": {Entries: c.embeddings.len(), HitRate: c.embeddings.stats.hitRate(), Bytes: c.embeddings.totalSize},
		"results":    {Entries: c.results.len(), HitRate: c.results.stats.hitRate(), Bytes: c.results.totalSize},
		"general":    {Entries: c.general.len(), HitRate: c.general.stats.hitRate(), Bytes: c.general.totalSize},
	}
}

// Clear empties every tier.
func (c *Cache) Clear() {
	c.embeddings.purge()
	c.results.purge()
	c.general.purge()
}
