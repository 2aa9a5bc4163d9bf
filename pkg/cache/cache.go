package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/developer-mesh/codegraph/pkg/observability"
	lru "github.com/hashicorp/golang-lru/v2"
)

// item is one cached value at any in-memory tier.
type item struct {
	value     []byte
	storedAt  time.Time
	ttl       time.Duration
	hits      int64
}

func (it *item) expired() bool {
	return time.Since(it.storedAt) > it.ttl
}

// Stats mirrors spec.md §4.6's reported {l1Entries, l2Entries, l3Entries,
// hits, misses, hitRate, memoryUsageMB}.
type Stats struct {
	L1Entries     int
	L2Entries     int
	L3Entries     int
	Hits          int64
	Misses        int64
	HitRate       float64
	MemoryUsageMB float64
}

// Config tunes tier sizes and TTLs; defaults match spec.md §4.6.
type Config struct {
	HotSize  int
	HotTTL   time.Duration
	WarmSize int
	WarmTTL  time.Duration
	ColdTTL  time.Duration
}

func (c *Config) applyDefaults() {
	if c.HotSize <= 0 {
		c.HotSize = 100
	}
	if c.HotTTL <= 0 {
		c.HotTTL = 60 * time.Second
	}
	if c.WarmSize <= 0 {
		c.WarmSize = 1000
	}
	if c.WarmTTL <= 0 {
		c.WarmTTL = 5 * time.Minute
	}
	if c.ColdTTL <= 0 {
		c.ColdTTL = time.Hour
	}
}

// Cache is the three-tier query cache. The cold tier is a persistent table
// in a sibling database file (db), in place of the teacher's distributed
// Redis L2, because this system is explicitly single-process (spec.md §1
// Non-goals exclude distributed/replicated storage).
type Cache struct {
	cfg Config

	mu   sync.Mutex
	hot  *lru.Cache[string, *item]
	warm *lru.Cache[string, *item]

	db     *sql.DB
	logger observability.Logger

	hits   int64
	misses int64
}

// New constructs a Cache whose cold tier is backed by db (already migrated
// with migration.CacheSchema).
func New(cfg Config, db *sql.DB, logger observability.Logger) (*Cache, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	c := &Cache{cfg: cfg, db: db, logger: logger}

	// NewWithEvict (rather than PeekOrAdd's return values, which report the
	// *displaced* value only when the key itself was already present) is how
	// this tier learns which (key, value) pair an Add actually evicted, so it
	// can cascade that value down to the next tier.
	hot, err := lru.NewWithEvict[string, *item](cfg.HotSize, c.onHotEvict)
	if err != nil {
		return nil, err
	}
	warm, err := lru.NewWithEvict[string, *item](cfg.WarmSize, c.onWarmEvict)
	if err != nil {
		return nil, err
	}
	c.hot, c.warm = hot, warm
	return c, nil
}

func (c *Cache) onHotEvict(key string, it *item) {
	if it.expired() {
		return
	}
	c.warm.Add(key, &item{value: it.value, storedAt: time.Now(), ttl: c.cfg.WarmTTL})
}

func (c *Cache) onWarmEvict(key string, it *item) {
	if it.expired() {
		return
	}
	if err := c.SetCold(context.Background(), key, it.value); err != nil {
		c.logger.Warn("failed to cascade evicted warm entry to cold tier", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// Get looks up key across hot, then warm, then cold, promoting on the
// thresholds declared in spec.md §4.6 (warm hit with hits>3 promotes to
// hot; cold hit with hits>5 promotes to warm).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	if it, ok := c.hot.Get(key); ok {
		if it.expired() {
			c.hot.Remove(key)
		} else {
			it.hits++
			c.mu.Unlock()
			c.recordHit()
			return it.value, true
		}
	}

	if it, ok := c.warm.Get(key); ok {
		if it.expired() {
			c.warm.Remove(key)
		} else {
			it.hits++
			if it.hits > 3 {
				promoted := &item{value: it.value, storedAt: time.Now(), ttl: c.cfg.HotTTL}
				c.hot.Add(key, promoted)
			}
			c.mu.Unlock()
			c.recordHit()
			return it.value, true
		}
	}
	c.mu.Unlock()

	if value, hits, ok := c.getCold(ctx, key); ok {
		if hits > 5 {
			c.mu.Lock()
			c.warm.Add(key, &item{value: value, storedAt: time.Now(), ttl: c.cfg.WarmTTL})
			c.mu.Unlock()
		}
		c.recordHit()
		return value, true
	}

	c.recordMiss()
	return nil, false
}

// Set writes key into the hot tier. Eviction (handled by onHotEvict) cascades
// any displaced entry down to warm, and warm eviction cascades further to the
// persistent cold tier.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	c.mu.Lock()
	c.hot.Add(key, &item{value: value, storedAt: time.Now(), ttl: c.cfg.HotTTL})
	c.mu.Unlock()
}

// Clear empties every tier. This is the coarse, reference invalidation
// policy: every mutation calls Clear rather than attempting selective
// invalidation (spec.md §4.6, §9).
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.hot.Purge()
	c.warm.Purge()
	c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, "DELETE FROM query_cache")
	return err
}

func (c *Cache) recordHit()  { c.mu.Lock(); c.hits++; c.mu.Unlock() }
func (c *Cache) recordMiss() { c.mu.Lock(); c.misses++; c.mu.Unlock() }

// Stats reports current tier sizes and hit rate.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	hotLen, warmLen := c.hot.Len(), c.warm.Len()
	c.mu.Unlock()

	var coldLen int
	_ = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_cache").Scan(&coldLen)

	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{L1Entries: hotLen, L2Entries: warmLen, L3Entries: coldLen, Hits: hits, Misses: misses, HitRate: rate}
}

func (c *Cache) getCold(ctx context.Context, key string) ([]byte, int64, bool) {
	var value []byte
	var ttlSeconds int64
	var timestamp int64
	var hits int64
	err := c.db.QueryRowContext(ctx,
		"SELECT value, timestamp, ttl, hits FROM query_cache WHERE key = ?", key,
	).Scan(&value, &timestamp, &ttlSeconds, &hits)
	if err != nil {
		return nil, 0, false
	}
	age := time.Now().UnixMilli() - timestamp
	if time.Duration(age)*time.Millisecond > time.Duration(ttlSeconds)*time.Millisecond {
		_, _ = c.db.ExecContext(ctx, "DELETE FROM query_cache WHERE key = ?", key)
		return nil, 0, false
	}
	_, _ = c.db.ExecContext(ctx, "UPDATE query_cache SET hits = hits + 1 WHERE key = ?", key)
	return value, hits + 1, true
}

// SetCold writes directly into the persistent cold tier; used when a warm
// entry is evicted and needs to cascade one tier further down.
func (c *Cache) SetCold(ctx context.Context, key string, value []byte) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_cache (key, value, timestamp, ttl, hits, size)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, timestamp=excluded.timestamp, ttl=excluded.ttl
	`, key, value, time.Now().UnixMilli(), c.cfg.ColdTTL.Milliseconds(), len(value))
	return err
}
