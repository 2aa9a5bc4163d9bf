package cache

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/developer-mesh/codegraph/pkg/store/migration"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	mgr := migration.NewManager(db, migration.CacheSchema, nil)
	require.NoError(t, mgr.RunMigrations(context.Background()))

	c, err := New(cfg, db, nil)
	require.NoError(t, err)
	return c
}

func TestSetThenGetReturnsValueFromHotTier(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set(context.Background(), "k1", []byte("v1"))

	value, ok := c.Get(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), value)
}

func TestGetReportsMissForUnknownKey(t *testing.T) {
	c := newTestCache(t, Config{})
	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestHotEvictionCascadesToWarmTier(t *testing.T) {
	c := newTestCache(t, Config{HotSize: 1})
	c.Set(context.Background(), "k1", []byte("v1"))
	c.Set(context.Background(), "k2", []byte("v2")) // evicts k1 from hot into warm

	value, ok := c.Get(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), value)
}

func TestSetColdThenGetPromotesAfterFiveHits(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()
	require.NoError(t, c.SetCold(ctx, "k1", []byte("cold-value")))

	for i := 0; i < 6; i++ {
		value, ok := c.Get(ctx, "k1")
		require.True(t, ok)
		assert.Equal(t, []byte("cold-value"), value)
	}

	c.mu.Lock()
	_, inWarm := c.warm.Get("k1")
	c.mu.Unlock()
	assert.True(t, inWarm)
}

func TestExpiredColdEntryIsTreatedAsMiss(t *testing.T) {
	c := newTestCache(t, Config{ColdTTL: time.Millisecond})
	ctx := context.Background()
	require.NoError(t, c.SetCold(ctx, "k1", []byte("stale")))

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestClearEmptiesAllTiers(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()
	c.Set(ctx, "k1", []byte("v1"))
	require.NoError(t, c.SetCold(ctx, "k2", []byte("v2")))

	require.NoError(t, c.Clear(ctx))

	_, ok1 := c.Get(ctx, "k1")
	_, ok2 := c.Get(ctx, "k2")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestStatsReportsHitRate(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()
	c.Set(ctx, "k1", []byte("v1"))

	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}
