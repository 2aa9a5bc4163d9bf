package indexer

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/developer-mesh/codegraph/pkg/agent"
	"github.com/developer-mesh/codegraph/pkg/cache"
	"github.com/developer-mesh/codegraph/pkg/graph"
	"github.com/developer-mesh/codegraph/pkg/graph/batch"
	"github.com/developer-mesh/codegraph/pkg/models"
	"github.com/developer-mesh/codegraph/pkg/store/migration"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndexer(t *testing.T, dsn string, c *cache.Cache, bus *agent.Bus) (*Indexer, *graph.Store) {
	t.Helper()
	raw, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, migration.NewManager(raw, migration.Schema, nil).RunMigrations(context.Background()))

	db := sqlx.NewDb(raw, "sqlite3")
	store := graph.New(db, nil)
	writer := batch.New(store, db, nil)
	return New(store, writer, c, bus, nil), store
}

func testCache(t *testing.T, dsn string) *cache.Cache {
	t.Helper()
	cacheDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	cacheDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = cacheDB.Close() })
	require.NoError(t, migration.NewManager(cacheDB, migration.CacheSchema, nil).RunMigrations(context.Background()))
	c, err := cache.New(cache.Config{}, cacheDB, nil)
	require.NoError(t, err)
	return c
}

func TestIndexFileInsertsEntitiesAndContainsRelationship(t *testing.T) {
	idx, store := newTestIndexer(t, "file:indexer-basic?mode=memory&cache=shared", nil, nil)

	payload := ParseComplete{
		FilePath:    "a.go",
		Language:    "go",
		ContentHash: "hash1",
		Timestamp:   time.Now().UnixMilli(),
		Entities: []ParsedEntity{
			{
				Name: "Widget", Type: models.EntityClass,
				Location: models.Location{Start: models.Position{Index: 0}, End: models.Position{Index: 100}},
				Children: []ParsedEntity{
					{Name: "Render", Type: models.EntityMethod, Location: models.Location{Start: models.Position{Index: 10}, End: models.Position{Index: 50}}},
				},
			},
		},
	}

	result, err := idx.IndexFile(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Entities)
	assert.Equal(t, 1, result.Relationships)

	widgetID := graph.EntityID("a.go", models.EntityClass, "Widget", 0, 100)
	renderID := graph.EntityID("a.go", models.EntityMethod, "Render", 10, 50)

	widget, err := store.GetEntity(context.Background(), widgetID)
	require.NoError(t, err)
	require.NotNil(t, widget)

	rels, err := store.FindRelationships(context.Background(), graph.RelationshipFilter{EntityID: widgetID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, models.RelContains, rels[0].Type)
	assert.Equal(t, renderID, rels[0].ToID)
}

func TestIndexFileReindexingIsIdempotent(t *testing.T) {
	idx, store := newTestIndexer(t, "file:indexer-idempotent?mode=memory&cache=shared", nil, nil)

	payload := ParseComplete{
		FilePath:    "b.go",
		ContentHash: "hash1",
		Timestamp:   time.Now().UnixMilli(),
		Entities: []ParsedEntity{
			{Name: "Foo", Type: models.EntityFunction, Location: models.Location{Start: models.Position{Index: 0}, End: models.Position{Index: 20}}},
		},
	}

	first, err := idx.IndexFile(context.Background(), payload)
	require.NoError(t, err)
	second, err := idx.IndexFile(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, first.Entities, second.Entities)

	entities, err := store.FindEntities(context.Background(), graph.EntityFilter{FilePaths: []string{"b.go"}, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestIndexFileMaterializesExternalPlaceholderForUnresolvedSymbol(t *testing.T) {
	idx, store := newTestIndexer(t, "file:indexer-external?mode=memory&cache=shared", nil, nil)

	payload := ParseComplete{
		FilePath:    "c.go",
		ContentHash: "hash1",
		Timestamp:   time.Now().UnixMilli(),
		Entities: []ParsedEntity{
			{Name: "Caller", Type: models.EntityFunction, Location: models.Location{Start: models.Position{Index: 0}, End: models.Position{Index: 20}}},
		},
		Relationships: []ProvidedRelationship{
			{From: "Caller", To: "fmt.Println", TargetFile: "fmt", Type: models.RelCalls},
		},
	}

	result, err := idx.IndexFile(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Entities)
	assert.Equal(t, 1, result.Relationships)

	externalID := graph.ExternalEntityID("fmt", "fmt.Println")
	external, err := store.GetEntity(context.Background(), externalID)
	require.NoError(t, err)
	require.NotNil(t, external)
	assert.True(t, external.IsExternal())
	assert.Equal(t, "external://fmt", external.FilePath)
}

func TestIndexFileReplaceFilePreservesUnchangedEntitiesAndDropsStale(t *testing.T) {
	idx, store := newTestIndexer(t, "file:indexer-replace?mode=memory&cache=shared", nil, nil)

	first := ParseComplete{
		FilePath:    "d.go",
		ContentHash: "hash1",
		Timestamp:   time.Now().UnixMilli(),
		ReplaceFile: true,
		Entities: []ParsedEntity{
			{Name: "Stays", Type: models.EntityFunction, Location: models.Location{Start: models.Position{Index: 0}, End: models.Position{Index: 10}}},
			{Name: "Goes", Type: models.EntityFunction, Location: models.Location{Start: models.Position{Index: 20}, End: models.Position{Index: 30}}},
		},
	}
	_, err := idx.IndexFile(context.Background(), first)
	require.NoError(t, err)

	second := ParseComplete{
		FilePath:    "d.go",
		ContentHash: "hash2",
		Timestamp:   time.Now().UnixMilli(),
		ReplaceFile: true,
		Entities: []ParsedEntity{
			{Name: "Stays", Type: models.EntityFunction, Location: models.Location{Start: models.Position{Index: 0}, End: models.Position{Index: 10}}},
		},
	}
	_, err = idx.IndexFile(context.Background(), second)
	require.NoError(t, err)

	entities, err := store.FindEntities(context.Background(), graph.EntityFilter{FilePaths: []string{"d.go"}, Limit: 100})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Stays", entities[0].Name)

	info, err := store.GetFileInfo(context.Background(), "d.go")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "hash2", info.Hash)
}

func TestIndexFileClearsCacheAndPublishesTopics(t *testing.T) {
	c := testCache(t, "file:indexer-cache?mode=memory&cache=shared")
	c.Set(context.Background(), "some-stale-key", []byte("stale"))

	bus := agent.NewBus(8)
	t.Cleanup(bus.Close)

	var mu sync.Mutex
	var indexCompleteSeen, newEntitiesSeen bool
	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(agent.TopicIndexComplete, func(entry agent.KnowledgeEntry) {
		mu.Lock()
		if !indexCompleteSeen {
			indexCompleteSeen = true
			wg.Done()
		}
		mu.Unlock()
	})
	bus.Subscribe(agent.TopicSemanticNewEntity, func(entry agent.KnowledgeEntry) {
		mu.Lock()
		if !newEntitiesSeen {
			newEntitiesSeen = true
			wg.Done()
		}
		mu.Unlock()
	})

	idx, _ := newTestIndexer(t, "file:indexer-cache-graph?mode=memory&cache=shared", c, bus)

	payload := ParseComplete{
		FilePath:    "e.go",
		ContentHash: "hash1",
		Timestamp:   time.Now().UnixMilli(),
		Entities: []ParsedEntity{
			{Name: "Foo", Type: models.EntityFunction, Location: models.Location{Start: models.Position{Index: 0}, End: models.Position{Index: 5}}},
		},
	}
	_, err := idx.IndexFile(context.Background(), payload)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for index:complete/semantic:new_entities publication")
	}

	_, ok := c.Get(context.Background(), "some-stale-key")
	assert.False(t, ok, "cache should have been cleared after indexing")
}
