package batch

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/developer-mesh/codegraph/pkg/graph"
	"github.com/developer-mesh/codegraph/pkg/models"
	"github.com/developer-mesh/codegraph/pkg/store/migration"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, *sqlx.DB) {
	t.Helper()
	raw, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })

	mgr := migration.NewManager(raw, migration.Schema, nil)
	require.NoError(t, mgr.RunMigrations(context.Background()))

	db := sqlx.NewDb(raw, "sqlite3")
	store := graph.New(db, nil)
	return New(store, db, nil), db
}

func entity(id string) *models.Entity {
	now := time.Now().UnixMilli()
	return &models.Entity{ID: id, Name: id, Type: models.EntityFunction, FilePath: "a.go", Hash: "h", CreatedAt: now, UpdatedAt: now}
}

func TestTunerHalvesOnSlowChunks(t *testing.T) {
	tuner := NewTuner(1000, 100, 10000, 50)
	tuner.Observe(200)
	assert.Equal(t, 500, tuner.Size())
}

func TestTunerDoublesOnFastChunks(t *testing.T) {
	tuner := NewTuner(1000, 100, 10000, 50)
	tuner.Observe(10)
	assert.Equal(t, 2000, tuner.Size())
}

func TestTunerRespectsFloorAndCeiling(t *testing.T) {
	tuner := NewTuner(150, 100, 10000, 50)
	tuner.Observe(500)
	assert.Equal(t, 100, tuner.Size())

	tuner2 := NewTuner(9000, 100, 10000, 50)
	tuner2.Observe(1)
	assert.Equal(t, 10000, tuner2.Size())
}

func TestInsertEntitiesWritesAllRows(t *testing.T) {
	w, db := newTestWriter(t)
	entities := []*models.Entity{entity("e1"), entity("e2"), entity("e3")}

	result, err := w.InsertEntities(context.Background(), entities)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Failed)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM entities"))
	assert.Equal(t, 3, count)
}

func TestInsertEntitiesReturnsEmptyResultForEmptyInput(t *testing.T) {
	w, _ := newTestWriter(t)
	result, err := w.InsertEntities(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{}, result)
}

func TestInsertRelationshipsWritesAllRows(t *testing.T) {
	w, db := newTestWriter(t)
	entities := []*models.Entity{entity("e1"), entity("e2")}
	_, err := w.InsertEntities(context.Background(), entities)
	require.NoError(t, err)

	rels := []*models.Relationship{{ID: "r1", FromID: "e1", ToID: "e2", Type: models.RelCalls}}
	result, err := w.InsertRelationships(context.Background(), rels)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM relationships"))
	assert.Equal(t, 1, count)
}
