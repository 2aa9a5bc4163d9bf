// Package batch implements chunked, transactional bulk writes with
// progress reporting and adaptive batch-size tuning (C5).
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/developer-mesh/codegraph/pkg/graph"
	"github.com/developer-mesh/codegraph/pkg/models"
	"github.com/jmoiron/sqlx"
)

// Tuner adapts batch size to keep per-chunk latency near a target window,
// per spec.md §9: halve (floor 100) if avgTimeMs > 2x target, double (cap
// 10000) if < 0.5x target.
type Tuner struct {
	mu        sync.Mutex
	size      int
	min       int
	max       int
	targetMs  float64
}

// NewTuner constructs a Tuner starting at size, bounded by [min, max].
func NewTuner(size, min, max int, targetMs float64) *Tuner {
	if size <= 0 {
		size = 1000
	}
	if min <= 0 {
		min = 100
	}
	if max <= 0 {
		max = 10000
	}
	if targetMs <= 0 {
		targetMs = 50
	}
	return &Tuner{size: size, min: min, max: max, targetMs: targetMs}
}

// Size returns the current batch size.
func (t *Tuner) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Observe feeds back the latency of the most recent chunk and adjusts size.
func (t *Tuner) Observe(avgTimeMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case avgTimeMs > 2*t.targetMs:
		t.size = max(t.size/2, t.min)
	case avgTimeMs < 0.5*t.targetMs:
		t.size = min(t.size*2, t.max)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Writer executes chunked entity and relationship inserts against a
// graph.Store. It has no batch update or batch delete operations.
type Writer struct {
	store *graph.Store
	db    *sqlx.DB
	tuner *Tuner
}

// New constructs a Writer over store using db for transaction boundaries.
func New(store *graph.Store, db *sqlx.DB, tuner *Tuner) *Writer {
	if tuner == nil {
		tuner = NewTuner(1000, 100, 10000, 50)
	}
	return &Writer{store: store, db: db, tuner: tuner}
}

// InsertEntities writes entities in chunks of the tuner's current size, each
// chunk inside one transaction. A failure on a single row is captured as an
// ItemError without aborting the chunk, unless the chunk's transaction
// itself cannot commit.
func (w *Writer) InsertEntities(ctx context.Context, entities []*models.Entity) (models.BatchResult, error) {
	start := time.Now()
	result := models.BatchResult{}
	if len(entities) == 0 {
		return result, nil
	}

	chunkSize := w.tuner.Size()
	for i := 0; i < len(entities); i += chunkSize {
		end := i + chunkSize
		if end > len(entities) {
			end = len(entities)
		}
		chunkStart := time.Now()
		if err := w.insertChunk(ctx, entities[i:end], &result); err != nil {
			return result, err
		}
		w.tuner.Observe(float64(time.Since(chunkStart).Milliseconds()))
	}

	result.TimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (w *Writer) insertChunk(ctx context.Context, entities []*models.Entity, result *models.BatchResult) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, e := range entities {
		if insertErr := w.store.InsertEntity(ctx, tx, e); insertErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, models.ItemError{Item: e.ID, Error: insertErr.Error()})
			continue
		}
		result.Processed++
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// InsertRelationships writes relationships in chunks, mirroring InsertEntities.
func (w *Writer) InsertRelationships(ctx context.Context, rels []*models.Relationship) (models.BatchResult, error) {
	start := time.Now()
	result := models.BatchResult{}
	if len(rels) == 0 {
		return result, nil
	}

	chunkSize := w.tuner.Size()
	for i := 0; i < len(rels); i += chunkSize {
		end := i + chunkSize
		if end > len(rels) {
			end = len(rels)
		}
		chunkStart := time.Now()
		if err := w.insertRelChunk(ctx, rels[i:end], &result); err != nil {
			return result, err
		}
		w.tuner.Observe(float64(time.Since(chunkStart).Milliseconds()))
	}

	result.TimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (w *Writer) insertRelChunk(ctx context.Context, rels []*models.Relationship, result *models.BatchResult) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, r := range rels {
		if insertErr := w.store.InsertRelationship(ctx, tx, r); insertErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, models.ItemError{Item: r.ID, Error: insertErr.Error()})
			continue
		}
		result.Processed++
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
