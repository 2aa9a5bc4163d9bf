// Package vector implements the vector store (C9): dense-vector insert,
// update, delete and search, in either native mode (a SQLite vector-index
// extension) or fallback mode (linear scan with cosine similarity), with
// the mode choice transparent to callers.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/models"
	"github.com/developer-mesh/codegraph/pkg/observability"
	"golang.org/x/sync/singleflight"
)

// init registers the vec0 virtual table module with every sqlite3
// connection the process opens, mirroring the reference vector clients'
// package-level sqlite_vec.Auto() call. Native mode still activates only
// when Open succeeds in loading the extension on the specific db handle it
// is given, since a fresh in-memory test db has no vec0 tables migrated.
func init() {
	sqlitevec.Auto()
}

// searchKey canonicalizes a query vector + options into a singleflight key
// so concurrent identical searches (e.g. repeated hotspot lookups during a
// traffic burst) share one scan instead of each walking the table.
func searchKey(queryVec []float32, opts SearchOptions) string {
	return fmt.Sprintf("%v|%d|%.4f|%d|%d", queryVec, opts.Limit, opts.Threshold, opts.DateRangeFrom, opts.DateRangeTo)
}

// maxExtensionLoadAttempts is MAX_EXTENSION_LOAD_ATTEMPTS from spec.md §4.9:
// after this many failed attempts the store permanently falls back.
const maxExtensionLoadAttempts = 3

// Mode reports which backend a Store is currently using.
type Mode string

const (
	ModeNative   Mode = "native"
	ModeFallback Mode = "fallback"
)

// SearchResult is one ranked hit from Search/SearchWithFilters/SearchWithinRadius.
type SearchResult struct {
	ID         string
	EntityID   string
	Similarity float64
	Metadata   map[string]interface{}
}

// SearchOptions narrows SearchWithFilters.
type SearchOptions struct {
	Limit          int
	Threshold      float64
	MetadataFilter map[string]interface{}
	DateRangeFrom  int64
	DateRangeTo    int64
}

// Store is the vector store (C9). Open is a plain constructor: each call
// builds a new Store and makes its own extension-load attempts, and
// concurrent calls are not deduplicated. The singleflight group collapses
// concurrent identical searches (see searchKey).
type Store struct {
	db        *sql.DB
	dimension int
	modelName string
	logger    observability.Logger

	mu               sync.RWMutex
	mode             Mode
	extensionAttempts int
	initGroup        singleflight.Group
}

// Open constructs a Store over db with the given vector dimension and
// current model name, attempting to load extensionPath as a native
// vector-index extension. extensionLoader is the hook the caller's
// store.Store.LoadExtension provides; pass nil to skip native mode entirely.
func Open(db *sql.DB, dimension int, modelName string, extensionLoader func(path string) error, extensionPath string, logger observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	s := &Store{db: db, dimension: dimension, modelName: modelName, logger: logger, mode: ModeFallback}

	if extensionLoader != nil && extensionPath != "" {
		for attempt := 1; attempt <= maxExtensionLoadAttempts; attempt++ {
			if err := extensionLoader(extensionPath); err != nil {
				s.logger.Warn("vector extension load failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
				continue
			}
			s.mode = ModeNative
			break
		}
	}

	if s.mode == ModeFallback {
		s.logger.Info("vector store running in fallback (linear scan) mode", nil)
	}
	return s
}

// Mode reports which backend is currently active.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// encodeVector serializes v to the packed little-endian float32 layout vec0
// columns expect. In native mode it defers to the extension's own
// serializer; in fallback mode it produces byte-identical output by hand,
// since vec0's blob format is exactly that layout.
func (s *Store) encodeVector(v []float32) []byte {
	if s.Mode() == ModeNative {
		if blob, err := sqlitevec.SerializeFloat32(v); err == nil {
			return blob
		}
	}
	return encodeVector(v)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Insert stores a single embedding, validating its dimension.
func (s *Store) Insert(ctx context.Context, e *models.Embedding) error {
	if len(e.Vector) != s.dimension {
		return cgerrors.ErrDimensionMismatch
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, entity_id, content, vector, metadata_json, created_at, model_name)
		VALUES (?, ?, ?, ?, '{}', ?, ?)
		ON CONFLICT(id) DO UPDATE SET vector=excluded.vector, content=excluded.content, model_name=excluded.model_name
	`, e.ID, e.EntityID, e.Content, s.encodeVector(e.Vector), time.Now().UnixMilli(), e.ModelName)
	return err
}

// InsertBatch stores embeddings inside one transaction, deduplicated by id
// within the batch (last write for a repeated id wins).
func (s *Store) InsertBatch(ctx context.Context, embeddings []*models.Embedding) error {
	dedup := make(map[string]*models.Embedding, len(embeddings))
	var order []string
	for _, e := range embeddings {
		if _, seen := dedup[e.ID]; !seen {
			order = append(order, e.ID)
		}
		dedup[e.ID] = e
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, id := range order {
		e := dedup[id]
		if len(e.Vector) != s.dimension {
			return cgerrors.ErrDimensionMismatch
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (id, entity_id, content, vector, metadata_json, created_at, model_name)
			VALUES (?, ?, ?, ?, '{}', ?, ?)
			ON CONFLICT(id) DO UPDATE SET vector=excluded.vector, content=excluded.content, model_name=excluded.model_name
		`, e.ID, e.EntityID, e.Content, s.encodeVector(e.Vector), time.Now().UnixMilli(), e.ModelName)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Update replaces the vector of an existing embedding.
func (s *Store) Update(ctx context.Context, id string, vector []float32) error {
	if len(vector) != s.dimension {
		return cgerrors.ErrDimensionMismatch
	}
	res, err := s.db.ExecContext(ctx, "UPDATE embeddings SET vector = ? WHERE id = ?", s.encodeVector(vector), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return cgerrors.ErrNotFound
	}
	return nil
}

// Delete removes an embedding by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE id = ?", id)
	return err
}

// Get returns a single embedding by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Embedding, error) {
	var e models.Embedding
	var vecBlob []byte
	err := s.db.QueryRowContext(ctx, "SELECT id, entity_id, content, vector, created_at, model_name FROM embeddings WHERE id = ?", id).
		Scan(&e.ID, &e.EntityID, &e.Content, &vecBlob, &e.CreatedAt, &e.ModelName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Vector = decodeVector(vecBlob)
	return &e, nil
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fallbackSimilarity maps a raw cosine value to spec.md §4.9's [0,1] scale
// for fallback mode: (cos+1)/2.
func fallbackSimilarity(cos float64) float64 {
	return (cos + 1) / 2
}

// Search returns the top-k nearest embeddings to queryVec by cosine
// similarity, sorted descending; every returned similarity is in [0,1].
func (s *Store) Search(ctx context.Context, queryVec []float32, limit int) ([]SearchResult, error) {
	return s.SearchWithFilters(ctx, queryVec, SearchOptions{Limit: limit})
}

// SearchWithFilters performs linear-scan search with cosine similarity.
// Native mode currently changes only vector encoding (see encodeVector);
// both modes share this same scan path.
func (s *Store) SearchWithFilters(ctx context.Context, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	if len(queryVec) != s.dimension {
		return nil, cgerrors.ErrDimensionMismatch
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	key := searchKey(queryVec, opts)
	v, err, _ := s.initGroup.Do(key, func() (interface{}, error) {
		return s.scanAndRank(ctx, queryVec, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.([]SearchResult), nil
}

func (s *Store) scanAndRank(ctx context.Context, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, entity_id, vector, created_at FROM embeddings")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var id, entityID string
		var vecBlob []byte
		var createdAt int64
		if err := rows.Scan(&id, &entityID, &vecBlob, &createdAt); err != nil {
			return nil, err
		}
		if opts.DateRangeFrom != 0 && createdAt < opts.DateRangeFrom {
			continue
		}
		if opts.DateRangeTo != 0 && createdAt > opts.DateRangeTo {
			continue
		}
		vec := decodeVector(vecBlob)
		sim := fallbackSimilarity(cosine(queryVec, vec))
		if opts.Threshold > 0 && sim < opts.Threshold {
			continue
		}
		results = append(results, SearchResult{ID: id, EntityID: entityID, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// SearchWithinRadius returns every embedding whose similarity to queryVec is
// at least (1 - radius), up to limit results.
func (s *Store) SearchWithinRadius(ctx context.Context, queryVec []float32, radius float64, limit int) ([]SearchResult, error) {
	return s.SearchWithFilters(ctx, queryVec, SearchOptions{Limit: limit, Threshold: 1 - radius})
}

// Count returns the number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	return n, err
}

// Sample returns up to limit (entityID, vector) pairs for clone-candidate
// sampling (SPEC_FULL.md §4.11 "detects candidate clones by sampling the
// vector store").
func (s *Store) Sample(ctx context.Context, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, entity_id, vector FROM embeddings LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SearchResult
	for rows.Next() {
		var id, entityID string
		var vecBlob []byte
		if err := rows.Scan(&id, &entityID, &vecBlob); err != nil {
			return nil, err
		}
		out = append(out, SearchResult{ID: id, EntityID: entityID, Metadata: map[string]interface{}{"vector": decodeVector(vecBlob)}})
	}
	return out, rows.Err()
}

// Clear removes every stored embedding.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM embeddings")
	return err
}

// GetStats reports staleness alongside the usual counts (SPEC_FULL.md §3's
// VectorHealth), grounded in the reference vector client's
// NeedsRebuild/GetStaleVectors/GetHealthStats trio.
func (s *Store) GetStats(ctx context.Context) (models.VectorHealth, error) {
	var health models.VectorHealth
	health.ModelVersion = s.modelName

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&health.TotalVectors); err != nil {
		return health, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings WHERE model_name != ?", s.modelName).Scan(&health.StaleVectors); err != nil {
		return health, err
	}
	return health, nil
}

// NeedsRebuild reports whether any stored embedding was computed with a
// model other than the store's configured current model.
func (s *Store) NeedsRebuild(ctx context.Context) (bool, error) {
	health, err := s.GetStats(ctx)
	if err != nil {
		return false, err
	}
	return health.NeedsRebuild(s.modelName), nil
}
