package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/models"
	"github.com/developer-mesh/codegraph/pkg/observability"
	"github.com/jmoiron/sqlx"
)

// Store is the graph storage singleton (C4): typed CRUD and batch operations
// over entities, relationships and files, backed by one Store/pool handle.
type Store struct {
	db     *sqlx.DB
	logger observability.Logger
}

// New wraps db as a graph Store.
func New(db *sqlx.DB, logger observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for packages (query processor, vector
// store) that need to run their own SQL against the same connection.
func (s *Store) DB() *sqlx.DB { return s.db }

type entityRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Type            string  `db:"type"`
	FilePath        string  `db:"file_path"`
	LocationJSON    string  `db:"location_json"`
	MetadataJSON    string  `db:"metadata_json"`
	Hash            string  `db:"hash"`
	CreatedAt       int64   `db:"created_at"`
	UpdatedAt       int64   `db:"updated_at"`
	ComplexityScore float64 `db:"complexity_score"`
	Language        string  `db:"language"`
	SizeBytes       int64   `db:"size_bytes"`
}

func toRow(e *models.Entity) (entityRow, error) {
	loc, err := json.Marshal(e.Location)
	if err != nil {
		return entityRow{}, err
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return entityRow{}, err
	}
	return entityRow{
		ID: e.ID, Name: e.Name, Type: string(e.Type), FilePath: e.FilePath,
		LocationJSON: string(loc), MetadataJSON: string(meta), Hash: e.Hash,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
		ComplexityScore: e.ComplexityScore, Language: e.Language, SizeBytes: e.SizeBytes,
	}, nil
}

func fromRow(r entityRow) (*models.Entity, error) {
	e := &models.Entity{
		ID: r.ID, Name: r.Name, Type: models.EntityType(r.Type), FilePath: r.FilePath,
		Hash: r.Hash, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		ComplexityScore: r.ComplexityScore, Language: r.Language, SizeBytes: r.SizeBytes,
	}
	if err := json.Unmarshal([]byte(r.LocationJSON), &e.Location); err != nil {
		return nil, err
	}
	if r.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &e.Metadata); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// InsertEntity upserts e by id: last-write-wins on (name,type,location,
// metadata,hash,updatedAt), preserving the existing createdAt if the row
// already exists (see SPEC_FULL.md §9 open-question resolution).
func (s *Store) InsertEntity(ctx context.Context, tx *sqlx.Tx, e *models.Entity) error {
	var existingCreatedAt sql.NullInt64
	_ = sqlxGet(ctx, s.db, tx, &existingCreatedAt, "SELECT created_at FROM entities WHERE id = ?", e.ID)
	if existingCreatedAt.Valid {
		e.CreatedAt = existingCreatedAt.Int64
	}

	row, err := toRow(e)
	if err != nil {
		return err
	}

	const upsert = `
		INSERT INTO entities (id, name, type, file_path, location_json, metadata_json, hash, created_at, updated_at, complexity_score, language, size_bytes)
		VALUES (:id, :name, :type, :file_path, :location_json, :metadata_json, :hash, :created_at, :updated_at, :complexity_score, :language, :size_bytes)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, file_path=excluded.file_path,
			location_json=excluded.location_json, metadata_json=excluded.metadata_json,
			hash=excluded.hash, updated_at=excluded.updated_at,
			complexity_score=excluded.complexity_score, language=excluded.language, size_bytes=excluded.size_bytes
	`
	if tx != nil {
		_, err = tx.NamedExecContext(ctx, upsert, row)
	} else {
		_, err = s.db.NamedExecContext(ctx, upsert, row)
	}
	return err
}

// GetEntity returns the entity with id, or nil if absent.
func (s *Store) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM entities WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

// UpdateEntity reads then writes the entity within one transaction, failing
// with NotFound if absent.
func (s *Store) UpdateEntity(ctx context.Context, id string, mutate func(e *models.Entity)) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row entityRow
		if err := tx.GetContext(ctx, &row, "SELECT * FROM entities WHERE id = ?", id); err != nil {
			if err == sql.ErrNoRows {
				return cgerrors.ErrNotFound
			}
			return err
		}
		e, err := fromRow(row)
		if err != nil {
			return err
		}
		mutate(e)
		e.UpdatedAt = time.Now().UnixMilli()
		return s.InsertEntity(ctx, tx, e)
	})
}

// DeleteEntity removes an entity; relationships referencing it cascade via
// the FK ON DELETE CASCADE declared in the schema.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	return err
}

// InsertRelationship upserts r by id; ids are stable by content, so repeated
// calls are idempotent no-ops past the first.
func (s *Store) InsertRelationship(ctx context.Context, tx *sqlx.Tx, r *models.Relationship) error {
	exec := sqlExecer(s.db, tx)
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, type, metadata_json, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET metadata_json=excluded.metadata_json, weight=excluded.weight
	`, r.ID, r.FromID, r.ToID, r.Type, string(meta), r.Weight, r.CreatedAt)
	return err
}

// DeleteFileDataResult reports counts from DeleteFileData.
type DeleteFileDataResult struct {
	EntitiesDeleted      int
	RelationshipsDeleted int
}

// DeleteFileData transactionally deletes all relationships whose endpoints
// belong to entities from path and are not in preserveEntityIDs, then the
// entities themselves (except preserved), then the files row.
//
// Preservation semantics (SPEC_FULL.md §9): a relationship survives only if
// BOTH endpoints survive (preserved, or belong to another file, or are
// external placeholders); a relationship with exactly one endpoint being
// deleted is always deleted, so no edge is left dangling.
func (s *Store) DeleteFileData(ctx context.Context, path string, preserveEntityIDs map[string]bool) (DeleteFileDataResult, error) {
	var result DeleteFileDataResult
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var ids []string
		if err := tx.SelectContext(ctx, &ids, "SELECT id FROM entities WHERE file_path = ?", path); err != nil {
			return err
		}

		toDelete := make([]string, 0, len(ids))
		for _, id := range ids {
			if preserveEntityIDs[id] {
				continue
			}
			toDelete = append(toDelete, id)
		}

		if len(toDelete) > 0 {
			// Count relationships that will disappear: any edge with at
			// least one endpoint among toDelete. A preserved entity's edge
			// to a deleted entity is dropped too (no dangling endpoint is
			// ever left pointing at a removed row); edges between two
			// preserved entities are untouched.
			countQuery, countArgs, err := sqlxIn(
				"SELECT COUNT(*) FROM relationships WHERE from_id IN (?) OR to_id IN (?)",
				toDelete, toDelete)
			if err != nil {
				return err
			}
			countQuery = tx.Rebind(countQuery)
			if err := tx.GetContext(ctx, &result.RelationshipsDeleted, countQuery, countArgs...); err != nil {
				return err
			}

			// FK ON DELETE CASCADE removes the now-orphaned relationship
			// rows automatically as each entity is deleted.
			query, args, err := sqlxIn("DELETE FROM entities WHERE id IN (?)", toDelete)
			if err != nil {
				return err
			}
			query = tx.Rebind(query)
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			result.EntitiesDeleted = int(n)
		}

		_, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
		return err
	})
	return result, err
}

// UpsertFileInfo records path's most recent indexing pass, overwriting any
// prior row for the same path.
func (s *Store) UpsertFileInfo(ctx context.Context, f *models.FileInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, hash, last_indexed, entity_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash=excluded.hash, last_indexed=excluded.last_indexed, entity_count=excluded.entity_count
	`, f.Path, f.Hash, f.LastIndexed, f.EntityCount)
	return err
}

// GetFileInfo returns the FileInfo recorded for path, or nil if path has
// never been indexed.
func (s *Store) GetFileInfo(ctx context.Context, path string) (*models.FileInfo, error) {
	var f models.FileInfo
	err := s.db.GetContext(ctx, &f, "SELECT * FROM files WHERE path = ?", path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// EntityFilter narrows FindEntities.
type EntityFilter struct {
	EntityTypes      []models.EntityType
	FilePaths        []string
	Name             string
	NamePattern      string
	RelationshipType models.RelationshipType
	Limit            int
	Offset           int
}

func (f *EntityFilter) applyLimitDefaults() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
}

// FindEntities applies the declared filters with limit (default 100, max
// 1000) and offset.
func (s *Store) FindEntities(ctx context.Context, filter EntityFilter) ([]*models.Entity, error) {
	filter.applyLimitDefaults()

	query := "SELECT * FROM entities WHERE 1=1"
	var args []interface{}

	if len(filter.EntityTypes) > 0 {
		types := make([]interface{}, len(filter.EntityTypes))
		for i, t := range filter.EntityTypes {
			types[i] = string(t)
		}
		q, a, err := sqlxIn("type IN (?)", types)
		if err != nil {
			return nil, err
		}
		query += " AND " + q
		args = append(args, a...)
	}
	if len(filter.FilePaths) > 0 {
		paths := make([]interface{}, len(filter.FilePaths))
		for i, p := range filter.FilePaths {
			paths[i] = p
		}
		q, a, err := sqlxIn("file_path IN (?)", paths)
		if err != nil {
			return nil, err
		}
		query += " AND " + q
		args = append(args, a...)
	}
	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	} else if filter.NamePattern != "" {
		query += " AND name LIKE ?"
		args = append(args, filter.NamePattern)
	}

	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)
	query = s.db.Rebind(query)

	var rows []entityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*models.Entity, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RelationshipFilter narrows FindRelationships.
type RelationshipFilter struct {
	EntityID         string
	RelationshipType models.RelationshipType
	Limit            int
	Offset           int
}

// FindRelationships returns relationships touching EntityID (either side) of
// the given type, if set.
func (s *Store) FindRelationships(ctx context.Context, filter RelationshipFilter) ([]*models.Relationship, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}

	query := "SELECT id, from_id, to_id, type, metadata_json, weight, created_at FROM relationships WHERE (from_id = ? OR to_id = ?)"
	args := []interface{}{filter.EntityID, filter.EntityID}
	if filter.RelationshipType != "" {
		query += " AND type = ?"
		args = append(args, string(filter.RelationshipType))
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Relationship
	for rows.Next() {
		var r models.Relationship
		var metaJSON string
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Type, &metaJSON, &r.Weight, &r.CreatedAt); err != nil {
			return nil, err
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetSubgraph performs BFS from rootID through relationships in either
// direction up to depth (<=5), returning deduplicated entities and edges.
func (s *Store) GetSubgraph(ctx context.Context, rootID string, depth int) ([]*models.Entity, []*models.Relationship, error) {
	if depth > 5 {
		depth = 5
	}
	root, err := s.GetEntity(ctx, rootID)
	if err != nil {
		return nil, nil, err
	}
	if root == nil {
		return nil, nil, cgerrors.ErrNotFound
	}

	visitedEntities := map[string]*models.Entity{rootID: root}
	visitedEdges := map[string]*models.Relationship{}
	frontier := []string{rootID}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			rels, err := s.FindRelationships(ctx, RelationshipFilter{EntityID: id, Limit: 1000})
			if err != nil {
				return nil, nil, err
			}
			for _, r := range rels {
				visitedEdges[r.ID] = r
				other := r.ToID
				if other == id {
					other = r.FromID
				}
				if _, seen := visitedEntities[other]; !seen {
					e, err := s.GetEntity(ctx, other)
					if err != nil {
						return nil, nil, err
					}
					if e != nil {
						visitedEntities[other] = e
						next = append(next, other)
					}
				}
			}
		}
		frontier = next
	}

	entities := make([]*models.Entity, 0, len(visitedEntities))
	for _, e := range visitedEntities {
		entities = append(entities, e)
	}
	edges := make([]*models.Relationship, 0, len(visitedEdges))
	for _, e := range visitedEdges {
		edges = append(edges, e)
	}
	return entities, edges, nil
}

// GetMetrics summarizes the current state of the store.
func (s *Store) GetMetrics(ctx context.Context) (models.StorageMetrics, error) {
	var m models.StorageMetrics
	if err := s.db.GetContext(ctx, &m.TotalEntities, "SELECT COUNT(*) FROM entities"); err != nil {
		return m, err
	}
	if err := s.db.GetContext(ctx, &m.TotalRelationships, "SELECT COUNT(*) FROM relationships"); err != nil {
		return m, err
	}
	if err := s.db.GetContext(ctx, &m.TotalFiles, "SELECT COUNT(*) FROM files"); err != nil {
		return m, err
	}
	return m, nil
}

// Vacuum reclaims space and defragments the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Analyze refreshes the query planner's statistics.
func (s *Store) Analyze(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "ANALYZE")
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	err = fn(tx)
	return err
}

func sqlExecer(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}

func sqlxGet(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, dest interface{}, query string, args ...interface{}) error {
	if tx != nil {
		return tx.GetContext(ctx, dest, query, args...)
	}
	return db.GetContext(ctx, dest, query, args...)
}

func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}
