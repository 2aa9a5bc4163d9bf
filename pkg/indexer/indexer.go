// Package indexer implements the indexer agent (part of C13's agent
// runtime): it consumes parsed-file payloads off the knowledge bus, converts
// them into graph storage entities and relationships with stable content
// ids, deduplicates and batch-inserts them, maintains per-file metadata,
// invalidates the query cache, and republishes the result for downstream
// consumers (spec.md §2, §3, §5, §6).
package indexer

import (
	"context"
	"time"

	"github.com/developer-mesh/codegraph/pkg/agent"
	"github.com/developer-mesh/codegraph/pkg/cache"
	"github.com/developer-mesh/codegraph/pkg/graph"
	"github.com/developer-mesh/codegraph/pkg/graph/batch"
	"github.com/developer-mesh/codegraph/pkg/models"
	"github.com/developer-mesh/codegraph/pkg/observability"
)

// ImportSpecifier is one named binding pulled in by an import statement.
type ImportSpecifier struct {
	Local    string `json:"local"`
	Imported string `json:"imported,omitempty"`
}

// ImportData describes the module an EntityImport entity was parsed from.
type ImportData struct {
	Source     string            `json:"source"`
	Specifiers []ImportSpecifier `json:"specifiers,omitempty"`
}

// ParsedEntity is one entity as produced by a language parser, before it has
// been assigned a stable storage id. Children nest the entities lexically
// contained within this one (e.g. a class's methods); the indexer flattens
// this tree and synthesizes CONTAINS relationships from the nesting.
type ParsedEntity struct {
	Name       string            `json:"name"`
	Type       models.EntityType `json:"type"`
	Location   models.Location   `json:"location"`
	Modifiers  []string          `json:"modifiers,omitempty"`
	ReturnType string            `json:"returnType,omitempty"`
	Parameters []string          `json:"parameters,omitempty"`
	Children   []ParsedEntity    `json:"children,omitempty"`
	References []string          `json:"references,omitempty"`
	ImportData *ImportData       `json:"importData,omitempty"`
}

// ProvidedRelationship is an edge a parser observed directly (e.g. a call
// expression or an extends clause), named by symbol rather than by storage
// id. From resolves against entities parsed from the same file, falling back
// to an external placeholder when the symbol isn't found locally. To does the
// same unless TargetFile is set, in which case it always resolves to an
// external placeholder for TargetFile.
type ProvidedRelationship struct {
	From       string                  `json:"from"`
	To         string                  `json:"to"`
	Type       models.RelationshipType `json:"type"`
	TargetFile string                  `json:"targetFile,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ParseComplete is the parse:complete bus payload (spec.md §6). ReplaceFile
// requests that the file's prior entities and relationships be discarded
// before this pass's results are written, per spec.md §5's ordering
// guarantee that observers never see a mix of old and new entities for a
// file being replaced.
type ParseComplete struct {
	FilePath      string                 `json:"filePath"`
	Language      string                 `json:"language"`
	Entities      []ParsedEntity         `json:"entities"`
	Relationships []ProvidedRelationship `json:"relationships,omitempty"`
	ContentHash   string                 `json:"contentHash"`
	Timestamp     int64                  `json:"timestamp"`
	ParseTimeMs   int64                  `json:"parseTimeMs"`
	FromCache     bool                   `json:"fromCache"`
	ReplaceFile   bool                   `json:"replaceFile"`
}

// IndexComplete is the index:complete bus payload (spec.md §6).
type IndexComplete struct {
	FilePath      string `json:"filePath"`
	Entities      int    `json:"entities"`
	Relationships int    `json:"relationships"`
	TimeMs        int64  `json:"timeMs"`
}

// NewEntities is the semantic:new_entities bus payload: every entity
// materialized by this index pass, stamped with the file it came from.
type NewEntities struct {
	FilePath string           `json:"filePath"`
	Entities []*models.Entity `json:"entities"`
}

// Indexer converts parse:complete payloads into graph storage state.
type Indexer struct {
	store  *graph.Store
	writer *batch.Writer
	cache  *cache.Cache
	bus    *agent.Bus
	logger observability.Logger
}

// New constructs an Indexer. cache and bus may be nil (cache invalidation
// and publication are then skipped).
func New(store *graph.Store, writer *batch.Writer, c *cache.Cache, bus *agent.Bus, logger observability.Logger) *Indexer {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Indexer{store: store, writer: writer, cache: c, bus: bus, logger: logger}
}

// IndexFile implements the data-flow described in spec.md §2: flatten and
// convert payload's parsed entities into storage entities, resolve provided
// relationships (materializing external placeholders as needed), honor
// ReplaceFile by deleting the file's prior data first, batch-insert the
// result, record file metadata, clear the query cache, and publish
// index:complete and semantic:new_entities.
func (idx *Indexer) IndexFile(ctx context.Context, payload ParseComplete) (IndexComplete, error) {
	start := time.Now()

	flat := newFlattener(payload.FilePath, payload.ContentHash)
	for _, pe := range payload.Entities {
		flat.add(pe, "")
	}

	for _, pr := range payload.Relationships {
		fromID, ok := flat.resolve(pr.From, "")
		if !ok {
			continue
		}
		toID, ok := flat.resolve(pr.To, pr.TargetFile)
		if !ok {
			continue
		}
		flat.relationships = append(flat.relationships, &models.Relationship{
			ID:        graph.RelationshipID(fromID, toID, pr.Type),
			FromID:    fromID,
			ToID:      toID,
			Type:      pr.Type,
			Metadata:  pr.Metadata,
			CreatedAt: payload.Timestamp,
		})
	}

	entities := flat.allEntities()
	relationships := flat.relationships

	if payload.ReplaceFile {
		preserve := make(map[string]bool, len(entities))
		for _, e := range entities {
			if e.FilePath == payload.FilePath {
				preserve[e.ID] = true
			}
		}
		if _, err := idx.store.DeleteFileData(ctx, payload.FilePath, preserve); err != nil {
			return IndexComplete{}, err
		}
	}

	entResult, err := idx.writer.InsertEntities(ctx, entities)
	if err != nil {
		return IndexComplete{}, err
	}
	relResult, err := idx.writer.InsertRelationships(ctx, relationships)
	if err != nil {
		return IndexComplete{}, err
	}

	if err := idx.store.UpsertFileInfo(ctx, &models.FileInfo{
		Path:        payload.FilePath,
		Hash:        payload.ContentHash,
		LastIndexed: time.Now().UnixMilli(),
		EntityCount: entResult.Processed,
	}); err != nil {
		return IndexComplete{}, err
	}

	if idx.cache != nil {
		if err := idx.cache.Clear(ctx); err != nil {
			idx.logger.Warn("failed to clear query cache after indexing", map[string]interface{}{"filePath": payload.FilePath, "error": err.Error()})
		}
	}

	result := IndexComplete{
		FilePath:      payload.FilePath,
		Entities:      entResult.Processed,
		Relationships: relResult.Processed,
		TimeMs:        time.Since(start).Milliseconds(),
	}

	if idx.bus != nil {
		idx.bus.Publish(agent.KnowledgeEntry{Topic: agent.TopicIndexComplete, Data: result, Source: "indexer"})
		idx.bus.Publish(agent.KnowledgeEntry{Topic: agent.TopicSemanticNewEntity, Data: NewEntities{FilePath: payload.FilePath, Entities: entities}, Source: "indexer"})
	}

	return result, nil
}

// flattener walks a ParsedEntity tree, assigning each node a stable id,
// recording a CONTAINS relationship to its parent (if any), indexing names
// for same-file relationship resolution, and materializing external
// placeholder entities for symbols a ProvidedRelationship points outside the
// flattened tree.
type flattener struct {
	filePath      string
	contentHash   string
	entities      []*models.Entity
	relationships []*models.Relationship
	byName        map[string]string
	external      map[string]*models.Entity
}

func newFlattener(filePath, contentHash string) *flattener {
	return &flattener{
		filePath:    filePath,
		contentHash: contentHash,
		byName:      map[string]string{},
		external:    map[string]*models.Entity{},
	}
}

func (f *flattener) add(pe ParsedEntity, parentID string) string {
	id := graph.EntityID(f.filePath, pe.Type, pe.Name, pe.Location.Start.Index, pe.Location.End.Index)

	metadata := map[string]interface{}{}
	if len(pe.Modifiers) > 0 {
		metadata["modifiers"] = pe.Modifiers
	}
	if pe.ReturnType != "" {
		metadata["returnType"] = pe.ReturnType
	}
	if len(pe.Parameters) > 0 {
		metadata["parameters"] = pe.Parameters
	}
	if len(pe.References) > 0 {
		metadata["references"] = pe.References
	}
	if pe.ImportData != nil {
		metadata["importData"] = pe.ImportData
	}

	f.entities = append(f.entities, &models.Entity{
		ID:       id,
		Name:     pe.Name,
		Type:     pe.Type,
		FilePath: f.filePath,
		Location: pe.Location,
		Metadata: metadata,
		Hash:     f.contentHash,
	})
	f.byName[pe.Name] = id

	if parentID != "" {
		f.relationships = append(f.relationships, &models.Relationship{
			ID:     graph.RelationshipID(parentID, id, models.RelContains),
			FromID: parentID,
			ToID:   id,
			Type:   models.RelContains,
		})
	}

	for _, child := range pe.Children {
		f.add(child, id)
	}
	return id
}

// resolve maps a provided-relationship endpoint name to a storage id: a
// same-file symbol (when targetFile is unset) resolves to its parsed
// entity; otherwise it resolves to an external placeholder id, materializing
// that placeholder entity on first use (spec.md §3: symbols outside the
// indexed corpus materialize as placeholder entities).
func (f *flattener) resolve(name, targetFile string) (string, bool) {
	if name == "" {
		return "", false
	}
	if targetFile == "" {
		if id, ok := f.byName[name]; ok {
			return id, true
		}
	}
	source := targetFile
	if source == "" {
		source = "unknown"
	}
	id := graph.ExternalEntityID(source, name)
	if _, exists := f.external[id]; !exists {
		f.external[id] = &models.Entity{
			ID:       id,
			Name:     name,
			Type:     models.EntityModule,
			FilePath: "external://" + source,
			Metadata: map[string]interface{}{"isExternal": true, "source": source},
		}
	}
	return id, true
}

// allEntities returns every parsed entity plus every materialized external
// placeholder, so every relationship endpoint resolves to a stored row.
func (f *flattener) allEntities() []*models.Entity {
	out := append([]*models.Entity{}, f.entities...)
	for _, e := range f.external {
		out = append(out, e)
	}
	return out
}
