// Package models defines the data model shared by every component: entities,
// relationships, file metadata, cache entries, embeddings and migration
// records.
package models

// EntityType enumerates the kinds of code artifact an Entity can represent.
type EntityType string

const (
	EntityFunction   EntityType = "function"
	EntityMethod     EntityType = "method"
	EntityClass      EntityType = "class"
	EntityInterface  EntityType = "interface"
	EntityVariable   EntityType = "variable"
	EntityConstant   EntityType = "constant"
	EntityImport     EntityType = "import"
	EntityExport     EntityType = "export"
	EntityModule     EntityType = "module"
	EntityNamespace  EntityType = "namespace"
	EntityTypeAlias  EntityType = "type"
	EntityEnum       EntityType = "enum"
	EntityDecorator  EntityType = "decorator"
	EntityProperty   EntityType = "property"
)

// RelationshipType enumerates the directed edges between entities.
type RelationshipType string

const (
	RelImports    RelationshipType = "IMPORTS"
	RelExports    RelationshipType = "EXPORTS"
	RelCalls      RelationshipType = "CALLS"
	RelReferences RelationshipType = "REFERENCES"
	RelContains   RelationshipType = "CONTAINS"
	RelExtends    RelationshipType = "EXTENDS"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelDependsOn  RelationshipType = "DEPENDS_ON"
)

// Position is a single point in a source file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Index  int `json:"index"`
}

// Location is the span of source text an entity occupies.
type Location struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Entity is a code artifact identified by a stable content-addressed id.
type Entity struct {
	ID              string                 `db:"id" json:"id"`
	Name            string                 `db:"name" json:"name"`
	Type            EntityType             `db:"type" json:"type"`
	FilePath        string                 `db:"file_path" json:"filePath"`
	Location        Location               `db:"-" json:"location"`
	Metadata        map[string]interface{} `db:"-" json:"metadata,omitempty"`
	Hash            string                 `db:"hash" json:"hash"`
	CreatedAt       int64                  `db:"created_at" json:"createdAt"`
	UpdatedAt       int64                  `db:"updated_at" json:"updatedAt"`
	ComplexityScore float64                `db:"complexity_score" json:"complexityScore,omitempty"`
	Language        string                 `db:"language" json:"language,omitempty"`
	SizeBytes       int64                  `db:"size_bytes" json:"sizeBytes,omitempty"`
}

// IsExternal reports whether this entity is a placeholder for a symbol
// outside the indexed corpus.
func (e *Entity) IsExternal() bool {
	if e.Metadata == nil {
		return false
	}
	v, ok := e.Metadata["isExternal"]
	return ok && v == true
}

// Relationship is a directed typed edge between two entities.
type Relationship struct {
	ID        string                 `db:"id" json:"id"`
	FromID    string                 `db:"from_id" json:"fromId"`
	ToID      string                 `db:"to_id" json:"toId"`
	Type      RelationshipType       `db:"type" json:"type"`
	Metadata  map[string]interface{} `db:"-" json:"metadata,omitempty"`
	Weight    float64                `db:"weight" json:"weight,omitempty"`
	CreatedAt int64                  `db:"created_at" json:"createdAt,omitempty"`
}

// FileInfo tracks the last indexing pass over a single source file.
type FileInfo struct {
	Path        string `db:"path" json:"path"`
	Hash        string `db:"hash" json:"hash"`
	LastIndexed int64  `db:"last_indexed" json:"lastIndexed"`
	EntityCount int    `db:"entity_count" json:"entityCount"`
}

// CacheEntry is a single cached query result at any tier.
type CacheEntry struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	Timestamp int64  `json:"timestamp"`
	TTL       int64  `json:"ttl"`
	Hits      int64  `json:"hits"`
	Size      int    `json:"size"`
}

// Embedding is a dense vector representation of a piece of content, tied to
// the entity it was generated for.
type Embedding struct {
	ID        string                 `db:"id" json:"id"`
	EntityID  string                 `db:"entity_id" json:"entityId"`
	Content   string                 `db:"content" json:"content"`
	Vector    []float32              `db:"-" json:"vector"`
	Metadata  map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt int64                  `db:"created_at" json:"createdAt"`
	ModelName string                 `db:"model_name" json:"modelName"`
}

// VectorHealth summarizes whether stored embeddings need to be recomputed
// because the configured embedding model changed since they were written.
type VectorHealth struct {
	TotalVectors  int64  `json:"totalVectors"`
	StaleVectors  int64  `json:"staleVectors"`
	ModelVersion  string `json:"modelVersion"`
	LastRebuildAt int64  `json:"lastRebuildAt"`
}

// NeedsRebuild reports whether any stored vector was produced by a model
// other than currentModel.
func (h VectorHealth) NeedsRebuild(currentModel string) bool {
	return h.StaleVectors > 0 || h.ModelVersion != currentModel
}

// Migration is a single recorded schema change.
type Migration struct {
	Version     int    `db:"version" json:"version"`
	Description string `db:"description" json:"description"`
	AppliedAt   int64  `db:"applied_at" json:"appliedAt"`
	Checksum    string `db:"checksum" json:"checksum"`
}

// BatchResult reports the outcome of a bulk write operation.
type BatchResult struct {
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Errors    []ItemError    `json:"errors,omitempty"`
	TimeMs    int64          `json:"timeMs"`
}

// ItemError records the failure of a single item within a batch.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// StorageMetrics summarizes the state of the graph store.
type StorageMetrics struct {
	TotalEntities      int64   `json:"totalEntities"`
	TotalRelationships int64   `json:"totalRelationships"`
	TotalFiles         int64   `json:"totalFiles"`
	DBSizeMB           float64 `json:"dbSizeMB"`
	IndexSizeMB        float64 `json:"indexSizeMB"`
	AvgQueryTimeMs     float64 `json:"avgQueryTimeMs"`
	CacheHitRate       float64 `json:"cacheHitRate"`
	LastVacuum         int64   `json:"lastVacuum"`
}
