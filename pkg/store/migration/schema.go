package migration

// Schema advances through v0 (empty) -> v1 (base schema) -> v2 (enhanced
// indexes, embeddings table, performance metrics), per spec.md §4.3.
var Schema = []Migration{
	{
		Version:     1,
		Description: "base schema: entities, relationships, files, query_cache, entities_fts",
		Up: `
			CREATE TABLE entities (
				id               TEXT PRIMARY KEY,
				name             TEXT NOT NULL,
				type             TEXT NOT NULL,
				file_path        TEXT NOT NULL,
				location_json    TEXT NOT NULL,
				metadata_json    TEXT NOT NULL DEFAULT '{}',
				hash             TEXT NOT NULL,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL,
				complexity_score REAL NOT NULL DEFAULT 0,
				language         TEXT NOT NULL DEFAULT '',
				size_bytes       INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_entities_name ON entities(name);
			CREATE INDEX idx_entities_type ON entities(type);
			CREATE INDEX idx_entities_file_path ON entities(file_path);
			CREATE INDEX idx_entities_type_name ON entities(type, name);
			CREATE INDEX idx_entities_file_path_type ON entities(file_path, type);

			CREATE TABLE relationships (
				id            TEXT PRIMARY KEY,
				from_id       TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				to_id         TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				type          TEXT NOT NULL,
				metadata_json TEXT NOT NULL DEFAULT '{}',
				weight        REAL NOT NULL DEFAULT 0,
				created_at    INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_relationships_from_id ON relationships(from_id);
			CREATE INDEX idx_relationships_to_id ON relationships(to_id);
			CREATE INDEX idx_relationships_type ON relationships(type);
			CREATE INDEX idx_relationships_from_id_type ON relationships(from_id, type);
			CREATE INDEX idx_relationships_to_id_type ON relationships(to_id, type);

			CREATE TABLE files (
				path         TEXT PRIMARY KEY,
				hash         TEXT NOT NULL,
				last_indexed INTEGER NOT NULL,
				entity_count INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE query_cache (
				key        TEXT PRIMARY KEY,
				value      BLOB NOT NULL,
				timestamp  INTEGER NOT NULL,
				ttl        INTEGER NOT NULL,
				hits       INTEGER NOT NULL DEFAULT 0,
				size       INTEGER NOT NULL DEFAULT 0
			);

			CREATE VIRTUAL TABLE entities_fts USING fts5(id UNINDEXED, name, content=entities, content_rowid=rowid);

			CREATE TRIGGER entities_fts_ai AFTER INSERT ON entities BEGIN
				INSERT INTO entities_fts(rowid, id, name) VALUES (new.rowid, new.id, new.name);
			END;
			CREATE TRIGGER entities_fts_ad AFTER DELETE ON entities BEGIN
				INSERT INTO entities_fts(entities_fts, rowid, id, name) VALUES ('delete', old.rowid, old.id, old.name);
			END;
			CREATE TRIGGER entities_fts_au AFTER UPDATE ON entities BEGIN
				INSERT INTO entities_fts(entities_fts, rowid, id, name) VALUES ('delete', old.rowid, old.id, old.name);
				INSERT INTO entities_fts(rowid, id, name) VALUES (new.rowid, new.id, new.name);
			END;
		`,
	},
	{
		Version:     2,
		Description: "enhanced indexes, embeddings table, performance metrics",
		Up: `
			CREATE INDEX idx_relationships_from_to_type ON relationships(from_id, to_id, type);

			CREATE TABLE embeddings (
				id            TEXT PRIMARY KEY,
				entity_id     TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				content       TEXT NOT NULL,
				vector        BLOB NOT NULL,
				metadata_json TEXT NOT NULL DEFAULT '{}',
				created_at    INTEGER NOT NULL,
				model_name    TEXT NOT NULL
			);
			CREATE INDEX idx_embeddings_entity_id ON embeddings(entity_id);
			CREATE INDEX idx_embeddings_model_name ON embeddings(model_name);

			CREATE TABLE performance_metrics (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				statement    TEXT NOT NULL,
				calls        INTEGER NOT NULL DEFAULT 0,
				total_ms     REAL NOT NULL DEFAULT 0,
				recorded_at  INTEGER NOT NULL
			);
		`,
	},
}
