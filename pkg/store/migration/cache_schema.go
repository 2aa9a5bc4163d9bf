package migration

// CacheSchema is the schema applied to the cold-tier sidecar database
// (spec.md §6's query-cache DB), kept separate from the main Schema so the
// two files can be opened, migrated, and vacuumed independently.
var CacheSchema = []Migration{
	{
		Version:     1,
		Description: "cold tier cache table",
		Up: `
			CREATE TABLE query_cache (
				key       TEXT PRIMARY KEY,
				value     BLOB NOT NULL,
				timestamp INTEGER NOT NULL,
				ttl       INTEGER NOT NULL,
				hits      INTEGER NOT NULL DEFAULT 0,
				size      INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_query_cache_timestamp ON query_cache(timestamp);
		`,
	},
}
