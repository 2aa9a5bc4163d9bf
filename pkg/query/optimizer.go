// Package query implements the query optimizer (C7) and graph query
// processor (C8): translating high-level descriptors into SQL with index
// selection and cost estimates, and dispatching/executing each structural
// operation named in spec.md §4.8.
package query

import "fmt"

// Index names the available index a plan may choose, ordered from
// narrowest (cheapest) to widest as declared in spec.md §4.7.
type Index string

const (
	IndexPrimary      Index = "PRIMARY"
	IndexEntityType   Index = "idx_entities_type"
	IndexEntityPath   Index = "idx_entities_file_path"
	IndexEntityName   Index = "idx_entities_name"
	IndexNone         Index = ""
)

// Plan is the result of optimizing one descriptor: the SQL text, bound
// parameters, the index chosen, and an estimated relative cost where 1.0 is
// a full table scan.
type Plan struct {
	SQL        string
	Args       []interface{}
	Index      Index
	Cost       float64
}

// EntityFilter mirrors graph.EntityFilter for optimizer purposes, kept
// separate so this package has no import-cycle on pkg/graph.
type EntityFilter struct {
	EntityTypes []string
	FilePaths   []string
	Name        string
	NamePattern string
	Limit       int
	Offset      int
}

// OptimizeEntityQuery picks the narrowest available index and estimates cost
// via the multipliers in spec.md §4.7: indexed equality ≈0.1 of a full scan,
// LIKE ≈0.5, an additional join ≈×2.
func OptimizeEntityQuery(f EntityFilter) Plan {
	query := "SELECT * FROM entities WHERE 1=1"
	var args []interface{}
	cost := 1.0
	idx := IndexNone

	switch {
	case f.Name != "":
		query += " AND name = ?"
		args = append(args, f.Name)
		idx = IndexEntityName
		cost = 0.1
	case f.NamePattern != "":
		query += " AND name LIKE ?"
		args = append(args, f.NamePattern)
		idx = IndexEntityName
		cost = 0.5
	case len(f.FilePaths) > 0:
		idx = IndexEntityPath
		cost = 0.1
	case len(f.EntityTypes) > 0:
		idx = IndexEntityType
		cost = 0.1
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	return Plan{SQL: query, Args: args, Index: idx, Cost: cost}
}

// OptimizeRelationshipQuery chooses from_id, to_id, or their disjunction,
// adding a type filter when relType is set.
func OptimizeRelationshipQuery(entityID string, relType string, direction string) Plan {
	var query string
	var args []interface{}
	cost := 0.1

	switch direction {
	case "outgoing":
		query = "SELECT * FROM relationships WHERE from_id = ?"
		args = append(args, entityID)
	case "incoming":
		query = "SELECT * FROM relationships WHERE to_id = ?"
		args = append(args, entityID)
	default:
		query = "SELECT * FROM relationships WHERE from_id = ? OR to_id = ?"
		args = append(args, entityID, entityID)
		cost = 0.2
	}
	if relType != "" {
		query += " AND type = ?"
		args = append(args, relType)
	}
	return Plan{SQL: query, Args: args, Index: IndexPrimary, Cost: cost}
}

// OptimizeTraversalQuery emits a recursive CTE with a concatenated path
// string guard to prevent revisiting a node, hard-capped at depth 10.
func OptimizeTraversalQuery(rootID string, depth int, relTypes []string) Plan {
	if depth > 10 {
		depth = 10
	}
	typeFilter := ""
	var args []interface{}
	args = append(args, rootID)
	if len(relTypes) > 0 {
		typeFilter = " AND r.type IN (" + placeholders(len(relTypes)) + ")"
		for _, t := range relTypes {
			args = append(args, t)
		}
	}

	sql := fmt.Sprintf(`
		WITH RECURSIVE traverse(id, depth, path) AS (
			SELECT ?, 0, '|' || ? || '|'
			UNION ALL
			SELECT CASE WHEN r.from_id = traverse.id THEN r.to_id ELSE r.from_id END,
			       traverse.depth + 1,
			       traverse.path || CASE WHEN r.from_id = traverse.id THEN r.to_id ELSE r.from_id END || '|'
			FROM relationships r
			JOIN traverse ON (r.from_id = traverse.id OR r.to_id = traverse.id)
			WHERE traverse.depth < %d%s
			  AND traverse.path NOT LIKE '%%' || (CASE WHEN r.from_id = traverse.id THEN r.to_id ELSE r.from_id END) || '%%'
		)
		SELECT DISTINCT id, depth FROM traverse WHERE depth > 0
	`, depth, typeFilter)
	args = append([]interface{}{rootID}, args...)

	return Plan{SQL: sql, Args: args, Index: IndexPrimary, Cost: 2.0}
}

// OptimizePathQuery emits a recursive CTE that stops at the first match
// ordered by depth, hard-capped at maxDepth (default 10).
func OptimizePathQuery(fromID, toID string, maxDepth int) Plan {
	if maxDepth <= 0 || maxDepth > 10 {
		maxDepth = 10
	}
	sql := fmt.Sprintf(`
		WITH RECURSIVE path(id, depth, trail, edges) AS (
			SELECT ?, 0, '|' || ? || '|', ''
			UNION ALL
			SELECT CASE WHEN r.from_id = path.id THEN r.to_id ELSE r.from_id END,
			       path.depth + 1,
			       path.trail || CASE WHEN r.from_id = path.id THEN r.to_id ELSE r.from_id END || '|',
			       path.edges || r.id || ','
			FROM relationships r
			JOIN path ON (r.from_id = path.id OR r.to_id = path.id)
			WHERE path.depth < %d
			  AND path.trail NOT LIKE '%%' || (CASE WHEN r.from_id = path.id THEN r.to_id ELSE r.from_id END) || '%%'
		)
		SELECT id, depth, edges FROM path WHERE id = ? ORDER BY depth ASC LIMIT 1
	`, maxDepth)
	return Plan{SQL: sql, Args: []interface{}{fromID, fromID, toID}, Index: IndexPrimary, Cost: 2.0}
}

// OptimizeHotspotQuery aggregates in/out degree with a weighted score
// (incoming*2 + outgoing), keeping only entities with at least
// minConnections combined connections.
func OptimizeHotspotQuery(minConnections int) Plan {
	if minConnections <= 0 {
		minConnections = 5
	}
	sql := `
		SELECT e.id, e.name,
		       COALESCE(inc.c, 0) AS incoming,
		       COALESCE(out.c, 0) AS outgoing,
		       COALESCE(inc.c, 0) * 2 + COALESCE(out.c, 0) AS score
		FROM entities e
		LEFT JOIN (SELECT to_id, COUNT(*) c FROM relationships GROUP BY to_id) inc ON inc.to_id = e.id
		LEFT JOIN (SELECT from_id, COUNT(*) c FROM relationships GROUP BY from_id) out ON out.from_id = e.id
		WHERE COALESCE(inc.c, 0) + COALESCE(out.c, 0) >= ?
		ORDER BY score DESC
		LIMIT 100
	`
	return Plan{SQL: sql, Args: []interface{}{minConnections}, Index: IndexPrimary, Cost: 2.0}
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}
