package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimizeEntityQueryPrefersNameEquality(t *testing.T) {
	plan := OptimizeEntityQuery(EntityFilter{Name: "Foo", EntityTypes: []string{"function"}})
	assert.Equal(t, IndexEntityName, plan.Index)
	assert.Equal(t, 0.1, plan.Cost)
	assert.Contains(t, plan.SQL, "name = ?")
}

func TestOptimizeEntityQueryFallsBackToNamePattern(t *testing.T) {
	plan := OptimizeEntityQuery(EntityFilter{NamePattern: "Foo%"})
	assert.Equal(t, IndexEntityName, plan.Index)
	assert.Equal(t, 0.5, plan.Cost)
	assert.Contains(t, plan.SQL, "name LIKE ?")
}

func TestOptimizeEntityQueryUsesPathIndexWhenNoNameFilter(t *testing.T) {
	plan := OptimizeEntityQuery(EntityFilter{FilePaths: []string{"a.go"}})
	assert.Equal(t, IndexEntityPath, plan.Index)
	assert.Equal(t, 0.1, plan.Cost)
}

func TestOptimizeEntityQueryClampsLimitToDefaultAndCeiling(t *testing.T) {
	plan := OptimizeEntityQuery(EntityFilter{})
	assert.Equal(t, 100, plan.Args[len(plan.Args)-2])

	plan = OptimizeEntityQuery(EntityFilter{Limit: 5000})
	assert.Equal(t, 1000, plan.Args[len(plan.Args)-2])
}

func TestOptimizeRelationshipQueryDirectionOutgoing(t *testing.T) {
	plan := OptimizeRelationshipQuery("e1", "", "outgoing")
	assert.Contains(t, plan.SQL, "from_id = ?")
	assert.NotContains(t, plan.SQL, "OR")
	assert.Equal(t, []interface{}{"e1"}, plan.Args)
}

func TestOptimizeRelationshipQueryDirectionIncoming(t *testing.T) {
	plan := OptimizeRelationshipQuery("e1", "", "incoming")
	assert.Contains(t, plan.SQL, "to_id = ?")
	assert.Equal(t, []interface{}{"e1"}, plan.Args)
}

func TestOptimizeRelationshipQueryDirectionBothRaisesCost(t *testing.T) {
	plan := OptimizeRelationshipQuery("e1", "", "")
	assert.Contains(t, plan.SQL, "OR")
	assert.Equal(t, 0.2, plan.Cost)
	assert.Equal(t, []interface{}{"e1", "e1"}, plan.Args)
}

func TestOptimizeRelationshipQueryAppendsTypeFilter(t *testing.T) {
	plan := OptimizeRelationshipQuery("e1", "calls", "outgoing")
	assert.Contains(t, plan.SQL, "AND type = ?")
	assert.Equal(t, []interface{}{"e1", "calls"}, plan.Args)
}

func TestOptimizeTraversalQueryCapsDepthAtTen(t *testing.T) {
	plan := OptimizeTraversalQuery("root", 25, nil)
	assert.Contains(t, plan.SQL, "traverse.depth < 10")
}

func TestOptimizeTraversalQueryAddsTypeFilterWhenRelTypesGiven(t *testing.T) {
	plan := OptimizeTraversalQuery("root", 3, []string{"calls", "imports"})
	assert.Contains(t, plan.SQL, "r.type IN (?,?)")
	assert.Contains(t, plan.Args, "calls")
	assert.Contains(t, plan.Args, "imports")
}

func TestOptimizePathQueryDefaultsDepthWhenOutOfRange(t *testing.T) {
	plan := OptimizePathQuery("a", "b", 0)
	assert.Contains(t, plan.SQL, "path.depth < 10")

	plan = OptimizePathQuery("a", "b", 50)
	assert.Contains(t, plan.SQL, "path.depth < 10")
}

func TestOptimizePathQueryBindsFromAndToIDs(t *testing.T) {
	plan := OptimizePathQuery("a", "b", 5)
	assert.Equal(t, []interface{}{"a", "a", "b"}, plan.Args)
}

func TestOptimizeHotspotQueryDefaultsMinConnections(t *testing.T) {
	plan := OptimizeHotspotQuery(0)
	assert.Equal(t, []interface{}{5}, plan.Args)
}

func TestOptimizeHotspotQueryKeepsPositiveMinConnections(t *testing.T) {
	plan := OptimizeHotspotQuery(12)
	assert.Equal(t, []interface{}{12}, plan.Args)
	assert.True(t, strings.Contains(plan.SQL, "ORDER BY score DESC"))
}
