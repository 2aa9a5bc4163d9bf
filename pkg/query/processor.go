package query

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/developer-mesh/codegraph/pkg/cache"
	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/graph"
	"github.com/developer-mesh/codegraph/pkg/models"
)

// changeFrequencyUnavailable is the hotspot "change frequency" placeholder:
// no change-tracking store exists yet, so this metric is always reported as
// zero until one is added (spec.md §9, SPEC_FULL.md §9).
const changeFrequencyUnavailable = 0

// Path is the result of findPath: nodes and edges visited, in order.
type Path struct {
	Nodes  []string `json:"nodes"`
	Edges  []string `json:"edges"`
	Length int      `json:"length"`
}

// DependencyNode is one node of a dependency tree produced by findDependencies.
type DependencyNode struct {
	EntityID string            `json:"entityId"`
	Children []*DependencyNode `json:"children,omitempty"`
	Circular bool              `json:"circular"`
}

// Cycle is a set of entity ids forming a cycle.
type Cycle struct {
	EntityIDs []string `json:"entityIds"`
}

// Hotspot ranks an entity by combined in/out degree.
type Hotspot struct {
	EntityID        string  `json:"entityId"`
	Incoming        int     `json:"incoming"`
	Outgoing        int     `json:"outgoing"`
	Score           float64 `json:"score"`
	ChangeFrequency int     `json:"changeFrequency"`
}

// ImpactAnalysis is the result of getImpactedEntities.
type ImpactAnalysis struct {
	Direct    []string `json:"direct"`
	Indirect  []string `json:"indirect"`
	RiskLevel string   `json:"riskLevel"`
}

// Change is one entry in a calculateChangeRipple request.
type Change struct {
	EntityID  string `json:"entityId"`
	Type      string `json:"type"` // added|modified|deleted
	Timestamp int64  `json:"timestamp"`
}

// RippleEffect is the result of calculateChangeRipple.
type RippleEffect struct {
	TotalRisk float64            `json:"totalRisk"`
	PerEntity map[string]float64 `json:"perEntity"`
}

var changeWeights = map[string]float64{"added": 1, "modified": 2, "deleted": 3}

// Processor dispatches structural query operations against a graph.Store,
// consulting the cache before executing each one.
type Processor struct {
	graph *graph.Store
	cache *cache.Cache
}

// New constructs a Processor over g, optionally consulting c (may be nil).
func New(g *graph.Store, c *cache.Cache) *Processor {
	return &Processor{graph: g, cache: c}
}

// cachedQuery consults p's cache for descriptor before running compute,
// storing compute's result on a miss. It is a free function, not a method,
// because Go methods cannot carry their own type parameters; T lets each
// caller round-trip its own concrete result type through the cache instead
// of losing it to an interface{} reconstruction on every hit.
func cachedQuery[T any](ctx context.Context, p *Processor, descriptor map[string]interface{}, compute func() (T, error)) (T, error) {
	if p.cache == nil {
		return compute()
	}
	key := cache.Key(descriptor)
	if raw, ok := p.cache.Get(ctx, key); ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
	}
	value, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	if raw, err := json.Marshal(value); err == nil {
		p.cache.Set(ctx, key, raw)
	}
	return value, nil
}

// GetEntity returns a single entity by id, or nil.
func (p *Processor) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	descriptor := map[string]interface{}{"op": "getEntity", "id": id}
	return cachedQuery(ctx, p, descriptor, func() (*models.Entity, error) {
		return p.graph.GetEntity(ctx, id)
	})
}

// ListEntities applies filter and returns matching entities.
func (p *Processor) ListEntities(ctx context.Context, filter graph.EntityFilter) ([]*models.Entity, error) {
	descriptor := map[string]interface{}{
		"op":          "listEntities",
		"entityTypes": toInterfaceSlice(filter.EntityTypes),
		"filePaths":   filter.FilePaths,
		"name":        filter.Name,
		"namePattern": filter.NamePattern,
		"relType":     string(filter.RelationshipType),
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	}
	return cachedQuery(ctx, p, descriptor, func() ([]*models.Entity, error) {
		return p.graph.FindEntities(ctx, filter)
	})
}

// GetRelationships returns relationships touching entityID, optionally
// filtered to relType.
func (p *Processor) GetRelationships(ctx context.Context, entityID string, relType models.RelationshipType) ([]*models.Relationship, error) {
	descriptor := map[string]interface{}{"op": "getRelationships", "entityId": entityID, "relType": string(relType)}
	return cachedQuery(ctx, p, descriptor, func() ([]*models.Relationship, error) {
		return p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: entityID, RelationshipType: relType, Limit: 1000})
	})
}

// GetRelatedEntities performs BFS from root with a visited set, depth in
// [1,10], returning entities at levels > 0 only.
func (p *Processor) GetRelatedEntities(ctx context.Context, rootID string, depth int) ([]*models.Entity, error) {
	if depth < 1 || depth > 10 {
		return nil, cgerrors.ErrInvalidDepth
	}
	descriptor := map[string]interface{}{"op": "getRelatedEntities", "rootId": rootID, "depth": depth}
	return cachedQuery(ctx, p, descriptor, func() ([]*models.Entity, error) {
		return p.relatedEntities(ctx, rootID, depth)
	})
}

func (p *Processor) relatedEntities(ctx context.Context, rootID string, depth int) ([]*models.Entity, error) {
	visited := map[string]bool{rootID: true}
	frontier := []string{rootID}
	var result []*models.Entity

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			rels, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: id, Limit: 1000})
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				other := r.ToID
				if other == id {
					other = r.FromID
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				e, err := p.graph.GetEntity(ctx, other)
				if err != nil {
					return nil, err
				}
				if e != nil {
					result = append(result, e)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return result, nil
}

// FindPath performs BFS over an undirected view of relationships, tracking
// the edge sequence, returning nil if no path exists.
func (p *Processor) FindPath(ctx context.Context, fromID, toID string) (*Path, error) {
	if fromID == toID {
		return &Path{Nodes: []string{fromID}, Edges: nil, Length: 0}, nil
	}
	descriptor := map[string]interface{}{"op": "findPath", "fromId": fromID, "toId": toID}
	return cachedQuery(ctx, p, descriptor, func() (*Path, error) {
		return p.findPath(ctx, fromID, toID)
	})
}

func (p *Processor) findPath(ctx context.Context, fromID, toID string) (*Path, error) {
	type frame struct {
		id    string
		nodes []string
		edges []string
	}
	visited := map[string]bool{fromID: true}
	queue := []frame{{id: fromID, nodes: []string{fromID}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		rels, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: cur.id, Limit: 1000})
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			other := r.ToID
			if other == cur.id {
				other = r.FromID
			}
			if visited[other] {
				continue
			}
			nodes := append(append([]string{}, cur.nodes...), other)
			edges := append(append([]string{}, cur.edges...), r.ID)
			if other == toID {
				return &Path{Nodes: nodes, Edges: edges, Length: len(edges)}, nil
			}
			visited[other] = true
			queue = append(queue, frame{id: other, nodes: nodes, edges: edges})
		}
	}
	return nil, nil
}

// subgraph bundles GetSubgraph's two return values into one cacheable value.
type subgraph struct {
	Entities []*models.Entity       `json:"entities"`
	Edges    []*models.Relationship `json:"edges"`
}

// GetSubgraph delegates to the graph store's BFS subgraph extraction.
func (p *Processor) GetSubgraph(ctx context.Context, rootID string, depth int) ([]*models.Entity, []*models.Relationship, error) {
	if depth < 0 || depth > 5 {
		return nil, nil, cgerrors.ErrInvalidDepth
	}
	descriptor := map[string]interface{}{"op": "getSubgraph", "rootId": rootID, "depth": depth}
	sg, err := cachedQuery(ctx, p, descriptor, func() (subgraph, error) {
		entities, edges, err := p.graph.GetSubgraph(ctx, rootID, depth)
		return subgraph{Entities: entities, Edges: edges}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return sg.Entities, sg.Edges, nil
}

// FindDependencies performs DFS following outgoing DEPENDS_ON edges,
// marking nodes on the current recursion stack as circular when revisited.
func (p *Processor) FindDependencies(ctx context.Context, entityID string) (*DependencyNode, error) {
	descriptor := map[string]interface{}{"op": "findDependencies", "entityId": entityID}
	return cachedQuery(ctx, p, descriptor, func() (*DependencyNode, error) {
		return p.findDependencies(ctx, entityID)
	})
}

func (p *Processor) findDependencies(ctx context.Context, entityID string) (*DependencyNode, error) {
	onStack := map[string]bool{}
	var visit func(id string) (*DependencyNode, error)
	visit = func(id string) (*DependencyNode, error) {
		if onStack[id] {
			return &DependencyNode{EntityID: id, Circular: true}, nil
		}
		onStack[id] = true
		defer delete(onStack, id)

		node := &DependencyNode{EntityID: id}
		rels, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: id, RelationshipType: models.RelDependsOn, Limit: 1000})
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if r.FromID != id {
				continue
			}
			child, err := visit(r.ToID)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}
	return visit(entityID)
}

// DetectCycles runs DFS with a path stack per starting entity, reporting
// the first cycle encountered per start; the overall result is deduplicated.
func (p *Processor) DetectCycles(ctx context.Context) ([]Cycle, error) {
	descriptor := map[string]interface{}{"op": "detectCycles"}
	return cachedQuery(ctx, p, descriptor, func() ([]Cycle, error) {
		return p.detectCycles(ctx)
	})
}

func (p *Processor) detectCycles(ctx context.Context) ([]Cycle, error) {
	var entities []*models.Entity
	entities, err := p.graph.FindEntities(ctx, graph.EntityFilter{Limit: 1000})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var cycles []Cycle

	for _, start := range entities {
		stack := map[string]int{}
		order := []string{}
		var dfs func(id string) ([]string, error)
		dfs = func(id string) ([]string, error) {
			if idx, onStack := stack[id]; onStack {
				return order[idx:], nil
			}
			stack[id] = len(order)
			order = append(order, id)
			defer func() {
				delete(stack, id)
				order = order[:len(order)-1]
			}()

			rels, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: id, Limit: 1000})
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				if r.FromID != id {
					continue
				}
				cyc, err := dfs(r.ToID)
				if err != nil {
					return nil, err
				}
				if cyc != nil {
					return cyc, nil
				}
			}
			return nil, nil
		}

		cyc, err := dfs(start.ID)
		if err != nil {
			return nil, err
		}
		if cyc != nil {
			key := canonicalCycleKey(cyc)
			if !seen[key] {
				seen[key] = true
				cycles = append(cycles, Cycle{EntityIDs: cyc})
			}
		}
	}
	return cycles, nil
}

func canonicalCycleKey(ids []string) string {
	cp := append([]string{}, ids...)
	sort.Strings(cp)
	key := ""
	for _, id := range cp {
		key += id + "|"
	}
	return key
}

// AnalyzeHotspots ranks entities by weighted degree (incoming*2 + outgoing),
// returning the top 100.
func (p *Processor) AnalyzeHotspots(ctx context.Context, minConnections int) ([]Hotspot, error) {
	if minConnections <= 0 {
		minConnections = 5
	}
	descriptor := map[string]interface{}{"op": "analyzeHotspots", "minConnections": minConnections}
	return cachedQuery(ctx, p, descriptor, func() ([]Hotspot, error) {
		return p.analyzeHotspots(ctx, minConnections)
	})
}

func (p *Processor) analyzeHotspots(ctx context.Context, minConnections int) ([]Hotspot, error) {
	entities, err := p.graph.FindEntities(ctx, graph.EntityFilter{Limit: 1000})
	if err != nil {
		return nil, err
	}

	var hotspots []Hotspot
	for _, e := range entities {
		rels, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: e.ID, Limit: 1000})
		if err != nil {
			return nil, err
		}
		var incoming, outgoing int
		for _, r := range rels {
			if r.ToID == e.ID {
				incoming++
			}
			if r.FromID == e.ID {
				outgoing++
			}
		}
		if incoming+outgoing < minConnections {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			EntityID: e.ID, Incoming: incoming, Outgoing: outgoing,
			Score:           float64(incoming)*2 + float64(outgoing),
			ChangeFrequency: changeFrequencyUnavailable,
		})
	}

	sort.Slice(hotspots, func(i, j int) bool { return hotspots[i].Score > hotspots[j].Score })
	if len(hotspots) > 100 {
		hotspots = hotspots[:100]
	}
	return hotspots, nil
}

// GetImpactedEntities returns direct impacts (entities with outgoing edges
// into sourceID) and their 2-hop indirect closure, bucketing risk by total
// size: >50 critical, >20 high, >5 medium, else low.
func (p *Processor) GetImpactedEntities(ctx context.Context, sourceID string) (*ImpactAnalysis, error) {
	descriptor := map[string]interface{}{"op": "getImpactedEntities", "sourceId": sourceID}
	return cachedQuery(ctx, p, descriptor, func() (*ImpactAnalysis, error) {
		return p.impactedEntities(ctx, sourceID)
	})
}

func (p *Processor) impactedEntities(ctx context.Context, sourceID string) (*ImpactAnalysis, error) {
	rels, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: sourceID, Limit: 1000})
	if err != nil {
		return nil, err
	}

	direct := map[string]bool{}
	for _, r := range rels {
		if r.ToID == sourceID {
			direct[r.FromID] = true
		}
	}

	indirect := map[string]bool{}
	for id := range direct {
		rels2, err := p.graph.FindRelationships(ctx, graph.RelationshipFilter{EntityID: id, Limit: 1000})
		if err != nil {
			return nil, err
		}
		for _, r := range rels2 {
			if r.ToID == id && !direct[r.FromID] && r.FromID != sourceID {
				indirect[r.FromID] = true
			}
		}
	}

	directList := toSortedSlice(direct)
	indirectList := toSortedSlice(indirect)

	total := len(directList) + len(indirectList)
	risk := "low"
	switch {
	case total > 50:
		risk = "critical"
	case total > 20:
		risk = "high"
	case total > 5:
		risk = "medium"
	}

	return &ImpactAnalysis{Direct: directList, Indirect: indirectList, RiskLevel: risk}, nil
}

func toSortedSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toInterfaceSlice(types []models.EntityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// CalculateChangeRipple accumulates per-change weights over direct impacts
// (full weight) and indirect impacts (0.5x), normalizing total risk to 0-100.
func (p *Processor) CalculateChangeRipple(ctx context.Context, changes []Change) (*RippleEffect, error) {
	descriptor := map[string]interface{}{"op": "calculateChangeRipple", "changes": changesToDescriptor(changes)}
	return cachedQuery(ctx, p, descriptor, func() (*RippleEffect, error) {
		return p.changeRipple(ctx, changes)
	})
}

func changesToDescriptor(changes []Change) []interface{} {
	out := make([]interface{}, len(changes))
	for i, ch := range changes {
		out[i] = map[string]interface{}{"entityId": ch.EntityID, "type": ch.Type, "timestamp": ch.Timestamp}
	}
	return out
}

func (p *Processor) changeRipple(ctx context.Context, changes []Change) (*RippleEffect, error) {
	perEntity := map[string]float64{}
	var total float64

	for _, ch := range changes {
		weight := changeWeights[ch.Type]
		impact, err := p.GetImpactedEntities(ctx, ch.EntityID)
		if err != nil {
			return nil, err
		}
		for _, id := range impact.Direct {
			perEntity[id] += weight
			total += weight
		}
		for _, id := range impact.Indirect {
			perEntity[id] += weight * 0.5
			total += weight * 0.5
		}
	}

	normalized := total
	if normalized > 100 {
		normalized = 100
	}
	return &RippleEffect{TotalRisk: normalized, PerEntity: perEntity}, nil
}
