// Package hybrid implements hybrid search (C12): fusing a structural lookup
// and a semantic nearest-neighbor lookup via Reciprocal Rank Fusion.
package hybrid

import "sort"

// Source names where a fused result came from.
type Source string

const (
	SourceStructural Source = "structural"
	SourceSemantic   Source = "semantic"
	SourceHybrid     Source = "hybrid"
)

// RankedItem is one entry from a single source's ranked result list,
// ordered by that source's own notion of relevance (rank 0 = best).
type RankedItem struct {
	ID string
}

// Result is one fused, normalized hit.
type Result struct {
	ID     string
	Score  float64
	Source Source
}

// Options tunes the fusion; defaults match spec.md §4.12.
type Options struct {
	K                int
	StructuralWeight float64
	SemanticWeight   float64
	Limit            int
}

func (o *Options) applyDefaults() {
	if o.K <= 0 {
		o.K = 60
	}
	if o.StructuralWeight == 0 && o.SemanticWeight == 0 {
		o.StructuralWeight = 0.6
		o.SemanticWeight = 0.4
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
}

// Fuse combines structural and semantic ranked lists via Reciprocal Rank
// Fusion: score(doc) = Σ weight_src / (k + rank_src(doc) + 1) over every
// source that returned the doc. Results are normalized to [0,1], deduplicated
// by id, sorted descending, and tagged by which source(s) contributed.
func Fuse(structural, semantic []RankedItem, opts Options) []Result {
	opts.applyDefaults()

	type accum struct {
		score      float64
		inStruct   bool
		inSemantic bool
	}
	scores := make(map[string]*accum)
	order := []string{}

	addSource := func(items []RankedItem, weight float64, mark func(*accum)) {
		for rank, item := range items {
			a, ok := scores[item.ID]
			if !ok {
				a = &accum{}
				scores[item.ID] = a
				order = append(order, item.ID)
			}
			a.score += weight / float64(opts.K+rank+1)
			mark(a)
		}
	}

	addSource(structural, opts.StructuralWeight, func(a *accum) { a.inStruct = true })
	addSource(semantic, opts.SemanticWeight, func(a *accum) { a.inSemantic = true })

	if len(scores) == 0 {
		return nil
	}

	maxScore := 0.0
	for _, a := range scores {
		if a.score > maxScore {
			maxScore = a.score
		}
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		a := scores[id]
		normalized := a.score
		if maxScore > 0 {
			normalized = a.score / maxScore
		}
		src := SourceHybrid
		switch {
		case a.inStruct && !a.inSemantic:
			src = SourceStructural
		case a.inSemantic && !a.inStruct:
			src = SourceSemantic
		}
		results = append(results, Result{ID: id, Score: normalized, Source: src})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}
