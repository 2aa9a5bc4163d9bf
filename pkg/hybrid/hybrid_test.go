package hybrid

import "testing"

func TestFuseRanksDocsPresentInBothSourcesHigher(t *testing.T) {
	structural := []RankedItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	semantic := []RankedItem{{ID: "b"}, {ID: "d"}, {ID: "a"}}

	results := Fuse(structural, semantic, Options{})
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].ID != "b" {
		t.Fatalf("expected doc present high in both lists to rank first, got %s", results[0].ID)
	}
	if results[0].Source != SourceHybrid {
		t.Fatalf("expected doc in both lists to be tagged hybrid, got %s", results[0].Source)
	}
}

func TestFuseTagsSingleSourceDocs(t *testing.T) {
	structural := []RankedItem{{ID: "only-structural"}}
	semantic := []RankedItem{{ID: "only-semantic"}}

	results := Fuse(structural, semantic, Options{})
	bySource := make(map[string]Source)
	for _, r := range results {
		bySource[r.ID] = r.Source
	}
	if bySource["only-structural"] != SourceStructural {
		t.Fatalf("expected structural-only doc tagged structural, got %s", bySource["only-structural"])
	}
	if bySource["only-semantic"] != SourceSemantic {
		t.Fatalf("expected semantic-only doc tagged semantic, got %s", bySource["only-semantic"])
	}
}

func TestFuseNormalizesScoresToUnitRange(t *testing.T) {
	structural := []RankedItem{{ID: "a"}, {ID: "b"}}
	semantic := []RankedItem{{ID: "a"}, {ID: "c"}}

	results := Fuse(structural, semantic, Options{})
	for _, r := range results {
		if r.Score > 1.0 || r.Score < 0.0 {
			t.Fatalf("score %f out of [0,1] range for %s", r.Score, r.ID)
		}
	}
	if results[0].Score != 1.0 {
		t.Fatalf("expected top result normalized to 1.0, got %f", results[0].Score)
	}
}

func TestFuseDeduplicatesByID(t *testing.T) {
	structural := []RankedItem{{ID: "a"}, {ID: "a"}}
	semantic := []RankedItem{{ID: "a"}}

	results := Fuse(structural, semantic, Options{})
	count := 0
	for _, r := range results {
		if r.ID == "a" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected deduplicated single entry for repeated id, got %d", count)
	}
}

func TestFuseRespectsLimit(t *testing.T) {
	var structural []RankedItem
	for i := 0; i < 20; i++ {
		structural = append(structural, RankedItem{ID: string(rune('a' + i))})
	}

	results := Fuse(structural, nil, Options{Limit: 5})
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
}

func TestFuseIsMonotonicInRank(t *testing.T) {
	structural := []RankedItem{{ID: "first"}, {ID: "second"}, {ID: "third"}}

	results := Fuse(structural, nil, Options{})
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Fatalf("expected non-increasing scores, got %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestFuseEmptyInputsReturnsNoResults(t *testing.T) {
	results := Fuse(nil, nil, Options{})
	if len(results) != 0 {
		t.Fatalf("expected no results for empty inputs, got %d", len(results))
	}
}

func TestFuseAppliesDefaultWeightsAndK(t *testing.T) {
	var opts Options
	opts.applyDefaults()
	if opts.K != 60 {
		t.Fatalf("expected default k=60, got %d", opts.K)
	}
	if opts.StructuralWeight != 0.6 || opts.SemanticWeight != 0.4 {
		t.Fatalf("expected default weights 0.6/0.4, got %f/%f", opts.StructuralWeight, opts.SemanticWeight)
	}
	if opts.Limit != 10 {
		t.Fatalf("expected default limit=10, got %d", opts.Limit)
	}
}
