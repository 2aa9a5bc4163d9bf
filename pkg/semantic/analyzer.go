package semantic

import (
	"context"
	"regexp"
	"strings"

	"github.com/developer-mesh/codegraph/pkg/vector"
)

// FragmentKind classifies a code fragment by what it structurally looks
// like, per spec.md §4.11.
type FragmentKind string

const (
	FragmentFunction FragmentKind = "function"
	FragmentClass    FragmentKind = "class"
	FragmentModule   FragmentKind = "module"
	FragmentUtility  FragmentKind = "utility"
	FragmentTest     FragmentKind = "test"
)

// Metrics holds the lightweight structural counts a fragment is scored on.
type Metrics struct {
	Lines      int
	Branches   int
	Loops      int
	Functions  int
	Classes    int
	Complexity float64
}

// Thresholds for refactoring suggestions (spec.md §4.11).
const (
	longFunctionLines   = 50
	highBranchCount     = 10
	cloneSimilarity     = 0.85
	minClonesPerCluster = 2
)

var (
	branchPattern   = regexp.MustCompile(`\b(if|switch|case|else if|elif)\b`)
	loopPattern     = regexp.MustCompile(`\b(for|while|range)\b`)
	functionPattern = regexp.MustCompile(`\b(func|function|def)\s+\w+`)
	classPattern    = regexp.MustCompile(`\b(class|struct|interface|type)\s+\w+`)
	conceptPattern  = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:[A-Z][a-z0-9]*)+\b`) // CamelCase identifiers
	entityPattern   = regexp.MustCompile(`\b[a-z_][a-zA-Z0-9_]*\(`)                  // call-like identifiers
	testNamePattern = regexp.MustCompile(`(?i)\btest`)
)

// AnalyzeFragment derives Metrics and a complexity score: a weighted sum of
// branch (x2), loop (x2), function (x1) and class (x1.5) counts (spec.md
// §4.11). The score is not divided by the line count.
func AnalyzeFragment(content string) Metrics {
	lines := strings.Split(content, "\n")
	m := Metrics{
		Lines:     len(lines),
		Branches:  len(branchPattern.FindAllString(content, -1)),
		Loops:     len(loopPattern.FindAllString(content, -1)),
		Functions: len(functionPattern.FindAllString(content, -1)),
		Classes:   len(classPattern.FindAllString(content, -1)),
	}
	m.Complexity = float64(m.Branches)*2 + float64(m.Loops)*2 + float64(m.Functions) + float64(m.Classes)*1.5
	return m
}

// ExtractConcepts returns candidate domain concepts: distinct CamelCase
// identifiers appearing in content.
func ExtractConcepts(content string) []string {
	return dedupe(conceptPattern.FindAllString(content, -1))
}

// ExtractEntities returns candidate call-site identifiers (trailing '('
// stripped).
func ExtractEntities(content string) []string {
	matches := entityPattern.FindAllString(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(m, "("))
	}
	return dedupe(out)
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// ClassifyFragment determines the FragmentKind of content using its path
// (when available) and structural shape.
func ClassifyFragment(path, content string) FragmentKind {
	if testNamePattern.MatchString(path) || testNamePattern.MatchString(content[:min(len(content), 200)]) {
		return FragmentTest
	}
	if classPattern.MatchString(content) {
		return FragmentClass
	}
	if functionPattern.MatchString(content) {
		if len(functionPattern.FindAllString(content, -1)) == 1 && !strings.Contains(path, "/") {
			return FragmentUtility
		}
		return FragmentFunction
	}
	return FragmentModule
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CloneCandidate is one fragment sampled from the vector store during clone
// detection.
type CloneCandidate struct {
	EntityID string
	Vector   []float32
}

// CloneCluster groups fragments whose pairwise similarity meets
// cloneSimilarity, connected transitively.
type CloneCluster struct {
	EntityIDs []string
}

// DetectClones samples up to sampleSize embeddings from store and groups
// them into clusters by transitive similarity >= cloneSimilarity, keeping
// only clusters with at least minClonesPerCluster members (spec.md §4.11).
func DetectClones(ctx context.Context, store *vector.Store, sampleSize int) ([]CloneCluster, error) {
	sampled, err := store.Sample(ctx, sampleSize)
	if err != nil {
		return nil, err
	}

	candidates := make([]CloneCandidate, 0, len(sampled))
	for _, s := range sampled {
		vec, _ := s.Metadata["vector"].([]float32)
		candidates = append(candidates, CloneCandidate{EntityID: s.EntityID, Vector: vec})
	}
	return DetectClonesAmong(candidates), nil
}

// DetectClonesAmong groups a caller-supplied candidate set into clusters by
// transitive pairwise cosine similarity >= cloneSimilarity.
func DetectClonesAmong(candidates []CloneCandidate) []CloneCluster {
	n := len(candidates)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosineSimilarity(candidates[i].Vector, candidates[j].Vector) >= cloneSimilarity {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]string)
	for i, c := range candidates {
		root := find(i)
		groups[root] = append(groups[root], c.EntityID)
	}

	var clusters []CloneCluster
	for _, ids := range groups {
		if len(ids) >= minClonesPerCluster {
			clusters = append(clusters, CloneCluster{EntityIDs: ids})
		}
	}
	return clusters
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// Suggestion is one refactoring hint keyed on spec.md §4.11's thresholds.
type Suggestion struct {
	Kind        string
	EntityID    string
	Description string
}

// SuggestRefactorings inspects a single fragment's metrics and a set of
// clone clusters to produce refactoring suggestions.
func SuggestRefactorings(entityID string, content string, clusters []CloneCluster) []Suggestion {
	var out []Suggestion
	m := AnalyzeFragment(content)

	if m.Lines > longFunctionLines {
		out = append(out, Suggestion{Kind: "long_function", EntityID: entityID, Description: "function exceeds 50 lines, consider splitting"})
	}
	if m.Branches > highBranchCount {
		out = append(out, Suggestion{Kind: "high_branching", EntityID: entityID, Description: "branch count exceeds 10, consider simplifying control flow"})
	}
	for _, cluster := range clusters {
		for _, id := range cluster.EntityIDs {
			if id == entityID {
				out = append(out, Suggestion{Kind: "duplicate_code", EntityID: entityID, Description: "fragment is part of a clone cluster, consider extracting shared code"})
				break
			}
		}
	}
	return out
}
