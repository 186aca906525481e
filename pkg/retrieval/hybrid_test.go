package retrieval

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/lattice-docs/graphrag/internal/util"
)

func TestResolveAlpha(t *testing.T) {
	tests := []struct {
		name  string
		alpha []float64
		wantV float64
		wantS float64
	}{
		{"nil uses defaults", nil, 0.7, 0.3},
		{"short slice uses defaults", []float64{0.5}, 0.7, 0.3},
		{"negative uses defaults", []float64{-1, 2}, 0.7, 0.3},
		{"zero sum uses defaults", []float64{0, 0}, 0.7, 0.3},
		{"valid pair renormalized", []float64{1, 1}, 0.5, 0.5},
		{"unnormalized pair", []float64{3, 1}, 0.75, 0.25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, s := ResolveAlpha(tc.alpha)
			if math.Abs(v-tc.wantV) > 1e-9 || math.Abs(s-tc.wantS) > 1e-9 {
				t.Fatalf("ResolveAlpha(%v) = (%v, %v), want (%v, %v)", tc.alpha, v, s, tc.wantV, tc.wantS)
			}
		})
	}
}

func TestNormalizeCosine(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1, 1},
		{-1, 0},
		{0, 0.5},
		{0.5, 0.75},
		{2, 1},
		{-2, 0},
	}
	for _, tc := range tests {
		if got := NormalizeCosine(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("NormalizeCosine(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStructureRequested(t *testing.T) {
	if !structureRequested(nil) {
		t.Fatal("empty sources should request structure")
	}
	if !structureRequested([]string{"vector", "Structure"}) {
		t.Fatal("structure source should be matched case-insensitively")
	}
	if !structureRequested([]string{"graph"}) {
		t.Fatal("graph alias should request structure")
	}
	if structureRequested([]string{"vector"}) {
		t.Fatal("vector-only sources must not request structure")
	}
}

func TestBlendHybridStructureLifts(t *testing.T) {
	// Vector norms 0.8 and 0.2 correspond to cosines 0.6 and -0.6. The
	// ranked doc trails on vector but carries the only structure score,
	// which normalizes to 1 and wins the equal-weight blend.
	candidates := []hybridCandidate{
		{DocID: "plain", Cosine: 0.6},
		{
			DocID:  "ranked",
			Cosine: -0.6,
			Structure: StructureMetrics{
				Score:  0.6,
				Source: &StructureSource{Type: "doc", Key: "gnn_pagerank", Value: 0.6},
			},
		},
	}

	items, maxStructure := blendHybrid(candidates, 0.5, 0.5, true)
	if maxStructure != 0.6 {
		t.Fatalf("maxStructure = %v, want 0.6", maxStructure)
	}
	if items[0].DocID != "ranked" {
		t.Fatalf("first item = %q, want ranked", items[0].DocID)
	}

	top := items[0]
	if top.Score != 0.6 {
		t.Fatalf("score = %v, want 0.6", top.Score)
	}
	if top.VectorScore != 0.2 || top.StructureScoreNormalized != 1 {
		t.Fatalf("components = %+v", top)
	}
	if top.ScoreComponents.Vector != 0.1 || top.ScoreComponents.Structure != 0.5 {
		t.Fatalf("score components = %+v", top.ScoreComponents)
	}
	if len(top.Reasons) != 2 || top.Reasons[1] != "文档 PageRank 0.600" {
		t.Fatalf("reasons = %v", top.Reasons)
	}
	if top.StructureDetail == nil || top.StructureDetail.Feature != "gnn_pagerank" {
		t.Fatalf("detail = %+v", top.StructureDetail)
	}

	if items[1].Score != 0.4 {
		t.Fatalf("second score = %v, want 0.4", items[1].Score)
	}
}

func TestBlendHybridCollapsesWithoutStructure(t *testing.T) {
	candidates := []hybridCandidate{
		{DocID: "a", Cosine: 0.2},
		{DocID: "b", Cosine: 0.8},
	}

	items, maxStructure := blendHybrid(candidates, 0.5, 0.5, true)
	if maxStructure != 0 {
		t.Fatalf("maxStructure = %v, want 0", maxStructure)
	}
	// No structure scores anywhere: weights collapse to pure vector.
	if items[0].DocID != "b" {
		t.Fatalf("first item = %q, want b", items[0].DocID)
	}
	if items[0].Score != items[0].VectorScore {
		t.Fatalf("score %v should equal vector score %v", items[0].Score, items[0].VectorScore)
	}
	if items[0].ScoreComponents.Structure != 0 {
		t.Fatalf("structure component = %v, want 0", items[0].ScoreComponents.Structure)
	}
}

func TestBlendHybridNotRequested(t *testing.T) {
	candidates := []hybridCandidate{
		{
			DocID:  "a",
			Cosine: 0,
			Structure: StructureMetrics{
				Score:  0.9,
				Source: &StructureSource{Type: "doc", Key: "gnn_pagerank", Value: 0.9},
			},
		},
	}

	items, _ := blendHybrid(candidates, 0.5, 0.5, false)
	item := items[0]
	if item.Score != item.VectorScore {
		t.Fatalf("unrequested structure must not affect the score: %+v", item)
	}
	if item.StructureDetail != nil {
		t.Fatal("unrequested structure should not emit detail")
	}
	if len(item.Reasons) != 1 {
		t.Fatalf("reasons = %v", item.Reasons)
	}
}

func TestResolveMetaSignals(t *testing.T) {
	tests := []struct {
		name        string
		sources     []string
		active      bool
		wantSources []string
		wantAlpha   []float64
	}{
		{"inactive structure collapses to vector", []string{"vector", "structure"}, false, []string{"vector"}, []float64{1, 0}},
		{"inactive with defaulted sources", nil, false, []string{"vector"}, []float64{1, 0}},
		{"active echoes request", []string{"vector", "structure"}, true, []string{"vector", "structure"}, []float64{0.5, 0.5}},
		{"active defaults sources", nil, true, []string{"vector", "structure"}, []float64{0.5, 0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sources, alpha := resolveMetaSignals(tc.sources, 0.5, 0.5, tc.active)
			if len(sources) != len(tc.wantSources) {
				t.Fatalf("sources = %v, want %v", sources, tc.wantSources)
			}
			for i := range tc.wantSources {
				if sources[i] != tc.wantSources[i] {
					t.Fatalf("sources = %v, want %v", sources, tc.wantSources)
				}
			}
			if len(alpha) != 2 || alpha[0] != tc.wantAlpha[0] || alpha[1] != tc.wantAlpha[1] {
				t.Fatalf("alpha = %v, want %v", alpha, tc.wantAlpha)
			}
		})
	}
}

func TestSearchHybridMetaCollapsesWhenStructureInactive(t *testing.T) {
	root := t.TempDir()
	config := VectorConfig{
		DefaultIndex: "meta-vector",
		Indexes: []IndexConfig{{
			Name:           "meta-vector",
			Type:           "document",
			EmbeddingsPath: "data/embeddings.json",
			Model:          "test-embed",
		}},
	}
	if err := util.WriteJSONFile(filepath.Join(root, DefaultVectorConfigPath), config); err != nil {
		t.Fatal(err)
	}
	embeddings := rawIndexFile{Items: []rawIndexItem{
		{URL: "https://site/zh/a.html", Title: "甲", Lang: "zh", Embedding: []float32{1, 0}},
		{URL: "https://site/zh/b.html", Title: "乙", Lang: "zh", Embedding: []float32{0, 1}},
	}}
	if err := util.WriteJSONFile(filepath.Join(root, "data/embeddings.json"), embeddings); err != nil {
		t.Fatal(err)
	}

	// Structure requested, but no store means no structure scores: the
	// ranking runs vector-only, and the meta must report that instead of
	// echoing the request.
	result, err := SearchHybrid(context.Background(), nil, nil, root, HybridQuery{
		Embedding: []float32{1, 0},
		Sources:   []string{"vector", "structure"},
		Alpha:     []float64{0.5, 0.5},
		Limit:     2,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Meta.Sources) != 1 || result.Meta.Sources[0] != "vector" {
		t.Fatalf("meta sources = %v, want [vector]", result.Meta.Sources)
	}
	if len(result.Meta.Alpha) != 2 || result.Meta.Alpha[0] != 1 || result.Meta.Alpha[1] != 0 {
		t.Fatalf("meta alpha = %v, want [1 0]", result.Meta.Alpha)
	}
	if result.Meta.Structure.Enabled || result.Meta.Structure.MaxScore != 0 {
		t.Fatalf("structure meta = %+v", result.Meta.Structure)
	}
	if result.Meta.Structure.Normalization != "none" {
		t.Fatalf("normalization = %q, want none", result.Meta.Structure.Normalization)
	}
	if len(result.Items) != 2 || result.Items[0].DocID != "zh/a/index" {
		t.Fatalf("items = %+v", result.Items)
	}
	if result.Items[0].Score != result.Items[0].VectorScore {
		t.Fatalf("vector-only run must score by vector alone: %+v", result.Items[0])
	}
}

func TestBuildStructureReason(t *testing.T) {
	tests := []struct {
		source *StructureSource
		want   string
	}{
		{&StructureSource{Type: "doc", Value: 0.123}, "文档 PageRank 0.123"},
		{&StructureSource{Type: "entity_avg", Value: 0.5}, "实体 PageRank 均值 0.500"},
		{&StructureSource{Type: "entity_max", Value: 0.7, Entity: "GraphRAG"}, "实体 GraphRAG PageRank 0.700"},
		{&StructureSource{Type: "entity_max", Value: 0.7}, "实体 PageRank 0.700"},
		{nil, ""},
	}
	for _, tc := range tests {
		if got := buildStructureReason(tc.source); got != tc.want {
			t.Fatalf("buildStructureReason(%+v) = %q, want %q", tc.source, got, tc.want)
		}
	}
}
