package retrieval

import (
	"math"
	"testing"
)

func TestScoreCandidate(t *testing.T) {
	doc := docCandidate{
		ID:         "zh/intro",
		UpdatedAt:  "2025-06-01T00:00:00Z",
		Categories: []string{"知识图谱"},
		Entities: []matchedEntity{
			{Name: "GraphRAG", Salience: 0.8},
			{Name: "Neo4j", Salience: 0.4},
		},
	}
	params := TopNParams{EntityNames: []string{"GraphRAG"}, Category: "知识图谱"}

	got := scoreCandidate(doc, params)
	recency := float64(1748736000000) / 8.64e10
	want := 0.8 + 0.4 + 0.1 + recency
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestScoreCandidateNoMatches(t *testing.T) {
	doc := docCandidate{ID: "zh/other"}
	if got := scoreCandidate(doc, TopNParams{Category: "不存在"}); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}
}

func TestRankCandidatesFiltersZeroScores(t *testing.T) {
	candidates := []docCandidate{
		{ID: "hit", Entities: []matchedEntity{{Name: "GraphRAG", Salience: 0.9}}},
		{ID: "miss"},
	}
	params := TopNParams{EntityNames: []string{"GraphRAG"}}

	items := rankCandidates(candidates, params)
	if len(items) != 1 || items[0].DocID != "hit" {
		t.Fatalf("items = %+v", items)
	}
}

func TestRankCandidatesUnfilteredKeepsAll(t *testing.T) {
	candidates := []docCandidate{
		{ID: "a"},
		{ID: "b", UpdatedAt: "2025-06-01T00:00:00Z"},
	}

	items := rankCandidates(candidates, TopNParams{})
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (no filters keeps zero scores)", len(items))
	}
	// The dated document outranks the undated one via the recency bonus.
	if items[0].DocID != "b" {
		t.Fatalf("first = %q, want b", items[0].DocID)
	}
}

func TestRankCandidatesLimit(t *testing.T) {
	var candidates []docCandidate
	for i := 0; i < 8; i++ {
		candidates = append(candidates, docCandidate{
			ID:       string(rune('a' + i)),
			Entities: []matchedEntity{{Name: "X", Salience: float64(i+1) * 0.1}},
		})
	}
	params := TopNParams{EntityNames: []string{"X"}, Limit: 3}

	items := rankCandidates(candidates, params)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].DocID != "h" {
		t.Fatalf("first = %q, want the highest salience doc", items[0].DocID)
	}

	defaulted := rankCandidates(candidates, TopNParams{EntityNames: []string{"X"}})
	if len(defaulted) != DefaultTopNLimit {
		t.Fatalf("items = %d, want default %d", len(defaulted), DefaultTopNLimit)
	}
}

func TestBuildReasons(t *testing.T) {
	doc := docCandidate{
		UpdatedAt:  "2025-06-01T00:00:00Z",
		Categories: []string{"知识图谱"},
		Entities: []matchedEntity{
			{Name: "GraphRAG", Salience: 0.812},
			{Name: "未评分实体"},
		},
	}
	params := TopNParams{Category: "知识图谱"}

	reasons := buildReasons(doc, params)
	want := []string{
		"包含实体 GraphRAG（salience 0.812）",
		"包含实体 未评分实体",
		"分类匹配 知识图谱",
		"最近更新：2025-06-01T00:00:00Z",
	}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v", reasons)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Fatalf("reason[%d] = %q, want %q", i, reasons[i], want[i])
		}
	}
}
