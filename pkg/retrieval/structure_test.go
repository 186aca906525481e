package retrieval

import "testing"

func TestExtractGNNScores(t *testing.T) {
	props := map[string]any{
		"gnn_pagerank":  0.42,
		"gnn_community": int64(7),
		"title":         "无关字段",
		"gnn_bad":       "not-a-number",
	}
	scores := ExtractGNNScores(props)
	if len(scores) != 2 {
		t.Fatalf("scores = %v", scores)
	}
	if scores["gnn_pagerank"] != 0.42 || scores["gnn_community"] != 7 {
		t.Fatalf("scores = %v", scores)
	}
}

func TestComputeStructureMetricsDocPreferred(t *testing.T) {
	docProps := map[string]any{"gnn_pagerank": 0.9}
	entities := []EntityStructure{
		{Name: "A", Scores: map[string]float64{"gnn_pagerank": 0.5}},
	}

	metrics := ComputeStructureMetrics(docProps, entities)
	if metrics.Score != 0.9 {
		t.Fatalf("score = %v, want doc pagerank 0.9", metrics.Score)
	}
	if metrics.Source == nil || metrics.Source.Type != "doc" {
		t.Fatalf("source = %+v, want doc", metrics.Source)
	}
}

func TestComputeStructureMetricsEntityAvgFallback(t *testing.T) {
	entities := []EntityStructure{
		{Name: "A", Scores: map[string]float64{"gnn_pagerank": 0.2}},
		{Name: "B", Scores: map[string]float64{"gnn_pagerank": 0.6}},
	}

	metrics := ComputeStructureMetrics(map[string]any{}, entities)
	if metrics.Source == nil || metrics.Source.Type != "entity_avg" {
		t.Fatalf("source = %+v, want entity_avg", metrics.Source)
	}
	if metrics.Score != 0.4 {
		t.Fatalf("score = %v, want 0.4", metrics.Score)
	}
	if metrics.Pagerank.Max != 0.6 || metrics.Pagerank.Count != 2 {
		t.Fatalf("pagerank = %+v", metrics.Pagerank)
	}
}

func TestComputeStructureMetricsNoSignals(t *testing.T) {
	metrics := ComputeStructureMetrics(map[string]any{}, nil)
	if metrics.Score != 0 || metrics.Source != nil {
		t.Fatalf("metrics = %+v, want zero score and nil source", metrics)
	}
}

func TestComputeStructureMetricsTopEntities(t *testing.T) {
	entities := []EntityStructure{
		{Name: "low", Scores: map[string]float64{"gnn_pagerank": 0.1}},
		{Name: "high", Scores: map[string]float64{"gnn_pagerank": 0.9}},
		{Name: "mid", Scores: map[string]float64{"gnn_pagerank": 0.5}},
		{Name: "unranked"},
		{Name: "also-high", Scores: map[string]float64{"gnn_pagerank": 0.8}},
	}

	metrics := ComputeStructureMetrics(map[string]any{}, entities)
	if len(metrics.TopEntities) != 3 {
		t.Fatalf("top entities = %d, want 3", len(metrics.TopEntities))
	}
	if metrics.TopEntities[0].Name != "high" || metrics.TopEntities[1].Name != "also-high" || metrics.TopEntities[2].Name != "mid" {
		t.Fatalf("top entities = %v", metrics.TopEntities)
	}
}

func TestComputeStructureMetricsCommunities(t *testing.T) {
	entities := []EntityStructure{
		{Name: "a", Scores: map[string]float64{"gnn_community": 1}},
		{Name: "b", Scores: map[string]float64{"gnn_community": 1}},
		{Name: "c", Scores: map[string]float64{"gnn_community": 2}},
		{Name: "d", Scores: map[string]float64{"gnn_labelPropagation": 3}},
	}

	metrics := ComputeStructureMetrics(map[string]any{}, entities)
	if len(metrics.Communities) != 3 {
		t.Fatalf("communities = %v", metrics.Communities)
	}
	if metrics.Communities[0].Community != "1" || metrics.Communities[0].Count != 2 {
		t.Fatalf("communities = %v", metrics.Communities)
	}
}
