package retrieval

import (
	"math"
	"testing"
)

func TestURLToDocID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/zh/graphrag/intro.html", "zh/graphrag/intro/index"},
		{"/zh/graphrag/intro.html", "zh/graphrag/intro/index"},
		{"/zh/graphrag/", "zh/graphrag/index"},
		{"/zh/graphrag/index", "zh/graphrag/index"},
		{"/zh/graphrag", "zh/graphrag/index"},
		{"https://example.com", "/index"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := URLToDocID(tc.url); got != tc.want {
			t.Fatalf("URLToDocID(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestNormalizeVector(t *testing.T) {
	out := NormalizeVector([]float32{3, 4})
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Fatalf("normalized = %v", out)
	}

	zero := NormalizeVector([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector should stay zero, got %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Fatalf("opposite vectors = %v, want -1", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero vector = %v, want 0", got)
	}
}

func TestVectorSearch(t *testing.T) {
	entries := []IndexEntry{
		{DocID: "far", Embedding: []float32{0, 1}},
		{DocID: "near", Embedding: []float32{1, 0}},
		{DocID: "mid", Embedding: []float32{1, 1}},
	}
	query := []float32{1, 0}

	results := VectorSearch(query, entries, 2)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].DocID != "near" || results[1].DocID != "mid" {
		t.Fatalf("order = %q, %q", results[0].DocID, results[1].DocID)
	}

	all := VectorSearch(query, entries, 0)
	if len(all) != 3 {
		t.Fatalf("zero limit should default, got %d", len(all))
	}
}
