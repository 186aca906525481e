package ingest

import (
	"testing"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

func rootCandidate(name, rootType string) *graphstore.DocEntityRoot {
	return &graphstore.DocEntityRoot{Name: name, Type: rootType}
}

func TestSelectPrimaryRootTitleMatch(t *testing.T) {
	doc := &NormalizedDoc{Title: "GraphRAG 实战指南"}
	roots := []*graphstore.DocEntityRoot{
		rootCandidate("Neo4j", "Tool"),
		rootCandidate("GraphRAG", "Technology"),
	}
	if got := SelectPrimaryRoot(doc, roots); got == nil || got.Name != "GraphRAG" {
		t.Fatalf("got %+v, want GraphRAG", got)
	}
}

func TestSelectPrimaryRootKeyOverlap(t *testing.T) {
	doc := &NormalizedDoc{Title: "知识图谱（GraphRAG）"}
	roots := []*graphstore.DocEntityRoot{
		rootCandidate("向量检索", "Technology"),
		rootCandidate("知识图谱", "Concept"),
	}
	// The title lowercase-contains check already matches 知识图谱, but the
	// bracketed suffix exercises the normalized-key comparison too.
	if got := SelectPrimaryRoot(doc, roots); got == nil || got.Name != "知识图谱" {
		t.Fatalf("got %+v, want 知识图谱", got)
	}
}

func TestSelectPrimaryRootTypePriority(t *testing.T) {
	doc := &NormalizedDoc{Title: "完全无关的标题"}
	roots := []*graphstore.DocEntityRoot{
		rootCandidate("某概念", "Concept"),
		rootCandidate("某人", "Person"),
		rootCandidate("某工具", "Tool"),
	}
	if got := SelectPrimaryRoot(doc, roots); got == nil || got.Name != "某人" {
		t.Fatalf("got %+v, want the Person candidate", got)
	}
}

func TestSelectPrimaryRootFirstOnTie(t *testing.T) {
	doc := &NormalizedDoc{Title: "另一个无关标题"}
	roots := []*graphstore.DocEntityRoot{
		rootCandidate("工具甲", "Tool"),
		rootCandidate("工具乙", "Tool"),
	}
	if got := SelectPrimaryRoot(doc, roots); got == nil || got.Name != "工具甲" {
		t.Fatalf("got %+v, want the first candidate", got)
	}
}

func TestSelectPrimaryRootEmpty(t *testing.T) {
	doc := &NormalizedDoc{Title: "标题"}
	if got := SelectPrimaryRoot(doc, nil); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
	if got := SelectPrimaryRoot(doc, []*graphstore.DocEntityRoot{nil, {Name: ""}}); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestBuildPayloadSingleRoot(t *testing.T) {
	doc := &NormalizedDoc{
		ID:     "zh/graphrag/intro",
		Title:  "GraphRAG 简介",
		Locale: "zh",
		Chunks: []Chunk{{ID: "zh/graphrag/intro#001", Order: 1, Text: "第一段。"}},
	}
	agg := &graphstore.Aggregation{
		DocEntityRoots: []*graphstore.DocEntityRoot{
			rootCandidate("Neo4j", "Tool"),
			rootCandidate("GraphRAG", "Technology"),
		},
	}

	payload := BuildPayload(doc, agg)
	if payload.Doc.ID != doc.ID {
		t.Fatalf("doc id = %q", payload.Doc.ID)
	}
	if len(payload.Chunks) != 1 || payload.Chunks[0].DocID != doc.ID {
		t.Fatalf("chunks = %+v", payload.Chunks)
	}
	if len(payload.DocEntityRoots) != 1 {
		t.Fatalf("roots = %d, want exactly one", len(payload.DocEntityRoots))
	}
	if payload.DocEntityRoots[0].Name != "GraphRAG" {
		t.Fatalf("root = %+v", payload.DocEntityRoots[0])
	}
}

func TestBuildPayloadNilAggregation(t *testing.T) {
	doc := &NormalizedDoc{ID: "zh/empty"}
	payload := BuildPayload(doc, nil)
	if payload == nil || len(payload.DocEntityRoots) != 0 {
		t.Fatalf("payload = %+v", payload)
	}
}
