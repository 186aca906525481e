package normalize

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

func relationship(source, target, relType string) *graphstore.Relationship {
	return &graphstore.Relationship{
		Source: &graphstore.EntityRef{Name: source},
		Target: &graphstore.EntityRef{Name: target},
		Type:   relType,
	}
}

func TestBuildRelationCacheKey(t *testing.T) {
	tests := []struct {
		name string
		rel  *graphstore.Relationship
		want string
	}{
		{"label preferred", relationship("A", "B", "Related_To"), "label:relatedto"},
		{"pair when unlabeled", relationship("Neo4j", "GraphRAG", ""), "pair:neo4j>graphrag"},
		{"missing target becomes unknown", relationship("Neo4j", "", ""), "pair:neo4j>unknown"},
		{
			"props digest when nothing else",
			&graphstore.Relationship{Properties: map[string]any{"weight": 0.5, "kind": "ref"}},
			"props:" + NormalizeLooseLabel("kind=ref, weight=0.5"),
		},
		{"nothing usable", &graphstore.Relationship{}, ""},
		{"nil", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildRelationCacheKey(tc.rel); got != tc.want {
				t.Fatalf("buildRelationCacheKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRelationshipNormalizerAliasTier(t *testing.T) {
	root := t.TempDir()
	entries := []RelationAliasEntry{
		{Relation: "Uses", Aliases: []string{"使用", "依赖于"}},
		{Relation: "PartOf", Aliases: []string{"属于", "part_of"}},
	}
	if err := util.WriteJSONFile(filepath.Join(root, defaultRelationAliasFile), entries); err != nil {
		t.Fatal(err)
	}

	n, err := NewRelationshipTypeNormalizer(NewRelationshipTypeNormalizerParams{Root: root})
	if err != nil {
		t.Fatal(err)
	}

	agg := &graphstore.Aggregation{
		Relationships: []*graphstore.Relationship{
			relationship("GraphRAG", "Neo4j", "依赖于"),
			relationship("Chunk", "Doc", "part_of"),
			relationship("GraphRAG", "Neo4j", "使用"),
		},
	}
	total, updated := n.NormalizeAggregation(context.Background(), DocInfo{}, agg)
	if total != 3 || updated != 3 {
		t.Fatalf("total=%d updated=%d, want 3/3", total, updated)
	}
	if agg.Relationships[0].Type != "Uses" {
		t.Fatalf("type = %q, want Uses", agg.Relationships[0].Type)
	}
	if agg.Relationships[1].Type != "PartOf" {
		t.Fatalf("type = %q, want PartOf", agg.Relationships[1].Type)
	}
	if agg.Relationships[2].Type != "Uses" {
		t.Fatalf("type = %q, want Uses", agg.Relationships[2].Type)
	}
}

func TestRelationshipNormalizerFallbackDefaults(t *testing.T) {
	n, err := NewRelationshipTypeNormalizer(NewRelationshipTypeNormalizerParams{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	agg := &graphstore.Aggregation{
		Relationships: []*graphstore.Relationship{relationship("A", "B", "")},
	}
	n.NormalizeAggregation(context.Background(), DocInfo{}, agg)

	if agg.Relationships[0].Type != DefaultRelationType {
		t.Fatalf("unlabeled edge should default to %q, got %q", DefaultRelationType, agg.Relationships[0].Type)
	}
	if n.Summary().Sources.Fallback != 1 {
		t.Fatalf("fallback decisions = %d, want 1", n.Summary().Sources.Fallback)
	}
}

func TestRelationshipNormalizerClassifierUnknownRelation(t *testing.T) {
	client := &fakeClient{format: func(prompt string, out any) error {
		result, ok := out.(*relationTypeClassification)
		if !ok {
			return errors.New("unexpected output type")
		}
		result.Relation = "Befriends"
		result.Confidence = 0.8
		return nil
	}}

	n, err := NewRelationshipTypeNormalizer(NewRelationshipTypeNormalizerParams{
		Root:   t.TempDir(),
		Client: client,
	})
	if err != nil {
		t.Fatal(err)
	}

	agg := &graphstore.Aggregation{
		Relationships: []*graphstore.Relationship{relationship("A", "B", "交好")},
	}
	n.NormalizeAggregation(context.Background(), DocInfo{}, agg)

	// Out-of-vocabulary verdicts are coerced to the default relation.
	if agg.Relationships[0].Type != DefaultRelationType {
		t.Fatalf("type = %q, want %q", agg.Relationships[0].Type, DefaultRelationType)
	}
	if n.Summary().Sources.LLM != 1 {
		t.Fatalf("llm decisions = %d, want 1", n.Summary().Sources.LLM)
	}
}

func TestRelationshipNormalizerMemoByLabel(t *testing.T) {
	calls := 0
	client := &fakeClient{format: func(prompt string, out any) error {
		calls++
		result := out.(*relationTypeClassification)
		result.Relation = "Uses"
		return nil
	}}

	n, err := NewRelationshipTypeNormalizer(NewRelationshipTypeNormalizerParams{
		Root:   t.TempDir(),
		Client: client,
	})
	if err != nil {
		t.Fatal(err)
	}

	agg := &graphstore.Aggregation{
		Relationships: []*graphstore.Relationship{
			relationship("GraphRAG", "Neo4j", "调用"),
			relationship("Pipeline", "Neo4j", "调用"),
		},
	}
	n.NormalizeAggregation(context.Background(), DocInfo{}, agg)

	if calls != 1 {
		t.Fatalf("classifier calls = %d, want 1 (same label should hit the memo)", calls)
	}
	if agg.Relationships[1].Type != "Uses" {
		t.Fatalf("memoized type = %q, want Uses", agg.Relationships[1].Type)
	}
	if n.Summary().Sources.Reuse != 1 {
		t.Fatalf("reuse count = %d, want 1", n.Summary().Sources.Reuse)
	}
}
