package retrieval

import (
	"fmt"
	"testing"
)

func TestConstraintsNormalized(t *testing.T) {
	tests := []struct {
		name string
		in   Constraints
		want Constraints
	}{
		{
			"zero values take defaults",
			Constraints{},
			Constraints{MaxHops: DefaultMaxHops, NodeLimit: DefaultNodeLimit, EdgeLimit: DefaultEdgeLimit},
		},
		{
			"values above caps are clamped",
			Constraints{MaxHops: 99, NodeLimit: 9999, EdgeLimit: 9999},
			Constraints{MaxHops: MaxHopsCap, NodeLimit: NodeLimitCap, EdgeLimit: EdgeLimitCap},
		},
		{
			"negative values raise to minimum",
			Constraints{MaxHops: -1, NodeLimit: -5, EdgeLimit: -5},
			Constraints{MaxHops: 1, NodeLimit: 1, EdgeLimit: 1},
		},
		{
			"valid values pass through",
			Constraints{MaxHops: 3, NodeLimit: 20, EdgeLimit: 30},
			Constraints{MaxHops: 3, NodeLimit: 20, EdgeLimit: 30},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.normalized()
			if got.MaxHops != tc.want.MaxHops || got.NodeLimit != tc.want.NodeLimit || got.EdgeLimit != tc.want.EdgeLimit {
				t.Fatalf("normalized() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestOrderNodes(t *testing.T) {
	nodes := []Node{
		{Identity: "5", Hop: 2},
		{Identity: "3", Hop: 1, Data: map[string]any{"updated_at": "2025-01-01T00:00:00Z"}},
		{Identity: "4", Hop: 1, Data: map[string]any{"updated_at": "2025-06-01T00:00:00Z"}},
		{Identity: "1", Hop: 0},
		{Identity: "2", Hop: 1},
	}
	orderNodes(nodes)

	wantOrder := []string{"1", "4", "3", "2", "5"}
	for i, want := range wantOrder {
		if nodes[i].Identity != want {
			t.Fatalf("position %d = %q, want %q (full: %v)", i, nodes[i].Identity, want, identities(nodes))
		}
	}
}

func identities(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, node := range nodes {
		out[i] = node.Identity
	}
	return out
}

func TestTrimSubgraphNodeLimit(t *testing.T) {
	var nodes []Node
	for i := 0; i < 10; i++ {
		hop := 0
		if i > 0 {
			hop = 1
		}
		nodes = append(nodes, Node{
			Identity: fmt.Sprintf("%02d", i),
			Labels:   []string{"Entity"},
			Hop:      hop,
		})
	}
	edges := []Edge{
		{Identity: "e1", Source: "00", Target: "01"},
		{Identity: "e2", Source: "00", Target: "09"},
	}

	result := trimSubgraph(nodes, edges, Constraints{MaxHops: 2, NodeLimit: 5, EdgeLimit: 10})

	if result.Stats.Nodes.Total != 10 || result.Stats.Nodes.Returned != 5 {
		t.Fatalf("node stats = %+v", result.Stats.Nodes)
	}
	if !result.Stats.Nodes.Truncated {
		t.Fatal("node truncation should be reported")
	}
	if len(result.Nodes) != 5 {
		t.Fatalf("nodes = %d", len(result.Nodes))
	}

	// Edge e2 points at a trimmed node and must be dropped.
	if len(result.Edges) != 1 || result.Edges[0].Identity != "e1" {
		t.Fatalf("edges = %+v", result.Edges)
	}
	if result.Stats.Edges.Total != 2 || result.Stats.Edges.Returned != 1 {
		t.Fatalf("edge stats = %+v", result.Stats.Edges)
	}
}

func TestTrimSubgraphEdgeLimit(t *testing.T) {
	nodes := []Node{
		{Identity: "a", Hop: 0, Labels: []string{"Doc"}},
		{Identity: "b", Hop: 1, Labels: []string{"Entity"}},
		{Identity: "c", Hop: 1, Labels: []string{"Entity"}},
	}
	edges := []Edge{
		{Identity: "e1", Source: "a", Target: "b"},
		{Identity: "e2", Source: "a", Target: "c"},
		{Identity: "e3", Source: "b", Target: "c"},
	}

	result := trimSubgraph(nodes, edges, Constraints{MaxHops: 2, NodeLimit: 10, EdgeLimit: 2})

	if len(result.Edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(result.Edges))
	}
	if !result.Stats.Edges.Truncated {
		t.Fatal("edge truncation should be reported")
	}
	if result.Stats.Edges.Total != 3 {
		t.Fatalf("edge total = %d, want 3 (before trim)", result.Stats.Edges.Total)
	}
}

func TestTrimSubgraphHistograms(t *testing.T) {
	nodes := []Node{
		{Identity: "a", Hop: 0, Labels: []string{"Doc"}},
		{Identity: "b", Hop: 1, Labels: []string{"Chunk"}},
		{Identity: "c", Hop: 2, Labels: []string{"Entity"}},
		{Identity: "d", Hop: 2, Labels: []string{"Entity"}},
	}

	result := trimSubgraph(nodes, nil, Constraints{MaxHops: 2, NodeLimit: 10, EdgeLimit: 10})

	if result.Stats.NodesByLabel["Entity"] != 2 || result.Stats.NodesByLabel["Doc"] != 1 {
		t.Fatalf("label histogram = %v", result.Stats.NodesByLabel)
	}
	if result.Stats.NodesByHop[2] != 2 || result.Stats.NodesByHop[0] != 1 {
		t.Fatalf("hop histogram = %v", result.Stats.NodesByHop)
	}
	if result.Stats.Nodes.Truncated || result.Stats.Edges.Truncated {
		t.Fatal("nothing should be truncated")
	}
}

func TestTrimSubgraphEmpty(t *testing.T) {
	result := trimSubgraph(nil, nil, Constraints{}.normalized())
	if len(result.Nodes) != 0 || len(result.Edges) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.Stats.Nodes.Total != 0 || result.Stats.Nodes.Truncated {
		t.Fatalf("stats = %+v", result.Stats)
	}
}
