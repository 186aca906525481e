package normalize

import "testing"

func TestNormalizeEntityKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "GraphRAG", "graphrag"},
		{"strips spaces and punctuation", "Graph RAG!", "graphrag"},
		{"removes cjk brackets", "检索增强（RAG）", "检索增强"},
		{"removes ascii brackets", "Neo4j (graph database)", "neo4j"},
		{"removes square brackets", "pagerank[beta]", "pagerank"},
		{"keeps cjk ideographs", "知识图谱", "知识图谱"},
		{"nfkc folds fullwidth", "ＧｒａｐｈＲＡＧ", "graphrag"},
		{"mixed cjk and latin", "Go 语言", "go语言"},
		{"punctuation only", "!!!???", ""},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeEntityKey(tc.input); got != tc.want {
				t.Fatalf("NormalizeEntityKey(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeEntityKeyIdempotent(t *testing.T) {
	inputs := []string{"GraphRAG", "检索增强（RAG）", "Neo4j (graph database)", "Go 语言", "ＧｒａｐｈＲＡＧ"}
	for _, input := range inputs {
		once := NormalizeEntityKey(input)
		twice := NormalizeEntityKey(once)
		if once != twice {
			t.Fatalf("NormalizeEntityKey not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestNormalizeLooseLabel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Related_To", "relatedto"},
		{"uses (weak)", "usesweak"},
		{"隶属 于", "隶属于"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeLooseLabel(tc.input); got != tc.want {
			t.Fatalf("NormalizeLooseLabel(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
