package ingest

import (
	"strings"
	"testing"
)

func sampleDocument() *Document {
	return &Document{
		SourcePath:   "/docs/zh/graphrag/intro.md",
		RelativePath: "zh/graphrag/intro.md",
		Locale:       "zh",
		FrontMatter: map[string]any{
			"title":       "GraphRAG 简介",
			"description": "图增强检索的入门指南",
			"category":    "知识图谱",
			"tags":        []any{"GraphRAG", "Neo4j"},
			"updated":     "2025-06-01",
		},
		Content: "第一段内容。\n\n第二段内容。\n\n第三段内容。",
	}
}

func TestNormalizeDocument(t *testing.T) {
	doc := NormalizeDocument(sampleDocument())

	if doc.ID != "zh/graphrag/intro" {
		t.Fatalf("doc id = %q, want zh/graphrag/intro", doc.ID)
	}
	if doc.Title != "GraphRAG 简介" {
		t.Fatalf("title = %q", doc.Title)
	}
	if doc.UpdatedAt != "2025-06-01T00:00:00Z" {
		t.Fatalf("updatedAt = %q, want 2025-06-01T00:00:00Z", doc.UpdatedAt)
	}
	if len(doc.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(doc.Chunks))
	}
	if doc.Chunks[0].ID != "zh/graphrag/intro#001" || doc.Chunks[0].Order != 1 {
		t.Fatalf("chunk[0] = %+v", doc.Chunks[0])
	}
	if doc.Chunks[2].ID != "zh/graphrag/intro#003" {
		t.Fatalf("chunk[2] id = %q", doc.Chunks[2].ID)
	}
	if len(doc.Categories) != 1 || doc.Categories[0].Name != "知识图谱" {
		t.Fatalf("categories = %+v", doc.Categories)
	}
	if len(doc.Tags) != 2 || doc.Tags[0].Slug != "graphrag" {
		t.Fatalf("tags = %+v", doc.Tags)
	}
	if doc.Hash == "" {
		t.Fatal("hash should not be empty")
	}
}

func TestNormalizeDocumentHashStability(t *testing.T) {
	first := NormalizeDocument(sampleDocument())
	second := NormalizeDocument(sampleDocument())
	if first.Hash != second.Hash {
		t.Fatal("identical input must hash identically")
	}

	changed := sampleDocument()
	changed.Content += "\n\n新增段落。"
	if NormalizeDocument(changed).Hash == first.Hash {
		t.Fatal("content change must change the hash")
	}

	retagged := sampleDocument()
	retagged.FrontMatter["tags"] = []any{"GraphRAG"}
	if NormalizeDocument(retagged).Hash == first.Hash {
		t.Fatal("frontmatter change must change the hash")
	}
}

func TestNormalizeDocumentDescriptionFallback(t *testing.T) {
	doc := sampleDocument()
	delete(doc.FrontMatter, "description")
	normalized := NormalizeDocument(doc)
	if normalized.Description != "第一段内容。" {
		t.Fatalf("description = %q, want first sentence", normalized.Description)
	}
}

func TestFirstSentenceCap(t *testing.T) {
	long := strings.Repeat("字", 400)
	got := firstSentence(long)
	if len([]rune(got)) != 280 {
		t.Fatalf("sentence length = %d runes, want 280", len([]rune(got)))
	}
	if got := firstSentence("短句！后面还有。"); got != "短句！" {
		t.Fatalf("got %q, want 短句！", got)
	}
	if firstSentence("") != "" {
		t.Fatal("empty content should give empty sentence")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Graph RAG", "graph-rag"},
		{"Neo4j!", "neo4j"},
		{"知识图谱", ""},
		{"  Mixed 中文 Tag  ", "mixed-tag"},
	}
	for _, tc := range tests {
		if got := Slugify(tc.input); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestToISODate(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{"2025-06-01", "2025-06-01T00:00:00Z"},
		{"2025/06/01", "2025-06-01T00:00:00Z"},
		{"2025-06-01T08:30:00+08:00", "2025-06-01T00:30:00Z"},
		{"not a date", ""},
		{42, ""},
	}
	for _, tc := range tests {
		if got := toISODate(tc.input); got != tc.want {
			t.Fatalf("toISODate(%v) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
