package ingest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

func qualityDoc() *NormalizedDoc {
	return &NormalizedDoc{
		ID:          "zh/graphrag/intro",
		Title:       "GraphRAG 简介",
		Description: "入门指南",
		UpdatedAt:   "2025-06-01T00:00:00Z",
		Categories:  []graphstore.Term{{Name: "知识图谱", Slug: ""}},
		Tags:        []graphstore.Term{{Name: "GraphRAG", Slug: "graphrag"}},
		Chunks: []Chunk{
			{ID: "zh/graphrag/intro#001", Order: 1, Text: "第一段内容。"},
		},
	}
}

func newTestChecker(t *testing.T, config *QualityConfig) *QualityChecker {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "quality.json")
	if config != nil {
		if err := util.WriteJSONFile(configPath, config); err != nil {
			t.Fatal(err)
		}
	}
	checker, err := NewQualityChecker(configPath, filepath.Join(dir, "quality-log.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return checker
}

func hasIssue(issues []QualityIssue, issueType string) bool {
	for _, issue := range issues {
		if issue.Type == issueType {
			return true
		}
	}
	return false
}

func TestQualityCheckPasses(t *testing.T) {
	checker := newTestChecker(t, nil)
	result := checker.Check(qualityDoc())
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestQualityCheckMissingFields(t *testing.T) {
	checker := newTestChecker(t, nil)
	doc := qualityDoc()
	doc.Title = ""
	doc.Categories = nil

	result := checker.Check(doc)
	if result.Passed {
		t.Fatal("missing fields must fail the gate")
	}
	if !hasIssue(result.Errors, "FRONTMATTER_MISSING") {
		t.Fatalf("errors = %+v", result.Errors)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(result.Errors))
	}
}

func TestQualityCheckTagLimit(t *testing.T) {
	checker := newTestChecker(t, &QualityConfig{MaxTagCount: 2})
	doc := qualityDoc()
	doc.Tags = []graphstore.Term{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	result := checker.Check(doc)
	if result.Passed || !hasIssue(result.Errors, "TAG_LIMIT_EXCEEDED") {
		t.Fatalf("result = %+v", result)
	}
}

func TestQualityCheckBlacklist(t *testing.T) {
	checker := newTestChecker(t, &QualityConfig{
		BlacklistPatterns: []string{"内部机密"},
	})
	doc := qualityDoc()
	doc.Chunks[0].Text = "这里包含内部机密资料。"

	result := checker.Check(doc)
	if result.Passed || !hasIssue(result.Errors, "BLACKLIST_MATCH") {
		t.Fatalf("result = %+v", result)
	}
}

func TestQualityCheckPIIMasking(t *testing.T) {
	checker := newTestChecker(t, &QualityConfig{
		PIIPatterns: map[string]string{
			"email": `[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
		},
	})
	doc := qualityDoc()
	doc.Chunks[0].Text = "联系邮箱 someone@example.com 获取支持。"

	result := checker.Check(doc)
	if !result.Passed {
		t.Fatalf("PII should warn, not fail: %+v", result)
	}
	if !hasIssue(result.Warnings, "PII_MASKED") {
		t.Fatalf("warnings = %+v", result.Warnings)
	}
	if strings.Contains(doc.Chunks[0].Text, "example.com") {
		t.Fatalf("address not masked: %q", doc.Chunks[0].Text)
	}
	if !strings.Contains(doc.Chunks[0].Text, "[REDACTED]") {
		t.Fatalf("mask marker missing: %q", doc.Chunks[0].Text)
	}
}
