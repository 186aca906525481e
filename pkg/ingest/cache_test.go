package ingest

import (
	"path/filepath"
	"testing"
)

func TestShouldProcess(t *testing.T) {
	doc := &NormalizedDoc{ID: "zh/intro", Hash: "abc"}
	cache := Cache{
		"zh/intro": {Hash: "abc"},
		"zh/other": {Hash: "old"},
	}

	if decision := ShouldProcess(doc, cache, false); !decision.Process {
		t.Fatal("changedOnly off must process everything")
	}

	decision := ShouldProcess(doc, cache, true)
	if decision.Process {
		t.Fatal("matching hash should skip")
	}
	if decision.Reason != "hash 未变化，跳过" {
		t.Fatalf("reason = %q", decision.Reason)
	}

	changed := &NormalizedDoc{ID: "zh/other", Hash: "new"}
	decision = ShouldProcess(changed, cache, true)
	if !decision.Process || decision.Reason != "内容变更" {
		t.Fatalf("decision = %+v", decision)
	}

	fresh := &NormalizedDoc{ID: "zh/unknown", Hash: "x"}
	decision = ShouldProcess(fresh, cache, true)
	if !decision.Process || decision.Reason != "未命中缓存" {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "ingest-cache.json")

	cache, err := LoadCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cache) != 0 {
		t.Fatal("missing cache file should yield an empty cache")
	}

	doc := &NormalizedDoc{ID: "zh/intro", Hash: "abc", Locale: "zh", UpdatedAt: "2025-06-01T00:00:00Z"}
	UpdateCacheEntry(cache, doc, "2025-06-02T00:00:00Z")
	if err := SaveCache(cache, path); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadCache(path)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := reloaded["zh/intro"]
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if entry.Hash != "abc" || entry.WrittenAt != "2025-06-02T00:00:00Z" {
		t.Fatalf("entry = %+v", entry)
	}
}
