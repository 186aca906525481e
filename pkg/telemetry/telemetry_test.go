package telemetry

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestAppendNewestFirst(t *testing.T) {
	root := t.TempDir()

	for i := 1; i <= 3; i++ {
		record := Record{
			Scope:     "ingest.pipeline",
			Timestamp: fmt.Sprintf("2025-06-0%dT00:00:00Z", i),
			Detail:    map[string]any{"run": float64(i)},
		}
		if err := Append(root, record, DefaultLimit); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := Read(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Detail["run"] != 3.0 || entries[2].Detail["run"] != 1.0 {
		t.Fatalf("order = %+v", entries)
	}
}

func TestAppendTrimsToLimit(t *testing.T) {
	root := t.TempDir()

	for i := 0; i < 5; i++ {
		record := Record{Scope: "explore", Detail: map[string]any{"run": float64(i)}}
		if err := Append(root, record, 3); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := Read(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want trimmed 3", len(entries))
	}
	if entries[0].Detail["run"] != 4.0 {
		t.Fatalf("newest = %+v", entries[0])
	}
}

func TestAppendFillsTimestamp(t *testing.T) {
	root := t.TempDir()
	if err := Append(root, Record{Scope: "retrieve.hybrid"}, 0); err != nil {
		t.Fatal(err)
	}
	entries, err := Read(root)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Timestamp == "" {
		t.Fatal("timestamp should be filled in")
	}
}

func TestReadMissingFile(t *testing.T) {
	entries, err := Read(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestMetricsPathOverride(t *testing.T) {
	t.Setenv("GRAPHRAG_TELEMETRY_PATH", "custom/metrics.json")
	if got := MetricsPath("/base"); got != filepath.Join("/base", "custom/metrics.json") {
		t.Fatalf("path = %q", got)
	}

	t.Setenv("GRAPHRAG_TELEMETRY_PATH", "")
	if got := MetricsPath("/base"); got != filepath.Join("/base", "data", "graphrag-metrics.json") {
		t.Fatalf("default path = %q", got)
	}
}
