package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadJSONFileMissing(t *testing.T) {
	var out map[string]string
	ok, err := ReadJSONFile(filepath.Join(t.TempDir(), "absent.json"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("missing file should report ok=false")
	}
	if out != nil {
		t.Fatal("out must stay untouched for a missing file")
	}
}

func TestReadJSONFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if _, err := ReadJSONFile(path, &out); err == nil {
		t.Fatal("malformed JSON should error")
	}
}

func TestWriteJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "value.json")
	input := map[string]any{"name": "GraphRAG", "count": 3.0}
	if err := WriteJSONFile(path, input); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(raw), "\n") {
		t.Fatal("output should end with a newline")
	}
	if !strings.Contains(string(raw), "  \"name\"") {
		t.Fatal("output should be indented")
	}

	var out map[string]any
	ok, err := ReadJSONFile(path, &out)
	if err != nil || !ok {
		t.Fatalf("read back failed: ok=%v err=%v", ok, err)
	}
	if out["name"] != "GraphRAG" || out["count"] != 3.0 {
		t.Fatalf("round trip mismatch: %v", out)
	}
}

func TestAppendJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "events.jsonl")
	if err := AppendJSONLine(path, map[string]string{"event": "first"}); err != nil {
		t.Fatal(err)
	}
	if err := AppendJSONLine(path, map[string]string{"event": "second"}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "first") || !strings.Contains(lines[1], "second") {
		t.Fatalf("unexpected content: %v", lines)
	}
}

func TestResolvePath(t *testing.T) {
	abs := filepath.Join(string(filepath.Separator), "tmp", "target.json")
	tests := []struct {
		name     string
		root     string
		target   string
		fallback string
		want     string
	}{
		{"relative joins root", "/base", "data/x.json", "def.json", filepath.Join("/base", "data/x.json")},
		{"absolute wins", "/base", abs, "def.json", abs},
		{"empty target uses fallback", "/base", "", "def.json", filepath.Join("/base", "def.json")},
		{"absolute fallback", "/base", "", abs, abs},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolvePath(tc.root, tc.target, tc.fallback); got != tc.want {
				t.Fatalf("ResolvePath(%q, %q, %q) = %q, want %q", tc.root, tc.target, tc.fallback, got, tc.want)
			}
		})
	}
}
