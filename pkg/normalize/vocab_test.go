package normalize

import "testing"

func TestNormalizeTypeLabel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"person", "Person"},
		{"人物", "Person"},
		{"公司", "Organization"},
		{"company", "Organization"},
		{"论文", "Paper"},
		{"  tool  ", "Tool"},
		{"Gadget", "Gadget"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeTypeLabel(tc.input); got != tc.want {
			t.Fatalf("NormalizeTypeLabel(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeTypeLabelOrDefault(t *testing.T) {
	if got := NormalizeTypeLabelOrDefault(""); got != DefaultEntityType {
		t.Fatalf("empty label should default to %q, got %q", DefaultEntityType, got)
	}
	if got := NormalizeTypeLabelOrDefault("工具"); got != "Tool" {
		t.Fatalf("expected Tool, got %q", got)
	}
}

func TestSelectType(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		candidate string
		want      string
	}{
		{"higher priority wins", "Concept", "Person", "Person"},
		{"lower priority keeps current", "Person", "Tool", "Person"},
		{"tie keeps current", "Tool", "Product", "Tool"},
		{"alias resolution before compare", "概念", "人物", "Person"},
		{"unknown candidate loses", "Framework", "Gadget", "Framework"},
		{"empty current takes candidate", "", "Organization", "Organization"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectType(tc.current, tc.candidate); got != tc.want {
				t.Fatalf("SelectType(%q, %q) = %q, want %q", tc.current, tc.candidate, got, tc.want)
			}
		})
	}
}

func TestTypePriorityUnknownDefault(t *testing.T) {
	if got := TypePriority("Gadget"); got != defaultTypePriority {
		t.Fatalf("unknown type priority = %d, want %d", got, defaultTypePriority)
	}
	if TypePriority("Person") <= TypePriority("Concept") {
		t.Fatal("Person should outrank Concept")
	}
}

func TestIsKnownRelationType(t *testing.T) {
	if !IsKnownRelationType("Uses") {
		t.Fatal("Uses should be a known relation type")
	}
	if IsKnownRelationType("Hugs") {
		t.Fatal("Hugs should not be a known relation type")
	}
}
