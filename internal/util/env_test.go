package util

import "testing"

func TestGetEnvString(t *testing.T) {
	t.Setenv("GRAPHRAG_TEST_STR", "value")
	if got := GetEnvString("GRAPHRAG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("got %q, want value", got)
	}
	t.Setenv("GRAPHRAG_TEST_EMPTY", "")
	if got := GetEnvString("GRAPHRAG_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("empty value should fall back, got %q", got)
	}
	if got := GetEnvString("GRAPHRAG_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("unset key should fall back, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("GRAPHRAG_TEST_INT", "42")
	if got := GetEnvInt("GRAPHRAG_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	t.Setenv("GRAPHRAG_TEST_INT", "not-a-number")
	if got := GetEnvInt("GRAPHRAG_TEST_INT", 7); got != 7 {
		t.Fatalf("unparseable value should fall back, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"false", true, false},
		{"1", false, true},
		{"0", true, false},
		{"yes", false, false},
	}
	for _, tc := range tests {
		t.Setenv("GRAPHRAG_TEST_BOOL", tc.value)
		if got := GetEnvBool("GRAPHRAG_TEST_BOOL", tc.def); got != tc.want {
			t.Fatalf("GetEnvBool(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
	if got := GetEnvBool("GRAPHRAG_TEST_BOOL_UNSET", true); got != true {
		t.Fatal("unset key should return the default")
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("GRAPHRAG_TEST_FIRST_A", "")
	t.Setenv("GRAPHRAG_TEST_FIRST_B", "second")
	if got := FirstEnv("GRAPHRAG_TEST_FIRST_A", "GRAPHRAG_TEST_FIRST_B"); got != "second" {
		t.Fatalf("got %q, want second", got)
	}
	if got := FirstEnv("GRAPHRAG_TEST_FIRST_NONE"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
