// Package normalize canonicalizes entity types, relationship types and
// property keys via a three-tier resolver: alias table, persistent
// cache, then an enum-constrained model classifier. Normalization never
// fails a run; when every tier misses, the original value is preserved
// and counted as a fallback.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	bracketSpans = regexp.MustCompile(`（.*?）|\(.*?\)|【.*?】|\[.*?]|<.*?>|\{.*?}`)
	keyCharset   = regexp.MustCompile(`[^0-9a-zA-Z\x{4e00}-\x{9fa5}]+`)
)

// NormalizeEntityKey collapses an entity name into a lookup key: NFKC
// normalization, bracketed spans removed, then everything outside
// alphanumerics and CJK ideographs stripped, lowercased. Returns "" for
// names with no usable characters.
func NormalizeEntityKey(value string) string {
	if value == "" {
		return ""
	}
	text := norm.NFKC.String(value)
	text = bracketSpans.ReplaceAllString(text, "")
	text = keyCharset.ReplaceAllString(text, "")
	return strings.ToLower(strings.TrimSpace(text))
}

// NormalizeLooseLabel is the loose variant used for relationship labels
// and property keys: bracketed spans are kept, only the charset filter
// and lowercasing apply.
func NormalizeLooseLabel(value string) string {
	if value == "" {
		return ""
	}
	text := norm.NFKC.String(value)
	text = keyCharset.ReplaceAllString(text, "")
	return strings.ToLower(strings.TrimSpace(text))
}
