package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

// Chunk is a paragraph-level slice of a document body.
type Chunk struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// NormalizedDoc is a collected document after metadata normalization,
// ready for the quality gate and extraction.
type NormalizedDoc struct {
	ID           string            `json:"id"`
	SourcePath   string            `json:"sourcePath"`
	RelativePath string            `json:"relativePath"`
	Locale       string            `json:"locale"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Categories   []graphstore.Term `json:"categories"`
	Tags         []graphstore.Term `json:"tags"`
	UpdatedAt    string            `json:"updatedAt,omitempty"`
	FrontMatter  map[string]any    `json:"frontmatter,omitempty"`
	Chunks       []Chunk           `json:"chunks"`
	Hash         string            `json:"hash"`
}

var (
	paragraphBreak = regexp.MustCompile(`\n{2,}`)
	slugStrip      = regexp.MustCompile(`[^a-z0-9]+`)
	sentenceHead   = regexp.MustCompile(`^.{1,280}?([。！？.!?]|$)`)
)

func stringList(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

func toISODate(value any) string {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
		return ""
	default:
		return ""
	}
}

// Slugify lowercases and collapses non-alphanumeric runs to dashes.
// Values without ascii alphanumerics (pure CJK tags) slug to "".
func Slugify(value string) string {
	lower := strings.ToLower(strings.TrimSpace(value))
	return strings.Trim(slugStrip.ReplaceAllString(lower, "-"), "-")
}

func buildDocID(relativePath string) string {
	return strings.TrimSuffix(relativePath, path.Ext(relativePath))
}

func splitChunks(content string) []string {
	var blocks []string
	for _, block := range paragraphBreak.Split(content, -1) {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			blocks = append(blocks, trimmed)
		}
	}
	return blocks
}

func firstSentence(content string) string {
	for _, block := range splitChunks(content) {
		if match := sentenceHead.FindString(block); match != "" {
			return strings.TrimSpace(match)
		}
		runes := []rune(block)
		if len(runes) > 280 {
			return string(runes[:280])
		}
		return block
	}
	return ""
}

func terms(names []string) []graphstore.Term {
	out := make([]graphstore.Term, 0, len(names))
	for _, name := range names {
		out = append(out, graphstore.Term{Name: name, Slug: Slugify(name)})
	}
	return out
}

func metaString(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := meta[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// NormalizeDocument derives stable ids, chunks, terms and a content
// hash from a collected document.
func NormalizeDocument(doc *Document) *NormalizedDoc {
	docID := buildDocID(doc.RelativePath)
	meta := doc.FrontMatter
	if meta == nil {
		meta = map[string]any{}
	}

	tagNames := stringList(meta["tags"])
	if tagNames == nil {
		tagNames = stringList(meta["tags_zh"])
	}
	categoryNames := stringList(meta["category"])
	if categoryNames == nil {
		categoryNames = stringList(meta["category_zh"])
	}

	updatedAt := toISODate(meta["updated"])
	if updatedAt == "" {
		updatedAt = toISODate(meta["lastUpdated"])
	}
	if updatedAt == "" {
		updatedAt = toISODate(meta["date"])
	}

	blocks := splitChunks(doc.Content)
	chunks := make([]Chunk, 0, len(blocks))
	for i, text := range blocks {
		chunks = append(chunks, Chunk{
			ID:    fmt.Sprintf("%s#%03d", docID, i+1),
			Order: i + 1,
			Text:  text,
		})
	}

	metaJSON, _ := json.Marshal(meta)
	digest := sha256.New()
	digest.Write(metaJSON)
	digest.Write([]byte("\n"))
	digest.Write([]byte(doc.Content))

	description := metaString(meta, "description", "excerpt")
	if description == "" {
		description = firstSentence(doc.Content)
	}

	return &NormalizedDoc{
		ID:           docID,
		SourcePath:   doc.SourcePath,
		RelativePath: doc.RelativePath,
		Locale:       doc.Locale,
		Title:        metaString(meta, "title"),
		Description:  description,
		Categories:   terms(categoryNames),
		Tags:         terms(tagNames),
		UpdatedAt:    updatedAt,
		FrontMatter:  meta,
		Chunks:       chunks,
		Hash:         hex.EncodeToString(digest.Sum(nil)),
	}
}
