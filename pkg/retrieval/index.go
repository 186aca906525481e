package retrieval

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/lattice-docs/graphrag/internal/util"
)

// IndexConfig describes one embedding index side-file.
type IndexConfig struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	EmbeddingsPath string `json:"embeddingsPath"`
	Model          string `json:"model"`
	Normalize      bool   `json:"normalize"`
	Description    string `json:"description,omitempty"`
}

// VectorConfig lists available embedding indexes.
type VectorConfig struct {
	DefaultIndex string        `json:"defaultIndex"`
	Indexes      []IndexConfig `json:"indexes"`
}

// DefaultVectorConfigPath locates the index catalog under the run root.
const DefaultVectorConfigPath = "data/graphrag/vector-config.json"

func defaultVectorConfig() VectorConfig {
	return VectorConfig{
		DefaultIndex: "doc-default",
		Indexes: []IndexConfig{{
			Name:           "doc-default",
			Type:           "document",
			EmbeddingsPath: "docs/public/data/embeddings.json",
			Normalize:      true,
			Description:    "默认文档语义向量（来自 embeddings.json）",
		}},
	}
}

// LoadVectorConfig reads the catalog; a missing file yields the
// built-in default index.
func LoadVectorConfig(root string) (VectorConfig, error) {
	config := VectorConfig{}
	ok, err := util.ReadJSONFile(util.ResolvePath(root, "", DefaultVectorConfigPath), &config)
	if err != nil {
		return config, err
	}
	if !ok || len(config.Indexes) == 0 {
		return defaultVectorConfig(), nil
	}
	return config, nil
}

// FindIndex resolves an index by name, empty name meaning the default.
func (c VectorConfig) FindIndex(name string) (IndexConfig, error) {
	if name == "" {
		name = c.DefaultIndex
	}
	for _, index := range c.Indexes {
		if index.Name == name {
			return index, nil
		}
	}
	return IndexConfig{}, fmt.Errorf("unknown vector index: %s", name)
}

// IndexEntry is one embedded document in the index file.
type IndexEntry struct {
	DocID     string
	URL       string
	Title     string
	Lang      string
	Embedding []float32
}

type rawIndexItem struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Lang      string    `json:"lang"`
	Embedding []float32 `json:"embedding"`
}

type rawIndexFile struct {
	Items []rawIndexItem `json:"items"`
}

// URLToDocID maps a site URL onto the path-derived document id used in
// the graph.
func URLToDocID(url string) string {
	if url == "" {
		return ""
	}
	p := url
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		if j := strings.Index(p, "/"); j >= 0 {
			p = p[j:]
		} else {
			p = ""
		}
	}
	p = strings.TrimPrefix(p, "/")
	switch {
	case strings.HasSuffix(p, ".html"):
		p = strings.TrimSuffix(p, ".html") + "/index"
	case strings.HasSuffix(p, "/index"):
	case strings.HasSuffix(p, "/"):
		p += "index"
	case !strings.HasSuffix(p, "index"):
		p += "/index"
	}
	return p
}

// NormalizeVector scales a vector to unit length. A zero vector is
// returned unchanged.
func NormalizeVector(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// CosineSimilarity between two vectors, 0 when either is zero-length.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var (
	indexMu    sync.Mutex
	indexCache = map[string][]IndexEntry{}
)

// LoadIndex reads and caches an embedding index for the process
// lifetime. Re-loading the same index returns the cached entries.
func LoadIndex(root string, config IndexConfig) ([]IndexEntry, error) {
	indexMu.Lock()
	defer indexMu.Unlock()
	if entries, ok := indexCache[config.Name]; ok {
		return entries, nil
	}

	path := util.ResolvePath(root, config.EmbeddingsPath, "")
	file := rawIndexFile{}
	ok, err := util.ReadJSONFile(path, &file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("embeddings file not found: %s", path)
	}

	entries := make([]IndexEntry, 0, len(file.Items))
	for _, item := range file.Items {
		embedding := item.Embedding
		if config.Normalize {
			embedding = NormalizeVector(embedding)
		}
		entries = append(entries, IndexEntry{
			DocID:     URLToDocID(item.URL),
			URL:       item.URL,
			Title:     item.Title,
			Lang:      item.Lang,
			Embedding: embedding,
		})
	}
	indexCache[config.Name] = entries
	return entries, nil
}

// ScoredEntry pairs an index entry with its query similarity.
type ScoredEntry struct {
	IndexEntry
	Score float64
}

// VectorSearch ranks index entries by cosine similarity to the query
// vector and returns the top limit entries.
func VectorSearch(query []float32, entries []IndexEntry, limit int) []ScoredEntry {
	if limit <= 0 {
		limit = 5
	}
	scored := make([]ScoredEntry, 0, len(entries))
	for _, entry := range entries {
		scored = append(scored, ScoredEntry{
			IndexEntry: entry,
			Score:      CosineSimilarity(query, entry.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
