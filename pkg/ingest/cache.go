package ingest

import (
	"github.com/lattice-docs/graphrag/internal/util"
)

// DefaultCachePath holds per-document content hashes between runs.
const DefaultCachePath = "data/graphrag/ingest-cache.json"

// CacheEntry records the last written state of a document.
type CacheEntry struct {
	Hash      string `json:"hash"`
	Locale    string `json:"locale,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	WrittenAt string `json:"writtenAt"`
}

// Cache maps document ids to their last written state.
type Cache map[string]CacheEntry

// LoadCache reads the cache file; a missing file is an empty cache.
func LoadCache(path string) (Cache, error) {
	cache := Cache{}
	if _, err := util.ReadJSONFile(path, &cache); err != nil {
		return nil, err
	}
	return cache, nil
}

// SaveCache persists the cache as indented JSON.
func SaveCache(cache Cache, path string) error {
	return util.WriteJSONFile(path, cache)
}

// CacheDecision says whether a document needs processing and why not.
type CacheDecision struct {
	Process bool
	Reason  string
}

// ShouldProcess gates a document on its cached content hash. With
// changedOnly off every document is processed.
func ShouldProcess(doc *NormalizedDoc, cache Cache, changedOnly bool) CacheDecision {
	if !changedOnly {
		return CacheDecision{Process: true}
	}
	entry, ok := cache[doc.ID]
	if !ok {
		return CacheDecision{Process: true, Reason: "未命中缓存"}
	}
	if entry.Hash != doc.Hash {
		return CacheDecision{Process: true, Reason: "内容变更"}
	}
	return CacheDecision{Process: false, Reason: "hash 未变化，跳过"}
}

// UpdateCacheEntry records a successful write for a document.
func UpdateCacheEntry(cache Cache, doc *NormalizedDoc, writtenAt string) {
	cache[doc.ID] = CacheEntry{
		Hash:      doc.Hash,
		Locale:    doc.Locale,
		UpdatedAt: doc.UpdatedAt,
		WrittenAt: writtenAt,
	}
}
