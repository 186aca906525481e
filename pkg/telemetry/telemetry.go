// Package telemetry keeps a small rolling history of pipeline run
// summaries on disk, newest first, so operators can inspect recent
// ingest and retrieval behavior without a metrics backend.
package telemetry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/lattice-docs/graphrag/internal/util"
)

const (
	// DefaultLimit bounds the on-disk history.
	DefaultLimit = 100

	metricsPathEnv = "GRAPHRAG_TELEMETRY_PATH"
)

// Record is one run summary. Scope names the producer (for example
// "ingest.pipeline" or "retrieve.hybrid"); Detail carries whatever the
// producer wants to keep.
type Record struct {
	Scope     string         `json:"scope"`
	Timestamp string         `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// MetricsPath resolves the history file, honoring the
// GRAPHRAG_TELEMETRY_PATH override relative to root.
func MetricsPath(root string) string {
	if override := os.Getenv(metricsPathEnv); override != "" {
		if filepath.IsAbs(override) {
			return override
		}
		return filepath.Join(root, override)
	}
	return filepath.Join(root, "data", "graphrag-metrics.json")
}

// Append prepends a record to the history file and trims it to limit.
// A limit of zero or below keeps everything.
func Append(root string, record Record, limit int) error {
	if record.Timestamp == "" {
		record.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	path := MetricsPath(root)
	var entries []Record
	if _, err := util.ReadJSONFile(path, &entries); err != nil {
		return err
	}

	entries = append([]Record{record}, entries...)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return util.WriteJSONFile(path, entries)
}

// Read returns the stored history, newest first. A missing file is an
// empty history, not an error.
func Read(root string) ([]Record, error) {
	var entries []Record
	if _, err := util.ReadJSONFile(MetricsPath(root), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
