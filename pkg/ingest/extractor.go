package ingest

import (
	"context"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

// Extractor turns a normalized document into a graph aggregation.
type Extractor interface {
	Extract(ctx context.Context, doc *NormalizedDoc) (*graphstore.Aggregation, error)
}

// PlaceholderExtractor returns empty aggregations. It keeps the
// pipeline runnable for metadata-only ingestion without a model.
type PlaceholderExtractor struct{}

func (PlaceholderExtractor) Extract(_ context.Context, _ *NormalizedDoc) (*graphstore.Aggregation, error) {
	return &graphstore.Aggregation{
		Entities:      []*graphstore.Entity{},
		Relationships: []*graphstore.Relationship{},
		Mentions:      []*graphstore.Mention{},
		Diagnostics: []graphstore.Diagnostic{
			{Level: "info", Message: "使用占位实体提取器，返回空集合"},
		},
	}, nil
}
