package ingest

import (
	"strings"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/normalize"
)

// SelectPrimaryRoot picks the one document-root entity written as the
// HAS_ENTITY target. Preference: name contained in the title, then
// normalized-key overlap with the title, then highest type priority,
// then first candidate. Extraction tends to nominate every entity it
// saw; writing them all fans the doc edge out into noise.
func SelectPrimaryRoot(doc *NormalizedDoc, roots []*graphstore.DocEntityRoot) *graphstore.DocEntityRoot {
	candidates := make([]*graphstore.DocEntityRoot, 0, len(roots))
	for _, root := range roots {
		if root != nil && root.Name != "" {
			candidates = append(candidates, root)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	title := strings.ToLower(doc.Title)
	if title != "" {
		for _, root := range candidates {
			if strings.Contains(title, strings.ToLower(root.Name)) {
				return root
			}
		}
		titleKey := normalize.NormalizeEntityKey(doc.Title)
		if titleKey != "" {
			for _, root := range candidates {
				key := root.Key
				if key == "" {
					key = normalize.NormalizeEntityKey(root.Name)
				}
				if key != "" && (strings.Contains(titleKey, key) || strings.Contains(key, titleKey)) {
					return root
				}
			}
		}
	}

	best := candidates[0]
	bestScore := normalize.TypePriority(best.Type)
	for _, root := range candidates[1:] {
		if score := normalize.TypePriority(root.Type); score > bestScore {
			best = root
			bestScore = score
		}
	}
	return best
}

// BuildPayload assembles the per-document write unit from normalized
// metadata and the extraction aggregation.
func BuildPayload(doc *NormalizedDoc, agg *graphstore.Aggregation) *graphstore.Payload {
	if agg == nil {
		agg = &graphstore.Aggregation{}
	}

	chunks := make([]graphstore.ChunkNode, 0, len(doc.Chunks))
	for _, chunk := range doc.Chunks {
		chunks = append(chunks, graphstore.ChunkNode{
			ID:    chunk.ID,
			DocID: doc.ID,
			Order: chunk.Order,
			Text:  chunk.Text,
		})
	}

	var roots []*graphstore.DocEntityRoot
	if primary := SelectPrimaryRoot(doc, agg.DocEntityRoots); primary != nil {
		roots = []*graphstore.DocEntityRoot{primary}
	}

	return &graphstore.Payload{
		Doc: graphstore.DocNode{
			ID:          doc.ID,
			Title:       doc.Title,
			Description: doc.Description,
			Locale:      doc.Locale,
			UpdatedAt:   doc.UpdatedAt,
			SourcePath:  doc.SourcePath,
			Hash:        doc.Hash,
		},
		Categories:     doc.Categories,
		Tags:           doc.Tags,
		Chunks:         chunks,
		Entities:       agg.Entities,
		Relationships:  agg.Relationships,
		Mentions:       agg.Mentions,
		DocEntityRoots: roots,
		Diagnostics:    agg.Diagnostics,
	}
}
