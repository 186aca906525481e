package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

// Default hybrid blend weights: vector similarity first, structure
// signal second.
const (
	DefaultVectorWeight    = 0.7
	DefaultStructureWeight = 0.3
)

// HybridQuery describes one hybrid search request. Either Question or
// a precomputed Embedding must be set.
type HybridQuery struct {
	Question    string    `json:"question,omitempty"`
	Embedding   []float32 `json:"-"`
	Limit       int       `json:"limit"`
	Sources     []string  `json:"sources,omitempty"`
	Alpha       []float64 `json:"alpha,omitempty"`
	VectorIndex string    `json:"vectorIndex,omitempty"`
}

// ScoreComponents break a blended score into its weighted parts.
type ScoreComponents struct {
	Vector    float64 `json:"vector"`
	Structure float64 `json:"structure"`
}

// StructureDetail explains where a document's structure score came
// from.
type StructureDetail struct {
	Feature     string            `json:"feature"`
	Source      *StructureSource  `json:"source,omitempty"`
	Pagerank    PagerankStats     `json:"pagerank"`
	TopEntities []EntityStructure `json:"topEntities"`
}

// HybridItem is one blended search result.
type HybridItem struct {
	DocID                    string           `json:"doc_id"`
	URL                      string           `json:"url,omitempty"`
	Title                    string           `json:"title,omitempty"`
	Lang                     string           `json:"lang,omitempty"`
	Score                    float64          `json:"score"`
	VectorScore              float64          `json:"vector_score"`
	StructureScore           float64          `json:"structure_score"`
	StructureScoreNormalized float64          `json:"structure_score_normalized"`
	ScoreComponents          ScoreComponents  `json:"score_components"`
	Reasons                  []string         `json:"reasons"`
	StructureDetail          *StructureDetail `json:"structure_detail,omitempty"`
}

// HybridStructureMeta reports how the structure signal was applied.
type HybridStructureMeta struct {
	Feature       string  `json:"feature"`
	Enabled       bool    `json:"enabled"`
	Normalization string  `json:"normalization"`
	MaxScore      float64 `json:"maxScore"`
	Requested     bool    `json:"requested"`
}

// HybridMeta echoes the resolved query parameters.
type HybridMeta struct {
	VectorIndex string              `json:"vectorIndex"`
	Model       string              `json:"model,omitempty"`
	K           int                 `json:"k"`
	Alpha       []float64           `json:"alpha"`
	Sources     []string            `json:"sources"`
	Structure   HybridStructureMeta `json:"structure"`
}

// HybridResult carries the blended items plus query metadata.
type HybridResult struct {
	Items []HybridItem `json:"items"`
	Meta  HybridMeta   `json:"meta"`
}

// ResolveAlpha validates a two-element weight pair and renormalizes it
// to sum 1. Anything invalid falls back to the defaults.
func ResolveAlpha(alpha []float64) (float64, float64) {
	vector, structure := DefaultVectorWeight, DefaultStructureWeight
	if len(alpha) >= 2 && alpha[0] >= 0 && alpha[1] >= 0 && alpha[0]+alpha[1] > 0 {
		vector, structure = alpha[0], alpha[1]
	}
	sum := vector + structure
	return vector / sum, structure / sum
}

// NormalizeCosine maps cosine similarity from [-1, 1] onto [0, 1].
func NormalizeCosine(cos float64) float64 {
	value := (cos + 1) / 2
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round3(value float64) float64 { return math.Round(value*1e3) / 1e3 }
func round4(value float64) float64 { return math.Round(value*1e4) / 1e4 }

func structureRequested(sources []string) bool {
	if len(sources) == 0 {
		return true
	}
	for _, source := range sources {
		switch strings.ToLower(source) {
		case "structure", "graph":
			return true
		}
	}
	return false
}

func buildStructureReason(source *StructureSource) string {
	if source == nil {
		return ""
	}
	switch source.Type {
	case "doc":
		return fmt.Sprintf("文档 PageRank %.3f", source.Value)
	case "entity_avg":
		return fmt.Sprintf("实体 PageRank 均值 %.3f", source.Value)
	case "entity_max":
		if source.Entity != "" {
			return fmt.Sprintf("实体 %s PageRank %.3f", source.Entity, source.Value)
		}
		return fmt.Sprintf("实体 PageRank %.3f", source.Value)
	default:
		return ""
	}
}

// resolveMetaSignals reports the signals that actually contributed to
// the ranking. When structure was requested but no candidate carried a
// positive structure score, the blend ran vector-only, and the meta
// says so instead of echoing the request.
func resolveMetaSignals(requestedSources []string, vectorWeight, structureWeight float64, active bool) ([]string, []float64) {
	if !active {
		return []string{"vector"}, []float64{1, 0}
	}
	sources := requestedSources
	if len(sources) == 0 {
		sources = []string{"vector", "structure"}
	}
	return sources, []float64{round3(vectorWeight), round3(structureWeight)}
}

type hybridCandidate struct {
	DocID     string
	URL       string
	Title     string
	Lang      string
	Cosine    float64
	Structure StructureMetrics
}

// blendHybrid combines normalized vector and structure scores. When
// structure was not requested or no candidate carries a positive
// structure score, the weights collapse to pure vector ranking.
// Reported components are rounded; sorting uses full precision.
func blendHybrid(candidates []hybridCandidate, vectorWeight, structureWeight float64, requested bool) ([]HybridItem, float64) {
	maxStructure := 0.0
	for _, candidate := range candidates {
		if candidate.Structure.Score > maxStructure {
			maxStructure = candidate.Structure.Score
		}
	}
	if !requested || maxStructure == 0 {
		vectorWeight, structureWeight = 1, 0
	}

	type scored struct {
		item  HybridItem
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, candidate := range candidates {
		vectorNorm := NormalizeCosine(candidate.Cosine)
		structureNorm := 0.0
		if maxStructure > 0 {
			structureNorm = candidate.Structure.Score / maxStructure
		}
		score := vectorWeight*vectorNorm + structureWeight*structureNorm

		reasons := []string{fmt.Sprintf("语义相似度 %.3f", vectorNorm)}
		var detail *StructureDetail
		if requested && candidate.Structure.Source != nil {
			if reason := buildStructureReason(candidate.Structure.Source); reason != "" {
				reasons = append(reasons, reason)
			}
			detail = &StructureDetail{
				Feature:     "gnn_pagerank",
				Source:      candidate.Structure.Source,
				Pagerank:    candidate.Structure.Pagerank,
				TopEntities: candidate.Structure.TopEntities,
			}
		}

		results = append(results, scored{
			score: score,
			item: HybridItem{
				DocID:                    candidate.DocID,
				URL:                      candidate.URL,
				Title:                    candidate.Title,
				Lang:                     candidate.Lang,
				Score:                    round4(score),
				VectorScore:              round4(vectorNorm),
				StructureScore:           round4(candidate.Structure.Score),
				StructureScoreNormalized: round4(structureNorm),
				ScoreComponents: ScoreComponents{
					Vector:    round4(vectorWeight * vectorNorm),
					Structure: round4(structureWeight * structureNorm),
				},
				Reasons:         reasons,
				StructureDetail: detail,
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	items := make([]HybridItem, 0, len(results))
	for _, entry := range results {
		items = append(items, entry.item)
	}
	return items, maxStructure
}

// fetchDocMetadata loads graph-side properties for the vector
// candidates and derives per-document structure metrics. Entities are
// ranked by salience and capped at 50 per document.
func fetchDocMetadata(ctx context.Context, store *graphstore.Client, docIDs []string) (map[string]StructureMetrics, error) {
	query := `
	  MATCH (d:Doc) WHERE d.id IN $docIds
	  OPTIONAL MATCH (d)<-[:PART_OF]-(:Chunk)-[:MENTIONS]->(e:Entity)
	  WITH d, collect(DISTINCT e) AS entities
	  RETURN d { .* } AS doc,
	         [entity IN entities | entity { .* }] AS entities`

	session := store.ReadSession(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{"docIds": emptyIfNil(docIDs)})
	if err != nil {
		return nil, fmt.Errorf("hybrid metadata query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	metrics := make(map[string]StructureMetrics, len(records))
	for _, record := range records {
		doc := recordMap(record, "doc")
		docID := asString(doc["id"])
		if docID == "" {
			continue
		}

		var entities []EntityStructure
		if raw, ok := record.Get("entities"); ok {
			if items, ok := raw.([]any); ok {
				for _, item := range items {
					props := asMap(item)
					name := asString(props["name"])
					if name == "" {
						continue
					}
					salience, _ := toFloat(props["salience"])
					entities = append(entities, EntityStructure{
						Name:     name,
						Type:     asString(props["type"]),
						Salience: salience,
						Scores:   ExtractGNNScores(props),
					})
				}
			}
		}
		sort.SliceStable(entities, func(i, j int) bool { return entities[i].Salience > entities[j].Salience })
		if len(entities) > 50 {
			entities = entities[:50]
		}

		metrics[docID] = ComputeStructureMetrics(doc, entities)
	}
	return metrics, nil
}

// SearchHybrid blends vector similarity from the embedding index with
// precomputed graph structure scores. A nil store degrades to pure
// vector search.
func SearchHybrid(ctx context.Context, store *graphstore.Client, client ai.GraphAIClient, root string, params HybridQuery) (*HybridResult, error) {
	config, err := LoadVectorConfig(root)
	if err != nil {
		return nil, err
	}
	index, err := config.FindIndex(params.VectorIndex)
	if err != nil {
		return nil, err
	}
	entries, err := LoadIndex(root, index)
	if err != nil {
		return nil, err
	}

	embedding := params.Embedding
	if len(embedding) == 0 {
		if params.Question == "" {
			return nil, errors.New("missing question or embedding")
		}
		if client == nil {
			return nil, errors.New("no embedding client configured")
		}
		embedding, err = client.GenerateEmbedding(ctx, []byte(params.Question))
		if err != nil {
			return nil, fmt.Errorf("embed question: %w", err)
		}
	}
	if index.Normalize {
		embedding = NormalizeVector(embedding)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultTopNLimit
	}
	scoredEntries := VectorSearch(embedding, entries, limit)

	requested := structureRequested(params.Sources) && store != nil
	structureByDoc := map[string]StructureMetrics{}
	if requested && len(scoredEntries) > 0 {
		docIDs := make([]string, 0, len(scoredEntries))
		for _, entry := range scoredEntries {
			docIDs = append(docIDs, entry.DocID)
		}
		structureByDoc, err = fetchDocMetadata(ctx, store, docIDs)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]hybridCandidate, 0, len(scoredEntries))
	for _, entry := range scoredEntries {
		candidates = append(candidates, hybridCandidate{
			DocID:     entry.DocID,
			URL:       entry.URL,
			Title:     entry.Title,
			Lang:      entry.Lang,
			Cosine:    entry.Score,
			Structure: structureByDoc[entry.DocID],
		})
	}

	vectorWeight, structureWeight := ResolveAlpha(params.Alpha)
	items, maxStructure := blendHybrid(candidates, vectorWeight, structureWeight, requested)

	active := requested && maxStructure > 0
	sources, alpha := resolveMetaSignals(params.Sources, vectorWeight, structureWeight, active)
	normalization := "none"
	if maxStructure > 0 {
		normalization = "max"
	}

	return &HybridResult{
		Items: items,
		Meta: HybridMeta{
			VectorIndex: index.Name,
			Model:       index.Model,
			K:           limit,
			Alpha:       alpha,
			Sources:     sources,
			Structure: HybridStructureMeta{
				Feature:       "gnn_pagerank",
				Enabled:       active,
				Normalization: normalization,
				MaxScore:      round4(maxStructure),
				Requested:     requested,
			},
		},
	}, nil
}
