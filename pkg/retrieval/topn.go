package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

// DefaultTopNLimit bounds ranked document results.
const DefaultTopNLimit = 5

// TopNParams filter and bound a ranked document query.
type TopNParams struct {
	EntityNames []string `json:"entityNames,omitempty"`
	Category    string   `json:"category,omitempty"`
	Language    string   `json:"language,omitempty"`
	Limit       int      `json:"limit"`
}

// TopNItem is one ranked document with human-readable reasons.
type TopNItem struct {
	DocID      string   `json:"doc_id"`
	Title      string   `json:"title"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
	Score      float64  `json:"score"`
	Tags       []string `json:"tags"`
	Categories []string `json:"categories"`
	Reasons    []string `json:"reasons"`
}

// TopNResult carries the ranked items plus the normalized query echo.
type TopNResult struct {
	Items []TopNItem `json:"items"`
	Query TopNParams `json:"query"`
}

type docCandidate struct {
	ID         string
	Title      string
	UpdatedAt  string
	Categories []string
	Tags       []string
	Entities   []matchedEntity
}

type matchedEntity struct {
	Name     string
	Salience float64
}

func parseRecency(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// scoreCandidate sums matched entity salience, a category match bonus
// and a recency bonus on an epoch-days scale.
func scoreCandidate(doc docCandidate, params TopNParams) float64 {
	score := 0.0
	for _, entity := range doc.Entities {
		score += entity.Salience
	}
	if params.Category != "" && contains(doc.Categories, params.Category) {
		score += 0.1
	}
	if t, ok := parseRecency(doc.UpdatedAt); ok {
		score += float64(t.UnixMilli()) / 8.64e10
	}
	return score
}

func buildReasons(doc docCandidate, params TopNParams) []string {
	reasons := []string{}
	for _, entity := range doc.Entities {
		if entity.Salience > 0 {
			reasons = append(reasons, fmt.Sprintf("包含实体 %s（salience %.3f）", entity.Name, entity.Salience))
		} else {
			reasons = append(reasons, fmt.Sprintf("包含实体 %s", entity.Name))
		}
	}
	if params.Category != "" && contains(doc.Categories, params.Category) {
		reasons = append(reasons, fmt.Sprintf("分类匹配 %s", params.Category))
	}
	if doc.UpdatedAt != "" {
		reasons = append(reasons, fmt.Sprintf("最近更新：%s", doc.UpdatedAt))
	}
	return reasons
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

// rankCandidates scores, filters and sorts candidates. Zero-score
// documents are dropped unless the query carried no filters at all.
func rankCandidates(candidates []docCandidate, params TopNParams) []TopNItem {
	unfiltered := len(params.EntityNames) == 0 && params.Category == ""

	type scored struct {
		doc   docCandidate
		score float64
	}
	kept := make([]scored, 0, len(candidates))
	for _, doc := range candidates {
		score := scoreCandidate(doc, params)
		if score > 0 || unfiltered {
			kept = append(kept, scored{doc: doc, score: score})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultTopNLimit
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}

	items := make([]TopNItem, 0, len(kept))
	for _, entry := range kept {
		items = append(items, TopNItem{
			DocID:      entry.doc.ID,
			Title:      entry.doc.Title,
			UpdatedAt:  entry.doc.UpdatedAt,
			Score:      entry.score,
			Tags:       emptyIfNil(entry.doc.Tags),
			Categories: emptyIfNil(entry.doc.Categories),
			Reasons:    buildReasons(entry.doc, params),
		})
	}
	return items
}

// FetchTopN ranks documents by matched-entity salience, category match
// and recency.
func FetchTopN(ctx context.Context, store *graphstore.Client, params TopNParams) (*TopNResult, error) {
	if params.Limit <= 0 {
		params.Limit = DefaultTopNLimit
	}

	query := `
	  MATCH (d:Doc)
	  OPTIONAL MATCH (d)-[:IN_CATEGORY]->(cat:Category)
	  OPTIONAL MATCH (d)-[:HAS_TAG]->(tag:Tag)
	  OPTIONAL MATCH (d)<-[:PART_OF]-(chunk:Chunk)-[:MENTIONS]->(e:Entity)
	  WHERE ($language = "" OR d.locale = $language)
	    AND ($category = "" OR cat.name = $category)
	    AND (size($entityNames) = 0 OR e.name IN $entityNames)
	  WITH d,
	       collect(DISTINCT cat.name) AS categories,
	       collect(DISTINCT tag.name) AS tags,
	       collect(DISTINCT e { .name, .salience }) AS entities
	  RETURN d { .* } AS doc, categories, tags, entities`

	session := store.ReadSession(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{
		"entityNames": emptyIfNil(params.EntityNames),
		"category":    params.Category,
		"language":    params.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("topn query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]docCandidate, 0, len(records))
	for _, record := range records {
		doc := recordMap(record, "doc")
		candidate := docCandidate{
			ID:        asString(doc["id"]),
			Title:     asString(doc["title"]),
			UpdatedAt: asString(doc["updated_at"]),
		}
		if raw, ok := record.Get("categories"); ok {
			candidate.Categories = toStringSlice(raw)
		}
		if raw, ok := record.Get("tags"); ok {
			candidate.Tags = toStringSlice(raw)
		}
		if raw, ok := record.Get("entities"); ok {
			if items, ok := raw.([]any); ok {
				for _, item := range items {
					m, ok := item.(map[string]any)
					if !ok {
						continue
					}
					name := asString(m["name"])
					if name == "" {
						continue
					}
					salience, _ := toFloat(m["salience"])
					candidate.Entities = append(candidate.Entities, matchedEntity{Name: name, Salience: salience})
				}
			}
		}
		candidates = append(candidates, candidate)
	}

	return &TopNResult{
		Items: rankCandidates(candidates, params),
		Query: params,
	}, nil
}
