// Package retrieval answers exploratory queries over the ingested
// graph: bounded subgraph expansion, top-N document ranking, shortest
// entity paths and hybrid vector+structure search.
package retrieval

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// EntityStructure is one entity's precomputed graph-topology scores,
// as read from gnn_* node properties.
type EntityStructure struct {
	Name     string             `json:"name"`
	Type     string             `json:"type,omitempty"`
	Salience float64            `json:"salience,omitempty"`
	Scores   map[string]float64 `json:"structureScores,omitempty"`
	Pagerank float64            `json:"pagerank"`
	HasRank  bool               `json:"-"`
}

// PagerankStats aggregates entity pagerank values for one document.
type PagerankStats struct {
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// CommunityCount is the number of document entities in one community.
type CommunityCount struct {
	Community string `json:"community"`
	Count     int    `json:"count"`
}

// StructureSource names which signal produced the document structure
// score: "doc", "entity_avg" or "entity_max".
type StructureSource struct {
	Type   string  `json:"type"`
	Key    string  `json:"key"`
	Value  float64 `json:"value"`
	Entity string  `json:"entity,omitempty"`
}

// StructureMetrics summarize the precomputed topology signals of one
// candidate document.
type StructureMetrics struct {
	DocScores   map[string]float64 `json:"docScores"`
	Pagerank    PagerankStats      `json:"pagerank"`
	Communities []CommunityCount   `json:"communities"`
	TopEntities []EntityStructure  `json:"topEntities"`
	Score       float64            `json:"score"`
	Source      *StructureSource   `json:"scoreSource,omitempty"`
}

// ExtractGNNScores pulls numeric gnn_* properties from a node property
// map.
func ExtractGNNScores(props map[string]any) map[string]float64 {
	scores := map[string]float64{}
	for key, raw := range props {
		if !strings.HasPrefix(key, "gnn_") {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			continue
		}
		scores[key] = value
	}
	return scores
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// ComputeStructureMetrics derives the blended structure score for one
// document. Preference order: document pagerank, then entity average,
// then entity maximum.
func ComputeStructureMetrics(docProps map[string]any, entities []EntityStructure) StructureMetrics {
	docScores := ExtractGNNScores(docProps)

	var pagerankValues []float64
	communityCounts := map[string]int{}
	summaries := make([]EntityStructure, 0, len(entities))

	for _, entity := range entities {
		summary := entity
		if rank, ok := summary.Scores["gnn_pagerank"]; ok {
			summary.Pagerank = rank
			summary.HasRank = true
			pagerankValues = append(pagerankValues, rank)
		}
		community, ok := summary.Scores["gnn_community"]
		if !ok {
			community, ok = summary.Scores["gnn_labelPropagation"]
		}
		if ok {
			key := strconv.FormatFloat(community, 'f', -1, 64)
			communityCounts[key]++
		}
		summaries = append(summaries, summary)
	}

	stats := PagerankStats{Count: len(pagerankValues)}
	for _, value := range pagerankValues {
		stats.Sum += value
		if value > stats.Max {
			stats.Max = value
		}
	}
	if stats.Count > 0 {
		stats.Avg = stats.Sum / float64(stats.Count)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.HasRank != b.HasRank {
			return a.HasRank
		}
		return a.Pagerank > b.Pagerank
	})
	top := summaries
	if len(top) > 3 {
		top = top[:3]
	}

	var candidates []StructureSource
	if docRank, ok := docScores["gnn_pagerank"]; ok {
		candidates = append(candidates, StructureSource{Type: "doc", Key: "gnn_pagerank", Value: docRank})
	}
	if stats.Count > 0 {
		candidates = append(candidates, StructureSource{Type: "entity_avg", Key: "gnn_pagerank", Value: stats.Avg})
		best := StructureSource{Type: "entity_max", Key: "gnn_pagerank", Value: stats.Max}
		if len(top) > 0 && top[0].HasRank {
			best.Entity = top[0].Name
		}
		candidates = append(candidates, best)
	}

	metrics := StructureMetrics{
		DocScores:   docScores,
		Pagerank:    stats,
		TopEntities: top,
		Communities: sortedCommunities(communityCounts),
	}

	// Signals are appended in preference order: doc pagerank first,
	// then entity average, then entity maximum.
	if len(candidates) > 0 {
		metrics.Source = &candidates[0]
		metrics.Score = candidates[0].Value
	}

	return metrics
}

func sortedCommunities(counts map[string]int) []CommunityCount {
	out := make([]CommunityCount, 0, len(counts))
	for community, count := range counts {
		out = append(out, CommunityCount{Community: community, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Community < out[j].Community
	})
	return out
}
