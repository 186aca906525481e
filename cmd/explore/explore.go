package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/retrieval"
)

// exploreParams bound the composite query: they flow into the
// subgraph expansion and the top-N follow-up.
type exploreParams struct {
	MaxHops          int       `json:"maxHops,omitempty"`
	NodeLimit        int       `json:"nodeLimit,omitempty"`
	EdgeLimit        int       `json:"edgeLimit,omitempty"`
	IncludeLabels    []string  `json:"includeLabels,omitempty"`
	IncludeEdgeTypes []string  `json:"includeEdgeTypes,omitempty"`
	EntityNames      []string  `json:"entityNames,omitempty"`
	Sources          []string  `json:"sources,omitempty"`
	Alpha            []float64 `json:"alpha,omitempty"`
	Category         string    `json:"category,omitempty"`
	Language         string    `json:"language,omitempty"`
}

type exploreRequest struct {
	Kind     string
	Question string
	DocID    string
	Limit    int
	Params   exploreParams
}

// exploreDoc is one merged candidate from the hybrid, subgraph and
// top-N signals.
type exploreDoc struct {
	ID              string                     `json:"id"`
	Title           string                     `json:"title"`
	URL             string                     `json:"url,omitempty"`
	Locale          string                     `json:"locale,omitempty"`
	Score           *float64                   `json:"score"`
	Rank            int                        `json:"rank,omitempty"`
	VectorScore     *float64                   `json:"vectorScore,omitempty"`
	StructureScore  *float64                   `json:"structureScore,omitempty"`
	ScoreComponents *retrieval.ScoreComponents `json:"scoreComponents,omitempty"`
	Tags            []string                   `json:"tags"`
	Categories      []string                   `json:"categories"`
	UpdatedAt       string                     `json:"updatedAt,omitempty"`
	Reasons         []string                   `json:"reasons"`
	StructureDetail *retrieval.StructureDetail `json:"structureDetail,omitempty"`
	Source          string                     `json:"source"`
}

type graphNode struct {
	ID         string             `json:"id"`
	Labels     []string           `json:"labels"`
	Hop        int                `json:"hop"`
	Properties map[string]any     `json:"properties"`
	Type       string             `json:"type"`
	Title      string             `json:"title,omitempty"`
	Name       string             `json:"name,omitempty"`
	Locale     string             `json:"locale,omitempty"`
	UpdatedAt  string             `json:"updatedAt,omitempty"`
	Salience   *float64           `json:"salience,omitempty"`
	Structure  map[string]float64 `json:"structure,omitempty"`
}

type exploreGraph struct {
	Nodes       []graphNode             `json:"nodes"`
	Edges       []retrieval.Edge        `json:"edges"`
	Stats       retrieval.SubgraphStats `json:"stats"`
	Constraints retrieval.Constraints   `json:"constraints"`

	docNode *graphNode
}

type evidenceItem struct {
	DocID  string   `json:"docId"`
	Title  string   `json:"title"`
	Reason string   `json:"reason,omitempty"`
	Score  *float64 `json:"score"`
	Source string   `json:"source"`
}

type exploreTelemetry struct {
	Hybrid     *retrieval.HybridMeta `json:"hybrid"`
	DurationMs int64                 `json:"durationMs"`
	Sources    []string              `json:"sources"`
}

type queryEcho struct {
	Kind      string        `json:"kind"`
	Value     string        `json:"value,omitempty"`
	DocID     string        `json:"docId,omitempty"`
	Params    exploreParams `json:"params"`
	Timestamp string        `json:"timestamp"`
}

type exploreResponse struct {
	Query     queryEcho        `json:"query"`
	Docs      []*exploreDoc    `json:"docs"`
	Graph     *exploreGraph    `json:"graph"`
	Evidence  []evidenceItem   `json:"evidence"`
	Telemetry exploreTelemetry `json:"telemetry"`
}

func docIDToURL(docID, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if docID == "" {
		return ""
	}
	normalized := strings.TrimLeft(docID, "/")
	if strings.HasSuffix(normalized, ".html") {
		return "/" + normalized
	}
	return "/" + normalized + ".html"
}

func roundPtr(value float64) *float64 {
	rounded := math.Round(value*1e4) / 1e4
	return &rounded
}

// docSet merges candidates from multiple signals: reasons union,
// highest score, first rank and source win.
type docSet struct {
	byID  map[string]*exploreDoc
	order []string
}

func newDocSet() *docSet {
	return &docSet{byID: map[string]*exploreDoc{}}
}

func (s *docSet) push(doc *exploreDoc) {
	if doc == nil || doc.ID == "" {
		return
	}
	existing, ok := s.byID[doc.ID]
	if !ok {
		s.byID[doc.ID] = doc
		s.order = append(s.order, doc.ID)
		return
	}
	seen := map[string]struct{}{}
	for _, reason := range existing.Reasons {
		seen[reason] = struct{}{}
	}
	for _, reason := range doc.Reasons {
		if _, dup := seen[reason]; !dup {
			existing.Reasons = append(existing.Reasons, reason)
			seen[reason] = struct{}{}
		}
	}
	if existing.Source == "" {
		existing.Source = doc.Source
	}
	if existing.Rank == 0 {
		existing.Rank = doc.Rank
	}
	if doc.Score != nil {
		if existing.Score == nil || *doc.Score > *existing.Score {
			existing.Score = doc.Score
		}
	}
}

func (s *docSet) sorted() []*exploreDoc {
	docs := make([]*exploreDoc, 0, len(s.order))
	for _, id := range s.order {
		docs = append(docs, s.byID[id])
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Rank != 0 && b.Rank != 0 {
			return a.Rank < b.Rank
		}
		if a.Rank != 0 {
			return true
		}
		if b.Rank != 0 {
			return false
		}
		aScore, bScore := math.Inf(-1), math.Inf(-1)
		if a.Score != nil {
			aScore = *a.Score
		}
		if b.Score != nil {
			bScore = *b.Score
		}
		return aScore > bScore
	})
	return docs
}

func mapHybridDocs(items []retrieval.HybridItem) []*exploreDoc {
	docs := make([]*exploreDoc, 0, len(items))
	for index, item := range items {
		title := item.Title
		if title == "" {
			title = item.DocID
		}
		doc := &exploreDoc{
			ID:              item.DocID,
			Title:           title,
			URL:             docIDToURL(item.DocID, item.URL),
			Locale:          item.Lang,
			Score:           roundPtr(item.Score),
			Rank:            index + 1,
			VectorScore:     roundPtr(item.VectorScore),
			StructureScore:  roundPtr(item.StructureScore),
			ScoreComponents: &item.ScoreComponents,
			Tags:            []string{},
			Categories:      []string{},
			Reasons:         item.Reasons,
			StructureDetail: item.StructureDetail,
			Source:          "hybrid",
		}
		if doc.Reasons == nil {
			doc.Reasons = []string{}
		}
		docs = append(docs, doc)
	}
	return docs
}

func mapTopNDocs(items []retrieval.TopNItem) []*exploreDoc {
	docs := make([]*exploreDoc, 0, len(items))
	for index, item := range items {
		title := item.Title
		if title == "" {
			title = item.DocID
		}
		docs = append(docs, &exploreDoc{
			ID:         item.DocID,
			Title:      title,
			URL:        docIDToURL(item.DocID, ""),
			Score:      roundPtr(item.Score),
			Rank:       index + 1,
			Tags:       item.Tags,
			Categories: item.Categories,
			UpdatedAt:  item.UpdatedAt,
			Reasons:    item.Reasons,
			Source:     "topn",
		})
	}
	return docs
}

func nodeString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := data[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func mapGraph(subgraph *retrieval.Subgraph) *exploreGraph {
	graph := &exploreGraph{
		Nodes:       []graphNode{},
		Edges:       subgraph.Edges,
		Stats:       subgraph.Stats,
		Constraints: subgraph.Constraints,
	}
	if graph.Edges == nil {
		graph.Edges = []retrieval.Edge{}
	}

	for _, node := range subgraph.Nodes {
		mapped := graphNode{
			ID:         node.Identity,
			Labels:     node.Labels,
			Hop:        node.Hop,
			Properties: node.Data,
		}
		switch {
		case hasLabel(node.Labels, "Doc"):
			mapped.Type = "doc"
			mapped.Title = nodeString(node.Data, "title", "id")
			if mapped.Title == "" {
				mapped.Title = node.Identity
			}
			mapped.Locale = nodeString(node.Data, "locale")
			mapped.UpdatedAt = nodeString(node.Data, "updated_at", "updated")
			mapped.Structure = retrieval.ExtractGNNScores(node.Data)
			if id := nodeString(node.Data, "id"); id != "" {
				mapped.ID = id
			}
		case hasLabel(node.Labels, "Entity"):
			mapped.Type = nodeString(node.Data, "type")
			if mapped.Type == "" {
				mapped.Type = "Entity"
			}
			mapped.Name = nodeString(node.Data, "name", "id")
			if mapped.Name == "" {
				mapped.Name = node.Identity
			}
			if salience, ok := node.Data["salience"].(float64); ok {
				mapped.Salience = &salience
			}
			mapped.Structure = retrieval.ExtractGNNScores(node.Data)
		case hasLabel(node.Labels, "Category"):
			mapped.Type = "category"
			mapped.Name = nodeString(node.Data, "name")
		case hasLabel(node.Labels, "Tag"):
			mapped.Type = "tag"
			mapped.Name = nodeString(node.Data, "name")
		default:
			mapped.Type = "node"
			if len(node.Labels) > 0 {
				mapped.Type = node.Labels[0]
			}
			mapped.Name = nodeString(node.Data, "name", "title")
		}
		graph.Nodes = append(graph.Nodes, mapped)
		if mapped.Type == "doc" && graph.docNode == nil {
			last := graph.Nodes[len(graph.Nodes)-1]
			graph.docNode = &last
		}
	}
	return graph
}

func hasLabel(labels []string, label string) bool {
	for _, candidate := range labels {
		if candidate == label {
			return true
		}
	}
	return false
}

func buildEvidence(docs []*exploreDoc) []evidenceItem {
	limit := len(docs)
	if limit > 5 {
		limit = 5
	}
	evidence := make([]evidenceItem, 0, limit)
	for _, doc := range docs[:limit] {
		item := evidenceItem{
			DocID:  doc.ID,
			Title:  doc.Title,
			Score:  doc.Score,
			Source: doc.Source,
		}
		if item.Source == "" {
			item.Source = "unknown"
		}
		if len(doc.Reasons) > 0 {
			item.Reason = doc.Reasons[0]
		}
		evidence = append(evidence, item)
	}
	return evidence
}

// runExplore answers a question or expands a document: hybrid search
// picks a pivot, the pivot's neighborhood is expanded, and entities in
// the neighborhood seed a top-N recommendation pass.
func runExplore(ctx context.Context, store *graphstore.Client, client ai.GraphAIClient, root string, req exploreRequest) (*exploreResponse, error) {
	docs := newDocSet()
	var hybridMeta *retrieval.HybridMeta
	pivotDocID := req.DocID
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	switch req.Kind {
	case "question":
		if req.Question == "" {
			return nil, errors.New("question 模式需要提供问题文本")
		}
		hybrid, err := retrieval.SearchHybrid(ctx, store, client, root, retrieval.HybridQuery{
			Question: req.Question,
			Limit:    limit,
			Sources:  req.Params.Sources,
			Alpha:    req.Params.Alpha,
		})
		if err != nil {
			return nil, err
		}
		hybridMeta = &hybrid.Meta
		hybridDocs := mapHybridDocs(hybrid.Items)
		for _, doc := range hybridDocs {
			docs.push(doc)
		}
		if pivotDocID == "" && len(hybridDocs) > 0 {
			pivotDocID = hybridDocs[0].ID
		}
	case "doc":
		if pivotDocID == "" {
			return nil, errors.New("doc 模式需要通过 --doc-id 指定文档")
		}
	default:
		return nil, fmt.Errorf("暂不支持的 kind：%s", req.Kind)
	}

	var graph *exploreGraph
	if pivotDocID != "" {
		subgraph, err := retrieval.FetchSubgraph(ctx, store, pivotDocID, retrieval.Constraints{
			EntityNames: req.Params.EntityNames,
			Labels:      req.Params.IncludeLabels,
			RelTypes:    req.Params.IncludeEdgeTypes,
			MaxHops:     req.Params.MaxHops,
			NodeLimit:   req.Params.NodeLimit,
			EdgeLimit:   req.Params.EdgeLimit,
		})
		if err != nil {
			return nil, err
		}
		graph = mapGraph(subgraph)

		if graph.docNode != nil {
			source := "subgraph"
			if req.Kind == "doc" {
				source = "seed"
			}
			docs.push(&exploreDoc{
				ID:         graph.docNode.ID,
				Title:      graph.docNode.Title,
				URL:        docIDToURL(graph.docNode.ID, ""),
				Locale:     graph.docNode.Locale,
				UpdatedAt:  graph.docNode.UpdatedAt,
				Tags:       []string{},
				Categories: []string{},
				Reasons:    []string{},
				Source:     source,
			})
		}
	}

	var entityNames []string
	if graph != nil {
		for _, node := range graph.Nodes {
			if !hasLabel(node.Labels, "Entity") || node.Name == "" {
				continue
			}
			entityNames = append(entityNames, node.Name)
			if len(entityNames) == 12 {
				break
			}
		}
	}

	if len(entityNames) > 0 {
		topnLimit := limit
		if topnLimit < 5 {
			topnLimit = 5
		}
		topn, err := retrieval.FetchTopN(ctx, store, retrieval.TopNParams{
			EntityNames: entityNames,
			Category:    req.Params.Category,
			Language:    req.Params.Language,
			Limit:       topnLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range mapTopNDocs(topn.Items) {
			if doc.ID == pivotDocID {
				continue
			}
			docs.push(doc)
		}
	}

	sortedDocs := docs.sorted()

	value := req.Question
	if req.Kind != "question" {
		if graph != nil && graph.docNode != nil {
			value = graph.docNode.Title
		} else {
			value = pivotDocID
		}
	}

	sources := []string{"vector"}
	if hybridMeta != nil && len(hybridMeta.Sources) > 0 {
		sources = hybridMeta.Sources
	}

	return &exploreResponse{
		Query: queryEcho{
			Kind:      req.Kind,
			Value:     value,
			DocID:     pivotDocID,
			Params:    req.Params,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Docs:     sortedDocs,
		Graph:    graph,
		Evidence: buildEvidence(sortedDocs),
		Telemetry: exploreTelemetry{
			Hybrid:  hybridMeta,
			Sources: sources,
		},
	}, nil
}
