package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

// Subgraph bounds. Requests beyond the caps are clamped, not rejected.
const (
	DefaultMaxHops   = 2
	MaxHopsCap       = 6
	DefaultNodeLimit = 50
	NodeLimitCap     = 500
	DefaultEdgeLimit = 100
	EdgeLimitCap     = 1000
)

// Constraints filter and bound a subgraph expansion.
type Constraints struct {
	EntityNames []string `json:"entityNames,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	RelTypes    []string `json:"relTypes,omitempty"`
	MaxHops     int      `json:"maxHops"`
	NodeLimit   int      `json:"nodeLimit"`
	EdgeLimit   int      `json:"edgeLimit"`
}

func clamp(value, def, min, max int) int {
	if value == 0 {
		value = def
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func (c Constraints) normalized() Constraints {
	c.MaxHops = clamp(c.MaxHops, DefaultMaxHops, 1, MaxHopsCap)
	c.NodeLimit = clamp(c.NodeLimit, DefaultNodeLimit, 1, NodeLimitCap)
	c.EdgeLimit = clamp(c.EdgeLimit, DefaultEdgeLimit, 1, EdgeLimitCap)
	return c
}

// Node is one subgraph node with its hop distance from the doc root.
type Node struct {
	Identity string         `json:"identity"`
	Labels   []string       `json:"labels"`
	Hop      int            `json:"hop"`
	Data     map[string]any `json:"data"`
}

// Edge is one subgraph relationship.
type Edge struct {
	Identity string         `json:"identity"`
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
}

// SetStats reports truncation for one result set.
type SetStats struct {
	Total     int  `json:"total"`
	Returned  int  `json:"returned"`
	Truncated bool `json:"truncated"`
}

// SubgraphStats lets callers detect partial results.
type SubgraphStats struct {
	Nodes        SetStats       `json:"nodes"`
	Edges        SetStats       `json:"edges"`
	NodesByLabel map[string]int `json:"nodesByLabel"`
	NodesByHop   map[int]int    `json:"nodesByHop"`
}

// Subgraph is a bounded neighborhood around one document.
type Subgraph struct {
	Nodes       []Node        `json:"nodes"`
	Edges       []Edge        `json:"edges"`
	Stats       SubgraphStats `json:"stats"`
	Constraints Constraints   `json:"constraints"`
}

func nodeRecency(data map[string]any) int64 {
	for _, key := range []string{"updated_at", "created_at", "updated", "date"} {
		raw, ok := data[key].(string)
		if !ok || raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// orderNodes sorts hop ascending, recency descending, identity
// ascending for deterministic output.
func orderNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Hop != b.Hop {
			return a.Hop < b.Hop
		}
		ra, rb := nodeRecency(a.Data), nodeRecency(b.Data)
		if ra != rb {
			return ra > rb
		}
		return a.Identity < b.Identity
	})
}

// trimSubgraph orders nodes, applies both limits, drops edges whose
// endpoints were trimmed away and computes stats over the full sets.
func trimSubgraph(nodes []Node, edges []Edge, constraints Constraints) *Subgraph {
	orderNodes(nodes)

	stats := SubgraphStats{
		NodesByLabel: map[string]int{},
		NodesByHop:   map[int]int{},
	}
	stats.Nodes.Total = len(nodes)
	stats.Edges.Total = len(edges)

	kept := nodes
	if len(kept) > constraints.NodeLimit {
		kept = kept[:constraints.NodeLimit]
		stats.Nodes.Truncated = true
	}
	stats.Nodes.Returned = len(kept)

	keptIDs := make(map[string]struct{}, len(kept))
	for _, node := range kept {
		keptIDs[node.Identity] = struct{}{}
		stats.NodesByHop[node.Hop]++
		for _, label := range node.Labels {
			stats.NodesByLabel[label]++
		}
	}

	keptEdges := make([]Edge, 0, len(edges))
	for _, edge := range edges {
		if _, ok := keptIDs[edge.Source]; !ok {
			continue
		}
		if _, ok := keptIDs[edge.Target]; !ok {
			continue
		}
		if len(keptEdges) >= constraints.EdgeLimit {
			stats.Edges.Truncated = true
			break
		}
		keptEdges = append(keptEdges, edge)
	}
	if stats.Edges.Total > len(keptEdges) && len(keptEdges) == constraints.EdgeLimit {
		stats.Edges.Truncated = true
	}
	stats.Edges.Returned = len(keptEdges)

	return &Subgraph{
		Nodes:       kept,
		Edges:       keptEdges,
		Stats:       stats,
		Constraints: constraints,
	}
}

func subgraphFilter() string {
	return `
	  (size($entityNames) = 0 OR (n:Entity AND n.name IN $entityNames))
	  AND (
	    size($allowedLabels) = 0
	    OR any(label IN labels(n) WHERE label IN $allowedLabels)
	  )
	  AND (
	    size($relTypes) = 0
	    OR all(rel IN relationships(path) WHERE type(rel) IN $relTypes)
	  )`
}

func toStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FetchSubgraph expands around a Doc node, honoring the relationship
// type allowlist on every edge of every path. Stats report totals
// before limits so truncation is always detectable.
func FetchSubgraph(ctx context.Context, store *graphstore.Client, docID string, rawConstraints Constraints) (*Subgraph, error) {
	if docID == "" {
		return nil, errors.New("missing docId")
	}
	constraints := rawConstraints.normalized()

	params := map[string]any{
		"docId":         docID,
		"entityNames":   emptyIfNil(constraints.EntityNames),
		"allowedLabels": emptyIfNil(constraints.Labels),
		"relTypes":      emptyIfNil(constraints.RelTypes),
	}

	nodeQuery := fmt.Sprintf(`
	  MATCH (d:Doc {id: $docId})
	  OPTIONAL MATCH path = (d)-[*1..%d]-(n)
	  WHERE n IS NULL OR (%s)
	  WITH d, n, min(length(path)) AS hop
	  WITH d, collect({node: n, hop: hop}) AS neighbors
	  RETURN {identity: toString(id(d)), labels: labels(d), data: d { .* }} AS root,
	         [item IN neighbors WHERE item.node IS NOT NULL |
	           {identity: toString(id(item.node)), labels: labels(item.node),
	            data: item.node { .* }, hop: item.hop}] AS nodes`,
		constraints.MaxHops, subgraphFilter())

	edgeQuery := fmt.Sprintf(`
	  MATCH (d:Doc {id: $docId})
	  MATCH path = (d)-[*1..%d]-(n)
	  WHERE %s
	  UNWIND relationships(path) AS rel
	  WITH DISTINCT rel
	  RETURN toString(id(rel)) AS identity,
	         toString(id(startNode(rel))) AS source,
	         toString(id(endNode(rel))) AS target,
	         type(rel) AS type,
	         rel { .* } AS data`,
		constraints.MaxHops, subgraphFilter())

	session := store.ReadSession(ctx)
	defer session.Close(ctx)

	nodeResult, err := session.Run(ctx, nodeQuery, params)
	if err != nil {
		return nil, fmt.Errorf("subgraph nodes: %w", err)
	}
	nodeRecords, err := nodeResult.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodeRecords) == 0 {
		return trimSubgraph(nil, nil, constraints), nil
	}

	var nodes []Node
	record := nodeRecords[0]
	if root, ok := record.Get("root"); ok {
		if m, ok := root.(map[string]any); ok {
			nodes = append(nodes, Node{
				Identity: asString(m["identity"]),
				Labels:   toStringSlice(m["labels"]),
				Hop:      0,
				Data:     nodeProps(m["data"]),
			})
		}
	}
	if raw, ok := record.Get("nodes"); ok {
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				nodes = append(nodes, Node{
					Identity: asString(m["identity"]),
					Labels:   toStringSlice(m["labels"]),
					Hop:      asInt(m["hop"]),
					Data:     nodeProps(m["data"]),
				})
			}
		}
	}

	var edges []Edge
	edgeResult, err := session.Run(ctx, edgeQuery, params)
	if err != nil {
		return nil, fmt.Errorf("subgraph edges: %w", err)
	}
	edgeRecords, err := edgeResult.Collect(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range edgeRecords {
		edges = append(edges, Edge{
			Identity: recordString(rec, "identity"),
			Source:   recordString(rec, "source"),
			Target:   recordString(rec, "target"),
			Type:     recordString(rec, "type"),
			Data:     recordMap(rec, "data"),
		})
	}

	return trimSubgraph(nodes, edges, constraints), nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func asInt(value any) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func asMap(value any) map[string]any {
	m, _ := value.(map[string]any)
	return m
}

func recordString(record *neo4j.Record, key string) string {
	value, _ := record.Get(key)
	return asString(value)
}

func recordMap(record *neo4j.Record, key string) map[string]any {
	value, _ := record.Get(key)
	return asMap(value)
}

func nodeProps(value any) map[string]any {
	switch v := value.(type) {
	case dbtype.Node:
		return v.Props
	case map[string]any:
		return v
	default:
		return nil
	}
}
