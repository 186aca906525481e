package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/lattice-docs/graphrag/pkg/graphstore"
)

// Path length bounds in RELATED hops.
const (
	DefaultPathLength = 4
	PathLengthCap     = 8
)

// PathResult is the shortest RELATED chain between two entities. A pair
// with no connection yields empty node and edge sets, not an error.
type PathResult struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Length int    `json:"length"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// FetchShortestPath finds the shortest undirected RELATED path between
// two entity names, bounded by maxLength hops.
func FetchShortestPath(ctx context.Context, store *graphstore.Client, source, target string, maxLength int) (*PathResult, error) {
	if source == "" || target == "" {
		return nil, errors.New("missing source or target entity name")
	}
	maxLength = clamp(maxLength, DefaultPathLength, 1, PathLengthCap)

	query := fmt.Sprintf(`
	  MATCH (src:Entity {name: $source}), (dst:Entity {name: $target})
	  MATCH path = shortestPath((src)-[:RELATED*..%d]-(dst))
	  RETURN [node IN nodes(path) |
	           {identity: toString(id(node)), labels: labels(node), data: node { .* }}] AS nodes,
	         [rel IN relationships(path) |
	           {identity: toString(id(rel)), source: toString(id(startNode(rel))),
	            target: toString(id(endNode(rel))), type: type(rel), data: rel { .* }}] AS edges,
	         length(path) AS length
	  LIMIT 1`, maxLength)

	session := store.ReadSession(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{
		"source": source,
		"target": target,
	})
	if err != nil {
		return nil, fmt.Errorf("shortest path query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	out := &PathResult{Source: source, Target: target, Nodes: []Node{}, Edges: []Edge{}}
	if len(records) == 0 {
		return out, nil
	}

	record := records[0]
	if raw, ok := record.Get("nodes"); ok {
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				out.Nodes = append(out.Nodes, Node{
					Identity: asString(m["identity"]),
					Labels:   toStringSlice(m["labels"]),
					Data:     asMap(m["data"]),
				})
			}
		}
	}
	if raw, ok := record.Get("edges"); ok {
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				out.Edges = append(out.Edges, Edge{
					Identity: asString(m["identity"]),
					Source:   asString(m["source"]),
					Target:   asString(m["target"]),
					Type:     asString(m["type"]),
					Data:     asMap(m["data"]),
				})
			}
		}
	}
	if raw, ok := record.Get("length"); ok {
		out.Length = asInt(raw)
	}
	return out, nil
}
