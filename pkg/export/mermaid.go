// Package export renders retrieved subgraphs as publishable topic
// artifacts: a mermaid flowchart, a context markdown page and a
// metadata sidecar. It also parses rendered mermaid back into a
// structured graph for API consumers.
package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lattice-docs/graphrag/pkg/retrieval"
)

var entityClassMap = map[string]string{
	"Person":       "entityPerson",
	"Organization": "entityOrg",
	"Location":     "entityLocation",
	"Concept":      "entityConcept",
}

var mermaidIDStrip = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeLabel(text string) string {
	return strings.ReplaceAll(text, `"`, `\"`)
}

func mermaidID(identity, prefix string) string {
	if prefix == "" {
		prefix = "n"
	}
	return mermaidIDStrip.ReplaceAllString(prefix+identity, "_")
}

func nodeString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := data[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// RenderMermaid draws the doc-centered subgraph as a mermaid LR
// flowchart: categories and tags fan out from the doc, mention edges
// carry frequency labels, entity-to-entity relations are dotted.
func RenderMermaid(docNode retrieval.Node, entities []EntitySummary, relationships []retrieval.Edge, categories, tags []string) string {
	lines := []string{"graph LR"}
	docID := mermaidID(docNode.Identity, "doc")
	docLabel := nodeString(docNode.Data, "title", "id")
	if docLabel == "" {
		docLabel = "Doc"
	}
	lines = append(lines, fmt.Sprintf(`  %s["Doc｜%s"]`, docID, sanitizeLabel(docLabel)))
	classLines := []string{fmt.Sprintf("  class %s docNode;", docID)}

	for index, category := range capStrings(categories, 5) {
		categoryID := mermaidID(fmt.Sprintf("%s_%s", docNode.Identity, category), fmt.Sprintf("cat%d", index))
		lines = append(lines, fmt.Sprintf(`  %s["Category｜%s"]`, categoryID, sanitizeLabel(category)))
		lines = append(lines, fmt.Sprintf("  %s --> %s", docID, categoryID))
		classLines = append(classLines, fmt.Sprintf("  class %s categoryNode;", categoryID))
	}

	for index, tag := range capStrings(tags, 8) {
		tagID := mermaidID(fmt.Sprintf("%s_%s", docNode.Identity, tag), fmt.Sprintf("tag%d", index))
		lines = append(lines, fmt.Sprintf(`  %s["Tag｜%s"]`, tagID, sanitizeLabel(tag)))
		lines = append(lines, fmt.Sprintf("  %s --> %s", docID, tagID))
		classLines = append(classLines, fmt.Sprintf("  class %s tagNode;", tagID))
	}

	// mermaid numbers links in declaration order, so the category and
	// tag edges above occupy the first indices.
	linkIndex := len(capStrings(categories, 5)) + len(capStrings(tags, 8))
	var docEntityLinks []int

	for _, entity := range entities {
		node := entity.Node
		entityID := mermaidID(node.Identity, "ent")
		entityType := nodeString(node.Data, "type")
		if entityType == "" {
			entityType = "Entity"
		}
		name := nodeString(node.Data, "name", "id")
		lines = append(lines, fmt.Sprintf(`  %s["%s"]`, entityID, sanitizeLabel(entityType+"｜"+name)))
		lines = append(lines, fmt.Sprintf("  %s -- 频次 %d --> %s", docID, entity.Count, entityID))
		docEntityLinks = append(docEntityLinks, linkIndex)
		linkIndex++

		className := entityClassMap[entityType]
		if className == "" {
			className = "entityNode"
		}
		classLines = append(classLines, fmt.Sprintf("  class %s %s;", entityID, className))
	}

	for _, edge := range relationships {
		sourceID := mermaidID(edge.Source, "ent")
		targetID := mermaidID(edge.Target, "ent")
		weight := ""
		if value, ok := edge.Data["weight"]; ok && value != nil {
			weight = fmt.Sprintf(" (%v)", value)
		}
		lines = append(lines, fmt.Sprintf("  %s -. 关联%s .-> %s", sourceID, weight, targetID))
		linkIndex++
	}

	lines = append(lines, classLines...)
	lines = append(lines,
		"  classDef docNode fill:#1f6feb,stroke:#0d419d,color:#ffffff,font-weight:600;",
		"  classDef categoryNode fill:#0d1117,stroke:#30363d,color:#f0f6fc;",
		"  classDef tagNode fill:#161b22,stroke:#30363d,color:#79c0ff;",
		"  classDef entityNode fill:#1b4d3e,stroke:#2ea043,color:#ffffff;",
		"  classDef entityPerson fill:#653c9d,stroke:#8957e5,color:#ffffff;",
		"  classDef entityOrg fill:#1158c7,stroke:#1f6feb,color:#ffffff;",
		"  classDef entityLocation fill:#7c4400,stroke:#b76100,color:#ffffff;",
		"  classDef entityConcept fill:#445760,stroke:#6e7781,color:#ffffff;",
	)

	for _, index := range docEntityLinks {
		lines = append(lines, fmt.Sprintf("  linkStyle %d stroke-width:2px,stroke:#58a6ff;", index))
	}

	return strings.Join(lines, "\n")
}

func capStrings(values []string, limit int) []string {
	if len(values) > limit {
		return values[:limit]
	}
	return values
}

// MermaidNode is one parsed flowchart node.
type MermaidNode struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	Type      string `json:"type,omitempty"`
	RawLabel  string `json:"rawLabel,omitempty"`
	ClassName string `json:"className,omitempty"`
}

// MermaidEdge is one parsed flowchart edge.
type MermaidEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
	Raw   string `json:"raw"`
}

// MermaidGraph is the structured form of a rendered flowchart.
type MermaidGraph struct {
	Raw   string        `json:"raw"`
	Nodes []MermaidNode `json:"nodes"`
	Edges []MermaidEdge `json:"edges"`
}

var (
	mermaidClassRe      = regexp.MustCompile(`^class\s+([A-Za-z0-9_]+)\s+([A-Za-z0-9_-]+);?`)
	mermaidLabelEdgeRe  = regexp.MustCompile(`^([A-Za-z0-9_]+)\s*--\s*([^>-]+?)\s*-->\s*([A-Za-z0-9_]+)`)
	mermaidDottedEdgeRe = regexp.MustCompile(`^([A-Za-z0-9_]+)\s*-\.\s*(.*?)\s*\.->\s*([A-Za-z0-9_]+)`)
	mermaidEdgeRe       = regexp.MustCompile(`^([A-Za-z0-9_]+)\s*[-.]+>\s*([A-Za-z0-9_]+)`)
	mermaidNodeRe       = regexp.MustCompile(`^([A-Za-z0-9_]+)\s*(?:\[\s*"?([^"]+?)"?\s*\]|\(\(\s*"?([^"]+?)"?\s*\)\)|\(\s*"?([^"]+?)"?\s*\)|\{\s*"?([^"]+?)"?\s*\})`)
	mermaidStandaloneRe = regexp.MustCompile(`^([A-Za-z0-9_]+)`)
	mermaidLabelSplitRe = regexp.MustCompile(`｜|\|`)
)

func splitMermaidLabel(raw string) (label, nodeType string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}
	parts := mermaidLabelSplitRe.Split(trimmed, -1)
	if len(parts) > 1 {
		return strings.TrimSpace(strings.Join(parts[1:], "｜")), strings.TrimSpace(parts[0])
	}
	return trimmed, ""
}

// ParseMermaid recovers nodes, edges and class assignments from a
// `graph LR` flowchart. Directives and unknown lines are ignored, so
// the parser tolerates hand-edited exports.
func ParseMermaid(content string) *MermaidGraph {
	graph := &MermaidGraph{Raw: content, Nodes: []MermaidNode{}, Edges: []MermaidEdge{}}

	nodeIndex := map[string]int{}
	classMap := map[string]string{}

	ensureNode := func(id string) *MermaidNode {
		if id == "" {
			return nil
		}
		if idx, ok := nodeIndex[id]; ok {
			return &graph.Nodes[idx]
		}
		graph.Nodes = append(graph.Nodes, MermaidNode{ID: id})
		nodeIndex[id] = len(graph.Nodes) - 1
		return &graph.Nodes[len(graph.Nodes)-1]
	}

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "graph ") {
			continue
		}
		if strings.HasPrefix(line, "classDef ") || strings.HasPrefix(line, "linkStyle ") {
			continue
		}

		if m := mermaidClassRe.FindStringSubmatch(line); m != nil {
			classMap[m[1]] = m[2]
			continue
		}
		if m := mermaidLabelEdgeRe.FindStringSubmatch(line); m != nil {
			ensureNode(m[1])
			ensureNode(m[3])
			graph.Edges = append(graph.Edges, MermaidEdge{From: m[1], To: m[3], Label: strings.TrimSpace(m[2]), Raw: line})
			continue
		}
		if m := mermaidDottedEdgeRe.FindStringSubmatch(line); m != nil {
			ensureNode(m[1])
			ensureNode(m[3])
			graph.Edges = append(graph.Edges, MermaidEdge{From: m[1], To: m[3], Label: strings.TrimSpace(m[2]), Raw: line})
			continue
		}
		if m := mermaidEdgeRe.FindStringSubmatch(line); m != nil {
			ensureNode(m[1])
			ensureNode(m[2])
			graph.Edges = append(graph.Edges, MermaidEdge{From: m[1], To: m[2], Raw: line})
			continue
		}
		if m := mermaidNodeRe.FindStringSubmatch(line); m != nil {
			rawLabel := ""
			for _, candidate := range m[2:] {
				if candidate != "" {
					rawLabel = candidate
					break
				}
			}
			label, nodeType := splitMermaidLabel(rawLabel)
			node := ensureNode(m[1])
			if node != nil {
				node.RawLabel = rawLabel
				node.Label = label
				node.Type = nodeType
			}
			continue
		}
		if m := mermaidStandaloneRe.FindStringSubmatch(line); m != nil {
			ensureNode(m[1])
		}
	}

	for id, className := range classMap {
		if idx, ok := nodeIndex[id]; ok {
			graph.Nodes[idx].ClassName = className
		} else {
			node := ensureNode(id)
			if node != nil {
				node.ClassName = className
			}
		}
	}

	return graph
}
