package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/normalize"
)

const extractionPrompt = `从以下文本中提取知识图谱。请识别出所有的实体作为节点，以及它们之间的关系。
确保节点具有唯一的ID（通常是实体的名称）和类型（例如：人、地点、组织、概念）。
如果实体或关系有额外的属性（例如日期、数量、职位、事件描述等），请将它们提取到'properties'字段中。
特别地，如果关系是双向的（例如“合作”“同事”“配偶”），请为每个方向都生成一条关系边（例如 A-合作->B 和 B-合作->A）。
文本: {text}`

type graphPropertyEntry struct {
	Key   string `json:"key" jsonschema_description:"属性名称"`
	Value string `json:"value" jsonschema_description:"属性值，如需复杂结构请返回 JSON 字符串"`
}

type graphNode struct {
	ID         string               `json:"id" jsonschema_description:"实体的唯一标识，通常为名称"`
	Type       string               `json:"type,omitempty" jsonschema_description:"实体类型，例如 人物、组织、概念"`
	Properties []graphPropertyEntry `json:"properties,omitempty" jsonschema_description:"额外的属性列表，每项包含 key/value 键值对"`
}

type graphRelationship struct {
	Source     graphNode            `json:"source"`
	Target     graphNode            `json:"target"`
	Type       string               `json:"type,omitempty" jsonschema_description:"关系类型，例如 关联、合作、竞争"`
	Properties []graphPropertyEntry `json:"properties,omitempty"`
}

type graphEntityRoot struct {
	Name string `json:"name" jsonschema_description:"实体名称"`
	Type string `json:"type,omitempty" jsonschema_description:"实体类型"`
	Key  string `json:"key,omitempty" jsonschema_description:"用于归一化或分组的键"`
}

type knowledgeGraph struct {
	Nodes          []graphNode         `json:"nodes" jsonschema_description:"实体节点列表"`
	Relationships  []graphRelationship `json:"relationships" jsonschema_description:"实体之间的关系列表"`
	DocEntityRoots []graphEntityRoot   `json:"doc_entity_roots,omitempty" jsonschema_description:"文档级实体摘要，用于构建 Doc -> Entity 关系"`
}

var structureKeywords = map[string]struct{}{
	"chunk": {}, "section": {}, "paragraph": {}, "chapter": {}, "part": {},
	"page": {}, "step": {}, "item": {}, "lesson": {}, "segment": {},
}

var (
	structurePatternEN = regexp.MustCompile(`(?i)^(?:chunk|section|paragraph|chapter|part|page|step|item|lesson|segment)[\s\-_#]*(?:\d+|[ivxlcdm]+)$`)
	structurePatternCN = regexp.MustCompile(`第\s*[零一二三四五六七八九十百千\d]+(?:章节|部分|篇|节|段|章)$`)
)

func isStructureNode(id, typeLabel string) bool {
	if structurePatternEN.MatchString(id) || structurePatternCN.MatchString(id) {
		return true
	}
	if _, ok := structureKeywords[strings.ToLower(id)]; ok {
		return true
	}
	if typeLabel != "" {
		if _, ok := structureKeywords[strings.ToLower(typeLabel)]; ok {
			return true
		}
	}
	return false
}

// coerceProperties flattens the key/value entry list into a map,
// JSON-parsing string values where possible.
func coerceProperties(entries []graphPropertyEntry) map[string]any {
	result := map[string]any{}
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		trimmed := strings.TrimSpace(entry.Value)
		if trimmed == "" {
			result[key] = ""
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			result[key] = parsed
		} else {
			result[key] = trimmed
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// extractTypeFromProperties pulls a "type" property into the node type
// when the model tucked it away there.
func extractTypeFromProperties(properties map[string]any, fallbackType string) (string, map[string]any) {
	nextType := strings.TrimSpace(fallbackType)
	if properties == nil {
		return nextType, nil
	}
	if raw, ok := properties["type"].(string); ok {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			nextType = trimmed
			delete(properties, "type")
			if len(properties) == 0 {
				properties = nil
			}
		}
	}
	return nextType, properties
}

type sanitizedNode struct {
	id         string
	typeLabel  string
	properties map[string]any
}

type sanitizedRelationship struct {
	source     *sanitizedNode
	target     *sanitizedNode
	typeLabel  string
	properties map[string]any
}

type sanitizedGraph struct {
	nodes         []*sanitizedNode
	relationships []sanitizedRelationship
	roots         []*graphstore.DocEntityRoot
	byID          map[string]*sanitizedNode
}

// sanitizeGraph drops structural-heading nodes, deduplicates entities
// by normalized key with type-priority merge, remaps relationship
// endpoints through the alias map and caps output sizes.
func sanitizeGraph(graph *knowledgeGraph, maxNodes, maxRelationships int) *sanitizedGraph {
	out := &sanitizedGraph{byID: map[string]*sanitizedNode{}}
	aliasMap := map[string]string{}
	canonicalByKey := map[string]*sanitizedNode{}
	var rootKeys []string

	for _, node := range graph.Nodes {
		nodeID := strings.TrimSpace(node.ID)
		if nodeID == "" || strings.ContainsAny(nodeID, "#/") {
			continue
		}
		initialType := strings.TrimSpace(node.Type)
		if isStructureNode(nodeID, initialType) {
			continue
		}
		normalizedKey := normalize.NormalizeEntityKey(nodeID)
		if normalizedKey == "" {
			continue
		}

		properties := coerceProperties(node.Properties)
		nodeType, properties := extractTypeFromProperties(properties, initialType)
		nodeType = normalize.NormalizeTypeLabelOrDefault(nodeType)

		if existing, ok := canonicalByKey[normalizedKey]; ok {
			aliasMap[nodeID] = existing.id
			existing.typeLabel = normalize.SelectType(existing.typeLabel, nodeType)
			continue
		}

		canonical := &sanitizedNode{id: nodeID, typeLabel: nodeType, properties: properties}
		canonicalByKey[normalizedKey] = canonical
		out.byID[nodeID] = canonical
		aliasMap[nodeID] = nodeID
		out.nodes = append(out.nodes, canonical)
		rootKeys = append(rootKeys, normalizedKey)

		if len(out.nodes) >= maxNodes {
			break
		}
	}

	for _, rel := range graph.Relationships {
		sourceID := rel.Source.ID
		if mapped, ok := aliasMap[sourceID]; ok {
			sourceID = mapped
		}
		targetID := rel.Target.ID
		if mapped, ok := aliasMap[targetID]; ok {
			targetID = mapped
		}
		sourceNode, sourceOK := out.byID[sourceID]
		targetNode, targetOK := out.byID[targetID]
		if !sourceOK || !targetOK {
			continue
		}

		relType := strings.TrimSpace(rel.Type)
		if relType == "" {
			relType = "RELATED"
		}
		relProps := coerceProperties(rel.Properties)
		_, relProps = extractTypeFromProperties(relProps, "")

		out.relationships = append(out.relationships, sanitizedRelationship{
			source:     sourceNode,
			target:     targetNode,
			typeLabel:  relType,
			properties: relProps,
		})

		if len(out.relationships) >= maxRelationships {
			break
		}
	}

	for _, key := range rootKeys {
		node := canonicalByKey[key]
		out.roots = append(out.roots, &graphstore.DocEntityRoot{
			Name: node.id,
			Type: node.typeLabel,
			Key:  key,
		})
	}

	return out
}

// LLMExtractor builds knowledge graphs with a schema-constrained model
// call, then grounds mentions back into chunk text by substring search.
type LLMExtractor struct {
	client ai.GraphAIClient
	model  string

	maxDocChars        int
	maxMentionsPerNode int
	maxNodes           int
	maxRelationships   int
	backoff            util.BackoffParams
}

// NewLLMExtractor wires an extractor around a model client. An empty
// model falls back to the client default.
func NewLLMExtractor(client ai.GraphAIClient, model string) *LLMExtractor {
	return &LLMExtractor{
		client:             client,
		model:              model,
		maxDocChars:        util.GetEnvInt("GRAPHRAG_EXTRACTOR_MAX_DOC_CHARS", 12000),
		maxMentionsPerNode: util.GetEnvInt("GRAPHRAG_EXTRACTOR_MAX_MENTIONS_PER_NODE", 3),
		maxNodes:           util.GetEnvInt("GRAPHRAG_MAX_GRAPH_NODES", 50),
		maxRelationships:   util.GetEnvInt("GRAPHRAG_MAX_GRAPH_RELATIONSHIPS", 100),
		backoff:            util.DefaultBackoff,
	}
}

func (e *LLMExtractor) buildDocText(doc *NormalizedDoc) (string, bool) {
	var parts []string
	remaining := e.maxDocChars
	truncated := false

	for _, chunk := range doc.Chunks {
		trimmed := strings.TrimSpace(chunk.Text)
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if remaining <= 0 {
			truncated = true
			break
		}
		if len(runes) > remaining {
			runes = runes[:remaining]
			truncated = true
		}
		parts = append(parts, string(runes))
		remaining -= len(runes)
		if remaining <= 0 {
			truncated = true
			break
		}
	}

	return strings.Join(parts, "\n\n"), truncated
}

func (e *LLMExtractor) buildMentions(doc *NormalizedDoc, nodes []*sanitizedNode) []*graphstore.Mention {
	mentions := []*graphstore.Mention{}
	for _, node := range nodes {
		needle := strings.ToLower(node.id)
		count := 0
		for _, chunk := range doc.Chunks {
			if count >= e.maxMentionsPerNode {
				break
			}
			if chunk.Text == "" {
				continue
			}
			index := strings.Index(strings.ToLower(chunk.Text), needle)
			if index < 0 {
				continue
			}

			runes := []rune(chunk.Text)
			runeIndex := len([]rune(chunk.Text[:index]))
			start := runeIndex - 40
			if start < 0 {
				start = 0
			}
			end := runeIndex + len([]rune(node.id)) + 40
			if end > len(runes) {
				end = len(runes)
			}

			mentions = append(mentions, &graphstore.Mention{
				ChunkID:    chunk.ID,
				Entity:     graphstore.EntityRef{Name: node.id, Type: node.typeLabel},
				Confidence: 0.75,
				Snippet:    string(runes[start:end]),
			})
			count++
		}
	}
	return mentions
}

// Extract runs one model call per document over the concatenated chunk
// text, retrying with backoff on transient model errors.
func (e *LLMExtractor) Extract(ctx context.Context, doc *NormalizedDoc) (*graphstore.Aggregation, error) {
	agg := &graphstore.Aggregation{
		Entities:       []*graphstore.Entity{},
		Relationships:  []*graphstore.Relationship{},
		Mentions:       []*graphstore.Mention{},
		DocEntityRoots: []*graphstore.DocEntityRoot{},
	}

	text, truncated := e.buildDocText(doc)
	if text == "" {
		agg.Diagnostics = append(agg.Diagnostics, graphstore.Diagnostic{
			Level:   "warning",
			Message: "文档内容为空，跳过实体提取",
		})
		return agg, nil
	}

	prompt := strings.Replace(extractionPrompt, "{text}", text, 1)

	graph, err := util.RetryBackoff(ctx, e.backoff, func(ctx context.Context) (*knowledgeGraph, error) {
		var result knowledgeGraph
		opts := []ai.GenerateOption{ai.WithTemperature(0)}
		if e.model != "" {
			opts = append(opts, ai.WithModel(e.model))
		}
		err := e.client.GenerateCompletionWithFormat(
			ctx,
			"build_knowledge_graph",
			"知识图谱结构化结果",
			prompt,
			&result,
			opts...,
		)
		if err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge graph extraction: %w", err)
	}

	sanitized := sanitizeGraph(graph, e.maxNodes, e.maxRelationships)

	for _, node := range sanitized.nodes {
		agg.Entities = append(agg.Entities, &graphstore.Entity{
			Name:       node.id,
			Type:       node.typeLabel,
			Salience:   1.0,
			Properties: node.properties,
		})
	}

	for _, rel := range sanitized.relationships {
		agg.Relationships = append(agg.Relationships, &graphstore.Relationship{
			Source:     &graphstore.EntityRef{Name: rel.source.id, Type: rel.source.typeLabel},
			Target:     &graphstore.EntityRef{Name: rel.target.id, Type: rel.target.typeLabel},
			Type:       rel.typeLabel,
			Weight:     1.0,
			Properties: rel.properties,
		})
	}

	agg.Mentions = e.buildMentions(doc, sanitized.nodes)
	agg.DocEntityRoots = sanitized.roots

	agg.Diagnostics = append(agg.Diagnostics, graphstore.Diagnostic{
		Level:   "info",
		Message: fmt.Sprintf("模型识别到 %d 个实体，%d 条关系", len(agg.Entities), len(agg.Relationships)),
	})
	if truncated {
		agg.Diagnostics = append(agg.Diagnostics, graphstore.Diagnostic{
			Level:   "warning",
			Message: fmt.Sprintf("文档超过 %d 字符，仅截取首段用于提取", e.maxDocChars),
		})
	}

	return agg, nil
}
