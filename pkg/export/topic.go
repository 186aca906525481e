package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
	"github.com/lattice-docs/graphrag/pkg/retrieval"
)

// Export defaults. Entity and recommendation caps keep the rendered
// topic page readable.
const (
	DefaultOutputRoot  = "docs/graph"
	DefaultEntityLimit = 10
	DefaultTopNLimit   = 5
)

// Options select the document and shape the export.
type Options struct {
	DocID      string
	Topic      string
	Locale     string
	OutputRoot string
	Entities   []string
	DryRun     bool
	Pretty     bool
}

// EntitySummary aggregates mention statistics for one entity around
// the exported document.
type EntitySummary struct {
	Identity        string
	Node            retrieval.Node
	Count           int
	Confidence      float64
	AvgConfidence   float64
	StructureScores map[string]float64
}

// TopicEntityScore is one pagerank-bearing entity in the structure
// summary.
type TopicEntityScore struct {
	Name            string             `json:"name"`
	Type            string             `json:"type"`
	Pagerank        *float64           `json:"pagerank"`
	StructureScores map[string]float64 `json:"structure_scores"`
}

// StructureSummary reports document-level topology signals for the
// metadata sidecar. Missing signals stay null in JSON.
type StructureSummary struct {
	Score    *float64           `json:"score"`
	Doc      map[string]float64 `json:"doc"`
	Pagerank struct {
		Avg   *float64 `json:"avg"`
		Max   *float64 `json:"max"`
		Sum   *float64 `json:"sum"`
		Count int      `json:"count"`
	} `json:"pagerank"`
	Communities []retrieval.CommunityCount `json:"communities"`
	TopEntities []TopicEntityScore         `json:"top_entities"`
}

// MetadataEntity is one entity row in the metadata sidecar.
type MetadataEntity struct {
	Name            string             `json:"name"`
	Type            string             `json:"type"`
	Count           int                `json:"count"`
	AvgConfidence   float64            `json:"avg_confidence"`
	StructureScores map[string]float64 `json:"structure_scores"`
}

// MetadataDoc describes the exported document.
type MetadataDoc struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Locale      string `json:"locale,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
}

// Metadata is the machine-readable topic sidecar.
type Metadata struct {
	Doc             MetadataDoc          `json:"doc"`
	Categories      []string             `json:"categories"`
	Tags            []string             `json:"tags"`
	Entities        []MetadataEntity     `json:"entities"`
	Recommendations []retrieval.TopNItem `json:"recommendations"`
	Structure       StructureSummary     `json:"structure"`
	GeneratedAt     string               `json:"generated_at"`
}

// TopicExport is the in-memory result of one export run.
type TopicExport struct {
	Topic    string
	Dir      string
	Mermaid  string
	Context  string
	Metadata Metadata
}

func roundTo(value float64, digits int) float64 {
	factor := math.Pow10(digits)
	return math.Round(value*factor) / factor
}

func roundScoreMap(scores map[string]float64) map[string]float64 {
	rounded := make(map[string]float64, len(scores))
	for key, value := range scores {
		rounded[key] = roundTo(value, 6)
	}
	return rounded
}

var gnnDisplayLabel = map[string]string{
	"gnn_pagerank":         "PageRank",
	"gnn_labelPropagation": "社区",
	"gnn_community":        "社区",
}

func formatStructureScores(scores map[string]float64) string {
	if len(scores) == 0 {
		return ""
	}
	keys := make([]string, 0, len(scores))
	for key := range scores {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		label := gnnDisplayLabel[key]
		if label == "" {
			tokens := strings.Split(strings.TrimPrefix(key, "gnn_"), "_")
			for i, token := range tokens {
				if token != "" {
					tokens[i] = strings.ToUpper(token[:1]) + token[1:]
				}
			}
			label = strings.Join(tokens, "")
		}
		value := scores[key]
		formatted := fmt.Sprintf("%.3f", value)
		if value == math.Trunc(value) {
			formatted = fmt.Sprintf("%d", int64(value))
		}
		parts = append(parts, label+" "+formatted)
	}
	return strings.Join(parts, " / ")
}

// DeriveTopic slugifies the doc id into an output directory name when
// no explicit topic was given.
func DeriveTopic(opts Options) string {
	if opts.Topic != "" {
		return opts.Topic
	}
	if opts.DocID == "" {
		return "graph-topic"
	}
	return strings.NewReplacer("/", "-", "\\", "-").Replace(opts.DocID)
}

// BuildEntitySummary counts mentions of each entity from chunks that
// belong to the exported document, sorted by frequency then average
// confidence.
func BuildEntitySummary(subgraph *retrieval.Subgraph, docNode retrieval.Node) []EntitySummary {
	nodeByID := make(map[string]retrieval.Node, len(subgraph.Nodes))
	for _, node := range subgraph.Nodes {
		nodeByID[node.Identity] = node
	}

	chunkToDoc := map[string]string{}
	for _, edge := range subgraph.Edges {
		if edge.Type == "PART_OF" {
			chunkToDoc[edge.Source] = edge.Target
		}
	}

	type stat struct {
		count      int
		confidence float64
	}
	stats := map[string]*stat{}
	var order []string
	for _, edge := range subgraph.Edges {
		if edge.Type != "MENTIONS" {
			continue
		}
		if chunkToDoc[edge.Source] != docNode.Identity {
			continue
		}
		entry := stats[edge.Target]
		if entry == nil {
			entry = &stat{}
			stats[edge.Target] = entry
			order = append(order, edge.Target)
		}
		entry.count++
		if confidence, ok := toFloat(edge.Data["confidence"]); ok {
			entry.confidence += confidence
		}
	}

	entities := make([]EntitySummary, 0, len(order))
	for _, identity := range order {
		node, ok := nodeByID[identity]
		if !ok {
			continue
		}
		entry := stats[identity]
		avg := 0.0
		if entry.count > 0 && entry.confidence > 0 {
			avg = entry.confidence / float64(entry.count)
		}
		entities = append(entities, EntitySummary{
			Identity:        identity,
			Node:            node,
			Count:           entry.count,
			Confidence:      entry.confidence,
			AvgConfidence:   avg,
			StructureScores: retrieval.ExtractGNNScores(node.Data),
		})
	}

	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Count != entities[j].Count {
			return entities[i].Count > entities[j].Count
		}
		return entities[i].AvgConfidence > entities[j].AvgConfidence
	})
	return entities
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// ExtractCategories collects category and tag names attached to the
// exported document.
func ExtractCategories(subgraph *retrieval.Subgraph, docNode retrieval.Node) (categories, tags []string) {
	nodeByID := make(map[string]retrieval.Node, len(subgraph.Nodes))
	for _, node := range subgraph.Nodes {
		nodeByID[node.Identity] = node
	}
	seenCategory := map[string]struct{}{}
	seenTag := map[string]struct{}{}

	for _, edge := range subgraph.Edges {
		if edge.Source != docNode.Identity {
			continue
		}
		node, ok := nodeByID[edge.Target]
		if !ok {
			continue
		}
		name := nodeString(node.Data, "name", "slug")
		if name == "" {
			continue
		}
		switch {
		case edge.Type == "IN_CATEGORY" && hasLabel(node, "Category"):
			if _, dup := seenCategory[name]; !dup {
				seenCategory[name] = struct{}{}
				categories = append(categories, name)
			}
		case edge.Type == "HAS_TAG" && hasLabel(node, "Tag"):
			if _, dup := seenTag[name]; !dup {
				seenTag[name] = struct{}{}
				tags = append(tags, name)
			}
		}
	}
	return categories, tags
}

func hasLabel(node retrieval.Node, label string) bool {
	for _, candidate := range node.Labels {
		if candidate == label {
			return true
		}
	}
	return false
}

// BuildRelationships keeps RELATED edges whose endpoints both survive
// the entity cap.
func BuildRelationships(subgraph *retrieval.Subgraph, entityIdentities []string) []retrieval.Edge {
	kept := make(map[string]struct{}, len(entityIdentities))
	for _, identity := range entityIdentities {
		kept[identity] = struct{}{}
	}
	var relationships []retrieval.Edge
	for _, edge := range subgraph.Edges {
		if edge.Type != "RELATED" {
			continue
		}
		if _, ok := kept[edge.Source]; !ok {
			continue
		}
		if _, ok := kept[edge.Target]; !ok {
			continue
		}
		relationships = append(relationships, edge)
	}
	return relationships
}

// SummarizeStructure aggregates pagerank and community signals across
// the doc and its summarized entities. The inferred score prefers the
// doc's own pagerank, falling back to the entity average.
func SummarizeStructure(docNode retrieval.Node, entities []EntitySummary) StructureSummary {
	summary := StructureSummary{
		Doc:         roundScoreMap(retrieval.ExtractGNNScores(docNode.Data)),
		Communities: []retrieval.CommunityCount{},
		TopEntities: []TopicEntityScore{},
	}

	var pagerankValues []float64
	communityCounts := map[string]int{}
	var ranked []TopicEntityScore

	for _, entity := range entities {
		scores := entity.StructureScores
		if pagerank, ok := scores["gnn_pagerank"]; ok {
			pagerankValues = append(pagerankValues, pagerank)
			value := roundTo(pagerank, 6)
			entityType := nodeString(entity.Node.Data, "type")
			if entityType == "" {
				entityType = "Entity"
			}
			ranked = append(ranked, TopicEntityScore{
				Name:            nodeString(entity.Node.Data, "name", "id"),
				Type:            entityType,
				Pagerank:        &value,
				StructureScores: roundScoreMap(scores),
			})
		}
		community, ok := scores["gnn_community"]
		if !ok {
			community, ok = scores["gnn_labelPropagation"]
		}
		if ok {
			key := fmt.Sprintf("%v", community)
			communityCounts[key]++
		}
	}

	sum := 0.0
	max := 0.0
	for _, value := range pagerankValues {
		sum += value
		if value > max {
			max = value
		}
	}
	summary.Pagerank.Count = len(pagerankValues)
	if len(pagerankValues) > 0 {
		avg := roundTo(sum/float64(len(pagerankValues)), 6)
		maxRounded := roundTo(max, 6)
		sumRounded := roundTo(sum, 6)
		summary.Pagerank.Avg = &avg
		summary.Pagerank.Max = &maxRounded
		summary.Pagerank.Sum = &sumRounded
	}

	sort.SliceStable(ranked, func(i, j int) bool { return *ranked[i].Pagerank > *ranked[j].Pagerank })
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	summary.TopEntities = ranked

	for community, count := range communityCounts {
		summary.Communities = append(summary.Communities, retrieval.CommunityCount{Community: community, Count: count})
	}
	sort.Slice(summary.Communities, func(i, j int) bool {
		if summary.Communities[i].Count != summary.Communities[j].Count {
			return summary.Communities[i].Count > summary.Communities[j].Count
		}
		return summary.Communities[i].Community < summary.Communities[j].Community
	})

	if docRank, ok := summary.Doc["gnn_pagerank"]; ok {
		score := roundTo(docRank, 6)
		summary.Score = &score
	} else if summary.Pagerank.Avg != nil {
		score := *summary.Pagerank.Avg
		summary.Score = &score
	}

	return summary
}

// RenderContextMarkdown renders the human-readable topic page: doc
// header, embedded mermaid, structure metrics, entity table and
// recommended reading.
func RenderContextMarkdown(docNode retrieval.Node, entities []EntitySummary, recommendations []retrieval.TopNItem, mermaid string, categories []string, structure StructureSummary) string {
	title := nodeString(docNode.Data, "title", "id")
	updated := nodeString(docNode.Data, "updated_at", "updated")

	var lines []string
	lines = append(lines, "# "+title, "")
	lines = append(lines, "- 原始文档：`"+nodeString(docNode.Data, "id")+"`")
	if updated != "" {
		lines = append(lines, "- 最近更新："+updated)
	}
	if len(categories) > 0 {
		lines = append(lines, "- 分类："+strings.Join(categories, "、"))
	}
	lines = append(lines, "", "## 子图概览", "```mermaid", mermaid, "```", "")

	lines = append(lines, "## 结构化指标")
	if structure.Score != nil || structure.Pagerank.Avg != nil || len(structure.Communities) > 0 {
		if structure.Score != nil {
			lines = append(lines, fmt.Sprintf("- 综合结构得分：%.3f", *structure.Score))
		}
		if structure.Pagerank.Avg != nil {
			lines = append(lines, fmt.Sprintf("- 实体 PageRank 均值：%.3f", *structure.Pagerank.Avg))
		}
		if structure.Pagerank.Max != nil {
			lines = append(lines, fmt.Sprintf("- 实体 PageRank 峰值：%.3f", *structure.Pagerank.Max))
		}
		if len(structure.Communities) > 0 {
			communities := structure.Communities
			if len(communities) > 3 {
				communities = communities[:3]
			}
			parts := make([]string, 0, len(communities))
			for _, item := range communities {
				parts = append(parts, fmt.Sprintf("社区 %s（%d 个实体）", item.Community, item.Count))
			}
			lines = append(lines, "- 社区分布："+strings.Join(parts, "；"))
		}
		if len(structure.TopEntities) > 0 {
			parts := make([]string, 0, len(structure.TopEntities))
			for _, item := range structure.TopEntities {
				parts = append(parts, fmt.Sprintf("%s（%.3f）", item.Name, *item.Pagerank))
			}
			lines = append(lines, "- PageRank 最高实体："+strings.Join(parts, "、"))
		}
	} else {
		lines = append(lines, "- 暂无结构化指标")
	}
	lines = append(lines, "")

	lines = append(lines, "## 实体统计")
	lines = append(lines, "| 实体 | 类型 | 频次 | 平均置信度 | 结构指标 |")
	lines = append(lines, "| --- | --- | --- | --- | --- |")
	for _, entity := range entities {
		name := nodeString(entity.Node.Data, "name")
		if name == "" {
			name = entity.Node.Identity
		}
		entityType := nodeString(entity.Node.Data, "type")
		if entityType == "" {
			entityType = "Entity"
		}
		structureText := formatStructureScores(entity.StructureScores)
		if structureText == "" {
			structureText = "—"
		}
		lines = append(lines, fmt.Sprintf("| %s | %s | %d | %.3f | %s |", name, entityType, entity.Count, entity.AvgConfidence, structureText))
	}
	lines = append(lines, "")

	if len(recommendations) > 0 {
		lines = append(lines, "## 推荐阅读")
		for index, item := range recommendations {
			updatedAt := item.UpdatedAt
			if updatedAt == "" {
				updatedAt = "未知时间"
			}
			lines = append(lines, fmt.Sprintf("%d. **%s**（%s）", index+1, item.Title, updatedAt))
			if len(item.Reasons) > 0 {
				lines = append(lines, "   - "+strings.Join(item.Reasons, "；"))
			}
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

func writeExportFile(path, content string, dryRun bool) error {
	if dryRun {
		logger.Info("dry-run，跳过写入", "path", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	logger.Info("已写入导出文件", "path", path)
	return nil
}

// ExportTopic pulls the 2-hop neighborhood of one document, builds the
// mermaid flowchart, context markdown and metadata sidecar, and writes
// them under <outputRoot>/<topic>/.
func ExportTopic(ctx context.Context, store *graphstore.Client, root string, opts Options) (*TopicExport, error) {
	if opts.DocID == "" {
		return nil, errors.New("missing doc id")
	}
	topic := DeriveTopic(opts)
	outputRoot := opts.OutputRoot
	if outputRoot == "" {
		outputRoot = DefaultOutputRoot
	}
	topicDir := util.ResolvePath(root, filepath.Join(outputRoot, topic), "")

	subgraph, err := retrieval.FetchSubgraph(ctx, store, opts.DocID, retrieval.Constraints{
		EntityNames: opts.Entities,
		MaxHops:     2,
		NodeLimit:   200,
		EdgeLimit:   400,
	})
	if err != nil {
		return nil, err
	}

	var docNode *retrieval.Node
	for i := range subgraph.Nodes {
		if hasLabel(subgraph.Nodes[i], "Doc") {
			docNode = &subgraph.Nodes[i]
			break
		}
	}
	if docNode == nil {
		return nil, fmt.Errorf("未找到 Doc 节点：%s", opts.DocID)
	}

	entities := BuildEntitySummary(subgraph, *docNode)
	if len(entities) > DefaultEntityLimit {
		entities = entities[:DefaultEntityLimit]
	}
	categories, tags := ExtractCategories(subgraph, *docNode)

	identities := make([]string, 0, len(entities))
	for _, entity := range entities {
		identities = append(identities, entity.Identity)
	}
	relationships := BuildRelationships(subgraph, identities)

	mermaid := RenderMermaid(*docNode, entities, relationships, categories, tags)
	structure := SummarizeStructure(*docNode, entities)

	recommendedEntities := opts.Entities
	if len(recommendedEntities) == 0 {
		for _, entity := range entities {
			if name := nodeString(entity.Node.Data, "name"); name != "" {
				recommendedEntities = append(recommendedEntities, name)
			}
			if len(recommendedEntities) == 5 {
				break
			}
		}
	}

	recommendations := []retrieval.TopNItem{}
	if len(recommendedEntities) > 0 {
		locale := opts.Locale
		if locale == "" {
			locale = nodeString(docNode.Data, "locale")
		}
		category := ""
		if len(categories) > 0 {
			category = categories[0]
		}
		topn, err := retrieval.FetchTopN(ctx, store, retrieval.TopNParams{
			EntityNames: recommendedEntities,
			Category:    category,
			Language:    locale,
			Limit:       DefaultTopNLimit + 1,
		})
		if err != nil {
			return nil, err
		}
		docID := nodeString(docNode.Data, "id")
		for _, item := range topn.Items {
			if item.DocID == docID {
				continue
			}
			recommendations = append(recommendations, item)
			if len(recommendations) == DefaultTopNLimit {
				break
			}
		}
	}

	metadataEntities := make([]MetadataEntity, 0, len(entities))
	for _, entity := range entities {
		entityType := nodeString(entity.Node.Data, "type")
		if entityType == "" {
			entityType = "Entity"
		}
		metadataEntities = append(metadataEntities, MetadataEntity{
			Name:            nodeString(entity.Node.Data, "name"),
			Type:            entityType,
			Count:           entity.Count,
			AvgConfidence:   roundTo(entity.AvgConfidence, 3),
			StructureScores: roundScoreMap(entity.StructureScores),
		})
	}

	metadata := Metadata{
		Doc: MetadataDoc{
			ID:          nodeString(docNode.Data, "id"),
			Title:       nodeString(docNode.Data, "title"),
			Description: nodeString(docNode.Data, "description"),
			Locale:      nodeString(docNode.Data, "locale"),
			UpdatedAt:   nodeString(docNode.Data, "updated_at", "updated"),
			SourcePath:  nodeString(docNode.Data, "source_path"),
		},
		Categories:      emptyIfNil(categories),
		Tags:            emptyIfNil(tags),
		Entities:        metadataEntities,
		Recommendations: recommendations,
		Structure:       structure,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	contextMarkdown := RenderContextMarkdown(*docNode, entities, recommendations, mermaid, categories, structure)

	var metadataJSON []byte
	if opts.Pretty {
		metadataJSON, err = json.MarshalIndent(metadata, "", "  ")
	} else {
		metadataJSON, err = json.Marshal(metadata)
	}
	if err != nil {
		return nil, err
	}

	if err := writeExportFile(filepath.Join(topicDir, "subgraph.mmd"), mermaid+"\n", opts.DryRun); err != nil {
		return nil, err
	}
	if err := writeExportFile(filepath.Join(topicDir, "context.md"), contextMarkdown+"\n", opts.DryRun); err != nil {
		return nil, err
	}
	if err := writeExportFile(filepath.Join(topicDir, "metadata.json"), string(metadataJSON)+"\n", opts.DryRun); err != nil {
		return nil, err
	}

	return &TopicExport{
		Topic:    topic,
		Dir:      topicDir,
		Mermaid:  mermaid,
		Context:  contextMarkdown,
		Metadata: metadata,
	}, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
