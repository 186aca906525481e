package normalize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
)

const (
	defaultRelationAliasFile = "data/graphrag-relationship-alias.json"
	defaultRelationCacheFile = "data/graphrag-relationship-type-cache.json"
)

// RelationAliasEntry is one row of the relationship alias table. Type
// is accepted as a legacy spelling of Relation.
type RelationAliasEntry struct {
	Relation string   `json:"relation,omitempty"`
	Type     string   `json:"type,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
}

type relationCacheEntry struct {
	Relation  string `json:"relation"`
	Source    string `json:"source,omitempty"`
	DecidedAt string `json:"decidedAt,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type relationTypeClassification struct {
	Relation   string  `json:"relation" jsonschema:"enum=RelatedTo,enum=Mentions,enum=PartOf,enum=BelongsTo,enum=Uses,enum=BasedOn,enum=Produces,enum=CollaboratesWith,enum=CompetesWith,enum=Supports,enum=Opposes,enum=LocatedIn,enum=Leads,enum=Evaluates,enum=Compares"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// RelationshipTypeNormalizer canonicalizes relationship type labels
// into the closed relation vocabulary. Cache keys prefer the raw label;
// unlabeled edges fall back to the endpoint pair, then to a property
// digest. Edges with no usable key are classified but never cached.
type RelationshipTypeNormalizer struct {
	enabled   bool
	aliasPath string
	cachePath string
	client    ai.GraphAIClient
	provider  string
	model     string

	stats        Stats
	aliasEntries []RelationAliasEntry
	aliasMap     map[string]string
	cacheStore   map[string]relationCacheEntry
	cacheDirty   bool
	resolved     map[string]Decision
}

// NewRelationshipTypeNormalizerParams configures
// NewRelationshipTypeNormalizer. A nil Client disables the classifier
// tier.
type NewRelationshipTypeNormalizerParams struct {
	Root      string
	AliasPath string
	CachePath string
	Disabled  bool
	Client    ai.GraphAIClient
	Provider  string
	Model     string
}

// NewRelationshipTypeNormalizer loads the alias table and persistent
// cache. Missing side-files are treated as empty.
func NewRelationshipTypeNormalizer(params NewRelationshipTypeNormalizerParams) (*RelationshipTypeNormalizer, error) {
	n := &RelationshipTypeNormalizer{
		enabled:   !params.Disabled,
		aliasPath: util.ResolvePath(params.Root, params.AliasPath, defaultRelationAliasFile),
		cachePath: util.ResolvePath(params.Root, params.CachePath, defaultRelationCacheFile),
		client:    params.Client,
		provider:  params.Provider,
		model:     params.Model,

		aliasMap:   map[string]string{},
		cacheStore: map[string]relationCacheEntry{},
		resolved:   map[string]Decision{},
	}
	n.stats = newStats(n.enabled)

	var rawAliases []RelationAliasEntry
	if _, err := util.ReadJSONFile(n.aliasPath, &rawAliases); err != nil {
		return nil, err
	}
	for _, entry := range rawAliases {
		relation := strings.TrimSpace(entry.Relation)
		if relation == "" {
			relation = strings.TrimSpace(entry.Type)
		}
		aliases := append([]string{}, entry.Aliases...)
		if relation != "" {
			aliases = append([]string{relation}, aliases...)
		}
		if relation == "" && len(aliases) > 0 {
			relation = strings.TrimSpace(aliases[0])
		}
		if relation == "" {
			continue
		}
		n.aliasEntries = append(n.aliasEntries, RelationAliasEntry{Relation: relation, Aliases: aliases})
		for _, alias := range aliases {
			key := NormalizeLooseLabel(alias)
			if key == "" {
				continue
			}
			if _, exists := n.aliasMap[key]; !exists {
				n.aliasMap[key] = relation
			}
		}
	}

	cachePayload := map[string]relationCacheEntry{}
	if _, err := util.ReadJSONFile(n.cachePath, &cachePayload); err != nil {
		return nil, err
	}
	for key, value := range cachePayload {
		if key == "" || value.Relation == "" {
			continue
		}
		n.cacheStore[key] = value
		origin := value.Source
		if origin == "" {
			origin = SourceLLM
		}
		n.resolved[key] = Decision{
			Value:    value.Relation,
			Source:   SourceCache,
			Origin:   origin,
			Reason:   value.Reason,
			Provider: value.Provider,
			Model:    value.Model,
		}
	}
	n.stats.Cache.Size = len(n.cacheStore)

	return n, nil
}

// IsEnabled reports whether normalization is active.
func (n *RelationshipTypeNormalizer) IsEnabled() bool {
	return n.enabled
}

// describeRelationshipProperties flattens edge properties to
// "key=value" pairs, sorted for stable cache keys.
func describeRelationshipProperties(props map[string]any) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := props[key]
		switch v := value.(type) {
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			parts = append(parts, key+"="+strings.Join(items, "|"))
		default:
			parts = append(parts, key+"="+fmt.Sprint(value))
		}
	}
	return strings.Join(parts, ", ")
}

func refName(ref *graphstore.EntityRef) string {
	if ref == nil {
		return ""
	}
	if ref.Name != "" {
		return ref.Name
	}
	return ref.ID
}

// buildRelationCacheKey derives a stable cache key for an edge, or ""
// when nothing usable exists.
func buildRelationCacheKey(rel *graphstore.Relationship) string {
	if rel == nil {
		return ""
	}
	if label := NormalizeLooseLabel(rel.Type); label != "" {
		return "label:" + label
	}
	sourceKey := NormalizeEntityKey(refName(rel.Source))
	targetKey := NormalizeEntityKey(refName(rel.Target))
	if sourceKey != "" || targetKey != "" {
		if sourceKey == "" {
			sourceKey = "unknown"
		}
		if targetKey == "" {
			targetKey = "unknown"
		}
		return "pair:" + sourceKey + ">" + targetKey
	}
	if propsKey := NormalizeLooseLabel(describeRelationshipProperties(rel.Properties)); propsKey != "" {
		return "props:" + propsKey
	}
	return ""
}

// NormalizeAggregation rewrites relationship types in place. It
// returns the running total and updated counts; it never returns an
// error.
func (n *RelationshipTypeNormalizer) NormalizeAggregation(ctx context.Context, doc DocInfo, agg *graphstore.Aggregation) (total, updated int) {
	if !n.enabled || agg == nil {
		return 0, 0
	}
	contextText := BuildDocContext(doc)
	for _, rel := range agg.Relationships {
		if rel == nil {
			continue
		}
		n.applyRelation(ctx, rel, contextText)
	}
	return n.stats.Records.Total, n.stats.Records.Updated
}

func (n *RelationshipTypeNormalizer) applyRelation(ctx context.Context, rel *graphstore.Relationship, contextText string) {
	decision := n.resolveRelation(ctx, rel, contextText)

	n.stats.Records.Total++
	n.stats.Records.Relationships++
	n.stats.bumpSource(decision)
	if decision.Source == SourceFallback {
		addSample(&n.stats.Samples.Fallback, map[string]any{
			"source": refName(rel.Source),
			"target": refName(rel.Target),
			"reason": decision.Reason,
		})
	}

	next := decision.Value
	if next == "" {
		next = rel.Type
	}
	if next == "" {
		next = DefaultRelationType
	}
	if rel.Type != next {
		addSample(&n.stats.Samples.Updates, map[string]any{
			"source":   refName(rel.Source),
			"target":   refName(rel.Target),
			"previous": rel.Type,
			"next":     next,
			"via":      decision.Source,
		})
		rel.Type = next
		n.stats.Records.Updated++
	}
}

func (n *RelationshipTypeNormalizer) resolveRelation(ctx context.Context, rel *graphstore.Relationship, contextText string) Decision {
	cacheKey := buildRelationCacheKey(rel)

	if cacheKey != "" {
		if memo, ok := n.resolved[cacheKey]; ok {
			memo.Reused = true
			return memo
		}
	}

	if label := NormalizeLooseLabel(rel.Type); label != "" {
		if relation, ok := n.aliasMap[label]; ok {
			decision := Decision{
				Value:  relation,
				Source: SourceAlias,
				Reason: "matched-alias:" + rel.Type,
			}
			if cacheKey != "" {
				n.resolved[cacheKey] = decision
			}
			return decision
		}
	}

	if cacheKey != "" {
		if cached, ok := n.cacheStore[cacheKey]; ok {
			reason := cached.Reason
			if reason == "" {
				reason = "cache-hit"
			}
			decision := Decision{
				Value:    cached.Relation,
				Source:   SourceCache,
				Reason:   reason,
				Provider: cached.Provider,
				Model:    cached.Model,
			}
			n.resolved[cacheKey] = decision
			return decision
		}
	}

	if result, ok := n.classify(ctx, rel, contextText); ok {
		decision := Decision{
			Value:    result.relation,
			Source:   SourceLLM,
			Reason:   result.reason,
			Provider: n.provider,
			Model:    n.model,
		}
		if cacheKey != "" {
			n.resolved[cacheKey] = decision
			n.cacheStore[cacheKey] = relationCacheEntry{
				Relation:  decision.Value,
				Source:    SourceLLM,
				DecidedAt: time.Now().UTC().Format(time.RFC3339),
				Provider:  decision.Provider,
				Model:     decision.Model,
				Reason:    decision.Reason,
			}
			n.cacheDirty = true
			n.stats.Cache.Updated = true
			n.stats.Cache.Size = len(n.cacheStore)
			n.stats.Cache.Writes++
		}
		return decision
	}

	reason := n.stats.LLM.DisabledReason
	if reason == "" {
		reason = "llm-unavailable"
	}
	value := rel.Type
	if value == "" {
		value = DefaultRelationType
	}
	return Decision{
		Value:  value,
		Source: SourceFallback,
		Reason: reason,
	}
}

type classifiedRelation struct {
	relation string
	reason   string
}

func (n *RelationshipTypeNormalizer) classify(ctx context.Context, rel *graphstore.Relationship, contextText string) (classifiedRelation, bool) {
	if n.client == nil {
		if n.stats.LLM.DisabledReason == "" {
			n.stats.LLM.DisabledReason = "disabled"
		}
		return classifiedRelation{}, false
	}

	sourceName := refName(rel.Source)
	if sourceName == "" {
		sourceName = "未知源"
	}
	targetName := refName(rel.Target)
	if targetName == "" {
		targetName = "未知目标"
	}
	sourceType := "未知类型"
	if rel.Source != nil && rel.Source.Type != "" {
		sourceType = rel.Source.Type
	}
	targetType := "未知类型"
	if rel.Target != nil && rel.Target.Type != "" {
		targetType = rel.Target.Type
	}

	lines := []string{
		"你是知识图谱的关系类型归一化助手。",
		"请根据实体对与上下文，只能从下列关系列表中选择一个结果；若无法判断，请输出 RelatedTo：",
		formatChoices(RelationTypeChoices),
		"源实体：" + sourceName + "（" + sourceType + "）",
		"目标实体：" + targetName + "（" + targetType + "）",
	}
	if rel.Type != "" {
		lines = append(lines, "原始关系标签："+rel.Type)
	}
	if props := describeRelationshipProperties(rel.Properties); props != "" {
		lines = append(lines, "关系属性："+props)
	}
	if contextText != "" {
		lines = append(lines, "文档上下文："+contextText)
	}
	lines = append(lines, "请返回 JSON，字段包含 relation（上述列表之一）、confidence（0-1 之间）以及中文 reason。")

	n.stats.LLM.Attempts++
	response, err := util.RetryWithContext(ctx, classifierMaxTries, func(ctx context.Context) (relationTypeClassification, error) {
		var out relationTypeClassification
		err := n.client.GenerateCompletionWithFormat(
			ctx,
			"relationship_type_normalizer",
			"Pick the canonical relation type for a knowledge graph edge",
			strings.Join(lines, "\n"),
			&out,
			ai.WithModel(n.model),
		)
		return out, err
	})
	if err != nil {
		n.stats.LLM.Failures++
		n.stats.LLM.Errors = append(n.stats.LLM.Errors, err.Error())
		addSample(&n.stats.Samples.Failures, map[string]any{
			"source":  sourceName,
			"target":  targetName,
			"message": err.Error(),
		})
		logger.Debug("Relation type classification failed",
			"source", sourceName, "target", targetName, "err", err)
		return classifiedRelation{}, false
	}
	n.stats.LLM.Success++
	if n.stats.LLM.Provider == "" {
		n.stats.LLM.Provider = n.provider
		n.stats.LLM.Model = n.model
	}

	relation := response.Relation
	if !IsKnownRelationType(relation) {
		relation = DefaultRelationType
	}
	return classifiedRelation{relation: relation, reason: response.Reason}, true
}

// PersistCache writes the cache side-file when new decisions were
// added this run. Returns the path written, or "" when clean.
func (n *RelationshipTypeNormalizer) PersistCache() (string, error) {
	if !n.cacheDirty {
		return "", nil
	}
	if err := util.WriteJSONFile(n.cachePath, n.cacheStore); err != nil {
		return "", err
	}
	n.cacheDirty = false
	return n.cachePath, nil
}

// Summary returns run statistics with cache bookkeeping filled in.
func (n *RelationshipTypeNormalizer) Summary() Stats {
	out := n.stats
	out.Cache.Path = n.cachePath
	out.Cache.Size = len(n.cacheStore)
	return out
}
