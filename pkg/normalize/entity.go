package normalize

import (
	"context"
	"strings"
	"time"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
)

const (
	defaultEntityAliasFile = "data/graphrag-entity-alias.json"
	defaultEntityCacheFile = "data/graphrag-entity-type-cache.json"
)

// classifierMaxTries bounds the in-call retry of one classification
// request. Exhausted retries count as a single failure for the record.
const classifierMaxTries = 2

// EntityAliasEntry is one row of the curated entity alias table. Every
// alias (and the canonical name itself) maps to the entry's type.
type EntityAliasEntry struct {
	Type      string   `json:"type,omitempty"`
	Canonical string   `json:"canonical,omitempty"`
	Aliases   []string `json:"aliases,omitempty"`
}

type entityCacheEntry struct {
	Type      string `json:"type"`
	Source    string `json:"source,omitempty"`
	DecidedAt string `json:"decidedAt,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type entityAliasDecision struct {
	entityType string
	canonical  string
}

type entityTypeClassification struct {
	Type       string  `json:"type" jsonschema:"enum=Person,enum=Organization,enum=Event,enum=Paper,enum=Technology,enum=ResearchDirection,enum=Concept,enum=Product,enum=Tool,enum=Domain,enum=Framework,enum=Language,enum=Dataset,enum=Metric,enum=Project,enum=Service"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// EntityTypeNormalizer canonicalizes entity type labels. Resolution
// order per name: in-run memo, alias table, persistent cache, model
// classifier, fallback to the original type.
type EntityTypeNormalizer struct {
	enabled   bool
	aliasPath string
	cachePath string
	client    ai.GraphAIClient
	provider  string
	model     string

	stats        Stats
	aliasEntries []EntityAliasEntry
	aliasMap     map[string]entityAliasDecision
	cacheStore   map[string]entityCacheEntry
	cacheDirty   bool
	resolved     map[string]Decision
}

// NewEntityTypeNormalizerParams configures NewEntityTypeNormalizer.
// A nil Client disables the classifier tier; alias and cache tiers
// still apply.
type NewEntityTypeNormalizerParams struct {
	Root      string
	AliasPath string
	CachePath string
	Disabled  bool
	Client    ai.GraphAIClient
	Provider  string
	Model     string
}

// NewEntityTypeNormalizer loads the alias table and persistent cache.
// Missing side-files are treated as empty.
func NewEntityTypeNormalizer(params NewEntityTypeNormalizerParams) (*EntityTypeNormalizer, error) {
	n := &EntityTypeNormalizer{
		enabled:   !params.Disabled,
		aliasPath: util.ResolvePath(params.Root, params.AliasPath, defaultEntityAliasFile),
		cachePath: util.ResolvePath(params.Root, params.CachePath, defaultEntityCacheFile),
		client:    params.Client,
		provider:  params.Provider,
		model:     params.Model,

		aliasMap:   map[string]entityAliasDecision{},
		cacheStore: map[string]entityCacheEntry{},
		resolved:   map[string]Decision{},
	}
	n.stats = newStats(n.enabled)

	var rawAliases []EntityAliasEntry
	if _, err := util.ReadJSONFile(n.aliasPath, &rawAliases); err != nil {
		return nil, err
	}
	n.aliasEntries = coerceEntityAliasEntries(rawAliases)
	for _, entry := range n.aliasEntries {
		for _, alias := range entry.Aliases {
			key := NormalizeEntityKey(alias)
			if key == "" {
				continue
			}
			if _, exists := n.aliasMap[key]; !exists {
				n.aliasMap[key] = entityAliasDecision{entityType: entry.Type, canonical: entry.Canonical}
			}
		}
	}

	cachePayload := map[string]entityCacheEntry{}
	if _, err := util.ReadJSONFile(n.cachePath, &cachePayload); err != nil {
		return nil, err
	}
	for key, value := range cachePayload {
		if key == "" || value.Type == "" {
			continue
		}
		n.cacheStore[key] = value
		origin := value.Source
		if origin == "" {
			origin = SourceLLM
		}
		n.resolved[key] = Decision{
			Value:    NormalizeTypeLabelOrDefault(value.Type),
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

func coerceEntityAliasEntries(raw []EntityAliasEntry) []EntityAliasEntry {
	items := make([]EntityAliasEntry, 0, len(raw))
	for _, entry := range raw {
		canonical := strings.TrimSpace(entry.Canonical)
		aliasSet := []string{}
		seen := map[string]bool{}
		if canonical != "" {
			aliasSet = append(aliasSet, canonical)
			seen[canonical] = true
		}
		for _, alias := range entry.Aliases {
			alias = strings.TrimSpace(alias)
			if alias == "" || seen[alias] {
				continue
			}
			aliasSet = append(aliasSet, alias)
			seen[alias] = true
		}
		if len(aliasSet) == 0 {
			continue
		}
		if canonical == "" {
			canonical = aliasSet[0]
		}
		items = append(items, EntityAliasEntry{
			Type:      NormalizeTypeLabelOrDefault(entry.Type),
			Canonical: canonical,
			Aliases:   aliasSet,
		})
	}
	return items
}

// IsEnabled reports whether normalization is active.
func (n *EntityTypeNormalizer) IsEnabled() bool {
	return n.enabled
}

// NormalizeAggregation rewrites entity, doc-root and relationship
// endpoint types in place. It returns the running total and updated
// counts; it never returns an error.
func (n *EntityTypeNormalizer) NormalizeAggregation(ctx context.Context, doc DocInfo, agg *graphstore.Aggregation) (total, updated int) {
	if !n.enabled || agg == nil {
		return 0, 0
	}
	contextText := BuildDocContext(doc)

	for _, entity := range agg.Entities {
		if entity == nil {
			continue
		}
		n.applyType(ctx, entity.Name, &entity.Type, "entity", contextText)
	}
	for _, root := range agg.DocEntityRoots {
		if root == nil {
			continue
		}
		n.applyType(ctx, root.Name, &root.Type, "docRoot", contextText)
	}
	n.updateRelationshipEndpoints(agg.Relationships)

	return n.stats.Records.Total, n.stats.Records.Updated
}

func (n *EntityTypeNormalizer) applyType(ctx context.Context, name string, current *string, kind, contextText string) {
	if name == "" || current == nil {
		return
	}
	decision := n.resolveType(ctx, name, *current, contextText)

	n.stats.Records.Total++
	if kind == "docRoot" {
		n.stats.Records.DocRoots++
	} else {
		n.stats.Records.Entities++
	}
	n.stats.bumpSource(decision)
	if decision.Source == SourceFallback {
		addSample(&n.stats.Samples.Fallback, map[string]any{
			"name":   name,
			"reason": decision.Reason,
		})
	}

	next := decision.Value
	if next == "" {
		next = *current
	}
	next = NormalizeTypeLabelOrDefault(next)
	if *current != next {
		addSample(&n.stats.Samples.Updates, map[string]any{
			"name":     name,
			"previous": *current,
			"next":     next,
			"source":   decision.Source,
		})
		*current = next
		n.stats.Records.Updated++
	}
}

func (n *EntityTypeNormalizer) resolveType(ctx context.Context, name, currentType, contextText string) Decision {
	key := NormalizeEntityKey(name)
	if key == "" {
		return Decision{
			Name:   name,
			Value:  NormalizeTypeLabelOrDefault(currentType),
			Source: SourceFallback,
			Reason: "empty-key",
		}
	}

	if memo, ok := n.resolved[key]; ok {
		memo.Name = name
		memo.Reused = true
		return memo
	}

	if alias, ok := n.aliasMap[key]; ok {
		decision := Decision{
			Name:   name,
			Value:  alias.entityType,
			Source: SourceAlias,
			Reason: "matched-alias:" + alias.canonical,
		}
		n.resolved[key] = decision
		return decision
	}

	if cached, ok := n.cacheStore[key]; ok {
		origin := cached.Source
		if origin == "" {
			origin = SourceLLM
		}
		reason := cached.Reason
		if reason == "" {
			reason = "cache-hit"
		}
		decision := Decision{
			Name:     name,
			Value:    NormalizeTypeLabelOrDefault(cached.Type),
			Source:   SourceCache,
			Origin:   origin,
			Reason:   reason,
			Provider: cached.Provider,
			Model:    cached.Model,
		}
		n.resolved[key] = decision
		return decision
	}

	if result, ok := n.classify(ctx, name, currentType, contextText); ok {
		decision := Decision{
			Name:     name,
			Value:    result.entityType,
			Source:   SourceLLM,
			Reason:   result.reason,
			Provider: n.provider,
			Model:    n.model,
		}
		n.resolved[key] = decision
		n.cacheStore[key] = entityCacheEntry{
			Type:      decision.Value,
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
		return decision
	}

	reason := n.stats.LLM.DisabledReason
	if reason == "" {
		reason = "llm-unavailable"
	}
	decision := Decision{
		Name:   name,
		Value:  NormalizeTypeLabelOrDefault(currentType),
		Source: SourceFallback,
		Reason: reason,
	}
	n.resolved[key] = decision
	return decision
}

type classifiedType struct {
	entityType string
	reason     string
}

func (n *EntityTypeNormalizer) classify(ctx context.Context, name, currentType, contextText string) (classifiedType, bool) {
	if n.client == nil {
		if n.stats.LLM.DisabledReason == "" {
			n.stats.LLM.DisabledReason = "disabled"
		}
		return classifiedType{}, false
	}

	lines := []string{
		"你是知识图谱的实体类型归一化助手。",
		"请根据实体名称与上下文，只能从下列类型中选择一个最合适的结果；若无法判断，请选择 Concept：",
		formatChoices(EntityTypeChoices),
		"实体名称：" + name,
	}
	if currentType != "" && currentType != DefaultEntityType {
		lines = append(lines, "原始类型："+currentType)
	}
	if contextText != "" {
		lines = append(lines, "上下文："+contextText)
	}
	lines = append(lines, "请返回 JSON，字段包含 type（上述列表之一）、confidence（0-1 之间），以及中文 reason。")

	n.stats.LLM.Attempts++
	response, err := util.RetryWithContext(ctx, classifierMaxTries, func(ctx context.Context) (entityTypeClassification, error) {
		var out entityTypeClassification
		err := n.client.GenerateCompletionWithFormat(
			ctx,
			"entity_type_normalizer",
			"Pick the canonical entity type for a knowledge graph node",
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
			"name":    name,
			"message": err.Error(),
		})
		logger.Debug("Entity type classification failed", "name", name, "err", err)
		return classifiedType{}, false
	}
	n.stats.LLM.Success++
	if n.stats.LLM.Provider == "" {
		n.stats.LLM.Provider = n.provider
		n.stats.LLM.Model = n.model
	}
	return classifiedType{
		entityType: NormalizeTypeLabelOrDefault(response.Type),
		reason:     response.Reason,
	}, true
}

func (n *EntityTypeNormalizer) updateRelationshipEndpoints(relationships []*graphstore.Relationship) {
	for _, rel := range relationships {
		if rel == nil {
			continue
		}
		n.applyResolvedType(rel.Source)
		n.applyResolvedType(rel.Target)
	}
}

func (n *EntityTypeNormalizer) applyResolvedType(ref *graphstore.EntityRef) {
	if ref == nil {
		return
	}
	name := ref.Name
	if name == "" {
		name = ref.ID
	}
	if name == "" {
		return
	}
	if decision, ok := n.resolved[NormalizeEntityKey(name)]; ok && decision.Value != "" {
		ref.Type = decision.Value
	}
}

// PersistCache writes the cache side-file when new decisions were
// added this run. Returns the path written, or "" when clean.
func (n *EntityTypeNormalizer) PersistCache() (string, error) {
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
func (n *EntityTypeNormalizer) Summary() Stats {
	out := n.stats
	out.Cache.Path = n.cachePath
	out.Cache.Size = len(n.cacheStore)
	return out
}
