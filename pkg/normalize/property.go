package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
)

const (
	defaultPropertyAliasFile = "data/graphrag-object-alias.json"
	defaultPropertyCacheFile = "data/graphrag-object-cache.json"

	// OtherPropertyKey is the classifier escape hatch: it means "keep
	// the original key".
	OtherPropertyKey = "Other"
)

// ValueAlias maps surface spellings to a canonical property value.
type ValueAlias struct {
	Value   any      `json:"value"`
	Aliases []string `json:"aliases"`
}

// ValueRange clamps numeric property values.
type ValueRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// PropertyAliasEntry defines one canonical property key: its value
// type, alternate spellings, value aliases and numeric constraints.
type PropertyAliasEntry struct {
	Key          string       `json:"key"`
	Type         string       `json:"type,omitempty"`
	Description  string       `json:"description,omitempty"`
	Aliases      []string     `json:"aliases,omitempty"`
	ValueAliases []ValueAlias `json:"valueAliases,omitempty"`
	ValueRange   *ValueRange  `json:"valueRange,omitempty"`
	Precision    *int         `json:"precision,omitempty"`
}

type propertyCacheEntry struct {
	CanonicalKey string `json:"canonicalKey"`
	Source       string `json:"source,omitempty"`
	DecidedAt    string `json:"decidedAt,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type propertyKeyClassification struct {
	Key        string  `json:"key"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ObjectPropertyNormalizer canonicalizes the property maps carried by
// entities and relationships: keys are mapped into the alias-defined
// vocabulary and values coerced to each key's declared type.
type ObjectPropertyNormalizer struct {
	enabled   bool
	aliasPath string
	cachePath string
	client    ai.GraphAIClient
	provider  string
	model     string

	stats           Stats
	aliasEntries    []PropertyAliasEntry
	aliasMap        map[string]*PropertyAliasEntry
	definitionByKey map[string]*PropertyAliasEntry
	cacheStore      map[string]propertyCacheEntry
	cacheDirty      bool
	resolved        map[string]Decision
	choiceText      string
}

// NewObjectPropertyNormalizerParams configures
// NewObjectPropertyNormalizer. A nil Client, or an empty alias table,
// disables the classifier tier.
type NewObjectPropertyNormalizerParams struct {
	Root      string
	AliasPath string
	CachePath string
	Disabled  bool
	Client    ai.GraphAIClient
	Provider  string
	Model     string
}

// NewObjectPropertyNormalizer loads the alias table and persistent
// cache. Missing side-files are treated as empty.
func NewObjectPropertyNormalizer(params NewObjectPropertyNormalizerParams) (*ObjectPropertyNormalizer, error) {
	n := &ObjectPropertyNormalizer{
		enabled:   !params.Disabled,
		aliasPath: util.ResolvePath(params.Root, params.AliasPath, defaultPropertyAliasFile),
		cachePath: util.ResolvePath(params.Root, params.CachePath, defaultPropertyCacheFile),
		client:    params.Client,
		provider:  params.Provider,
		model:     params.Model,

		aliasMap:        map[string]*PropertyAliasEntry{},
		definitionByKey: map[string]*PropertyAliasEntry{},
		cacheStore:      map[string]propertyCacheEntry{},
		resolved:        map[string]Decision{},
	}
	n.stats = newStats(n.enabled)

	var rawAliases []PropertyAliasEntry
	if _, err := util.ReadJSONFile(n.aliasPath, &rawAliases); err != nil {
		return nil, err
	}
	for i := range rawAliases {
		entry := &rawAliases[i]
		entry.Key = strings.TrimSpace(entry.Key)
		if entry.Key == "" {
			continue
		}
		entry.Type = strings.ToLower(strings.TrimSpace(entry.Type))
		if entry.Type == "" {
			entry.Type = "string"
		}
		n.aliasEntries = append(n.aliasEntries, *entry)
	}
	for i := range n.aliasEntries {
		entry := &n.aliasEntries[i]
		n.definitionByKey[entry.Key] = entry
		if key := NormalizeLooseLabel(entry.Key); key != "" {
			if _, exists := n.aliasMap[key]; !exists {
				n.aliasMap[key] = entry
			}
		}
		for _, alias := range entry.Aliases {
			key := NormalizeLooseLabel(alias)
			if key == "" {
				continue
			}
			if _, exists := n.aliasMap[key]; !exists {
				n.aliasMap[key] = entry
			}
		}
	}
	n.choiceText = describePropertyChoices(n.aliasEntries)

	cachePayload := map[string]propertyCacheEntry{}
	if _, err := util.ReadJSONFile(n.cachePath, &cachePayload); err != nil {
		return nil, err
	}
	for key, value := range cachePayload {
		if key == "" || value.CanonicalKey == "" {
			continue
		}
		n.cacheStore[key] = value
		n.resolved[key] = Decision{
			Value:    value.CanonicalKey,
			Source:   SourceCache,
			Reason:   value.Reason,
			Provider: value.Provider,
			Model:    value.Model,
		}
	}
	n.stats.Cache.Size = len(n.cacheStore)

	return n, nil
}

func describePropertyChoices(entries []PropertyAliasEntry) string {
	if len(entries) == 0 {
		return "（暂无可用的属性键，默认保持原始 key）"
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		description := entry.Description
		if description == "" {
			description = "自定义属性"
		}
		lines = append(lines, "- "+entry.Key+": "+description)
	}
	return strings.Join(lines, "\n")
}

// IsEnabled reports whether normalization is active.
func (n *ObjectPropertyNormalizer) IsEnabled() bool {
	return n.enabled
}

// NormalizeAggregation rewrites relationship then entity property maps
// in place. It returns the running total and updated counts; it never
// returns an error.
func (n *ObjectPropertyNormalizer) NormalizeAggregation(ctx context.Context, doc DocInfo, agg *graphstore.Aggregation) (total, updated int) {
	if !n.enabled || agg == nil {
		return 0, 0
	}
	contextText := BuildDocContext(doc)

	for _, rel := range agg.Relationships {
		if rel == nil {
			continue
		}
		location := refName(rel.Source) + " -> " + refName(rel.Target)
		if rel.Type != "" {
			location += " (" + rel.Type + ")"
		}
		rel.Properties = n.normalizeProperties(ctx, rel.Properties, "relationship", location, contextText)
	}
	for _, entity := range agg.Entities {
		if entity == nil {
			continue
		}
		entity.Properties = n.normalizeProperties(ctx, entity.Properties, "entity", entity.Name, contextText)
	}

	return n.stats.Records.Total, n.stats.Records.Updated
}

func (n *ObjectPropertyNormalizer) normalizeProperties(ctx context.Context, props map[string]any, kind, location, contextText string) map[string]any {
	if len(props) == 0 {
		return props
	}
	changed := false
	next := make(map[string]any, len(props))

	for rawKey, rawValue := range props {
		trimmedKey := strings.TrimSpace(rawKey)
		if trimmedKey == "" {
			continue
		}
		decision, definition := n.resolveKey(ctx, trimmedKey, rawValue, contextText)

		n.stats.Records.Total++
		if kind == "relationship" {
			n.stats.Records.Relationships++
		} else {
			n.stats.Records.Entities++
		}
		n.stats.bumpSource(decision)
		if decision.Source == SourceFallback {
			addSample(&n.stats.Samples.Fallback, map[string]any{
				"key":      decision.Value,
				"reason":   decision.Reason,
				"location": location,
			})
		}

		canonicalKey := decision.Value
		if canonicalKey == "" {
			canonicalKey = trimmedKey
		}
		if definition == nil {
			definition = n.definitionByKey[canonicalKey]
		}
		normalizedValue := normalizePropertyValue(definition, rawValue)

		if canonicalKey != trimmedKey || !equalValues(normalizedValue, rawValue) {
			changed = true
			n.stats.Records.Updated++
			addSample(&n.stats.Samples.Updates, map[string]any{
				"key":           canonicalKey,
				"previousKey":   trimmedKey,
				"previousValue": rawValue,
				"nextValue":     normalizedValue,
				"source":        decision.Source,
				"location":      location,
			})
		}
		next[canonicalKey] = normalizedValue
	}

	if changed {
		return next
	}
	return props
}

func (n *ObjectPropertyNormalizer) resolveKey(ctx context.Context, key string, value any, contextText string) (Decision, *PropertyAliasEntry) {
	normalizedKey := NormalizeLooseLabel(key)

	if normalizedKey != "" {
		if memo, ok := n.resolved[normalizedKey]; ok {
			memo.Name = key
			memo.Reused = true
			return memo, n.definitionByKey[memo.Value]
		}
		if definition, ok := n.aliasMap[normalizedKey]; ok {
			decision := Decision{
				Name:   key,
				Value:  definition.Key,
				Source: SourceAlias,
			}
			n.resolved[normalizedKey] = decision
			return decision, definition
		}
		if cached, ok := n.cacheStore[normalizedKey]; ok {
			reason := cached.Reason
			if reason == "" {
				reason = "cache-hit"
			}
			decision := Decision{
				Name:     key,
				Value:    cached.CanonicalKey,
				Source:   SourceCache,
				Reason:   reason,
				Provider: cached.Provider,
				Model:    cached.Model,
			}
			n.resolved[normalizedKey] = decision
			return decision, n.definitionByKey[cached.CanonicalKey]
		}
	}

	if result, ok := n.classify(ctx, key, value, contextText); ok && result.key != OtherPropertyKey {
		decision := Decision{
			Name:     key,
			Value:    result.key,
			Source:   SourceLLM,
			Reason:   result.reason,
			Provider: n.provider,
			Model:    n.model,
		}
		if normalizedKey != "" {
			n.resolved[normalizedKey] = decision
			n.cacheStore[normalizedKey] = propertyCacheEntry{
				CanonicalKey: decision.Value,
				Source:       SourceLLM,
				DecidedAt:    time.Now().UTC().Format(time.RFC3339),
				Provider:     decision.Provider,
				Model:        decision.Model,
				Reason:       decision.Reason,
			}
			n.cacheDirty = true
			n.stats.Cache.Updated = true
			n.stats.Cache.Size = len(n.cacheStore)
			n.stats.Cache.Writes++
		}
		return decision, n.definitionByKey[result.key]
	}

	reason := n.stats.LLM.DisabledReason
	if reason == "" {
		reason = "llm-unavailable"
	}
	return Decision{
		Name:   key,
		Value:  key,
		Source: SourceFallback,
		Reason: reason,
	}, nil
}

type classifiedKey struct {
	key    string
	reason string
}

func (n *ObjectPropertyNormalizer) classify(ctx context.Context, key string, value any, contextText string) (classifiedKey, bool) {
	if n.client == nil || len(n.aliasEntries) == 0 {
		if n.stats.LLM.DisabledReason == "" {
			n.stats.LLM.DisabledReason = "missing-provider"
		}
		return classifiedKey{}, false
	}

	lines := []string{
		"你是知识图谱的属性归一化助手。",
		"请根据属性 key/value 与上下文，只能从下列候选属性名中选择一个最合适的结果；若无法判断，请返回 Other：",
		n.choiceText,
		"属性 Key：" + key,
		"属性 Value：" + formatPropertyValue(value),
	}
	if contextText != "" {
		lines = append(lines, "上下文："+contextText)
	}
	lines = append(lines, "请返回 JSON，字段包含 key（候选列表之一或 Other）、confidence（0-1），以及中文 reason。")

	n.stats.LLM.Attempts++
	response, err := util.RetryWithContext(ctx, classifierMaxTries, func(ctx context.Context) (propertyKeyClassification, error) {
		var out propertyKeyClassification
		err := n.client.GenerateCompletionWithFormat(
			ctx,
			"object_property_normalizer",
			"Pick the canonical property key for a knowledge graph attribute",
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
			"key":     key,
			"value":   formatPropertyValue(value),
			"message": err.Error(),
		})
		logger.Debug("Property key classification failed", "key", key, "err", err)
		return classifiedKey{}, false
	}
	n.stats.LLM.Success++
	if n.stats.LLM.Provider == "" {
		n.stats.LLM.Provider = n.provider
		n.stats.LLM.Model = n.model
	}

	selected := response.Key
	if _, known := n.definitionByKey[selected]; !known && selected != OtherPropertyKey {
		selected = OtherPropertyKey
	}
	return classifiedKey{key: selected, reason: response.Reason}, true
}

// PersistCache writes the cache side-file when new decisions were
// added this run. Returns the path written, or "" when clean.
func (n *ObjectPropertyNormalizer) PersistCache() (string, error) {
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
func (n *ObjectPropertyNormalizer) Summary() Stats {
	out := n.stats
	out.Cache.Path = n.cachePath
	out.Cache.Size = len(n.cacheStore)
	return out
}

func formatPropertyValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(raw)
	}
}

func equalValues(a, b any) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(rawA) == string(rawB)
}

func valueAliasLookup(definition *PropertyAliasEntry) map[string]any {
	if definition == nil || len(definition.ValueAliases) == 0 {
		return nil
	}
	lookup := map[string]any{}
	for _, entry := range definition.ValueAliases {
		for _, alias := range entry.Aliases {
			key := NormalizeLooseLabel(alias)
			if key == "" {
				continue
			}
			if _, exists := lookup[key]; !exists {
				lookup[key] = entry.Value
			}
		}
	}
	return lookup
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

var trueTokens = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true,
	"是": true, "有": true, "开启": true, "启用": true,
}

var falseTokens = map[string]bool{
	"false": true, "no": true, "n": true, "0": true,
	"否": true, "无": true, "关闭": true, "禁用": true,
}

func coerceBoolean(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	case string:
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "" {
			return false, false
		}
		if trueTokens[normalized] {
			return true, true
		}
		if falseTokens[normalized] {
			return false, true
		}
	}
	return false, false
}

var arraySeparators = func(r rune) bool {
	return r == ',' || r == ';' || r == '、'
}

func coerceArray(value any) any {
	switch v := value.(type) {
	case []any:
		return v
	case nil:
		return []any{}
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return []any{}
		}
		if strings.HasPrefix(trimmed, "[") {
			var parsed any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				if arr, ok := parsed.([]any); ok {
					return arr
				}
				return []any{parsed}
			}
			return []any{trimmed}
		}
		parts := strings.FieldsFunc(trimmed, arraySeparators)
		out := make([]any, 0, len(parts))
		for _, part := range parts {
			if item := strings.TrimSpace(part); item != "" {
				out = append(out, item)
			}
		}
		return out
	default:
		return []any{value}
	}
}

// normalizePropertyValue coerces a raw value to the definition's
// declared type, applying value aliases, range clamps and precision
// rounding. Values that cannot be coerced pass through unchanged; a
// nil definition is a no-op.
func normalizePropertyValue(definition *PropertyAliasEntry, rawValue any) any {
	if definition == nil {
		return rawValue
	}

	if lookup := valueAliasLookup(definition); lookup != nil {
		if str, ok := rawValue.(string); ok {
			if key := NormalizeLooseLabel(str); key != "" {
				if canonical, found := lookup[key]; found {
					rawValue = canonical
				}
			}
		}
	}

	switch definition.Type {
	case "number":
		numeric, ok := coerceNumber(rawValue)
		if !ok {
			return rawValue
		}
		if definition.ValueRange != nil {
			if definition.ValueRange.Min != nil {
				numeric = math.Max(numeric, *definition.ValueRange.Min)
			}
			if definition.ValueRange.Max != nil {
				numeric = math.Min(numeric, *definition.ValueRange.Max)
			}
		}
		if definition.Precision != nil && *definition.Precision >= 0 {
			factor := math.Pow(10, float64(*definition.Precision))
			numeric = math.Round(numeric*factor) / factor
		}
		return numeric
	case "boolean":
		if normalized, ok := coerceBoolean(rawValue); ok {
			return normalized
		}
		return rawValue
	case "array":
		return coerceArray(rawValue)
	case "object":
		switch v := rawValue.(type) {
		case map[string]any:
			return v
		case string:
			var parsed any
			if err := json.Unmarshal([]byte(v), &parsed); err == nil {
				if obj, ok := parsed.(map[string]any); ok {
					return obj
				}
			}
			return rawValue
		default:
			return rawValue
		}
	case "number[]":
		arr, ok := coerceArray(rawValue).([]any)
		if !ok {
			return rawValue
		}
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			if numeric, valid := coerceNumber(item); valid {
				out = append(out, numeric)
			}
		}
		return out
	default:
		switch v := rawValue.(type) {
		case nil:
			return nil
		case string:
			return strings.TrimSpace(v)
		case float64, int, int64, bool:
			return fmt.Sprint(v)
		default:
			raw, err := json.Marshal(rawValue)
			if err != nil {
				return fmt.Sprint(rawValue)
			}
			return string(raw)
		}
	}
}
