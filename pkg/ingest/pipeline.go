package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
	"github.com/lattice-docs/graphrag/pkg/normalize"
	"github.com/lattice-docs/graphrag/pkg/telemetry"
)

// ErrGuardFailure signals that normalization guards in fail mode
// vetoed the write phase. The summary is still valid when returned
// alongside this error.
var ErrGuardFailure = errors.New("normalization guards rejected the run")

// Options configure one pipeline run.
type Options struct {
	Root          string // base directory for data side-files
	DocsRoot      string
	Locale        string
	IncludeDrafts bool
	ChangedOnly   bool
	NoCache       bool
	NoWrite       bool
	SkipSchema    bool

	// Adapter selects the extractor: "placeholder" (default) or "llm".
	Adapter      string
	AdapterModel string
	Extractor    Extractor // overrides Adapter when set

	Client ai.GraphAIClient // model client for extractor and normalizers

	Include map[string]struct{} // doc id allowlist, empty means all
	Ignore  map[string]struct{} // doc id blocklist

	CachePath         string
	QualityConfigPath string
	QualityLogPath    string

	Neo4j graphstore.Config
	Guard telemetry.GuardOptions
}

// SkippedDoc explains why a document was excluded from the write batch.
type SkippedDoc struct {
	DocID  string         `json:"docId"`
	Reason string         `json:"reason"`
	Errors []QualityIssue `json:"errors,omitempty"`
}

// Summary is the run report, also appended to the telemetry history.
type Summary struct {
	RunID          string                     `json:"runId"`
	TotalDocuments int                        `json:"totalDocuments"`
	Normalized     int                        `json:"normalized"`
	ReadyForWrite  int                        `json:"readyForWrite"`
	Skipped        int                        `json:"skipped"`
	SkippedReasons []SkippedDoc               `json:"skippedReasons"`
	Written        int                        `json:"written"`
	WriteErrors    []string                   `json:"writeErrors,omitempty"`
	Normalization  map[string]normalize.Stats `json:"normalization,omitempty"`
	PhaseMs        map[string]int64           `json:"phaseMs,omitempty"`
	Guard          *telemetry.GuardResult     `json:"guard,omitempty"`
}

type normalizers struct {
	entity   *normalize.EntityTypeNormalizer
	relation *normalize.RelationshipTypeNormalizer
	property *normalize.ObjectPropertyNormalizer
}

func newNormalizers(opts Options) (*normalizers, error) {
	provider := util.GetEnvString("AI_ADAPTER", "openai")
	model := util.FirstEnv("GRAPHRAG_TYPE_NORMALIZER_MODEL", "AI_EXTRACT_MODEL")

	entity, err := normalize.NewEntityTypeNormalizer(normalize.NewEntityTypeNormalizerParams{
		Root:     opts.Root,
		Disabled: util.GetEnvBool("GRAPHRAG_TYPE_NORMALIZER_DISABLE", false),
		Client:   opts.Client,
		Provider: provider,
		Model:    model,
	})
	if err != nil {
		return nil, fmt.Errorf("entity normalizer: %w", err)
	}

	relation, err := normalize.NewRelationshipTypeNormalizer(normalize.NewRelationshipTypeNormalizerParams{
		Root:     opts.Root,
		Disabled: util.GetEnvBool("GRAPHRAG_RELATION_NORMALIZER_DISABLE", false),
		Client:   opts.Client,
		Provider: provider,
		Model:    util.FirstEnv("GRAPHRAG_RELATION_NORMALIZER_MODEL", "GRAPHRAG_TYPE_NORMALIZER_MODEL", "AI_EXTRACT_MODEL"),
	})
	if err != nil {
		return nil, fmt.Errorf("relationship normalizer: %w", err)
	}

	property, err := normalize.NewObjectPropertyNormalizer(normalize.NewObjectPropertyNormalizerParams{
		Root:     opts.Root,
		Disabled: util.GetEnvBool("GRAPHRAG_OBJECT_NORMALIZER_DISABLE", false),
		Client:   opts.Client,
		Provider: provider,
		Model:    util.FirstEnv("GRAPHRAG_OBJECT_NORMALIZER_MODEL", "GRAPHRAG_RELATION_NORMALIZER_MODEL", "AI_EXTRACT_MODEL"),
	})
	if err != nil {
		return nil, fmt.Errorf("property normalizer: %w", err)
	}

	return &normalizers{entity: entity, relation: relation, property: property}, nil
}

func (n *normalizers) apply(ctx context.Context, doc *NormalizedDoc, agg *graphstore.Aggregation, phases map[string]int64) {
	info := normalize.DocInfo{
		Title:       doc.Title,
		Description: doc.Description,
		Categories:  termNames(doc.Categories),
		Tags:        termNames(doc.Tags),
	}

	start := time.Now()
	n.entity.NormalizeAggregation(ctx, info, agg)
	phases["entityTypes"] += time.Since(start).Milliseconds()

	start = time.Now()
	n.relation.NormalizeAggregation(ctx, info, agg)
	phases["relationshipTypes"] += time.Since(start).Milliseconds()

	start = time.Now()
	n.property.NormalizeAggregation(ctx, info, agg)
	phases["objectProperties"] += time.Since(start).Milliseconds()
}

func (n *normalizers) persist() {
	if _, err := n.entity.PersistCache(); err != nil {
		logger.Warn("Entity type cache persist failed", "error", err)
	}
	if _, err := n.relation.PersistCache(); err != nil {
		logger.Warn("Relationship type cache persist failed", "error", err)
	}
	if _, err := n.property.PersistCache(); err != nil {
		logger.Warn("Property cache persist failed", "error", err)
	}
}

func (n *normalizers) summaries() map[string]normalize.Stats {
	return map[string]normalize.Stats{
		"entities":      n.entity.Summary(),
		"relationships": n.relation.Summary(),
		"properties":    n.property.Summary(),
	}
}

func (n *normalizers) guardInput(stats map[string]normalize.Stats) []telemetry.DomainSummary {
	domains := []string{"entities", "relationships", "properties"}
	out := make([]telemetry.DomainSummary, 0, len(domains))
	for _, domain := range domains {
		out = append(out, telemetry.DomainSummary{Domain: domain, Stats: stats[domain]})
	}
	return out
}

func termNames(terms []graphstore.Term) []string {
	names := make([]string, 0, len(terms))
	for _, term := range terms {
		names = append(names, term.Name)
	}
	return names
}

func resolveExtractor(opts Options) (Extractor, error) {
	if opts.Extractor != nil {
		return opts.Extractor, nil
	}
	adapter := opts.Adapter
	if adapter == "" {
		adapter = util.GetEnvString("GRAPHRAG_ENTITY_ADAPTER", "placeholder")
	}
	switch adapter {
	case "", "placeholder":
		return PlaceholderExtractor{}, nil
	case "llm":
		if opts.Client == nil {
			return nil, errors.New("llm adapter requires a model client")
		}
		model := opts.AdapterModel
		if model == "" {
			model = util.GetEnv("GRAPHRAG_ENTITY_MODEL")
		}
		return NewLLMExtractor(opts.Client, model), nil
	default:
		return nil, fmt.Errorf("unknown extractor adapter: %s", adapter)
	}
}

// Run executes collect -> normalize -> gate -> extract -> normalize
// types -> guard -> write -> cache update, and returns the run
// summary. Per-document failures are recorded as skips; only setup
// and store-level failures abort the run.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	extractor, err := resolveExtractor(opts)
	if err != nil {
		return nil, err
	}

	qualityChecker, err := NewQualityChecker(
		util.ResolvePath(opts.Root, opts.QualityConfigPath, DefaultQualityConfigPath),
		util.ResolvePath(opts.Root, opts.QualityLogPath, DefaultQualityLogPath),
	)
	if err != nil {
		return nil, err
	}

	norm, err := newNormalizers(opts)
	if err != nil {
		return nil, err
	}

	documents, err := Collect(CollectParams{
		DocsRoot:      opts.DocsRoot,
		Locale:        opts.Locale,
		IncludeDrafts: opts.IncludeDrafts,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Documents collected", "run", runID, "count", len(documents))

	cachePath := util.ResolvePath(opts.Root, opts.CachePath, DefaultCachePath)
	cache := Cache{}
	if !opts.NoCache {
		cache, err = LoadCache(cachePath)
		if err != nil {
			return nil, err
		}
	}

	summary := &Summary{
		RunID:          runID,
		TotalDocuments: len(documents),
		SkippedReasons: []SkippedDoc{},
		PhaseMs:        map[string]int64{},
	}

	var payloads []*graphstore.Payload
	var processed []*NormalizedDoc

	for _, raw := range documents {
		doc := NormalizeDocument(raw)

		if strings.Contains(doc.RelativePath, "_generated/") {
			summary.SkippedReasons = append(summary.SkippedReasons, SkippedDoc{
				DocID:  doc.ID,
				Reason: "自动生成产物，默认跳过",
			})
			continue
		}

		if len(opts.Include) > 0 {
			if _, ok := opts.Include[doc.ID]; !ok {
				summary.SkippedReasons = append(summary.SkippedReasons, SkippedDoc{
					DocID:  doc.ID,
					Reason: "不在 include 过滤器内",
				})
				continue
			}
		}
		if _, ok := opts.Ignore[doc.ID]; ok {
			summary.SkippedReasons = append(summary.SkippedReasons, SkippedDoc{
				DocID:  doc.ID,
				Reason: "命中 ignore 过滤器",
			})
			continue
		}

		decision := ShouldProcess(doc, cache, opts.ChangedOnly)
		if !decision.Process {
			summary.SkippedReasons = append(summary.SkippedReasons, SkippedDoc{
				DocID:  doc.ID,
				Reason: decision.Reason,
			})
			continue
		}

		quality := qualityChecker.Check(doc)
		if !quality.Passed {
			summary.SkippedReasons = append(summary.SkippedReasons, SkippedDoc{
				DocID:  doc.ID,
				Reason: "质量守门失败",
				Errors: quality.Errors,
			})
			continue
		}

		extractStart := time.Now()
		agg, err := extractor.Extract(ctx, doc)
		summary.PhaseMs["extract"] += time.Since(extractStart).Milliseconds()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logger.Warn("Extraction failed, skipping document", "doc", doc.ID, "error", err)
			summary.SkippedReasons = append(summary.SkippedReasons, SkippedDoc{
				DocID:  doc.ID,
				Reason: "adapter-error: " + err.Error(),
			})
			continue
		}

		norm.apply(ctx, doc, agg, summary.PhaseMs)

		payloads = append(payloads, BuildPayload(doc, agg))
		processed = append(processed, doc)
	}

	summary.Skipped = len(summary.SkippedReasons)
	summary.ReadyForWrite = len(payloads)
	summary.Normalized = len(payloads) + summary.Skipped
	logger.Info("Write batch prepared", "payloads", len(payloads), "skipped", summary.Skipped)

	norm.persist()
	summary.Normalization = norm.summaries()

	guard := telemetry.EvaluateGuards(norm.guardInput(summary.Normalization), opts.Guard)
	summary.Guard = &guard
	for _, alert := range guard.Alerts {
		logger.Warn("Normalization guard alert", "scope", alert.Scope, "severity", alert.Severity, "message", alert.Message)
	}

	appendRunRecord := func() {
		record := telemetry.Record{
			Scope: "ingest.pipeline",
			Detail: map[string]any{
				"runId":          summary.RunID,
				"totalDocuments": summary.TotalDocuments,
				"readyForWrite":  summary.ReadyForWrite,
				"skipped":        summary.Skipped,
				"written":        summary.Written,
				"guardAlerts":    len(guard.Alerts),
			},
		}
		if err := telemetry.Append(opts.Root, record, telemetry.DefaultLimit); err != nil {
			logger.Warn("Telemetry append failed", "error", err)
		}
	}

	if guard.ShouldFail {
		appendRunRecord()
		return summary, ErrGuardFailure
	}

	if opts.NoWrite {
		logger.Info("No-write mode, skipping graph write")
		appendRunRecord()
		return summary, nil
	}

	if opts.Neo4j.Password == "" {
		return summary, errors.New("missing Neo4j password, cannot write")
	}

	store, err := graphstore.NewClient(ctx, opts.Neo4j)
	if err != nil {
		return summary, err
	}
	defer store.Close(ctx)
	logger.Info("Neo4j connectivity verified", "uri", opts.Neo4j.URI)

	if !opts.SkipSchema {
		if err := graphstore.EnsureSchema(ctx, store); err != nil {
			return summary, fmt.Errorf("ensure schema: %w", err)
		}
	}

	result, err := graphstore.WriteBatch(ctx, store, payloads)
	if err != nil {
		return summary, err
	}
	summary.Written = result.Written
	summary.WriteErrors = result.Errors
	logger.Info("Write finished", "written", result.Written, "failed", result.Failed)

	if !opts.NoCache && result.Written > 0 {
		timestamp := time.Now().UTC().Format(time.RFC3339)
		for _, doc := range processed {
			UpdateCacheEntry(cache, doc, timestamp)
		}
		if err := SaveCache(cache, cachePath); err != nil {
			logger.Warn("Cache save failed", "path", cachePath, "error", err)
		} else {
			logger.Info("Cache updated", "path", cachePath)
		}
	}

	appendRunRecord()
	return summary, nil
}
