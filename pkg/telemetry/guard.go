package telemetry

import (
	"fmt"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/normalize"
)

// Guard modes. "warn" surfaces alerts without failing the run, "fail"
// turns error-severity alerts into a non-zero exit, "off" disables
// evaluation entirely.
const (
	GuardModeOff  = "off"
	GuardModeWarn = "warn"
	GuardModeFail = "fail"

	defaultLLMFailureThreshold = 50
	defaultFallbackThreshold   = 100
)

// Alert flags a normalization domain that crossed a guard threshold.
type Alert struct {
	Scope    string `json:"scope"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DomainSummary pairs a normalization domain name with its run stats.
type DomainSummary struct {
	Domain string
	Stats  normalize.Stats
}

// GuardOptions configure threshold evaluation. Zero values fall back
// to the GRAPHRAG_GUARD_* environment and built-in defaults.
type GuardOptions struct {
	Mode                string
	LLMFailureThreshold int
	FallbackThreshold   int
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.Mode == "" {
		o.Mode = util.GetEnvString("GRAPHRAG_GUARD_MODE", GuardModeWarn)
	}
	if o.LLMFailureThreshold == 0 {
		o.LLMFailureThreshold = util.GetEnvInt("GRAPHRAG_GUARD_LLM_FAILURES", defaultLLMFailureThreshold)
	}
	if o.FallbackThreshold == 0 {
		o.FallbackThreshold = util.GetEnvInt("GRAPHRAG_GUARD_FALLBACKS", defaultFallbackThreshold)
	}
	return o
}

// GuardResult reports all triggered alerts and whether the run should
// exit non-zero under the current mode.
type GuardResult struct {
	Alerts     []Alert `json:"alerts"`
	ShouldFail bool    `json:"shouldFail"`
}

// EvaluateGuards inspects per-domain normalization stats against the
// failure and fallback thresholds.
func EvaluateGuards(summaries []DomainSummary, opts GuardOptions) GuardResult {
	opts = opts.withDefaults()
	if opts.Mode == GuardModeOff {
		return GuardResult{Alerts: []Alert{}}
	}

	alerts := []Alert{}
	for _, entry := range summaries {
		domain := entry.Domain
		if domain == "" {
			domain = "entities"
		}
		scope := "guard." + domain

		if opts.LLMFailureThreshold > 0 && entry.Stats.LLM.Failures >= opts.LLMFailureThreshold {
			alerts = append(alerts, Alert{
				Scope:    scope,
				Message:  fmt.Sprintf("%s LLM failures %d exceed threshold %d", domain, entry.Stats.LLM.Failures, opts.LLMFailureThreshold),
				Severity: "error",
			})
		}

		if opts.FallbackThreshold > 0 && entry.Stats.Sources.Fallback >= opts.FallbackThreshold {
			alerts = append(alerts, Alert{
				Scope:    scope,
				Message:  fmt.Sprintf("%s fallback count %d exceeds threshold %d", domain, entry.Stats.Sources.Fallback, opts.FallbackThreshold),
				Severity: "warning",
			})
		}

		if entry.Stats.Records.Total > 0 && entry.Stats.Records.Updated == 0 {
			alerts = append(alerts, Alert{
				Scope:    scope,
				Message:  fmt.Sprintf("%s normalization updated 0 / %d, please inspect logs.", domain, entry.Stats.Records.Total),
				Severity: "warning",
			})
		}
	}

	shouldFail := false
	if opts.Mode == GuardModeFail {
		for _, alert := range alerts {
			if alert.Severity == "error" {
				shouldFail = true
				break
			}
		}
	}

	return GuardResult{Alerts: alerts, ShouldFail: shouldFail}
}
