package telemetry

import (
	"testing"

	"github.com/lattice-docs/graphrag/pkg/normalize"
)

func failureStats(failures int) normalize.Stats {
	stats := normalize.Stats{}
	stats.LLM.Failures = failures
	stats.Records.Total = failures
	stats.Records.Updated = 1
	return stats
}

func TestEvaluateGuardsLLMFailures(t *testing.T) {
	summaries := []DomainSummary{{Domain: "entities", Stats: failureStats(60)}}

	result := EvaluateGuards(summaries, GuardOptions{Mode: GuardModeWarn, LLMFailureThreshold: 50, FallbackThreshold: 100})
	if len(result.Alerts) != 1 {
		t.Fatalf("alerts = %+v", result.Alerts)
	}
	if result.Alerts[0].Severity != "error" || result.Alerts[0].Scope != "guard.entities" {
		t.Fatalf("alert = %+v", result.Alerts[0])
	}
	if result.ShouldFail {
		t.Fatal("warn mode must not fail the run")
	}

	failing := EvaluateGuards(summaries, GuardOptions{Mode: GuardModeFail, LLMFailureThreshold: 50, FallbackThreshold: 100})
	if !failing.ShouldFail {
		t.Fatal("fail mode should fail on error alerts")
	}
}

func TestEvaluateGuardsFallbackWarning(t *testing.T) {
	stats := normalize.Stats{}
	stats.Sources.Fallback = 120
	stats.Records.Total = 200
	stats.Records.Updated = 10

	result := EvaluateGuards(
		[]DomainSummary{{Domain: "relationships", Stats: stats}},
		GuardOptions{Mode: GuardModeFail, LLMFailureThreshold: 50, FallbackThreshold: 100},
	)
	if len(result.Alerts) != 1 || result.Alerts[0].Severity != "warning" {
		t.Fatalf("alerts = %+v", result.Alerts)
	}
	if result.ShouldFail {
		t.Fatal("warnings alone must not fail the run even in fail mode")
	}
}

func TestEvaluateGuardsNoUpdates(t *testing.T) {
	stats := normalize.Stats{}
	stats.Records.Total = 40

	result := EvaluateGuards(
		[]DomainSummary{{Domain: "properties", Stats: stats}},
		GuardOptions{Mode: GuardModeWarn, LLMFailureThreshold: 50, FallbackThreshold: 100},
	)
	if len(result.Alerts) != 1 || result.Alerts[0].Severity != "warning" {
		t.Fatalf("alerts = %+v", result.Alerts)
	}
}

func TestEvaluateGuardsOffMode(t *testing.T) {
	summaries := []DomainSummary{{Domain: "entities", Stats: failureStats(999)}}
	result := EvaluateGuards(summaries, GuardOptions{Mode: GuardModeOff})
	if len(result.Alerts) != 0 || result.ShouldFail {
		t.Fatalf("off mode should not evaluate, got %+v", result)
	}
}

func TestEvaluateGuardsCleanRun(t *testing.T) {
	stats := normalize.Stats{}
	stats.Records.Total = 10
	stats.Records.Updated = 4

	result := EvaluateGuards(
		[]DomainSummary{{Domain: "entities", Stats: stats}},
		GuardOptions{Mode: GuardModeFail, LLMFailureThreshold: 50, FallbackThreshold: 100},
	)
	if len(result.Alerts) != 0 || result.ShouldFail {
		t.Fatalf("clean run should have no alerts, got %+v", result)
	}
}
