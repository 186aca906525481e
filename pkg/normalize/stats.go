package normalize

const maxSampleItems = 5

// Decision source labels, in resolution order.
const (
	SourceAlias    = "alias"
	SourceCache    = "cache"
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Decision records how a single value was resolved.
type Decision struct {
	Name     string `json:"name,omitempty"`
	Value    string `json:"value"`
	Source   string `json:"source"`
	Origin   string `json:"origin,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Reused   bool   `json:"reused,omitempty"`
}

// RecordStats counts processed records by kind.
type RecordStats struct {
	Total         int `json:"total"`
	Updated       int `json:"updated"`
	Entities      int `json:"entities,omitempty"`
	DocRoots      int `json:"docRoots,omitempty"`
	Relationships int `json:"relationships,omitempty"`
}

// SourceStats counts decisions per resolution tier. Reuse counts
// in-run memo hits on top of the tier that originally resolved them.
type SourceStats struct {
	Alias    int `json:"alias"`
	Cache    int `json:"cache"`
	LLM      int `json:"llm"`
	Fallback int `json:"fallback"`
	Reuse    int `json:"reuse"`
}

// CacheStats describes the persistent cache side-file.
type CacheStats struct {
	Path    string `json:"path,omitempty"`
	Size    int    `json:"size"`
	Updated bool   `json:"updated"`
	Writes  int    `json:"writes"`
}

// LLMStats tracks classifier calls.
type LLMStats struct {
	Attempts       int      `json:"attempts"`
	Success        int      `json:"success"`
	Failures       int      `json:"failures"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	DisabledReason string   `json:"disabledReason,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// Samples holds up to maxSampleItems examples per bucket for run
// summaries. Overflow is silently dropped.
type Samples struct {
	Updates  []map[string]any `json:"updates"`
	Fallback []map[string]any `json:"fallback"`
	Failures []map[string]any `json:"failures"`
}

// Stats is the per-normalizer run accounting exposed in summaries and
// consumed by the ingest guards.
type Stats struct {
	Enabled bool        `json:"enabled"`
	Records RecordStats `json:"records"`
	Sources SourceStats `json:"sources"`
	Cache   CacheStats  `json:"cache"`
	LLM     LLMStats    `json:"llm"`
	Samples Samples     `json:"samples"`
}

func newStats(enabled bool) Stats {
	return Stats{
		Enabled: enabled,
		Samples: Samples{
			Updates:  []map[string]any{},
			Fallback: []map[string]any{},
			Failures: []map[string]any{},
		},
	}
}

func (s *Stats) bumpSource(decision Decision) {
	switch decision.Source {
	case SourceAlias:
		s.Sources.Alias++
	case SourceCache:
		s.Sources.Cache++
	case SourceLLM:
		s.Sources.LLM++
	default:
		s.Sources.Fallback++
	}
	if decision.Reused {
		s.Sources.Reuse++
	}
}

func addSample(bucket *[]map[string]any, payload map[string]any) {
	if payload == nil || len(*bucket) >= maxSampleItems {
		return
	}
	*bucket = append(*bucket, payload)
}
