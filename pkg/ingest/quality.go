package ingest

import (
	"fmt"
	"regexp"
	"time"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/logger"
)

// Default quality gate locations, relative to the run root.
const (
	DefaultQualityConfigPath = "config/graphrag-quality.json"
	DefaultQualityLogPath    = "data/graphrag/quality-log.jsonl"
)

// QualityConfig tunes the gate. Blacklist hits reject a document, PII
// hits mask the chunk text in place and only warn.
type QualityConfig struct {
	RequiredFields    []string          `json:"requiredFields"`
	BlacklistPatterns []string          `json:"blacklistPatterns"`
	PIIPatterns       map[string]string `json:"piiPatterns"`
	MaxTagCount       int               `json:"maxTagCount"`
}

func defaultQualityConfig() QualityConfig {
	return QualityConfig{
		RequiredFields: []string{"title", "description", "updatedAt", "categories"},
		MaxTagCount:    10,
	}
}

// QualityIssue is one gate finding.
type QualityIssue struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// QualityResult is the gate verdict for one document.
type QualityResult struct {
	Passed   bool           `json:"passed"`
	Errors   []QualityIssue `json:"errors"`
	Warnings []QualityIssue `json:"warnings"`
}

type namedPattern struct {
	name  string
	regex *regexp.Regexp
}

// QualityChecker evaluates documents against the configured gate and
// appends every verdict to a JSONL audit log.
type QualityChecker struct {
	Config QualityConfig

	blacklist []namedPattern
	pii       []namedPattern
	logPath   string
}

// NewQualityChecker loads the gate config (missing file keeps the
// defaults) and compiles its patterns.
func NewQualityChecker(configPath, logPath string) (*QualityChecker, error) {
	if configPath == "" {
		configPath = DefaultQualityConfigPath
	}
	if logPath == "" {
		logPath = DefaultQualityLogPath
	}

	config := defaultQualityConfig()
	loaded := QualityConfig{}
	ok, err := util.ReadJSONFile(configPath, &loaded)
	if err != nil {
		return nil, fmt.Errorf("load quality config: %w", err)
	}
	if ok {
		if loaded.RequiredFields != nil {
			config.RequiredFields = loaded.RequiredFields
		}
		config.BlacklistPatterns = loaded.BlacklistPatterns
		config.PIIPatterns = loaded.PIIPatterns
		if loaded.MaxTagCount != 0 {
			config.MaxTagCount = loaded.MaxTagCount
		}
	}

	checker := &QualityChecker{Config: config, logPath: logPath}
	for _, pattern := range config.BlacklistPatterns {
		regex, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("blacklist pattern %q: %w", pattern, err)
		}
		checker.blacklist = append(checker.blacklist, namedPattern{name: pattern, regex: regex})
	}
	for name, pattern := range config.PIIPatterns {
		regex, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %q: %w", name, err)
		}
		checker.pii = append(checker.pii, namedPattern{name: name, regex: regex})
	}
	return checker, nil
}

func (q *QualityChecker) fieldMissing(doc *NormalizedDoc, field string) bool {
	switch field {
	case "categories":
		return len(doc.Categories) == 0
	case "tags":
		return len(doc.Tags) == 0
	case "title":
		return doc.Title == ""
	case "description":
		return doc.Description == ""
	case "updatedAt":
		return doc.UpdatedAt == ""
	case "locale":
		return doc.Locale == ""
	default:
		value, ok := doc.FrontMatter[field]
		if !ok || value == nil {
			return true
		}
		s, isString := value.(string)
		return isString && s == ""
	}
}

// Check runs the gate over one document. PII masking mutates the
// document's chunk text.
func (q *QualityChecker) Check(doc *NormalizedDoc) QualityResult {
	errors := []QualityIssue{}
	warnings := []QualityIssue{}

	for _, field := range q.Config.RequiredFields {
		if q.fieldMissing(doc, field) {
			errors = append(errors, QualityIssue{
				Type:    "FRONTMATTER_MISSING",
				Message: fmt.Sprintf("字段 %s 缺失", field),
			})
		}
	}

	if q.Config.MaxTagCount > 0 && len(doc.Tags) > q.Config.MaxTagCount {
		errors = append(errors, QualityIssue{
			Type:    "TAG_LIMIT_EXCEEDED",
			Message: fmt.Sprintf("标签数量 %d 超过上限 %d", len(doc.Tags), q.Config.MaxTagCount),
		})
	}

	for _, pattern := range q.blacklist {
		for _, chunk := range doc.Chunks {
			if pattern.regex.MatchString(chunk.Text) {
				errors = append(errors, QualityIssue{
					Type:    "BLACKLIST_MATCH",
					Message: fmt.Sprintf("命中黑名单模式 %s", pattern.name),
				})
				break
			}
		}
	}

	for _, pattern := range q.pii {
		for i := range doc.Chunks {
			original := doc.Chunks[i].Text
			if original == "" {
				continue
			}
			replaced := pattern.regex.ReplaceAllString(original, "[REDACTED]")
			if replaced != original {
				doc.Chunks[i].Text = replaced
				warnings = append(warnings, QualityIssue{
					Type:    "PII_MASKED",
					Message: fmt.Sprintf("Chunk %s 匹配敏感模式 %s，已掩码", doc.Chunks[i].ID, pattern.name),
				})
			}
		}
	}

	result := QualityResult{
		Passed:   len(errors) == 0,
		Errors:   errors,
		Warnings: warnings,
	}

	event := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"doc_id":    doc.ID,
		"passed":    result.Passed,
		"errors":    errors,
		"warnings":  warnings,
	}
	if err := util.AppendJSONLine(q.logPath, event); err != nil {
		logger.Warn("Quality log append failed", "path", q.logPath, "error", err)
	}

	return result
}
