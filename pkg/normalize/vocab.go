package normalize

import "strings"

// DefaultEntityType is used whenever a type cannot be resolved.
const DefaultEntityType = "Concept"

// DefaultRelationType is used whenever a relation cannot be resolved.
const DefaultRelationType = "RelatedTo"

// TypeChoice pairs a canonical value with the description shown to the
// classifier.
type TypeChoice struct {
	Value       string
	Description string
}

// EntityTypeChoices is the closed entity-type vocabulary.
var EntityTypeChoices = []TypeChoice{
	{"Person", "人物 / 作者 / 研究者 / 讲者"},
	{"Organization", "公司 / 团队 / 社区 / 机构"},
	{"Event", "大会 / 活动 / 里程碑 / 事故"},
	{"Paper", "论文 / 报告 / 出版物 / 文献"},
	{"Technology", "技术流派 / 能力 / 框架组合"},
	{"ResearchDirection", "研究方向 / 主题 / 课题"},
	{"Concept", "抽象概念 / 方法论 / 模型"},
	{"Product", "商业产品 / 套件 / 平台"},
	{"Tool", "工程工具 / CLI / 库"},
	{"Domain", "行业 / 业务领域 / 赛道"},
	{"Framework", "框架 / SDK / 运行时"},
	{"Language", "编程语言 / 标记语言"},
	{"Dataset", "数据集 / 语料 / 评测集"},
	{"Metric", "指标 / 评测标准 / 打分体系"},
	{"Project", "项目 / 计划 / 联盟"},
	{"Service", "托管服务 / API / 托管平台"},
}

// RelationTypeChoices is the closed relationship-type vocabulary.
var RelationTypeChoices = []TypeChoice{
	{"RelatedTo", "泛化语义关联 / 相互引用"},
	{"Mentions", "源实体提及或引用目标实体"},
	{"PartOf", "源实体是目标实体的组成部分或章节"},
	{"BelongsTo", "源实体隶属或归属于目标实体"},
	{"Uses", "源实体使用 / 集成 / 依赖目标实体"},
	{"BasedOn", "源实体基于 / 继承自目标实体"},
	{"Produces", "源实体产出/发布目标实体（或相反）"},
	{"CollaboratesWith", "两个实体合作、联合发布或共同维护"},
	{"CompetesWith", "竞争、对立或取代关系"},
	{"Supports", "源实体支持 / 增强目标实体"},
	{"Opposes", "源实体反对 / 阻碍目标实体"},
	{"LocatedIn", "地理或组织上的包含关系"},
	{"Leads", "源实体领导 / 维护 / 负责目标实体"},
	{"Evaluates", "评测、衡量或审查关系"},
	{"Compares", "对比、benchmark 或差异分析"},
}

// typeAliases maps lowercased labels, including Chinese synonyms, to
// canonical entity types.
var typeAliases = map[string]string{
	"person":             "Person",
	"人":                  "Person",
	"人物":                 "Person",
	"作者":                 "Person",
	"author":             "Person",
	"organization":       "Organization",
	"company":            "Organization",
	"enterprise":         "Organization",
	"组织":                 "Organization",
	"机构":                 "Organization",
	"公司":                 "Organization",
	"社区":                 "Organization",
	"event":              "Event",
	"事件":                 "Event",
	"paper":              "Paper",
	"article":            "Paper",
	"文献":                 "Paper",
	"论文":                 "Paper",
	"参考文献":               "Paper",
	"reference paper":    "Paper",
	"technology":         "Technology",
	"技术":                 "Technology",
	"researchdirection":  "ResearchDirection",
	"research direction": "ResearchDirection",
	"研究方向":               "ResearchDirection",
	"concept":            "Concept",
	"概念":                 "Concept",
	"product":            "Product",
	"产品":                 "Product",
	"tool":               "Tool",
	"工具":                 "Tool",
	"domain":             "Domain",
	"领域":                 "Domain",
	"framework":          "Framework",
	"框架":                 "Framework",
	"language":           "Language",
	"语言":                 "Language",
	"dataset":            "Dataset",
	"数据集":                "Dataset",
	"metric":             "Metric",
	"指标":                 "Metric",
	"project":            "Project",
	"项目":                 "Project",
	"service":            "Service",
	"服务":                 "Service",
}

// typePriority ranks entity types for duplicate-merge conflicts. Higher
// wins; unknown types score defaultTypePriority.
var typePriority = map[string]int{
	"person":             100,
	"organization":       90,
	"event":              85,
	"paper":              80,
	"technology":         70,
	"researchdirection":  70,
	"concept":            60,
	"product":            60,
	"tool":               60,
	"domain":             60,
	"framework":          55,
	"language":           50,
}

const defaultTypePriority = 10

// NormalizeTypeLabel maps a raw type label to its canonical form via
// the alias table. Unknown labels pass through trimmed; empty labels
// return "".
func NormalizeTypeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if alias, ok := typeAliases[strings.ToLower(trimmed)]; ok {
		return alias
	}
	return trimmed
}

// NormalizeTypeLabelOrDefault maps a raw label to canonical form,
// falling back to DefaultEntityType when empty.
func NormalizeTypeLabelOrDefault(value string) string {
	if normalized := NormalizeTypeLabel(value); normalized != "" {
		return normalized
	}
	return DefaultEntityType
}

// TypePriority returns the merge priority for an entity type.
func TypePriority(value string) int {
	if score, ok := typePriority[strings.ToLower(NormalizeTypeLabelOrDefault(value))]; ok {
		return score
	}
	return defaultTypePriority
}

// SelectType picks the higher-priority of two type labels when merged
// entities disagree. Ties keep the current type.
func SelectType(current, candidate string) string {
	normalizedCurrent := NormalizeTypeLabelOrDefault(current)
	normalizedCandidate := NormalizeTypeLabelOrDefault(candidate)
	if TypePriority(normalizedCandidate) > TypePriority(normalizedCurrent) {
		return normalizedCandidate
	}
	return normalizedCurrent
}

// IsKnownRelationType reports whether value is in the closed
// relationship vocabulary.
func IsKnownRelationType(value string) bool {
	for _, choice := range RelationTypeChoices {
		if choice.Value == value {
			return true
		}
	}
	return false
}

func formatChoices(choices []TypeChoice) string {
	lines := make([]string, 0, len(choices))
	for _, choice := range choices {
		lines = append(lines, "- "+choice.Value+": "+choice.Description)
	}
	return strings.Join(lines, "\n")
}
