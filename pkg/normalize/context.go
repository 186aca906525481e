package normalize

import "strings"

// DocInfo carries the document metadata used to build classifier
// context. All fields are optional.
type DocInfo struct {
	Title       string
	Description string
	Categories  []string
	Tags        []string
}

// BuildDocContext renders document metadata into the context block
// appended to classifier prompts. Empty fields are omitted; an empty
// DocInfo yields "".
func BuildDocContext(doc DocInfo) string {
	parts := []string{}
	if doc.Title != "" {
		parts = append(parts, "标题: "+doc.Title)
	}
	if doc.Description != "" {
		parts = append(parts, "摘要: "+doc.Description)
	}
	if names := nonEmpty(doc.Categories); len(names) > 0 {
		parts = append(parts, "分类: "+strings.Join(names, ", "))
	}
	if names := nonEmpty(doc.Tags); len(names) > 0 {
		parts = append(parts, "标签: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n")
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
