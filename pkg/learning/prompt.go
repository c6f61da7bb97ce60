package learning

import "strings"

// PromptContext renders the newest insights as a block for the agent prompt.
// insights are expected newest first.
func PromptContext(insights []Insight, limit int) string {
	if len(insights) == 0 {
		return ""
	}
	if limit > 0 && len(insights) > limit {
		insights = insights[:limit]
	}

	var b strings.Builder
	b.WriteString("LEARNED RULES (from analyzing performance of videos across tracked channels).\n")
	b.WriteString("Use these patterns to make BETTER suggestions this time:")
	for _, ins := range insights {
		b.WriteString("\n  - ")
		b.WriteString(ins.Text)
	}
	return b.String()
}
