package interview

import (
	"fmt"
	"strings"
)

// RenderMarkdown turns a synthesized document into its display form.
func RenderMarkdown(doc *Document) string {
	if doc == nil {
		return ""
	}

	var b strings.Builder
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Knowledge Transfer Document"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if summary := strings.TrimSpace(doc.Summary); summary != "" {
		fmt.Fprintf(&b, "%s\n\n", summary)
	}

	for _, section := range doc.Sections {
		topic := strings.TrimSpace(section.Topic)
		if topic == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", topic, strings.TrimSpace(section.Content))
	}

	writeList := func(heading string, items []string) {
		kept := items[:0:0]
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				kept = append(kept, item)
			}
		}
		if len(kept) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n", heading)
		for _, item := range kept {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	writeList("Critical Knowledge", doc.CriticalKnowledge)
	writeList("Knowledge Gaps", doc.Gaps)
	writeList("Recommended Actions", doc.RecommendedSteps)
	writeList("Follow-up Questions", doc.FollowUpQuestions)

	return strings.TrimRight(b.String(), "\n") + "\n"
}
