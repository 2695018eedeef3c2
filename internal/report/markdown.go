package report

import (
	"fmt"
	"strings"
	"time"

	"pulsecheck/internal/domain"
)

const lowConfidenceFootnote = "*Items marked with an asterisk have lower confidence and may require manual review."

var sectionIcons = map[domain.StatusType]string{
	domain.StatusWins:       "🎉",
	domain.StatusRisks:      "⚠️",
	domain.StatusBlockers:   "🚧",
	domain.StatusDependency: "🔗",
	domain.StatusNextSteps:  "➡️",
}

// Report is the final item list of a session plus what shapes its output.
type Report struct {
	Team        string
	Date        time.Time
	Items       []domain.ClassifiedItem
	Preferences domain.AgentPreferences
}

// Markdown renders items grouped in fixed category order. Low-confidence
// items get a trailing asterisk and the report a footnote.
func Markdown(r Report) string {
	var b strings.Builder
	b.WriteString("# Status Report\n\n")
	if meta := headerLine(r); meta != "" {
		b.WriteString(meta + "\n\n")
	}

	grouped := map[domain.StatusType][]domain.ClassifiedItem{}
	hasLow := false
	for _, item := range r.Items {
		grouped[item.Type] = append(grouped[item.Type], item)
		if item.IsLowConfidence() {
			hasLow = true
		}
	}

	paragraph := r.Preferences.Format == domain.FormatParagraph
	for _, t := range domain.StatusTypes {
		items := grouped[t]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s %s\n\n", sectionIcons[t], t.Label())
		if paragraph {
			sentences := make([]string, 0, len(items))
			for _, item := range items {
				sentences = append(sentences, sentence(item.Text)+marker(item))
			}
			b.WriteString(strings.Join(sentences, " "))
			b.WriteString("\n\n")
			continue
		}
		for _, item := range items {
			fmt.Fprintf(&b, "• %s%s\n", strings.TrimSpace(item.Text), marker(item))
		}
		b.WriteString("\n")
	}

	if hasLow {
		b.WriteString("---\n\n")
		b.WriteString(lowConfidenceFootnote + "\n")
	}
	return b.String()
}

func headerLine(r Report) string {
	var parts []string
	if name := r.Preferences.Normalized().AttributionName; name != "" {
		parts = append(parts, "**"+name+"**")
	}
	if team := strings.TrimSpace(r.Team); team != "" {
		parts = append(parts, team)
	}
	if !r.Date.IsZero() {
		parts = append(parts, r.Date.Format("2006-01-02"))
	}
	return strings.Join(parts, " · ")
}

func sentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") {
		return text
	}
	return text + "."
}

func marker(item domain.ClassifiedItem) string {
	if item.IsLowConfidence() {
		return "*"
	}
	return ""
}
