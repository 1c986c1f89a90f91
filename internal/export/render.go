package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/interpretation-service/internal/core"
)

const (
	ruleWidth     = 70
	exportTitle   = "PERSONA INTERPRETATIONS - TEXT EXPORT"
	dateLayout    = "2006-01-02 15:04:05 MST"
	sectionJoiner = "\n\n"
)

// Document is the content of one export.
type Document struct {
	OriginalText    string
	Interpretations []core.Interpretation
	ExportedAt      time.Time
}

func (d Document) personaNames() []string {
	names := make([]string, 0, len(d.Interpretations))

	for _, interpretation := range d.Interpretations {
		names = append(names, interpretation.PersonaName)
	}

	return names
}

// RenderText renders d as ruled plain text.
func RenderText(d Document) string {
	doubleRule := strings.Repeat("=", ruleWidth)

	sections := make([]string, 0, len(d.Interpretations)+3)
	sections = append(sections, strings.Join([]string{
		doubleRule,
		exportTitle,
		doubleRule,
		"",
		"Export Date: " + d.ExportedAt.Format(dateLayout),
		"Personas: " + strings.Join(d.personaNames(), ", "),
		doubleRule,
	}, "\n"))

	sections = append(sections, textSection("ORIGINAL TEXT", d.OriginalText))

	for _, interpretation := range d.Interpretations {
		body := strings.Join([]string{
			"Generated: " + interpretation.GeneratedAt.Format(dateLayout),
			fmt.Sprintf("Word Count: %d", interpretation.WordCount),
			"",
			interpretation.Content,
		}, "\n")
		sections = append(sections, textSection("INTERPRETATION BY "+strings.ToUpper(interpretation.PersonaName), body))
	}

	sections = append(sections, strings.Join([]string{
		doubleRule,
		fmt.Sprintf("%d interpretations exported", len(d.Interpretations)),
		doubleRule,
	}, "\n"))

	return strings.Join(sections, sectionJoiner)
}

func textSection(title, content string) string {
	rule := strings.Repeat("-", ruleWidth)

	return strings.Join([]string{"", rule, title, rule, "", content, ""}, "\n")
}

// RenderMarkdown renders d as a Markdown document.
func RenderMarkdown(d Document) string {
	var builder strings.Builder

	builder.WriteString("# Persona Interpretations\n\n")
	fmt.Fprintf(&builder, "- **Export Date:** %s\n", d.ExportedAt.Format(dateLayout))
	fmt.Fprintf(&builder, "- **Personas:** %s\n\n", strings.Join(d.personaNames(), ", "))

	builder.WriteString("## Original Text\n\n")
	builder.WriteString(quote(d.OriginalText))
	builder.WriteString("\n\n")

	for _, interpretation := range d.Interpretations {
		fmt.Fprintf(&builder, "## %s (%s)\n\n", interpretation.PersonaName, interpretation.Operation)
		fmt.Fprintf(&builder, "*Generated %s · %d words · %s*\n\n",
			interpretation.GeneratedAt.Format(dateLayout), interpretation.WordCount, interpretation.ModelID)
		builder.WriteString(interpretation.Content)
		builder.WriteString("\n\n")
	}

	builder.WriteString("---\n")
	fmt.Fprintf(&builder, "%d interpretations exported\n", len(d.Interpretations))

	return builder.String()
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for index, line := range lines {
		lines[index] = strings.TrimRight("> "+line, " ")
	}

	return strings.Join(lines, "\n")
}
