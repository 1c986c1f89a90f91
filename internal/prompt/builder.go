// Package prompt turns a persona, an operation and an input text into a
// provider-agnostic prompt. It performs no I/O.
package prompt

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/persona"
)

// systemVocabularyLimit bounds how many vocabulary entries reach the system prompt.
const systemVocabularyLimit = 5

const (
	minTemplateLength = 20
	charsPerToken     = 4.0
	tokensPerWord     = 1.3
)

// Catalogue resolves persona ids.
type Catalogue interface {
	Lookup(id string) (persona.Persona, error)
}

// Prompt is the result of building a persona prompt.
type Prompt struct {
	PersonaID    string
	Operation    core.OperationType
	UserMessage  string
	SystemPrompt string
}

// BuildOptions customizes Build.
type BuildOptions struct {
	// Variables are substituted as {name} placeholders. The text placeholder
	// always receives the input text and cannot be overridden.
	Variables map[string]string
	// OmitVoiceProfile leaves SystemPrompt empty.
	OmitVoiceProfile bool
}

// Builder builds prompts from a persona catalogue.
type Builder struct {
	catalogue Catalogue
}

// NewBuilder creates a Builder backed by catalogue.
func NewBuilder(catalogue Catalogue) *Builder {
	return &Builder{catalogue: catalogue}
}

// Build renders the persona's template for op around text.
//
// Placeholders without a matching variable are left verbatim.
func (b *Builder) Build(personaID string, op core.OperationType, text string, opts BuildOptions) (Prompt, error) {
	p, err := b.catalogue.Lookup(personaID)
	if err != nil {
		return Prompt{}, err
	}

	if !op.Valid() {
		return Prompt{}, core.NewError(core.KindValidation, fmt.Sprintf("invalid operation type %q", op), nil)
	}

	if strings.TrimSpace(text) == "" {
		return Prompt{}, core.NewError(core.KindValidation, "text is required and must be non-empty", nil)
	}

	template, ok := p.Template(op)
	if !ok {
		return Prompt{}, core.NewError(core.KindValidation, fmt.Sprintf("persona %s has no %s template", p.ID, op), nil)
	}

	result := Prompt{
		PersonaID:    p.ID,
		Operation:    op,
		UserMessage:  substitute(template, strings.TrimSpace(text), opts.Variables),
		SystemPrompt: "",
	}

	if !opts.OmitVoiceProfile {
		result.SystemPrompt = SystemPrompt(p)
	}

	return result, nil
}

// substitute replaces every placeholder in one pass, so placeholders that
// appear inside the substituted values are never expanded.
func substitute(template, text string, variables map[string]string) string {
	pairs := make([]string, 0, 2*(len(variables)+1))

	for _, name := range slices.Sorted(maps.Keys(variables)) {
		if name == "text" {
			continue
		}

		pairs = append(pairs, "{"+name+"}", variables[name])
	}

	pairs = append(pairs, persona.TextPlaceholder, text)

	return strings.NewReplacer(pairs...).Replace(template)
}

// SystemPrompt describes p's voice so the provider keeps it consistent.
func SystemPrompt(p persona.Persona) string {
	vocabulary := p.Voice.Vocabulary
	if len(vocabulary) > systemVocabularyLimit {
		vocabulary = vocabulary[:systemVocabularyLimit]
	}

	var builder strings.Builder

	fmt.Fprintf(&builder, "You are channeling the spirit of %s.\n\n", p.Name)
	builder.WriteString("Voice characteristics:\n")
	fmt.Fprintf(&builder, "- Tone: %s\n", p.Voice.Tone)
	fmt.Fprintf(&builder, "- Vocabulary: use words and phrases like %s\n", strings.Join(vocabulary, ", "))
	fmt.Fprintf(&builder, "- Structure: %s\n", p.Voice.Structure)
	fmt.Fprintf(&builder, "- Focus: %s\n\n", p.Voice.Focus)
	builder.WriteString("Keep this voice for the whole response.")

	return builder.String()
}

// EstimateTokens approximates the provider token count of text by averaging a
// character based and a word based estimate.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	charEstimate := float64(utf8.RuneCountInString(text)) / charsPerToken
	wordEstimate := float64(len(strings.Fields(text))) * tokensPerWord

	return int(math.Round((charEstimate + wordEstimate) / 2))
}

// ValidateTemplate reports the problems of a candidate template.
func ValidateTemplate(template string) []string {
	var problems []string

	if strings.TrimSpace(template) == "" {
		return []string{"template must be a non-empty string"}
	}

	if !strings.Contains(template, persona.TextPlaceholder) {
		problems = append(problems, "template missing required placeholder: "+persona.TextPlaceholder)
	}

	if utf8.RuneCountInString(strings.TrimSpace(template)) < minTemplateLength {
		problems = append(problems, "template seems too short to be meaningful")
	}

	return problems
}
