// Package persona provides the immutable catalogue of generation voices.
package persona

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/book-expert/interpretation-service/internal/core"
)

// TextPlaceholder is substituted with the input text in every template.
const TextPlaceholder = "{text}"

// Category groups personas for browsing.
type Category string

// Known persona categories.
const (
	CategoryAuthor      Category = "author"
	CategoryCharacter   Category = "character"
	CategoryPerspective Category = "perspective"
	CategoryAbstract    Category = "abstract"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuthor, CategoryCharacter, CategoryPerspective, CategoryAbstract:
		return true
	default:
		return false
	}
}

// VoiceProfile describes how a persona writes.
type VoiceProfile struct {
	Tone       string   `json:"tone"`
	Vocabulary []string `json:"vocabulary"`
	Structure  string   `json:"structure"`
	Focus      string   `json:"focus"`
}

// Persona is a named generation voice with one prompt template per operation.
// Values handed out by a Registry must be treated as read-only.
type Persona struct {
	ID          string                        `json:"id"`
	Name        string                        `json:"name"`
	Icon        string                        `json:"icon,omitempty"`
	Category    Category                      `json:"category"`
	Description string                        `json:"description,omitempty"`
	Voice       VoiceProfile                  `json:"voice"`
	Templates   map[core.OperationType]string `json:"-"`
}

// Template returns the prompt template for op.
func (p Persona) Template(op core.OperationType) (string, bool) {
	template, ok := p.Templates[op]

	return template, ok && template != ""
}

func (p Persona) clone() Persona {
	p.Voice.Vocabulary = slices.Clone(p.Voice.Vocabulary)
	p.Templates = maps.Clone(p.Templates)

	return p
}

var (
	// ErrInvalidCatalogue is returned when personas fail load-time validation.
	ErrInvalidCatalogue = errors.New("invalid persona catalogue")
	// ErrEmptyCatalogue is returned when no personas are supplied.
	ErrEmptyCatalogue = errors.New("persona catalogue is empty")
)

// Registry is the read-only lookup table of personas, kept in declaration order.
type Registry struct {
	personas []Persona
	byID     map[string]int
}

// New validates personas and builds a Registry. All violations are reported
// together.
func New(personas []Persona) (*Registry, error) {
	if len(personas) == 0 {
		return nil, ErrEmptyCatalogue
	}

	registry := &Registry{
		personas: make([]Persona, 0, len(personas)),
		byID:     make(map[string]int, len(personas)),
	}

	var problems []error

	for _, candidate := range personas {
		problems = append(problems, validatePersona(candidate)...)

		if _, duplicate := registry.byID[candidate.ID]; duplicate {
			problems = append(problems, fmt.Errorf("duplicate persona id %q", candidate.ID))

			continue
		}

		registry.byID[candidate.ID] = len(registry.personas)
		registry.personas = append(registry.personas, candidate.clone())
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalogue, errors.Join(problems...))
	}

	return registry, nil
}

func validatePersona(p Persona) []error {
	var problems []error

	if strings.TrimSpace(p.ID) == "" {
		return []error{fmt.Errorf("persona %q has an empty id", p.Name)}
	}

	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, fmt.Errorf("persona %s has an empty name", p.ID))
	}

	if !p.Category.Valid() {
		problems = append(problems, fmt.Errorf("persona %s has unknown category %q", p.ID, p.Category))
	}

	for _, op := range core.Operations() {
		template, ok := p.Template(op)
		if !ok {
			problems = append(problems, fmt.Errorf("persona %s missing %s template", p.ID, op))

			continue
		}

		if !strings.Contains(template, TextPlaceholder) {
			problems = append(problems, fmt.Errorf("persona %s %s template missing %s placeholder", p.ID, op, TextPlaceholder))
		}
	}

	voice := p.Voice
	if voice.Tone == "" {
		problems = append(problems, fmt.Errorf("persona %s missing voice tone", p.ID))
	}

	if len(voice.Vocabulary) == 0 {
		problems = append(problems, fmt.Errorf("persona %s missing voice vocabulary", p.ID))
	}

	if voice.Structure == "" {
		problems = append(problems, fmt.Errorf("persona %s missing voice structure", p.ID))
	}

	if voice.Focus == "" {
		problems = append(problems, fmt.Errorf("persona %s missing voice focus", p.ID))
	}

	return problems
}

// Lookup returns the persona with the given id.
func (r *Registry) Lookup(id string) (Persona, error) {
	index, ok := r.byID[id]
	if !ok {
		return Persona{}, core.NewError(core.KindNotFound, fmt.Sprintf("persona not found: %s", id), nil)
	}

	return r.personas[index], nil
}

// All returns every persona in declaration order.
func (r *Registry) All() []Persona {
	return slices.Clone(r.personas)
}

// ListByCategory returns the personas of category in declaration order.
func (r *Registry) ListByCategory(category Category) []Persona {
	var result []Persona

	for _, p := range r.personas {
		if p.Category == category {
			result = append(result, p)
		}
	}

	return result
}

// Categories returns the distinct categories in first-occurrence order.
func (r *Registry) Categories() []Category {
	seen := make(map[Category]struct{})

	var result []Category

	for _, p := range r.personas {
		if _, ok := seen[p.Category]; ok {
			continue
		}

		seen[p.Category] = struct{}{}
		result = append(result, p.Category)
	}

	return result
}

// Len returns the number of personas.
func (r *Registry) Len() int {
	return len(r.personas)
}
