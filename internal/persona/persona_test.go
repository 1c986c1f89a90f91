// Package persona_test tests the persona registry and catalogue loading.
package persona_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/persona"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPersona(id string, category persona.Category) persona.Persona {
	return persona.Persona{
		ID:          id,
		Name:        "Persona " + id,
		Icon:        "",
		Category:    category,
		Description: "",
		Voice: persona.VoiceProfile{
			Tone:       "dry",
			Vocabulary: []string{"alpha", "beta"},
			Structure:  "short",
			Focus:      "facts",
		},
		Templates: map[core.OperationType]string{
			core.OperationSummary:  "Summarize: {text}",
			core.OperationRewrite:  "Rewrite: {text}",
			core.OperationEnding:   "End: {text}",
			core.OperationAnalysis: "Analyze: {text}",
		},
	}
}

func TestLoadDefault(t *testing.T) {
	t.Parallel()

	registry, err := persona.LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, 10, registry.Len())

	poe, err := registry.Lookup("poe")
	require.NoError(t, err)
	assert.Equal(t, "Edgar Allan Poe", poe.Name)
	assert.Equal(t, persona.CategoryAuthor, poe.Category)

	for _, p := range registry.All() {
		for _, op := range core.Operations() {
			template, ok := p.Template(op)
			require.True(t, ok, "%s missing %s", p.ID, op)
			assert.Contains(t, template, persona.TextPlaceholder)
		}
	}
}

func TestRegistry_Categories_FirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	registry, err := persona.LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, []persona.Category{
		persona.CategoryAuthor,
		persona.CategoryCharacter,
		persona.CategoryPerspective,
		persona.CategoryAbstract,
	}, registry.Categories())
}

func TestRegistry_ListByCategory_DeclarationOrder(t *testing.T) {
	t.Parallel()

	registry, err := persona.New([]persona.Persona{
		validPersona("a", persona.CategoryAuthor),
		validPersona("b", persona.CategoryCharacter),
		validPersona("c", persona.CategoryAuthor),
	})
	require.NoError(t, err)

	authors := registry.ListByCategory(persona.CategoryAuthor)
	require.Len(t, authors, 2)
	assert.Equal(t, "a", authors[0].ID)
	assert.Equal(t, "c", authors[1].ID)
	assert.Empty(t, registry.ListByCategory(persona.CategoryAbstract))
}

func TestRegistry_Lookup_NotFound(t *testing.T) {
	t.Parallel()

	registry, err := persona.New([]persona.Persona{validPersona("a", persona.CategoryAuthor)})
	require.NoError(t, err)

	_, err = registry.Lookup("ghost-writer")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestNew_ValidationFailures(t *testing.T) {
	t.Parallel()

	missingTemplate := validPersona("missing", persona.CategoryAuthor)
	delete(missingTemplate.Templates, core.OperationEnding)

	noPlaceholder := validPersona("noplaceholder", persona.CategoryAuthor)
	noPlaceholder.Templates = map[core.OperationType]string{
		core.OperationSummary:  "Summarize the passage",
		core.OperationRewrite:  "Rewrite: {text}",
		core.OperationEnding:   "End: {text}",
		core.OperationAnalysis: "Analyze: {text}",
	}

	noVoice := validPersona("novoice", persona.CategoryAuthor)
	noVoice.Voice.Focus = ""

	badCategory := validPersona("badcategory", persona.Category("ghost"))

	tests := []struct {
		name     string
		personas []persona.Persona
		wantMsg  string
	}{
		{
			name:     "duplicate id",
			personas: []persona.Persona{validPersona("a", persona.CategoryAuthor), validPersona("a", persona.CategoryAuthor)},
			wantMsg:  `duplicate persona id "a"`,
		},
		{name: "missing template", personas: []persona.Persona{missingTemplate}, wantMsg: "missing ending template"},
		{name: "missing placeholder", personas: []persona.Persona{noPlaceholder}, wantMsg: "summary template missing {text}"},
		{name: "incomplete voice", personas: []persona.Persona{noVoice}, wantMsg: "missing voice focus"},
		{name: "unknown category", personas: []persona.Persona{badCategory}, wantMsg: "unknown category"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := persona.New(testCase.personas)
			require.Error(t, err)
			assert.ErrorIs(t, err, persona.ErrInvalidCatalogue)
			assert.Contains(t, err.Error(), testCase.wantMsg)
		})
	}
}

func TestNew_EmptyCatalogue(t *testing.T) {
	t.Parallel()

	_, err := persona.New(nil)
	require.ErrorIs(t, err, persona.ErrEmptyCatalogue)
}

func TestNew_CopiesInput(t *testing.T) {
	t.Parallel()

	input := validPersona("a", persona.CategoryAuthor)
	registry, err := persona.New([]persona.Persona{input})
	require.NoError(t, err)

	input.Templates[core.OperationSummary] = "mutated {text}"
	input.Voice.Vocabulary[0] = "mutated"

	stored, err := registry.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "Summarize: {text}", stored.Templates[core.OperationSummary])
	assert.Equal(t, "alpha", stored.Voice.Vocabulary[0])
}

func TestLoad_ReducedCatalogue(t *testing.T) {
	t.Parallel()

	catalogue := `
[[persona]]
id = "poe"
name = "Edgar Allan Poe"
category = "author"

[persona.voice]
tone = "gloomy"
vocabulary = ["dreary"]
structure = "long"
focus = "death"

[persona.templates]
summary = "Summarize: {text}"
rewrite = "Rewrite: {text}"
ending = "End: {text}"
analysis = "Analyze: {text}"
`

	registry, err := persona.Load(strings.NewReader(catalogue))
	require.NoError(t, err)
	require.Equal(t, 1, registry.Len())

	poe, err := registry.Lookup("poe")
	require.NoError(t, err)

	template, ok := poe.Template(core.OperationSummary)
	require.True(t, ok)
	assert.Equal(t, "Summarize: {text}", template)
}

func TestLoad_MissingTemplateIsFatal(t *testing.T) {
	t.Parallel()

	catalogue := `
[[persona]]
id = "poe"
name = "Edgar Allan Poe"
category = "author"

[persona.voice]
tone = "gloomy"
vocabulary = ["dreary"]
structure = "long"
focus = "death"

[persona.templates]
summary = "Summarize: {text}"
`

	_, err := persona.Load(strings.NewReader(catalogue))
	require.Error(t, err)
	assert.True(t, errors.Is(err, persona.ErrInvalidCatalogue))
}

func TestLoad_MalformedTOML(t *testing.T) {
	t.Parallel()

	_, err := persona.Load(strings.NewReader("[[persona]\nid = "))
	require.Error(t, err)
	assert.NotErrorIs(t, err, persona.ErrInvalidCatalogue)
}
