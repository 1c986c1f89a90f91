package persona

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/pelletier/go-toml/v2"
)

//go:embed catalogue.toml
var defaultCatalogue []byte

type catalogueFile struct {
	Personas []personaRecord `toml:"persona"`
}

type personaRecord struct {
	ID          string          `toml:"id"`
	Name        string          `toml:"name"`
	Icon        string          `toml:"icon"`
	Category    string          `toml:"category"`
	Description string          `toml:"description"`
	Voice       voiceRecord     `toml:"voice"`
	Templates   templatesRecord `toml:"templates"`
}

type voiceRecord struct {
	Tone       string   `toml:"tone"`
	Vocabulary []string `toml:"vocabulary"`
	Structure  string   `toml:"structure"`
	Focus      string   `toml:"focus"`
}

type templatesRecord struct {
	Summary  string `toml:"summary"`
	Rewrite  string `toml:"rewrite"`
	Ending   string `toml:"ending"`
	Analysis string `toml:"analysis"`
}

func (r personaRecord) toPersona() Persona {
	templates := make(map[core.OperationType]string, len(core.Operations()))

	for op, template := range map[core.OperationType]string{
		core.OperationSummary:  r.Templates.Summary,
		core.OperationRewrite:  r.Templates.Rewrite,
		core.OperationEnding:   r.Templates.Ending,
		core.OperationAnalysis: r.Templates.Analysis,
	} {
		if template != "" {
			templates[op] = template
		}
	}

	return Persona{
		ID:          r.ID,
		Name:        r.Name,
		Icon:        r.Icon,
		Category:    Category(r.Category),
		Description: r.Description,
		Voice: VoiceProfile{
			Tone:       r.Voice.Tone,
			Vocabulary: r.Voice.Vocabulary,
			Structure:  r.Voice.Structure,
			Focus:      r.Voice.Focus,
		},
		Templates: templates,
	}
}

// Load parses a TOML catalogue and validates it into a Registry.
func Load(reader io.Reader) (*Registry, error) {
	var file catalogueFile

	err := toml.NewDecoder(reader).Decode(&file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode persona catalogue: %w", err)
	}

	personas := make([]Persona, 0, len(file.Personas))
	for _, record := range file.Personas {
		personas = append(personas, record.toPersona())
	}

	return New(personas)
}

// LoadFile loads a catalogue from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona catalogue %s: %w", path, err)
	}

	return Load(bytes.NewReader(data))
}

// LoadDefault loads the catalogue compiled into the binary.
func LoadDefault() (*Registry, error) {
	return Load(bytes.NewReader(defaultCatalogue))
}
