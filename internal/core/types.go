package core

import (
	"fmt"
	"time"
)

// OperationType selects the prompt template and the quality tier of a generation.
type OperationType string

// Recognized operation types.
const (
	OperationSummary  OperationType = "summary"
	OperationRewrite  OperationType = "rewrite"
	OperationEnding   OperationType = "ending"
	OperationAnalysis OperationType = "analysis"
)

// Operations lists every recognized operation type in a stable order.
func Operations() []OperationType {
	return []OperationType{OperationSummary, OperationRewrite, OperationEnding, OperationAnalysis}
}

// Valid reports whether op is one of the recognized operation types.
func (op OperationType) Valid() bool {
	switch op {
	case OperationSummary, OperationRewrite, OperationEnding, OperationAnalysis:
		return true
	default:
		return false
	}
}

// ParseOperation converts a string into an OperationType.
func ParseOperation(value string) (OperationType, error) {
	op := OperationType(value)
	if !op.Valid() {
		return "", NewError(KindValidation, fmt.Sprintf("invalid operation type %q", value), nil)
	}

	return op, nil
}

// ExportFormat names a rendering of exported interpretations.
type ExportFormat string

// Supported export formats.
const (
	ExportNone     ExportFormat = ""
	ExportText     ExportFormat = "txt"
	ExportMarkdown ExportFormat = "md"
)

// Options tunes a single generation. Nil pointers mean "use the tier default".
type Options struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	ModelOverride string   `json:"model_override,omitempty"`
	UseCache      *bool    `json:"use_cache,omitempty"`
}

// CacheEnabled reports whether the result cache should be consulted. It
// defaults to true.
func (o Options) CacheEnabled() bool {
	return o.UseCache == nil || *o.UseCache
}

// WithoutCache returns a copy of o with caching disabled.
func (o Options) WithoutCache() Options {
	disabled := false
	o.UseCache = &disabled

	return o
}

// Interpretation is the immutable result of one persona generation.
type Interpretation struct {
	PersonaID         string        `json:"persona_id"`
	PersonaName       string        `json:"persona_name"`
	Operation         OperationType `json:"operation"`
	Content           string        `json:"content"`
	ModelID           string        `json:"model_id"`
	GeneratedAt       time.Time     `json:"generated_at"`
	WordCount         int           `json:"word_count"`
	OriginalWordCount int           `json:"original_word_count"`
}

// ErrorDescriptor reports the failure of one persona within a batch.
type ErrorDescriptor struct {
	PersonaID    string    `json:"persona_id"`
	PersonaName  string    `json:"persona_name,omitempty"`
	Kind         ErrorKind `json:"kind"`
	ErrorMessage string    `json:"error_message"`
}

// Outcome holds either an Interpretation or an ErrorDescriptor, never both.
type Outcome struct {
	Interpretation *Interpretation  `json:"interpretation,omitempty"`
	Failure        *ErrorDescriptor `json:"failure,omitempty"`
}

// Succeeded reports whether the outcome carries an interpretation.
func (o Outcome) Succeeded() bool {
	return o.Interpretation != nil
}

// Interpretations returns the successful interpretations of outcomes, in order.
func Interpretations(outcomes []Outcome) []Interpretation {
	result := make([]Interpretation, 0, len(outcomes))

	for _, outcome := range outcomes {
		if outcome.Interpretation != nil {
			result = append(result, *outcome.Interpretation)
		}
	}

	return result
}
