// Package core defines the domain types and collaborator interfaces for the
// interpretation service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// ProviderRequest is a fully resolved, provider-agnostic generation call.
type ProviderRequest struct {
	ModelID      string
	UserMessage  string
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
}

// Provider is the opaque text-generation backend.
//
// Implementations must report failures as *ClassifiedError so the retry
// executor never has to inspect transport specific error shapes.
type Provider interface {
	Invoke(ctx context.Context, req ProviderRequest) (string, error)
}

// ExportSink consumes finished interpretations together with the original text.
type ExportSink interface {
	Export(ctx context.Context, originalText string, interpretations []Interpretation, format ExportFormat) (string, error)
}
