package core

import "github.com/book-expert/events"

// InterpretationRequestedEvent asks the service to generate interpretations of
// Text for every persona in PersonaIDs.
type InterpretationRequestedEvent struct {
	Header       events.EventHeader `json:"header"`
	Text         string             `json:"text"`
	PersonaIDs   []string           `json:"persona_ids"`
	Operation    OperationType      `json:"operation"`
	Options      Options            `json:"options"`
	ExportFormat ExportFormat       `json:"export_format,omitempty"`
}

// InterpretationsGeneratedEvent is the reply to an InterpretationRequestedEvent.
// Error is set only when the request itself was malformed; ExportError reports
// a failed export of otherwise successful outcomes.
type InterpretationsGeneratedEvent struct {
	Header      events.EventHeader `json:"header"`
	Outcomes    []Outcome          `json:"outcomes"`
	ExportKey   string             `json:"export_key,omitempty"`
	ExportError string             `json:"export_error,omitempty"`
	Error       *ErrorDescriptor   `json:"error,omitempty"`
}
