// Package export renders finished interpretations and stores them in the
// object store.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Content types of the supported formats.
const (
	ContentTypeText     = "text/plain; charset=utf-8"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
)

const logFmtExported = "Exported %d interpretations as %s to %s (%d bytes)"

// Sink implements core.ExportSink on top of an object store.
type Sink struct {
	store core.ObjectStore
	now   func() time.Time
	newID func() string
	log   *logger.Logger
}

// NewSink creates a Sink that uploads to store.
func NewSink(store core.ObjectStore, log *logger.Logger) *Sink {
	return &Sink{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   log,
	}
}

// WithClock returns a copy of s that stamps exports with now.
func (s *Sink) WithClock(now func() time.Time) *Sink {
	clone := *s
	clone.now = now

	return &clone
}

// Export renders interpretations in format and uploads the document. It
// returns the object key.
func (s *Sink) Export(
	ctx context.Context,
	originalText string,
	interpretations []core.Interpretation,
	format core.ExportFormat,
) (string, error) {
	if len(interpretations) == 0 {
		return "", core.NewError(core.KindValidation, "nothing to export", nil)
	}

	document := Document{
		OriginalText:    originalText,
		Interpretations: interpretations,
		ExportedAt:      s.now(),
	}

	var (
		rendered    string
		contentType string
	)

	switch format {
	case core.ExportText:
		rendered, contentType = RenderText(document), ContentTypeText
	case core.ExportMarkdown:
		rendered, contentType = RenderMarkdown(document), ContentTypeMarkdown
	case core.ExportNone:
		return "", core.NewError(core.KindValidation, "export format is required", nil)
	default:
		return "", core.NewError(core.KindValidation, fmt.Sprintf("unsupported export format %q", format), nil)
	}

	key := s.newID() + "." + string(format)

	err := s.store.Upload(ctx, key, []byte(rendered), contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload export %s: %w", key, err)
	}

	s.log.Info(logFmtExported, len(interpretations), format, key, len(rendered))

	return key, nil
}
