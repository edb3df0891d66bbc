package driven

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// Normaliser parses raw corpus files into structured documents.
// Each normaliser handles specific MIME types (e.g., HTML, Markdown).
type Normaliser interface {
	// SupportedMIMETypes returns the MIME types this normaliser handles.
	SupportedMIMETypes() []string

	// Priority returns the selection priority (higher = preferred).
	// Format-specific normalisers return 50-89, fallbacks 1-9.
	Priority() int

	// Normalise parses a raw document into ordered structural nodes.
	// Chunking is handled by the PostProcessor pipeline.
	Normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error)
}
