package driven

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// Connector reads raw documents from a corpus location.
type Connector interface {
	// Validate checks the location exists and is readable.
	Validate(ctx context.Context) error

	// FullSync reads every supported document.
	// Returns channels for documents and errors; both are closed when done.
	FullSync(ctx context.Context) (<-chan domain.RawDocument, <-chan error)

	// Watch listens for changes until ctx is done.
	Watch(ctx context.Context) (<-chan domain.RawDocumentChange, error)

	// Close releases resources.
	Close() error
}

// ConnectorFactory creates a connector for a corpus path.
type ConnectorFactory func(path string) Connector
