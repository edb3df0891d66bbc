package driven

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// DocumentStore persists documents and chunks. Superseded document
// versions and their chunks are kept so old citations still resolve.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// SaveChunks stores chunks for a document.
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetChunks retrieves all chunks for a document in position order.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunk retrieves a specific chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// LatestBySource returns the current version for a source URI.
	// Returns domain.ErrNotFound when the source was never ingested.
	LatestBySource(ctx context.Context, sourceURI string) (*domain.Document, error)

	// MarkSuperseded links an old version to its replacement.
	MarkSuperseded(ctx context.Context, oldID, newID string) error

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns documents, latest versions only unless all is set.
	ListDocuments(ctx context.Context, all bool) ([]domain.Document, error)
}
