package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// DocumentService exposes indexed documents and resolves citations.
type DocumentService interface {
	// List returns documents, latest versions only unless all is set.
	List(ctx context.Context, all bool) ([]domain.Document, error)

	// Get retrieves a document by ID, including superseded versions.
	Get(ctx context.Context, documentID string) (*domain.Document, error)

	// GetChunks returns the chunks of a document in order.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetDetails returns metadata for display.
	GetDetails(ctx context.Context, documentID string) (*DocumentDetails, error)

	// ResolveCitation returns the chunk a citation points to.
	ResolveCitation(ctx context.Context, citation domain.Citation) (*domain.Chunk, error)

	// GetContent returns the document text rebuilt from its chunks.
	GetContent(ctx context.Context, documentID string) (string, error)

	// Open opens the document source in the default application.
	Open(ctx context.Context, documentID string) error
}

// DocumentDetails provides a standardised view of document metadata.
type DocumentDetails struct {
	// ID is the unique document identifier.
	ID string

	// Title is the document title.
	Title string

	// URI is the original location.
	URI string

	// Language is the detected or declared language.
	Language string

	// InsuranceType is the insurance topic, if known.
	InsuranceType string

	// ChunkCount is the number of chunks.
	ChunkCount int

	// SupersededBy is the newer version, empty for the latest.
	SupersededBy string

	// CreatedAt is when this version was indexed.
	CreatedAt time.Time

	// Metadata contains flattened key-value pairs for display.
	Metadata map[string]string
}
