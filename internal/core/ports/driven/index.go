package driven

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// EmbeddingIndex stores chunk embeddings with metadata and answers
// nearest-neighbour queries.
//
// Queries may run concurrently with writes. Writes for one document are
// serialized, and a query observes either the previous or the new chunk
// set of a document, never a mix.
type EmbeddingIndex interface {
	// Upsert inserts or replaces a single chunk embedding.
	Upsert(ctx context.Context, chunk domain.Chunk, embedding domain.Embedding) error

	// ReplaceDocument atomically replaces every entry of a document.
	ReplaceDocument(ctx context.Context, documentID string, entries []IndexEntry) error

	// DeleteDocument removes every entry of a document.
	DeleteDocument(ctx context.Context, documentID string) error

	// Query returns at most k hits ordered by descending similarity, ties
	// broken by ascending chunk ID. Filters narrow the candidate set.
	Query(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]VectorHit, error)

	// Metadata returns the model the index was built with.
	Metadata(ctx context.Context) (domain.IndexMetadata, error)

	// Reset removes every entry and the recorded model.
	Reset(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// IndexEntry pairs a chunk with its embedding.
type IndexEntry struct {
	Chunk     domain.Chunk
	Embedding domain.Embedding
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Similarity is the cosine similarity score.
	Similarity float64
}
