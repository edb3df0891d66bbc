package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/logger"
	"github.com/custodia-labs/covera/internal/resilience"
)

// Ensure Retriever implements the interface.
var _ driving.RetrievalService = (*Retriever)(nil)

// Retriever ranks indexed chunks by similarity to a question.
type Retriever struct {
	index         driven.EmbeddingIndex
	embedder      driven.EmbeddingService
	docStore      driven.DocumentStore
	topK          int
	minSimilarity float64
	policy        resilience.Policy
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithTopK sets the default passage count.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithMinSimilarity drops passages scoring below threshold.
func WithMinSimilarity(threshold float64) RetrieverOption {
	return func(r *Retriever) {
		r.minSimilarity = threshold
	}
}

// WithIndexRetry sets the retry policy of index calls.
func WithIndexRetry(p resilience.Policy) RetrieverOption {
	return func(r *Retriever) {
		r.policy = p
	}
}

// NewRetriever creates a retriever. The embedder is expected to carry its
// own retry and rate limiting.
func NewRetriever(
	index driven.EmbeddingIndex,
	embedder driven.EmbeddingService,
	docStore driven.DocumentStore,
	opts ...RetrieverOption,
) *Retriever {
	defaults := domain.DefaultAppSettings().Retrieval
	r := &Retriever{
		index:         index,
		embedder:      embedder,
		docStore:      docStore,
		topK:          defaults.TopK,
		minSimilarity: defaults.MinSimilarity,
		policy:        resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most k passages above the similarity threshold, in
// descending similarity. An empty result is not an error.
func (r *Retriever) Retrieve(
	ctx context.Context, question string, opts domain.QueryOptions,
) ([]domain.RetrievedPassage, error) {
	logger.Section("Retrieval")

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	if r.index == nil || r.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}

	k := opts.TopK
	if k <= 0 {
		k = r.topK
	}
	logger.Debug("Question: %q, k=%d, filters=%v", question, k, opts.Filters)

	meta, err := resilience.DoValue(ctx, r.policy, "index metadata", r.index.Metadata)
	if err != nil {
		return nil, fmt.Errorf("read index metadata: %w", err)
	}
	if meta.IsEmpty() {
		logger.Debug("Index is empty, no passages")
		return []domain.RetrievedPassage{}, nil
	}
	if model := r.embedder.ModelName(); model != meta.Model {
		return nil, fmt.Errorf("%w: index built with %q, query model is %q",
			domain.ErrModelVersionMismatch, meta.Model, model)
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if meta.Dimensions > 0 && len(vector) != meta.Dimensions {
		return nil, fmt.Errorf("%w: index has %d dimensions, query vector has %d",
			domain.ErrModelVersionMismatch, meta.Dimensions, len(vector))
	}

	hits, err := resilience.DoValue(ctx, r.policy, "index query",
		func(ctx context.Context) ([]driven.VectorHit, error) {
			return r.index.Query(ctx, vector, k, opts.Filters)
		})
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	logger.Debug("Index returned %d hits", len(hits))

	passages := make([]domain.RetrievedPassage, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < r.minSimilarity {
			logger.Debug("Dropping %s: similarity %.3f below %.3f", hit.ChunkID, hit.Similarity, r.minSimilarity)
			continue
		}
		chunk, err := r.docStore.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Chunk was removed after the index was written
				continue
			}
			return nil, fmt.Errorf("get chunk %s: %w", hit.ChunkID, err)
		}
		passages = append(passages, domain.RetrievedPassage{
			Chunk: *chunk,
			Score: hit.Similarity,
			Rank:  len(passages) + 1,
		})
	}

	logger.Debug("Retrieved %d passages", len(passages))
	return passages, nil
}
