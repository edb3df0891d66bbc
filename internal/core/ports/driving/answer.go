package driving

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// RetrievalService returns ranked passages for a question.
type RetrievalService interface {
	// Retrieve returns passages above the similarity threshold, best first.
	// An empty result is not an error.
	Retrieve(ctx context.Context, question string, opts domain.QueryOptions) ([]domain.RetrievedPassage, error)
}

// AnswerService answers questions from indexed documents.
type AnswerService interface {
	// Answer runs the grounded pipeline for one question. The result is
	// either evidence-backed with citations or the fallback answer.
	// An error means the pipeline failed, which is distinct from fallback.
	Answer(ctx context.Context, question string, opts domain.QueryOptions) (*domain.Answer, error)
}
