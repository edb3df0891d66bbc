package driving

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// EvaluationService runs batch evaluations and manages stored reports.
type EvaluationService interface {
	// Run answers every question and scores the results. A cancelled ctx
	// stops new questions and yields a partial report, not an error.
	Run(ctx context.Context, questions []domain.QuestionRecord) (*EvaluationResult, error)

	// ScoreDataset scores pre-generated records without running the pipeline.
	ScoreDataset(ctx context.Context, records []domain.DatasetRecord) (*domain.Report, error)

	// ListReports returns stored report summaries, newest first.
	ListReports(ctx context.Context, limit int) ([]domain.ReportSummary, error)

	// GetReport retrieves a stored report.
	GetReport(ctx context.Context, runID string) (*domain.Report, error)
}

// EvaluationResult is a report plus the dataset it was computed from.
type EvaluationResult struct {
	Report  *domain.Report
	Dataset []domain.DatasetRecord
}
