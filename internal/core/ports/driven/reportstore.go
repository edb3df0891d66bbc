package driven

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// ReportStore persists evaluation reports for later comparison.
type ReportStore interface {
	// SaveReport stores a report under its run ID.
	SaveReport(ctx context.Context, report *domain.Report) error

	// GetReport retrieves a report by run ID.
	// Returns domain.ErrNotFound if no such run exists.
	GetReport(ctx context.Context, runID string) (*domain.Report, error)

	// ListReports returns report summaries, newest first.
	ListReports(ctx context.Context, limit int) ([]domain.ReportSummary, error)

	// DeleteReport removes a stored report.
	DeleteReport(ctx context.Context, runID string) error
}
