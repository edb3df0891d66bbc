package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// reportStore implements driven.ReportStore on the evaluation_runs table.
// Summary columns are denormalised so listing never decodes a full report.
type reportStore struct {
	store *Store
}

var _ driven.ReportStore = (*reportStore)(nil)

// SaveReport stores a report under its run ID.
func (s *reportStore) SaveReport(ctx context.Context, report *domain.Report) error {
	if report == nil || report.RunID == "" {
		return domain.ErrInvalidInput
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshalling report: %w", err)
	}

	summary := report.Summary()
	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO evaluation_runs (run_id, timestamp, competition_score, scored, total, partial, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			competition_score = excluded.competition_score,
			scored = excluded.scored,
			total = excluded.total,
			partial = excluded.partial,
			report = excluded.report
	`, summary.RunID, toUnixNano(summary.Timestamp), summary.CompetitionScore,
		summary.Scored, summary.Total, summary.Partial, string(data))
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by run ID.
func (s *reportStore) GetReport(ctx context.Context, runID string) (*domain.Report, error) {
	var raw string
	err := s.store.db.QueryRowContext(ctx,
		"SELECT report FROM evaluation_runs WHERE run_id = ?", runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}

	var report domain.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("unmarshalling report %s: %w", runID, err)
	}
	return &report, nil
}

// ListReports returns report summaries, newest first.
func (s *reportStore) ListReports(ctx context.Context, limit int) ([]domain.ReportSummary, error) {
	query := `
		SELECT run_id, timestamp, competition_score, scored, total, partial
		FROM evaluation_runs
		ORDER BY timestamp DESC, run_id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	summaries := []domain.ReportSummary{}
	for rows.Next() {
		var sum domain.ReportSummary
		var ts int64
		if err := rows.Scan(&sum.RunID, &ts, &sum.CompetitionScore, &sum.Scored, &sum.Total, &sum.Partial); err != nil {
			return nil, fmt.Errorf("scanning report summary: %w", err)
		}
		sum.Timestamp = fromUnixNano(ts)
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}

	return summaries, nil
}

// DeleteReport removes a stored report.
func (s *reportStore) DeleteReport(ctx context.Context, runID string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM evaluation_runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
