package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// Ensure ReportStore implements the interface.
var _ driven.ReportStore = (*ReportStore)(nil)

// ReportStore is an in-memory implementation of driven.ReportStore.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]domain.Report
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]domain.Report)}
}

// SaveReport stores a report under its run ID.
func (s *ReportStore) SaveReport(_ context.Context, report *domain.Report) error {
	if report == nil || report.RunID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RunID] = *report
	return nil
}

// GetReport retrieves a report by run ID.
func (s *ReportStore) GetReport(_ context.Context, runID string) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

// ListReports returns report summaries, newest first.
func (s *ReportStore) ListReports(_ context.Context, limit int) ([]domain.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ReportSummary, 0, len(s.reports))
	for id := range s.reports {
		r := s.reports[id]
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].RunID < out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteReport removes a stored report.
func (s *ReportStore) DeleteReport(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[runID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.reports, runID)
	return nil
}
