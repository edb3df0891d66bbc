package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure EvaluationService implements the interface.
var _ driving.EvaluationService = (*EvaluationService)(nil)

// DefaultEvalConcurrency bounds concurrent questions when unset.
const DefaultEvalConcurrency = 4

// EvaluationService answers a question set and scores the results.
type EvaluationService struct {
	answers        driving.AnswerService
	scorer         *Scorer
	reports        driven.ReportStore
	embeddingModel string
	concurrency    int
	domainFilters  bool
	now            func() time.Time
}

// EvaluationOption configures an EvaluationService.
type EvaluationOption func(*EvaluationService)

// WithEvalConcurrency bounds the questions processed at once.
func WithEvalConcurrency(n int) EvaluationOption {
	return func(s *EvaluationService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithReportStore persists every finished report.
func WithReportStore(store driven.ReportStore) EvaluationOption {
	return func(s *EvaluationService) {
		s.reports = store
	}
}

// WithEmbeddingModel records the embedding model in reports.
func WithEmbeddingModel(model string) EvaluationOption {
	return func(s *EvaluationService) {
		s.embeddingModel = model
	}
}

// WithDomainFilters restricts retrieval to the insurance type named by
// each question's domain.
func WithDomainFilters() EvaluationOption {
	return func(s *EvaluationService) {
		s.domainFilters = true
	}
}

// NewEvaluationService creates an evaluation service. answers may be nil
// when only pre-generated datasets are scored.
func NewEvaluationService(answers driving.AnswerService, scorer *Scorer, opts ...EvaluationOption) *EvaluationService {
	if scorer == nil {
		scorer = NewScorer()
	}
	s := &EvaluationService{
		answers:     answers,
		scorer:      scorer,
		concurrency: DefaultEvalConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run answers every question and scores the results. When ctx is
// cancelled no further questions start; questions already in flight
// finish and the rest are reported as skipped.
func (s *EvaluationService) Run(ctx context.Context, questions []domain.QuestionRecord) (*driving.EvaluationResult, error) {
	logger.Section("Evaluation")

	if s.answers == nil {
		return nil, fmt.Errorf("%w: answer service not configured", domain.ErrInvalidInput)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", domain.ErrInvalidInput)
	}

	records := make([]domain.DatasetRecord, len(questions))
	for i, q := range questions {
		records[i] = domain.DatasetRecord{
			ID:          recordID(q.ID, i),
			Question:    q.Question,
			GroundTruth: q.GroundTruth,
			Status:      domain.StatusSkipped,
		}
		if err := checkQuestion(q); err != nil {
			records[i].Status = domain.StatusFailed
			records[i].Error = err.Error()
		}
	}

	partial := s.forEach(ctx, len(questions), func(ctx context.Context, i int) {
		if records[i].Status == domain.StatusFailed {
			return
		}
		s.answer(ctx, questions[i], &records[i])
	})
	logger.Info("Answered %d questions", len(questions))

	// Answered questions are scored even after cancellation.
	report, err := s.score(context.WithoutCancel(ctx), records, partial)
	if err != nil {
		return nil, err
	}
	return &driving.EvaluationResult{Report: report, Dataset: records}, nil
}

// ScoreDataset scores pre-generated records. Records without a status
// are treated as answered, or fallback when they carry the fallback text.
func (s *EvaluationService) ScoreDataset(ctx context.Context, records []domain.DatasetRecord) (*domain.Report, error) {
	logger.Section("Scoring")

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty dataset", domain.ErrInvalidInput)
	}

	dataset := make([]domain.DatasetRecord, len(records))
	for i, rec := range records {
		rec.ID = recordID(rec.ID, i)
		if rec.Status == "" {
			rec.Status = domain.StatusAnswered
			if isFallbackRecord(rec) {
				rec.Status = domain.StatusFallback
			}
		}
		dataset[i] = rec
	}

	return s.score(ctx, dataset, false)
}

// ListReports returns stored report summaries, newest first.
func (s *EvaluationService) ListReports(ctx context.Context, limit int) ([]domain.ReportSummary, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("%w: report store not configured", domain.ErrInvalidInput)
	}
	return s.reports.ListReports(ctx, limit)
}

// GetReport retrieves a stored report.
func (s *EvaluationService) GetReport(ctx context.Context, runID string) (*domain.Report, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("%w: report store not configured", domain.ErrInvalidInput)
	}
	return s.reports.GetReport(ctx, runID)
}

// answer runs the pipeline for one question. Pipeline errors mark the
// record failed.
func (s *EvaluationService) answer(ctx context.Context, q domain.QuestionRecord, rec *domain.DatasetRecord) {
	var opts domain.QueryOptions
	if s.domainFilters && q.Domain != "" {
		opts.Filters = domain.Filters{domain.MetaInsuranceType: q.Domain}
	}

	ans, err := s.answers.Answer(ctx, q.Question, opts)
	if err != nil {
		logger.Warn("Question %s failed: %v", rec.ID, err)
		rec.Status = domain.StatusFailed
		rec.Error = err.Error()
		return
	}

	rec.Answer = ans.Text
	rec.Contexts = domain.PassageTexts(ans.Passages)
	rec.Citations = ans.Citations()
	rec.Status = domain.StatusAnswered
	if ans.IsFallback() {
		rec.Status = domain.StatusFallback
	}
}

// score computes metrics for every scorable record and builds the report.
func (s *EvaluationService) score(ctx context.Context, records []domain.DatasetRecord, partial bool) (*domain.Report, error) {
	evaluated := make([]domain.EvaluationRecord, len(records))
	for i, rec := range records {
		evaluated[i] = domain.EvaluationRecord{
			Index:       i,
			ID:          rec.ID,
			Question:    rec.Question,
			Answer:      rec.Answer,
			GroundTruth: rec.GroundTruth,
			Contexts:    rec.Contexts,
			Citations:   rec.Citations,
			Status:      rec.Status,
			Error:       rec.Error,
		}
	}

	scoringPartial := s.forEach(ctx, len(records), func(ctx context.Context, i int) {
		rec := &evaluated[i]
		if !rec.Status.IsScored() {
			return
		}
		m, err := s.scorer.Score(ctx, records[i])
		if err != nil {
			logger.Warn("Scoring %s failed: %v", rec.ID, err)
			rec.Status = domain.StatusFailed
			rec.Error = err.Error()
			return
		}
		rec.Metrics = &m
	})
	if scoringPartial {
		partial = true
		for i := range evaluated {
			if evaluated[i].Status.IsScored() && evaluated[i].Metrics == nil && evaluated[i].Error == "" {
				evaluated[i].Status = domain.StatusSkipped
			}
		}
	}

	report := s.scorer.Aggregate(evaluated)
	report.RunID = uuid.NewString()
	report.Timestamp = s.now().UTC()
	report.EmbeddingModel = s.embeddingModel
	report.Partial = partial

	logger.Info("Competition score %.4f over %d/%d records (partial=%v)",
		report.CompetitionScore, report.Coverage.Scored, report.Coverage.Total, report.Partial)

	if s.reports != nil {
		// A cancelled run is still saved.
		if err := s.reports.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			return report, fmt.Errorf("save report: %w", err)
		}
	}
	return report, nil
}

// forEach runs fn for 0..n-1 with bounded concurrency. Once ctx is done no
// further items start; started items run to completion on a context that
// ignores the cancellation. It reports whether any item was not started.
func (s *EvaluationService) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) bool {
	sem := semaphore.NewWeighted(int64(s.concurrency))
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	started := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		started++
		g.Go(func() error {
			defer sem.Release(1)
			fn(work, i)
			return nil
		})
	}
	_ = g.Wait()

	if started < n {
		logger.Warn("Cancelled: %d of %d items not started", n-started, n)
		return true
	}
	return false
}

// checkQuestion rejects records that cannot be answered or scored.
func checkQuestion(q domain.QuestionRecord) error {
	switch {
	case strings.TrimSpace(q.Question) == "":
		return fmt.Errorf("%w: empty question", domain.ErrMalformedRecord)
	case strings.TrimSpace(q.GroundTruth) == "":
		return fmt.Errorf("%w: empty ground truth", domain.ErrMalformedRecord)
	}
	return nil
}

func recordID(id string, i int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("q%03d", i+1)
}
