package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// attributionThreshold is the share of a reference sentence's terms a
// context must cover for the sentence to be attributable to it.
const attributionThreshold = 0.5

// Scorer computes per-record metrics and the weighted batch aggregate.
type Scorer struct {
	verifier  *Verifier
	relevancy driven.RelevancyJudge
	embedder  driven.EmbeddingService
	weights   domain.Weights
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithRelevancyJudge scores answer relevancy with a judge.
func WithRelevancyJudge(judge driven.RelevancyJudge) ScorerOption {
	return func(s *Scorer) {
		s.relevancy = judge
	}
}

// WithRelevancyEmbedder scores answer relevancy by embedding similarity
// when no judge is configured.
func WithRelevancyEmbedder(embedder driven.EmbeddingService) ScorerOption {
	return func(s *Scorer) {
		s.embedder = embedder
	}
}

// WithWeights sets the metric weights.
func WithWeights(w domain.Weights) ScorerOption {
	return func(s *Scorer) {
		s.weights = w
	}
}

// WithFaithfulnessVerifier sets the verifier used for faithfulness.
func WithFaithfulnessVerifier(v *Verifier) ScorerOption {
	return func(s *Scorer) {
		if v != nil {
			s.verifier = v
		}
	}
}

// NewScorer creates a scorer with the default weights.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		verifier: NewVerifier(),
		weights:  domain.DefaultWeights(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Weights returns the configured weights.
func (s *Scorer) Weights() domain.Weights {
	return s.weights
}

// Score computes the four metrics of one record. Empty contexts and
// fallback answers are valid input.
func (s *Scorer) Score(ctx context.Context, rec domain.DatasetRecord) (domain.Metrics, error) {
	fallback := isFallbackRecord(rec)

	faithfulness, err := s.faithfulness(ctx, rec, fallback)
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("faithfulness: %w", err)
	}
	relevancy, err := s.answerRelevancy(ctx, rec, fallback)
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("answer relevancy: %w", err)
	}

	m := domain.Metrics{
		Faithfulness:     faithfulness,
		AnswerRelevancy:  relevancy,
		ContextPrecision: contextPrecision(rec.Contexts, rec.GroundTruth),
		ContextRecall:    contextRecall(rec.Contexts, rec.GroundTruth),
	}.Clamp()

	logger.Debug("Scored %q: faith=%.2f rel=%.2f prec=%.2f rec=%.2f",
		rec.Question, m.Faithfulness, m.AnswerRelevancy, m.ContextPrecision, m.ContextRecall)
	return m, nil
}

// faithfulness is the share of answer sentences supported by the contexts.
// An answer without claims scores 1.
func (s *Scorer) faithfulness(ctx context.Context, rec domain.DatasetRecord, fallback bool) (float64, error) {
	if fallback {
		return 1, nil
	}
	claims := domain.SplitSentences(rec.Answer)
	if len(claims) == 0 {
		return 1, nil
	}

	passages := contextPassages(rec.Contexts)
	supported := 0
	for _, c := range claims {
		verdict, err := s.verifier.Verify(ctx, domain.Claim{Text: c}, passages)
		if err != nil {
			return 0, err
		}
		if verdict.Supported {
			supported++
		}
	}
	return float64(supported) / float64(len(claims)), nil
}

// answerRelevancy uses the judge, else embedding similarity, else
// question term recall. Fallback answers score 0.
func (s *Scorer) answerRelevancy(ctx context.Context, rec domain.DatasetRecord, fallback bool) (float64, error) {
	answer := strings.TrimSpace(rec.Answer)
	if fallback || answer == "" {
		return 0, nil
	}

	switch {
	case s.relevancy != nil:
		return s.relevancy.Relevancy(ctx, rec.Question, answer)
	case s.embedder != nil:
		vectors, err := s.embedder.EmbedBatch(ctx, []string{rec.Question, answer})
		if err != nil {
			return 0, err
		}
		if len(vectors) != 2 {
			return 0, fmt.Errorf("%w: expected 2 embeddings, got %d", domain.ErrServiceUnavailable, len(vectors))
		}
		return domain.Clamp01(domain.CosineSimilarity(vectors[0], vectors[1])), nil
	default:
		return termRecall(rec.Question, answer), nil
	}
}

// contextPrecision is the rank-weighted average precision of contexts
// relevant to the reference answer.
func contextPrecision(contexts []string, groundTruth string) float64 {
	refs := referenceSentences(groundTruth)
	if len(contexts) == 0 || len(refs) == 0 {
		return 0
	}

	relevant := 0
	sum := 0.0
	for k, c := range contexts {
		if !attributes(domain.NewTermSet(c), refs) {
			continue
		}
		relevant++
		sum += float64(relevant) / float64(k+1)
	}
	if relevant == 0 {
		return 0
	}
	return sum / float64(relevant)
}

// contextRecall is the share of reference sentences attributable to the
// contexts.
func contextRecall(contexts []string, groundTruth string) float64 {
	refs := referenceSentences(groundTruth)
	if len(contexts) == 0 || len(refs) == 0 {
		return 0
	}

	set := domain.NewTermSet(strings.Join(contexts, "\n"))
	attributable := 0
	for _, ref := range refs {
		if covered(set, ref) >= attributionThreshold {
			attributable++
		}
	}
	return float64(attributable) / float64(len(refs))
}

// referenceSentences returns the content terms of each reference sentence
// that has any.
func referenceSentences(text string) [][]string {
	var out [][]string
	for _, s := range domain.SplitSentences(text) {
		if terms := domain.ContentTerms(s); len(terms) > 0 {
			out = append(out, terms)
		}
	}
	return out
}

// attributes reports whether a context covers any reference sentence.
func attributes(set domain.TermSet, refs [][]string) bool {
	for _, ref := range refs {
		if covered(set, ref) >= attributionThreshold {
			return true
		}
	}
	return false
}

func covered(set domain.TermSet, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	n := 0
	for _, t := range terms {
		if set.Covers(t) {
			n++
		}
	}
	return float64(n) / float64(len(terms))
}

func termRecall(question, answer string) float64 {
	return covered(domain.NewTermSet(answer), domain.ContentTerms(question))
}

// contextPassages wraps plain context strings as ranked passages.
func contextPassages(contexts []string) []domain.RetrievedPassage {
	out := make([]domain.RetrievedPassage, 0, len(contexts))
	for i, c := range contexts {
		out = append(out, domain.RetrievedPassage{
			Chunk: domain.Chunk{ID: fmt.Sprintf("context-%d", i+1), Content: c},
			Rank:  i + 1,
		})
	}
	return out
}

// isFallbackRecord reports whether the record carries the fallback
// answer, by status or by its fixed text.
func isFallbackRecord(rec domain.DatasetRecord) bool {
	if rec.Status == domain.StatusFallback {
		return true
	}
	answer := strings.TrimSpace(rec.Answer)
	for _, lang := range []string{domain.LanguageEnglish, domain.LanguageHebrew} {
		if answer == domain.FallbackMessage(lang) {
			return true
		}
	}
	return false
}

// Aggregate builds the batch report from scored records. Only answered
// and fallback records enter the means; all records are counted in
// coverage. A record that should have been scored but carries no metrics,
// or has an unknown status, is counted as failed. The reserved weight is
// reported, never scored.
func (s *Scorer) Aggregate(records []domain.EvaluationRecord) *domain.Report {
	report := &domain.Report{
		Weights:   s.weights,
		Questions: make([]domain.EvaluationRecord, 0, len(records)),
	}

	var sum domain.Metrics
	for _, rec := range records {
		switch {
		case rec.Status.IsScored() && rec.Metrics == nil:
			if rec.Error == "" {
				rec.Error = fmt.Sprintf("%s record has no metrics", rec.Status)
			}
			rec.Status = domain.StatusFailed
		case !rec.Status.IsScored() && rec.Status != domain.StatusFailed && rec.Status != domain.StatusSkipped:
			if rec.Error == "" {
				rec.Error = fmt.Sprintf("unknown record status %q", rec.Status)
			}
			rec.Status = domain.StatusFailed
		}

		report.Coverage.Total++
		switch rec.Status {
		case domain.StatusFailed:
			report.Coverage.Failed++
		case domain.StatusSkipped:
			report.Coverage.Skipped++
		case domain.StatusFallback:
			report.Coverage.Fallback++
		}

		if rec.Status.IsScored() {
			m := rec.Metrics.Clamp()
			rec.Metrics = &m
			score := s.weights.Score(m)
			rec.WeightedScore = &score

			report.Coverage.Scored++
			sum.Faithfulness += m.Faithfulness
			sum.AnswerRelevancy += m.AnswerRelevancy
			sum.ContextPrecision += m.ContextPrecision
			sum.ContextRecall += m.ContextRecall
		} else {
			rec.Metrics = nil
			rec.WeightedScore = nil
		}
		if rec.Contexts == nil {
			rec.Contexts = []string{}
		}
		if rec.Citations == nil {
			rec.Citations = []domain.Citation{}
		}
		report.Questions = append(report.Questions, rec)
	}

	if n := float64(report.Coverage.Scored); n > 0 {
		report.Metrics = domain.Metrics{
			Faithfulness:     sum.Faithfulness / n,
			AnswerRelevancy:  sum.AnswerRelevancy / n,
			ContextPrecision: sum.ContextPrecision / n,
			ContextRecall:    sum.ContextRecall / n,
		}
	}
	if report.Coverage.Total > 0 {
		report.Coverage.Ratio = float64(report.Coverage.Scored) / float64(report.Coverage.Total)
	}
	report.CompetitionScore = s.weights.Score(report.Metrics)

	return report
}
