package domain

import (
	"fmt"
	"math"
	"time"
)

// QuestionRecord is one entry of a reference question set.
type QuestionRecord struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Question    string `json:"question" yaml:"question" validate:"required"`
	GroundTruth string `json:"ground_truth" yaml:"ground_truth" validate:"required"`
	Domain      string `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// DatasetRecord is a generated (question, answer, contexts, ground truth)
// tuple consumed by the scorer.
type DatasetRecord struct {
	ID          string       `json:"id,omitempty"`
	Question    string       `json:"question" validate:"required"`
	Answer      string       `json:"answer"`
	Contexts    []string     `json:"contexts"`
	GroundTruth string       `json:"ground_truth" validate:"required"`
	Citations   []Citation   `json:"citations,omitempty"`
	Status      RecordStatus `json:"status,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// RecordStatus is the processing outcome of one question.
type RecordStatus string

// Record statuses. Only answered and fallback records are scored.
const (
	StatusAnswered RecordStatus = "answered"
	StatusFallback RecordStatus = "fallback"
	StatusFailed   RecordStatus = "failed"
	StatusSkipped  RecordStatus = "skipped"
)

// IsScored reports whether records with this status enter the means.
func (s RecordStatus) IsScored() bool {
	return s == StatusAnswered || s == StatusFallback
}

// Metrics are the four per-record scores, each in [0,1].
type Metrics struct {
	Faithfulness     float64 `json:"faithfulness"`
	AnswerRelevancy  float64 `json:"answer_relevancy"`
	ContextPrecision float64 `json:"context_precision"`
	ContextRecall    float64 `json:"context_recall"`
}

// ContextScore is the mean of context precision and recall.
func (m Metrics) ContextScore() float64 {
	return (m.ContextPrecision + m.ContextRecall) / 2
}

// Clamp bounds every metric to [0,1]. NaN becomes 0.
func (m Metrics) Clamp() Metrics {
	return Metrics{
		Faithfulness:     Clamp01(m.Faithfulness),
		AnswerRelevancy:  Clamp01(m.AnswerRelevancy),
		ContextPrecision: Clamp01(m.ContextPrecision),
		ContextRecall:    Clamp01(m.ContextRecall),
	}
}

// Clamp01 bounds v to [0,1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Weights define how metrics combine into the competition score.
// Whatever is not assigned stays reserved for factors outside the
// pipeline (latency, cost, conversational quality).
type Weights struct {
	AnswerRelevancy float64 `json:"answer_relevancy"`
	Context         float64 `json:"context"`
	Faithfulness    float64 `json:"faithfulness"`
	Reserved        float64 `json:"reserved"`
}

// DefaultWeights returns the competition weighting.
// Faithfulness is diagnostic and carries no weight.
func DefaultWeights() Weights {
	return NewWeights(0.65, 0.15, 0)
}

// NewWeights builds weights and derives the reserved share.
func NewWeights(relevancy, context, faithfulness float64) Weights {
	w := Weights{
		AnswerRelevancy: relevancy,
		Context:         context,
		Faithfulness:    faithfulness,
	}
	w.Reserved = math.Round((1-relevancy-context-faithfulness)*1e9) / 1e9
	return w
}

// Validate checks that weights are non-negative and sum to at most 1.
func (w Weights) Validate() error {
	if w.AnswerRelevancy < 0 || w.Context < 0 || w.Faithfulness < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidInput)
	}
	if sum := w.AnswerRelevancy + w.Context + w.Faithfulness; sum > 1+1e-9 {
		return fmt.Errorf("%w: weights sum to %.3f", ErrInvalidInput, sum)
	}
	return nil
}

// Score applies the weights to metrics. The reserved share is not scored.
func (w Weights) Score(m Metrics) float64 {
	return w.AnswerRelevancy*m.AnswerRelevancy +
		w.Context*m.ContextScore() +
		w.Faithfulness*m.Faithfulness
}

// EvaluationRecord is the scored outcome of one question. Read-only once built.
type EvaluationRecord struct {
	Index         int          `json:"index"`
	ID            string       `json:"id,omitempty"`
	Question      string       `json:"question"`
	Answer        string       `json:"answer"`
	GroundTruth   string       `json:"ground_truth"`
	Contexts      []string     `json:"contexts"`
	Citations     []Citation   `json:"citations"`
	Status        RecordStatus `json:"status"`
	Metrics       *Metrics     `json:"metrics"`
	WeightedScore *float64     `json:"weighted_score"`
	Error         string       `json:"error,omitempty"`
}

// Coverage counts how many records entered the aggregate.
type Coverage struct {
	Total    int     `json:"total"`
	Scored   int     `json:"scored"`
	Fallback int     `json:"fallback"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Ratio    float64 `json:"ratio"`
}

// Report is the batch-level evaluation result. Its JSON shape is stable
// so two reports can be diffed.
type Report struct {
	RunID            string             `json:"run_id"`
	Timestamp        time.Time          `json:"timestamp"`
	EmbeddingModel   string             `json:"embedding_model,omitempty"`
	Metrics          Metrics            `json:"metrics"`
	CompetitionScore float64            `json:"competition_score"`
	Weights          Weights            `json:"weights"`
	Coverage         Coverage           `json:"coverage"`
	Partial          bool               `json:"partial"`
	Questions        []EvaluationRecord `json:"questions"`
}

// ReportSummary is a stored report without its per-question breakdown.
type ReportSummary struct {
	RunID            string    `json:"run_id"`
	Timestamp        time.Time `json:"timestamp"`
	CompetitionScore float64   `json:"competition_score"`
	Scored           int       `json:"scored"`
	Total            int       `json:"total"`
	Partial          bool      `json:"partial"`
}

// Summary returns the report summary.
func (r *Report) Summary() ReportSummary {
	return ReportSummary{
		RunID:            r.RunID,
		Timestamp:        r.Timestamp,
		CompetitionScore: r.CompetitionScore,
		Scored:           r.Coverage.Scored,
		Total:            r.Coverage.Total,
		Partial:          r.Partial,
	}
}
