package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
)

const (
	luggageContext = "Luggage is covered up to 2,000 NIS per trip."
	dentalContext  = "Dental cleaning is covered twice a year."
)

func TestScorer_Score(t *testing.T) {
	s := NewScorer()

	m, err := s.Score(context.Background(), domain.DatasetRecord{
		Question:    "Is luggage covered?",
		Answer:      "Luggage is covered up to 2,000 NIS.",
		Contexts:    []string{luggageContext, dentalContext},
		GroundTruth: "Luggage is covered up to 2,000 NIS per trip.",
		Status:      domain.StatusAnswered,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, m.Faithfulness, 1e-9)
	assert.InDelta(t, 1.0, m.AnswerRelevancy, 1e-9)
	assert.InDelta(t, 1.0, m.ContextPrecision, 1e-9)
	assert.InDelta(t, 1.0, m.ContextRecall, 1e-9)
}

func TestScorer_ContextPrecisionIsRankWeighted(t *testing.T) {
	m, err := NewScorer().Score(context.Background(), domain.DatasetRecord{
		Question:    "Is luggage covered?",
		Answer:      "Luggage is covered up to 2,000 NIS.",
		Contexts:    []string{dentalContext, luggageContext},
		GroundTruth: "Luggage is covered up to 2,000 NIS per trip.",
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.ContextPrecision, 1e-9)
	assert.InDelta(t, 1.0, m.ContextRecall, 1e-9)
}

func TestScorer_PartialRecallAndFaithfulness(t *testing.T) {
	m, err := NewScorer().Score(context.Background(), domain.DatasetRecord{
		Question:    "Is luggage covered?",
		Answer:      "Luggage is covered up to 2,000 NIS. Jewelry is covered up to 9,000 NIS.",
		Contexts:    []string{luggageContext},
		GroundTruth: "Luggage is covered up to 2,000 NIS per trip. Theft needs a police report.",
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.Faithfulness, 1e-9)
	assert.InDelta(t, 0.5, m.ContextRecall, 1e-9)
	assert.InDelta(t, 1.0, m.ContextPrecision, 1e-9)
}

// A fallback answer with empty contexts scores without error.
func TestScorer_FallbackWithEmptyContexts(t *testing.T) {
	m, err := NewScorer().Score(context.Background(), domain.DatasetRecord{
		Question:    "Is my car covered?",
		Answer:      domain.FallbackMessage(domain.LanguageEnglish),
		Contexts:    nil,
		GroundTruth: "Car insurance covers collision damage.",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.Metrics{Faithfulness: 1}, m)
}

func TestScorer_RelevancyJudge(t *testing.T) {
	s := NewScorer(WithRelevancyJudge(&mockJudge{score: 0.8}))

	m, err := s.Score(context.Background(), domain.DatasetRecord{
		Question:    "Is luggage covered?",
		Answer:      "Luggage is covered.",
		GroundTruth: "Yes.",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, m.AnswerRelevancy, 1e-9)

	failing := NewScorer(WithRelevancyJudge(&mockJudge{err: domain.ErrRateLimited}))
	_, err = failing.Score(context.Background(), domain.DatasetRecord{Question: "q", Answer: "a"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestScorer_RelevancyJudgeIsClamped(t *testing.T) {
	s := NewScorer(WithRelevancyJudge(&mockJudge{score: 1.7}))

	m, err := s.Score(context.Background(), domain.DatasetRecord{Question: "q", Answer: "a"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.AnswerRelevancy, 1e-9)
}

func TestScorer_RelevancyEmbedder(t *testing.T) {
	s := NewScorer(WithRelevancyEmbedder(&mockEmbeddingService{}))

	m, err := s.Score(context.Background(), domain.DatasetRecord{
		Question: "Is luggage covered?",
		Answer:   "Luggage is covered up to 2,000 NIS.",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.AnswerRelevancy, 1e-9)

	m, err = s.Score(context.Background(), domain.DatasetRecord{
		Question: "Is luggage covered?",
		Answer:   "Dental cleaning is covered.",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.AnswerRelevancy, 1e-9)
}

// Three records with known metrics aggregate by hand:
// 0.65*mean(0.9, 0.8, 0.7) + 0.15*mean(0.6, 0.7, 0.5) = 0.52 + 0.09 = 0.61.
func TestScorer_AggregateCompetitionScore(t *testing.T) {
	records := []domain.EvaluationRecord{
		{Index: 0, Status: domain.StatusAnswered, Metrics: &domain.Metrics{
			Faithfulness: 1, AnswerRelevancy: 0.9, ContextPrecision: 0.6, ContextRecall: 0.6}},
		{Index: 1, Status: domain.StatusAnswered, Metrics: &domain.Metrics{
			Faithfulness: 0.5, AnswerRelevancy: 0.8, ContextPrecision: 0.8, ContextRecall: 0.6}},
		{Index: 2, Status: domain.StatusAnswered, Metrics: &domain.Metrics{
			Faithfulness: 0, AnswerRelevancy: 0.7, ContextPrecision: 0.4, ContextRecall: 0.6}},
	}

	report := NewScorer().Aggregate(records)

	assert.InDelta(t, 0.61, report.CompetitionScore, 1e-9)
	assert.InDelta(t, 0.8, report.Metrics.AnswerRelevancy, 1e-9)
	assert.InDelta(t, 0.5, report.Metrics.Faithfulness, 1e-9)
	assert.InDelta(t, 0.6, report.Metrics.ContextRecall, 1e-9)
	assert.InDelta(t, 0.2, report.Weights.Reserved, 1e-9)
	assert.Equal(t, 3, report.Coverage.Scored)
	assert.InDelta(t, 1.0, report.Coverage.Ratio, 1e-9)

	require.Len(t, report.Questions, 3)
	require.NotNil(t, report.Questions[0].WeightedScore)
	assert.InDelta(t, 0.65*0.9+0.15*0.6, *report.Questions[0].WeightedScore, 1e-9)
}

func TestScorer_AggregateExcludesFailures(t *testing.T) {
	records := []domain.EvaluationRecord{
		{Status: domain.StatusAnswered, Metrics: &domain.Metrics{AnswerRelevancy: 1, ContextPrecision: 1, ContextRecall: 1}},
		{Status: domain.StatusFallback, Metrics: &domain.Metrics{Faithfulness: 1}},
		{Status: domain.StatusFailed, Error: "embedding service unavailable"},
		{Status: domain.StatusSkipped},
	}

	report := NewScorer().Aggregate(records)

	assert.Equal(t, domain.Coverage{Total: 4, Scored: 2, Fallback: 1, Failed: 1, Skipped: 1, Ratio: 0.5}, report.Coverage)
	assert.InDelta(t, 0.5, report.Metrics.AnswerRelevancy, 1e-9)
	assert.InDelta(t, 0.65*0.5+0.15*0.5, report.CompetitionScore, 1e-9)

	failed := report.Questions[2]
	assert.Nil(t, failed.Metrics)
	assert.Nil(t, failed.WeightedScore)
	assert.NotNil(t, failed.Contexts)
	assert.NotNil(t, failed.Citations)
}

func TestScorer_AggregateCountsRecordsWithoutMetricsAsFailed(t *testing.T) {
	records := []domain.EvaluationRecord{
		{Status: domain.StatusAnswered, Metrics: &domain.Metrics{AnswerRelevancy: 1, ContextPrecision: 1, ContextRecall: 1}},
		{Status: domain.StatusAnswered},
		{Status: domain.StatusFallback, Error: "scorer unavailable"},
		{Status: "pending"},
	}

	report := NewScorer().Aggregate(records)

	assert.Equal(t, domain.Coverage{Total: 4, Scored: 1, Failed: 3, Ratio: 0.25}, report.Coverage)
	assert.InDelta(t, 0.65+0.15, report.CompetitionScore, 1e-9)

	for _, rec := range report.Questions[1:] {
		assert.Equal(t, domain.StatusFailed, rec.Status)
		assert.NotEmpty(t, rec.Error)
		assert.Nil(t, rec.WeightedScore)
	}
	assert.Contains(t, report.Questions[1].Error, "no metrics")
	assert.Equal(t, "scorer unavailable", report.Questions[2].Error)
	assert.Contains(t, report.Questions[3].Error, "pending")
}

func TestScorer_AggregateEmpty(t *testing.T) {
	report := NewScorer().Aggregate(nil)

	assert.Zero(t, report.CompetitionScore)
	assert.Zero(t, report.Coverage.Ratio)
	assert.NotNil(t, report.Questions)
}

func TestScorer_BoundsHoldForOutOfRangeInput(t *testing.T) {
	report := NewScorer().Aggregate([]domain.EvaluationRecord{
		{Status: domain.StatusAnswered, Metrics: &domain.Metrics{AnswerRelevancy: 3, ContextPrecision: -1, ContextRecall: 2}},
	})

	assert.InDelta(t, 0.65+0.15*0.5, report.CompetitionScore, 1e-9)
	assert.GreaterOrEqual(t, report.CompetitionScore, 0.0)
	assert.LessOrEqual(t, report.CompetitionScore, 1.0)
}

func TestScorer_CustomWeights(t *testing.T) {
	s := NewScorer(WithWeights(domain.NewWeights(0.5, 0.3, 0.2)))
	report := s.Aggregate([]domain.EvaluationRecord{
		{Status: domain.StatusAnswered, Metrics: &domain.Metrics{Faithfulness: 1, AnswerRelevancy: 1, ContextPrecision: 1, ContextRecall: 1}},
	})

	assert.InDelta(t, 1.0, report.CompetitionScore, 1e-9)
	assert.InDelta(t, 0.0, s.Weights().Reserved, 1e-9)
}
