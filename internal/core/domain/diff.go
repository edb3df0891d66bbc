package domain

// MetricDelta compares one aggregate value across two reports.
type MetricDelta struct {
	Name   string  `json:"name"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Delta  float64 `json:"delta"`
}

// QuestionDelta compares one question across two reports. Scores are nil
// when the question was not scored in that run.
type QuestionDelta struct {
	ID           string       `json:"id"`
	Question     string       `json:"question"`
	StatusBefore RecordStatus `json:"status_before,omitempty"`
	StatusAfter  RecordStatus `json:"status_after,omitempty"`
	Before       *float64     `json:"before"`
	After        *float64     `json:"after"`
}

// ReportDiff is the difference between two evaluation runs.
type ReportDiff struct {
	From             string          `json:"from"`
	To               string          `json:"to"`
	CompetitionScore MetricDelta     `json:"competition_score"`
	Metrics          []MetricDelta   `json:"metrics"`
	Questions        []QuestionDelta `json:"questions"`
}

// DiffReports compares two reports. Questions are matched by ID and
// listed when their status or weighted score changed, in the order of
// the newer report followed by questions only the older one has.
func DiffReports(before, after *Report) ReportDiff {
	d := ReportDiff{
		From:             before.RunID,
		To:               after.RunID,
		CompetitionScore: delta("competition_score", before.CompetitionScore, after.CompetitionScore),
		Metrics: []MetricDelta{
			delta("answer_relevancy", before.Metrics.AnswerRelevancy, after.Metrics.AnswerRelevancy),
			delta("context_precision", before.Metrics.ContextPrecision, after.Metrics.ContextPrecision),
			delta("context_recall", before.Metrics.ContextRecall, after.Metrics.ContextRecall),
			delta("faithfulness", before.Metrics.Faithfulness, after.Metrics.Faithfulness),
			delta("coverage_ratio", before.Coverage.Ratio, after.Coverage.Ratio),
		},
		Questions: []QuestionDelta{},
	}

	old := make(map[string]EvaluationRecord, len(before.Questions))
	for _, q := range before.Questions {
		old[q.ID] = q
	}

	seen := make(map[string]bool, len(after.Questions))
	for _, q := range after.Questions {
		seen[q.ID] = true
		prev, ok := old[q.ID]
		qd := QuestionDelta{
			ID:          q.ID,
			Question:    q.Question,
			StatusAfter: q.Status,
			After:       q.WeightedScore,
		}
		if ok {
			qd.StatusBefore = prev.Status
			qd.Before = prev.WeightedScore
		}
		if ok && qd.StatusBefore == qd.StatusAfter && sameScore(qd.Before, qd.After) {
			continue
		}
		d.Questions = append(d.Questions, qd)
	}
	for _, q := range before.Questions {
		if seen[q.ID] {
			continue
		}
		d.Questions = append(d.Questions, QuestionDelta{
			ID:           q.ID,
			Question:     q.Question,
			StatusBefore: q.Status,
			Before:       q.WeightedScore,
		})
	}
	return d
}

func delta(name string, before, after float64) MetricDelta {
	return MetricDelta{Name: name, Before: before, After: after, Delta: after - before}
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	const eps = 1e-9
	d := *a - *b
	return d < eps && d > -eps
}
