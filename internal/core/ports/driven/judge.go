package driven

import "context"

// ExtractedClaim is one claim found in free-form text together with the
// passage text quoted in its support. Span is empty when the extractor
// found no supporting passage text.
type ExtractedClaim struct {
	Claim string `json:"claim"`
	Span  string `json:"span"`
}

// ClaimExtractor splits generated text into atomic claims, quoting for
// each the passage text it rests on.
// It is the only place where claim extraction non-determinism enters
// the pipeline.
type ClaimExtractor interface {
	ExtractClaims(ctx context.Context, text string, passages []string) ([]ExtractedClaim, error)
}

// EntailmentJudge scores how strongly premise entails hypothesis, in [0,1].
type EntailmentJudge interface {
	Entailment(ctx context.Context, premise, hypothesis string) (float64, error)
}

// RelevancyJudge scores how well answer addresses question, in [0,1].
type RelevancyJudge interface {
	Relevancy(ctx context.Context, question, answer string) (float64, error)
}
