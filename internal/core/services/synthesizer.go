package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure Synthesizer implements the interface.
var _ driving.AnswerService = (*Synthesizer)(nil)

const (
	// DefaultMaxClaims bounds the claims drafted per answer.
	DefaultMaxClaims = 3

	// minDraftOverlap is the share of question terms a passage sentence
	// must cover to be drafted as a claim.
	minDraftOverlap = 0.25
)

// Synthesizer runs the answer pipeline:
// Retrieving -> Grounding -> Synthesizing -> Verifying -> Done | Fallback.
//
// Without an LLM, claims are drafted extractively from passage sentences.
// With an LLM, a draft answer is generated and split into claims by the
// claim extractor. Every emitted claim is verified against the retrieved
// passages; unsupported claims never reach the answer.
type Synthesizer struct {
	retriever driving.RetrievalService
	verifier  *Verifier
	llm       driven.LLMService
	extractor driven.ClaimExtractor
	prompts   driven.PromptStore
	maxClaims int
}

// Ensure Synthesizer accepts custom prompts.
var _ driven.PromptStoreAware = (*Synthesizer)(nil)

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithLLMDrafting drafts answers with llm and splits them with extractor.
// A nil extractor splits the draft at sentence boundaries.
func WithLLMDrafting(llm driven.LLMService, extractor driven.ClaimExtractor) SynthesizerOption {
	return func(s *Synthesizer) {
		s.llm = llm
		s.extractor = extractor
	}
}

// WithMaxClaims bounds the drafted claims.
func WithMaxClaims(n int) SynthesizerOption {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxClaims = n
		}
	}
}

// NewSynthesizer creates the answer pipeline.
func NewSynthesizer(retriever driving.RetrievalService, verifier *Verifier, opts ...SynthesizerOption) *Synthesizer {
	if verifier == nil {
		verifier = NewVerifier()
	}
	s := &Synthesizer{
		retriever: retriever,
		verifier:  verifier,
		maxClaims: DefaultMaxClaims,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPromptStore sets the store for the answer drafting prompt.
func (s *Synthesizer) SetPromptStore(store driven.PromptStore) {
	s.prompts = store
}

// run is the state carried between pipeline stages.
type run struct {
	question string
	language string
	opts     domain.QueryOptions

	passages []domain.RetrievedPassage
	claims   []domain.Claim
	draft    string
	segments []domain.Segment
	trace    []domain.StateTransition
}

// stage executes one pipeline state and returns the next one with the
// reason for the transition.
type stage func(ctx context.Context, r *run) (domain.PipelineState, string, error)

func (s *Synthesizer) stages() map[domain.PipelineState]stage {
	return map[domain.PipelineState]stage{
		domain.StateRetrieving:   s.retrieve,
		domain.StateGrounding:    s.ground,
		domain.StateSynthesizing: s.synthesize,
		domain.StateVerifying:    s.verify,
	}
}

// Answer runs the pipeline for one question.
func (s *Synthesizer) Answer(ctx context.Context, question string, opts domain.QueryOptions) (*domain.Answer, error) {
	logger.Section("Answer Pipeline")

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	r := &run{
		question: question,
		language: domain.DetectLanguage(question),
		opts:     opts,
	}

	stages := s.stages()
	state := domain.StateRetrieving
	for !state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, reason, err := stages[state](ctx, r)
		if err != nil {
			logger.Warn("Pipeline failed in %s: %v", state, err)
			return nil, fmt.Errorf("%s: %w", state, err)
		}
		logger.Debug("%s -> %s (%s)", state, next, reason)
		r.trace = append(r.trace, domain.StateTransition{From: state, To: next, Reason: reason})
		state = next
	}

	if state == domain.StateFallback {
		return domain.NewFallbackAnswer(r.question, r.language, r.passages, r.trace), nil
	}

	return &domain.Answer{
		Question: r.question,
		Language: r.language,
		State:    domain.StateDone,
		Text:     domain.JoinSegments(r.segments),
		Segments: r.segments,
		Passages: r.passages,
		Trace:    r.trace,
	}, nil
}

func (s *Synthesizer) retrieve(ctx context.Context, r *run) (domain.PipelineState, string, error) {
	passages, err := s.retriever.Retrieve(ctx, r.question, r.opts)
	if err != nil {
		return "", "", err
	}
	r.passages = passages
	if len(passages) == 0 {
		return domain.StateFallback, domain.ErrRetrievalEmpty.Error(), nil
	}
	return domain.StateGrounding, fmt.Sprintf("%d passages", len(passages)), nil
}

func (s *Synthesizer) ground(ctx context.Context, r *run) (domain.PipelineState, string, error) {
	var err error
	if s.llm != nil {
		r.claims, err = s.draftWithLLM(ctx, r)
		if err != nil {
			return "", "", err
		}
	} else {
		r.claims = s.draftExtractive(r)
	}

	if len(r.claims) == 0 {
		return domain.StateFallback, "no claim could be drafted", nil
	}
	return domain.StateSynthesizing, fmt.Sprintf("%d claims drafted", len(r.claims)), nil
}

func (s *Synthesizer) synthesize(_ context.Context, r *run) (domain.PipelineState, string, error) {
	segments := make([]domain.Segment, 0, len(r.claims))
	for _, c := range r.claims {
		segments = append(segments, domain.Segment{Text: c.Text, Kind: domain.SegmentEvidence})
	}
	r.draft = domain.JoinSegments(segments)
	return domain.StateVerifying, "draft assembled", nil
}

func (s *Synthesizer) verify(ctx context.Context, r *run) (domain.PipelineState, string, error) {
	var segments []domain.Segment
	dropped := 0

	for _, claim := range r.claims {
		verdict, err := s.verifier.Verify(ctx, claim, r.passages)
		if err != nil {
			return "", "", err
		}

		if !verdict.Supported {
			rewritten, rv, ok, err := s.verifier.Rewrite(ctx, claim, r.passages)
			if err != nil {
				return "", "", err
			}
			if !ok {
				logger.Debug("Dropping unsupported claim %q: %s", claim.Text, verdict.Reason)
				if claim.Required {
					return domain.StateFallback,
						fmt.Sprintf("%v: required claim: %s", domain.ErrUnsupportedClaim, verdict.Reason), nil
				}
				dropped++
				continue
			}
			logger.Debug("Rewrote claim %q -> %q", claim.Text, rewritten.Text)
			claim, verdict = rewritten, rv
		}

		segments = append(segments, domain.Segment{
			Text:      claim.Text,
			Kind:      domain.SegmentEvidence,
			Citations: verdict.Citations(),
		})
	}

	if len(segments) == 0 {
		return domain.StateFallback, "no claim survived verification", nil
	}
	r.segments = segments
	return domain.StateDone, fmt.Sprintf("%d claims verified, %d dropped", len(segments), dropped), nil
}

// candidate is a passage sentence scored against the question.
type candidate struct {
	text  string
	score float64
	rank  int
	order int
}

// draftExtractive picks passage sentences by question term overlap.
// The best sentence is the required claim.
func (s *Synthesizer) draftExtractive(r *run) []domain.Claim {
	qTerms := domain.ContentTerms(r.question)
	if len(qTerms) == 0 {
		return nil
	}

	var cands []candidate
	seen := make(map[string]struct{})
	order := 0
	for _, p := range r.passages {
		for _, sentence := range domain.SplitSentences(p.Chunk.BodyText()) {
			order++
			if domain.CountTokens(sentence) < 2 {
				continue
			}
			if _, dup := seen[sentence]; dup {
				continue
			}
			seen[sentence] = struct{}{}

			set := domain.NewTermSet(sentence)
			hits := 0
			for _, t := range qTerms {
				if set.Covers(t) {
					hits++
				}
			}
			score := float64(hits) / float64(len(qTerms))
			if score < minDraftOverlap {
				continue
			}
			cands = append(cands, candidate{
				text:  sentence,
				score: score,
				rank:  p.Rank,
				order: order,
			})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].rank != cands[j].rank {
			return cands[i].rank < cands[j].rank
		}
		return cands[i].order < cands[j].order
	})
	if len(cands) > s.maxClaims {
		cands = cands[:s.maxClaims]
	}

	claims := make([]domain.Claim, 0, len(cands))
	for i, c := range cands {
		claims = append(claims, domain.Claim{Text: c.text, SupportSpan: c.text, Required: i == 0})
	}
	return claims
}

// draftWithLLM generates a draft answer and splits it into claims.
func (s *Synthesizer) draftWithLLM(ctx context.Context, r *run) ([]domain.Claim, error) {
	prompt := fmt.Sprintf(loadPrompt(s.prompts, driven.PromptAnswerDraft), numberedPassages(r.passages), r.question)
	draft, err := s.llm.Generate(ctx, prompt, driven.GenerateOptions{MaxTokens: 512, Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("draft answer: %w", err)
	}
	draft = strings.TrimSpace(draft)
	logger.Debug("Draft: %q", draft)
	if draft == "" {
		return nil, nil
	}

	var extracted []driven.ExtractedClaim
	if s.extractor != nil {
		extracted, err = s.extractor.ExtractClaims(ctx, draft, domain.PassageTexts(r.passages))
		if err != nil {
			return nil, fmt.Errorf("extract claims: %w", err)
		}
	} else {
		for _, sentence := range domain.SplitSentences(draft) {
			extracted = append(extracted, driven.ExtractedClaim{Claim: sentence})
		}
	}

	claims := make([]domain.Claim, 0, len(extracted))
	for _, c := range extracted {
		text := strings.TrimSpace(c.Claim)
		if text == "" {
			continue
		}
		claims = append(claims, domain.Claim{
			Text:        text,
			SupportSpan: strings.TrimSpace(c.Span),
			Required:    len(claims) == 0,
		})
	}
	return claims, nil
}

// numberedPassages renders passages for prompts as "[n] (locator) text".
func numberedPassages(passages []domain.RetrievedPassage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s) %s", i+1, p.Chunk.Locator, p.Chunk.Content)
	}
	return b.String()
}

// loadPrompt reads a template from store, falling back to the built-in one.
func loadPrompt(store driven.PromptStore, name string) string {
	if store != nil {
		if p, err := store.Load(name); err == nil && p != "" {
			return p
		}
	}
	return driven.DefaultPrompts[name]
}
