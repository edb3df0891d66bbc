package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure Judge implements the judge capabilities.
var (
	_ driven.ClaimExtractor   = (*Judge)(nil)
	_ driven.EntailmentJudge  = (*Judge)(nil)
	_ driven.RelevancyJudge   = (*Judge)(nil)
	_ driven.PromptStoreAware = (*Judge)(nil)
)

const (
	judgeMaxTokens   = 8
	extractMaxTokens = 1024
)

var scorePattern = regexp.MustCompile(`[01](?:\.\d+)?|\.\d+`)

// Judge implements claim extraction, entailment and relevancy scoring
// on top of an LLM. Calls use temperature 0.
type Judge struct {
	llm     driven.LLMService
	prompts driven.PromptStore
}

// NewJudge creates an LLM backed judge.
func NewJudge(llm driven.LLMService) *Judge {
	return &Judge{llm: llm}
}

// SetPromptStore sets the store for judge prompts.
func (j *Judge) SetPromptStore(store driven.PromptStore) {
	j.prompts = store
}

// ExtractClaims splits text into claims and quotes their support from
// passages. The model must answer with a JSON array; surrounding prose
// and code fences are ignored.
func (j *Judge) ExtractClaims(ctx context.Context, text string, passages []string) ([]driven.ExtractedClaim, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf(j.prompt(driven.PromptClaimExtraction), numbered(passages), text)
	out, err := j.llm.Generate(ctx, prompt, driven.GenerateOptions{MaxTokens: extractMaxTokens})
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	claims, err := parseClaims(out)
	if err != nil {
		logger.Debug("Unparseable claim extraction output: %q", out)
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	return claims, nil
}

// Entailment scores how strongly premise entails hypothesis.
func (j *Judge) Entailment(ctx context.Context, premise, hypothesis string) (float64, error) {
	prompt := fmt.Sprintf(j.prompt(driven.PromptEntailment), premise, hypothesis)
	return j.score(ctx, "entailment", prompt)
}

// Relevancy scores how well answer addresses question.
func (j *Judge) Relevancy(ctx context.Context, question, answer string) (float64, error) {
	if strings.TrimSpace(answer) == "" {
		return 0, nil
	}
	prompt := fmt.Sprintf(j.prompt(driven.PromptRelevancy), question, answer)
	return j.score(ctx, "relevancy", prompt)
}

func (j *Judge) score(ctx context.Context, name, prompt string) (float64, error) {
	out, err := j.llm.Generate(ctx, prompt, driven.GenerateOptions{MaxTokens: judgeMaxTokens})
	if err != nil {
		return 0, fmt.Errorf("%s judge: %w", name, err)
	}
	score, err := parseScore(out)
	if err != nil {
		return 0, fmt.Errorf("%s judge: %w", name, err)
	}
	return score, nil
}

// prompt loads a template, falling back to the built-in one.
func (j *Judge) prompt(name string) string {
	if j.prompts != nil {
		if p, err := j.prompts.Load(name); err == nil && p != "" {
			return p
		}
	}
	return driven.DefaultPrompts[name]
}

// numbered renders passages as "[n] text" blocks.
func numbered(passages []string) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, p)
	}
	return b.String()
}

// parseScore reads the first number in [0,1] from model output.
func parseScore(out string) (float64, error) {
	match := scorePattern.FindString(out)
	if match == "" {
		return 0, fmt.Errorf("%w: no score in %q", domain.ErrMalformedRecord, strings.TrimSpace(out))
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, err)
	}
	return min(max(v, 0), 1), nil
}

// parseClaims decodes the outermost JSON array in out. Plain strings are
// accepted as claims without a span.
func parseClaims(out string) ([]driven.ExtractedClaim, error) {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in output", domain.ErrMalformedRecord)
	}
	raw := out[start : end+1]

	var claims []driven.ExtractedClaim
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		var plain []string
		if err2 := json.Unmarshal([]byte(raw), &plain); err2 != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, err)
		}
		for _, p := range plain {
			claims = append(claims, driven.ExtractedClaim{Claim: p})
		}
	}

	kept := claims[:0]
	for _, c := range claims {
		c.Claim = strings.TrimSpace(c.Claim)
		if c.Claim == "" {
			continue
		}
		c.Span = strings.TrimSpace(c.Span)
		kept = append(kept, c)
	}
	return kept, nil
}
