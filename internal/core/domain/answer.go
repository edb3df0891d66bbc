package domain

import "strings"

// PipelineState is a stage of the answer pipeline.
type PipelineState string

// Pipeline states. Done and Fallback are terminal.
const (
	StateRetrieving   PipelineState = "retrieving"
	StateGrounding    PipelineState = "grounding"
	StateSynthesizing PipelineState = "synthesizing"
	StateVerifying    PipelineState = "verifying"
	StateDone         PipelineState = "done"
	StateFallback     PipelineState = "fallback"
)

// IsTerminal reports whether s ends the pipeline.
func (s PipelineState) IsTerminal() bool {
	return s == StateDone || s == StateFallback
}

// String returns the string representation.
func (s PipelineState) String() string {
	return string(s)
}

// StateTransition records one stage change and why it happened.
type StateTransition struct {
	From   PipelineState `json:"from"`
	To     PipelineState `json:"to"`
	Reason string        `json:"reason,omitempty"`
}

// Claim is a drafted factual assertion awaiting verification.
type Claim struct {
	// Text is the assertion.
	Text string

	// SupportSpan is passage text quoted as the claim's evidence, if known.
	// A claim whose span no retrieved passage contains is unsupported.
	SupportSpan string

	// Required marks claims without which the answer is non-responsive.
	Required bool
}

// Verdict is the grounding decision for one claim.
type Verdict struct {
	// Supported is true only when the claim is entailed by Passages.
	Supported bool

	// Passages is the minimal supporting subset, in rank order.
	Passages []RetrievedPassage

	// Coverage is the share of claim terms covered by Passages.
	Coverage float64

	// Reason explains a rejection.
	Reason string
}

// Citations returns the citations of the supporting passages.
func (v Verdict) Citations() []Citation {
	out := make([]Citation, 0, len(v.Passages))
	for i := range v.Passages {
		out = append(out, v.Passages[i].Chunk.Citation())
	}
	return out
}

// SegmentKind distinguishes evidence-backed segments from fallback ones.
type SegmentKind string

// Segment kinds.
const (
	SegmentEvidence SegmentKind = "evidence"
	SegmentFallback SegmentKind = "fallback"
)

// Segment is one claim of a final answer.
type Segment struct {
	Text                 string      `json:"text"`
	Kind                 SegmentKind `json:"kind"`
	Citations            []Citation  `json:"citations"`
	InsufficientEvidence bool        `json:"insufficient_evidence,omitempty"`
}

// Answer is the pipeline output for one question.
type Answer struct {
	Question string             `json:"question"`
	Language string             `json:"language"`
	State    PipelineState      `json:"state"`
	Text     string             `json:"text"`
	Segments []Segment          `json:"segments"`
	Passages []RetrievedPassage `json:"-"`
	Trace    []StateTransition  `json:"trace,omitempty"`
}

// IsFallback reports whether the answer is the insufficient-evidence response.
func (a *Answer) IsFallback() bool {
	return a.State == StateFallback
}

// Citations returns the distinct citations of all segments in order.
func (a *Answer) Citations() []Citation {
	seen := make(map[string]struct{})
	var out []Citation
	for _, seg := range a.Segments {
		for _, c := range seg.Citations {
			if _, dup := seen[c.ChunkID]; dup {
				continue
			}
			seen[c.ChunkID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Contexts returns the retrieved passage texts.
func (a *Answer) Contexts() []string {
	return PassageTexts(a.Passages)
}

// fallbackMessages holds the insufficient-evidence text per language.
var fallbackMessages = map[string]string{
	LanguageEnglish: "There is not enough evidence in the available documents to answer this question.",
	LanguageHebrew:  "אין במסמכים הזמינים מספיק מידע כדי לענות על השאלה.",
}

// FallbackMessage returns the insufficient-evidence text for a language.
func FallbackMessage(language string) string {
	if msg, ok := fallbackMessages[language]; ok {
		return msg
	}
	return fallbackMessages[LanguageEnglish]
}

// NewFallbackAnswer builds the fixed-shape, citation-free fallback answer.
func NewFallbackAnswer(question, language string, passages []RetrievedPassage, trace []StateTransition) *Answer {
	msg := FallbackMessage(language)
	return &Answer{
		Question: question,
		Language: language,
		State:    StateFallback,
		Text:     msg,
		Segments: []Segment{{
			Text:                 msg,
			Kind:                 SegmentFallback,
			Citations:            []Citation{},
			InsufficientEvidence: true,
		}},
		Passages: passages,
		Trace:    trace,
	}
}

// JoinSegments renders segment texts as answer text.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		if !strings.ContainsAny(t[len(t)-1:], ".!?") {
			t += "."
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}
