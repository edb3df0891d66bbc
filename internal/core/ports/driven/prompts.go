package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files, embed them in the binary,
// or fetch them from a remote configuration service.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	// Returns the prompt content and any error encountered.
	// If the prompt is not found, implementations should return a sensible default
	// or an error, depending on whether the prompt is required.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	// This is useful when prompts may have been edited on disk.
	Reload()
}

// Well-known prompt names used throughout the application.
// These constants define the contract between prompt consumers and providers.
const (
	// PromptAnswerDraft drafts an answer from numbered passages.
	// The prompt template expects %s (passages) and %s (question) placeholders.
	PromptAnswerDraft = "answer_draft"

	// PromptClaimExtraction splits an answer into atomic claims as JSON.
	// The prompt template expects a %s placeholder for the answer.
	PromptClaimExtraction = "claim_extraction"

	// PromptEntailment asks whether a premise entails a hypothesis.
	// The prompt template expects %s (premise) and %s (hypothesis) placeholders.
	PromptEntailment = "entailment"

	// PromptRelevancy rates how well an answer addresses a question.
	// The prompt template expects %s (question) and %s (answer) placeholders.
	PromptRelevancy = "relevancy"
)

// PromptStoreAware is an optional interface for services that can use custom prompts.
// Services implementing this interface can have their prompt templates customised
// by injecting a PromptStore after construction.
type PromptStoreAware interface {
	// SetPromptStore sets the prompt store for loading customisable prompts.
	// If not set, the service should use hardcoded default prompts.
	SetPromptStore(store PromptStore)
}

// DefaultPrompts holds the built-in templates for every well-known prompt.
// Prompt stores seed user-editable files from it and services fall back to
// it when no store is configured.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var DefaultPrompts = map[string]string{
	PromptAnswerDraft: `You answer insurance questions using ONLY the numbered passages below.
Answer in the language of the question. Keep every amount, percentage and condition exactly as written in the passages.
If the passages do not contain the answer, reply with an empty answer.

Passages:
%s

Question: %s
Answer:`,

	PromptClaimExtraction: `Split the answer below into short, self-contained factual claims.
Return ONLY a JSON array of objects with the fields "claim" (the claim text) and "span" (the passage text supporting the claim, copied exactly, or "" if no passage supports it).

Passages:
%s

Answer:
%s

JSON:`,

	PromptEntailment: `Does the premise fully support the hypothesis? Numbers, conditions and negations must agree.
Reply with ONLY a number between 0 and 1, where 1 means fully entailed and 0 means not supported or contradicted.

Premise:
%s

Hypothesis: %s
Score:`,

	PromptRelevancy: `Rate how directly the answer addresses the question, ignoring whether it is correct.
Reply with ONLY a number between 0 and 1.

Question: %s
Answer: %s
Score:`,
}
