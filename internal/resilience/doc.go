// Package resilience provides retry with backoff and rate limiting for
// calls to remote services (embedding, LLM, vector stores).
package resilience
