package domain

import (
	"context"
	"errors"
	"net"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedType indicates an unknown normaliser, format or backend.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// Pipeline Errors.

	// ErrIndexUnavailable indicates the embedding index backing store cannot be reached.
	// Recoverable: callers may retry with backoff.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrModelVersionMismatch indicates the query embedding model differs from
	// the model the index was built with. Never retried.
	ErrModelVersionMismatch = errors.New("embedding model version mismatch")

	// ErrRetrievalEmpty indicates no passage cleared the similarity threshold.
	// It is routed to the fallback answer and never surfaced to users.
	ErrRetrievalEmpty = errors.New("retrieval empty")

	// ErrUnsupportedClaim indicates a drafted claim is not entailed by the evidence.
	ErrUnsupportedClaim = errors.New("unsupported claim")

	// ErrServiceUnavailable indicates a remote model service failed or timed out.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedRecord indicates an input record failed validation.
	ErrMalformedRecord = errors.New("malformed record")
)

// IsTransient reports whether err is worth retrying with backoff.
// Deterministic failures (model mismatch, unsupported claims, bad input)
// are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrModelVersionMismatch),
		errors.Is(err, ErrUnsupportedClaim),
		errors.Is(err, ErrMalformedRecord),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrIndexUnavailable),
		errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
