package ai

import (
	"context"
	"errors"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/resilience"
)

// Ensure the guarded services implement the interfaces.
var (
	_ driven.EmbeddingService = (*GuardedEmbeddingService)(nil)
	_ driven.LLMService       = (*GuardedLLMService)(nil)
)

// guard runs remote calls through a shared rate limiter and the retry
// policy. A 429 pauses every caller of the service until the server's
// Retry-After has passed.
type guard struct {
	name    string
	policy  resilience.Policy
	limiter *resilience.RateLimiter
}

func newGuard(name string, settings domain.ResilienceSettings) guard {
	return guard{
		name:   name,
		policy: resilience.PolicyFromSettings(settings),
		limiter: resilience.NewRateLimiter(resilience.RateLimitConfig{
			RequestsPerSecond: settings.RequestsPerSecond,
			BurstSize:         settings.Burst,
		}),
	}
}

func (g guard) do(ctx context.Context, op func(ctx context.Context) error) error {
	return resilience.Do(ctx, g.policy, g.name, func(attemptCtx context.Context) error {
		// Waiting for a token does not count against the attempt timeout.
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		err := op(attemptCtx)
		if errors.Is(err, domain.ErrRateLimited) {
			retryAfter, _ := resilience.RetryAfter(err)
			g.limiter.RecordRateLimitError(retryAfter)
		}
		return err
	})
}

func guarded[T any](ctx context.Context, g guard, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// GuardedEmbeddingService wraps an embedding service with rate limiting
// and retries of transient failures.
type GuardedEmbeddingService struct {
	inner driven.EmbeddingService
	guard guard
}

// NewGuardedEmbeddingService wraps inner using the resilience settings.
func NewGuardedEmbeddingService(inner driven.EmbeddingService, settings domain.ResilienceSettings) *GuardedEmbeddingService {
	return &GuardedEmbeddingService{inner: inner, guard: newGuard("embed "+inner.ModelName(), settings)}
}

// Embed generates a vector embedding for the given text.
func (s *GuardedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return guarded(ctx, s.guard, func(ctx context.Context) ([]float32, error) {
		return s.inner.Embed(ctx, text)
	})
}

// EmbedBatch generates embeddings for multiple texts.
func (s *GuardedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return guarded(ctx, s.guard, func(ctx context.Context) ([][]float32, error) {
		return s.inner.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the embedding vector size.
func (s *GuardedEmbeddingService) Dimensions() int { return s.inner.Dimensions() }

// ModelName returns the wrapped model name.
func (s *GuardedEmbeddingService) ModelName() string { return s.inner.ModelName() }

// Ping checks connectivity once, without retries.
func (s *GuardedEmbeddingService) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

// Close releases resources.
func (s *GuardedEmbeddingService) Close() error { return s.inner.Close() }

// GuardedLLMService wraps an LLM service with rate limiting and retries
// of transient failures.
type GuardedLLMService struct {
	inner driven.LLMService
	guard guard
}

// NewGuardedLLMService wraps inner using the resilience settings.
func NewGuardedLLMService(inner driven.LLMService, settings domain.ResilienceSettings) *GuardedLLMService {
	return &GuardedLLMService{inner: inner, guard: newGuard("llm "+inner.ModelName(), settings)}
}

// Generate produces text completion from a prompt.
func (s *GuardedLLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	return guarded(ctx, s.guard, func(ctx context.Context) (string, error) {
		return s.inner.Generate(ctx, prompt, opts)
	})
}

// Chat conducts a multi-turn conversation.
func (s *GuardedLLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	return guarded(ctx, s.guard, func(ctx context.Context) (string, error) {
		return s.inner.Chat(ctx, messages, opts)
	})
}

// ModelName returns the wrapped model name.
func (s *GuardedLLMService) ModelName() string { return s.inner.ModelName() }

// Ping checks connectivity once, without retries.
func (s *GuardedLLMService) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

// Close releases resources.
func (s *GuardedLLMService) Close() error { return s.inner.Close() }
