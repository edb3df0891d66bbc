// Package ai provides factory functions for creating AI service adapters,
// the retrying guard around them, and the LLM backed judge.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	ollamaembed "github.com/custodia-labs/covera/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/covera/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/covera/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/covera/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/covera/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// InitResult contains the result of AI service initialisation.
type InitResult struct {
	EmbeddingService driven.EmbeddingService
	LLMService       driven.LLMService // nil when no LLM is configured or reachable.
	Judge            *Judge            // nil without an LLM.
	Warnings         []string          // Non-fatal issues that caused fallback.
}

// Close releases all resources held by InitResult.
func (r *InitResult) Close() {
	if r.EmbeddingService != nil {
		r.EmbeddingService.Close()
	}
	if r.LLMService != nil {
		r.LLMService.Close()
	}
}

// Init creates the AI services described by settings. The embedding
// service is required. The LLM is optional: when it cannot be reached the
// pipeline runs extractively and a warning is recorded, unless the
// settings require the judge. Services are wrapped in the retry guard.
func Init(settings *domain.AppSettings, prompts driven.PromptStore) (*InitResult, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: no settings", domain.ErrInvalidInput)
	}
	if !settings.Embedding.IsConfigured() {
		return nil, fmt.Errorf("%w: no embedding provider configured. Run 'covera settings embedding' to fix",
			domain.ErrEmbeddingUnavailable)
	}

	embedder, err := CreateAndValidateEmbeddingService(&settings.Embedding)
	if err != nil {
		return nil, err
	}

	result := &InitResult{
		EmbeddingService: NewGuardedEmbeddingService(embedder, settings.Resilience),
	}

	llm, err := CreateAndValidateLLMService(&settings.LLM)
	switch {
	case err != nil && settings.Grounding.UseJudge:
		result.Close()
		return nil, err
	case err != nil:
		logger.Warn("LLM unavailable, answers will be extractive: %v", err)
		result.Warnings = append(result.Warnings, err.Error())
	case llm != nil:
		result.LLMService = NewGuardedLLMService(llm, settings.Resilience)
		result.Judge = NewJudge(result.LLMService)
		if prompts != nil {
			result.Judge.SetPromptStore(prompts)
		}
	}

	return result, nil
}

// CreateAndValidateEmbeddingService creates an embedding service and validates connectivity.
// Returns the service if successful, or an error with guidance.
func CreateAndValidateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	svc, err := CreateEmbeddingService(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. Run 'covera settings embedding' to fix",
			domain.ErrEmbeddingUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w). Run 'covera settings embedding' to fix",
			domain.ErrEmbeddingUnavailable, err)
	}

	return svc, nil
}

// CreateAndValidateLLMService creates an LLM service and validates connectivity.
// Returns the service if successful, or an error with guidance.
func CreateAndValidateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	svc, err := CreateLLMService(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. Run 'covera settings llm' to fix",
			domain.ErrLLMUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w). Run 'covera settings llm' to fix",
			domain.ErrLLMUnavailable, err)
	}

	return svc, nil
}

// ValidateEmbeddingConfig validates an embedding configuration by creating a service and pinging it.
func ValidateEmbeddingConfig(settings *domain.EmbeddingSettings) error {
	svc, err := CreateEmbeddingService(settings)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return svc.Ping(ctx)
}

// ValidateLLMConfig validates an LLM configuration by creating a service and pinging it.
func ValidateLLMConfig(settings *domain.LLMSettings) error {
	svc, err := CreateLLMService(settings)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return svc.Ping(ctx)
}

// errNoEmbeddings is returned for providers without an embeddings API.
var errNoEmbeddings = errors.New("anthropic does not support embeddings, use ollama or openai")

// CreateEmbeddingService creates the appropriate embedding service based on settings.
// Returns nil if the provider is not configured.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return createOllamaEmbedding(settings)
	case domain.AIProviderOpenAI:
		return createOpenAIEmbedding(settings)
	case domain.AIProviderAnthropic:
		return nil, errNoEmbeddings
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", settings.Provider)
	}
}

// CreateLLMService creates the appropriate LLM service based on settings.
// Returns nil if the provider is not configured.
func CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})
	case domain.AIProviderOpenAI:
		return openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})
	case domain.AIProviderAnthropic:
		return anthropicllm.NewLLMService(anthropicllm.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", settings.Provider)
	}
}

func createOllamaEmbedding(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	dimensions := domain.EmbeddingDimensions()[settings.Model]
	if dimensions == 0 {
		dimensions = ollamaembed.DefaultDimensions
	}

	svc, err := ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Dimensions: dimensions,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func createOpenAIEmbedding(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	return openaiembed.NewEmbeddingService(openaiembed.Config{
		APIKey:     settings.APIKey,
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Dimensions: domain.EmbeddingDimensions()[settings.Model],
	})
}
