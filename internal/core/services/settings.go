package services

import (
	"fmt"
	"slices"
	"time"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyEmbedProvider = "embedding.provider"
	keyEmbedModel    = "embedding.model"
	keyEmbedBaseURL  = "embedding.base_url"
	keyEmbedAPIKey   = "embedding.api_key"
	keyLLMProvider   = "llm.provider"
	keyLLMModel      = "llm.model"
	keyLLMBaseURL    = "llm.base_url"
	keyLLMAPIKey     = "llm.api_key"

	keyIndexBackend     = "index.backend"
	keyMilvusAddress    = "index.milvus_address"
	keyMilvusCollection = "index.milvus_collection"
	keyRedisAddr        = "index.redis_addr"
	keyRedisPassword    = "index.redis_password"
	keyRedisIndex       = "index.redis_index"

	keyChunkMaxTokens = "chunking.max_tokens"
	keyChunkMinTokens = "chunking.min_tokens"

	keyTopK          = "retrieval.top_k"
	keyMinSimilarity = "retrieval.min_similarity"

	keyUseJudge       = "grounding.use_judge"
	keyJudgeThreshold = "grounding.judge_threshold"

	keyWeightRelevancy    = "scoring.answer_relevancy"
	keyWeightContext      = "scoring.context"
	keyWeightFaithfulness = "scoring.faithfulness"

	keyTimeout           = "resilience.timeout"
	keyMaxAttempts       = "resilience.max_attempts"
	keyBaseDelay         = "resilience.base_delay"
	keyMaxDelay          = "resilience.max_delay"
	keyRequestsPerSecond = "resilience.requests_per_second"
	keyBurst             = "resilience.burst"

	keyIndexWorkers    = "concurrency.index_workers"
	keyEvalConcurrency = "concurrency.eval_concurrency"
)

const defaultOllamaURL = "http://localhost:11434"

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
	}
}

// Get retrieves current application settings. Missing or invalid values
// fall back to defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	d := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Embedding: domain.EmbeddingSettings{
			Provider: s.getProvider(keyEmbedProvider, d.Embedding.Provider),
			Model:    s.getString(keyEmbedModel, d.Embedding.Model),
			BaseURL:  s.configStore.GetString(keyEmbedBaseURL), // No default - empty is valid for cloud providers
			APIKey:   s.configStore.GetString(keyEmbedAPIKey),
		},
		LLM: domain.LLMSettings{
			Provider: s.getProvider(keyLLMProvider, d.LLM.Provider),
			Model:    s.getString(keyLLMModel, d.LLM.Model),
			BaseURL:  s.configStore.GetString(keyLLMBaseURL),
			APIKey:   s.configStore.GetString(keyLLMAPIKey),
		},
		Index: domain.IndexSettings{
			Backend:          s.getBackend(d.Index.Backend),
			MilvusAddress:    s.getString(keyMilvusAddress, d.Index.MilvusAddress),
			MilvusCollection: s.getString(keyMilvusCollection, d.Index.MilvusCollection),
			RedisAddr:        s.getString(keyRedisAddr, d.Index.RedisAddr),
			RedisPassword:    s.configStore.GetString(keyRedisPassword),
			RedisIndex:       s.getString(keyRedisIndex, d.Index.RedisIndex),
		},
		Chunking: domain.ChunkingSettings{
			MaxTokens: s.getInt(keyChunkMaxTokens, d.Chunking.MaxTokens),
			MinTokens: s.getInt(keyChunkMinTokens, d.Chunking.MinTokens),
		},
		Retrieval: domain.RetrievalSettings{
			TopK:          s.getInt(keyTopK, d.Retrieval.TopK),
			MinSimilarity: s.getFloat(keyMinSimilarity, d.Retrieval.MinSimilarity),
		},
		Grounding: domain.GroundingSettings{
			UseJudge:       s.getBool(keyUseJudge, d.Grounding.UseJudge),
			JudgeThreshold: s.getFloat(keyJudgeThreshold, d.Grounding.JudgeThreshold),
		},
		Scoring: domain.NewWeights(
			s.getFloat(keyWeightRelevancy, d.Scoring.AnswerRelevancy),
			s.getFloat(keyWeightContext, d.Scoring.Context),
			s.getFloat(keyWeightFaithfulness, d.Scoring.Faithfulness),
		),
		Resilience: domain.ResilienceSettings{
			Timeout:           s.getDuration(keyTimeout, d.Resilience.Timeout),
			MaxAttempts:       s.getInt(keyMaxAttempts, d.Resilience.MaxAttempts),
			BaseDelay:         s.getDuration(keyBaseDelay, d.Resilience.BaseDelay),
			MaxDelay:          s.getDuration(keyMaxDelay, d.Resilience.MaxDelay),
			RequestsPerSecond: s.getFloat(keyRequestsPerSecond, d.Resilience.RequestsPerSecond),
			Burst:             s.getInt(keyBurst, d.Resilience.Burst),
		},
		Concurrency: domain.ConcurrencySettings{
			IndexWorkers:    s.getInt(keyIndexWorkers, d.Concurrency.IndexWorkers),
			EvalConcurrency: s.getInt(keyEvalConcurrency, d.Concurrency.EvalConcurrency),
		},
	}

	if err := settings.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("scoring weights: %w", err)
	}
	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	if err := settings.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring weights: %w", err)
	}

	values := []struct {
		key   string
		value any
	}{
		{keyEmbedProvider, settings.Embedding.Provider.String()},
		{keyEmbedModel, settings.Embedding.Model},
		{keyEmbedBaseURL, settings.Embedding.BaseURL},
		{keyLLMProvider, settings.LLM.Provider.String()},
		{keyLLMModel, settings.LLM.Model},
		{keyLLMBaseURL, settings.LLM.BaseURL},

		{keyIndexBackend, settings.Index.Backend.String()},
		{keyMilvusAddress, settings.Index.MilvusAddress},
		{keyMilvusCollection, settings.Index.MilvusCollection},
		{keyRedisAddr, settings.Index.RedisAddr},
		{keyRedisIndex, settings.Index.RedisIndex},

		{keyChunkMaxTokens, settings.Chunking.MaxTokens},
		{keyChunkMinTokens, settings.Chunking.MinTokens},
		{keyTopK, settings.Retrieval.TopK},
		{keyMinSimilarity, settings.Retrieval.MinSimilarity},
		{keyUseJudge, settings.Grounding.UseJudge},
		{keyJudgeThreshold, settings.Grounding.JudgeThreshold},

		{keyWeightRelevancy, settings.Scoring.AnswerRelevancy},
		{keyWeightContext, settings.Scoring.Context},
		{keyWeightFaithfulness, settings.Scoring.Faithfulness},

		{keyTimeout, settings.Resilience.Timeout.String()},
		{keyMaxAttempts, settings.Resilience.MaxAttempts},
		{keyBaseDelay, settings.Resilience.BaseDelay.String()},
		{keyMaxDelay, settings.Resilience.MaxDelay.String()},
		{keyRequestsPerSecond, settings.Resilience.RequestsPerSecond},
		{keyBurst, settings.Resilience.Burst},

		{keyIndexWorkers, settings.Concurrency.IndexWorkers},
		{keyEvalConcurrency, settings.Concurrency.EvalConcurrency},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	// Secrets are only written when set, so an empty form keeps the stored key
	secrets := map[string]string{
		keyEmbedAPIKey:   settings.Embedding.APIKey,
		keyLLMAPIKey:     settings.LLM.APIKey,
		keyRedisPassword: settings.Index.RedisPassword,
	}
	for key, value := range secrets {
		if value == "" {
			continue
		}
		if err := s.configStore.Set(key, value); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}

	return nil
}

// SetEmbeddingProvider configures the embedding provider.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid embedding provider: %s", provider)
	}
	if !slices.Contains(domain.AllEmbeddingProviders(), provider) {
		return fmt.Errorf("provider %s does not support embeddings", provider)
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	settings.Embedding.Provider = provider
	settings.Embedding.Model = modelOrDefault(model, domain.DefaultEmbeddingModels()[provider])
	settings.Embedding.BaseURL = baseURLFor(provider, settings.Embedding.BaseURL)
	settings.Embedding.APIKey = apiKey

	return s.Save(settings)
}

// SetLLMProvider configures the LLM provider.
func (s *SettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid LLM provider: %s", provider)
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	settings.LLM.Provider = provider
	settings.LLM.Model = modelOrDefault(model, domain.DefaultLLMModels()[provider])
	settings.LLM.BaseURL = baseURLFor(provider, settings.LLM.BaseURL)
	settings.LLM.APIKey = apiKey

	return s.Save(settings)
}

// SetIndexBackend selects the embedding index backend. For remote
// backends a non-empty address replaces the configured one.
func (s *SettingsService) SetIndexBackend(backend domain.IndexBackend, address string) error {
	if !backend.IsValid() {
		return fmt.Errorf("invalid index backend: %s", backend)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	settings.Index.Backend = backend
	if address != "" {
		switch backend {
		case domain.IndexBackendMilvus:
			settings.Index.MilvusAddress = address
		case domain.IndexBackendRedis:
			settings.Index.RedisAddr = address
		}
	}

	return s.Save(settings)
}

// Validate checks that current settings can run the pipeline.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}

	if !settings.Embedding.IsConfigured() {
		return fmt.Errorf("%w: embedding provider is not configured", domain.ErrEmbeddingUnavailable)
	}
	if settings.Grounding.UseJudge && !settings.LLM.IsConfigured() {
		return fmt.Errorf("%w: the grounding judge requires an LLM provider", domain.ErrInvalidInput)
	}
	if settings.Chunking.MinTokens > settings.Chunking.MaxTokens {
		return fmt.Errorf("%w: chunking min_tokens exceeds max_tokens", domain.ErrInvalidInput)
	}
	if settings.Retrieval.MinSimilarity < 0 || settings.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity must be within [0,1]", domain.ErrInvalidInput)
	}

	switch settings.Index.Backend {
	case domain.IndexBackendMilvus:
		if settings.Index.MilvusAddress == "" {
			return fmt.Errorf("%w: milvus backend requires an address", domain.ErrInvalidInput)
		}
	case domain.IndexBackendRedis:
		if settings.Index.RedisAddr == "" {
			return fmt.Errorf("%w: redis backend requires an address", domain.ErrInvalidInput)
		}
	}

	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateEmbedding(&settings.Embedding)
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateLLM(&settings.LLM)
}

func modelOrDefault(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

// baseURLFor keeps a configured URL for local providers. Cloud providers
// use their default endpoint.
func baseURLFor(provider domain.AIProvider, current string) string {
	if !provider.IsLocal() {
		return ""
	}
	if current == "" {
		return defaultOllamaURL
	}
	return current
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetBool(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	provider := domain.AIProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}

func (s *SettingsService) getBackend(defaultVal domain.IndexBackend) domain.IndexBackend {
	backend := domain.IndexBackend(s.configStore.GetString(keyIndexBackend))
	if !backend.IsValid() {
		return defaultVal
	}
	return backend
}
