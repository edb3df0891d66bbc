package domain

import "time"

const unknownDescription = "Unknown"

// IndexBackend selects the embedding index implementation.
type IndexBackend string

// Available index backends.
const (
	// IndexBackendMemory keeps the index in process memory.
	IndexBackendMemory IndexBackend = "memory"

	// IndexBackendSQLite persists vectors next to the document store.
	IndexBackendSQLite IndexBackend = "sqlite"

	// IndexBackendMilvus uses a remote Milvus collection.
	IndexBackendMilvus IndexBackend = "milvus"

	// IndexBackendRedis uses Redis Stack vector search.
	IndexBackendRedis IndexBackend = "redis"
)

// IsValid returns true if the backend is recognised.
func (b IndexBackend) IsValid() bool {
	switch b {
	case IndexBackendMemory, IndexBackendSQLite, IndexBackendMilvus, IndexBackendRedis:
		return true
	default:
		return false
	}
}

// IsRemote returns true if the backend is a network service.
func (b IndexBackend) IsRemote() bool {
	return b == IndexBackendMilvus || b == IndexBackendRedis
}

// String returns the string representation.
func (b IndexBackend) String() string {
	return string(b)
}

// Description returns a human-readable description of the backend.
func (b IndexBackend) Description() string {
	switch b {
	case IndexBackendMemory:
		return "Memory (rebuilt every run)"
	case IndexBackendSQLite:
		return "SQLite (local file)"
	case IndexBackendMilvus:
		return "Milvus (remote)"
	case IndexBackendRedis:
		return "Redis Stack (remote)"
	default:
		return unknownDescription
	}
}

// AllIndexBackends returns all available index backends.
func AllIndexBackends() []IndexBackend {
	return []IndexBackend{
		IndexBackendMemory,
		IndexBackendSQLite,
		IndexBackendMilvus,
		IndexBackendRedis,
	}
}

// AIProvider identifies an AI service provider for embeddings or LLM.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	default:
		return unknownDescription
	}
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider.
	Provider AIProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds LLM provider configuration.
type LLMSettings struct {
	// Provider is the LLM service provider.
	Provider AIProvider

	// Model is the LLM model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI/Anthropic).
	APIKey string
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
	}
}

// AllLLMProviders returns providers that support LLM operations.
func AllLLMProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderAnthropic,
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}

// IndexSettings holds embedding index configuration.
type IndexSettings struct {
	// Backend is the index implementation.
	Backend IndexBackend

	// MilvusAddress is the Milvus gRPC address.
	MilvusAddress string

	// MilvusCollection is the Milvus collection name.
	MilvusCollection string

	// RedisAddr is the Redis address.
	RedisAddr string

	// RedisPassword is the Redis password.
	RedisPassword string

	// RedisIndex is the RediSearch index name.
	RedisIndex string
}

// ChunkingSettings bounds chunk sizes in tokens.
type ChunkingSettings struct {
	MaxTokens int
	MinTokens int
}

// RetrievalSettings configures the retriever.
type RetrievalSettings struct {
	// TopK is the default number of passages.
	TopK int

	// MinSimilarity drops passages scoring below it.
	MinSimilarity float64
}

// GroundingSettings configures the grounding verifier.
type GroundingSettings struct {
	// UseJudge asks the LLM to confirm entailment.
	UseJudge bool

	// JudgeThreshold is the minimum judge score for entailment.
	JudgeThreshold float64
}

// ResilienceSettings configures remote call timeouts, retries and rate limits.
type ResilienceSettings struct {
	Timeout           time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
	Burst             int
}

// ConcurrencySettings bounds worker pools.
type ConcurrencySettings struct {
	// IndexWorkers bounds concurrent document indexing.
	IndexWorkers int

	// EvalConcurrency bounds concurrent questions in a batch evaluation.
	EvalConcurrency int
}

// AppSettings holds all application settings.
type AppSettings struct {
	Embedding   EmbeddingSettings
	LLM         LLMSettings
	Index       IndexSettings
	Chunking    ChunkingSettings
	Retrieval   RetrievalSettings
	Grounding   GroundingSettings
	Scoring     Weights
	Resilience  ResilienceSettings
	Concurrency ConcurrencySettings
}

// DefaultAppSettings returns settings with sensible defaults.
// AI providers are left unconfigured; users set them up via settings.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Embedding: EmbeddingSettings{},
		LLM:       LLMSettings{},
		Index: IndexSettings{
			Backend:          IndexBackendSQLite,
			MilvusAddress:    "localhost:19530",
			MilvusCollection: "harel",
			RedisAddr:        "localhost:6379",
			RedisIndex:       "covera-chunks",
		},
		Chunking: ChunkingSettings{
			MaxTokens: 256,
			MinTokens: 32,
		},
		Retrieval: RetrievalSettings{
			TopK:          2,
			MinSimilarity: 0.35,
		},
		Grounding: GroundingSettings{
			JudgeThreshold: 0.5,
		},
		Scoring: DefaultWeights(),
		Resilience: ResilienceSettings{
			Timeout:           30 * time.Second,
			MaxAttempts:       4,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          8 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Concurrency: ConcurrencySettings{
			IndexWorkers:    4,
			EvalConcurrency: 4,
		},
	}
}

// PipelineConfig holds post-processor pipeline configuration.
// Uses generic map-based config for extensibility - new processors can be added
// without modifying this struct.
type PipelineConfig struct {
	// Processors is the ordered list of processor names to run.
	Processors []string

	// ProcessorConfigs holds per-processor configuration as generic maps.
	// Key is processor name, value is processor-specific config.
	ProcessorConfigs map[string]map[string]any
}

// GetProcessorConfig returns config for a specific processor, or nil if not set.
func (c *PipelineConfig) GetProcessorConfig(name string) map[string]any {
	if c.ProcessorConfigs == nil {
		return nil
	}
	return c.ProcessorConfigs[name]
}

// DefaultPipelineConfig returns the default pipeline configuration.
// The structural chunker runs first, then section metadata is attached.
func DefaultPipelineConfig(chunking ChunkingSettings) PipelineConfig {
	return PipelineConfig{
		Processors: []string{"chunker", "metadata"},
		ProcessorConfigs: map[string]map[string]any{
			"chunker": {
				"max_tokens": chunking.MaxTokens,
				"min_tokens": chunking.MinTokens,
			},
		},
	}
}
