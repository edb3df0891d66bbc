package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/covera/internal/adapters/driven/ai"
	"github.com/custodia-labs/covera/internal/adapters/driven/config/file"
	"github.com/custodia-labs/covera/internal/adapters/driven/index/memory"
	"github.com/custodia-labs/covera/internal/adapters/driven/index/milvus"
	redisindex "github.com/custodia-labs/covera/internal/adapters/driven/index/redis"
	"github.com/custodia-labs/covera/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/covera/internal/connectors/filesystem"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/core/services"
	"github.com/custodia-labs/covera/internal/logger"
	"github.com/custodia-labs/covera/internal/normalisers"
	"github.com/custodia-labs/covera/internal/postprocessors"
	"github.com/custodia-labs/covera/internal/resilience"
)

// envPrefix prefixes environment overrides of config.toml keys.
const envPrefix = "COVERA"

// apiKeyEnv names the conventional key variable of each cloud provider.
var apiKeyEnv = map[domain.AIProvider]string{
	domain.AIProviderOpenAI:    "OPENAI_API_KEY",
	domain.AIProviderAnthropic: "ANTHROPIC_API_KEY",
}

// app holds the resources of the running command. It is nil in tests,
// where the service variables are assigned directly.
var app *runtime

// runtime builds services in stages so a command only opens what it uses:
// settings alone need no store, and listing reports needs no AI provider.
type runtime struct {
	configStore *file.ConfigStore
	prompts     *file.PromptStore
	settings    *domain.AppSettings

	store *sqlite.Store
	index driven.EmbeddingIndex
	ai    *ai.InitResult
}

func newRuntime() *runtime {
	return &runtime{}
}

// Close releases everything the stages opened.
func (r *runtime) Close() {
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			logger.Warn("Failed to close index: %v", err)
		}
	}
	if r.ai != nil {
		r.ai.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			logger.Warn("Failed to close store: %v", err)
		}
	}
}

// requireSettings opens the config store and the settings service.
func requireSettings() error {
	if app == nil {
		return nil
	}
	return app.loadSettings()
}

// requireStorage opens the document and report store. Stored reports and
// documents can be read without any AI provider.
func requireStorage() error {
	if app == nil {
		return nil
	}
	return app.openStorage()
}

// requirePipeline builds the full answering pipeline.
func requirePipeline(ctx context.Context) error {
	if app == nil {
		return nil
	}
	return app.openPipeline(ctx)
}

func (r *runtime) loadSettings() error {
	if r.settings != nil {
		return nil
	}

	store, err := file.NewConfigStore(configDir, file.WithEnvOverrides(envPrefix))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	promptDir := ""
	if configDir != "" {
		promptDir = filepath.Join(configDir, "prompts")
	}
	prompts, err := file.NewPromptStore(promptDir)
	if err != nil {
		return fmt.Errorf("open prompts: %w", err)
	}

	svc := services.NewSettingsService(store, ai.NewConfigValidator())
	settings, err := svc.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	r.configStore = store
	r.prompts = prompts
	r.settings = settings
	settingsService = svc
	return nil
}

func (r *runtime) openStorage() error {
	if r.store != nil {
		return nil
	}
	if err := r.loadSettings(); err != nil {
		return err
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = store
	logger.Debug("Store: %s", store.Path())

	documentService = services.NewDocumentService(store.DocumentStore())
	// Scoring a pre-generated dataset needs no answering pipeline.
	evaluationService = services.NewEvaluationService(nil,
		services.NewScorer(services.WithWeights(r.settings.Scoring)),
		services.WithReportStore(store.ReportStore()),
		services.WithEvalConcurrency(evalWorkers(r.settings)),
	)
	return nil
}

func (r *runtime) openPipeline(ctx context.Context) error {
	if r.ai != nil {
		return nil
	}
	if err := r.openStorage(); err != nil {
		return err
	}

	settings := *r.settings
	settings.Embedding.APIKey = apiKeyFromEnv(settings.Embedding.Provider, settings.Embedding.APIKey)
	settings.LLM.APIKey = apiKeyFromEnv(settings.LLM.Provider, settings.LLM.APIKey)

	aiResult, err := ai.Init(&settings, r.prompts)
	if err != nil {
		return err
	}
	index, err := openIndex(ctx, settings.Index, r.store)
	if err != nil {
		aiResult.Close()
		return err
	}
	r.ai = aiResult
	r.index = index

	if err := r.wire(&settings); err != nil {
		return err
	}

	if settings.Index.Backend == domain.IndexBackendMemory {
		if _, err := indexingService.Rebuild(ctx, driving.IndexOptions{}); err != nil {
			return fmt.Errorf("load memory index: %w", err)
		}
	}
	return nil
}

// wire connects the pipeline services to the opened adapters.
func (r *runtime) wire(settings *domain.AppSettings) error {
	policy := resilience.PolicyFromSettings(settings.Resilience)
	embedder := r.ai.EmbeddingService
	docs := r.store.DocumentStore()

	normaliser := normalisers.NewDefaultRegistry()
	processors := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(processors)
	pipeline, err := processors.BuildPipeline(domain.DefaultPipelineConfig(settings.Chunking))
	if err != nil {
		return err
	}
	factory := func(path string) driven.Connector {
		return filesystem.New(path, filesystem.WithMIMETypes(normaliser.SupportedMIMETypes()))
	}

	indexingService = services.NewIndexingService(factory, normaliser, pipeline, docs, r.index, embedder,
		services.WithIndexWorkers(settings.Concurrency.IndexWorkers),
		services.WithIndexingRetry(policy),
	)

	retriever := services.NewRetriever(r.index, embedder, docs,
		services.WithTopK(settings.Retrieval.TopK),
		services.WithMinSimilarity(settings.Retrieval.MinSimilarity),
		services.WithIndexRetry(policy),
	)
	retrievalService = retriever

	judging := settings.Grounding.UseJudge && r.ai.Judge != nil
	var verifierOpts []services.VerifierOption
	if judging {
		verifierOpts = append(verifierOpts,
			services.WithEntailmentJudge(r.ai.Judge, settings.Grounding.JudgeThreshold))
	}
	verifier := services.NewVerifier(verifierOpts...)

	var synthOpts []services.SynthesizerOption
	if r.ai.LLMService != nil {
		synthOpts = append(synthOpts, services.WithLLMDrafting(r.ai.LLMService, r.ai.Judge))
	}
	synth := services.NewSynthesizer(retriever, verifier, synthOpts...)
	synth.SetPromptStore(r.prompts)
	answerService = synth

	scorerOpts := []services.ScorerOption{
		services.WithWeights(settings.Scoring),
		services.WithRelevancyEmbedder(embedder),
		services.WithFaithfulnessVerifier(verifier),
	}
	if judging {
		scorerOpts = append(scorerOpts, services.WithRelevancyJudge(r.ai.Judge))
	}
	evaluationService = services.NewEvaluationService(synth, services.NewScorer(scorerOpts...),
		services.WithReportStore(r.store.ReportStore()),
		services.WithEvalConcurrency(evalWorkers(settings)),
		services.WithEmbeddingModel(embedder.ModelName()),
		services.WithDomainFilters(),
	)
	return nil
}

// openIndex opens the configured embedding index backend.
func openIndex(ctx context.Context, s domain.IndexSettings, store *sqlite.Store) (driven.EmbeddingIndex, error) {
	switch s.Backend {
	case domain.IndexBackendMemory:
		return memory.New(), nil
	case domain.IndexBackendSQLite, "":
		if store == nil {
			return nil, errors.New("sqlite index needs the document store")
		}
		return store.EmbeddingIndex(), nil
	case domain.IndexBackendMilvus:
		idx, err := milvus.New(ctx, s.MilvusAddress, s.MilvusCollection)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case domain.IndexBackendRedis:
		idx, err := redisindex.New(ctx, redisindex.Config{
			Addr:      s.RedisAddr,
			Password:  s.RedisPassword,
			IndexName: s.RedisIndex,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", domain.ErrInvalidInput, s.Backend)
	}
}

// evalWorkers returns the --concurrency flag, else the configured bound.
func evalWorkers(settings *domain.AppSettings) int {
	if evalConcurrency > 0 {
		return evalConcurrency
	}
	return settings.Concurrency.EvalConcurrency
}

// apiKeyFromEnv falls back to the provider's key variable when no key is
// configured.
func apiKeyFromEnv(provider domain.AIProvider, current string) string {
	if current != "" {
		return current
	}
	if name, ok := apiKeyEnv[provider]; ok {
		return os.Getenv(name)
	}
	return current
}
