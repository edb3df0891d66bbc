package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// settingsInput is where interactive answers are read from.
var settingsInput io.Reader = os.Stdin

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure AI providers, the embedding index backend, and
pipeline options.

Pipeline options (chunking, retrieval, grounding, scoring weights) are
edited in config.toml or overridden with COVERA_* environment variables.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsWizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive setup wizard",
	Long:  `Run an interactive wizard to configure providers and the index step by step.`,
	RunE:  runSettingsWizard,
}

var settingsEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure embedding provider",
	Long:  `Configure the embedding provider used to index and retrieve passages.`,
	RunE:  runSettingsEmbedding,
}

var settingsLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Configure LLM provider",
	Long: `Configure the LLM provider used to draft answers and judge entailment.
Without one, answers are assembled from retrieved sentences.`,
	RunE: runSettingsLLM,
}

var settingsIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Select the embedding index backend",
	RunE:  runSettingsIndex,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsWizardCmd)
	settingsCmd.AddCommand(settingsEmbeddingCmd)
	settingsCmd.AddCommand(settingsLLMCmd)
	settingsCmd.AddCommand(settingsIndexCmd)
	rootCmd.AddCommand(settingsCmd)
}

func requireSettingsService() error {
	if err := requireSettings(); err != nil {
		return err
	}
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	return nil
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if err := requireSettingsService(); err != nil {
		return err
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Embedding]")
	printProvider(cmd, settings.Embedding.Provider, settings.Embedding.Model,
		settings.Embedding.BaseURL, settings.Embedding.APIKey, settings.Embedding.IsConfigured())

	cmd.Println("[LLM]")
	printProvider(cmd, settings.LLM.Provider, settings.LLM.Model,
		settings.LLM.BaseURL, settings.LLM.APIKey, settings.LLM.IsConfigured())

	cmd.Println("[Index]")
	cmd.Printf("  Backend: %s\n", settings.Index.Backend.Description())
	switch settings.Index.Backend {
	case domain.IndexBackendMilvus:
		cmd.Printf("  Address: %s\n", settings.Index.MilvusAddress)
		cmd.Printf("  Collection: %s\n", settings.Index.MilvusCollection)
	case domain.IndexBackendRedis:
		cmd.Printf("  Address: %s\n", settings.Index.RedisAddr)
		cmd.Printf("  Index: %s\n", settings.Index.RedisIndex)
	}
	cmd.Println()

	cmd.Println("[Pipeline]")
	cmd.Printf("  Chunk tokens: %d-%d\n", settings.Chunking.MinTokens, settings.Chunking.MaxTokens)
	cmd.Printf("  Top K: %d\n", settings.Retrieval.TopK)
	cmd.Printf("  Min similarity: %.2f\n", settings.Retrieval.MinSimilarity)
	cmd.Printf("  Entailment judge: %t\n", settings.Grounding.UseJudge)
	cmd.Printf("  Weights: relevancy %.2f, context %.2f, faithfulness %.2f, reserved %.2f\n",
		settings.Scoring.AnswerRelevancy, settings.Scoring.Context,
		settings.Scoring.Faithfulness, settings.Scoring.Reserved)
	cmd.Printf("  Workers: index %d, evaluation %d\n",
		settings.Concurrency.IndexWorkers, settings.Concurrency.EvalConcurrency)
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'covera settings wizard' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func printProvider(cmd *cobra.Command, provider domain.AIProvider, model, baseURL, apiKey string, configured bool) {
	if provider == "" {
		cmd.Println("  Provider: (not set)")
	} else {
		cmd.Printf("  Provider: %s\n", provider.Description())
		cmd.Printf("  Model: %s\n", model)
	}
	if provider.IsLocal() {
		cmd.Printf("  Base URL: %s\n", baseURL)
	}
	if provider.RequiresAPIKey() {
		if apiKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(apiKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
	}
	status := "configured"
	if !configured {
		status = "not configured"
	}
	cmd.Printf("  Status: %s\n", status)
	cmd.Println()
}

func runSettingsWizard(cmd *cobra.Command, _ []string) error {
	if err := requireSettingsService(); err != nil {
		return err
	}

	cmd.Println("Covera Settings Wizard")
	cmd.Println("======================")
	cmd.Println()

	reader := bufio.NewReader(settingsInput)

	cmd.Println("Step 1: Configure Embedding Provider")
	cmd.Println("------------------------------------")
	if err := configureEmbeddingProvider(cmd, reader); err != nil {
		return err
	}

	cmd.Println("Step 2: Configure LLM Provider")
	cmd.Println("------------------------------")
	cmd.Print("Configure an LLM for drafting answers? [Y/n]: ")
	if answer := strings.ToLower(readLine(reader)); answer == "n" || answer == "no" {
		cmd.Println("Skipped. Answers will be extractive.")
		cmd.Println()
	} else if err := configureLLMProvider(cmd, reader); err != nil {
		return err
	}

	cmd.Println("Step 3: Select Index Backend")
	cmd.Println("----------------------------")
	if err := configureIndexBackend(cmd, reader); err != nil {
		return err
	}

	cmd.Println("Configuration Complete!")
	cmd.Println("=======================")
	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
	} else {
		cmd.Println("All settings are valid and saved.")
	}

	return nil
}

func runSettingsEmbedding(cmd *cobra.Command, _ []string) error {
	if err := requireSettingsService(); err != nil {
		return err
	}
	return configureEmbeddingProvider(cmd, bufio.NewReader(settingsInput))
}

func runSettingsLLM(cmd *cobra.Command, _ []string) error {
	if err := requireSettingsService(); err != nil {
		return err
	}
	return configureLLMProvider(cmd, bufio.NewReader(settingsInput))
}

func runSettingsIndex(cmd *cobra.Command, _ []string) error {
	if err := requireSettingsService(); err != nil {
		return err
	}
	return configureIndexBackend(cmd, bufio.NewReader(settingsInput))
}

//nolint:dupl // Similar to configureLLMProvider but for embeddings - intentional for CLI flow clarity
func configureEmbeddingProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	cmd.Println("Select Embedding Provider")
	providers := domain.AllEmbeddingProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	input := readLine(reader)
	idx := parseChoice(input, len(providers), 1)
	selectedProvider := providers[idx-1]

	defaults := domain.DefaultEmbeddingModels()
	defaultModel := defaults[selectedProvider]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	apiKey, err := promptAPIKey(cmd, reader, selectedProvider)
	if err != nil {
		return err
	}

	if err := settingsService.SetEmbeddingProvider(selectedProvider, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure embedding provider: %w", err)
	}

	cmd.Print("Validating configuration... ")
	if err := settingsService.ValidateEmbeddingConfig(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("embedding configuration validation failed: %w", err)
	}
	cmd.Println("OK")

	cmd.Printf("Embedding provider configured: %s (%s)\n", selectedProvider.Description(), model)
	cmd.Println("Re-index with 'covera index --rebuild' if the model changed.")
	cmd.Println()
	return nil
}

//nolint:dupl // Similar to configureEmbeddingProvider but for LLM - intentional for CLI flow clarity
func configureLLMProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	cmd.Println("Select LLM Provider")
	providers := domain.AllLLMProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	input := readLine(reader)
	idx := parseChoice(input, len(providers), 1)
	selectedProvider := providers[idx-1]

	defaults := domain.DefaultLLMModels()
	defaultModel := defaults[selectedProvider]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	apiKey, err := promptAPIKey(cmd, reader, selectedProvider)
	if err != nil {
		return err
	}

	if err := settingsService.SetLLMProvider(selectedProvider, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure LLM provider: %w", err)
	}

	cmd.Print("Validating configuration... ")
	if err := settingsService.ValidateLLMConfig(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("LLM configuration validation failed: %w", err)
	}
	cmd.Println("OK")

	cmd.Printf("LLM provider configured: %s (%s)\n\n", selectedProvider.Description(), model)
	return nil
}

func configureIndexBackend(cmd *cobra.Command, reader *bufio.Reader) error {
	backends := domain.AllIndexBackends()
	defaultIdx := 1
	for i, b := range backends {
		if b == domain.IndexBackendSQLite {
			defaultIdx = i + 1
		}
		cmd.Printf("  %d. %s\n", i+1, b.Description())
	}
	cmd.Printf("\nEnter choice [%d]: ", defaultIdx)
	idx := parseChoice(readLine(reader), len(backends), defaultIdx)
	backend := backends[idx-1]

	var address string
	if backend.IsRemote() {
		defaults := domain.DefaultAppSettings().Index
		defaultAddr := defaults.MilvusAddress
		if backend == domain.IndexBackendRedis {
			defaultAddr = defaults.RedisAddr
		}
		cmd.Printf("Enter server address [%s]: ", defaultAddr)
		address = readLine(reader)
		if address == "" {
			address = defaultAddr
		}
	}

	if err := settingsService.SetIndexBackend(backend, address); err != nil {
		return fmt.Errorf("failed to set index backend: %w", err)
	}
	cmd.Printf("Index backend set to: %s\n", backend.Description())
	if backend != domain.IndexBackendMemory {
		cmd.Println("Run 'covera index --rebuild' to fill the new index from stored documents.")
	}
	cmd.Println()
	return nil
}

// promptAPIKey asks for a key when the provider needs one. An empty answer
// takes the key from the provider's environment variable.
func promptAPIKey(cmd *cobra.Command, reader *bufio.Reader, provider domain.AIProvider) (string, error) {
	if !provider.RequiresAPIKey() {
		return "", nil
	}
	env := apiKeyEnv[provider]
	if env != "" && os.Getenv(env) != "" {
		cmd.Printf("Enter API key [from %s]: ", env)
	} else {
		cmd.Print("Enter API key: ")
	}
	apiKey := readPassword(reader)
	cmd.Println()
	if apiKey == "" && env != "" {
		apiKey = os.Getenv(env)
	}
	if apiKey == "" {
		return "", errors.New("API key is required for this provider")
	}
	return apiKey, nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo from a terminal, else a plain line.
func readPassword(reader *bufio.Reader) string {
	if f, ok := settingsInput.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
