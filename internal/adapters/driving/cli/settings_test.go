package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// Test helper functions in settings.go

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short key",
			input:    "abc123",
			expected: "****",
		},
		{
			name:     "Exactly 8 chars",
			input:    "12345678",
			expected: "****",
		},
		{
			name:     "Long key",
			input:    "sk-1234567890abcdef",
			expected: "sk-1...cdef",
		},
		{
			name:     "Very long key",
			input:    "sk-proj-1234567890abcdefghijklmnop",
			expected: "sk-p...mnop",
		},
		{
			name:     "Empty key",
			input:    "",
			expected: "****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskAPIKey(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		maxVal     int
		defaultVal int
		expected   int
	}{
		{
			name:       "Empty input returns default",
			input:      "",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Valid choice within range",
			input:      "3",
			maxVal:     5,
			defaultVal: 1,
			expected:   3,
		},
		{
			name:       "Choice below minimum returns default",
			input:      "0",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Choice above maximum returns default",
			input:      "6",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Invalid input returns default",
			input:      "abc",
			maxVal:     5,
			defaultVal: 2,
			expected:   2,
		},
		{
			name:       "Negative number returns default",
			input:      "-1",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Whitespace returns default",
			input:      "   ",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Maximum value is valid",
			input:      "5",
			maxVal:     5,
			defaultVal: 1,
			expected:   5,
		},
		{
			name:       "Minimum value is valid",
			input:      "1",
			maxVal:     5,
			defaultVal: 3,
			expected:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseChoice(tt.input, tt.maxVal, tt.defaultVal)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// withInput feeds answers to the interactive prompts.
func withInput(t *testing.T, answers ...string) {
	t.Helper()
	prev := settingsInput
	settingsInput = strings.NewReader(strings.Join(answers, "\n") + "\n")
	t.Cleanup(func() { settingsInput = prev })
}

func TestSettingsShow(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.settings.settings.Embedding = domain.EmbeddingSettings{
		Provider: domain.AIProviderOpenAI, Model: "text-embedding-3-small", APIKey: "sk-1234567890abcdef",
	}

	out, err := runCLI(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "OpenAI (cloud)")
	assert.Contains(t, out, "sk-1...cdef")
	assert.NotContains(t, out, "sk-1234567890abcdef")
	assert.Contains(t, out, "Provider: (not set)")
	assert.Contains(t, out, "SQLite (local file)")
	assert.Contains(t, out, "relevancy 0.65, context 0.15, faithfulness 0.00, reserved 0.20")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestSettingsShow_ValidationWarning(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.settings.validateErr = errors.New("no embedding provider configured")

	out, err := runCLI(t, "settings")

	require.NoError(t, err)
	assert.Contains(t, out, "Warning: no embedding provider configured")
}

func TestSettingsEmbedding_Ollama(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	withInput(t, "1", "")

	out, err := runCLI(t, "settings", "embedding")

	require.NoError(t, err)
	assert.Contains(t, out, "Validating configuration... OK")
	assert.Equal(t, domain.AIProviderOllama, services.settings.settings.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", services.settings.settings.Embedding.Model)
}

func TestSettingsEmbedding_OpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	services, cleanup := setupTestServices()
	defer cleanup()
	withInput(t, "2", "text-embedding-3-large", "sk-typed-key-123")

	_, err := runCLI(t, "settings", "embedding")

	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-large", services.settings.settings.Embedding.Model)
	assert.Equal(t, "sk-typed-key-123", services.settings.settings.Embedding.APIKey)
}

func TestSettingsEmbedding_KeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env-456")
	services, cleanup := setupTestServices()
	defer cleanup()
	withInput(t, "2", "", "")

	_, err := runCLI(t, "settings", "embedding")

	require.NoError(t, err)
	assert.Equal(t, "sk-from-env-456", services.settings.settings.Embedding.APIKey)
}

func TestSettingsEmbedding_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, cleanup := setupTestServices()
	defer cleanup()
	withInput(t, "2", "", "")

	_, err := runCLI(t, "settings", "embedding")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestSettingsLLM_ValidationFailure(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.settings.pingErr = errors.New("connection refused")
	withInput(t, "1", "")

	out, err := runCLI(t, "settings", "llm")

	require.Error(t, err)
	assert.Contains(t, out, "FAILED: connection refused")
	assert.Contains(t, err.Error(), "LLM configuration validation failed")
}

func TestSettingsIndex_Remote(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	withInput(t, "4", "redis.internal:6379")

	out, err := runCLI(t, "settings", "index")

	require.NoError(t, err)
	assert.Contains(t, out, "Index backend set to: Redis Stack (remote)")
	assert.Contains(t, out, "covera index --rebuild")
	assert.Equal(t, domain.IndexBackendRedis, services.settings.settings.Index.Backend)
	assert.Equal(t, "redis.internal:6379", services.settings.settings.Index.RedisAddr)
}

func TestSettingsIndex_DefaultIsSQLite(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.settings.settings.Index.Backend = domain.IndexBackendMemory
	withInput(t, "")

	_, err := runCLI(t, "settings", "index")

	require.NoError(t, err)
	assert.Equal(t, domain.IndexBackendSQLite, services.settings.settings.Index.Backend)
}

func TestSettingsWizard_SkipsLLM(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	withInput(t, "1", "", "n", "1")

	out, err := runCLI(t, "settings", "wizard")

	require.NoError(t, err)
	assert.Contains(t, out, "Skipped. Answers will be extractive.")
	assert.Contains(t, out, "All settings are valid and saved.")
	assert.Empty(t, services.settings.settings.LLM.Provider)
	assert.Equal(t, domain.IndexBackendMemory, services.settings.settings.Index.Backend)
}

func TestSettingsCmds_ServiceNotConfigured(t *testing.T) {
	clearServices(t)

	_, err := runCLI(t, "settings", "show")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings service not configured")
}
