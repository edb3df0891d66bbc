package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
)

func TestAskCmd_PrintsAnswerWithSources(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "ask", "Is luggage covered?")

	require.NoError(t, err)
	assert.Contains(t, out, "Luggage is covered up to 2,000 NIS per trip.")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "[1] doc-1  Luggage > Limits")
	assert.NotContains(t, out, "Trace:")
}

func TestAskCmd_Trace(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "ask", "Is luggage covered?", "--trace")

	require.NoError(t, err)
	assert.Contains(t, out, "retrieving -> grounding")
	assert.Contains(t, out, "verifying -> done: 1 of 1 claims supported")
}

func TestAskCmd_FallbackHasNoSources(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.answers.answer = domain.NewFallbackAnswer("Is my cat covered?", domain.LanguageEnglish, nil, nil)

	out, err := runCLI(t, "ask", "Is my cat covered?")

	require.NoError(t, err)
	assert.Contains(t, out, domain.FallbackMessage(domain.LanguageEnglish))
	assert.NotContains(t, out, "Sources:")
}

func TestAskCmd_JSON(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "ask", "Is luggage covered?", "--json")
	require.NoError(t, err)

	var got domain.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, domain.StateDone, got.State)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, "chunk-1", got.Segments[0].Citations[0].ChunkID)
}

func TestAskCmd_Filters(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "ask", "Is luggage covered?", "--type", "TRAVEL", "--lang", "HE", "-k", "5")

	require.NoError(t, err)
	assert.Equal(t, 5, services.answers.opts.TopK)
	assert.Equal(t, domain.Filters{
		domain.MetaInsuranceType: "Travel",
		domain.MetaLanguage:      "he",
	}, services.answers.opts.Filters)
}

func TestAskCmd_NoFiltersByDefault(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "ask", "Is luggage covered?")

	require.NoError(t, err)
	assert.Nil(t, services.answers.opts.Filters)
	assert.Zero(t, services.answers.opts.TopK)
}

func TestAskCmd_InvalidOptions(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "ask", "q", "--type", "pets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown insurance type")

	_, err = runCLI(t, "ask", "q", "--top-k", "-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--top-k must not be negative")
}

func TestAskCmd_PipelineError(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.answers.err = domain.ErrEmbeddingUnavailable

	_, err := runCLI(t, "ask", "Is luggage covered?")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestRetrieveCmd(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "retrieve", "luggage", "--type", "travel")

	require.NoError(t, err)
	assert.Contains(t, out, "[1] doc-1  Luggage > Limits (0.820)")
	assert.Contains(t, out, "Luggage is covered up to 2,000 NIS per trip.")
	assert.Equal(t, "Travel", services.retrieval.opts.Filters[domain.MetaInsuranceType])
}

func TestRetrieveCmd_Empty(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.retrieval.passages = nil

	out, err := runCLI(t, "retrieve", "pets")

	require.NoError(t, err)
	assert.Contains(t, out, "No passages found.")
}

func TestRetrieveCmd_JSON(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "retrieve", "luggage", "--json")
	require.NoError(t, err)

	var got []passageView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "chunk-1", got[0].Citation.ChunkID)
}

func TestQueryCmds_ServiceNotConfigured(t *testing.T) {
	clearServices(t)

	_, err := runCLI(t, "ask", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer service not configured")

	_, err = runCLI(t, "retrieve", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval service not configured")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n  b\tc", 10))
	assert.Equal(t, "אבג...", snippet("אבגדה", 3))
}
