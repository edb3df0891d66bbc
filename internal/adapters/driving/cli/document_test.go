package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Document Command Tests

func TestDocumentCmd_Use(t *testing.T) {
	assert.Equal(t, "document", documentCmd.Use)
}

func TestDocumentCmd_HasSubcommands(t *testing.T) {
	commands := documentCmd.Commands()
	commandNames := make([]string, 0, len(commands))
	for _, cmd := range commands {
		commandNames = append(commandNames, cmd.Name())
	}

	assert.ElementsMatch(t, []string{"list", "get", "content", "chunks", "cite", "open"}, commandNames)
}

// Document List Tests

func TestDocumentListCmd_LatestOnly(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "Travel policy")
	assert.Contains(t, out, "Type: Travel")
	assert.NotContains(t, out, "doc-0")
	assert.Contains(t, out, "Total: 1 documents")
}

func TestDocumentListCmd_All(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "list", "--all")

	require.NoError(t, err)
	assert.Contains(t, out, "doc-0")
	assert.Contains(t, out, "Superseded by: doc-1")
	assert.Contains(t, out, "Total: 2 documents")
}

func TestDocumentListCmd_Empty(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.documents.docs = nil

	out, err := runCLI(t, "document", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "No documents indexed.")
}

func TestDocumentListCmd_RejectsArgs(t *testing.T) {
	_, err := runCLI(t, "document", "list", "extra")

	assert.Error(t, err)
}

// Document Get Tests

func TestDocumentGetCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := runCLI(t, "document", "get")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestDocumentGetCmd_ShowsDetails(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "get", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Document: doc-1")
	assert.Contains(t, out, "URI:       /corpus/travel/policy.md")
	assert.Contains(t, out, "Type:      Travel")
	assert.Contains(t, out, "Chunks:    1")
	assert.Contains(t, out, "insurance_type: Travel")
}

func TestDocumentGetCmd_NotFound(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "document", "get", "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get document")
}

// Document Content, Chunks and Cite Tests

func TestDocumentContentCmd(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "content", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Luggage is covered up to 2,000 NIS per trip.")
}

func TestDocumentChunksCmd(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "chunks", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "chunk-1")
	assert.Contains(t, out, "Luggage > Limits")
	assert.Contains(t, out, "Total: 1 chunks")
}

func TestDocumentCiteCmd(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "cite", "chunk-1")

	require.NoError(t, err)
	assert.Contains(t, out, "doc-1  Luggage > Limits")
	assert.Contains(t, out, "Luggage is covered")

	_, err = runCLI(t, "document", "cite", "chunk-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve citation")
}

// Document Open Tests

func TestDocumentOpenCmd(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()

	out, err := runCLI(t, "document", "open", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Opened document doc-1")
	assert.Equal(t, "doc-1", services.documents.opened)
}

func TestDocumentCmds_ServiceNotConfigured(t *testing.T) {
	clearServices(t)

	for _, args := range [][]string{
		{"document", "list"},
		{"document", "get", "doc-1"},
		{"document", "content", "doc-1"},
		{"document", "chunks", "doc-1"},
		{"document", "cite", "chunk-1"},
		{"document", "open", "doc-1"},
	} {
		_, err := runCLI(t, args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "document service not configured")
	}
}
