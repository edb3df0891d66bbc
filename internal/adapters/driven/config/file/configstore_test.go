package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfigStore(t *testing.T, opts ...ConfigOption) *ConfigStore {
	t.Helper()
	store, err := NewConfigStore(t.TempDir(), opts...)
	require.NoError(t, err)
	return store
}

func TestNewConfigStore(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "nested", "deep")

	store, err := NewConfigStore(nested)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(nested, "config.toml"), store.Path())
	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestNewConfigStore_Errors(t *testing.T) {
	_, err := NewConfigStore("/dev/null/cannot/create/dirs")
	assert.Error(t, err)

	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("not toml {{{[["), 0600))
	_, err = NewConfigStore(tmpDir)
	assert.ErrorContains(t, err, "config.toml")
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := newTestConfigStore(t)

	require.NoError(t, store.Set("llm.model", "llama3.2"))
	require.NoError(t, store.Set("retrieval.top_k", 5))
	require.NoError(t, store.Set("retrieval.min_similarity", 0.35))
	require.NoError(t, store.Set("grounding.use_judge", true))
	require.NoError(t, store.Set("index.tags", []string{"car", "health"}))

	assert.Equal(t, "llama3.2", store.GetString("llm.model"))
	assert.Equal(t, 5, store.GetInt("retrieval.top_k"))
	assert.InDelta(t, 0.35, store.GetFloat("retrieval.min_similarity"), 1e-9)
	assert.InDelta(t, 5.0, store.GetFloat("retrieval.top_k"), 1e-9)
	assert.True(t, store.GetBool("grounding.use_judge"))
	assert.Equal(t, []string{"car", "health"}, store.GetStringSlice("index.tags"))

	// Wrong types and missing keys read as zero values.
	assert.Empty(t, store.GetString("retrieval.top_k"))
	assert.Zero(t, store.GetInt("llm.model"))
	assert.Zero(t, store.GetFloat("missing"))
	assert.False(t, store.GetBool("missing"))
	assert.Nil(t, store.GetStringSlice("missing"))
	_, ok := store.Get("missing")
	assert.False(t, ok)
}

func TestConfigStore_PersistsNestedTables(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, store.Set("embedding.provider", "ollama"))
	require.NoError(t, store.Set("embedding.model", "nomic-embed-text"))
	require.NoError(t, store.Set("concurrency.eval_concurrency", 8))
	require.NoError(t, store.Set("scoring.answer_relevancy", 0.65))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[embedding]")
	assert.Contains(t, string(raw), "[concurrency]")

	reloaded, err := NewConfigStore(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "ollama", reloaded.GetString("embedding.provider"))
	assert.Equal(t, "nomic-embed-text", reloaded.GetString("embedding.model"))
	assert.Equal(t, 8, reloaded.GetInt("concurrency.eval_concurrency"))
	assert.InDelta(t, 0.65, reloaded.GetFloat("scoring.answer_relevancy"), 1e-9)
}

func TestConfigStore_ReadsHandWrittenFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[index]
backend = "milvus"
milvus_address = "localhost:19530"

[resilience]
timeout = "45s"
max_attempts = 5
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "milvus", store.GetString("index.backend"))
	assert.Equal(t, "localhost:19530", store.GetString("index.milvus_address"))
	assert.Equal(t, "45s", store.GetString("resilience.timeout"))
	assert.Equal(t, 5, store.GetInt("resilience.max_attempts"))
}

func TestConfigStore_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("# Just a comment\n"), 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	_, ok := store.Get("any_key")
	assert.False(t, ok)
}

func TestConfigStore_EnvOverrides(t *testing.T) {
	store := newTestConfigStore(t, WithEnvOverrides("COVERA_"))
	require.NoError(t, store.Set("llm.api_key", "from-file"))
	require.NoError(t, store.Set("retrieval.top_k", 5))

	assert.Equal(t, "COVERA_LLM_API_KEY", store.EnvKey("llm.api_key"))

	t.Setenv("COVERA_LLM_API_KEY", "from-env")
	t.Setenv("COVERA_RETRIEVAL_TOP_K", "9")
	t.Setenv("COVERA_RETRIEVAL_MIN_SIMILARITY", "0.4")
	t.Setenv("COVERA_GROUNDING_USE_JUDGE", "true")
	t.Setenv("COVERA_INDEX_TAGS", "car, health,")

	assert.Equal(t, "from-env", store.GetString("llm.api_key"))
	assert.Equal(t, 9, store.GetInt("retrieval.top_k"))
	assert.InDelta(t, 0.4, store.GetFloat("retrieval.min_similarity"), 1e-9)
	assert.True(t, store.GetBool("grounding.use_judge"))
	assert.Equal(t, []string{"car", "health"}, store.GetStringSlice("index.tags"))

	// Overrides are never persisted.
	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "from-env")
}

func TestConfigStore_NoEnvOverridesByDefault(t *testing.T) {
	store := newTestConfigStore(t)
	t.Setenv("COVERA_LLM_MODEL", "from-env")

	assert.Empty(t, store.EnvKey("llm.model"))
	assert.Empty(t, store.GetString("llm.model"))
}

func TestConfigStore_KeyConflict(t *testing.T) {
	store := newTestConfigStore(t)
	require.NoError(t, store.Set("index", "flat"))

	err := store.Set("index.backend", "redis")

	assert.ErrorContains(t, err, "conflicts")
	// The failed value is not kept in memory.
	_, ok := store.Get("index.backend")
	assert.False(t, ok)
}

func TestConfigStore_SetUnmarshallableValue(t *testing.T) {
	store := newTestConfigStore(t)

	assert.Error(t, store.Set("channel", make(chan int)))
	_, ok := store.Get("channel")
	assert.False(t, ok)
}

func TestConfigStore_WriteError(t *testing.T) {
	store := newTestConfigStore(t)
	require.NoError(t, store.Set("test", "value"))

	require.NoError(t, os.Remove(store.Path()))
	require.NoError(t, os.Mkdir(store.Path(), 0700))

	assert.Error(t, store.Set("another", "value"))
	assert.Error(t, store.Save())
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store := newTestConfigStore(t)
	require.NoError(t, store.Set("test", "value"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := newTestConfigStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := "workers.w" + string(rune('0'+id))
			_ = store.Set(key, id)
			_ = store.GetInt(key)
			_, _ = store.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 7, store.GetInt("workers.w7"))
}

func TestNestMap(t *testing.T) {
	tree, err := nestMap(map[string]any{"a.b": 1, "a.c.d": "x", "e": true})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": 1, "c": map[string]any{"d": "x"}},
		"e": true,
	}, tree)
	assert.Equal(t, map[string]any{"a.b": 1, "a.c.d": "x", "e": true}, flattenMap(tree, ""))

	_, err = nestMap(map[string]any{"a": 1, "a.b": 2})
	assert.Error(t, err)
}
