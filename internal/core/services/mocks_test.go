package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	indexmemory "github.com/custodia-labs/covera/internal/adapters/driven/index/memory"
	"github.com/custodia-labs/covera/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/resilience"
)

// --- Mock implementations ---

const mockModel = "mock-embed"

// mockEmbeddingService implements driven.EmbeddingService for testing.
// Texts are embedded on a small fixed vocabulary so related texts score
// high and unrelated texts score zero.
type mockEmbeddingService struct {
	mu       sync.Mutex
	model    string
	embedErr error
	calls    int
}

var mockVocabulary = []string{"luggage", "dental", "travel", "car", "health", "cancel", "cleaning", "police"}

func (m *mockEmbeddingService) vector(text string) []float32 {
	vec := make([]float32, len(mockVocabulary))
	lower := strings.ToLower(text)
	for i, w := range mockVocabulary {
		if strings.Contains(lower, w) {
			vec[i] = 1
		}
	}
	return vec
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return m.vector(text), nil
}

func (m *mockEmbeddingService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = m.vector(t)
	}
	return result, nil
}

func (m *mockEmbeddingService) Dimensions() int {
	return len(mockVocabulary)
}

func (m *mockEmbeddingService) ModelName() string {
	if m.model != "" {
		return m.model
	}
	return mockModel
}

func (m *mockEmbeddingService) Ping(_ context.Context) error {
	return nil
}

func (m *mockEmbeddingService) Close() error {
	return nil
}

// mockLLMService implements driven.LLMService for testing.
type mockLLMService struct {
	response    string
	generateErr error
	prompts     []string
}

func (m *mockLLMService) Generate(_ context.Context, prompt string, _ driven.GenerateOptions) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.generateErr != nil {
		return "", m.generateErr
	}
	return m.response, nil
}

func (m *mockLLMService) Chat(_ context.Context, _ []driven.ChatMessage, _ driven.ChatOptions) (string, error) {
	return m.response, m.generateErr
}

func (m *mockLLMService) ModelName() string {
	return "mock-llm"
}

func (m *mockLLMService) Ping(_ context.Context) error {
	return nil
}

func (m *mockLLMService) Close() error {
	return nil
}

// mockClaimExtractor returns fixed claims and records the passages it saw.
type mockClaimExtractor struct {
	claims   []driven.ExtractedClaim
	passages []string
}

func (m *mockClaimExtractor) ExtractClaims(_ context.Context, _ string, passages []string) ([]driven.ExtractedClaim, error) {
	m.passages = passages
	return m.claims, nil
}

// mockJudge implements the entailment and relevancy judges.
type mockJudge struct {
	score float64
	err   error
}

func (m *mockJudge) Entailment(_ context.Context, _, _ string) (float64, error) {
	return m.score, m.err
}

func (m *mockJudge) Relevancy(_ context.Context, _, _ string) (float64, error) {
	return m.score, m.err
}

// flakyIndex fails the first failures calls of every method with err.
type flakyIndex struct {
	driven.EmbeddingIndex
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyIndex) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyIndex) Metadata(ctx context.Context) (domain.IndexMetadata, error) {
	if err := f.fail(); err != nil {
		return domain.IndexMetadata{}, err
	}
	return f.EmbeddingIndex.Metadata(ctx)
}

func (f *flakyIndex) Query(ctx context.Context, v []float32, k int, filters domain.Filters) ([]driven.VectorHit, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.EmbeddingIndex.Query(ctx, v, k, filters)
}

// --- Test helpers ---

func fastPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Timeout:     time.Second,
	}
}

// testCorpus holds a small indexed insurance corpus.
type testCorpus struct {
	docs     *memory.DocumentStore
	index    *indexmemory.Index
	embedder *mockEmbeddingService
}

var corpusChunks = []domain.Chunk{
	{
		ID: "chunk-luggage", DocumentID: "doc-travel", Locator: "Travel policy > Luggage",
		Content:  "Luggage is covered up to 2,000 NIS per trip. Claims require a police report.",
		Type:     domain.ChunkParagraph,
		Metadata: map[string]string{domain.MetaInsuranceType: "Travel"},
	},
	{
		ID: "chunk-cancel", DocumentID: "doc-travel", Locator: "Travel policy > Cancellation",
		Content:  "Travel cancellation is covered when the trip is cancelled for medical reasons.",
		Type:     domain.ChunkParagraph,
		Metadata: map[string]string{domain.MetaInsuranceType: "Travel"},
	},
	{
		ID: "chunk-dental", DocumentID: "doc-dental", Locator: "Dental plan > Cleaning",
		Content:  "Dental cleaning is covered twice a year.",
		Type:     domain.ChunkParagraph,
		Metadata: map[string]string{domain.MetaInsuranceType: "Dental"},
	},
}

func newTestCorpus(t *testing.T) *testCorpus {
	t.Helper()
	ctx := context.Background()
	c := &testCorpus{
		docs:     memory.NewDocumentStore(),
		index:    indexmemory.New(),
		embedder: &mockEmbeddingService{},
	}

	byDoc := make(map[string][]driven.IndexEntry)
	for _, chunk := range corpusChunks {
		vec, err := c.embedder.Embed(ctx, chunk.Content)
		require.NoError(t, err)
		byDoc[chunk.DocumentID] = append(byDoc[chunk.DocumentID], driven.IndexEntry{
			Chunk:     chunk,
			Embedding: domain.Embedding{ChunkID: chunk.ID, Vector: vec, Model: mockModel},
		})
	}
	for docID, entries := range byDoc {
		chunks := make([]domain.Chunk, 0, len(entries))
		for i, e := range entries {
			e.Chunk.Position = i
			chunks = append(chunks, e.Chunk)
		}
		require.NoError(t, c.docs.SaveChunks(ctx, chunks))
		require.NoError(t, c.index.ReplaceDocument(ctx, docID, entries))
	}
	return c
}

func (c *testCorpus) retriever(opts ...RetrieverOption) *Retriever {
	opts = append([]RetrieverOption{WithIndexRetry(fastPolicy()), WithMinSimilarity(0.3)}, opts...)
	return NewRetriever(c.index, c.embedder, c.docs, opts...)
}
