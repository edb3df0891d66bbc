package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
)

func testDocument(id, uri string, created time.Time) *domain.Document {
	return &domain.Document{
		ID:        id,
		SourceURI: uri,
		Title:     "Travel policy",
		Language:  domain.LanguageEnglish,
		Metadata:  map[string]string{domain.MetaInsuranceType: "Travel"},
		CreatedAt: created,
	}
}

func TestNewDocumentStore(t *testing.T) {
	store := NewDocumentStore()
	require.NotNil(t, store)
	assert.NotNil(t, store.documents)
	assert.NotNil(t, store.chunks)
}

func TestDocumentStore_SaveDocument(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, testDocument("doc-1", "/a.md", time.Now())))

	saved, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "/a.md", saved.SourceURI)
	assert.Equal(t, "Travel", saved.Metadata[domain.MetaInsuranceType])
}

func TestDocumentStore_SaveDocument_Invalid(t *testing.T) {
	store := NewDocumentStore()
	assert.ErrorIs(t, store.SaveDocument(context.Background(), nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, store.SaveDocument(context.Background(), &domain.Document{}), domain.ErrInvalidInput)
}

func TestDocumentStore_GetDocument_NotFound(t *testing.T) {
	_, err := NewDocumentStore().GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_Chunks(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	chunks := []domain.Chunk{
		{ID: "c2", DocumentID: "doc-1", Position: 1, Content: "second"},
		{ID: "c1", DocumentID: "doc-1", Position: 0, Content: "first"},
	}
	require.NoError(t, store.SaveChunks(ctx, chunks))

	got, err := store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)

	chunk, err := store.GetChunk(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "second", chunk.Content)

	// Saving again replaces the chunk set
	require.NoError(t, store.SaveChunks(ctx, []domain.Chunk{{ID: "c3", DocumentID: "doc-1"}}))
	_, err = store.GetChunk(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err = store.GetChunks(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentStore_SaveChunks_Empty(t *testing.T) {
	assert.NoError(t, NewDocumentStore().SaveChunks(context.Background(), nil))
}

func TestDocumentStore_Versions(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveDocument(ctx, testDocument("v1", "/a.md", now)))
	require.NoError(t, store.SaveDocument(ctx, testDocument("v2", "/a.md", now.Add(time.Minute))))
	require.NoError(t, store.MarkSuperseded(ctx, "v1", "v2"))

	latest, err := store.LatestBySource(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.ID)

	old, err := store.GetDocument(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v2", old.SupersededBy)

	current, err := store.ListDocuments(ctx, false)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "v2", current[0].ID)

	all, err := store.ListDocuments(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "v1", all[0].ID)

	_, err = store.LatestBySource(ctx, "/other.md")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.MarkSuperseded(ctx, "missing", "v2"), domain.ErrNotFound)
}

func TestDocumentStore_DeleteDocument(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, testDocument("doc-1", "/a.md", time.Now())))
	require.NoError(t, store.SaveChunks(ctx, []domain.Chunk{{ID: "c1", DocumentID: "doc-1"}}))
	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))

	_, err := store.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetChunk(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_Concurrent(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = store.SaveDocument(ctx, testDocument(id, "/"+id, time.Now()))
			_, _ = store.ListDocuments(ctx, true)
		}(i)
	}
	wg.Wait()

	docs, err := store.ListDocuments(ctx, true)
	require.NoError(t, err)
	assert.Len(t, docs, 20)
}
