package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

const model = "nomic-embed-text"

func entryFor(docID, chunkID, insurance string, vec ...float32) driven.IndexEntry {
	return driven.IndexEntry{
		Chunk: domain.Chunk{
			ID:         chunkID,
			DocumentID: docID,
			Metadata:   map[string]string{domain.MetaInsuranceType: insurance},
		},
		Embedding: domain.Embedding{ChunkID: chunkID, Vector: vec, Model: model},
	}
}

func TestIndex_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.ReplaceDocument(ctx, "d1", []driven.IndexEntry{
		entryFor("d1", "c-b", "Travel", 1, 0),
		entryFor("d1", "c-a", "Travel", 1, 0),
		entryFor("d1", "c-c", "Travel", 0, 1),
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c-a", hits[0].ChunkID)
	assert.Equal(t, "c-b", hits[1].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestIndex_QueryFilters(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Upsert(ctx, entryFor("d1", "travel", "Travel", 1, 0).Chunk, entryFor("d1", "travel", "Travel", 1, 0).Embedding))
	require.NoError(t, idx.Upsert(ctx, entryFor("d2", "dental", "Dental", 1, 0).Chunk, entryFor("d2", "dental", "Dental", 1, 0).Embedding))

	hits, err := idx.Query(ctx, []float32{1, 0}, 5, domain.Filters{domain.MetaInsuranceType: "Dental"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dental", hits[0].ChunkID)

	hits, err = idx.Query(ctx, []float32{1, 0}, 5, domain.Filters{domain.MetaDocumentID: "d1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "travel", hits[0].ChunkID)
}

func TestIndex_ReplaceDocument(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.ReplaceDocument(ctx, "d1", []driven.IndexEntry{
		entryFor("d1", "old-1", "Travel", 1, 0),
		entryFor("d1", "old-2", "Travel", 1, 0),
	}))
	require.NoError(t, idx.ReplaceDocument(ctx, "d1", []driven.IndexEntry{
		entryFor("d1", "new-1", "Travel", 1, 0),
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new-1", hits[0].ChunkID)
}

func TestIndex_ModelMismatch(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.ReplaceDocument(ctx, "d1", []driven.IndexEntry{entryFor("d1", "c1", "Travel", 1, 0)}))

	other := entryFor("d2", "c2", "Travel", 1, 0)
	other.Embedding.Model = "text-embedding-3-small"
	err := idx.ReplaceDocument(ctx, "d2", []driven.IndexEntry{other})
	assert.ErrorIs(t, err, domain.ErrModelVersionMismatch)

	meta, err := idx.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, model, meta.Model)
	assert.Equal(t, 2, meta.Dimensions)
}

func TestIndex_DeleteAndReset(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.ReplaceDocument(ctx, "d1", []driven.IndexEntry{entryFor("d1", "c1", "Travel", 1, 0)}))
	require.NoError(t, idx.ReplaceDocument(ctx, "d2", []driven.IndexEntry{entryFor("d2", "c2", "Travel", 1, 0)}))

	require.NoError(t, idx.DeleteDocument(ctx, "d1"))
	assert.Equal(t, 1, idx.Len())

	require.NoError(t, idx.Reset(ctx))
	assert.Equal(t, 0, idx.Len())
	meta, err := idx.Metadata(ctx)
	require.NoError(t, err)
	assert.True(t, meta.IsEmpty())
}

func TestIndex_Closed(t *testing.T) {
	ctx := context.Background()
	idx := New()
	require.NoError(t, idx.Close())

	_, err := idx.Query(ctx, []float32{1}, 1, nil)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	_, err = idx.Metadata(ctx)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestIndex_ZeroK(t *testing.T) {
	hits, err := New().Query(context.Background(), []float32{1}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// Concurrent replacement never exposes a mix of two chunk sets.
func TestIndex_ConcurrentReplaceIsAtomic(t *testing.T) {
	ctx := context.Background()
	idx := New()

	setA := []driven.IndexEntry{entryFor("d1", "a1", "Travel", 1, 0), entryFor("d1", "a2", "Travel", 1, 0)}
	setB := []driven.IndexEntry{entryFor("d1", "b1", "Travel", 1, 0), entryFor("d1", "b2", "Travel", 1, 0)}
	require.NoError(t, idx.ReplaceDocument(ctx, "d1", setA))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			set := setA
			if i%2 == 0 {
				set = setB
			}
			_ = idx.ReplaceDocument(ctx, "d1", set)
		}
	}()

	mixed := false
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hits, err := idx.Query(ctx, []float32{1, 0}, 10, nil)
			if err != nil || len(hits) != 2 || hits[0].ChunkID[0] != hits[1].ChunkID[0] {
				mixed = true
			}
		}
	}()
	wg.Wait()

	assert.False(t, mixed)
}
