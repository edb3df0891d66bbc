// Package memory provides an in-process embedding index with exact
// cosine search.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/covera/internal/adapters/driven/index"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.EmbeddingIndex = (*Index)(nil)

type entry struct {
	documentID string
	metadata   map[string]string
	vector     []float32
}

// Index is an in-memory implementation of driven.EmbeddingIndex.
// A document's entries are swapped under one write lock, so queries see
// either the old or the new chunk set.
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
	byDoc   map[string][]string
	meta    domain.IndexMetadata
	closed  bool
}

// New creates an empty index.
func New() *Index {
	return &Index{
		entries: make(map[string]entry),
		byDoc:   make(map[string][]string),
	}
}

// Upsert inserts or replaces a single chunk embedding.
func (x *Index) Upsert(_ context.Context, chunk domain.Chunk, emb domain.Embedding) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return domain.ErrIndexUnavailable
	}
	if err := index.CheckModel(x.meta, emb); err != nil {
		return err
	}

	if _, exists := x.entries[chunk.ID]; !exists {
		x.byDoc[chunk.DocumentID] = append(x.byDoc[chunk.DocumentID], chunk.ID)
	}
	x.entries[chunk.ID] = newEntry(chunk, emb)
	x.touch(emb)
	return nil
}

// ReplaceDocument swaps every entry of a document.
func (x *Index) ReplaceDocument(_ context.Context, documentID string, entries []driven.IndexEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return domain.ErrIndexUnavailable
	}
	if err := index.CheckEntries(x.meta, documentID, entries); err != nil {
		return err
	}

	x.deleteLocked(documentID)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		x.entries[e.Chunk.ID] = newEntry(e.Chunk, e.Embedding)
		ids = append(ids, e.Chunk.ID)
		x.touch(e.Embedding)
	}
	if len(ids) > 0 {
		x.byDoc[documentID] = ids
	}
	return nil
}

// DeleteDocument removes every entry of a document.
func (x *Index) DeleteDocument(_ context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return domain.ErrIndexUnavailable
	}
	x.deleteLocked(documentID)
	return nil
}

// Query returns the k most similar entries matching filters.
func (x *Index) Query(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]driven.VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, domain.ErrIndexUnavailable
	}
	if k <= 0 {
		return []driven.VectorHit{}, nil
	}

	hits := make([]driven.VectorHit, 0, len(x.entries))
	for id, e := range x.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filters.Matches(e.metadata) {
			continue
		}
		hits = append(hits, driven.VectorHit{
			ChunkID:    id,
			Similarity: domain.CosineSimilarity(vector, e.vector),
		})
	}
	return index.Top(hits, k), nil
}

// Metadata returns the model the index was built with.
func (x *Index) Metadata(_ context.Context) (domain.IndexMetadata, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return domain.IndexMetadata{}, domain.ErrIndexUnavailable
	}
	return x.meta, nil
}

// Reset removes every entry and the recorded model.
func (x *Index) Reset(_ context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]entry)
	x.byDoc = make(map[string][]string)
	x.meta = domain.IndexMetadata{}
	return nil
}

// Close marks the index unavailable.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}

// Len returns the number of stored entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func (x *Index) deleteLocked(documentID string) {
	for _, id := range x.byDoc[documentID] {
		delete(x.entries, id)
	}
	delete(x.byDoc, documentID)
}

func (x *Index) touch(emb domain.Embedding) {
	if x.meta.IsEmpty() {
		x.meta.Model = emb.Model
		x.meta.Dimensions = len(emb.Vector)
	}
	x.meta.UpdatedAt = time.Now()
}

func newEntry(chunk domain.Chunk, emb domain.Embedding) entry {
	meta := make(map[string]string, len(chunk.Metadata)+1)
	for k, v := range chunk.Metadata {
		meta[k] = v
	}
	meta[domain.MetaDocumentID] = chunk.DocumentID
	vec := make([]float32, len(emb.Vector))
	copy(vec, emb.Vector)
	return entry{documentID: chunk.DocumentID, metadata: meta, vector: vec}
}
