// Package index holds helpers shared by the embedding index adapters.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// SortHits orders hits by descending similarity, ties by ascending chunk ID.
func SortHits(hits []driven.VectorHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// Top sorts hits and keeps at most k of them.
func Top(hits []driven.VectorHit, k int) []driven.VectorHit {
	SortHits(hits)
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// CheckModel rejects an embedding produced by a different model, or with
// a different length, than the one the index was built with.
func CheckModel(meta domain.IndexMetadata, e domain.Embedding) error {
	if e.Model == "" || len(e.Vector) == 0 {
		return fmt.Errorf("%w: embedding for %s has no model or vector", domain.ErrInvalidInput, e.ChunkID)
	}
	if meta.IsEmpty() {
		return nil
	}
	if meta.Model != e.Model {
		return fmt.Errorf("%w: index built with %s, got %s", domain.ErrModelVersionMismatch, meta.Model, e.Model)
	}
	if meta.Dimensions != 0 && meta.Dimensions != len(e.Vector) {
		return fmt.Errorf("%w: index has %d dimensions, got %d",
			domain.ErrModelVersionMismatch, meta.Dimensions, len(e.Vector))
	}
	return nil
}

// CheckEntries validates every entry of a document replacement.
func CheckEntries(meta domain.IndexMetadata, documentID string, entries []driven.IndexEntry) error {
	for _, e := range entries {
		if e.Chunk.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s belongs to %s, not %s",
				domain.ErrInvalidInput, e.Chunk.ID, e.Chunk.DocumentID, documentID)
		}
		if err := CheckModel(meta, e.Embedding); err != nil {
			return err
		}
		if meta.IsEmpty() {
			meta = domain.IndexMetadata{Model: e.Embedding.Model, Dimensions: len(e.Embedding.Vector)}
		}
	}
	return nil
}

// DocumentLocks serializes writes per document ID.
type DocumentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the lock of a document and returns its release function.
func (l *DocumentLocks) Lock(documentID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[documentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[documentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Unavailable marks a backend failure as a recoverable index error.
// Context cancellation and deadlines pass through unchanged.
func Unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrIndexUnavailable, op, err)
}
