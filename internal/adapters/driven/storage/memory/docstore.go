package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string][]domain.Chunk
	byChunk   map[string]domain.Chunk
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string][]domain.Chunk),
		byChunk:   make(map[string]domain.Chunk),
	}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = *doc
	return nil
}

// SaveChunks replaces the chunks of the document the chunks belong to.
func (s *DocumentStore) SaveChunks(_ context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docID := chunks[0].DocumentID
	for _, old := range s.chunks[docID] {
		delete(s.byChunk, old.ID)
	}
	saved := make([]domain.Chunk, len(chunks))
	copy(saved, chunks)
	sort.SliceStable(saved, func(i, j int) bool { return saved[i].Position < saved[j].Position })
	s.chunks[docID] = saved
	for _, c := range saved {
		s.byChunk[c.ID] = c
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// GetChunks retrieves all chunks for a document in position order.
func (s *DocumentStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.chunks[documentID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)
	return out, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *DocumentStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunk, ok := s.byChunk[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &chunk, nil
}

// LatestBySource returns the newest non-superseded version of a source.
func (s *DocumentStore) LatestBySource(_ context.Context, sourceURI string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Document
	for id := range s.documents {
		doc := s.documents[id]
		if doc.SourceURI != sourceURI || doc.SupersededBy != "" {
			continue
		}
		if latest == nil || doc.CreatedAt.After(latest.CreatedAt) {
			d := doc
			latest = &d
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

// MarkSuperseded links an old version to its replacement.
func (s *DocumentStore) MarkSuperseded(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[oldID]
	if !ok {
		return domain.ErrNotFound
	}
	doc.SupersededBy = newID
	s.documents[oldID] = doc
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks[id] {
		delete(s.byChunk, c.ID)
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

// ListDocuments returns documents ordered by source URI, latest versions
// only unless all is set.
func (s *DocumentStore) ListDocuments(_ context.Context, all bool) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Document, 0, len(s.documents))
	for id := range s.documents {
		doc := s.documents[id]
		if !all && doc.SupersededBy != "" {
			continue
		}
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SourceURI != result[j].SourceURI {
			return result[i].SourceURI < result[j].SourceURI
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
