package domain

import (
	"math"
	"sort"
	"time"
)

// Embedding is the vector of exactly one chunk, tagged with the model
// that produced it.
type Embedding struct {
	// ChunkID identifies the owning chunk.
	ChunkID string

	// Vector is the fixed-length embedding.
	Vector []float32

	// Model identifies the embedding model and version.
	Model string
}

// IndexMetadata describes how an embedding index was built.
type IndexMetadata struct {
	// Model is the embedding model identifier. Empty for a never-written index.
	Model string

	// Dimensions is the vector length.
	Dimensions int

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time
}

// IsEmpty reports whether nothing has been written to the index.
func (m IndexMetadata) IsEmpty() bool {
	return m.Model == ""
}

// Filters narrows retrieval to chunks whose metadata matches every entry.
type Filters map[string]string

// Matches reports whether metadata satisfies all filters.
func (f Filters) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if v == "" {
			continue
		}
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// Keys returns the non-empty filter keys in sorted order.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// RetrievedPassage is a chunk ranked for one query. Not persisted.
type RetrievedPassage struct {
	// Chunk is the retrieved chunk.
	Chunk Chunk

	// Score is the similarity in [0,1] for cosine-based indexes.
	Score float64

	// Rank is the 1-based position in the result list.
	Rank int
}

// Citation is the minimal addressable unit an answer can point to.
type Citation struct {
	DocumentID string `json:"document_id"`
	Locator    string `json:"locator"`
	ChunkID    string `json:"chunk_id"`
}

// PassageTexts returns the chunk contents of passages in rank order.
func PassageTexts(passages []RetrievedPassage) []string {
	out := make([]string, 0, len(passages))
	for i := range passages {
		out = append(out, passages[i].Chunk.Content)
	}
	return out
}

// QueryOptions narrows one retrieval or answer request.
type QueryOptions struct {
	// TopK overrides the configured passage count when positive.
	TopK int

	// Filters restrict candidate chunks by metadata.
	Filters Filters
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or zero norm score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
