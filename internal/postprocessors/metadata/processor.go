// Package metadata provides a processor that stamps document metadata onto chunks.
package metadata

import (
	"context"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// Processor copies document-level metadata onto every chunk so the
// embedding index can filter without loading documents.
// Chunk-level keys set by earlier processors win over document keys.
type Processor struct{}

// New creates a new metadata processor.
func New() *Processor {
	return &Processor{}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "metadata"
}

// Process annotates chunks in place and returns them.
func (p *Processor) Process(_ context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.Chunk, error) {
	for i := range chunks {
		meta := chunks[i].Metadata
		if meta == nil {
			meta = make(map[string]string, len(doc.Metadata)+3)
		}
		for k, v := range doc.Metadata {
			if _, ok := meta[k]; !ok {
				meta[k] = v
			}
		}
		meta[domain.MetaDocumentID] = doc.ID
		meta[domain.MetaSourceURI] = doc.SourceURI
		if doc.Language != "" {
			meta[domain.MetaLanguage] = doc.Language
		}
		chunks[i].Metadata = meta
	}
	return chunks, nil
}
