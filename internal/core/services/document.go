package services

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService exposes stored documents and resolves citations.
type DocumentService struct {
	docStore driven.DocumentStore
	opener   func(target string) error
}

// NewDocumentService creates a new document service.
func NewDocumentService(docStore driven.DocumentStore) *DocumentService {
	return &DocumentService{
		docStore: docStore,
		opener:   openURL,
	}
}

// List returns documents, latest versions only unless all is set.
func (s *DocumentService) List(ctx context.Context, all bool) ([]domain.Document, error) {
	if s.docStore == nil {
		return nil, domain.ErrNotImplemented
	}
	return s.docStore.ListDocuments(ctx, all)
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	if s.docStore == nil {
		return nil, domain.ErrNotImplemented
	}
	return s.docStore.GetDocument(ctx, documentID)
}

// GetChunks returns the chunks of a document in order.
func (s *DocumentService) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if s.docStore == nil {
		return nil, domain.ErrNotImplemented
	}
	if _, err := s.docStore.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.docStore.GetChunks(ctx, documentID)
}

// GetContent returns the concatenated content of all chunks.
func (s *DocumentService) GetContent(ctx context.Context, documentID string) (string, error) {
	chunks, err := s.GetChunks(ctx, documentID)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(chunk.Content)
	}
	return builder.String(), nil
}

// GetDetails returns metadata for display.
func (s *DocumentService) GetDetails(ctx context.Context, documentID string) (*driving.DocumentDetails, error) {
	if s.docStore == nil {
		return nil, domain.ErrNotImplemented
	}

	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	chunks, err := s.docStore.GetChunks(ctx, documentID)
	chunkCount := 0
	if err == nil {
		chunkCount = len(chunks)
	}

	metadata := make(map[string]string, len(doc.Metadata))
	for key, value := range doc.Metadata {
		metadata[key] = value
	}

	return &driving.DocumentDetails{
		ID:            doc.ID,
		Title:         doc.Title,
		URI:           doc.SourceURI,
		Language:      doc.Language,
		InsuranceType: doc.Metadata[domain.MetaInsuranceType],
		ChunkCount:    chunkCount,
		SupersededBy:  doc.SupersededBy,
		CreatedAt:     doc.CreatedAt,
		Metadata:      metadata,
	}, nil
}

// ResolveCitation returns the chunk a citation points to. Citations of
// superseded versions still resolve.
func (s *DocumentService) ResolveCitation(ctx context.Context, citation domain.Citation) (*domain.Chunk, error) {
	if s.docStore == nil {
		return nil, domain.ErrNotImplemented
	}
	if citation.ChunkID == "" {
		return nil, fmt.Errorf("%w: citation has no chunk id", domain.ErrInvalidInput)
	}

	chunk, err := s.docStore.GetChunk(ctx, citation.ChunkID)
	if err != nil {
		return nil, err
	}
	if citation.DocumentID != "" && chunk.DocumentID != citation.DocumentID {
		return nil, fmt.Errorf("%w: chunk %s belongs to %s, not %s",
			domain.ErrInvalidInput, chunk.ID, chunk.DocumentID, citation.DocumentID)
	}
	return chunk, nil
}

// Open opens the document source in the default application.
func (s *DocumentService) Open(ctx context.Context, documentID string) error {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return err
	}
	return s.opener(convertToOpenableURL(doc.SourceURI))
}

// openURL opens a URL/path using the system default handler.
func openURL(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

// convertToOpenableURL converts source URIs to paths or URLs the OS can open.
func convertToOpenableURL(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		return strings.TrimPrefix(uri, "file://")
	}
	return uri
}
