package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, source_uri, language, title, nodes, metadata, superseded_by, created_at`

const chunkColumns = `id, document_id, locator, path, content, chunk_type, position, tokens, metadata`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}

	nodesJSON, err := json.Marshal(doc.Nodes)
	if err != nil {
		return fmt.Errorf("marshalling nodes: %w", err)
	}
	metadataJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_uri = excluded.source_uri,
			language = excluded.language,
			title = excluded.title,
			nodes = excluded.nodes,
			metadata = excluded.metadata,
			superseded_by = excluded.superseded_by
	`, doc.ID, doc.SourceURI, doc.Language, doc.Title, string(nodesJSON),
		metadataJSON, doc.SupersededBy, toUnixNano(doc.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// SaveChunks replaces the chunks of the document the chunks belong to.
func (s *documentStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docID := chunks[0].DocumentID

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			locator = excluded.locator,
			path = excluded.path,
			content = excluded.content,
			chunk_type = excluded.chunk_type,
			position = excluded.position,
			tokens = excluded.tokens,
			metadata = excluded.metadata
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if chunk.DocumentID != docID {
			return fmt.Errorf("%w: chunk %s belongs to %s, not %s",
				domain.ErrInvalidInput, chunk.ID, chunk.DocumentID, docID)
		}
		metadataJSON, err := marshalJSON(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.Locator, chunk.Path,
			chunk.Content, string(chunk.Type), chunk.Position, chunk.Tokens, metadataJSON); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetChunks retrieves all chunks for a document in position order.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE document_id = ?
		ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return chunks, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *documentStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

// LatestBySource returns the newest non-superseded version of a source.
func (s *documentStore) LatestBySource(ctx context.Context, sourceURI string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE source_uri = ? AND superseded_by = ''
		ORDER BY created_at DESC, id
		LIMIT 1
	`, sourceURI)
	return scanDocument(row)
}

// MarkSuperseded links an old version to its replacement.
func (s *documentStore) MarkSuperseded(ctx context.Context, oldID, newID string) error {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE documents SET superseded_by = ? WHERE id = ?", newID, oldID)
	if err != nil {
		return fmt.Errorf("marking document superseded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking document superseded: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and, through the foreign key, its chunks.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ListDocuments returns documents ordered by source URI, latest versions
// only unless all is set.
func (s *documentStore) ListDocuments(ctx context.Context, all bool) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	if !all {
		query += ` WHERE superseded_by = ''`
	}
	query += ` ORDER BY source_uri, created_at, id`

	rows, err := s.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// scanDocument scans a single document row.
func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var nodesJSON, metadataJSON string
	var createdAt int64

	if err := row.Scan(&doc.ID, &doc.SourceURI, &doc.Language, &doc.Title, &nodesJSON,
		&metadataJSON, &doc.SupersededBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.CreatedAt = fromUnixNano(createdAt)

	if nodesJSON != "" {
		if err := json.Unmarshal([]byte(nodesJSON), &doc.Nodes); err != nil {
			return nil, fmt.Errorf("unmarshalling nodes: %w", err)
		}
	}

	meta, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}
	doc.Metadata = meta

	return &doc, nil
}

// scanChunk scans a single chunk row.
func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var chunkType, metadataJSON string

	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Locator, &chunk.Path, &chunk.Content,
		&chunkType, &chunk.Position, &chunk.Tokens, &metadataJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	chunk.Type = domain.ChunkType(chunkType)

	meta, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}
	chunk.Metadata = meta

	return &chunk, nil
}
