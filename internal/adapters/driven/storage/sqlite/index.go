package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/covera/internal/adapters/driven/index"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
)

// embeddingIndex implements driven.EmbeddingIndex with exact cosine search
// over vectors stored as BLOBs.
//
// A document replacement runs in one transaction and a query is one
// SELECT, so under WAL a query reads either the old or the new chunk set.
type embeddingIndex struct {
	store  *Store
	closed atomic.Bool
}

var _ driven.EmbeddingIndex = (*embeddingIndex)(nil)

// Upsert inserts or replaces a single chunk embedding.
func (x *embeddingIndex) Upsert(ctx context.Context, chunk domain.Chunk, emb domain.Embedding) error {
	if x.closed.Load() {
		return domain.ErrIndexUnavailable
	}
	unlock := x.store.locks.Lock(chunk.DocumentID)
	defer unlock()

	return x.inTx(ctx, func(tx *sql.Tx) error {
		meta, err := readMeta(ctx, tx)
		if err != nil {
			return err
		}
		if err := index.CheckModel(meta, emb); err != nil {
			return err
		}
		if err := insertEmbedding(ctx, tx, chunk, emb); err != nil {
			return err
		}
		return touchMeta(ctx, tx, meta, emb)
	})
}

// ReplaceDocument swaps every entry of a document in one transaction.
func (x *embeddingIndex) ReplaceDocument(ctx context.Context, documentID string, entries []driven.IndexEntry) error {
	if x.closed.Load() {
		return domain.ErrIndexUnavailable
	}
	unlock := x.store.locks.Lock(documentID)
	defer unlock()

	return x.inTx(ctx, func(tx *sql.Tx) error {
		meta, err := readMeta(ctx, tx)
		if err != nil {
			return err
		}
		if err := index.CheckEntries(meta, documentID, entries); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE document_id = ?", documentID); err != nil {
			return index.Unavailable("clearing document entries", err)
		}
		for _, e := range entries {
			if err := insertEmbedding(ctx, tx, e.Chunk, e.Embedding); err != nil {
				return err
			}
		}
		if len(entries) == 0 {
			return nil
		}
		return touchMeta(ctx, tx, meta, entries[0].Embedding)
	})
}

// DeleteDocument removes every entry of a document.
func (x *embeddingIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if x.closed.Load() {
		return domain.ErrIndexUnavailable
	}
	unlock := x.store.locks.Lock(documentID)
	defer unlock()

	if _, err := x.store.db.ExecContext(ctx, "DELETE FROM embeddings WHERE document_id = ?", documentID); err != nil {
		return index.Unavailable("deleting document entries", err)
	}
	return nil
}

// Query returns the k most similar entries matching filters.
func (x *embeddingIndex) Query(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]driven.VectorHit, error) {
	if x.closed.Load() {
		return nil, domain.ErrIndexUnavailable
	}
	if k <= 0 {
		return []driven.VectorHit{}, nil
	}

	query := "SELECT chunk_id, vector, metadata FROM embeddings"
	var args []any
	if docID, ok := filters[domain.MetaDocumentID]; ok {
		query += " WHERE document_id = ?"
		args = append(args, docID)
	}

	rows, err := x.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, index.Unavailable("querying embeddings", err)
	}
	defer rows.Close()

	hits := []driven.VectorHit{}
	for rows.Next() {
		var chunkID, metadataJSON string
		var blob []byte
		if err := rows.Scan(&chunkID, &blob, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		if len(filters) > 0 {
			meta, err := unmarshalMetadata(metadataJSON)
			if err != nil {
				return nil, err
			}
			if !filters.Matches(meta) {
				continue
			}
		}
		hits = append(hits, driven.VectorHit{
			ChunkID:    chunkID,
			Similarity: domain.CosineSimilarity(vector, bytesToFloat32Slice(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, index.Unavailable("iterating embeddings", err)
	}

	return index.Top(hits, k), nil
}

// Metadata returns the model the index was built with.
func (x *embeddingIndex) Metadata(ctx context.Context) (domain.IndexMetadata, error) {
	if x.closed.Load() {
		return domain.IndexMetadata{}, domain.ErrIndexUnavailable
	}
	return readMeta(ctx, x.store.db)
}

// Reset removes every entry and the recorded model.
func (x *embeddingIndex) Reset(ctx context.Context) error {
	if x.closed.Load() {
		return domain.ErrIndexUnavailable
	}
	return x.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
			return index.Unavailable("clearing embeddings", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM index_meta"); err != nil {
			return index.Unavailable("clearing index metadata", err)
		}
		return nil
	})
}

// Close marks the index unavailable. The underlying store stays open.
func (x *embeddingIndex) Close() error {
	x.closed.Store(true)
	return nil
}

func (x *embeddingIndex) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := x.store.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Unavailable("beginning transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return index.Unavailable("committing transaction", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readMeta(ctx context.Context, q querier) (domain.IndexMetadata, error) {
	var meta domain.IndexMetadata
	var updatedAt int64
	err := q.QueryRowContext(ctx, "SELECT model, dimensions, updated_at FROM index_meta WHERE id = 1").
		Scan(&meta.Model, &meta.Dimensions, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IndexMetadata{}, nil
	}
	if err != nil {
		return domain.IndexMetadata{}, index.Unavailable("reading index metadata", err)
	}
	meta.UpdatedAt = fromUnixNano(updatedAt)
	return meta, nil
}

// touchMeta records the model on first write and bumps the update time.
func touchMeta(ctx context.Context, tx *sql.Tx, meta domain.IndexMetadata, emb domain.Embedding) error {
	if meta.IsEmpty() {
		meta.Model = emb.Model
		meta.Dimensions = len(emb.Vector)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO index_meta (id, model, dimensions, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, meta.Model, meta.Dimensions, time.Now().UnixNano())
	if err != nil {
		return index.Unavailable("writing index metadata", err)
	}
	return nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, chunk domain.Chunk, emb domain.Embedding) error {
	meta := make(map[string]string, len(chunk.Metadata)+1)
	for k, v := range chunk.Metadata {
		meta[k] = v
	}
	meta[domain.MetaDocumentID] = chunk.DocumentID

	metadataJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("marshalling entry metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, document_id, vector, model, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			vector = excluded.vector,
			model = excluded.model,
			metadata = excluded.metadata
	`, chunk.ID, chunk.DocumentID, float32SliceToBytes(emb.Vector), emb.Model, metadataJSON)
	if err != nil {
		return index.Unavailable("saving embedding", err)
	}
	return nil
}
