// Package milvus provides an embedding index backed by a Milvus collection
// with a COSINE HNSW index.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/custodia-labs/covera/internal/adapters/driven/index"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.EmbeddingIndex = (*Index)(nil)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "harel"

// Collection fields.
const (
	FieldChunkID       = "chunk_id"
	FieldDocumentID    = "document_id"
	FieldInsuranceType = "insurance_type"
	FieldMetadata      = "metadata"
	FieldEmbedding     = "embedding"
)

const (
	maxVarChar = 512
	hnswM      = 16
	hnswEF     = 200
	searchEF   = 64
	// maxTopK is the largest topK a Milvus search accepts.
	maxTopK = 16384
)

// Index is a driven.EmbeddingIndex on Milvus.
//
// The collection is created on the first write, since its vector
// dimension comes from the first embedding. The embedding model is kept
// in the collection description. A document replacement upserts the new
// chunks and then prunes the ones that are gone.
type Index struct {
	client     client.Client
	collection string
	locks      index.DocumentLocks

	mu    sync.Mutex
	ready bool
}

// New connects to Milvus at address.
func New(ctx context.Context, address, collection string) (*Index, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, index.Unavailable("connecting to milvus at "+address, err)
	}
	return NewWithClient(c, collection), nil
}

// NewWithClient wraps an existing Milvus client.
func NewWithClient(c client.Client, collection string) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{client: c, collection: collection}
}

// Upsert inserts or replaces a single chunk embedding.
func (x *Index) Upsert(ctx context.Context, chunk domain.Chunk, emb domain.Embedding) error {
	unlock := x.locks.Lock(chunk.DocumentID)
	defer unlock()

	meta, err := x.Metadata(ctx)
	if err != nil {
		return err
	}
	if err := index.CheckModel(meta, emb); err != nil {
		return err
	}
	if err := x.ensureCollection(ctx, emb); err != nil {
		return err
	}
	return x.upsert(ctx, []driven.IndexEntry{{Chunk: chunk, Embedding: emb}})
}

// ReplaceDocument upserts the new chunk set of a document, then deletes
// the chunks that are no longer part of it.
func (x *Index) ReplaceDocument(ctx context.Context, documentID string, entries []driven.IndexEntry) error {
	unlock := x.locks.Lock(documentID)
	defer unlock()

	meta, err := x.Metadata(ctx)
	if err != nil {
		return err
	}
	if err := index.CheckEntries(meta, documentID, entries); err != nil {
		return err
	}

	if len(entries) > 0 {
		if err := x.ensureCollection(ctx, entries[0].Embedding); err != nil {
			return err
		}
		if err := x.upsert(ctx, entries); err != nil {
			return err
		}
	} else if meta.IsEmpty() {
		return nil
	}

	existing, err := x.documentChunks(ctx, documentID)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[e.Chunk.ID] = true
	}
	var stale []string
	for _, id := range existing {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	logger.Debug("milvus: pruning %d stale chunks of %s", len(stale), documentID)
	if err := x.client.Delete(ctx, x.collection, "", inExpr(FieldChunkID, stale)); err != nil {
		return index.Unavailable("pruning chunks", err)
	}
	return nil
}

// DeleteDocument removes every entry of a document.
func (x *Index) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := x.locks.Lock(documentID)
	defer unlock()

	exists, err := x.client.HasCollection(ctx, x.collection)
	if err != nil {
		return index.Unavailable("checking collection", err)
	}
	if !exists {
		return nil
	}
	if err := x.client.Delete(ctx, x.collection, "", eqExpr(FieldDocumentID, documentID)); err != nil {
		return index.Unavailable("deleting document", err)
	}
	return nil
}

// Query returns the k most similar entries matching filters.
//
// Milvus breaks score ties arbitrarily, so twice k candidates are fetched
// and the tie-break by chunk ID is applied here.
func (x *Index) Query(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]driven.VectorHit, error) {
	if k <= 0 {
		return []driven.VectorHit{}, nil
	}
	exists, err := x.client.HasCollection(ctx, x.collection)
	if err != nil {
		return nil, index.Unavailable("checking collection", err)
	}
	if !exists {
		return []driven.VectorHit{}, nil
	}
	if err := x.load(ctx); err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(searchEF)
	if err != nil {
		return nil, fmt.Errorf("building search params: %w", err)
	}
	topK := k * 2
	if topK > maxTopK {
		topK = maxTopK
	}

	results, err := x.client.Search(ctx, x.collection, nil, FilterExpr(filters), []string{FieldChunkID},
		[]entity.Vector{entity.FloatVector(vector)}, FieldEmbedding, entity.COSINE, topK, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, index.Unavailable("searching", err)
	}

	hits := []driven.VectorHit{}
	for _, res := range results {
		if res.Err != nil {
			return nil, index.Unavailable("searching", res.Err)
		}
		ids, ok := res.IDs.(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected id column %T", domain.ErrIndexUnavailable, res.IDs)
		}
		data := ids.Data()
		for i := 0; i < res.ResultCount && i < len(data) && i < len(res.Scores); i++ {
			hits = append(hits, driven.VectorHit{ChunkID: data[i], Similarity: float64(res.Scores[i])})
		}
	}
	return index.Top(hits, k), nil
}

// Metadata returns the model recorded in the collection description.
func (x *Index) Metadata(ctx context.Context) (domain.IndexMetadata, error) {
	exists, err := x.client.HasCollection(ctx, x.collection)
	if err != nil {
		return domain.IndexMetadata{}, index.Unavailable("checking collection", err)
	}
	if !exists {
		return domain.IndexMetadata{}, nil
	}
	coll, err := x.client.DescribeCollection(ctx, x.collection)
	if err != nil {
		return domain.IndexMetadata{}, index.Unavailable("describing collection", err)
	}
	if coll.Schema == nil {
		return domain.IndexMetadata{}, nil
	}
	return ParseDescription(coll.Schema.Description), nil
}

// Reset drops the collection.
func (x *Index) Reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	exists, err := x.client.HasCollection(ctx, x.collection)
	if err != nil {
		return index.Unavailable("checking collection", err)
	}
	if exists {
		if err := x.client.DropCollection(ctx, x.collection); err != nil {
			return index.Unavailable("dropping collection", err)
		}
	}
	x.ready = false
	return nil
}

// Close closes the client connection.
func (x *Index) Close() error {
	return x.client.Close()
}

// ensureCollection creates and loads the collection if needed.
func (x *Index) ensureCollection(ctx context.Context, emb domain.Embedding) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready {
		return nil
	}

	exists, err := x.client.HasCollection(ctx, x.collection)
	if err != nil {
		return index.Unavailable("checking collection", err)
	}
	if !exists {
		logger.Info("Creating Milvus collection %s (%s, %d dimensions)", x.collection, emb.Model, len(emb.Vector))
		schema := NewSchema(x.collection, emb.Model, len(emb.Vector))
		if err := x.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return index.Unavailable("creating collection", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEF)
		if err != nil {
			return fmt.Errorf("building index params: %w", err)
		}
		if err := x.client.CreateIndex(ctx, x.collection, FieldEmbedding, idx, false); err != nil {
			return index.Unavailable("creating vector index", err)
		}
	}
	if err := x.client.LoadCollection(ctx, x.collection, false); err != nil {
		return index.Unavailable("loading collection", err)
	}
	x.ready = true
	return nil
}

func (x *Index) load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready {
		return nil
	}
	if err := x.client.LoadCollection(ctx, x.collection, false); err != nil {
		return index.Unavailable("loading collection", err)
	}
	x.ready = true
	return nil
}

func (x *Index) upsert(ctx context.Context, entries []driven.IndexEntry) error {
	n := len(entries)
	chunkIDs := make([]string, n)
	docIDs := make([]string, n)
	types := make([]string, n)
	metas := make([][]byte, n)
	vectors := make([][]float32, n)

	for i, e := range entries {
		chunkIDs[i] = e.Chunk.ID
		docIDs[i] = e.Chunk.DocumentID
		types[i] = e.Chunk.Metadata[domain.MetaInsuranceType]
		raw, err := entryMetadata(e.Chunk)
		if err != nil {
			return err
		}
		metas[i] = raw
		vectors[i] = e.Embedding.Vector
	}

	_, err := x.client.Upsert(ctx, x.collection, "",
		entity.NewColumnVarChar(FieldChunkID, chunkIDs),
		entity.NewColumnVarChar(FieldDocumentID, docIDs),
		entity.NewColumnVarChar(FieldInsuranceType, types),
		entity.NewColumnJSONBytes(FieldMetadata, metas),
		entity.NewColumnFloatVector(FieldEmbedding, len(vectors[0]), vectors),
	)
	if err != nil {
		return index.Unavailable("upserting chunks", err)
	}
	return nil
}

func (x *Index) documentChunks(ctx context.Context, documentID string) ([]string, error) {
	rs, err := x.client.Query(ctx, x.collection, nil, eqExpr(FieldDocumentID, documentID),
		[]string{FieldChunkID}, client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, index.Unavailable("listing document chunks", err)
	}
	for _, col := range rs {
		if col.Name() != FieldChunkID {
			continue
		}
		if ids, ok := col.(*entity.ColumnVarChar); ok {
			return ids.Data(), nil
		}
	}
	return nil, nil
}

// NewSchema builds the collection schema for vectors of dim dimensions.
func NewSchema(collection, model string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(collection).
		WithDescription(FormatDescription(model, dim)).
		WithField(entity.NewField().WithName(FieldChunkID).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxVarChar).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldDocumentID).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxVarChar)).
		WithField(entity.NewField().WithName(FieldInsuranceType).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().WithName(FieldMetadata).WithDataType(entity.FieldTypeJSON)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim)))
}

// FormatDescription encodes the embedding model as a collection description.
func FormatDescription(model string, dim int) string {
	return "covera model=" + model + " dimensions=" + strconv.Itoa(dim)
}

// ParseDescription is the inverse of FormatDescription. A description it
// does not recognise yields empty metadata.
func ParseDescription(desc string) domain.IndexMetadata {
	var meta domain.IndexMetadata
	for _, field := range strings.Fields(desc) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "model":
			meta.Model = value
		case "dimensions":
			meta.Dimensions, _ = strconv.Atoi(value)
		}
	}
	return meta
}

// FilterExpr builds a boolean expression matching every filter.
// document_id and insurance_type are scalar fields; other keys are
// looked up in the metadata JSON field.
func FilterExpr(filters domain.Filters) string {
	if len(filters) == 0 {
		return ""
	}
	keys := filters.Keys()
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	for _, key := range keys {
		switch key {
		case domain.MetaDocumentID:
			conds = append(conds, eqExpr(FieldDocumentID, filters[key]))
		case domain.MetaInsuranceType:
			conds = append(conds, eqExpr(FieldInsuranceType, filters[key]))
		default:
			conds = append(conds, eqExpr(FieldMetadata+"["+strconv.Quote(key)+"]", filters[key]))
		}
	}
	return strings.Join(conds, " and ")
}

func eqExpr(field, value string) string {
	return field + " == " + strconv.Quote(value)
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return field + " in [" + strings.Join(quoted, ", ") + "]"
}

func entryMetadata(chunk domain.Chunk) ([]byte, error) {
	meta := make(map[string]string, len(chunk.Metadata)+1)
	for k, v := range chunk.Metadata {
		meta[k] = v
	}
	meta[domain.MetaDocumentID] = chunk.DocumentID
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata of %s: %w", chunk.ID, err)
	}
	return raw, nil
}
