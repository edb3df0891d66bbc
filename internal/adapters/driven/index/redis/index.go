// Package redis provides an embedding index on Redis Stack, using a
// RediSearch HNSW vector field with the COSINE metric.
package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/covera/internal/adapters/driven/index"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.EmbeddingIndex = (*Index)(nil)

const (
	// DefaultIndexName is the RediSearch index used when none is configured.
	DefaultIndexName = "covera-chunks"

	defaultEFConstruction = 200
	defaultM              = 16

	fieldVector   = "vector"
	fieldModel    = "model"
	fieldMetadata = "metadata"
	fieldScore    = "score"
)

// tagFields are the metadata keys indexed as TAG fields and filtered
// inside the KNN query. Other filter keys are applied to the returned
// metadata.
var tagFields = []string{
	domain.MetaDocumentID,
	domain.MetaInsuranceType,
	domain.MetaLanguage,
	domain.MetaSection,
	domain.MetaSourceURI,
	domain.MetaFormat,
}

// Config configures the Redis index.
type Config struct {
	Addr      string
	Password  string
	DB        int
	IndexName string
	// KeyPrefix namespaces every key the index writes. Defaults to "covera:".
	KeyPrefix string
}

// Index is a driven.EmbeddingIndex on Redis Stack.
//
// Each chunk is a hash under <prefix>chunk:<id>; the chunk keys of a
// document are tracked in the set <prefix>doc:<id>; the model lives in
// the hash <prefix>meta. Document writes WATCH the document set and the
// meta hash and apply in one MULTI/EXEC.
type Index struct {
	client *redis.Client
	name   string
	prefix string
	locks  index.DocumentLocks

	mu      sync.Mutex
	created bool
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config) (*Index, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// FT.SEARCH replies are parsed in their RESP2 shape.
		Protocol: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, index.Unavailable("connecting to redis at "+cfg.Addr, err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config) *Index {
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndexName
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "covera:"
	}
	return &Index{client: client, name: cfg.IndexName, prefix: cfg.KeyPrefix}
}

func (x *Index) chunkKey(chunkID string) string { return x.prefix + "chunk:" + chunkID }
func (x *Index) docKey(documentID string) string { return x.prefix + "doc:" + documentID }
func (x *Index) metaKey() string                 { return x.prefix + "meta" }

// Upsert inserts or replaces a single chunk embedding.
func (x *Index) Upsert(ctx context.Context, chunk domain.Chunk, emb domain.Embedding) error {
	unlock := x.locks.Lock(chunk.DocumentID)
	defer unlock()

	return x.write(ctx, chunk.DocumentID, func(meta domain.IndexMetadata) error {
		return index.CheckModel(meta, emb)
	}, func(_ []string) []driven.IndexEntry {
		return []driven.IndexEntry{{Chunk: chunk, Embedding: emb}}
	}, false)
}

// ReplaceDocument swaps every entry of a document in one transaction.
func (x *Index) ReplaceDocument(ctx context.Context, documentID string, entries []driven.IndexEntry) error {
	unlock := x.locks.Lock(documentID)
	defer unlock()

	return x.write(ctx, documentID, func(meta domain.IndexMetadata) error {
		return index.CheckEntries(meta, documentID, entries)
	}, func(_ []string) []driven.IndexEntry {
		return entries
	}, true)
}

// DeleteDocument removes every entry of a document.
func (x *Index) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := x.locks.Lock(documentID)
	defer unlock()

	return x.write(ctx, documentID, nil, nil, true)
}

// write runs one optimistic transaction on a document: check validates
// against the stored model, entries supplies the chunks to write, and
// replace drops the document's current chunks first.
func (x *Index) write(ctx context.Context, documentID string,
	check func(domain.IndexMetadata) error,
	entries func(old []string) []driven.IndexEntry,
	replace bool,
) error {
	docKey := x.docKey(documentID)

	txf := func(tx *redis.Tx) error {
		meta, err := readMeta(ctx, tx, x.metaKey())
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(meta); err != nil {
				return err
			}
		}
		old, err := tx.SMembers(ctx, docKey).Result()
		if err != nil {
			return index.Unavailable("reading document set", err)
		}
		var writes []driven.IndexEntry
		if entries != nil {
			writes = entries(old)
		}
		if len(writes) > 0 {
			if err := x.ensureIndex(ctx, len(writes[0].Embedding.Vector)); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if replace {
				if len(old) > 0 {
					pipe.Del(ctx, old...)
				}
				pipe.Del(ctx, docKey)
			}
			for _, e := range writes {
				key := x.chunkKey(e.Chunk.ID)
				fields, err := hashFields(e)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, key, fields)
				pipe.SAdd(ctx, docKey, key)
			}
			if len(writes) > 0 {
				pipe.HSet(ctx, x.metaKey(), metaFields(meta, writes[0].Embedding))
			}
			return nil
		})
		return err
	}

	err := x.client.Watch(ctx, txf, docKey, x.metaKey())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return index.Unavailable("concurrent write to "+documentID, err)
	case errors.Is(err, domain.ErrModelVersionMismatch), errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrIndexUnavailable):
		return err
	default:
		return index.Unavailable("writing document "+documentID, err)
	}
}

// Query returns the k most similar entries matching filters.
func (x *Index) Query(ctx context.Context, vector []float32, k int, filters domain.Filters) ([]driven.VectorHit, error) {
	if k <= 0 {
		return []driven.VectorHit{}, nil
	}

	q := BuildQuery(filters, k)
	args := []any{"FT.SEARCH", x.name, q.Expr,
		"PARAMS", "2", "vec", EncodeVector(vector),
		"SORTBY", fieldScore, "ASC",
		"RETURN", "2", fieldScore, fieldMetadata,
		"LIMIT", "0", strconv.Itoa(q.Window),
		"DIALECT", "2",
	}
	reply, err := x.client.Do(ctx, args...).Result()
	if err != nil {
		if isMissingIndex(err) {
			return []driven.VectorHit{}, nil
		}
		return nil, index.Unavailable("searching", err)
	}

	docs, err := ParseSearchReply(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	hits := make([]driven.VectorHit, 0, len(docs))
	for _, d := range docs {
		if len(q.Post) > 0 && !q.Post.Matches(d.Metadata) {
			continue
		}
		hits = append(hits, driven.VectorHit{
			ChunkID:    strings.TrimPrefix(d.Key, x.prefix+"chunk:"),
			Similarity: 1 - d.Distance,
		})
	}
	return index.Top(hits, k), nil
}

// Metadata returns the model the index was built with.
func (x *Index) Metadata(ctx context.Context) (domain.IndexMetadata, error) {
	return readMeta(ctx, x.client, x.metaKey())
}

// Reset drops the search index, every chunk hash, every document set and
// the recorded model.
func (x *Index) Reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.client.Do(ctx, "FT.DROPINDEX", x.name, "DD").Err(); err != nil && !isMissingIndex(err) {
		return index.Unavailable("dropping index", err)
	}
	x.created = false

	var keys []string
	iter := x.client.Scan(ctx, 0, x.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return index.Unavailable("scanning keys", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := x.client.Del(ctx, keys...).Err(); err != nil {
		return index.Unavailable("deleting keys", err)
	}
	return nil
}

// Close closes the client.
func (x *Index) Close() error {
	return x.client.Close()
}

// ensureIndex creates the RediSearch index for vectors of dim dimensions.
func (x *Index) ensureIndex(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.created {
		return nil
	}

	err := x.client.Do(ctx, "FT.INFO", x.name).Err()
	if err == nil {
		x.created = true
		return nil
	}
	if !isMissingIndex(err) {
		return index.Unavailable("reading index info", err)
	}

	logger.Info("Creating RediSearch index %s (%d dimensions)", x.name, dim)
	if err := x.client.Do(ctx, CreateArgs(x.name, x.prefix+"chunk:", dim)...).Err(); err != nil {
		return index.Unavailable("creating index", err)
	}
	x.created = true
	return nil
}

// CreateArgs returns the FT.CREATE command for the chunk hashes.
func CreateArgs(name, keyPrefix string, dim int) []any {
	args := []any{"FT.CREATE", name,
		"ON", "HASH",
		"PREFIX", "1", keyPrefix,
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", "COSINE",
		"EF_CONSTRUCTION", strconv.Itoa(defaultEFConstruction),
		"M", strconv.Itoa(defaultM),
	}
	for _, f := range tagFields {
		args = append(args, f, "TAG", "SEPARATOR", "|")
	}
	return args
}

// Query is a KNN expression plus the filters RediSearch cannot apply.
type Query struct {
	Expr string
	// Window is how many neighbours are fetched before the tie-break
	// and the post filters cut the result to k.
	Window int
	Post   domain.Filters
}

// BuildQuery turns filters into a KNN query. Indexed keys become TAG
// clauses; the rest are returned as post filters and widen the window.
func BuildQuery(filters domain.Filters, k int) Query {
	keys := filters.Keys()
	sort.Strings(keys)

	indexed := make(map[string]bool, len(tagFields))
	for _, f := range tagFields {
		indexed[f] = true
	}

	var clauses []string
	post := domain.Filters{}
	for _, key := range keys {
		if indexed[key] {
			clauses = append(clauses, "@"+key+":{"+EscapeTag(filters[key])+"}")
		} else {
			post[key] = filters[key]
		}
	}

	pre := "*"
	if len(clauses) > 0 {
		pre = "(" + strings.Join(clauses, " ") + ")"
	}
	window := k * 2
	if len(post) > 0 {
		window = k * 10
	}
	return Query{
		Expr:   fmt.Sprintf("%s=>[KNN %d @%s $vec AS %s]", pre, window, fieldVector, fieldScore),
		Window: window,
		Post:   post,
	}
}

// EscapeTag escapes every character RediSearch treats as a tag separator
// or query syntax.
func EscapeTag(value string) string {
	var b strings.Builder
	for _, r := range value {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SearchDoc is one parsed FT.SEARCH result.
type SearchDoc struct {
	Key      string
	Distance float64
	Metadata map[string]string
}

// ParseSearchReply parses a RESP2 FT.SEARCH reply:
// [total, key, [field, value, ...], key, [...], ...].
func ParseSearchReply(reply any) ([]SearchDoc, error) {
	values, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected search reply %T", reply)
	}
	if len(values) == 0 {
		return nil, nil
	}

	docs := make([]SearchDoc, 0, (len(values)-1)/2)
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %T", values[i])
		}
		fields, ok := values[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected fields %T for %s", values[i+1], key)
		}

		doc := SearchDoc{Key: key}
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			value, _ := fields[j+1].(string)
			switch name {
			case fieldScore:
				d, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing score of %s: %w", key, err)
				}
				doc.Distance = d
			case fieldMetadata:
				if value != "" {
					if err := json.Unmarshal([]byte(value), &doc.Metadata); err != nil {
						return nil, fmt.Errorf("parsing metadata of %s: %w", key, err)
					}
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// EncodeVector encodes a vector as the little-endian FLOAT32 blob
// RediSearch expects.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func hashFields(e driven.IndexEntry) (map[string]any, error) {
	meta := make(map[string]string, len(e.Chunk.Metadata)+1)
	for k, v := range e.Chunk.Metadata {
		meta[k] = v
	}
	meta[domain.MetaDocumentID] = e.Chunk.DocumentID

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata of %s: %w", e.Chunk.ID, err)
	}

	fields := map[string]any{
		fieldVector:   EncodeVector(e.Embedding.Vector),
		fieldModel:    e.Embedding.Model,
		fieldMetadata: string(raw),
	}
	for _, f := range tagFields {
		if v, ok := meta[f]; ok {
			fields[f] = v
		}
	}
	return fields, nil
}

func metaFields(meta domain.IndexMetadata, emb domain.Embedding) map[string]any {
	if meta.IsEmpty() {
		meta.Model = emb.Model
		meta.Dimensions = len(emb.Vector)
	}
	return map[string]any{
		"model":      meta.Model,
		"dimensions": meta.Dimensions,
		"updated_at": time.Now().UnixNano(),
	}
}

// ParseMeta decodes the meta hash. A missing hash yields empty metadata.
func ParseMeta(fields map[string]string) domain.IndexMetadata {
	var meta domain.IndexMetadata
	meta.Model = fields["model"]
	meta.Dimensions, _ = strconv.Atoi(fields["dimensions"])
	if n, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil && n > 0 {
		meta.UpdatedAt = time.Unix(0, n).UTC()
	}
	return meta
}

func readMeta(ctx context.Context, c redis.Cmdable, key string) (domain.IndexMetadata, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.IndexMetadata{}, index.Unavailable("reading index metadata", err)
	}
	return ParseMeta(fields), nil
}

func isMissingIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index name") ||
		strings.Contains(msg, "no such index") ||
		strings.Contains(msg, "not found")
}
