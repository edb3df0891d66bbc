package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/logger"
	"github.com/custodia-labs/covera/internal/resilience"
)

// Ensure IndexingService implements the interface.
var _ driving.IndexingService = (*IndexingService)(nil)

// DefaultEmbedBatchSize bounds the texts sent per embedding request.
const DefaultEmbedBatchSize = 32

// IndexingService ingests documents: normalise, chunk, embed, store and
// index. Independent documents are processed concurrently by a bounded
// worker pool. Writes for one source are serialized.
type IndexingService struct {
	factory   driven.ConnectorFactory
	registry  driven.NormaliserRegistry
	pipeline  driven.PostProcessorPipeline
	docStore  driven.DocumentStore
	index     driven.EmbeddingIndex
	embedder  driven.EmbeddingService
	workers   int
	batchSize int
	policy    resilience.Policy

	sources keyedMutex
}

// IndexingOption configures an IndexingService.
type IndexingOption func(*IndexingService)

// WithIndexWorkers bounds concurrent documents.
func WithIndexWorkers(n int) IndexingOption {
	return func(s *IndexingService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithEmbedBatchSize bounds texts per embedding request.
func WithEmbedBatchSize(n int) IndexingOption {
	return func(s *IndexingService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithIndexingRetry sets the retry policy of index writes.
func WithIndexingRetry(p resilience.Policy) IndexingOption {
	return func(s *IndexingService) {
		s.policy = p
	}
}

// NewIndexingService creates an indexing service.
func NewIndexingService(
	factory driven.ConnectorFactory,
	registry driven.NormaliserRegistry,
	pipeline driven.PostProcessorPipeline,
	docStore driven.DocumentStore,
	index driven.EmbeddingIndex,
	embedder driven.EmbeddingService,
	opts ...IndexingOption,
) *IndexingService {
	s := &IndexingService{
		factory:   factory,
		registry:  registry,
		pipeline:  pipeline,
		docStore:  docStore,
		index:     index,
		embedder:  embedder,
		workers:   domain.DefaultAppSettings().Concurrency.IndexWorkers,
		batchSize: DefaultEmbedBatchSize,
		policy:    resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IndexPaths indexes every supported file under paths. A failing file is
// recorded in the report and does not stop the run.
func (s *IndexingService) IndexPaths(
	ctx context.Context, paths []string, opts driving.IndexOptions,
) (*driving.IndexReport, error) {
	logger.Section("Indexing")
	start := time.Now()

	if s.factory == nil {
		return nil, fmt.Errorf("%w: connector factory not configured", domain.ErrInvalidInput)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to index", domain.ErrInvalidInput)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = s.workers
	}

	var (
		mu       sync.Mutex
		outcomes []driving.IndexOutcome
	)
	record := func(o driving.IndexOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	for _, path := range paths {
		connector := s.factory(path)
		if err := connector.Validate(ctx); err != nil {
			connector.Close()
			return nil, fmt.Errorf("validate %s: %w", path, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		docs, errs := connector.FullSync(gctx)
		for raw := range docs {
			g.Go(func() error {
				outcome, err := s.IndexDocument(gctx, &raw, opts)
				if err != nil {
					logger.Warn("Failed to index %s: %v", raw.URI, err)
					outcome = driving.IndexOutcome{URI: raw.URI, Status: driving.IndexStatusFailed, Err: err}
				}
				record(outcome)
				return nil
			})
		}
		waitErr := g.Wait()
		syncErr := <-errs
		connector.Close()

		if err := ctx.Err(); err != nil {
			return buildIndexReport(outcomes, start), err
		}
		if waitErr != nil {
			return buildIndexReport(outcomes, start), waitErr
		}
		if syncErr != nil {
			return buildIndexReport(outcomes, start), fmt.Errorf("read %s: %w", path, syncErr)
		}
	}

	report := buildIndexReport(outcomes, start)
	logger.Info("Indexed %d documents (%d unchanged, %d failed, %d chunks) in %s",
		report.Indexed, report.Unchanged, report.Failed, report.Chunks, report.Duration.Round(time.Millisecond))
	return report, nil
}

func buildIndexReport(outcomes []driving.IndexOutcome, start time.Time) *driving.IndexReport {
	sorted := make([]driving.IndexOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })

	report := &driving.IndexReport{Outcomes: sorted, Duration: time.Since(start)}
	for _, o := range sorted {
		switch o.Status {
		case driving.IndexStatusIndexed:
			report.Indexed++
			report.Chunks += o.Chunks
		case driving.IndexStatusUnchanged:
			report.Unchanged++
		case driving.IndexStatusFailed:
			report.Failed++
		}
	}
	return report
}

// IndexDocument indexes one raw document. Unchanged content is skipped
// unless forced. Changed content creates a new document version; the old
// version stays stored but leaves the index.
func (s *IndexingService) IndexDocument(
	ctx context.Context, raw *domain.RawDocument, opts driving.IndexOptions,
) (driving.IndexOutcome, error) {
	if raw == nil {
		return driving.IndexOutcome{}, domain.ErrInvalidInput
	}
	if s.embedder == nil || s.index == nil {
		return driving.IndexOutcome{}, domain.ErrEmbeddingUnavailable
	}
	outcome := driving.IndexOutcome{URI: raw.URI}

	if opts.InsuranceType != "" {
		tagged := *raw
		tagged.Metadata = make(map[string]string, len(raw.Metadata)+1)
		for k, v := range raw.Metadata {
			tagged.Metadata[k] = v
		}
		if tagged.Metadata[domain.MetaInsuranceType] == "" {
			tagged.Metadata[domain.MetaInsuranceType] = opts.InsuranceType
		}
		raw = &tagged
	}

	doc, err := s.registry.Normalise(ctx, raw)
	if err != nil {
		return outcome, fmt.Errorf("normalise: %w", err)
	}
	outcome.DocumentID = doc.ID

	unlock := s.sources.Lock(raw.URI)
	defer unlock()

	previous, err := s.docStore.LatestBySource(ctx, raw.URI)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return outcome, fmt.Errorf("find previous version: %w", err)
	}
	if previous != nil && previous.ID == doc.ID && !opts.Force {
		logger.Debug("Unchanged: %s", raw.URI)
		outcome.Status = driving.IndexStatusUnchanged
		return outcome, nil
	}

	chunks, err := s.pipeline.Process(ctx, doc)
	if err != nil {
		return outcome, fmt.Errorf("post-process: %w", err)
	}

	entries, err := s.embed(ctx, chunks)
	if err != nil {
		return outcome, err
	}

	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		return outcome, fmt.Errorf("save document: %w", err)
	}
	if err := s.docStore.SaveChunks(ctx, chunks); err != nil {
		return outcome, fmt.Errorf("save chunks: %w", err)
	}

	err = resilience.Do(ctx, s.policy, "index replace", func(ctx context.Context) error {
		return s.index.ReplaceDocument(ctx, doc.ID, entries)
	})
	if err != nil {
		return outcome, fmt.Errorf("index document: %w", err)
	}

	if previous != nil && previous.ID != doc.ID {
		if err := s.retire(ctx, previous.ID, doc.ID); err != nil {
			return outcome, err
		}
		outcome.Superseded = previous.ID
		logger.Debug("Superseded %s with %s", previous.ID, doc.ID)
	}

	outcome.Status = driving.IndexStatusIndexed
	outcome.Chunks = len(chunks)
	logger.Debug("Indexed %s: %d chunks", raw.URI, len(chunks))
	return outcome, nil
}

// embed computes chunk embeddings in batches.
func (s *IndexingService) embed(ctx context.Context, chunks []domain.Chunk) ([]driven.IndexEntry, error) {
	model := s.embedder.ModelName()
	entries := make([]driven.IndexEntry, 0, len(chunks))

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			texts = append(texts, chunks[i].Content)
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: %d embeddings for %d chunks",
				domain.ErrServiceUnavailable, len(vectors), len(texts))
		}
		for i, v := range vectors {
			c := chunks[start+i]
			entries = append(entries, driven.IndexEntry{
				Chunk:     c,
				Embedding: domain.Embedding{ChunkID: c.ID, Vector: v, Model: model},
			})
		}
	}
	return entries, nil
}

// retire marks a version superseded and drops it from the index.
func (s *IndexingService) retire(ctx context.Context, oldID, newID string) error {
	if err := s.docStore.MarkSuperseded(ctx, oldID, newID); err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	err := resilience.Do(ctx, s.policy, "index delete", func(ctx context.Context) error {
		return s.index.DeleteDocument(ctx, oldID)
	})
	if err != nil {
		return fmt.Errorf("drop %s from index: %w", oldID, err)
	}
	return nil
}

// RemoveSource drops the latest version of a source from the index.
func (s *IndexingService) RemoveSource(ctx context.Context, uri string) error {
	unlock := s.sources.Lock(uri)
	defer unlock()

	latest, err := s.docStore.LatestBySource(ctx, uri)
	if err != nil {
		return fmt.Errorf("find %s: %w", uri, err)
	}
	return s.retire(ctx, latest.ID, domain.SourceRemoved)
}

// Watch re-indexes changed files under paths until ctx is done.
// onChange, when set, receives every outcome.
func (s *IndexingService) Watch(
	ctx context.Context, paths []string, opts driving.IndexOptions, onChange func(driving.IndexOutcome),
) error {
	if s.factory == nil {
		return fmt.Errorf("%w: connector factory not configured", domain.ErrInvalidInput)
	}

	var connectors []driven.Connector
	defer func() {
		for _, c := range connectors {
			c.Close()
		}
	}()

	merged := make(chan domain.RawDocumentChange)
	var wg sync.WaitGroup
	for _, path := range paths {
		connector := s.factory(path)
		connectors = append(connectors, connector)
		changes, err := connector.Watch(ctx)
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for change := range changes {
				select {
				case merged <- change:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	logger.Info("Watching %d paths", len(paths))
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-merged:
			if !ok {
				return nil
			}
			outcome := s.applyChange(ctx, change, opts)
			if onChange != nil {
				onChange(outcome)
			}
		}
	}
}

func (s *IndexingService) applyChange(
	ctx context.Context, change domain.RawDocumentChange, opts driving.IndexOptions,
) driving.IndexOutcome {
	uri := change.Document.URI

	if change.Type == domain.ChangeDeleted {
		err := s.RemoveSource(ctx, uri)
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
		if err != nil {
			logger.Warn("Failed to remove %s: %v", uri, err)
			return driving.IndexOutcome{URI: uri, Status: driving.IndexStatusFailed, Err: err}
		}
		return driving.IndexOutcome{URI: uri, Status: driving.IndexStatusRemoved}
	}

	outcome, err := s.IndexDocument(ctx, &change.Document, opts)
	if err != nil {
		logger.Warn("Failed to index %s: %v", uri, err)
		return driving.IndexOutcome{URI: uri, Status: driving.IndexStatusFailed, Err: err}
	}
	return outcome
}

// Reset clears the embedding index. Stored documents are kept.
func (s *IndexingService) Reset(ctx context.Context) error {
	if s.index == nil {
		return domain.ErrEmbeddingUnavailable
	}
	return s.index.Reset(ctx)
}

// Rebuild re-embeds the stored chunks of every latest document into the
// index without reading the corpus again. It fills an empty in-process
// index and moves a persistent one to a new embedding model.
func (s *IndexingService) Rebuild(ctx context.Context, opts driving.IndexOptions) (*driving.IndexReport, error) {
	logger.Section("Rebuilding index")
	start := time.Now()

	if s.embedder == nil || s.index == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	docs, err := s.docStore.ListDocuments(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = s.workers
	}
	outcomes := make([]driving.IndexOutcome, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, doc := range docs {
		g.Go(func() error {
			outcomes[i] = s.reindex(gctx, doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return buildIndexReport(outcomes, start), err
	}
	report := buildIndexReport(outcomes, start)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	logger.Info("Rebuilt %d documents (%d failed, %d chunks) in %s",
		report.Indexed, report.Failed, report.Chunks, report.Duration.Round(time.Millisecond))
	return report, nil
}

func (s *IndexingService) reindex(ctx context.Context, doc domain.Document) driving.IndexOutcome {
	outcome := driving.IndexOutcome{URI: doc.SourceURI, DocumentID: doc.ID}
	fail := func(err error) driving.IndexOutcome {
		logger.Warn("Failed to rebuild %s: %v", doc.SourceURI, err)
		outcome.Status = driving.IndexStatusFailed
		outcome.Err = err
		return outcome
	}

	unlock := s.sources.Lock(doc.SourceURI)
	defer unlock()

	chunks, err := s.docStore.GetChunks(ctx, doc.ID)
	if err != nil {
		return fail(fmt.Errorf("load chunks: %w", err))
	}
	entries, err := s.embed(ctx, chunks)
	if err != nil {
		return fail(err)
	}
	err = resilience.Do(ctx, s.policy, "index replace", func(ctx context.Context) error {
		return s.index.ReplaceDocument(ctx, doc.ID, entries)
	})
	if err != nil {
		return fail(fmt.Errorf("index document: %w", err))
	}

	outcome.Status = driving.IndexStatusIndexed
	outcome.Chunks = len(chunks)
	return outcome
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
