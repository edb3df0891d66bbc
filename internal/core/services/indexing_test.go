package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	indexmemory "github.com/custodia-labs/covera/internal/adapters/driven/index/memory"
	"github.com/custodia-labs/covera/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/covera/internal/connectors/filesystem"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/normalisers"
	"github.com/custodia-labs/covera/internal/postprocessors"
)

const carPolicy = `# Car policy

| Service | Limit |
|---------|-------|
| Towing | 500 NIS |
| Glass | 1,200 NIS |

Theft of the vehicle is covered when the car was locked.
`

type indexingFixture struct {
	svc      *IndexingService
	docs     *memory.DocumentStore
	index    *indexmemory.Index
	embedder *mockEmbeddingService
	dir      string
}

func newIndexingFixture(t *testing.T, opts ...IndexingOption) *indexingFixture {
	t.Helper()

	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	pipeline, err := registry.BuildPipeline(domain.DefaultPipelineConfig(domain.DefaultAppSettings().Chunking))
	require.NoError(t, err)

	normaliser := normalisers.NewDefaultRegistry()
	factory := func(path string) driven.Connector {
		return filesystem.New(path, filesystem.WithMIMETypes(normaliser.SupportedMIMETypes()))
	}

	f := &indexingFixture{
		docs:     memory.NewDocumentStore(),
		index:    indexmemory.New(),
		embedder: &mockEmbeddingService{},
		dir:      t.TempDir(),
	}
	opts = append([]IndexingOption{WithIndexingRetry(fastPolicy())}, opts...)
	f.svc = NewIndexingService(factory, normaliser, pipeline, f.docs, f.index, f.embedder, opts...)
	return f
}

func (f *indexingFixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// A table and a paragraph yield separately citable chunks.
func TestIndexingService_TableAndParagraph(t *testing.T) {
	f := newIndexingFixture(t)
	path := f.write(t, "car.md", carPolicy)

	report, err := f.svc.IndexPaths(context.Background(), []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Indexed)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Outcomes, 1)
	outcome := report.Outcomes[0]
	assert.Equal(t, path, outcome.URI)
	assert.GreaterOrEqual(t, outcome.Chunks, 2)

	chunks, err := f.docs.GetChunks(context.Background(), outcome.DocumentID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	locators := make(map[string]bool)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Locator)
		assert.False(t, locators[c.Locator], "duplicate locator %q", c.Locator)
		locators[c.Locator] = true
	}
	assert.Equal(t, len(chunks), f.index.Len())

	meta, err := f.index.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mockModel, meta.Model)
}

func TestIndexingService_UnchangedAndForce(t *testing.T) {
	f := newIndexingFixture(t)
	f.write(t, "car.md", carPolicy)
	ctx := context.Background()

	_, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)

	report, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.Indexed)

	report, err = f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Empty(t, report.Outcomes[0].Superseded)
}

func TestIndexingService_ChangedContentSupersedes(t *testing.T) {
	f := newIndexingFixture(t)
	path := f.write(t, "car.md", carPolicy)
	ctx := context.Background()

	first, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)
	oldID := first.Outcomes[0].DocumentID
	oldChunks, err := f.docs.GetChunks(ctx, oldID)
	require.NoError(t, err)

	f.write(t, "car.md", carPolicy+"\nWindscreen repair has no excess.\n")
	second, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)

	newID := second.Outcomes[0].DocumentID
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, oldID, second.Outcomes[0].Superseded)

	latest, err := f.docs.LatestBySource(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, newID, latest.ID)

	old, err := f.docs.GetDocument(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, newID, old.SupersededBy)

	// Old citations still resolve, but only the new version is indexed
	_, err = f.docs.GetChunk(ctx, oldChunks[0].ID)
	require.NoError(t, err)
	newChunks, err := f.docs.GetChunks(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, len(newChunks), f.index.Len())
}

func TestIndexingService_FailureIsRecorded(t *testing.T) {
	f := newIndexingFixture(t)
	f.write(t, "car.md", carPolicy)
	f.embedder.embedErr = domain.ErrServiceUnavailable

	report, err := f.svc.IndexPaths(context.Background(), []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, driving.IndexStatusFailed, report.Outcomes[0].Status)
	assert.ErrorIs(t, report.Outcomes[0].Err, domain.ErrServiceUnavailable)
	assert.Zero(t, f.index.Len())
}

func TestIndexingService_ManyDocuments(t *testing.T) {
	f := newIndexingFixture(t, WithIndexWorkers(3), WithEmbedBatchSize(1))
	for i := 0; i < 12; i++ {
		f.write(t, fmt.Sprintf("policy-%02d.txt", i), fmt.Sprintf("Clause %d covers luggage up to %d NIS.", i, 100*(i+1)))
	}

	report, err := f.svc.IndexPaths(context.Background(), []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)

	assert.Equal(t, 12, report.Indexed)
	assert.Equal(t, 12, report.Chunks)
	require.Len(t, report.Outcomes, 12)
	assert.Equal(t, filepath.Join(f.dir, "policy-00.txt"), report.Outcomes[0].URI)
	assert.Equal(t, 12, f.index.Len())
}

func TestIndexingService_InsuranceTypeOption(t *testing.T) {
	f := newIndexingFixture(t)
	f.write(t, "notes.md", "Annual checkups are covered.")

	report, err := f.svc.IndexPaths(context.Background(), []string{f.dir},
		driving.IndexOptions{InsuranceType: "Health"})
	require.NoError(t, err)

	doc, err := f.docs.GetDocument(context.Background(), report.Outcomes[0].DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Health", doc.Metadata[domain.MetaInsuranceType])
}

func TestIndexingService_RemoveSource(t *testing.T) {
	f := newIndexingFixture(t)
	path := f.write(t, "car.md", carPolicy)
	ctx := context.Background()

	report, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)
	docID := report.Outcomes[0].DocumentID

	require.NoError(t, f.svc.RemoveSource(ctx, path))
	assert.Zero(t, f.index.Len())

	_, err = f.docs.LatestBySource(ctx, path)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	doc, err := f.docs.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRemoved, doc.SupersededBy)

	assert.ErrorIs(t, f.svc.RemoveSource(ctx, path), domain.ErrNotFound)
}

func TestIndexingService_Reset(t *testing.T) {
	f := newIndexingFixture(t)
	f.write(t, "car.md", carPolicy)
	ctx := context.Background()

	_, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Reset(ctx))

	assert.Zero(t, f.index.Len())
	docs, err := f.docs.ListDocuments(ctx, false)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIndexingService_Rebuild(t *testing.T) {
	f := newIndexingFixture(t)
	f.write(t, "car.md", carPolicy)
	f.write(t, "notes.txt", "Car glass repair is covered once a year.")
	ctx := context.Background()

	indexed, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)
	want := f.index.Len()
	require.NoError(t, f.svc.Reset(ctx))
	require.Zero(t, f.index.Len())

	report, err := f.svc.Rebuild(ctx, driving.IndexOptions{Workers: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, indexed.Chunks, report.Chunks)
	assert.Equal(t, want, f.index.Len())
}

func TestIndexingService_RebuildEmbedFailure(t *testing.T) {
	f := newIndexingFixture(t)
	f.write(t, "car.md", carPolicy)
	ctx := context.Background()

	_, err := f.svc.IndexPaths(ctx, []string{f.dir}, driving.IndexOptions{})
	require.NoError(t, err)
	f.embedder.embedErr = fmt.Errorf("%w: offline", domain.ErrEmbeddingUnavailable)

	report, err := f.svc.Rebuild(ctx, driving.IndexOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Outcomes[0].Err, domain.ErrEmbeddingUnavailable)
}

func TestIndexingService_Errors(t *testing.T) {
	f := newIndexingFixture(t)
	ctx := context.Background()

	_, err := f.svc.IndexPaths(ctx, []string{filepath.Join(f.dir, "missing")}, driving.IndexOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.IndexPaths(ctx, nil, driving.IndexOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.IndexDocument(ctx, nil, driving.IndexOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIndexingService_Watch(t *testing.T) {
	f := newIndexingFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcomes := make(chan driving.IndexOutcome, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.svc.Watch(ctx, []string{f.dir}, driving.IndexOptions{}, func(o driving.IndexOutcome) {
			outcomes <- o
		})
	}()
	time.Sleep(100 * time.Millisecond)

	// Rename into place so the file appears with its full content
	draft := f.write(t, ".draft.md", carPolicy)
	path := filepath.Join(f.dir, "car.md")
	require.NoError(t, os.Rename(draft, path))

	waitFor := func(status driving.IndexStatus) driving.IndexOutcome {
		deadline := time.After(5 * time.Second)
		for {
			select {
			case o := <-outcomes:
				if o.URI == path && o.Status == status {
					return o
				}
			case <-deadline:
				t.Fatalf("no %s outcome for %s", status, path)
				return driving.IndexOutcome{}
			}
		}
	}

	indexed := waitFor(driving.IndexStatusIndexed)
	assert.GreaterOrEqual(t, indexed.Chunks, 2)

	require.NoError(t, os.Remove(path))
	waitFor(driving.IndexStatusRemoved)
	assert.Zero(t, f.index.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired early")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
}
