package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// IndexingService ingests corpus files into the document store and index.
type IndexingService interface {
	// IndexPaths walks files and directories and indexes every supported file.
	// Per-file failures are collected in the report; other files continue.
	IndexPaths(ctx context.Context, paths []string, opts IndexOptions) (*IndexReport, error)

	// IndexDocument indexes one raw document.
	IndexDocument(ctx context.Context, raw *domain.RawDocument, opts IndexOptions) (IndexOutcome, error)

	// RemoveSource drops the latest version of a source from the index.
	// Stored versions are kept so existing citations still resolve.
	RemoveSource(ctx context.Context, uri string) error

	// Watch re-indexes files under paths as they change until ctx is done.
	Watch(ctx context.Context, paths []string, opts IndexOptions, onChange func(IndexOutcome)) error

	// Reset clears the embedding index.
	Reset(ctx context.Context) error

	// Rebuild re-embeds stored chunks of the latest documents into the index.
	Rebuild(ctx context.Context, opts IndexOptions) (*IndexReport, error)
}

// IndexOptions configures one indexing run.
type IndexOptions struct {
	// Workers bounds concurrent documents. Zero uses the configured default.
	Workers int

	// InsuranceType tags documents whose path does not reveal a topic.
	InsuranceType string

	// Force re-indexes documents whose content is unchanged.
	Force bool
}

// IndexStatus is the outcome of indexing one document.
type IndexStatus string

// Index statuses.
const (
	IndexStatusIndexed   IndexStatus = "indexed"
	IndexStatusUnchanged IndexStatus = "unchanged"
	IndexStatusFailed    IndexStatus = "failed"
	IndexStatusRemoved   IndexStatus = "removed"
)

// IndexOutcome describes one indexed document.
type IndexOutcome struct {
	URI        string
	DocumentID string
	Status     IndexStatus
	Chunks     int
	Superseded string
	Err        error
}

// IndexReport aggregates an indexing run.
type IndexReport struct {
	Indexed   int
	Unchanged int
	Failed    int
	Chunks    int
	Duration  time.Duration
	Outcomes  []IndexOutcome
}
