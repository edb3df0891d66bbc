package normalisers

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/normalisers/html"
	"github.com/custodia-labs/covera/internal/normalisers/jsondoc"
	"github.com/custodia-labs/covera/internal/normalisers/markdown"
	"github.com/custodia-labs/covera/internal/normalisers/plaintext"
)

// Ensure Registry implements the interface.
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry dispatches raw documents to the highest priority normaliser
// supporting their MIME type.
type Registry struct {
	mu          sync.RWMutex
	normalisers []driven.Normaliser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry creates a registry with all built-in normalisers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(html.New())
	r.Register(markdown.New())
	r.Register(plaintext.New())
	r.Register(jsondoc.New())
	return r
}

// Register adds a normaliser to the registry.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalisers = append(r.normalisers, n)
	sort.SliceStable(r.normalisers, func(i, j int) bool {
		return r.normalisers[i].Priority() > r.normalisers[j].Priority()
	})
}

// Normalise transforms a raw document using the best matching normaliser.
func (r *Registry) Normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	mimeType := raw.MIMEType
	if mimeType == "" {
		mimeType = MIMETypeForPath(raw.URI)
	}
	mimeType = baseMIMEType(mimeType)

	r.mu.RLock()
	var selected driven.Normaliser
	for _, n := range r.normalisers {
		for _, m := range n.SupportedMIMETypes() {
			if m == mimeType {
				selected = n
				break
			}
		}
		if selected != nil {
			break
		}
	}
	r.mu.RUnlock()

	if selected == nil {
		return nil, fmt.Errorf("%w: no normaliser for %q", domain.ErrUnsupportedType, mimeType)
	}

	doc, err := selected.Normalise(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("normalise %s: %w", raw.URI, err)
	}
	return doc, nil
}

// SupportedMIMETypes returns all MIME types that can be normalised.
func (r *Registry) SupportedMIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, n := range r.normalisers {
		for _, m := range n.SupportedMIMETypes() {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// extensionMIMETypes maps corpus file extensions to MIME types.
var extensionMIMETypes = map[string]string{
	".html":     "text/html",
	".htm":      "text/html",
	".xhtml":    "application/xhtml+xml",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".json":     "application/json",
}

// MIMETypeForPath guesses a MIME type from a file extension.
// Returns an empty string for unknown extensions.
func MIMETypeForPath(path string) string {
	return extensionMIMETypes[strings.ToLower(filepath.Ext(path))]
}

func baseMIMEType(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
