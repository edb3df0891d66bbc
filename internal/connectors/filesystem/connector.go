// Package filesystem reads corpus documents from local files and
// directories.
package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// Connector walks a file or directory tree.
type Connector struct {
	rootPath  string
	mimeTypes map[string]struct{}
	metadata  map[string]string
	watcher   *fsnotify.Watcher
}

// Option configures the connector.
type Option func(*Connector)

// WithMIMETypes restricts documents to the given MIME types.
func WithMIMETypes(types []string) Option {
	return func(c *Connector) {
		c.mimeTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			c.mimeTypes[t] = struct{}{}
		}
	}
}

// WithMetadata attaches metadata to every document read.
func WithMetadata(meta map[string]string) Option {
	return func(c *Connector) {
		c.metadata = meta
	}
}

// New creates a connector rooted at rootPath.
func New(rootPath string, opts ...Option) *Connector {
	c := &Connector{rootPath: rootPath}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks the root exists.
func (c *Connector) Validate(_ context.Context) error {
	if _, err := os.Stat(c.rootPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: path does not exist: %s", domain.ErrInvalidInput, c.rootPath)
		}
		return fmt.Errorf("stat %s: %w", c.rootPath, err)
	}
	return nil
}

// FullSync reads every supported, non-hidden file under the root.
func (c *Connector) FullSync(ctx context.Context) (<-chan domain.RawDocument, <-chan error) {
	docs := make(chan domain.RawDocument)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		if err := c.Validate(ctx); err != nil {
			errs <- err
			return
		}

		err := filepath.WalkDir(c.rootPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("filesystem: skipping %s: %v", path, err)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if path != c.rootPath && isHidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}

			raw, ok, err := c.read(path)
			if err != nil {
				logger.Warn("filesystem: %v", err)
				return nil
			}
			if !ok {
				return nil
			}

			select {
			case docs <- raw:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- err
		}
	}()

	return docs, errs
}

// Watch emits changes to supported files under the root.
func (c *Connector) Watch(ctx context.Context) (<-chan domain.RawDocumentChange, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	c.watcher = watcher

	err = filepath.WalkDir(c.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != c.rootPath && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		if path == c.rootPath {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", c.rootPath, err)
	}

	changes := make(chan domain.RawDocumentChange)
	go func() {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				change, ok := c.handleFsEvent(event)
				if !ok {
					continue
				}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("filesystem: watch error: %v", err)
			}
		}
	}()

	return changes, nil
}

// handleFsEvent converts a filesystem event into a document change.
func (c *Connector) handleFsEvent(event fsnotify.Event) (domain.RawDocumentChange, bool) {
	if rel, err := filepath.Rel(c.rootPath, event.Name); err == nil && isHidden(rel) {
		return domain.RawDocumentChange{}, false
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !c.supported(detectMIMEType(event.Name)) {
			return domain.RawDocumentChange{}, false
		}
		return domain.RawDocumentChange{
			Type:     domain.ChangeDeleted,
			Document: domain.RawDocument{URI: event.Name, MIMEType: detectMIMEType(event.Name)},
		}, true

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return domain.RawDocumentChange{}, false
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) && c.watcher != nil {
				_ = c.watcher.Add(event.Name)
			}
			return domain.RawDocumentChange{}, false
		}
		raw, ok, err := c.read(event.Name)
		if err != nil || !ok {
			return domain.RawDocumentChange{}, false
		}
		typ := domain.ChangeUpdated
		if event.Has(fsnotify.Create) {
			typ = domain.ChangeCreated
		}
		return domain.RawDocumentChange{Type: typ, Document: raw}, true
	}

	return domain.RawDocumentChange{}, false
}

// Close releases the watcher.
func (c *Connector) Close() error {
	if c.watcher != nil {
		err := c.watcher.Close()
		c.watcher = nil
		return err
	}
	return nil
}

func (c *Connector) read(path string) (domain.RawDocument, bool, error) {
	mimeType := detectMIMEType(path)
	if !c.supported(mimeType) {
		return domain.RawDocument{}, false, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return domain.RawDocument{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	meta := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}

	return domain.RawDocument{
		URI:      path,
		MIMEType: mimeType,
		Content:  content,
		Metadata: meta,
	}, true, nil
}

func (c *Connector) supported(mimeType string) bool {
	if c.mimeTypes == nil {
		return true
	}
	_, ok := c.mimeTypes[mimeType]
	return ok
}

// fallbackMIMETypes covers extensions the mime package may not know.
var fallbackMIMETypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".json":     "application/json",
	".html":     "text/html",
	".htm":      "text/html",
	".xhtml":    "application/xhtml+xml",
}

// detectMIMEType guesses the MIME type from the file extension.
func detectMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "text/plain"
	}
	if m, ok := fallbackMIMETypes[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		if i := strings.IndexByte(m, ';'); i >= 0 {
			m = m[:i]
		}
		return strings.TrimSpace(m)
	}
	return "application/octet-stream"
}

// isHidden reports whether any element of path starts with a dot.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part != "" && part != "." && part != ".." && strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
