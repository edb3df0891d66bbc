// Package docutil holds helpers shared by the normalisers.
package docutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// Namespace is the UUIDv5 namespace of document IDs.
var Namespace = uuid.MustParse("2b8e4d17-5f3a-5c09-8e6b-71d0a4c9e352")

// DocumentID derives a document ID from its source URI and content.
// Unchanged content yields the same ID; any change yields a new one.
func DocumentID(uri string, content []byte) string {
	name := make([]byte, 0, len(uri)+1+len(content))
	name = append(name, uri...)
	name = append(name, 0)
	name = append(name, content...)
	return uuid.NewSHA1(Namespace, name).String()
}

// NewDocument builds a document from parsed nodes.
// Language comes from raw metadata when declared, else it is detected.
// The insurance type is derived from the path when not supplied.
func NewDocument(raw *domain.RawDocument, title string, nodes []domain.Node, format string) *domain.Document {
	meta := CopyMetadata(raw.Metadata)
	meta[domain.MetaFormat] = format
	if raw.MIMEType != "" {
		meta["mime_type"] = raw.MIMEType
	}
	if meta[domain.MetaInsuranceType] == "" {
		if t, ok := domain.InsuranceTypeFromPath(raw.URI); ok {
			meta[domain.MetaInsuranceType] = string(t)
		}
	}

	doc := &domain.Document{
		ID:        DocumentID(raw.URI, raw.Content),
		SourceURI: raw.URI,
		Title:     title,
		Nodes:     nodes,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}

	doc.Language = meta[domain.MetaLanguage]
	if doc.Language == "" {
		doc.Language = domain.DetectLanguage(doc.Text())
	}
	delete(meta, domain.MetaLanguage)

	return doc
}

// TitleFromURI derives a readable title from a file name.
func TitleFromURI(uri string) string {
	filename := filepath.Base(uri)
	if ext := filepath.Ext(filename); ext != "" {
		filename = strings.TrimSuffix(filename, ext)
	}
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}

// CollapseSpace trims text and collapses internal whitespace runs.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CopyMetadata creates a shallow copy of metadata. Never returns nil.
func CopyMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var clausePattern = regexp.MustCompile(`(?i)^(\d+(\.\d+)+\.?\s|(clause|section|article)\s+\d+|סעיף\s*\d+)`)

// IsClause reports whether a paragraph opens with a clause number such
// as "4.2", "Clause 7" or "סעיף 3".
func IsClause(text string) bool {
	return clausePattern.MatchString(strings.TrimSpace(text))
}

// TextNode returns a paragraph node, or a clause node for numbered clauses.
func TextNode(text string) domain.Node {
	if IsClause(text) {
		return domain.Node{Type: domain.NodeClause, Text: text}
	}
	return domain.Node{Type: domain.NodeParagraph, Text: text}
}
