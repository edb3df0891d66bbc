package domain

// RawDocument represents opaque bytes read from the corpus.
// It is the input of normalisation.
type RawDocument struct {
	// URI is the original location (file path, URL, etc).
	URI string

	// MIMEType is the content type (e.g., "text/html").
	MIMEType string

	// Content is the raw bytes.
	Content []byte

	// Metadata contains caller-supplied key-value pairs (e.g. insurance_type).
	Metadata map[string]string
}

// ChangeType represents the type of document change.
type ChangeType int

const (
	// ChangeCreated indicates a new document.
	ChangeCreated ChangeType = iota

	// ChangeUpdated indicates a modified document.
	ChangeUpdated

	// ChangeDeleted indicates a removed document.
	ChangeDeleted
)

// RawDocumentChange represents a change event from a connector watch.
type RawDocumentChange struct {
	// Type is the kind of change.
	Type ChangeType

	// Document is the affected document. Content is nil for deletions.
	Document RawDocument
}
