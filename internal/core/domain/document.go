package domain

import (
	"sort"
	"strings"
	"time"
)

// NodeType identifies the structural role of a document node.
type NodeType string

// Structural node types.
const (
	NodeHeading   NodeType = "heading"
	NodeParagraph NodeType = "paragraph"
	NodeTable     NodeType = "table"
	NodeClause    NodeType = "clause"
	NodeListItem  NodeType = "list_item"
)

// TableHeaderMarker prefixes table header lines that the chunker repeats
// in follow-on chunks. Lines carrying it are inserted context, not
// document text.
const TableHeaderMarker = "[table header] "

// Document is a versioned, structured source document.
// A Document is never edited: when the source content changes a new
// Document with a new ID is created and the old one is linked to it
// through SupersededBy.
type Document struct {
	// ID is derived from the source URI and content, so unchanged
	// content always yields the same ID.
	ID string

	// SourceURI is the original location (file path, URL, etc).
	SourceURI string

	// Language is the language tag of the content ("he", "en").
	Language string

	// Title is the human-readable title.
	Title string

	// Nodes is the ordered sequence of structural nodes.
	Nodes []Node

	// Metadata contains string key-value pairs such as insurance_type.
	Metadata map[string]string

	// SupersededBy is the ID of the newer version, empty for the latest.
	SupersededBy string

	// CreatedAt is when this version was ingested.
	CreatedAt time.Time
}

// Node is one structural element of a document.
type Node struct {
	// Type is the structural role.
	Type NodeType

	// Text is the node text. Empty for tables, which use Table.
	Text string

	// Level is the heading depth (1 for h1). Zero for other nodes.
	Level int

	// Locator is an optional source locator such as "page 3".
	Locator string

	// Table holds header and rows for table nodes.
	Table *Table
}

// Table is a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// RenderRow renders a table row as text.
func RenderRow(cells []string) string {
	return strings.Join(cells, " | ")
}

// Render returns the node as plain text.
// Tables render their header followed by one line per row.
func (n Node) Render() string {
	if n.Type != NodeTable || n.Table == nil {
		return n.Text
	}
	lines := make([]string, 0, len(n.Table.Rows)+1)
	if len(n.Table.Header) > 0 {
		lines = append(lines, RenderRow(n.Table.Header))
	}
	for _, row := range n.Table.Rows {
		lines = append(lines, RenderRow(row))
	}
	return strings.Join(lines, "\n")
}

// Text returns the full document text, one node per line group.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if r := n.Render(); r != "" {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, "\n")
}

// SourceRemoved is the SupersededBy value of a version whose source was
// deleted. The version stays stored so its citations still resolve.
const SourceRemoved = "removed"

// IsLatest reports whether the document has not been superseded.
func (d *Document) IsLatest() bool {
	return d.SupersededBy == ""
}

// InsuranceType returns the insurance_type metadata value, if any.
func (d *Document) InsuranceType() string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[MetaInsuranceType]
}

// ChunkType is the structural type of a chunk.
type ChunkType string

// Chunk types.
const (
	ChunkParagraph ChunkType = "paragraph"
	ChunkTableRow  ChunkType = "table_row"
	ChunkClause    ChunkType = "clause"
	ChunkListItem  ChunkType = "list_item"
	ChunkHeading   ChunkType = "heading"
)

// Chunk is a retrieval unit of exactly one Document.
// Chunks are created once at indexing time and never mutated.
type Chunk struct {
	// ID is deterministic: a function of document ID and structural path.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Locator addresses the chunk within the document (section, page, row range).
	Locator string

	// Path is the structural path the ID is derived from.
	Path string

	// Content is the text content of this chunk.
	Content string

	// Type is the structural type.
	Type ChunkType

	// Position is the ordinal position within the document.
	Position int

	// Tokens is the token count of Content.
	Tokens int

	// Metadata carries document metadata plus chunk-level keys.
	Metadata map[string]string
}

// Citation returns the citation addressing this chunk.
func (c *Chunk) Citation() Citation {
	return Citation{
		DocumentID: c.DocumentID,
		Locator:    c.Locator,
		ChunkID:    c.ID,
	}
}

// BodyText returns Content without inserted boundary marker lines.
func (c *Chunk) BodyText() string {
	if !strings.Contains(c.Content, TableHeaderMarker) {
		return c.Content
	}
	lines := strings.Split(c.Content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, TableHeaderMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ReconstructText joins chunk bodies in position order. Chunks sharing a
// position keep their slice order; chunks is not modified.
func ReconstructText(chunks []Chunk) string {
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chunks[order[a]].Position < chunks[order[b]].Position
	})

	parts := make([]string, 0, len(chunks))
	for _, i := range order {
		parts = append(parts, chunks[i].BodyText())
	}
	return strings.Join(parts, "\n")
}

// Common metadata keys.
const (
	MetaInsuranceType = "insurance_type"
	MetaLanguage      = "language"
	MetaSection       = "section"
	MetaDocumentID    = "document_id"
	MetaSourceURI     = "source_uri"
	MetaFormat        = "format"
)
