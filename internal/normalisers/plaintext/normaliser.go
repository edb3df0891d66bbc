package plaintext

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/normalisers/docutil"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// maxHeadingWords bounds the length of a line treated as a heading.
const maxHeadingWords = 8

// Normaliser handles plain text documents.
//
// Blocks are separated by blank lines. A short single-line block without
// closing punctuation is a heading, bullet lines are list items, and blocks
// whose lines are all pipe-separated form a table with the first line as
// header.
type Normaliser struct{}

// New creates a new plain text normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/plain"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 5 // Fallback normaliser
}

// Normalise converts plain text into structural nodes.
// Chunking is handled by the PostProcessor pipeline.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	blocks := splitBlocks(string(raw.Content))
	var nodes []domain.Node
	for i, block := range blocks {
		nodes = append(nodes, parseBlock(block, i == 0, i < len(blocks)-1)...)
	}

	return docutil.NewDocument(raw, extractTitle(raw, nodes), nodes, "text"), nil
}

// extractTitle prefers declared metadata, then a leading heading, then the
// file name.
func extractTitle(raw *domain.RawDocument, nodes []domain.Node) string {
	if title := raw.Metadata["title"]; title != "" {
		return title
	}
	if len(nodes) > 0 && nodes[0].Type == domain.NodeHeading {
		return nodes[0].Text
	}
	return docutil.TitleFromURI(raw.URI)
}

func splitBlocks(text string) [][]string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func parseBlock(lines []string, first, hasNext bool) []domain.Node {
	if t := parseTable(lines); t != nil {
		return []domain.Node{{Type: domain.NodeTable, Table: t}}
	}

	if len(lines) == 1 && hasNext && isHeadingLine(lines[0]) {
		level := 2
		if first {
			level = 1
		}
		text := strings.TrimSuffix(docutil.CollapseSpace(lines[0]), ":")
		return []domain.Node{{Type: domain.NodeHeading, Text: text, Level: level}}
	}

	var nodes []domain.Node
	var para []string
	var item []string
	flushPara := func() {
		if len(para) > 0 {
			nodes = append(nodes, docutil.TextNode(docutil.CollapseSpace(strings.Join(para, " "))))
			para = nil
		}
	}
	flushItem := func() {
		if len(item) > 0 {
			nodes = append(nodes, domain.Node{
				Type: domain.NodeListItem,
				Text: docutil.CollapseSpace(strings.Join(item, " ")),
			})
			item = nil
		}
	}

	for _, line := range lines {
		if body, ok := bulletText(line); ok {
			flushPara()
			flushItem()
			item = append(item, body)
			continue
		}
		if len(item) > 0 {
			item = append(item, line)
			continue
		}
		para = append(para, line)
	}
	flushPara()
	flushItem()

	return nodes
}

func bulletText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	return "", false
}

func isHeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(strings.Fields(trimmed)) > maxHeadingWords {
		return false
	}
	if _, ok := bulletText(trimmed); ok || docutil.IsClause(trimmed) {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return !strings.ContainsRune(".?!;,", last)
}

// parseTable reads a block of pipe-separated lines. Separator lines made
// of dashes are skipped.
func parseTable(lines []string) *domain.Table {
	if len(lines) < 2 {
		return nil
	}
	var rows [][]string
	for _, line := range lines {
		if !strings.Contains(line, "|") {
			return nil
		}
		cells := splitCells(line)
		if isSeparatorRow(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	if len(rows) < 2 {
		return nil
	}
	return &domain.Table{Header: rows[0], Rows: rows[1:]}
}

func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, docutil.CollapseSpace(p))
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
