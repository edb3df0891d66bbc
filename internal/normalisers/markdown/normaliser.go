package markdown

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/normalisers/docutil"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles Markdown documents.
type Normaliser struct {
	md goldmark.Markdown
}

// New creates a new Markdown normaliser with GFM tables enabled.
func New() *Normaliser {
	return &Normaliser{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
	}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser, higher than plaintext
}

// Normalise parses markdown into structural nodes.
// Chunking is handled by the PostProcessor pipeline.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	source := raw.Content
	root := n.md.Parser().Parse(text.NewReader(source))

	w := &walker{source: source}
	if err := ast.Walk(root, w.walk); err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	title := w.title
	if title == "" {
		title = docutil.TitleFromURI(raw.URI)
	}

	return docutil.NewDocument(raw, title, w.nodes, "markdown"), nil
}

type walker struct {
	source []byte
	nodes  []domain.Node
	title  string
}

func (w *walker) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	switch n.Kind() {
	case ast.KindHeading:
		h := n.(*ast.Heading)
		t := inlineText(h, w.source)
		if h.Level == 1 && w.title == "" {
			w.title = t
		}
		w.add(domain.Node{Type: domain.NodeHeading, Text: t, Level: h.Level})
		return ast.WalkSkipChildren, nil

	case ast.KindParagraph:
		w.add(docutil.TextNode(inlineText(n, w.source)))
		return ast.WalkSkipChildren, nil

	case ast.KindListItem:
		w.add(domain.Node{Type: domain.NodeListItem, Text: inlineText(n, w.source)})
		return ast.WalkSkipChildren, nil

	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		w.add(domain.Node{Type: domain.NodeParagraph, Text: blockLines(n, w.source)})
		return ast.WalkSkipChildren, nil

	case extast.KindTable:
		w.addTable(n.(*extast.Table))
		return ast.WalkSkipChildren, nil
	}

	return ast.WalkContinue, nil
}

func (w *walker) add(node domain.Node) {
	if strings.TrimSpace(node.Text) == "" {
		return
	}
	w.nodes = append(w.nodes, node)
}

func (w *walker) addTable(n *extast.Table) {
	t := &domain.Table{}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch row := child.(type) {
		case *extast.TableHeader:
			t.Header = w.cells(row)
		case *extast.TableRow:
			t.Rows = append(t.Rows, w.cells(row))
		}
	}
	if t.Header == nil && len(t.Rows) == 0 {
		return
	}
	w.nodes = append(w.nodes, domain.Node{Type: domain.NodeTable, Table: t})
}

func (w *walker) cells(row ast.Node) []string {
	var out []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			out = append(out, inlineText(cell, w.source))
		}
	}
	return out
}

// inlineText collects the text below n with whitespace collapsed.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.CodeSpan:
			for g := t.FirstChild(); g != nil; g = g.NextSibling() {
				if s, ok := g.(*ast.Text); ok {
					b.Write(s.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return docutil.CollapseSpace(b.String())
}

// blockLines returns the raw lines of a code block.
func blockLines(n ast.Node, source []byte) string {
	lines := n.Lines()
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimRight(string(seg.Value(source)), "\n"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
