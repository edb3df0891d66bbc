package html

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/normalisers/docutil"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles HTML documents.
type Normaliser struct{}

// New creates a new HTML normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser, higher than plaintext
}

// blockSelector lists the elements that become document nodes, in
// document order.
const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, table"

// Normalise converts an HTML page into structural nodes.
// Headings, paragraphs, list items and tables are kept; navigation and
// scripts are dropped. Chunking is handled by the PostProcessor pipeline.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := extractTitle(page, raw.URI)
	page.Find("script, style, noscript, nav, footer, aside, svg, form").Remove()

	var nodes []domain.Node
	page.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if node, ok := toNode(s); ok {
			nodes = append(nodes, node)
		}
	})

	// Pages without block markup still carry text in the body
	if len(nodes) == 0 {
		if text := docutil.CollapseSpace(page.Find("body").Text()); text != "" {
			nodes = append(nodes, domain.Node{Type: domain.NodeParagraph, Text: text})
		}
	}

	raw = withDeclaredLanguage(raw, page)
	return docutil.NewDocument(raw, title, nodes, "html"), nil
}

func toNode(s *goquery.Selection) (domain.Node, bool) {
	tag := goquery.NodeName(s)

	// Content nested in a table or list item belongs to that container
	if s.ParentsFiltered("table, li").Length() > 0 {
		return domain.Node{}, false
	}

	switch tag {
	case "table":
		t := extractTable(s)
		if t == nil {
			return domain.Node{}, false
		}
		return domain.Node{Type: domain.NodeTable, Table: t}, true
	case "li":
		text := docutil.CollapseSpace(s.Text())
		return domain.Node{Type: domain.NodeListItem, Text: text}, text != ""
	case "p":
		text := docutil.CollapseSpace(s.Text())
		return domain.Node{Type: domain.NodeParagraph, Text: text}, text != ""
	default:
		text := docutil.CollapseSpace(s.Text())
		return domain.Node{Type: domain.NodeHeading, Text: text, Level: int(tag[1] - '0')}, text != ""
	}
}

// extractTable reads header and data rows. The header is the first row
// when it consists of th cells, or the thead row.
func extractTable(s *goquery.Selection) *domain.Table {
	t := &domain.Table{}
	s.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if !row.ParentsFiltered("table").First().IsSelection(s) {
			return
		}
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, docutil.CollapseSpace(cell.Text()))
		})
		if len(cells) == 0 {
			return
		}

		isHeader := row.ParentsFiltered("thead").Length() > 0 ||
			(row.Find("th").Length() > 0 && row.Find("td").Length() == 0)
		if isHeader && t.Header == nil && len(t.Rows) == 0 {
			t.Header = cells
			return
		}
		t.Rows = append(t.Rows, cells)
	})

	if t.Header == nil && len(t.Rows) == 0 {
		return nil
	}
	return t
}

// extractTitle uses the title tag, then the first h1, then the file name.
func extractTitle(page *goquery.Document, uri string) string {
	if title := docutil.CollapseSpace(page.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := docutil.CollapseSpace(page.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return docutil.TitleFromURI(uri)
}

// withDeclaredLanguage copies the html lang attribute into raw metadata
// unless the caller already declared a language.
func withDeclaredLanguage(raw *domain.RawDocument, page *goquery.Document) *domain.RawDocument {
	if raw.Metadata[domain.MetaLanguage] != "" {
		return raw
	}
	lang, ok := page.Find("html").Attr("lang")
	if !ok {
		return raw
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch {
	case strings.HasPrefix(lang, "he"), strings.HasPrefix(lang, "iw"):
		lang = domain.LanguageHebrew
	case strings.HasPrefix(lang, "en"):
		lang = domain.LanguageEnglish
	default:
		return raw
	}

	out := *raw
	out.Metadata = docutil.CopyMetadata(raw.Metadata)
	out.Metadata[domain.MetaLanguage] = lang
	return &out
}
