// Package jsondoc normalises JSON corpus files: FAQ exports, Docling
// documents, and arbitrary JSON carrying "text" fields.
package jsondoc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/normalisers/docutil"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// maxRefDepth bounds Docling group nesting.
const maxRefDepth = 32

// Normaliser handles JSON documents.
type Normaliser struct{}

// New creates a new JSON normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"application/json"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50
}

// Normalise converts a JSON document into structural nodes.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	var data any
	if err := json.Unmarshal(raw.Content, &data); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", domain.ErrInvalidInput, err)
	}

	var nodes []domain.Node
	format := "json"
	obj, _ := data.(map[string]any)
	switch {
	case obj != nil && obj["faqs"] != nil:
		nodes = faqNodes(obj)
		format = "faq"
	case obj != nil && obj["texts"] != nil:
		nodes = doclingNodes(obj)
		format = "docling"
	default:
		nodes = genericNodes(data, nil)
	}

	title := ""
	if obj != nil {
		title, _ = obj["title"].(string)
		if title == "" {
			title, _ = obj["name"].(string)
		}
	}
	if title == "" {
		for _, node := range nodes {
			if node.Type == domain.NodeHeading {
				title = node.Text
				break
			}
		}
	}
	if title == "" {
		title = docutil.TitleFromURI(raw.URI)
	}

	return docutil.NewDocument(raw, docutil.CollapseSpace(title), nodes, format), nil
}

// faqNodes emits one clause per question and answer pair.
func faqNodes(obj map[string]any) []domain.Node {
	faqs, _ := obj["faqs"].([]any)
	nodes := make([]domain.Node, 0, len(faqs))
	for _, item := range faqs {
		faq, ok := item.(map[string]any)
		if !ok {
			continue
		}
		question := cleanText(stringField(faq, "question"))
		answer := cleanText(stringField(faq, "answer_text"))
		if answer == "" {
			answer = cleanText(stringField(faq, "answer"))
		}
		if question == "" && answer == "" {
			continue
		}
		nodes = append(nodes, domain.Node{
			Type: domain.NodeClause,
			Text: strings.TrimSpace(question + "\n" + answer),
		})
	}
	return nodes
}

// doclingNodes follows the body reading order when present, else emits
// texts followed by tables.
func doclingNodes(obj map[string]any) []domain.Node {
	d := &docling{obj: obj}
	if body, ok := obj["body"].(map[string]any); ok {
		d.children(body, 0)
		if len(d.nodes) > 0 {
			return d.nodes
		}
	}
	for _, item := range asList(obj["texts"]) {
		d.item("texts", item)
	}
	for _, item := range asList(obj["tables"]) {
		d.item("tables", item)
	}
	return d.nodes
}

type docling struct {
	obj   map[string]any
	nodes []domain.Node
}

func (d *docling) children(parent map[string]any, depth int) {
	if depth > maxRefDepth {
		return
	}
	for _, child := range asList(parent["children"]) {
		ref, ok := child.(map[string]any)
		if !ok {
			continue
		}
		target, _ := ref["$ref"].(string)
		kind, item := d.resolve(target)
		if item == nil {
			continue
		}
		if kind == "groups" {
			d.children(item, depth+1)
			continue
		}
		d.item(kind, item)
		d.children(item, depth+1)
	}
}

// resolve looks up a JSON pointer of the form "#/texts/3".
func (d *docling) resolve(ref string) (string, map[string]any) {
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	if len(parts) != 2 {
		return "", nil
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil
	}
	list := asList(d.obj[parts[0]])
	if idx < 0 || idx >= len(list) {
		return "", nil
	}
	item, _ := list[idx].(map[string]any)
	return parts[0], item
}

func (d *docling) item(kind string, v any) {
	item, ok := v.(map[string]any)
	if !ok {
		return
	}
	if kind == "tables" {
		if t := doclingTable(item); t != nil {
			d.nodes = append(d.nodes, domain.Node{Type: domain.NodeTable, Table: t})
		}
		return
	}

	text := cleanText(stringField(item, "text"))
	if text == "" {
		return
	}
	node := domain.Node{Text: text, Locator: doclingPage(item)}
	switch stringField(item, "label") {
	case "title":
		node.Type, node.Level = domain.NodeHeading, 1
	case "section_header":
		node.Type, node.Level = domain.NodeHeading, 2
		if lvl, ok := item["level"].(float64); ok && lvl > 0 {
			node.Level = int(lvl) + 1
		}
	case "list_item":
		node.Type = domain.NodeListItem
	case "page_header", "page_footer":
		return
	default:
		node = docutil.TextNode(text)
		node.Locator = doclingPage(item)
	}
	d.nodes = append(d.nodes, node)
}

// doclingTable reads data.grid, using the first row as header.
func doclingTable(item map[string]any) *domain.Table {
	data, _ := item["data"].(map[string]any)
	grid := asList(data["grid"])
	var rows [][]string
	for _, r := range grid {
		var cells []string
		for _, c := range asList(r) {
			cell, _ := c.(map[string]any)
			cells = append(cells, cleanText(stringField(cell, "text")))
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &domain.Table{Header: rows[0], Rows: rows[1:]}
}

func doclingPage(item map[string]any) string {
	for _, p := range asList(item["prov"]) {
		prov, _ := p.(map[string]any)
		if page, ok := prov["page_no"].(float64); ok {
			return fmt.Sprintf("page %d", int(page))
		}
	}
	return ""
}

// genericNodes collects every "text" string in document order, visiting
// object keys sorted.
func genericNodes(v any, nodes []domain.Node) []domain.Node {
	switch val := v.(type) {
	case map[string]any:
		if s, ok := val["text"].(string); ok {
			if text := cleanText(s); text != "" {
				nodes = append(nodes, docutil.TextNode(text))
			}
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "text" {
				continue
			}
			nodes = genericNodes(val[k], nodes)
		}
	case []any:
		for _, item := range val {
			nodes = genericNodes(item, nodes)
		}
	}
	return nodes
}

var invisible = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "",
	"\ufeff", "", "\u2028", "", "\u2029", "", "\u00a0", " ",
)

// cleanText strips markup and invisible characters.
func cleanText(s string) string {
	s = invisible.Replace(s)
	if strings.Contains(s, "<") {
		if page, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			var lines []string
			page.Find("p, li, div").Each(func(_ int, sel *goquery.Selection) {
				if sel.Children().Filter("p, li, div, ul, ol").Length() > 0 {
					return
				}
				if t := docutil.CollapseSpace(sel.Text()); t != "" {
					lines = append(lines, t)
				}
			})
			if len(lines) == 0 {
				return docutil.CollapseSpace(page.Text())
			}
			return strings.Join(lines, "\n")
		}
	}
	return strings.TrimSpace(s)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}
