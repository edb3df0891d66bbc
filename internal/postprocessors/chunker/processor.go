// Package chunker provides a structure-preserving chunking processor.
package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/logger"
)

// DefaultMaxTokens is the default upper bound of tokens per chunk.
const DefaultMaxTokens = 256

// DefaultMinTokens is the default size below which chunks are merged.
const DefaultMinTokens = 32

// Namespace is the UUIDv5 namespace of chunk IDs.
var Namespace = uuid.MustParse("6f1c3a52-8d0e-5b6a-9c1f-2e7d4b9a0c31")

// Processor splits documents into chunks along structural node boundaries.
// It implements the PostProcessor interface.
//
// Table rows and clauses are never split. Paragraphs and list items that
// exceed the maximum are split at sentence boundaries, and a single
// oversized sentence at word boundaries.
type Processor struct {
	maxTokens int
	minTokens int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithMaxTokens sets the maximum tokens per chunk.
func WithMaxTokens(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithMinTokens sets the size below which adjacent chunks are merged.
func WithMinTokens(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.minTokens = n
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		maxTokens: DefaultMaxTokens,
		minTokens: DefaultMinTokens,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure merging can never be forced past the maximum
	if p.minTokens >= p.maxTokens {
		p.minTokens = p.maxTokens / 8
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// ChunkID derives the deterministic ID of the chunk at path in a document.
func ChunkID(documentID, path string) string {
	return uuid.NewSHA1(Namespace, []byte(documentID+"/"+path)).String()
}

// Process splits the document nodes into chunks.
// Input chunks are ignored; this processor creates new chunks from document nodes.
func (p *Processor) Process(ctx context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil, nil
	}

	b := &builder{max: p.maxTokens, counts: make(map[domain.NodeType]int)}
	for i := range doc.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.add(i, doc.Nodes[i])
	}
	b.flushHeading()

	pieces := p.merge(b.pieces)

	chunks := make([]domain.Chunk, 0, len(pieces))
	for i := range pieces {
		pc := &pieces[i]
		meta := make(map[string]string)
		if pc.section != "" {
			meta[domain.MetaSection] = pc.section
		}
		path := pc.path()
		chunks = append(chunks, domain.Chunk{
			ID:         ChunkID(doc.ID, path),
			DocumentID: doc.ID,
			Locator:    pc.locator(),
			Path:       path,
			Content:    pc.content,
			Type:       pc.typ,
			Position:   i,
			Tokens:     pc.tokens,
			Metadata:   meta,
		})
	}

	logger.Debug("chunker: %s -> %d chunks (%d pieces before merge)", doc.ID, len(chunks), len(b.pieces))
	return chunks, nil
}

// merge joins chunks below the minimum into the preceding chunk of the
// same type, section and page when the result stays within the maximum.
func (p *Processor) merge(pieces []piece) []piece {
	out := make([]piece, 0, len(pieces))
	for _, pc := range pieces {
		if n := len(out); n > 0 {
			prev := &out[n-1]
			small := prev.tokens < p.minTokens || pc.tokens < p.minTokens
			if small && prev.mergeableWith(&pc) && prev.tokens+pc.tokens <= p.maxTokens {
				prev.content += "\n" + pc.content
				prev.tokens = domain.CountTokens(prev.content)
				prev.endPath = pc.startPath
				prev.endLabel = pc.startLabel
				continue
			}
		}
		out = append(out, pc)
	}
	return out
}

// piece is a chunk under construction.
type piece struct {
	typ        domain.ChunkType
	page       string
	section    string
	startPath  string
	endPath    string
	startLabel string
	endLabel   string
	content    string
	tokens     int
}

func (pc *piece) path() string {
	if pc.endPath == "" {
		return pc.startPath
	}
	return pc.startPath + "+" + pc.endPath
}

func (pc *piece) locator() string {
	label := pc.startLabel
	if pc.endLabel != "" {
		label += " - " + pc.endLabel
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{pc.page, pc.section, label} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " > ")
}

func (pc *piece) mergeableWith(next *piece) bool {
	if pc.typ != next.typ || pc.section != next.section || pc.page != next.page {
		return false
	}
	return pc.typ != domain.ChunkTableRow && pc.typ != domain.ChunkHeading
}

// builder walks nodes in order and tracks the current section.
type builder struct {
	max     int
	section string

	// heading is the pending section heading, prepended to the first body
	// chunk of its section.
	heading     string
	headingPath string
	headingPage string

	counts map[domain.NodeType]int
	pieces []piece
}

func (b *builder) add(i int, node domain.Node) {
	if strings.TrimSpace(node.Render()) == "" {
		return
	}

	switch node.Type {
	case domain.NodeHeading:
		b.flushHeading()
		b.section = strings.TrimSpace(node.Text)
		b.heading = b.section
		b.headingPath = fmt.Sprintf("n%d", i)
		b.headingPage = node.Locator
		b.counts = make(map[domain.NodeType]int)
	case domain.NodeTable:
		if node.Table == nil {
			b.addText(i, node)
			return
		}
		b.addTable(i, node)
	default:
		b.addText(i, node)
	}
}

// flushHeading emits a pending heading as its own chunk. This only
// happens for sections without body.
func (b *builder) flushHeading() {
	if b.heading == "" {
		return
	}
	b.emit(piece{
		typ:        domain.ChunkHeading,
		page:       b.headingPage,
		startPath:  b.headingPath,
		startLabel: "heading",
		content:    b.heading,
	})
	b.heading = ""
}

func (b *builder) takeHeading() string {
	h := b.heading
	b.heading = ""
	return h
}

func (b *builder) emit(pc piece) {
	pc.section = b.section
	pc.tokens = domain.CountTokens(pc.content)
	b.pieces = append(b.pieces, pc)
}

func (b *builder) addText(i int, node domain.Node) {
	typ := chunkType(node.Type)
	b.counts[node.Type]++
	label := fmt.Sprintf("%s %d", nodeLabel(node.Type), b.counts[node.Type])
	path := fmt.Sprintf("n%d", i)
	text := strings.TrimSpace(node.Text)

	heading := b.takeHeading()
	full := joinLines(heading, text)
	if domain.CountTokens(full) <= b.max || typ == domain.ChunkClause {
		if typ == domain.ChunkClause && domain.CountTokens(full) > b.max {
			logger.Debug("chunker: clause %s exceeds %d tokens, kept whole", path, b.max)
		}
		b.emit(piece{typ: typ, page: node.Locator, startPath: path, startLabel: label, content: full})
		return
	}

	reserve := domain.CountTokens(heading)
	parts := splitText(text, b.max, reserve)
	if heading != "" && domain.CountTokens(parts[0])+reserve > b.max {
		b.heading = heading
		b.flushHeading()
		heading = ""
	}

	for j, part := range parts {
		content := part
		if j == 0 {
			content = joinLines(heading, part)
		}
		b.emit(piece{
			typ:        typ,
			page:       node.Locator,
			startPath:  fmt.Sprintf("%s/p%d", path, j),
			startLabel: fmt.Sprintf("%s, part %d", label, j+1),
			content:    content,
		})
	}
}

// addTable emits row groups. The first group carries the header as
// document text; later groups repeat it behind TableHeaderMarker.
func (b *builder) addTable(i int, node domain.Node) {
	t := node.Table
	b.counts[domain.NodeTable]++
	label := fmt.Sprintf("table %d", b.counts[domain.NodeTable])
	heading := b.takeHeading()

	header := ""
	if len(t.Header) > 0 {
		header = domain.RenderRow(t.Header)
	}

	if len(t.Rows) == 0 {
		b.emit(piece{
			typ:        domain.ChunkTableRow,
			page:       node.Locator,
			startPath:  fmt.Sprintf("n%d", i),
			startLabel: label,
			content:    joinLines(heading, header),
		})
		return
	}

	for start := 0; start < len(t.Rows); {
		var lines []string
		if start == 0 {
			lines = appendNonEmpty(lines, heading, header)
		} else if header != "" {
			lines = append(lines, domain.TableHeaderMarker+header)
		}
		used := domain.CountTokens(strings.Join(lines, "\n"))

		end := start
		for end < len(t.Rows) {
			row := domain.RenderRow(t.Rows[end])
			n := domain.CountTokens(row)
			if end > start && used+n > b.max {
				break
			}
			lines = append(lines, row)
			used += n
			end++
		}
		if used > b.max {
			logger.Debug("chunker: table row n%d/r%d exceeds %d tokens, kept whole", i, start, b.max)
		}

		b.emit(piece{
			typ:        domain.ChunkTableRow,
			page:       node.Locator,
			startPath:  fmt.Sprintf("n%d/r%d-%d", i, start, end-1),
			startLabel: fmt.Sprintf("%s, rows %d-%d", label, start+1, end),
			content:    strings.Join(lines, "\n"),
		})
		start = end
	}
}

// splitText packs sentences into parts of at most limit tokens. The first
// part leaves room for reserve tokens.
func splitText(text string, limit, reserve int) []string {
	var parts []string
	var cur []string
	curTokens := 0
	budget := limit - reserve

	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.Join(cur, " "))
		}
		cur = nil
		curTokens = 0
		budget = limit
	}

	for _, sentence := range domain.SplitSentences(text) {
		for _, unit := range fitWords(sentence, limit) {
			n := domain.CountTokens(unit)
			if curTokens+n > budget {
				flush()
			}
			cur = append(cur, unit)
			curTokens += n
		}
	}
	flush()

	return parts
}

// fitWords splits a sentence longer than limit tokens at word boundaries.
func fitWords(sentence string, limit int) []string {
	words := strings.Fields(sentence)
	if len(words) <= limit {
		return []string{sentence}
	}
	out := make([]string, 0, len(words)/limit+1)
	for len(words) > 0 {
		n := min(limit, len(words))
		out = append(out, strings.Join(words[:n], " "))
		words = words[n:]
	}
	return out
}

func chunkType(t domain.NodeType) domain.ChunkType {
	switch t {
	case domain.NodeClause:
		return domain.ChunkClause
	case domain.NodeListItem:
		return domain.ChunkListItem
	case domain.NodeTable:
		return domain.ChunkTableRow
	case domain.NodeHeading:
		return domain.ChunkHeading
	default:
		return domain.ChunkParagraph
	}
}

func nodeLabel(t domain.NodeType) string {
	switch t {
	case domain.NodeClause:
		return "clause"
	case domain.NodeListItem:
		return "item"
	default:
		return "paragraph"
	}
}

func joinLines(parts ...string) string {
	return strings.Join(appendNonEmpty(nil, parts...), "\n")
}

func appendNonEmpty(dst []string, parts ...string) []string {
	for _, p := range parts {
		if p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}
