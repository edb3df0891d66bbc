package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	return &Document{
		ID:        "doc-1",
		SourceURI: "file:///corpus/insurance/car/policy.html",
		Language:  LanguageEnglish,
		Title:     "Car policy",
		Metadata:  map[string]string{MetaInsuranceType: "Car"},
		Nodes: []Node{
			{Type: NodeHeading, Text: "Coverage", Level: 1},
			{Type: NodeParagraph, Text: "The policy covers collision damage."},
			{Type: NodeTable, Table: &Table{
				Header: []string{"Item", "Limit"},
				Rows:   [][]string{{"Towing", "500"}, {"Glass", "1,200"}},
			}},
		},
	}
}

// TestNode_Render tests text rendering of nodes
func TestNode_Render(t *testing.T) {
	doc := sampleDocument()

	assert.Equal(t, "Coverage", doc.Nodes[0].Render())
	assert.Equal(t, "Item | Limit\nTowing | 500\nGlass | 1,200", doc.Nodes[2].Render())

	bare := Node{Type: NodeTable}
	assert.Empty(t, bare.Render())
}

// TestDocument_Text tests full-text rendering
func TestDocument_Text(t *testing.T) {
	doc := sampleDocument()

	expected := "Coverage\nThe policy covers collision damage.\nItem | Limit\nTowing | 500\nGlass | 1,200"
	assert.Equal(t, expected, doc.Text())
	assert.True(t, doc.IsLatest())
	assert.Equal(t, "Car", doc.InsuranceType())

	doc.SupersededBy = "doc-2"
	assert.False(t, doc.IsLatest())

	empty := &Document{}
	assert.Empty(t, empty.InsuranceType())
}

// TestChunk_BodyText tests removal of repeated table headers
func TestChunk_BodyText(t *testing.T) {
	chunk := Chunk{Content: TableHeaderMarker + "Item | Limit\nGlass | 1,200"}
	assert.Equal(t, "Glass | 1,200", chunk.BodyText())

	plain := Chunk{Content: "Item | Limit\nTowing | 500"}
	assert.Equal(t, plain.Content, plain.BodyText())
}

// TestReconstructText tests that chunk bodies join back into document text
func TestReconstructText(t *testing.T) {
	chunks := []Chunk{
		{Content: "Coverage\nThe policy covers collision damage."},
		{Content: "Item | Limit\nTowing | 500"},
		{Content: TableHeaderMarker + "Item | Limit\nGlass | 1,200"},
	}

	assert.Equal(t, sampleDocument().Text(), ReconstructText(chunks))
}

// TestReconstructText_PositionOrder tests that slice order does not matter
func TestReconstructText_PositionOrder(t *testing.T) {
	chunks := []Chunk{
		{Position: 2, Content: TableHeaderMarker + "Item | Limit\nGlass | 1,200"},
		{Position: 0, Content: "Coverage\nThe policy covers collision damage."},
		{Position: 1, Content: "Item | Limit\nTowing | 500"},
	}

	assert.Equal(t, sampleDocument().Text(), ReconstructText(chunks))
	assert.Equal(t, 2, chunks[0].Position)
}

// TestChunk_Citation tests citation construction
func TestChunk_Citation(t *testing.T) {
	chunk := Chunk{ID: "c1", DocumentID: "d1", Locator: "Coverage > paragraph 1"}

	c := chunk.Citation()
	require.Equal(t, "c1", c.ChunkID)
	assert.Equal(t, "d1", c.DocumentID)
	assert.Equal(t, "Coverage > paragraph 1", c.Locator)
}
