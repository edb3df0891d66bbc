package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
)

func TestParseQuestions_JSONList(t *testing.T) {
	data := []byte(`[
		{"id": 7, "question": "Is luggage covered?", "ground_truth": "Up to 2,000 NIS.", "domain": "travel"},
		{"question": "מה ההשתתפות העצמית?", "answer": "500 ש\"ח"}
	]`)

	records, errs, err := ParseQuestions(data)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, records, 2)
	assert.Equal(t, "7", records[0].ID)
	assert.Equal(t, "Travel", records[0].Domain)
	assert.Equal(t, `500 ש"ח`, records[1].GroundTruth)
}

func TestParseQuestions_YAML(t *testing.T) {
	data := []byte(`
- id: q1
  question: Is dental cleaning covered?
  ground_truth: Twice a year.
  domain: Dental
`)

	records, errs, err := ParseQuestions(data)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "Twice a year.", records[0].GroundTruth)
}

func TestParseQuestions_FAQShape(t *testing.T) {
	data := []byte(`{"faqs": [{"question": "Q1?", "answer": "A1."}, {"question": "Q2?", "answer": "A2."}]}`)

	records, errs, err := ParseQuestions(data)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, records, 2)
	assert.Equal(t, "A2.", records[1].GroundTruth)
}

func TestParseQuestions_MalformedRecordsFailAlone(t *testing.T) {
	data := []byte(`[
		{"question": "Valid?", "ground_truth": "Yes."},
		{"question": "", "ground_truth": "No question."},
		{"question": ["not", "a", "string"]},
		{"question": "Unknown domain?", "ground_truth": "Yes.", "domain": "Pets"}
	]`)

	records, errs, err := ParseQuestions(data)

	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Len(t, errs, 3)

	assert.Equal(t, 1, errs[0].Index)
	assert.Contains(t, errs[0].Error(), "question is required")
	assert.ErrorIs(t, errs[0], domain.ErrMalformedRecord)
	assert.Equal(t, 2, errs[1].Index)
	assert.Equal(t, 3, errs[2].Index)
	assert.Empty(t, records[3].Domain)
	assert.Equal(t, "Valid?", records[0].Question)
}

func TestParseQuestions_BadShape(t *testing.T) {
	for name, data := range map[string]string{
		"empty":   "",
		"scalar":  "42",
		"mapping": `{"questions": []}`,
		"syntax":  `[{"question": `,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseQuestions([]byte(data))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestParseDataset(t *testing.T) {
	data := []byte(`[
		{"question": "Q?", "answer": "A.", "contexts": ["ctx"], "ground_truth": "A."},
		{"question": "No reference", "answer": "A."}
	]`)

	records, errs, err := ParseDataset(data)

	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, errs, 1)
	assert.Empty(t, records[0].Status)
	assert.Equal(t, domain.StatusFailed, records[1].Status)
	assert.Contains(t, records[1].Error, "ground_truth is required")
	assert.NotNil(t, records[1].Contexts)

	_, _, err = ParseDataset([]byte(`{"not": "a list"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWriteAndLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "dataset.json")
	records := []domain.DatasetRecord{{
		Question:    "Is luggage covered?",
		Answer:      "Yes, up to 2,000 NIS.",
		Contexts:    []string{"Luggage is covered up to 2,000 NIS per trip."},
		GroundTruth: "Up to 2,000 NIS.",
		Status:      domain.StatusAnswered,
	}}

	require.NoError(t, WriteDataset(path, records))
	loaded, errs, err := LoadDataset(path)

	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, records, loaded)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	report := &domain.Report{RunID: "run-1", Weights: domain.DefaultWeights(), Questions: []domain.EvaluationRecord{}}

	require.NoError(t, WriteReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)
	assert.Contains(t, string(data), `"reserved": 0.2`)
}

func TestEncodeJSON_KeepsHTML(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, EncodeJSON(&buf, map[string]string{"a": "<b>&</b>"}))

	assert.Equal(t, "{\n  \"a\": \"<b>&</b>\"\n}\n", buf.String())
}
