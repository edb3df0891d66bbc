package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/adapters/driven/dataset"
	"github.com/custodia-labs/covera/internal/core/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const questionSet = `[
	{"id": "q1", "question": "Is luggage covered?", "ground_truth": "Up to 2,000 NIS.", "domain": "travel"},
	{"id": "q2", "question": "", "ground_truth": "Missing question."}
]`

func TestEvaluateCmd_RequiresInput(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "evaluate")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "questions")
	assert.Contains(t, err.Error(), "dataset")
}

func TestEvaluateCmd_InputsAreExclusive(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "evaluate", "--questions", "a.json", "--dataset", "b.json")

	assert.Error(t, err)
}

func TestEvaluateCmd_Questions(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	path := writeFile(t, "questions.json", questionSet)

	out, err := runCLI(t, "evaluate", "--questions", path)

	require.NoError(t, err)
	require.Len(t, services.evaluation.questions, 2)
	assert.Equal(t, "Travel", services.evaluation.questions[0].Domain)
	assert.Contains(t, out, "[WARN] Malformed record 2 (q2)")
	assert.Contains(t, out, "Evaluation run-new")
	assert.Contains(t, out, "Competition score")
	assert.Contains(t, out, "0.6100")
	assert.Contains(t, out, "relevancy 0.65, context 0.15, reserved 0.20")
	assert.Contains(t, out, "1/2 scored (50%)")
	assert.Contains(t, out, "1 failed, 0 skipped")
	assert.NotContains(t, out, "(partial)")
}

func TestEvaluateCmd_PartialRun(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	services.evaluation.partial = true
	path := writeFile(t, "questions.json", questionSet)

	out, err := runCLI(t, "evaluate", "-q", path)

	require.NoError(t, err)
	assert.Contains(t, out, "(partial)")
}

func TestEvaluateCmd_WritesReportAndDataset(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()
	path := writeFile(t, "questions.yaml", "- question: Is luggage covered?\n  ground_truth: Up to 2,000 NIS.\n")
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "reports", "run.json")
	datasetPath := filepath.Join(dir, "dataset.json")

	_, err := runCLI(t, "evaluate", "-q", path, "--out", reportPath, "--dataset-out", datasetPath, "-c", "2")
	require.NoError(t, err)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report domain.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "run-new", report.RunID)
	assert.InDelta(t, 0.2, report.Weights.Reserved, 1e-9)

	records, errs, err := dataset.LoadDataset(datasetPath)
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "Is luggage covered?", records[0].Question)
}

func TestEvaluateCmd_JSON(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()
	path := writeFile(t, "questions.json", questionSet)

	out, err := runCLI(t, "evaluate", "-q", path, "--json")
	require.NoError(t, err)

	// Warnings precede the JSON document on the shared buffer.
	start := bytes.IndexByte([]byte(out), '{')
	require.GreaterOrEqual(t, start, 0)
	var report domain.Report
	require.NoError(t, json.Unmarshal([]byte(out[start:]), &report))
	assert.Equal(t, 0.61, report.CompetitionScore)
	assert.Len(t, report.Questions, 2)
}

func TestEvaluateCmd_Dataset(t *testing.T) {
	services, cleanup := setupTestServices()
	defer cleanup()
	path := writeFile(t, "dataset.json", `[
		{"question": "Q?", "answer": "A.", "contexts": ["A."], "ground_truth": "A."},
		{"question": "No reference", "answer": "A."}
	]`)

	out, err := runCLI(t, "evaluate", "--dataset", path)

	require.NoError(t, err)
	require.Len(t, services.evaluation.records, 2)
	assert.Equal(t, domain.StatusFailed, services.evaluation.records[1].Status)
	assert.Nil(t, services.evaluation.questions)
	assert.Contains(t, out, "Evaluation run-scored")
}

func TestEvaluateCmd_BadFile(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "evaluate", "-q", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := writeFile(t, "questions.json", `{"questions": []}`)
	_, err = runCLI(t, "evaluate", "-q", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEvaluateCmd_NegativeConcurrency(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := runCLI(t, "evaluate", "-q", "x.json", "-c", "-2")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--concurrency must not be negative")
}

func TestEvaluateCmd_ServiceNotConfigured(t *testing.T) {
	clearServices(t)
	path := writeFile(t, "questions.json", questionSet)

	_, err := runCLI(t, "evaluate", "-q", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluation service not configured")
}

func TestPrintReportSummary_PlainForBuffers(t *testing.T) {
	var buf bytes.Buffer

	printReportSummary(&buf, testReport("run-9", 0.3))

	out := buf.String()
	assert.Contains(t, out, "Evaluation run-9")
	assert.Contains(t, out, "0.3000")
	assert.NotContains(t, out, "\x1b[")
}
