package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
)

// runCLI executes the root command with args and returns everything
// written to stdout and stderr. Flags are reset around every run because
// cobra binds them to package variables.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		resetFlags(rootCmd)
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testServices holds the mocks installed by setupTestServices.
type testServices struct {
	settings   *mockSettingsService
	documents  *mockDocumentService
	indexing   *mockIndexingService
	retrieval  *mockRetrievalService
	answers    *mockAnswerService
	evaluation *mockEvaluationService
}

// setupTestServices installs mock services and returns a cleanup function
// restoring the previous ones.
func setupTestServices() (*testServices, func()) {
	prev := struct {
		settings   driving.SettingsService
		documents  driving.DocumentService
		indexing   driving.IndexingService
		retrieval  driving.RetrievalService
		answers    driving.AnswerService
		evaluation driving.EvaluationService
	}{settingsService, documentService, indexingService, retrievalService, answerService, evaluationService}

	s := &testServices{
		settings:   newMockSettingsService(),
		documents:  newMockDocumentService(),
		indexing:   &mockIndexingService{},
		retrieval:  &mockRetrievalService{passages: testPassages()},
		answers:    &mockAnswerService{answer: testAnswer()},
		evaluation: newMockEvaluationService(),
	}
	settingsService = s.settings
	documentService = s.documents
	indexingService = s.indexing
	retrievalService = s.retrieval
	answerService = s.answers
	evaluationService = s.evaluation

	return s, func() {
		settingsService = prev.settings
		documentService = prev.documents
		indexingService = prev.indexing
		retrievalService = prev.retrieval
		answerService = prev.answers
		evaluationService = prev.evaluation
	}
}

// clearServices removes every service for the duration of a test.
func clearServices(t *testing.T) {
	t.Helper()
	_, cleanup := setupTestServices()
	t.Cleanup(cleanup)
	settingsService = nil
	documentService = nil
	indexingService = nil
	retrievalService = nil
	answerService = nil
	evaluationService = nil
}

func testChunk() domain.Chunk {
	return domain.Chunk{
		ID:         "chunk-1",
		DocumentID: "doc-1",
		Locator:    "Luggage > Limits",
		Content:    "Luggage is covered up to 2,000 NIS per trip.",
		Type:       domain.ChunkParagraph,
		Tokens:     9,
		Metadata:   map[string]string{domain.MetaInsuranceType: "Travel"},
	}
}

func testPassages() []domain.RetrievedPassage {
	return []domain.RetrievedPassage{{Chunk: testChunk(), Score: 0.82, Rank: 1}}
}

func testAnswer() *domain.Answer {
	c := testChunk()
	return &domain.Answer{
		Question: "Is luggage covered?",
		Language: "en",
		State:    domain.StateDone,
		Text:     "Luggage is covered up to 2,000 NIS per trip.",
		Segments: []domain.Segment{{
			Text:      "Luggage is covered up to 2,000 NIS per trip.",
			Kind:      domain.SegmentEvidence,
			Citations: []domain.Citation{c.Citation()},
		}},
		Passages: testPassages(),
		Trace: []domain.StateTransition{
			{From: domain.StateRetrieving, To: domain.StateGrounding},
			{From: domain.StateGrounding, To: domain.StateSynthesizing},
			{From: domain.StateSynthesizing, To: domain.StateVerifying},
			{From: domain.StateVerifying, To: domain.StateDone, Reason: "1 of 1 claims supported"},
		},
	}
}

func score(v float64) *float64 {
	return &v
}

func testReport(runID string, competition float64) *domain.Report {
	return &domain.Report{
		RunID:     runID,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Metrics: domain.Metrics{
			Faithfulness:     0.9,
			AnswerRelevancy:  0.8,
			ContextPrecision: 0.6,
			ContextRecall:    0.5,
		},
		CompetitionScore: competition,
		Weights:          domain.DefaultWeights(),
		Coverage:         domain.Coverage{Total: 2, Scored: 1, Failed: 1, Ratio: 0.5},
		Questions: []domain.EvaluationRecord{
			{Index: 0, ID: "q1", Question: "Is luggage covered?", Status: domain.StatusAnswered,
				WeightedScore: score(competition)},
			{Index: 1, ID: "q2", Question: "What is the deductible?", Status: domain.StatusFailed,
				Error: "embedding unavailable"},
		},
	}
}

// mockSettingsService is an in-memory SettingsService.
type mockSettingsService struct {
	settings    domain.AppSettings
	validateErr error
	pingErr     error
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{settings: domain.DefaultAppSettings()}
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(settings *domain.AppSettings) error {
	m.settings = *settings
	return nil
}

func (m *mockSettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	m.settings.Embedding = domain.EmbeddingSettings{Provider: provider, Model: model, APIKey: apiKey}
	return nil
}

func (m *mockSettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	m.settings.LLM = domain.LLMSettings{Provider: provider, Model: model, APIKey: apiKey}
	return nil
}

func (m *mockSettingsService) SetIndexBackend(backend domain.IndexBackend, address string) error {
	m.settings.Index.Backend = backend
	switch backend {
	case domain.IndexBackendMilvus:
		m.settings.Index.MilvusAddress = address
	case domain.IndexBackendRedis:
		m.settings.Index.RedisAddr = address
	}
	return nil
}

func (m *mockSettingsService) Validate() error {
	return m.validateErr
}

func (m *mockSettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

func (m *mockSettingsService) ValidateEmbeddingConfig() error {
	return m.pingErr
}

func (m *mockSettingsService) ValidateLLMConfig() error {
	return m.pingErr
}

// mockDocumentService serves one document with one chunk.
type mockDocumentService struct {
	docs   []domain.Document
	opened string
}

func newMockDocumentService() *mockDocumentService {
	return &mockDocumentService{docs: []domain.Document{
		{
			ID:        "doc-1",
			SourceURI: "/corpus/travel/policy.md",
			Language:  "en",
			Title:     "Travel policy",
			Metadata:  map[string]string{domain.MetaInsuranceType: "Travel"},
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:           "doc-0",
			SourceURI:    "/corpus/travel/policy.md",
			Title:        "Travel policy",
			SupersededBy: "doc-1",
		},
	}}
}

func (m *mockDocumentService) List(_ context.Context, all bool) ([]domain.Document, error) {
	var out []domain.Document
	for _, d := range m.docs {
		if all || d.IsLatest() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDocumentService) Get(_ context.Context, documentID string) (*domain.Document, error) {
	for i := range m.docs {
		if m.docs[i].ID == documentID {
			d := m.docs[i]
			return &d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if _, err := m.Get(ctx, documentID); err != nil {
		return nil, err
	}
	return []domain.Chunk{testChunk()}, nil
}

func (m *mockDocumentService) GetDetails(ctx context.Context, documentID string) (*driving.DocumentDetails, error) {
	d, err := m.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &driving.DocumentDetails{
		ID:            d.ID,
		Title:         d.Title,
		URI:           d.SourceURI,
		Language:      d.Language,
		InsuranceType: d.InsuranceType(),
		ChunkCount:    1,
		SupersededBy:  d.SupersededBy,
		CreatedAt:     d.CreatedAt,
		Metadata:      d.Metadata,
	}, nil
}

func (m *mockDocumentService) ResolveCitation(_ context.Context, citation domain.Citation) (*domain.Chunk, error) {
	c := testChunk()
	if citation.ChunkID != c.ID {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *mockDocumentService) GetContent(ctx context.Context, documentID string) (string, error) {
	if _, err := m.Get(ctx, documentID); err != nil {
		return "", err
	}
	return "# Travel policy\n\nLuggage is covered up to 2,000 NIS per trip.", nil
}

func (m *mockDocumentService) Open(ctx context.Context, documentID string) error {
	if _, err := m.Get(ctx, documentID); err != nil {
		return err
	}
	m.opened = documentID
	return nil
}

// mockIndexingService records its calls.
type mockIndexingService struct {
	paths     []string
	opts      driving.IndexOptions
	report    *driving.IndexReport
	err       error
	resets    int
	rebuilds  int
	watched   bool
	watchDone error
}

func (m *mockIndexingService) IndexPaths(
	_ context.Context, paths []string, opts driving.IndexOptions,
) (*driving.IndexReport, error) {
	m.paths = paths
	m.opts = opts
	if m.report != nil {
		return m.report, m.err
	}
	return &driving.IndexReport{
		Indexed: len(paths),
		Chunks:  3 * len(paths),
		Outcomes: []driving.IndexOutcome{
			{URI: paths[0], DocumentID: "doc-1", Status: driving.IndexStatusIndexed, Chunks: 3},
		},
	}, m.err
}

func (m *mockIndexingService) IndexDocument(
	_ context.Context, raw *domain.RawDocument, _ driving.IndexOptions,
) (driving.IndexOutcome, error) {
	return driving.IndexOutcome{URI: raw.URI, Status: driving.IndexStatusIndexed}, nil
}

func (m *mockIndexingService) RemoveSource(context.Context, string) error {
	return nil
}

func (m *mockIndexingService) Watch(
	_ context.Context, paths []string, _ driving.IndexOptions, onChange func(driving.IndexOutcome),
) error {
	m.watched = true
	onChange(driving.IndexOutcome{URI: paths[0], Status: driving.IndexStatusIndexed, Chunks: 2})
	onChange(driving.IndexOutcome{URI: paths[0], Status: driving.IndexStatusRemoved})
	return m.watchDone
}

func (m *mockIndexingService) Reset(context.Context) error {
	m.resets++
	return nil
}

func (m *mockIndexingService) Rebuild(_ context.Context, opts driving.IndexOptions) (*driving.IndexReport, error) {
	m.rebuilds++
	m.opts = opts
	return &driving.IndexReport{Indexed: 2, Chunks: 5}, nil
}

// mockRetrievalService returns fixed passages.
type mockRetrievalService struct {
	passages []domain.RetrievedPassage
	opts     domain.QueryOptions
}

func (m *mockRetrievalService) Retrieve(
	_ context.Context, _ string, opts domain.QueryOptions,
) ([]domain.RetrievedPassage, error) {
	m.opts = opts
	return m.passages, nil
}

// mockAnswerService returns a fixed answer.
type mockAnswerService struct {
	answer *domain.Answer
	err    error
	opts   domain.QueryOptions
}

func (m *mockAnswerService) Answer(_ context.Context, _ string, opts domain.QueryOptions) (*domain.Answer, error) {
	m.opts = opts
	return m.answer, m.err
}

// mockEvaluationService keeps reports in a map.
type mockEvaluationService struct {
	reports   map[string]*domain.Report
	order     []string
	questions []domain.QuestionRecord
	records   []domain.DatasetRecord
	partial   bool
}

func newMockEvaluationService() *mockEvaluationService {
	m := &mockEvaluationService{reports: map[string]*domain.Report{}}
	m.add(testReport("run-1", 0.61))
	m.add(testReport("run-2", 0.7))
	m.reports["run-2"].Questions[1].Status = domain.StatusAnswered
	m.reports["run-2"].Questions[1].WeightedScore = score(0.5)
	return m
}

func (m *mockEvaluationService) add(r *domain.Report) {
	m.reports[r.RunID] = r
	m.order = append(m.order, r.RunID)
}

func (m *mockEvaluationService) Run(
	_ context.Context, questions []domain.QuestionRecord,
) (*driving.EvaluationResult, error) {
	m.questions = questions
	report := testReport("run-new", 0.61)
	report.Partial = m.partial
	dataset := make([]domain.DatasetRecord, 0, len(questions))
	for _, q := range questions {
		dataset = append(dataset, domain.DatasetRecord{
			ID:          q.ID,
			Question:    q.Question,
			Answer:      "answer",
			Contexts:    []string{"context"},
			GroundTruth: q.GroundTruth,
			Status:      domain.StatusAnswered,
		})
	}
	return &driving.EvaluationResult{Report: report, Dataset: dataset}, nil
}

func (m *mockEvaluationService) ScoreDataset(
	_ context.Context, records []domain.DatasetRecord,
) (*domain.Report, error) {
	m.records = records
	return testReport("run-scored", 0.55), nil
}

func (m *mockEvaluationService) ListReports(_ context.Context, limit int) ([]domain.ReportSummary, error) {
	var out []domain.ReportSummary
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.reports[m.order[i]].Summary())
	}
	return out, nil
}

func (m *mockEvaluationService) GetReport(_ context.Context, runID string) (*domain.Report, error) {
	r, ok := m.reports[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}
