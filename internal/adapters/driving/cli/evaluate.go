package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/covera/internal/adapters/driven/dataset"
	"github.com/custodia-labs/covera/internal/adapters/driving/cli/styles"
	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/logger"
)

var (
	evalQuestions   string
	evalDataset     string
	evalConcurrency int
	evalOut         string
	evalDatasetOut  string
	evalJSON        bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score answer quality against a reference question set",
	Long: `Answers every question of a reference set and scores the results.

The competition score is 0.65 x answer relevancy plus 0.15 x the mean of
context precision and recall. The remaining 0.20 is reserved and reported
separately. Faithfulness is reported but not weighted.

With --dataset, pre-generated records are scored without running the
answer pipeline. Interrupting a run stops new questions and still writes
a partial report of what finished.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVarP(&evalQuestions, "questions", "q", "",
		"reference question set (JSON or YAML)")
	evaluateCmd.Flags().StringVarP(&evalDataset, "dataset", "d", "",
		"pre-generated dataset to score instead of answering")
	evaluateCmd.Flags().IntVarP(&evalConcurrency, "concurrency", "c", 0,
		"questions evaluated concurrently (default from settings)")
	evaluateCmd.Flags().StringVarP(&evalOut, "out", "o", "", "write the report JSON to this file (- for stdout)")
	evaluateCmd.Flags().StringVar(&evalDatasetOut, "dataset-out", "", "write the generated dataset to this file")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON instead of a summary")
	evaluateCmd.MarkFlagsMutuallyExclusive("questions", "dataset")
	evaluateCmd.MarkFlagsOneRequired("questions", "dataset")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	if evalConcurrency < 0 {
		return errors.New("--concurrency must not be negative")
	}

	var (
		report *domain.Report
		err    error
	)
	if evalDataset != "" {
		report, err = scoreDataset(cmd)
	} else {
		report, err = answerAndScore(cmd)
	}
	if err != nil {
		return err
	}

	if evalOut != "" {
		if err := dataset.WriteReport(evalOut, report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if evalOut != "-" {
			logger.Info("Report written to %s", evalOut)
		}
	}
	switch {
	case evalOut == "-":
	case evalJSON:
		return dataset.EncodeJSON(cmd.OutOrStdout(), report)
	default:
		printReportSummary(cmd.OutOrStdout(), report)
	}
	return nil
}

func answerAndScore(cmd *cobra.Command) (*domain.Report, error) {
	questions, recordErrs, err := dataset.LoadQuestions(evalQuestions)
	if err != nil {
		return nil, err
	}
	warnRecords(recordErrs)

	ctx := commandContext(cmd)
	if err := requirePipeline(ctx); err != nil {
		return nil, err
	}
	if evaluationService == nil {
		return nil, errors.New("evaluation service not configured")
	}

	result, err := evaluationService.Run(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	if evalDatasetOut != "" {
		if err := dataset.WriteDataset(evalDatasetOut, result.Dataset); err != nil {
			return nil, fmt.Errorf("failed to write dataset: %w", err)
		}
		logger.Info("Dataset written to %s", evalDatasetOut)
	}
	return result.Report, nil
}

func scoreDataset(cmd *cobra.Command) (*domain.Report, error) {
	records, recordErrs, err := dataset.LoadDataset(evalDataset)
	if err != nil {
		return nil, err
	}
	warnRecords(recordErrs)

	ctx := commandContext(cmd)
	// The pipeline adds embedding relevancy and the judge; without it the
	// lexical scorer still runs.
	if err := requirePipeline(ctx); err != nil {
		logger.Warn("Scoring without AI providers: %v", err)
		if err := requireStorage(); err != nil {
			return nil, err
		}
	}
	if evaluationService == nil {
		return nil, errors.New("evaluation service not configured")
	}

	report, err := evaluationService.ScoreDataset(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	return report, nil
}

func warnRecords(errs []*dataset.RecordError) {
	for _, e := range errs {
		logger.Warn("Malformed %v", e)
	}
}

// summaryStyles colours the summary only when w is a terminal.
func summaryStyles(w io.Writer) *styles.Styles {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return styles.DefaultStyles()
	}
	return styles.Plain()
}

func printReportSummary(w io.Writer, r *domain.Report) {
	s := summaryStyles(w)

	title := "Evaluation " + r.RunID
	if r.Partial {
		title += " " + s.Warning.Render("(partial)")
	}

	row := func(label, value string) string {
		return s.Label.Render(label) + value
	}
	rows := []string{
		s.Title.Render(title),
		s.Muted.Render(r.Timestamp.Local().Format("2006-01-02 15:04:05")),
		"",
		row("Competition score", s.Score(r.CompetitionScore)),
		"",
		row("Answer relevancy", s.Score(r.Metrics.AnswerRelevancy)),
		row("Context precision", s.Score(r.Metrics.ContextPrecision)),
		row("Context recall", s.Score(r.Metrics.ContextRecall)),
		row("Faithfulness", s.Score(r.Metrics.Faithfulness)),
		"",
		row("Weights", fmt.Sprintf("relevancy %.2f, context %.2f, reserved %.2f",
			r.Weights.AnswerRelevancy, r.Weights.Context, r.Weights.Reserved)),
		row("Coverage", fmt.Sprintf("%d/%d scored (%.0f%%)",
			r.Coverage.Scored, r.Coverage.Total, r.Coverage.Ratio*100)),
	}
	if r.Coverage.Fallback > 0 {
		rows = append(rows, row("Fallback", fmt.Sprintf("%d", r.Coverage.Fallback)))
	}
	if n := r.Coverage.Failed + r.Coverage.Skipped; n > 0 {
		rows = append(rows, row("Not scored", s.Warning.Render(
			fmt.Sprintf("%d failed, %d skipped", r.Coverage.Failed, r.Coverage.Skipped))))
	}

	fmt.Fprintln(w, s.Box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}
