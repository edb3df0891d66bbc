package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/covera/internal/adapters/driven/dataset"
	"github.com/custodia-labs/covera/internal/core/domain"
)

var (
	reportLimit int
	reportJSON  bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect stored evaluation reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReportList,
}

var reportShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a stored report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

var reportDiffCmd = &cobra.Command{
	Use:   "diff [old-run-id] [new-run-id]",
	Short: "Compare two stored reports",
	Long: `Compares the aggregate metrics of two runs and lists the questions
whose status or weighted score changed.`,
	Args: cobra.ExactArgs(2),
	RunE: runReportDiff,
}

func init() {
	reportListCmd.Flags().IntVarP(&reportLimit, "limit", "n", 20, "maximum number of reports")
	for _, c := range []*cobra.Command{reportListCmd, reportShowCmd, reportDiffCmd} {
		c.Flags().BoolVar(&reportJSON, "json", false, "output as JSON")
	}

	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportDiffCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportList(cmd *cobra.Command, _ []string) error {
	if err := requireStorage(); err != nil {
		return err
	}
	if evaluationService == nil {
		return errors.New("evaluation service not configured")
	}

	summaries, err := evaluationService.ListReports(commandContext(cmd), reportLimit)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	if reportJSON {
		if summaries == nil {
			summaries = []domain.ReportSummary{}
		}
		return dataset.EncodeJSON(cmd.OutOrStdout(), summaries)
	}
	if len(summaries) == 0 {
		cmd.Println("No reports found.")
		return nil
	}

	cmd.Printf("%-36s  %-19s  %7s  %s\n", "RUN", "TIME", "SCORE", "SCORED")
	for _, s := range summaries {
		partial := ""
		if s.Partial {
			partial = " (partial)"
		}
		cmd.Printf("%-36s  %-19s  %7.4f  %d/%d%s\n",
			s.RunID, s.Timestamp.Local().Format("2006-01-02 15:04:05"),
			s.CompetitionScore, s.Scored, s.Total, partial)
	}
	return nil
}

func runReportShow(cmd *cobra.Command, args []string) error {
	if err := requireStorage(); err != nil {
		return err
	}
	if evaluationService == nil {
		return errors.New("evaluation service not configured")
	}

	report, err := evaluationService.GetReport(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}

	if reportJSON {
		return dataset.EncodeJSON(cmd.OutOrStdout(), report)
	}

	out := cmd.OutOrStdout()
	printReportSummary(out, report)
	printQuestions(out, report.Questions)
	return nil
}

func printQuestions(w io.Writer, records []domain.EvaluationRecord) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i := range records {
		r := &records[i]
		score := "   -  "
		if r.WeightedScore != nil {
			score = fmt.Sprintf("%.4f", *r.WeightedScore)
		}
		fmt.Fprintf(w, "  %3d  %-8s  %s  %s\n", r.Index+1, r.Status, score, snippet(r.Question, 80))
		if r.Error != "" {
			fmt.Fprintf(w, "       %s\n", r.Error)
		}
	}
}

func runReportDiff(cmd *cobra.Command, args []string) error {
	if err := requireStorage(); err != nil {
		return err
	}
	if evaluationService == nil {
		return errors.New("evaluation service not configured")
	}

	ctx := commandContext(cmd)
	before, err := evaluationService.GetReport(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get report %s: %w", args[0], err)
	}
	after, err := evaluationService.GetReport(ctx, args[1])
	if err != nil {
		return fmt.Errorf("failed to get report %s: %w", args[1], err)
	}

	diff := domain.DiffReports(before, after)
	if reportJSON {
		return dataset.EncodeJSON(cmd.OutOrStdout(), diff)
	}

	cmd.Printf("%s -> %s\n\n", diff.From, diff.To)
	for _, m := range append([]domain.MetricDelta{diff.CompetitionScore}, diff.Metrics...) {
		cmd.Printf("  %-18s %.4f -> %.4f  (%+.4f)\n", m.Name, m.Before, m.After, m.Delta)
	}

	if len(diff.Questions) == 0 {
		cmd.Println("\nNo question changed.")
		return nil
	}
	cmd.Printf("\nChanged questions (%d):\n", len(diff.Questions))
	for _, q := range diff.Questions {
		cmd.Printf("  %-10s %s -> %s  %s\n", q.ID, formatScore(q.Before, q.StatusBefore),
			formatScore(q.After, q.StatusAfter), snippet(q.Question, 60))
	}
	return nil
}

// formatScore renders a weighted score, or the status when unscored.
func formatScore(v *float64, status domain.RecordStatus) string {
	if v != nil {
		return fmt.Sprintf("%.4f", *v)
	}
	if status == "" {
		return "absent"
	}
	return string(status)
}
