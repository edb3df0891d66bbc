package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driving"
)

var (
	indexWorkers int
	indexType    string
	indexForce   bool
	indexReset   bool
	indexRebuild bool
	indexWatch   bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path...]",
	Short: "Index insurance documents",
	Long: `Indexes markdown, HTML, JSON and text files under the given paths.

Unchanged files are skipped. A changed file becomes a new document version;
the previous version leaves the index but stays stored so old citations
still resolve. With --watch, files are re-indexed as they change until
interrupted.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().IntVarP(&indexWorkers, "workers", "w", 0, "documents indexed concurrently (default from settings)")
	indexCmd.Flags().StringVarP(&indexType, "type", "t", "",
		"insurance type for documents whose path does not name one")
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-index unchanged documents")
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "clear the embedding index first")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false,
		"re-embed stored documents without reading the corpus")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep watching the paths for changes")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !indexReset && !indexRebuild {
		return errors.New("requires at least one path, --reset or --rebuild")
	}
	if indexWatch && len(args) == 0 {
		return errors.New("--watch requires at least one path")
	}

	ctx := commandContext(cmd)
	if err := requirePipeline(ctx); err != nil {
		return err
	}
	if indexingService == nil {
		return errors.New("indexing service not configured")
	}

	opts := driving.IndexOptions{Workers: indexWorkers, Force: indexForce}
	if indexType != "" {
		t, ok := domain.ParseInsuranceType(indexType)
		if !ok {
			return fmt.Errorf("unknown insurance type: %s", indexType)
		}
		opts.InsuranceType = string(t)
	}

	if indexReset {
		if err := indexingService.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset index: %w", err)
		}
		cmd.Println("Index cleared.")
	}

	if indexRebuild {
		report, err := indexingService.Rebuild(ctx, opts)
		if report != nil {
			printIndexReport(cmd, "Rebuilt", report)
		}
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
	}

	if len(args) == 0 {
		return nil
	}

	report, err := indexingService.IndexPaths(ctx, args, opts)
	if report != nil {
		printIndexReport(cmd, "Indexed", report)
	}
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if !indexWatch {
		return nil
	}

	cmd.Println("Watching for changes (Ctrl-C to stop)...")
	err = indexingService.Watch(ctx, args, opts, func(o driving.IndexOutcome) {
		printIndexOutcome(cmd, o)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}

func printIndexReport(cmd *cobra.Command, verb string, report *driving.IndexReport) {
	for _, o := range report.Outcomes {
		if o.Status == driving.IndexStatusFailed {
			printIndexOutcome(cmd, o)
		}
	}
	cmd.Printf("%s %d documents (%d unchanged, %d failed, %d chunks) in %s\n",
		verb, report.Indexed, report.Unchanged, report.Failed, report.Chunks,
		report.Duration.Round(time.Millisecond))
}

func printIndexOutcome(cmd *cobra.Command, o driving.IndexOutcome) {
	switch o.Status {
	case driving.IndexStatusFailed:
		cmd.Printf("  failed     %s: %v\n", o.URI, o.Err)
	case driving.IndexStatusIndexed:
		cmd.Printf("  indexed    %s (%d chunks)\n", o.URI, o.Chunks)
	default:
		cmd.Printf("  %-10s %s\n", o.Status, o.URI)
	}
}
