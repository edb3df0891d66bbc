// Package cli implements the covera command line.
//
// Commands drive the core through the driving ports held in package
// variables. Execute builds those services lazily, per command, from the
// settings on disk; tests assign them directly.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/covera/internal/core/ports/driving"
	"github.com/custodia-labs/covera/internal/logger"
)

// version is set at build time with -ldflags "-X ...cli.version=v1.2.3".
var version = "dev"

// Global flags.
var (
	verbose   bool
	configDir string
	dataDir   string
)

// Services driven by the commands.
var (
	settingsService   driving.SettingsService
	documentService   driving.DocumentService
	indexingService   driving.IndexingService
	retrievalService  driving.RetrievalService
	answerService     driving.AnswerService
	evaluationService driving.EvaluationService
)

var rootCmd = &cobra.Command{
	Use:   "covera",
	Short: "Grounded insurance question answering and evaluation",
	Long: `covera indexes insurance documents, answers questions with cited
evidence (or says the evidence is insufficient), and scores answer
quality against a reference question set.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
		logger.SetOutput(cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "",
		"configuration directory holding config.toml and prompts/ (default ~/.covera)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"data directory holding the document store (default ~/.covera/data)")
}

// Execute runs the command line. Cancelling ctx (on interrupt) stops the
// running command; evaluate still reports what finished.
func Execute(ctx context.Context) error {
	app = newRuntime()
	defer func() {
		app.Close()
		app = nil
	}()
	return rootCmd.ExecuteContext(ctx)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
