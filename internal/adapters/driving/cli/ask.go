package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/covera/internal/adapters/driven/dataset"
	"github.com/custodia-labs/covera/internal/core/domain"
)

var (
	queryType  string
	queryLang  string
	queryTopK  int
	queryJSON  bool
	queryTrace bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed documents",
	Long: `Answers a question with claims backed by cited passages. When the
documents do not support an answer, the fixed insufficient-evidence
response is returned instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [question]",
	Short: "Show the passages retrieved for a question",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetrieve,
}

func init() {
	for _, c := range []*cobra.Command{askCmd, retrieveCmd} {
		c.Flags().StringVarP(&queryType, "type", "t", "", "restrict to one insurance type")
		c.Flags().StringVar(&queryLang, "lang", "", "restrict to one document language (he, en)")
		c.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "passages to retrieve (default from settings)")
		c.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	}
	askCmd.Flags().BoolVar(&queryTrace, "trace", false, "show the pipeline state transitions")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(retrieveCmd)
}

// queryOptions builds the retrieval options from the query flags.
func queryOptions() (domain.QueryOptions, error) {
	opts := domain.QueryOptions{TopK: queryTopK}
	if queryTopK < 0 {
		return opts, errors.New("--top-k must not be negative")
	}
	if queryType != "" || queryLang != "" {
		opts.Filters = domain.Filters{}
	}
	if queryType != "" {
		t, ok := domain.ParseInsuranceType(queryType)
		if !ok {
			return opts, fmt.Errorf("unknown insurance type: %s", queryType)
		}
		opts.Filters[domain.MetaInsuranceType] = string(t)
	}
	if queryLang != "" {
		opts.Filters[domain.MetaLanguage] = strings.ToLower(queryLang)
	}
	return opts, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	opts, err := queryOptions()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	if err := requirePipeline(ctx); err != nil {
		return err
	}
	if answerService == nil {
		return errors.New("answer service not configured")
	}

	answer, err := answerService.Answer(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if queryJSON {
		return dataset.EncodeJSON(cmd.OutOrStdout(), answer)
	}

	cmd.Println(answer.Text)
	if citations := answer.Citations(); len(citations) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, c := range citations {
			cmd.Printf("  [%d] %s  %s\n", i+1, c.DocumentID, c.Locator)
		}
	}
	if queryTrace {
		cmd.Println()
		cmd.Println("Trace:")
		for _, t := range answer.Trace {
			if t.Reason != "" {
				cmd.Printf("  %s -> %s: %s\n", t.From, t.To, t.Reason)
			} else {
				cmd.Printf("  %s -> %s\n", t.From, t.To)
			}
		}
	}
	return nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	opts, err := queryOptions()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	if err := requirePipeline(ctx); err != nil {
		return err
	}
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	passages, err := retrievalService.Retrieve(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if queryJSON {
		return dataset.EncodeJSON(cmd.OutOrStdout(), passageViews(passages))
	}

	if len(passages) == 0 {
		cmd.Println("No passages found.")
		return nil
	}
	for i := range passages {
		p := &passages[i]
		cmd.Printf("  [%d] %s  %s (%.3f)\n", p.Rank, p.Chunk.DocumentID, p.Chunk.Locator, p.Score)
		cmd.Printf("      %s\n\n", snippet(p.Chunk.BodyText(), 200))
	}
	return nil
}

// passageView is the JSON shape of a retrieved passage.
type passageView struct {
	Rank     int               `json:"rank"`
	Score    float64           `json:"score"`
	Citation domain.Citation   `json:"citation"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func passageViews(passages []domain.RetrievedPassage) []passageView {
	out := make([]passageView, 0, len(passages))
	for i := range passages {
		p := &passages[i]
		out = append(out, passageView{
			Rank:     p.Rank,
			Score:    p.Score,
			Citation: p.Chunk.Citation(),
			Content:  p.Chunk.Content,
			Metadata: p.Chunk.Metadata,
		})
	}
	return out
}

// snippet flattens text to one line of at most n runes.
func snippet(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}
