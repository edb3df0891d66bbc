package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/covera/internal/core/domain"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage indexed documents",
	Long:  `List and view indexed documents, and resolve citations to their passages.`,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentContentCmd = &cobra.Command{
	Use:   "content [doc-id]",
	Short: "Print document content",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentContent,
}

var documentChunksCmd = &cobra.Command{
	Use:   "chunks [doc-id]",
	Short: "List the chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentChunks,
}

var documentCiteCmd = &cobra.Command{
	Use:   "cite [chunk-id]",
	Short: "Print the passage a citation points to",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentCite,
}

var documentOpenCmd = &cobra.Command{
	Use:   "open [doc-id]",
	Short: "Open document in default application",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentOpen,
}

// documentAll is a flag for the list command.
var documentAll bool

func init() {
	documentListCmd.Flags().BoolVarP(&documentAll, "all", "a", false, "include superseded versions")

	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentContentCmd)
	documentCmd.AddCommand(documentChunksCmd)
	documentCmd.AddCommand(documentCiteCmd)
	documentCmd.AddCommand(documentOpenCmd)
	rootCmd.AddCommand(documentCmd)
}

func requireDocuments() error {
	if err := requireStorage(); err != nil {
		return err
	}
	if documentService == nil {
		return errors.New("document service not configured")
	}
	return nil
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if err := requireDocuments(); err != nil {
		return err
	}

	docs, err := documentService.List(commandContext(cmd), documentAll)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents indexed.")
		return nil
	}

	for i := range docs {
		cmd.Printf("  %s\n", docs[i].ID)
		cmd.Printf("    Title: %s\n", docs[i].Title)
		cmd.Printf("    URI: %s\n", docs[i].SourceURI)
		if t := docs[i].InsuranceType(); t != "" {
			cmd.Printf("    Type: %s\n", t)
		}
		if !docs[i].IsLatest() {
			cmd.Printf("    Superseded by: %s\n", docs[i].SupersededBy)
		}
		cmd.Println()
	}

	cmd.Printf("Total: %d documents\n", len(docs))
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if err := requireDocuments(); err != nil {
		return err
	}

	details, err := documentService.GetDetails(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", details.ID)
	cmd.Printf("  Title:     %s\n", details.Title)
	cmd.Printf("  URI:       %s\n", details.URI)
	cmd.Printf("  Language:  %s\n", details.Language)
	if details.InsuranceType != "" {
		cmd.Printf("  Type:      %s\n", details.InsuranceType)
	}
	cmd.Printf("  Chunks:    %d\n", details.ChunkCount)
	cmd.Printf("  Created:   %s\n", details.CreatedAt.Format("2006-01-02 15:04:05"))
	if details.SupersededBy != "" {
		cmd.Printf("  Superseded by: %s\n", details.SupersededBy)
	}

	if len(details.Metadata) > 0 {
		keys := make([]string, 0, len(details.Metadata))
		for k := range details.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		cmd.Println("\n  Metadata:")
		for _, k := range keys {
			cmd.Printf("    %s: %s\n", k, details.Metadata[k])
		}
	}

	return nil
}

func runDocumentContent(cmd *cobra.Command, args []string) error {
	if err := requireDocuments(); err != nil {
		return err
	}

	content, err := documentService.GetContent(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document content: %w", err)
	}

	cmd.Println(content)
	return nil
}

func runDocumentChunks(cmd *cobra.Command, args []string) error {
	if err := requireDocuments(); err != nil {
		return err
	}

	chunks, err := documentService.GetChunks(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get chunks: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		cmd.Printf("  %s  %-9s %s (%d tokens)\n", c.ID, c.Type, c.Locator, c.Tokens)
	}
	cmd.Printf("Total: %d chunks\n", len(chunks))
	return nil
}

func runDocumentCite(cmd *cobra.Command, args []string) error {
	if err := requireDocuments(); err != nil {
		return err
	}

	chunk, err := documentService.ResolveCitation(commandContext(cmd), domain.Citation{ChunkID: args[0]})
	if err != nil {
		return fmt.Errorf("failed to resolve citation: %w", err)
	}

	cmd.Printf("%s  %s\n\n", chunk.DocumentID, chunk.Locator)
	cmd.Println(chunk.BodyText())
	return nil
}

func runDocumentOpen(cmd *cobra.Command, args []string) error {
	if err := requireDocuments(); err != nil {
		return err
	}

	if err := documentService.Open(commandContext(cmd), args[0]); err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}

	cmd.Printf("Opened document %s in default application.\n", args[0])
	return nil
}
