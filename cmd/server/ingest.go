package main

import (
	"fmt"

	"ctxbot-go/internal/pipeline"
	"ctxbot-go/pkg/tika"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Extract a document with Tika and add it in 200-word chunks",
		Long:  "Extract the text of a document (PDF or anything Tika understands), split it into 200-word chunks titled \"Chunk N\" or \"<prefix> Chunk N\", and add each chunk to the knowledge base.",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	cmd.Flags().StringP("prefix", "p", "", "Title prefix for the chunks")
	rootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	cfg := loadCLIConfig()
	if cfg.Tika.ServerURL == "" {
		return fmt.Errorf("tika.server_url is not configured")
	}

	store, embedder, err := openKnowledge(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	processor := pipeline.NewProcessor(store, tika.NewClient(cfg.Tika), nil)
	n, err := processor.IngestFile(cmd.Context(), args[0], prefix)
	if err != nil {
		return fmt.Errorf("ingested %d chunks before failing: %w", n, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks from %s\n", n, args[0])
	return nil
}
