package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	kbCmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	addCmd := &cobra.Command{
		Use:   "add <title> <content...>",
		Short: "Add or replace one knowledge entry",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runKBAdd,
	}

	queryCmd := &cobra.Command{
		Use:   "query <text...>",
		Short: "Query the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runKBQuery,
	}
	queryCmd.Flags().IntP("top-k", "k", 3, "Maximum number of results")
	queryCmd.Flags().Float64("min", 0.1, "Results must be strictly more similar than this")

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every entry into the configured ANN index",
		Args:  cobra.NoArgs,
		RunE:  runKBReindex,
	}

	kbCmd.AddCommand(addCmd, queryCmd, reindexCmd)
	rootCmd.AddCommand(kbCmd)
}

func runKBAdd(cmd *cobra.Command, args []string) error {
	cfg := loadCLIConfig()
	store, embedder, err := openKnowledge(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	title, content := args[0], strings.Join(args[1:], " ")
	if err := store.AddEntry(cmd.Context(), title, content); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %q (%d entries)\n", title, store.Len())
	return nil
}

func runKBQuery(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	minSimilarity, _ := cmd.Flags().GetFloat64("min")

	store, embedder, err := openKnowledge(cmd.Context(), loadCLIConfig())
	if err != nil {
		return err
	}
	defer embedder.Close()

	results, err := store.Query(cmd.Context(), strings.Join(args, " "), topK, minSimilarity)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runKBReindex(cmd *cobra.Command, _ []string) error {
	cfg := loadCLIConfig()
	if cfg.Knowledge.Index != "elasticsearch" {
		return fmt.Errorf("knowledge.index is %q, nothing to reindex", cfg.Knowledge.Index)
	}
	store, embedder, err := openKnowledge(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	n, err := store.Reindex(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d entries\n", n)
	return nil
}
