package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var (
	indexForce     bool
	indexBatchSize int
	indexWorkers   int
)

// indexCmd embeds and stores a chip corpus
var indexCmd = &cobra.Command{
	Use:   "index <corpus>",
	Short: "Embed and store the chips of a YAML or JSON corpus",
	Long: `Reads a corpus file of the form

  chips:
    - id: calm-1
      text: "It's okay to feel behind."
      category: emotional_support
      signals: [supportive, validating]

and writes each chip with its embedding to the store. Chips whose content
and embedding model are unchanged are skipped unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "Re-embed every chip")
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "Chips per embedding call (default from config)")
	indexCmd.Flags().IntVar(&indexWorkers, "workers", 0, "Concurrent batches (default from config)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	config := a.indexConfig()
	config.Force = indexForce
	if indexBatchSize > 0 {
		config.BatchSize = indexBatchSize
	}
	if indexWorkers > 0 {
		config.Workers = indexWorkers
	}

	stats, err := a.indexer.IndexFile(ctx, args[0], &config)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d chips (%d skipped, %d failed) in %d batches, %s\n",
		stats.ChipsIndexed, stats.ChipsSkipped, stats.ChipsFailed, stats.Batches, stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
	return nil
}
