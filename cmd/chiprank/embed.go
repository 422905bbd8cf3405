package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/chiprank/internal/embedder"
)

// embedCmd checks the configured embedding provider
var embedCmd = &cobra.Command{
	Use:   "embed <text>",
	Short: "Embed a text with the configured provider",
	Long: `Generates one embedding with the configured provider and prints its
dimension and leading components. Useful to verify API keys and model
settings before indexing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmbed,
}

func runEmbed(cmd *cobra.Command, args []string) error {
	emb, err := embedder.New(cfg.EmbedderConfig(), logger.Named("embedder"))
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	e, err := emb.GenerateEmbedding(cmd.Context(), embedder.EmbeddingRequest{Text: strings.Join(args, " ")})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider:  %s\n", e.Provider)
	fmt.Fprintf(out, "Model:     %s\n", e.Model)
	fmt.Fprintf(out, "Dimension: %d\n", e.Dimension)

	n := min(8, len(e.Vector))
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%.4f", e.Vector[i])
	}
	fmt.Fprintf(out, "Vector:    [%s", strings.Join(parts, ", "))
	if len(e.Vector) > n {
		fmt.Fprint(out, ", ...")
	}
	fmt.Fprintln(out, "]")
	return nil
}
