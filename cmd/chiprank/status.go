package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dshills/chiprank/internal/storage"
	"github.com/dshills/chiprank/pkg/types"
)

// statusCmd prints store statistics
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chip store statistics and health",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	status, err := store.GetStatus(cmd.Context())
	if err != nil {
		return err
	}

	path, _ := cfg.DatabasePath()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database:        %s\n", path)
	fmt.Fprintf(out, "Schema version:  %s\n", status.SchemaVersion)
	fmt.Fprintf(out, "Build mode:      %s (vector extension: %v)\n", status.BuildMode, status.Health.VectorExtension)
	fmt.Fprintf(out, "Index backend:   %s\n", cfg.Index.Backend)
	fmt.Fprintf(out, "Chips:           %d\n", status.ChipsCount)
	fmt.Fprintf(out, "Embeddings:      %d\n", status.EmbeddingsCount)
	fmt.Fprintf(out, "Queries logged:  %d\n", status.QueriesCount)
	fmt.Fprintf(out, "Size:            %.2f MB\n", status.IndexSizeMB)
	if !status.LastIndexedAt.IsZero() {
		fmt.Fprintf(out, "Last indexed:    %s\n", status.LastIndexedAt.Format("2006-01-02 15:04:05 MST"))
	}

	if len(status.Categories) > 0 {
		fmt.Fprintln(out, "Categories:")
		for _, cat := range sortedCategories(status) {
			fmt.Fprintf(out, "  %-20s %d\n", cat, status.Categories[cat])
		}
	}
	return nil
}

func sortedCategories(status *storage.Status) []types.Category {
	cats := make([]types.Category, 0, len(status.Categories))
	for cat := range status.Categories {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}
