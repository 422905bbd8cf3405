package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/chiprank/internal/retrieval"
	"github.com/dshills/chiprank/pkg/types"
)

var (
	rankArchetype   string
	rankStage       string
	rankLimit       int
	rankDiversity   int
	rankSingleTopic bool
	rankJSON        bool
	rankTrace       bool
)

// rankCmd runs one query through the ranking engine
var rankCmd = &cobra.Command{
	Use:   "rank <query>",
	Short: "Rank chips for a single query",
	Long: `Runs one query through intent classification, mode resolution, candidate
search and the ranking pipeline, and prints the ranked chips.

Example:
  chiprank rank "I'm so overwhelmed with deadlines" --archetype high_achiever --stage diagnostic`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRank,
}

func init() {
	rankCmd.Flags().StringVarP(&rankArchetype, "archetype", "a", string(types.ArchetypeUndetermined), "User archetype")
	rankCmd.Flags().StringVarP(&rankStage, "stage", "s", string(types.StageOpening), "Conversation stage")
	rankCmd.Flags().IntVarP(&rankLimit, "limit", "n", 0, "Maximum results (default from config)")
	rankCmd.Flags().IntVar(&rankDiversity, "diversity-cap", 0, "Maximum results per category (default from config)")
	rankCmd.Flags().BoolVar(&rankSingleTopic, "single-topic", false, "Use the narrow per-category cap")
	rankCmd.Flags().BoolVar(&rankJSON, "json", false, "Print the full response as JSON")
	rankCmd.Flags().BoolVar(&rankTrace, "trace", false, "Print each result's trace")
}

func runRank(cmd *cobra.Command, args []string) error {
	archetype, err := types.ParseArchetype(rankArchetype)
	if err != nil {
		return err
	}
	stage, err := types.ParseStage(rankStage)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.engine.RetrieveRanked(ctx, retrieval.Request{
		Query:        strings.Join(args, " "),
		Archetype:    archetype,
		Stage:        stage,
		Limit:        rankLimit,
		DiversityCap: rankDiversity,
		SingleTopic:  rankSingleTopic,
	})
	if err != nil {
		return err
	}

	if rankJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(cmd.OutOrStdout(), resp, rankTrace)
	return nil
}

func printResponse(w io.Writer, resp *retrieval.Response, withTrace bool) {
	fmt.Fprintf(w, "Mode: %s (%.2f)  Intent: %s (%.2f)\n",
		resp.Mode, resp.ModeConfidence, resp.Intent, resp.IntentConfidence)
	fmt.Fprintf(w, "Weights: topical=%.2f tactical=%.2f emotional=%.2f\n",
		resp.Weights.Topical, resp.Weights.Tactical, resp.Weights.Emotional)
	for _, warn := range resp.Warnings {
		fmt.Fprintf(w, "Warning [%s]: %s\n", warn.Code, warn.Message)
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results.")
	}
	for _, r := range resp.Results {
		fmt.Fprintf(w, "\n%d. [%s] %s (score %.3f)\n   %s\n", r.Rank, r.Category, r.ID, r.Score, r.Text)
		if withTrace {
			for _, line := range r.Trace {
				fmt.Fprintf(w, "   - %s\n", line)
			}
		}
	}

	s := resp.FilterStats
	fmt.Fprintf(w, "\n%d candidates, %d returned (removed: incompatible %d, inauthentic %d, min score %d, bland %d, diversity %d, truncated %d)\n",
		s.Candidates, s.Returned, s.Incompatible, s.Inauthentic, s.BelowMinScore, s.Bland, s.Diversity, s.Truncated)
}
