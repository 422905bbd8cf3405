package trace

import (
	"fmt"
	"strings"

	"github.com/dshills/chiprank/internal/mode"
	"github.com/dshills/chiprank/internal/rerank"
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/internal/scorer"
	"github.com/dshills/chiprank/pkg/types"
)

// Input carries the already-computed decisions for one chip. Build only
// formats them; it never recomputes a score.
type Input struct {
	Intent    types.Category
	Chip      *types.Chip
	Breakdown scorer.Breakdown
	Metric    rules.Metric
	Metrics   rerank.Metrics
	Rank      int
}

// Build returns the per-chip trace in a fixed order: intent, category,
// signals, score, intent match, mode boosts, persona markers, persona
// alignment, the three score terms, then similarity when present. The
// mode metric and rank close the trace.
func Build(in Input) []string {
	b := in.Breakdown

	signals := "none"
	if s := in.Chip.NormalizedSignals(); len(s) > 0 {
		signals = strings.Join(s, ",")
	}

	out := make([]string, 0, 16)
	out = append(out,
		"intent:"+string(in.Intent),
		"category:"+string(in.Chip.Category),
		"signals:"+signals,
		fmt.Sprintf("score:%.4f", b.Score),
		"intent_match:"+b.IntentMatch,
		fmt.Sprintf("mode_boosts:%d", b.BoostMatches),
		fmt.Sprintf("persona_markers:%d", len(b.Markers)),
		fmt.Sprintf("persona_alignment:%+.2f", b.Alignment),
		fmt.Sprintf("intent_term:%.2f", b.IntentTerm),
		fmt.Sprintf("mode_multiplier:%.3f", b.ModeMultiplier),
		fmt.Sprintf("persona_multiplier:%.2f", b.PersonaMultiplier),
	)
	if b.HasSimilarity {
		out = append(out,
			fmt.Sprintf("similarity:%.4f", b.Similarity),
			fmt.Sprintf("similarity_boost:%.4f", b.SimilarityContribution),
		)
	}
	if in.Metric != "" {
		out = append(out, fmt.Sprintf("%s:%.2f", in.Metric, in.Metrics.Get(in.Metric)))
	}
	if in.Rank > 0 {
		out = append(out, fmt.Sprintf("rank:%d", in.Rank))
	}
	return out
}

// SummaryInput is the query-level state recorded in the trace summary.
type SummaryInput struct {
	Resolution       *mode.Resolution
	Weights          types.WeightVector
	IntentConfidence float64
	Candidates       int
	Returned         int
}

// Summary returns the query-level trace: the resolver's own trace, then
// weights, dominant component, intent confidence and pool sizes.
func Summary(in SummaryInput) []string {
	var out []string
	if in.Resolution != nil {
		out = append(out, in.Resolution.Trace...)
		for _, w := range in.Resolution.Warnings {
			out = append(out, "warning:"+w.Code)
		}
	}
	w := in.Weights
	out = append(out,
		fmt.Sprintf("weights:t=%.3f,x=%.3f,e=%.3f", w.Topical, w.Tactical, w.Emotional),
		"dominant:"+string(w.Dominant()),
		fmt.Sprintf("intent_confidence:%.2f", in.IntentConfidence),
		fmt.Sprintf("candidates:%d", in.Candidates),
		fmt.Sprintf("returned:%d", in.Returned),
	)
	return out
}
