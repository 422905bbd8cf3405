package retrieval

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/chiprank/internal/filter"
	"github.com/dshills/chiprank/internal/rerank"
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/internal/scorer"
	"github.com/dshills/chiprank/internal/trace"
	"github.com/dshills/chiprank/pkg/types"
)

// gate names the first per-candidate stage that rejected a chip.
type gate int

const (
	gatePassed gate = iota
	gateIncompatible
	gateInauthentic
	gateBelowMinScore
	gateBland
)

// Options tunes one Rank call.
type Options struct {
	BlandThreshold float64
	MinScore       float64 // Zero disables the score gate
	Caps           filter.Caps
	UseSimilarity  bool
	Workers        int  // Zero means runtime.NumCPU
	DisableTrace   bool // Skip per-result traces; ranking is unaffected
}

// RankInput is the pool and query context for Rank.
type RankInput struct {
	Candidates []types.Chip
	Intent     types.Category
	Mode       types.Mode
	Limit      int
	Options    Options
}

// Ranking is the output of Rank.
type Ranking struct {
	Results []types.RankedResult
	Stats   types.FilterStats
}

// evaluation is the per-candidate outcome. Each goroutine writes only its
// own slot.
type evaluation struct {
	chip      *types.Chip
	gate      gate
	breakdown scorer.Breakdown
	metrics   rerank.Metrics
}

// Pipeline is the I/O-free ranking core. It holds only read-only tables and
// may serve concurrent Rank calls.
type Pipeline struct {
	compat  *filter.Compatibility
	auth    *filter.Authenticity
	scorer  *scorer.Scorer
	quality *rerank.Evaluator
}

// NewPipeline builds a pipeline over r. similarityWeight scales the raw
// similarity bonus of the unified score.
func NewPipeline(r *rules.Rules, similarityWeight float64) *Pipeline {
	return &Pipeline{
		compat:  filter.NewCompatibility(r),
		auth:    filter.NewAuthenticity(r),
		scorer:  scorer.New(r, similarityWeight),
		quality: rerank.New(r),
	}
}

// Rank filters, scores, reranks, diversifies and truncates a candidate pool.
// The result depends only on its input: the same input always yields the
// same output, traces included.
func (p *Pipeline) Rank(in RankInput) (*Ranking, error) {
	if in.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", types.ErrInvalidLimit, in.Limit)
	}
	metric, err := p.quality.MetricFor(in.Mode)
	if err != nil {
		return nil, err
	}
	if err := validateCandidates(in.Candidates); err != nil {
		return nil, err
	}

	evals, err := p.evaluateAll(in)
	if err != nil {
		return nil, err
	}

	stats := types.FilterStats{Candidates: len(in.Candidates)}
	survivors := make([]rerank.Candidate, 0, len(evals))
	for i := range evals {
		ev := &evals[i]
		switch ev.gate {
		case gateIncompatible:
			stats.Incompatible++
		case gateInauthentic:
			stats.Inauthentic++
		case gateBelowMinScore:
			stats.BelowMinScore++
		case gateBland:
			stats.Bland++
		default:
			survivors = append(survivors, rerank.Candidate{
				Index:   i,
				ID:      ev.chip.ID,
				Score:   ev.breakdown.Score,
				Metrics: ev.metrics,
			})
		}
	}

	ordered, err := p.quality.Rerank(survivors, in.Mode)
	if err != nil {
		return nil, err
	}

	kept, dropped := filter.LimitDiversity(ordered, func(c rerank.Candidate) types.Category {
		return evals[c.Index].chip.Category
	}, in.Options.Caps)
	stats.Diversity = dropped

	if len(kept) > in.Limit {
		stats.Truncated = len(kept) - in.Limit
		kept = kept[:in.Limit]
	}
	stats.Returned = len(kept)

	results := make([]types.RankedResult, len(kept))
	for i, c := range kept {
		ev := &evals[c.Index]
		results[i] = types.RankedResult{
			ID:       ev.chip.ID,
			Text:     ev.chip.Text,
			Category: ev.chip.Category,
			Signals:  append([]string(nil), ev.chip.Signals...),
			Score:    ev.breakdown.Score,
			Rank:     i + 1,
		}
		if !in.Options.DisableTrace {
			results[i].Trace = trace.Build(trace.Input{
				Intent:    in.Intent,
				Chip:      ev.chip,
				Breakdown: ev.breakdown,
				Metric:    metric,
				Metrics:   ev.metrics,
				Rank:      i + 1,
			})
		}
	}

	return &Ranking{Results: results, Stats: stats}, nil
}

// evaluateAll runs the per-candidate gates and scoring in parallel.
func (p *Pipeline) evaluateAll(in RankInput) ([]evaluation, error) {
	evals := make([]evaluation, len(in.Candidates))

	workers := in.Options.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range in.Candidates {
		g.Go(func() error {
			ev, err := p.evaluate(&in.Candidates[i], in)
			if err != nil {
				return err
			}
			evals[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return evals, nil
}

// evaluate applies compatibility, authenticity, score, min-score and bland
// gates in that order and stops at the first rejection.
func (p *Pipeline) evaluate(chip *types.Chip, in RankInput) (evaluation, error) {
	ev := evaluation{chip: chip}

	if !p.compat.IsCompatible(chip, in.Mode) {
		ev.gate = gateIncompatible
		return ev, nil
	}
	if !p.auth.IsAuthentic(chip) {
		ev.gate = gateInauthentic
		return ev, nil
	}

	b, err := p.scorer.Score(scorer.Input{
		Chip:          chip,
		Intent:        in.Intent,
		Mode:          in.Mode,
		HasSimilarity: in.Options.UseSimilarity,
	})
	if err != nil {
		return ev, err
	}
	ev.breakdown = b
	if in.Options.MinScore > 0 && b.Score < in.Options.MinScore {
		ev.gate = gateBelowMinScore
		return ev, nil
	}

	ev.metrics = p.quality.Measure(chip)
	if filter.IsBland(ev.metrics, in.Options.BlandThreshold) {
		ev.gate = gateBland
	}
	return ev, nil
}

// validateCandidates rejects malformed metadata and duplicate IDs.
func validateCandidates(chips []types.Chip) error {
	seen := make(map[string]struct{}, len(chips))
	for i := range chips {
		if err := chips[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[chips[i].ID]; dup {
			return fmt.Errorf("%w: duplicate chip id %s", types.ErrInvalidCandidate, chips[i].ID)
		}
		seen[chips[i].ID] = struct{}{}
	}
	return nil
}
