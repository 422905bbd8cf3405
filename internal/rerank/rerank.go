package rerank

import (
	"sort"

	"github.com/dshills/chiprank/pkg/types"
)

// Candidate is the view of a scored chip the reranker sorts on. Index
// lets the caller map the sorted slice back onto its own records.
type Candidate struct {
	Index   int
	ID      string
	Score   float64
	Metrics Metrics
}

// Rerank returns a new slice ordered by the mode's metric, descending.
// Ties fall back to unified score, descending, then chip ID, ascending, so
// the order is total and independent of the input order.
func (e *Evaluator) Rerank(items []Candidate, mode types.Mode) ([]Candidate, error) {
	metric, err := e.MetricFor(mode)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := out[i].Metrics.Get(metric), out[j].Metrics.Get(metric)
		if mi != mj {
			return mi > mj
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}
