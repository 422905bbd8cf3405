package filter

import "github.com/dshills/chiprank/internal/rerank"

// DefaultBlandThreshold is the minimum summed quality a chip needs.
const DefaultBlandThreshold = 0.3

// IsBland reports whether the summed empathy, clarity, energy and wisdom of
// m falls below threshold.
func IsBland(m rerank.Metrics, threshold float64) bool {
	return m.Sum() < threshold
}
