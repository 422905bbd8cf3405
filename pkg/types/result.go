package types

import "math"

// Component names one dimension of a WeightVector.
type Component string

const (
	ComponentTopical   Component = "topical"
	ComponentTactical  Component = "tactical"
	ComponentEmotional Component = "emotional"
)

// DominanceOrder is the tie-break order used when two components carry the
// same weight.
var DominanceOrder = []Component{ComponentEmotional, ComponentTactical, ComponentTopical}

// WeightTolerance is the allowed deviation of a weight vector's sum from 1.0.
const WeightTolerance = 0.01

// WeightVector splits retrieval emphasis across topical, tactical and
// emotional content. A valid vector is non-negative and sums to 1.0.
type WeightVector struct {
	Topical   float64 `json:"topical"`
	Tactical  float64 `json:"tactical"`
	Emotional float64 `json:"emotional"`
}

// Sum returns the total of the three components.
func (w WeightVector) Sum() float64 {
	return w.Topical + w.Tactical + w.Emotional
}

// Get returns the weight of a single component.
func (w WeightVector) Get(c Component) float64 {
	switch c {
	case ComponentTopical:
		return w.Topical
	case ComponentTactical:
		return w.Tactical
	case ComponentEmotional:
		return w.Emotional
	default:
		return 0
	}
}

// With returns a copy of w with component c set to v.
func (w WeightVector) With(c Component, v float64) WeightVector {
	switch c {
	case ComponentTopical:
		w.Topical = v
	case ComponentTactical:
		w.Tactical = v
	case ComponentEmotional:
		w.Emotional = v
	}
	return w
}

// Normalized reports whether w is non-negative and sums to 1.0 within
// WeightTolerance.
func (w WeightVector) Normalized() bool {
	if w.Topical < 0 || w.Tactical < 0 || w.Emotional < 0 {
		return false
	}
	return math.Abs(w.Sum()-1.0) <= WeightTolerance
}

// Dominant returns the largest component, breaking ties by DominanceOrder.
func (w WeightVector) Dominant() Component {
	best := DominanceOrder[0]
	for _, c := range DominanceOrder[1:] {
		if w.Get(c) > w.Get(best) {
			best = c
		}
	}
	return best
}

// RankedResult is one chip in the final ranking. It is built once per query
// and never modified afterwards.
type RankedResult struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Category Category `json:"category"`
	Signals  []string `json:"signals"`
	Score    float64  `json:"score"`
	Rank     int      `json:"rank"` // 1-based
	Trace    []string `json:"trace"`
}

// FilterStats counts how many candidates each stage removed.
type FilterStats struct {
	Candidates    int `json:"candidates"`
	Incompatible  int `json:"incompatible"`
	Inauthentic   int `json:"inauthentic"`
	BelowMinScore int `json:"below_min_score"`
	Bland         int `json:"bland"`
	Diversity     int `json:"diversity"`
	Truncated     int `json:"truncated"`
	Returned      int `json:"returned"`
}

// Removed returns the total number of candidates dropped by any stage.
func (s FilterStats) Removed() int {
	return s.Incompatible + s.Inauthentic + s.BelowMinScore + s.Bland + s.Diversity + s.Truncated
}
