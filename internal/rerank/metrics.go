package rerank

import (
	"fmt"
	"math"

	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// Metrics holds the four mode-aware quality metrics of a chip, each in
// [0, 1].
type Metrics struct {
	Empathy float64 `json:"empathy"`
	Clarity float64 `json:"clarity"`
	Energy  float64 `json:"energy"`
	Wisdom  float64 `json:"wisdom"`
}

// Get returns the value of one metric.
func (m Metrics) Get(metric rules.Metric) float64 {
	switch metric {
	case rules.MetricEmpathy:
		return m.Empathy
	case rules.MetricClarity:
		return m.Clarity
	case rules.MetricEnergy:
		return m.Energy
	case rules.MetricWisdom:
		return m.Wisdom
	default:
		return 0
	}
}

// Sum returns empathy + clarity + energy + wisdom.
func (m Metrics) Sum() float64 {
	return m.Empathy + m.Clarity + m.Energy + m.Wisdom
}

func (m *Metrics) set(metric rules.Metric, v float64) {
	switch metric {
	case rules.MetricEmpathy:
		m.Empathy = v
	case rules.MetricClarity:
		m.Clarity = v
	case rules.MetricEnergy:
		m.Energy = v
	case rules.MetricWisdom:
		m.Wisdom = v
	}
}

// Evaluator derives quality metrics and reorders candidates by the metric
// that matches the interaction mode.
type Evaluator struct {
	rules *rules.Rules
}

// New creates an evaluator over the quality and mode tables of r.
func New(r *rules.Rules) *Evaluator {
	return &Evaluator{rules: r}
}

// Measure computes all four metrics for chip. Each metric sums a fixed
// credit per distinct matching tag and per matching phrase pattern, capped
// at 1.0.
func (e *Evaluator) Measure(chip *types.Chip) Metrics {
	signals := chip.NormalizedSignals()
	q := e.rules.Quality

	var m Metrics
	for _, metric := range rules.Metrics {
		rule, ok := q.Metrics[metric]
		if !ok {
			continue
		}
		credit := q.TagCredit * float64(rule.Tags.Count(signals))
		for _, g := range rule.Patterns {
			credit += q.PatternCredit * float64(g.Count(chip.Text))
		}
		m.set(metric, math.Min(1.0, credit))
	}
	return m
}

// MetricFor returns the metric that ranks candidates in mode.
func (e *Evaluator) MetricFor(mode types.Mode) (rules.Metric, error) {
	mr, ok := e.rules.Mode(mode)
	if !ok {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}
	return mr.Metric, nil
}
