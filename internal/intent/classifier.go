package intent

import (
	"math"

	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// keywordsForFullConfidence is the number of distinct keyword hits that
// yields confidence 1.0.
const keywordsForFullConfidence = 3

// Result is the classified intent of a query.
type Result struct {
	Category   types.Category
	Confidence float64
	Keywords   []string // Matched keywords of the winning group
}

// Classifier maps free text to a topical category.
type Classifier struct {
	groups []rules.IntentGroup
}

// New creates a classifier over the intent groups of r.
func New(r *rules.Rules) *Classifier {
	return &Classifier{groups: r.Intents}
}

// Classify returns the first category, in priority order, whose keyword
// group matches query. Confidence is the number of distinct keywords of that
// group found in the query divided by three, capped at 1.0. A query that
// matches nothing is "general" with confidence 0.
func (c *Classifier) Classify(query string) Result {
	for _, g := range c.groups {
		if !g.Keywords.Any(query) {
			continue
		}
		matched := g.Keywords.Matched(query)
		return Result{
			Category:   g.Category,
			Confidence: math.Min(1.0, float64(len(matched))/keywordsForFullConfidence),
			Keywords:   matched,
		}
	}
	return Result{Category: types.CategoryGeneral}
}
