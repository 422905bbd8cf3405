package scorer

import (
	"fmt"
	"math"

	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// DefaultSimilarityWeight scales the raw similarity bonus.
const DefaultSimilarityWeight = 0.5

// Intent term values.
const (
	intentPerfect = 1.0
	intentPartial = 0.5
	intentNone    = 0.2
)

// Intent match labels used in traces.
const (
	MatchPerfect = "perfect"
	MatchPartial = "partial"
	MatchNone    = "none"
)

// Input is everything the scorer looks at for one chip.
type Input struct {
	Chip          *types.Chip
	Intent        types.Category
	Mode          types.Mode
	HasSimilarity bool // Whether Chip.Similarity was supplied by search
}

// Breakdown is the unified score of a chip together with every sub-term
// that produced it.
type Breakdown struct {
	Score float64

	IntentTerm  float64
	IntentMatch string

	ModeMultiplier  float64
	PrimaryMatches  int
	BoostMatches    int // Primary plus secondary boost tags
	OpposingMatches int

	PersonaMultiplier float64
	Alignment         float64
	Markers           []string

	HasSimilarity          bool
	Similarity             float64
	SimilarityContribution float64
}

// Scorer computes the unified score. It holds only read-only tables and is
// safe for concurrent use.
type Scorer struct {
	rules            *rules.Rules
	similarityWeight float64
}

// New creates a scorer. A negative similarityWeight is treated as zero.
func New(r *rules.Rules, similarityWeight float64) *Scorer {
	return &Scorer{
		rules:            r,
		similarityWeight: math.Max(0, similarityWeight),
	}
}

// Score returns intent term x mode multiplier x persona multiplier, plus the
// weighted similarity when one was supplied. Only an unknown mode is an
// error.
func (s *Scorer) Score(in Input) (Breakdown, error) {
	mr, ok := s.rules.Mode(in.Mode)
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, in.Mode)
	}

	var b Breakdown
	b.IntentTerm, b.IntentMatch = s.IntentTerm(in.Chip.Category, in.Intent)

	signals := in.Chip.NormalizedSignals()
	b.ModeMultiplier, b.PrimaryMatches, b.OpposingMatches = ModeMultiplier(mr, signals)
	b.BoostMatches = b.PrimaryMatches + mr.SecondaryBoost.Count(signals)

	fit := Persona(s.rules.Persona, in.Chip)
	b.PersonaMultiplier = fit.Multiplier
	b.Alignment = fit.Alignment
	b.Markers = fit.Markers

	b.Score = b.IntentTerm * b.ModeMultiplier * b.PersonaMultiplier

	if in.HasSimilarity {
		b.HasSimilarity = true
		b.Similarity = clamp(in.Chip.Similarity, 0, 1)
		b.SimilarityContribution = b.Similarity * s.similarityWeight
		b.Score += b.SimilarityContribution
	}

	return b, nil
}

// IntentTerm scores how well a chip's category matches the query intent.
func (s *Scorer) IntentTerm(category, intent types.Category) (float64, string) {
	switch {
	case category == intent:
		return intentPerfect, MatchPerfect
	case s.rules.Related(category, intent):
		return intentPartial, MatchPartial
	default:
		return intentNone, MatchNone
	}
}

// ModeMultiplier applies the tiered boost of the mode record to a chip's
// normalized signals. Primary boosts win over secondary boosts, and any
// boost cancels the opposing penalty. It returns the multiplier with the
// primary and opposing match counts.
func ModeMultiplier(mr rules.ModeRule, signals []string) (mult float64, primary, opposing int) {
	m := mr.Multiplier
	primary = mr.PrimaryBoost.Count(signals)
	opposing = mr.Opposing.Count(signals)

	if primary > 0 {
		return math.Min(m.PrimaryMax, m.PrimaryBase+m.PrimaryStep*float64(primary-1)), primary, opposing
	}
	if secondary := mr.SecondaryBoost.Count(signals); secondary > 0 {
		return math.Min(m.SecondaryMax, m.SecondaryBase+m.SecondaryStep*float64(secondary-1)), primary, opposing
	}
	if opposing > 0 {
		return math.Max(m.Floor, 1.0-m.OpposingStep*float64(opposing)), primary, opposing
	}
	return 1.0, primary, opposing
}
