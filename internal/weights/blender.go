package weights

import (
	"errors"
	"fmt"
	"math"

	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// ErrInconsistentWeights means the rules tables produced a vector that is
// negative or cannot be normalized. It is an authoring bug in the tables.
var ErrInconsistentWeights = errors.New("inconsistent weight vector")

// DominanceMargin is the gap kept between a mode's dominant component and
// any component lifted by an archetype delta.
const DominanceMargin = 0.05

// sumEpsilon bounds floating-point drift after normalization.
const sumEpsilon = 1e-9

// Blender derives the weight vector for a (mode, archetype) pair.
type Blender struct {
	rules *rules.Rules
}

// New creates a blender over the mode and archetype tables of r.
func New(r *rules.Rules) *Blender {
	return &Blender{rules: r}
}

// Blend starts from the mode's weight table, adds the archetype's deltas in
// full, keeps the mode's dominant component on top and renormalizes.
func (b *Blender) Blend(mode types.Mode, archetype types.Archetype) (types.WeightVector, error) {
	mr, ok := b.rules.Mode(mode)
	if !ok {
		return types.WeightVector{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}
	if !archetype.Valid() {
		return types.WeightVector{}, fmt.Errorf("%w: %q", types.ErrInvalidArchetype, archetype)
	}

	base := mr.Weights
	deltas := b.rules.Archetype(archetype).Deltas
	dominant := base.Dominant()

	w := base
	for _, c := range types.DominanceOrder {
		w = w.With(c, base.Get(c)+deltas.Get(c))
	}

	// A delta tilts the vector but never overturns the mode's stance: when a
	// lifted component comes within DominanceMargin of the dominant one, the
	// dominant component is raised to restore the margin.
	floor := w.Get(dominant)
	for _, c := range types.DominanceOrder {
		if c == dominant || deltas.Get(c) <= 0 {
			continue
		}
		floor = math.Max(floor, w.Get(c)+DominanceMargin)
	}
	w = w.With(dominant, floor)

	return normalize(w, mode, archetype)
}

func normalize(w types.WeightVector, mode types.Mode, archetype types.Archetype) (types.WeightVector, error) {
	for _, c := range types.DominanceOrder {
		if w.Get(c) < 0 {
			return types.WeightVector{}, fmt.Errorf("%w: %s/%s: negative %s weight %.3f",
				ErrInconsistentWeights, mode, archetype, c, w.Get(c))
		}
	}
	sum := w.Sum()
	if sum <= 0 {
		return types.WeightVector{}, fmt.Errorf("%w: %s/%s: zero vector", ErrInconsistentWeights, mode, archetype)
	}

	out := types.WeightVector{
		Topical:   w.Topical / sum,
		Tactical:  w.Tactical / sum,
		Emotional: w.Emotional / sum,
	}
	if math.Abs(out.Sum()-1.0) > sumEpsilon {
		return types.WeightVector{}, fmt.Errorf("%w: %s/%s: sum %.12f after normalization",
			ErrInconsistentWeights, mode, archetype, out.Sum())
	}
	return out, nil
}

// Dominant returns the largest component of w, breaking ties in the order
// emotional, tactical, topical.
func Dominant(w types.WeightVector) types.Component {
	return w.Dominant()
}
