package scorer

import (
	"math"

	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// PersonaFit is the persona analysis of one chip.
type PersonaFit struct {
	Multiplier float64  // Clamped to the persona bounds
	Alignment  float64  // Unclamped sum of adjustments
	Markers    []string // Positive adjustments that fired
}

// Persona scores how well a chip's wording matches the coaching voice.
// Every adjustment is independent: a chip earns each boost at most once.
func Persona(p rules.PersonaRules, chip *types.Chip) PersonaFit {
	var fit PersonaFit

	if boost, ok := p.CategoryBoosts[chip.Category]; ok {
		fit.Alignment += boost
		fit.Markers = append(fit.Markers, "category:"+string(chip.Category))
	}

	for _, adj := range p.Boosts {
		if adj.Group.Any(chip.Text) {
			fit.Alignment += adj.Weight
			fit.Markers = append(fit.Markers, adj.Group.Name)
		}
	}

	for _, adj := range p.Penalties {
		if !adj.Group.Any(chip.Text) {
			continue
		}
		if adj.Unless != nil && adj.Unless.Any(chip.Text) {
			continue
		}
		fit.Alignment -= adj.Weight
	}

	fit.Multiplier = clamp(1.0+fit.Alignment, p.Min, p.Max)
	return fit
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
