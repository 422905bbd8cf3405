package filter

import (
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// Authenticity verdict reasons.
const (
	ReasonRedFlag  = "red_flag"
	ReasonNoMarker = "no_marker"
)

// Verdict explains an authenticity decision.
type Verdict struct {
	Authentic bool
	Reason    string   // Empty when authentic
	RedFlag   string   // Pattern group that rejected the chip
	Markers   []string // Positive marker groups that matched
}

// Authenticity keeps chips written in the coaching persona's voice.
type Authenticity struct {
	rules rules.AuthenticityRules
}

// NewAuthenticity creates an authenticity filter over the tables of r.
func NewAuthenticity(r *rules.Rules) *Authenticity {
	return &Authenticity{rules: r.Authenticity}
}

// IsAuthentic reports whether chip passes the filter.
func (a *Authenticity) IsAuthentic(chip *types.Chip) bool {
	return a.Check(chip).Authentic
}

// Check rejects any chip whose text matches a red-flag group. Otherwise the
// chip needs at least one positive marker: a marker category or a text
// match in one of the marker groups.
func (a *Authenticity) Check(chip *types.Chip) Verdict {
	for _, g := range a.rules.RedFlags {
		if g.Any(chip.Text) {
			return Verdict{Reason: ReasonRedFlag, RedFlag: g.Name}
		}
	}

	var markers []string
	if a.rules.MarkerCategories[chip.Category] {
		markers = append(markers, "category:"+string(chip.Category))
	}
	for _, g := range a.rules.Markers {
		if g.Any(chip.Text) {
			markers = append(markers, g.Name)
		}
	}
	if len(markers) == 0 {
		return Verdict{Reason: ReasonNoMarker}
	}
	return Verdict{Authentic: true, Markers: markers}
}
