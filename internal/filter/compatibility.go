package filter

import (
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// Compatibility drops chips whose tone is purely opposed to the mode.
type Compatibility struct {
	rules *rules.Rules
}

// NewCompatibility creates a compatibility filter over the mode tables of r.
func NewCompatibility(r *rules.Rules) *Compatibility {
	return &Compatibility{rules: r}
}

// IsCompatible reports whether chip may be shown in mode. A chip is rejected
// only when every one of its tags belongs to the family of a mode that is
// mutually exclusive with mode and none belongs to mode's own family.
// Untagged chips and modes without exclusions accept everything.
func (c *Compatibility) IsCompatible(chip *types.Chip, mode types.Mode) bool {
	signals := chip.NormalizedSignals()
	if len(signals) == 0 {
		return true
	}

	mr, ok := c.rules.Mode(mode)
	if !ok || len(mr.ExclusiveWith) == 0 {
		return true
	}
	if mr.Family.Count(signals) > 0 {
		return true
	}

	for _, tag := range signals {
		if !c.inExclusiveFamily(mr, tag) {
			return true
		}
	}
	return false
}

func (c *Compatibility) inExclusiveFamily(mr rules.ModeRule, tag string) bool {
	for _, other := range mr.ExclusiveWith {
		or, ok := c.rules.Mode(other)
		if ok && or.Family.Has(tag) {
			return true
		}
	}
	return false
}
