package mode

import (
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// validate checks the resolved mode against the known-bad combinations of
// the rules table. All conditions set on a warning rule must hold.
func validate(r *rules.Rules, res *Resolution, archetype types.Archetype) []Warning {
	crisis := r.Archetype(archetype).CrisisSafe

	var out []Warning
	for _, w := range r.Warnings {
		if w.Mode != res.Mode {
			continue
		}
		if w.CrisisArchetype && !crisis {
			continue
		}
		if w.Family != "" && !contains(res.Families, w.Family) {
			continue
		}
		out = append(out, Warning{Code: w.Code, Message: w.Message})
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
