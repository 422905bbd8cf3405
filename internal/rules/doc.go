// Package rules holds the declarative tables that drive ranking.
//
// Every keyword list, tag family, multiplier bound and weight used by the
// ranking pipeline is defined in one versioned YAML document. The embedded
// default_rules.yaml is used unless a replacement path is configured.
//
// # Loading
//
//	r, err := rules.Load(cfg.Ranking.RulesPath) // "" selects the embedded defaults
//	if err != nil {
//	    return err
//	}
//
// Parse validates the document completely before returning: unknown YAML
// fields, unknown categories or modes, weights that do not sum to 1.0,
// multipliers outside their bounds and references to missing pattern groups
// are all reported as ErrInvalidRules. A Rules value that loaded successfully
// never fails at ranking time.
//
// # Pattern Groups
//
// Keyword lists (intents, emotional families) are compiled as literal,
// word-bounded, case-insensitive patterns. Named pattern groups are regular
// expressions. Both are evaluated with PatternGroup.Count and Any:
//
//	g, _ := r.Group("next_step")
//	g.Count("Start by writing down three ideas this week.") // 2
//
// # Concurrency
//
// A compiled Rules value is immutable and safe to share across goroutines.
package rules
