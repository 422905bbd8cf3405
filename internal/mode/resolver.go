package mode

import (
	"errors"
	"fmt"

	"github.com/dshills/chiprank/internal/intent"
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// ErrNoRuleMatched means the rule chain produced no decision. With a
// validated rules table the stage default always fires, so this indicates a
// custom chain without a fallback.
var ErrNoRuleMatched = errors.New("no mode rule matched")

// Warning is an advisory flag raised after resolution. It never changes the
// chosen mode.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Resolution is the outcome of mode resolution for one turn.
type Resolution struct {
	Mode       types.Mode
	Confidence float64
	Rule       string // Name of the rule that fired
	Detail     string
	Intent     intent.Result
	Families   []string
	Warnings   []Warning
	Trace      []string
}

// Resolver combines stage, archetype and emotional keywords into a mode by
// evaluating a prioritized rule chain.
type Resolver struct {
	rules      *rules.Rules
	classifier *intent.Classifier
	chain      []Rule
}

// NewResolver builds the standard chain: emotional keywords, then the
// archetype and intent table, then the stage default.
func NewResolver(r *rules.Rules) *Resolver {
	return NewResolverWithChain(r, []Rule{
		emotionalKeywordRule{families: r.Families},
		archetypeIntentRule{rules: r},
		stageDefaultRule{rules: r},
	})
}

// NewResolverWithChain builds a resolver over a custom rule chain.
func NewResolverWithChain(r *rules.Rules, chain []Rule) *Resolver {
	return &Resolver{
		rules:      r,
		classifier: intent.New(r),
		chain:      chain,
	}
}

// Chain returns the rules in evaluation order.
func (r *Resolver) Chain() []Rule {
	out := make([]Rule, len(r.chain))
	copy(out, r.chain)
	return out
}

// Resolve picks the interaction mode for a message. Only archetype and
// stage values outside their closed sets are errors; everything else
// degrades to the stage default.
func (r *Resolver) Resolve(query string, archetype types.Archetype, stage types.Stage) (*Resolution, error) {
	if !archetype.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidArchetype, archetype)
	}
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidStage, stage)
	}

	in := Input{
		Query:     query,
		Archetype: archetype,
		Stage:     stage,
		Families:  detectFamilies(r.rules.Families, query),
	}
	detected := r.classifier.Classify(query)
	in.Intent = detected.Category

	for _, rule := range r.chain {
		d, ok := rule.Evaluate(in)
		if !ok {
			continue
		}
		res := &Resolution{
			Mode:       d.Mode,
			Confidence: d.Confidence,
			Rule:       rule.Name(),
			Detail:     d.Detail,
			Intent:     detected,
			Families:   in.Families,
		}
		res.Warnings = validate(r.rules, res, archetype)
		res.Trace = buildTrace(in, res)
		return res, nil
	}

	return nil, ErrNoRuleMatched
}

func buildTrace(in Input, res *Resolution) []string {
	rule := res.Rule
	if res.Rule == RuleEmotionalKeyword {
		rule = fmt.Sprintf("%s(%s)", res.Rule, res.Detail)
	}
	return []string{
		"stage:" + string(in.Stage),
		"archetype:" + string(in.Archetype),
		"intent:" + string(in.Intent),
		"rule:" + rule,
		"mode:" + string(res.Mode),
		fmt.Sprintf("confidence:%.2f", res.Confidence),
	}
}
