package mode

import (
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

// Rule names, in evaluation order.
const (
	RuleEmotionalKeyword = "emotional_keyword"
	RuleArchetypeIntent  = "archetype_intent"
	RuleStageDefault     = "stage_default"
)

// Input is everything a rule may look at.
type Input struct {
	Query     string
	Archetype types.Archetype
	Stage     types.Stage
	Intent    types.Category
	// Families lists the emotional keyword families present in Query, in
	// scan order.
	Families []string
}

// Decision is a rule's opinion on the mode.
type Decision struct {
	Mode       types.Mode
	Confidence float64
	Detail     string
}

// Rule evaluates one tier of mode resolution. It returns false when it has
// no opinion, passing control to the next rule.
type Rule interface {
	Name() string
	Evaluate(in Input) (Decision, bool)
}

// emotionalKeywordRule maps the first emotional keyword family present in
// the message to its mode.
type emotionalKeywordRule struct {
	families []rules.EmotionalFamily
}

func (emotionalKeywordRule) Name() string { return RuleEmotionalKeyword }

func (r emotionalKeywordRule) Evaluate(in Input) (Decision, bool) {
	if len(in.Families) == 0 {
		return Decision{}, false
	}
	first := in.Families[0]
	for _, f := range r.families {
		if f.Name == first {
			return Decision{Mode: f.Mode, Confidence: f.Confidence, Detail: f.Name}, true
		}
	}
	return Decision{}, false
}

// archetypeIntentRule looks up the (archetype, intent) table. Crisis-safe
// archetypes always resolve to supportive.
type archetypeIntentRule struct {
	rules *rules.Rules
}

func (archetypeIntentRule) Name() string { return RuleArchetypeIntent }

func (r archetypeIntentRule) Evaluate(in Input) (Decision, bool) {
	arch := r.rules.Archetype(in.Archetype)
	if arch.CrisisSafe {
		return Decision{
			Mode:       types.ModeSupportive,
			Confidence: r.rules.CrisisConfidence,
			Detail:     "crisis_safe",
		}, true
	}
	o, ok := arch.Intents[in.Intent]
	if !ok {
		return Decision{}, false
	}
	return Decision{Mode: o.Mode, Confidence: o.Confidence, Detail: string(in.Intent)}, true
}

// stageDefaultRule is the fallback: every stage has a default mode.
type stageDefaultRule struct {
	rules *rules.Rules
}

func (stageDefaultRule) Name() string { return RuleStageDefault }

func (r stageDefaultRule) Evaluate(in Input) (Decision, bool) {
	m, ok := r.rules.Stages[in.Stage]
	if !ok {
		return Decision{}, false
	}
	return Decision{Mode: m, Confidence: r.rules.StageConfidence, Detail: string(in.Stage)}, true
}

// detectFamilies returns the names of the emotional families whose keywords
// appear in query, in scan order.
func detectFamilies(families []rules.EmotionalFamily, query string) []string {
	var out []string
	for _, f := range families {
		if f.Keywords.Any(query) {
			out = append(out, f.Name)
		}
	}
	return out
}
