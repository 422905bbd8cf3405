package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dshills/chiprank/pkg/types"
)

// ErrInvalidRules is returned when a rules document fails validation.
var ErrInvalidRules = errors.New("invalid rules")

//go:embed default_rules.yaml
var defaultDocument []byte

// Metric names one of the four mode-aware quality metrics.
type Metric string

const (
	MetricEmpathy Metric = "empathy"
	MetricClarity Metric = "clarity"
	MetricEnergy  Metric = "energy"
	MetricWisdom  Metric = "wisdom"
)

// Metrics lists the quality metrics in a fixed order.
var Metrics = []Metric{MetricEmpathy, MetricClarity, MetricEnergy, MetricWisdom}

// IntentGroup maps a keyword group to a topical category.
type IntentGroup struct {
	Category types.Category
	Keywords *PatternGroup
}

// EmotionalFamily maps a family of emotional keywords to a mode.
type EmotionalFamily struct {
	Name       string
	Mode       types.Mode
	Confidence float64
	Keywords   *PatternGroup
}

// Override is a mode decision with its confidence.
type Override struct {
	Mode       types.Mode
	Confidence float64
}

// ArchetypeRule holds everything the engine knows about an archetype.
type ArchetypeRule struct {
	CrisisSafe bool
	Deltas     types.WeightVector
	Intents    map[types.Category]Override
}

// MultiplierRule bounds the mode-weight multiplier of the unified scorer.
type MultiplierRule struct {
	PrimaryBase   float64
	PrimaryStep   float64
	PrimaryMax    float64
	SecondaryBase float64
	SecondaryStep float64
	SecondaryMax  float64
	OpposingStep  float64
	Floor         float64
}

// ModeRule is the declarative record for one interaction mode.
type ModeRule struct {
	Mode           types.Mode
	Weights        types.WeightVector
	Family         TagSet
	ExclusiveWith  []types.Mode
	PrimaryBoost   TagSet
	SecondaryBoost TagSet
	Opposing       TagSet
	Multiplier     MultiplierRule
	Metric         Metric
}

// PersonaAdjustment adds Weight to the persona multiplier when Group matches.
// A non-nil Unless group cancels the adjustment when it also matches.
type PersonaAdjustment struct {
	Group  *PatternGroup
	Weight float64
	Unless *PatternGroup
}

// PersonaRules configures the persona-fit multiplier.
type PersonaRules struct {
	Min            float64
	Max            float64
	CategoryBoosts map[types.Category]float64
	Boosts         []PersonaAdjustment
	Penalties      []PersonaAdjustment
}

// AuthenticityRules configures the authenticity filter.
type AuthenticityRules struct {
	RedFlags         []*PatternGroup
	MarkerCategories map[types.Category]bool
	Markers          []*PatternGroup
}

// QualityRule lists the signals that earn credit toward one metric.
type QualityRule struct {
	Tags     TagSet
	Patterns []*PatternGroup
}

// QualityRules configures the four quality metrics.
type QualityRules struct {
	TagCredit     float64
	PatternCredit float64
	Metrics       map[Metric]QualityRule
}

// WarningRule flags a known-bad combination after mode resolution.
type WarningRule struct {
	Code            string
	Message         string
	Mode            types.Mode
	CrisisArchetype bool
	Family          string
}

// Rules is the compiled, validated rule set. It is read-only after Parse
// returns and may be shared across goroutines.
type Rules struct {
	Version          string
	CrisisConfidence float64
	StageConfidence  float64

	Intents      []IntentGroup
	Families     []EmotionalFamily
	Archetypes   map[types.Archetype]ArchetypeRule
	Stages       map[types.Stage]types.Mode
	Modes        map[types.Mode]ModeRule
	Persona      PersonaRules
	Authenticity AuthenticityRules
	Quality      QualityRules
	Warnings     []WarningRule

	related map[[2]types.Category]bool
	groups  map[string]*PatternGroup
}

var (
	defaultOnce  sync.Once
	defaultRules *Rules
	defaultErr   error
)

// Default returns the embedded rule set. It is parsed once per process.
func Default() (*Rules, error) {
	defaultOnce.Do(func() {
		defaultRules, defaultErr = Parse(defaultDocument)
	})
	return defaultRules, defaultErr
}

// MustDefault is like Default but panics on error. The embedded document is
// validated by tests, so this only fails on a broken build.
func MustDefault() *Rules {
	r, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// Load reads a rules document from path. An empty path selects the
// embedded defaults.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return r, nil
}

// DefaultDocument returns a copy of the embedded YAML document.
func DefaultDocument() []byte {
	out := make([]byte, len(defaultDocument))
	copy(out, defaultDocument)
	return out
}

// Related reports whether two distinct categories form a related pair.
func (r *Rules) Related(a, b types.Category) bool {
	return r.related[pairKey(a, b)]
}

// Group returns a named pattern group.
func (r *Rules) Group(name string) (*PatternGroup, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// Mode returns the rule record for m.
func (r *Rules) Mode(m types.Mode) (ModeRule, bool) {
	rule, ok := r.Modes[m]
	return rule, ok
}

// Archetype returns the rule record for a. Unknown archetypes get the zero
// record: no deltas, no overrides.
func (r *Rules) Archetype(a types.Archetype) ArchetypeRule {
	return r.Archetypes[a]
}

func pairKey(a, b types.Category) [2]types.Category {
	if b < a {
		a, b = b, a
	}
	return [2]types.Category{a, b}
}
