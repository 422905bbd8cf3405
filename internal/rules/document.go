package rules

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/dshills/chiprank/pkg/types"
)

// document mirrors the YAML layout of a rules file.
type document struct {
	Version            string                  `yaml:"version"`
	CrisisConfidence   float64                 `yaml:"crisis_confidence"`
	StageConfidence    float64                 `yaml:"stage_confidence"`
	Patterns           map[string][]string     `yaml:"patterns"`
	Intents            []intentDoc             `yaml:"intents"`
	RelatedPairs       [][]string              `yaml:"related_pairs"`
	EmotionalFamilies  []familyDoc             `yaml:"emotional_families"`
	Archetypes         map[string]archetypeDoc `yaml:"archetypes"`
	Stages             map[string]string       `yaml:"stages"`
	MultiplierDefaults multiplierDoc           `yaml:"multiplier_defaults"`
	Modes              map[string]modeDoc      `yaml:"modes"`
	Persona            personaDoc              `yaml:"persona"`
	Authenticity       authenticityDoc         `yaml:"authenticity"`
	Quality            qualityDoc              `yaml:"quality"`
	Warnings           []warningDoc            `yaml:"warnings"`
}

type intentDoc struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

type familyDoc struct {
	Name       string   `yaml:"name"`
	Mode       string   `yaml:"mode"`
	Confidence float64  `yaml:"confidence"`
	Keywords   []string `yaml:"keywords"`
}

type overrideDoc struct {
	Mode       string  `yaml:"mode"`
	Confidence float64 `yaml:"confidence"`
}

type weightsDoc struct {
	Topical   float64 `yaml:"topical"`
	Tactical  float64 `yaml:"tactical"`
	Emotional float64 `yaml:"emotional"`
}

type archetypeDoc struct {
	CrisisSafe bool                   `yaml:"crisis_safe"`
	Deltas     weightsDoc             `yaml:"deltas"`
	Intents    map[string]overrideDoc `yaml:"intents"`
}

type multiplierDoc struct {
	PrimaryBase   float64 `yaml:"primary_base"`
	PrimaryStep   float64 `yaml:"primary_step"`
	PrimaryMax    float64 `yaml:"primary_max"`
	SecondaryBase float64 `yaml:"secondary_base"`
	SecondaryStep float64 `yaml:"secondary_step"`
	SecondaryMax  float64 `yaml:"secondary_max"`
	OpposingStep  float64 `yaml:"opposing_step"`
	Floor         float64 `yaml:"floor"`
}

type modeDoc struct {
	Weights        weightsDoc     `yaml:"weights"`
	Family         []string       `yaml:"family"`
	ExclusiveWith  []string       `yaml:"exclusive_with"`
	PrimaryBoost   []string       `yaml:"primary_boost"`
	SecondaryBoost []string       `yaml:"secondary_boost"`
	Opposing       []string       `yaml:"opposing"`
	Multiplier     *multiplierDoc `yaml:"multiplier"`
	Metric         string         `yaml:"metric"`
}

type adjustmentDoc struct {
	Group  string  `yaml:"group"`
	Weight float64 `yaml:"weight"`
	Unless string  `yaml:"unless"`
}

type personaDoc struct {
	Min            float64            `yaml:"min"`
	Max            float64            `yaml:"max"`
	CategoryBoosts map[string]float64 `yaml:"category_boosts"`
	Boosts         []adjustmentDoc    `yaml:"boosts"`
	Penalties      []adjustmentDoc    `yaml:"penalties"`
}

type authenticityDoc struct {
	RedFlags         []string `yaml:"red_flags"`
	MarkerCategories []string `yaml:"marker_categories"`
	Markers          []string `yaml:"markers"`
}

type metricDoc struct {
	Tags     []string `yaml:"tags"`
	Patterns []string `yaml:"patterns"`
}

type qualityDoc struct {
	TagCredit     float64              `yaml:"tag_credit"`
	PatternCredit float64              `yaml:"pattern_credit"`
	Metrics       map[string]metricDoc `yaml:"metrics"`
}

type warningDoc struct {
	Code            string `yaml:"code"`
	Mode            string `yaml:"mode"`
	CrisisArchetype bool   `yaml:"crisis_archetype"`
	Family          string `yaml:"family"`
	Message         string `yaml:"message"`
}

// Multiplier and persona bounds every rules file must stay within.
const (
	minModeMultiplier    = 0.8
	maxModeMultiplier    = 1.4
	minPersonaMultiplier = 0.8
	maxPersonaMultiplier = 1.3
)

// Parse decodes and validates a rules document. Unknown YAML fields are
// rejected so that typos do not silently disable a rule.
func Parse(data []byte) (*Rules, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidRules, err)
	}
	return doc.compile()
}

func (d *document) compile() (*Rules, error) {
	if _, err := semver.NewVersion(d.Version); err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidRules, d.Version, err)
	}
	if !inUnit(d.CrisisConfidence) || !inUnit(d.StageConfidence) {
		return nil, fmt.Errorf("%w: crisis_confidence and stage_confidence must be in (0, 1]", ErrInvalidRules)
	}

	r := &Rules{
		Version:          d.Version,
		CrisisConfidence: d.CrisisConfidence,
		StageConfidence:  d.StageConfidence,
		related:          make(map[[2]types.Category]bool),
		groups:           make(map[string]*PatternGroup, len(d.Patterns)),
	}

	// Sorted so that the first reported error is stable.
	names := make([]string, 0, len(d.Patterns))
	for name := range d.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g, err := compilePatterns(name, d.Patterns[name])
		if err != nil {
			return nil, err
		}
		r.groups[name] = g
	}

	steps := []func(*Rules) error{
		d.compileIntents,
		d.compileRelated,
		d.compileFamilies,
		d.compileArchetypes,
		d.compileStages,
		d.compileModes,
		d.compilePersona,
		d.compileAuthenticity,
		d.compileQuality,
		d.compileWarnings,
	}
	for _, step := range steps {
		if err := step(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (d *document) compileIntents(r *Rules) error {
	seen := make(map[types.Category]bool)
	for i, in := range d.Intents {
		cat, err := types.ParseCategory(in.Category)
		if err != nil {
			return fmt.Errorf("%w: intents[%d]: %v", ErrInvalidRules, i, err)
		}
		if cat == types.CategoryGeneral {
			return fmt.Errorf("%w: intents[%d]: general is the fallback and takes no keywords", ErrInvalidRules, i)
		}
		if seen[cat] {
			return fmt.Errorf("%w: intents[%d]: duplicate category %s", ErrInvalidRules, i, cat)
		}
		seen[cat] = true
		if len(in.Keywords) == 0 {
			return fmt.Errorf("%w: intents[%d]: no keywords", ErrInvalidRules, i)
		}
		g, err := compileKeywords("intent:"+string(cat), in.Keywords)
		if err != nil {
			return err
		}
		r.Intents = append(r.Intents, IntentGroup{Category: cat, Keywords: g})
	}
	return nil
}

func (d *document) compileRelated(r *Rules) error {
	for i, pair := range d.RelatedPairs {
		if len(pair) != 2 {
			return fmt.Errorf("%w: related_pairs[%d]: want 2 categories, got %d", ErrInvalidRules, i, len(pair))
		}
		a, err := types.ParseCategory(pair[0])
		if err != nil {
			return fmt.Errorf("%w: related_pairs[%d]: %v", ErrInvalidRules, i, err)
		}
		b, err := types.ParseCategory(pair[1])
		if err != nil {
			return fmt.Errorf("%w: related_pairs[%d]: %v", ErrInvalidRules, i, err)
		}
		if a == b {
			return fmt.Errorf("%w: related_pairs[%d]: category paired with itself", ErrInvalidRules, i)
		}
		r.related[pairKey(a, b)] = true
	}
	return nil
}

func (d *document) compileFamilies(r *Rules) error {
	seen := make(map[string]bool)
	for i, f := range d.EmotionalFamilies {
		if f.Name == "" {
			return fmt.Errorf("%w: emotional_families[%d]: missing name", ErrInvalidRules, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: emotional_families[%d]: duplicate name %s", ErrInvalidRules, i, f.Name)
		}
		seen[f.Name] = true
		mode, err := types.ParseMode(f.Mode)
		if err != nil {
			return fmt.Errorf("%w: emotional_families.%s: %v", ErrInvalidRules, f.Name, err)
		}
		if !inUnit(f.Confidence) {
			return fmt.Errorf("%w: emotional_families.%s: confidence must be in (0, 1]", ErrInvalidRules, f.Name)
		}
		if len(f.Keywords) == 0 {
			return fmt.Errorf("%w: emotional_families.%s: no keywords", ErrInvalidRules, f.Name)
		}
		g, err := compileKeywords("family:"+f.Name, f.Keywords)
		if err != nil {
			return err
		}
		r.Families = append(r.Families, EmotionalFamily{
			Name:       f.Name,
			Mode:       mode,
			Confidence: f.Confidence,
			Keywords:   g,
		})
	}
	return nil
}

func (d *document) compileArchetypes(r *Rules) error {
	r.Archetypes = make(map[types.Archetype]ArchetypeRule, len(d.Archetypes))
	for name, a := range d.Archetypes {
		arch, err := types.ParseArchetype(name)
		if err != nil {
			return fmt.Errorf("%w: archetypes: %v", ErrInvalidRules, err)
		}
		deltas := a.Deltas.vector()
		for _, c := range types.DominanceOrder {
			if v := deltas.Get(c); v < -1 || v > 1 {
				return fmt.Errorf("%w: archetypes.%s: %s delta %.2f out of range", ErrInvalidRules, name, c, v)
			}
		}
		rule := ArchetypeRule{
			CrisisSafe: a.CrisisSafe,
			Deltas:     deltas,
			Intents:    make(map[types.Category]Override, len(a.Intents)),
		}
		for catName, o := range a.Intents {
			cat, err := types.ParseCategory(catName)
			if err != nil {
				return fmt.Errorf("%w: archetypes.%s.intents: %v", ErrInvalidRules, name, err)
			}
			mode, err := types.ParseMode(o.Mode)
			if err != nil {
				return fmt.Errorf("%w: archetypes.%s.intents.%s: %v", ErrInvalidRules, name, catName, err)
			}
			if !inUnit(o.Confidence) {
				return fmt.Errorf("%w: archetypes.%s.intents.%s: confidence must be in (0, 1]", ErrInvalidRules, name, catName)
			}
			rule.Intents[cat] = Override{Mode: mode, Confidence: o.Confidence}
		}
		r.Archetypes[arch] = rule
	}
	return nil
}

func (d *document) compileStages(r *Rules) error {
	r.Stages = make(map[types.Stage]types.Mode, len(types.Stages))
	for name, m := range d.Stages {
		stage, err := types.ParseStage(name)
		if err != nil {
			return fmt.Errorf("%w: stages: %v", ErrInvalidRules, err)
		}
		mode, err := types.ParseMode(m)
		if err != nil {
			return fmt.Errorf("%w: stages.%s: %v", ErrInvalidRules, name, err)
		}
		r.Stages[stage] = mode
	}
	for _, stage := range types.Stages {
		if _, ok := r.Stages[stage]; !ok {
			return fmt.Errorf("%w: stages: no default mode for %s", ErrInvalidRules, stage)
		}
	}
	return nil
}

func (d *document) compileModes(r *Rules) error {
	r.Modes = make(map[types.Mode]ModeRule, len(types.Modes))
	for name, m := range d.Modes {
		mode, err := types.ParseMode(name)
		if err != nil {
			return fmt.Errorf("%w: modes: %v", ErrInvalidRules, err)
		}
		w := m.Weights.vector()
		if !w.Normalized() {
			return fmt.Errorf("%w: modes.%s: weights must be non-negative and sum to 1.0 (got %.3f)", ErrInvalidRules, name, w.Sum())
		}
		metric := Metric(m.Metric)
		if !validMetric(metric) {
			return fmt.Errorf("%w: modes.%s: unknown metric %q", ErrInvalidRules, name, m.Metric)
		}
		var exclusive []types.Mode
		for _, e := range m.ExclusiveWith {
			em, err := types.ParseMode(e)
			if err != nil {
				return fmt.Errorf("%w: modes.%s.exclusive_with: %v", ErrInvalidRules, name, err)
			}
			if em == mode {
				return fmt.Errorf("%w: modes.%s: a mode cannot exclude itself", ErrInvalidRules, name)
			}
			exclusive = append(exclusive, em)
		}
		mult := d.MultiplierDefaults
		if m.Multiplier != nil {
			mult = *m.Multiplier
		}
		if err := mult.validate(name); err != nil {
			return err
		}
		r.Modes[mode] = ModeRule{
			Mode:           mode,
			Weights:        w,
			Family:         newTagSet(m.Family),
			ExclusiveWith:  exclusive,
			PrimaryBoost:   newTagSet(m.PrimaryBoost),
			SecondaryBoost: newTagSet(m.SecondaryBoost),
			Opposing:       newTagSet(m.Opposing),
			Multiplier:     mult.rule(),
			Metric:         metric,
		}
	}
	for _, mode := range types.Modes {
		if _, ok := r.Modes[mode]; !ok {
			return fmt.Errorf("%w: modes: missing record for %s", ErrInvalidRules, mode)
		}
	}
	return nil
}

func (d *document) compilePersona(r *Rules) error {
	p := d.Persona
	if p.Min < minPersonaMultiplier || p.Max > maxPersonaMultiplier || p.Min >= p.Max {
		return fmt.Errorf("%w: persona: bounds [%.2f, %.2f] must lie within [%.1f, %.1f]",
			ErrInvalidRules, p.Min, p.Max, minPersonaMultiplier, maxPersonaMultiplier)
	}
	r.Persona = PersonaRules{
		Min:            p.Min,
		Max:            p.Max,
		CategoryBoosts: make(map[types.Category]float64, len(p.CategoryBoosts)),
	}
	for name, w := range p.CategoryBoosts {
		cat, err := types.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("%w: persona.category_boosts: %v", ErrInvalidRules, err)
		}
		r.Persona.CategoryBoosts[cat] = w
	}
	var err error
	if r.Persona.Boosts, err = r.adjustments("persona.boosts", p.Boosts); err != nil {
		return err
	}
	if r.Persona.Penalties, err = r.adjustments("persona.penalties", p.Penalties); err != nil {
		return err
	}
	return nil
}

func (r *Rules) adjustments(path string, docs []adjustmentDoc) ([]PersonaAdjustment, error) {
	out := make([]PersonaAdjustment, 0, len(docs))
	for i, a := range docs {
		g, err := r.lookup(fmt.Sprintf("%s[%d]", path, i), a.Group)
		if err != nil {
			return nil, err
		}
		if a.Weight <= 0 {
			return nil, fmt.Errorf("%w: %s[%d]: weight must be positive", ErrInvalidRules, path, i)
		}
		adj := PersonaAdjustment{Group: g, Weight: a.Weight}
		if a.Unless != "" {
			if adj.Unless, err = r.lookup(fmt.Sprintf("%s[%d].unless", path, i), a.Unless); err != nil {
				return nil, err
			}
		}
		out = append(out, adj)
	}
	return out, nil
}

func (d *document) compileAuthenticity(r *Rules) error {
	a := d.Authenticity
	r.Authenticity.MarkerCategories = make(map[types.Category]bool, len(a.MarkerCategories))
	for _, name := range a.MarkerCategories {
		cat, err := types.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("%w: authenticity.marker_categories: %v", ErrInvalidRules, err)
		}
		r.Authenticity.MarkerCategories[cat] = true
	}
	for _, name := range a.RedFlags {
		g, err := r.lookup("authenticity.red_flags", name)
		if err != nil {
			return err
		}
		r.Authenticity.RedFlags = append(r.Authenticity.RedFlags, g)
	}
	for _, name := range a.Markers {
		g, err := r.lookup("authenticity.markers", name)
		if err != nil {
			return err
		}
		r.Authenticity.Markers = append(r.Authenticity.Markers, g)
	}
	return nil
}

func (d *document) compileQuality(r *Rules) error {
	q := d.Quality
	if !inUnit(q.TagCredit) || !inUnit(q.PatternCredit) {
		return fmt.Errorf("%w: quality: credits must be in (0, 1]", ErrInvalidRules)
	}
	r.Quality = QualityRules{
		TagCredit:     q.TagCredit,
		PatternCredit: q.PatternCredit,
		Metrics:       make(map[Metric]QualityRule, len(Metrics)),
	}
	for name, m := range q.Metrics {
		metric := Metric(name)
		if !validMetric(metric) {
			return fmt.Errorf("%w: quality.metrics: unknown metric %q", ErrInvalidRules, name)
		}
		rule := QualityRule{Tags: newTagSet(m.Tags)}
		for _, gname := range m.Patterns {
			g, err := r.lookup("quality.metrics."+name, gname)
			if err != nil {
				return err
			}
			rule.Patterns = append(rule.Patterns, g)
		}
		r.Quality.Metrics[metric] = rule
	}
	for _, metric := range Metrics {
		if _, ok := r.Quality.Metrics[metric]; !ok {
			return fmt.Errorf("%w: quality.metrics: missing %s", ErrInvalidRules, metric)
		}
	}
	return nil
}

func (d *document) compileWarnings(r *Rules) error {
	for i, w := range d.Warnings {
		if w.Code == "" {
			return fmt.Errorf("%w: warnings[%d]: missing code", ErrInvalidRules, i)
		}
		mode, err := types.ParseMode(w.Mode)
		if err != nil {
			return fmt.Errorf("%w: warnings.%s: %v", ErrInvalidRules, w.Code, err)
		}
		if w.Family != "" && !r.hasFamily(w.Family) {
			return fmt.Errorf("%w: warnings.%s: unknown family %q", ErrInvalidRules, w.Code, w.Family)
		}
		if !w.CrisisArchetype && w.Family == "" {
			return fmt.Errorf("%w: warnings.%s: needs crisis_archetype or family", ErrInvalidRules, w.Code)
		}
		r.Warnings = append(r.Warnings, WarningRule{
			Code:            w.Code,
			Message:         w.Message,
			Mode:            mode,
			CrisisArchetype: w.CrisisArchetype,
			Family:          w.Family,
		})
	}
	return nil
}

func (r *Rules) lookup(path, name string) (*PatternGroup, error) {
	g, ok := r.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown pattern group %q", ErrInvalidRules, path, name)
	}
	return g, nil
}

func (r *Rules) hasFamily(name string) bool {
	for _, f := range r.Families {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (w weightsDoc) vector() types.WeightVector {
	return types.WeightVector{Topical: w.Topical, Tactical: w.Tactical, Emotional: w.Emotional}
}

func (m multiplierDoc) validate(mode string) error {
	if m.Floor < minModeMultiplier || m.Floor > 1.0 {
		return fmt.Errorf("%w: modes.%s: multiplier floor %.2f outside [%.1f, 1.0]", ErrInvalidRules, mode, m.Floor, minModeMultiplier)
	}
	for _, v := range []float64{m.PrimaryBase, m.PrimaryMax, m.SecondaryBase, m.SecondaryMax} {
		if v < 1.0 || v > maxModeMultiplier {
			return fmt.Errorf("%w: modes.%s: boost multiplier %.2f outside [1.0, %.1f]", ErrInvalidRules, mode, v, maxModeMultiplier)
		}
	}
	if m.PrimaryBase > m.PrimaryMax || m.SecondaryBase > m.SecondaryMax {
		return fmt.Errorf("%w: modes.%s: multiplier base exceeds its max", ErrInvalidRules, mode)
	}
	if m.PrimaryStep < 0 || m.SecondaryStep < 0 || m.OpposingStep < 0 {
		return fmt.Errorf("%w: modes.%s: multiplier steps must be non-negative", ErrInvalidRules, mode)
	}
	return nil
}

func (m multiplierDoc) rule() MultiplierRule {
	return MultiplierRule(m)
}

func validMetric(m Metric) bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

func inUnit(v float64) bool {
	return v > 0 && v <= 1 && !math.IsNaN(v)
}
