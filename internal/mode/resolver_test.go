package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/pkg/types"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(rules.MustDefault())
}

func TestResolveScenarios(t *testing.T) {
	r := newTestResolver(t)

	t.Run("distress overrides archetype and stage", func(t *testing.T) {
		res, err := r.Resolve("I'm feeling overwhelmed by all of this", types.ArchetypeHighAchiever, types.StageExecution)
		require.NoError(t, err)
		assert.Equal(t, types.ModeSupportive, res.Mode)
		assert.Equal(t, RuleEmotionalKeyword, res.Rule)
		assert.Equal(t, "distress", res.Detail)
		assert.InDelta(t, 0.95, res.Confidence, 1e-9)
		assert.NotEqual(t, types.CategoryAcademics, res.Intent.Category)
	})

	t.Run("archetype intent override without emotional keywords", func(t *testing.T) {
		res, err := r.Resolve("What GPA do I need for a top school?", types.ArchetypeHighAchiever, types.StageDiagnostic)
		require.NoError(t, err)
		assert.Equal(t, types.CategoryAcademics, res.Intent.Category)
		assert.Equal(t, types.ModeDirect, res.Mode)
		assert.Equal(t, RuleArchetypeIntent, res.Rule)
		assert.Empty(t, res.Families)
	})

	t.Run("stage default when nothing else fires", func(t *testing.T) {
		res, err := r.Resolve("hello there", types.ArchetypeUndetermined, types.StageClosing)
		require.NoError(t, err)
		assert.Equal(t, types.ModeEnergizing, res.Mode)
		assert.Equal(t, RuleStageDefault, res.Rule)
		assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	})

	t.Run("confusion maps to reflective", func(t *testing.T) {
		res, err := r.Resolve("I'm not sure which path to take", types.ArchetypeExplorer, types.StageExecution)
		require.NoError(t, err)
		assert.Equal(t, types.ModeReflective, res.Mode)
		assert.Equal(t, "confusion", res.Detail)
	})

	t.Run("energy maps to energizing", func(t *testing.T) {
		res, err := r.Resolve("I'm so excited to get started", types.ArchetypeQuietThinker, types.StageDiagnostic)
		require.NoError(t, err)
		assert.Equal(t, types.ModeEnergizing, res.Mode)
	})

	t.Run("tactical demand maps to direct", func(t *testing.T) {
		res, err := r.Resolve("How many schools should I apply to?", types.ArchetypeUndetermined, types.StageOpening)
		require.NoError(t, err)
		assert.Equal(t, types.ModeDirect, res.Mode)
		assert.Equal(t, "tactical", res.Detail)
	})

	t.Run("distress has scan priority over other families", func(t *testing.T) {
		res, err := r.Resolve("I'm confused and overwhelmed", types.ArchetypeUndetermined, types.StageDiagnostic)
		require.NoError(t, err)
		assert.Equal(t, types.ModeSupportive, res.Mode)
		assert.Equal(t, []string{"distress", "confusion"}, res.Families)
	})
}

func TestDistressAlwaysSupportive(t *testing.T) {
	r := newTestResolver(t)
	for _, arch := range types.Archetypes {
		for _, stage := range types.Stages {
			res, err := r.Resolve("honestly I'm panicking about everything", arch, stage)
			require.NoError(t, err)
			assert.Equal(t, types.ModeSupportive, res.Mode, "archetype=%s stage=%s", arch, stage)
		}
	}
}

func TestCrisisArchetypeAlwaysSupportive(t *testing.T) {
	r := newTestResolver(t)
	queries := []string{
		"What GPA do I need for a top school?",
		"Tell me about summer research programs",
		"How should I write my essay?",
		"hello",
		"",
	}
	for _, q := range queries {
		for _, stage := range types.Stages {
			res, err := r.Resolve(q, types.ArchetypeBurnout, stage)
			require.NoError(t, err)
			assert.Equal(t, types.ModeSupportive, res.Mode, "query=%q stage=%s", q, stage)
			assert.Equal(t, RuleArchetypeIntent, res.Rule)
			assert.InDelta(t, 0.9, res.Confidence, 1e-9)
		}
	}
}

func TestCrisisArchetypeYieldsToEmotionalKeywords(t *testing.T) {
	r := newTestResolver(t)

	res, err := r.Resolve("Tell me exactly what to do next", types.ArchetypeBurnout, types.StageOpening)
	require.NoError(t, err)
	assert.Equal(t, types.ModeDirect, res.Mode)
	assert.Equal(t, RuleEmotionalKeyword, res.Rule)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "direct_mode_crisis_archetype", res.Warnings[0].Code)
}

func TestWarnings(t *testing.T) {
	r := newTestResolver(t)

	t.Run("supportive with tactical demand", func(t *testing.T) {
		res, err := r.Resolve("I'm overwhelmed, how many essays exactly?", types.ArchetypeHighAchiever, types.StageExecution)
		require.NoError(t, err)
		assert.Equal(t, types.ModeSupportive, res.Mode)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "supportive_mode_with_tactical_demand", res.Warnings[0].Code)
	})

	t.Run("clean resolution has no warnings", func(t *testing.T) {
		res, err := r.Resolve("What GPA do I need?", types.ArchetypeHighAchiever, types.StageDiagnostic)
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)
	})
}

func TestResolveTrace(t *testing.T) {
	r := newTestResolver(t)

	res, err := r.Resolve("I'm feeling overwhelmed by all of this", types.ArchetypeHighAchiever, types.StageExecution)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"stage:execution",
		"archetype:high_achiever",
		"intent:emotional_support",
		"rule:emotional_keyword(distress)",
		"mode:supportive",
		"confidence:0.95",
	}, res.Trace)
}

func TestResolveRejectsInvalidEnums(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve("hi", types.Archetype("wizard"), types.StageOpening)
	assert.ErrorIs(t, err, types.ErrInvalidArchetype)

	_, err = r.Resolve("hi", types.ArchetypeExplorer, types.Stage("finale"))
	assert.ErrorIs(t, err, types.ErrInvalidStage)
}

func TestRulesIndependently(t *testing.T) {
	rs := rules.MustDefault()

	t.Run("emotional keyword rule silent without families", func(t *testing.T) {
		_, ok := emotionalKeywordRule{families: rs.Families}.Evaluate(Input{Query: "hello"})
		assert.False(t, ok)
	})

	t.Run("archetype rule silent for unmapped intent", func(t *testing.T) {
		_, ok := archetypeIntentRule{rules: rs}.Evaluate(Input{
			Archetype: types.ArchetypeHighAchiever,
			Intent:    types.CategoryGeneral,
		})
		assert.False(t, ok)
	})

	t.Run("stage rule always fires for known stages", func(t *testing.T) {
		for _, st := range types.Stages {
			d, ok := stageDefaultRule{rules: rs}.Evaluate(Input{Stage: st})
			assert.True(t, ok)
			assert.True(t, d.Mode.Valid())
		}
	})
}

type silentRule struct{}

func (silentRule) Name() string { return "silent" }
func (silentRule) Evaluate(Input) (Decision, bool) { return Decision{}, false }

func TestCustomChainWithoutFallback(t *testing.T) {
	r := NewResolverWithChain(rules.MustDefault(), []Rule{silentRule{}})

	_, err := r.Resolve("hello", types.ArchetypeExplorer, types.StageOpening)
	assert.ErrorIs(t, err, ErrNoRuleMatched)
	assert.Len(t, r.Chain(), 1)
}
