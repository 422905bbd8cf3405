package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/chiprank/pkg/types"
)

func TestDefaultRules(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	require.NotNil(t, r)

	t.Run("intent priority order", func(t *testing.T) {
		want := []types.Category{
			types.CategoryAcademics,
			types.CategoryActivities,
			types.CategoryAwards,
			types.CategoryEmotionalSupport,
			types.CategoryNarrative,
			types.CategoryStrategicFramework,
		}
		got := make([]types.Category, 0, len(r.Intents))
		for _, in := range r.Intents {
			got = append(got, in.Category)
		}
		assert.Equal(t, want, got)
	})

	t.Run("emotional family order starts with distress", func(t *testing.T) {
		require.Len(t, r.Families, 4)
		assert.Equal(t, "distress", r.Families[0].Name)
		assert.Equal(t, types.ModeSupportive, r.Families[0].Mode)
		assert.Equal(t, "tactical", r.Families[3].Name)
		assert.Equal(t, types.ModeDirect, r.Families[3].Mode)
	})

	t.Run("every mode has a normalized weight table", func(t *testing.T) {
		for _, m := range types.Modes {
			rule, ok := r.Mode(m)
			require.True(t, ok, "mode %s", m)
			assert.True(t, rule.Weights.Normalized(), "mode %s", m)
		}
	})

	t.Run("every stage has a default", func(t *testing.T) {
		assert.Equal(t, types.ModeSupportive, r.Stages[types.StageOpening])
		assert.Equal(t, types.ModeReflective, r.Stages[types.StageDiagnostic])
		assert.Equal(t, types.ModeDirect, r.Stages[types.StageExecution])
		assert.Equal(t, types.ModeEnergizing, r.Stages[types.StageClosing])
	})

	t.Run("related pairs are symmetric", func(t *testing.T) {
		assert.True(t, r.Related(types.CategoryActivities, types.CategoryAwards))
		assert.True(t, r.Related(types.CategoryAwards, types.CategoryActivities))
		assert.True(t, r.Related(types.CategoryNarrative, types.CategoryEmotionalSupport))
		assert.False(t, r.Related(types.CategoryAcademics, types.CategoryAwards))
	})

	t.Run("burnout is crisis safe", func(t *testing.T) {
		assert.True(t, r.Archetype(types.ArchetypeBurnout).CrisisSafe)
		assert.False(t, r.Archetype(types.ArchetypeHighAchiever).CrisisSafe)
	})

	t.Run("every quality metric is defined", func(t *testing.T) {
		for _, m := range Metrics {
			_, ok := r.Quality.Metrics[m]
			assert.True(t, ok, "metric %s", m)
		}
	})

	t.Run("default is parsed once", func(t *testing.T) {
		again, err := Default()
		require.NoError(t, err)
		assert.Same(t, r, again)
	})
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		r, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, MustDefault().Version, r.Version)
	})

	t.Run("custom file", func(t *testing.T) {
		doc := strings.Replace(string(DefaultDocument()), `version: "1.2.0"`, `version: "2.0.0"`, 1)
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

		r, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", r.Version)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	base := string(DefaultDocument())

	tests := []struct {
		name string
		old  string
		new  string
	}{
		{"bad version", `version: "1.2.0"`, `version: "not-a-version"`},
		{"unknown field", "crisis_confidence: 0.9", "crisis_confidence: 0.9\nsurprise: true"},
		{"weights do not sum to one", "weights: {topical: 0.2, tactical: 0.35, emotional: 0.45}", "weights: {topical: 0.5, tactical: 0.35, emotional: 0.45}"},
		{"unknown pattern group", "red_flags: [formal]", "red_flags: [formality]"},
		{"unknown mode in stage", "closing: energizing", "closing: jubilant"},
		{"unknown archetype", "  explorer:\n", "  wanderer:\n"},
		{"floor below bound", "floor: 0.8", "floor: 0.5"},
		{"invalid regex", `- '\bhook\b'`, `- '(hook'`},
		{"general with keywords", "- category: strategic_framework", "- category: general"},
		{"persona bound too high", "max: 1.3", "max: 1.6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, base, tt.old, "fixture drifted from default document")
			doc := strings.Replace(base, tt.old, tt.new, 1)
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRules)
		})
	}
}
