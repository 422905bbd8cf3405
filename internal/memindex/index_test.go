package memindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/chiprank/internal/storage"
	"github.com/dshills/chiprank/pkg/types"
)

func chip(id string, cat types.Category, signals ...string) types.Chip {
	return types.Chip{
		ID:       id,
		Text:     "text of " + id,
		Category: cat,
		Signals:  signals,
		Source:   "corpus.yaml",
		Position: 7,
		Size:     40,
	}
}

func newIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(nil)
	require.NoError(t, err)
	return idx
}

type fakeSource struct {
	chips []*storage.EmbeddedChip
	err   error
}

func (f *fakeSource) ListEmbeddedChips(ctx context.Context) ([]*storage.EmbeddedChip, error) {
	return f.chips, f.err
}

func TestSearchCandidatesOrdering(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, chip("near", types.CategoryAcademics, "tactical", "specific"), []float32{1, 0, 0}))
	require.NoError(t, idx.Add(ctx, chip("mid", types.CategoryAwards), []float32{1, 1, 0}))
	require.NoError(t, idx.Add(ctx, chip("opposite", types.CategoryGeneral), []float32{-1, 0, 0}))
	require.NoError(t, idx.Add(ctx, chip("twin-b", types.CategoryNarrative), []float32{0, 0, 1}))
	require.NoError(t, idx.Add(ctx, chip("twin-a", types.CategoryNarrative), []float32{0, 0, 1}))
	assert.Equal(t, 5, idx.Count())
	assert.Equal(t, 3, idx.Dimension())

	got, err := idx.SearchCandidates(ctx, []float32{2, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 5)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
		assert.GreaterOrEqual(t, c.Similarity, 0.0)
		assert.LessOrEqual(t, c.Similarity, 1.0)
	}
	assert.Equal(t, []string{"near", "mid", "twin-a", "twin-b", "opposite"}, ids)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
	assert.Equal(t, 0.0, got[4].Similarity)

	// Metadata survives the round trip
	assert.Equal(t, types.CategoryAcademics, got[0].Category)
	assert.Equal(t, []string{"tactical", "specific"}, got[0].Signals)
	assert.Equal(t, "text of near", got[0].Text)
	assert.Equal(t, "corpus.yaml", got[0].Source)
	assert.Equal(t, 7, got[0].Position)
	assert.Equal(t, 40, got[0].Size)
	assert.Nil(t, got[1].Signals)

	top, err := idx.SearchCandidates(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "twin-a", top[0].ID, "ties break by chip ID")
}

func TestSearchCandidatesEdgeCases(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	got, err := idx.SearchCandidates(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got, "empty index")

	require.NoError(t, idx.Add(ctx, chip("a", types.CategoryGeneral), []float32{1, 0}))

	got, err = idx.SearchCandidates(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = idx.SearchCandidates(ctx, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.SearchCandidates(ctx, []float32{0, 0}, 5)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestAddValidation(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	assert.ErrorIs(t, idx.Add(ctx, types.Chip{ID: "x"}, []float32{1}), types.ErrInvalidCandidate)
	assert.ErrorIs(t, idx.Add(ctx, chip("z", types.CategoryGeneral), []float32{0, 0}), ErrZeroVector)

	require.NoError(t, idx.Add(ctx, chip("a", types.CategoryGeneral), []float32{1, 0}))
	assert.ErrorIs(t, idx.Add(ctx, chip("b", types.CategoryGeneral), []float32{1, 0, 0}), ErrDimensionMismatch)
}

func TestAddReplacesAndDelete(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, chip("a", types.CategoryGeneral), []float32{1, 0}))
	updated := chip("a", types.CategoryAwards)
	require.NoError(t, idx.Add(ctx, updated, []float32{0, 1}))
	assert.Equal(t, 1, idx.Count())

	got, err := idx.SearchCandidates(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.CategoryAwards, got[0].Category)

	require.NoError(t, idx.Delete(ctx, "a", "unknown"))
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, idx.Dimension(), "an emptied index accepts a new dimension")
	require.NoError(t, idx.Add(ctx, chip("b", types.CategoryGeneral), []float32{1, 0, 0}))
	require.NoError(t, idx.Delete(ctx))
}

func TestSignalsRoundTrip(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		signals []string
	}{
		{"none", nil},
		{"plain", []string{"tactical", "specific"}},
		{"embedded comma", []string{"calm, steady", "warm"}},
		{"quotes and brackets", []string{`say "hi"`, "[draft]"}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec := make([]float32, len(tests))
			vec[i] = 1
			in := chip(tt.name, types.CategoryGeneral, tt.signals...)
			require.NoError(t, idx.Add(ctx, in, vec))

			got, err := idx.SearchCandidates(ctx, vec, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, in.ID, got[0].ID)
			assert.Equal(t, tt.signals, got[0].Signals)
		})
	}
}

func TestLoadFromStore(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	idx, err := New(zap.New(core))
	require.NoError(t, err)

	src := &fakeSource{chips: []*storage.EmbeddedChip{
		{Chip: chip("a", types.CategoryAcademics), Vector: []float32{1, 0}},
		{Chip: chip("b", types.CategoryAwards), Vector: []float32{0, 1}},
		{Chip: chip("wide", types.CategoryAwards), Vector: []float32{0, 1, 0}},
		{Chip: chip("zero", types.CategoryAwards), Vector: []float32{0, 0}},
	}}

	loaded, err := idx.LoadFromStore(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 2, logs.FilterMessage("skipping chip").Len())
}

func TestLoadFromStoreError(t *testing.T) {
	idx := newIndex(t)
	boom := errors.New("boom")

	_, err := idx.LoadFromStore(context.Background(), &fakeSource{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestLoadFromSQLiteStore(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	for id, vec := range map[string][]float32{"s1": {1, 0}, "s2": {0.6, 0.8}} {
		c := chip(id, types.CategoryNarrative, "reflective")
		require.NoError(t, store.UpsertChip(ctx, storage.NewChipRecord(&c)))
		require.NoError(t, store.UpsertEmbedding(ctx, &storage.Embedding{
			ChipID: id, Vector: storage.SerializeVector(vec), Dimension: 2, Provider: "local", Model: "test",
		}))
	}

	idx := newIndex(t)
	loaded, err := idx.LoadFromStore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	fromIndex, err := idx.SearchCandidates(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	fromStore, err := store.SearchCandidates(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)

	require.Len(t, fromIndex, 2)
	require.Len(t, fromStore, 2)
	for i := range fromStore {
		assert.Equal(t, fromStore[i].ID, fromIndex[i].ID)
		assert.InDelta(t, fromStore[i].Similarity, fromIndex[i].Similarity, 1e-5)
		assert.Equal(t, fromStore[i].Signals, fromIndex[i].Signals)
	}
}
