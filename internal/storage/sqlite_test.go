package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/chiprank/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testChip(id string, cat types.Category, signals ...string) *ChipRecord {
	return NewChipRecord(&types.Chip{
		ID:       id,
		Text:     "text of " + id,
		Category: cat,
		Signals:  signals,
		Source:   "corpus/" + string(cat) + ".yaml",
		Position: 3,
		Size:     12,
	})
}

func storeEmbedding(t *testing.T, s *SQLiteStorage, chipID string, vec []float32) {
	t.Helper()
	err := s.UpsertEmbedding(context.Background(), &Embedding{
		ChipID:    chipID,
		Vector:    SerializeVector(vec),
		Dimension: len(vec),
		Provider:  "local",
		Model:     "test",
	})
	require.NoError(t, err)
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	var n int
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	var name string
	err = storage.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='query_log'").Scan(&name)
	assert.Error(t, err, "query_log should be gone")

	// Reapplying restores the newest schema
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestUpsertAndGetChip(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	chip := testChip("chip-1", types.CategoryEmotionalSupport, "supportive", "gentle")
	require.NoError(t, storage.UpsertChip(ctx, chip))
	assert.False(t, chip.UpdatedAt.IsZero())

	got, err := storage.GetChip(ctx, "chip-1")
	require.NoError(t, err)
	assert.Equal(t, chip.ID, got.ID)
	assert.Equal(t, chip.Text, got.Text)
	assert.Equal(t, types.CategoryEmotionalSupport, got.Category)
	assert.Equal(t, []string{"supportive", "gentle"}, got.Signals)
	assert.Equal(t, chip.SourcePath, got.SourcePath)
	assert.Equal(t, 3, got.Position)
	assert.Equal(t, 12, got.Size)
	assert.Equal(t, chip.ContentHash, got.ContentHash)

	// Update replaces content and hash
	updated := testChip("chip-1", types.CategoryNarrative, "reflective")
	updated.Text = "rewritten"
	updated.ContentHash = [32]byte{1}
	require.NoError(t, storage.UpsertChip(ctx, updated))

	got, err = storage.GetChip(ctx, "chip-1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", got.Text)
	assert.Equal(t, types.CategoryNarrative, got.Category)
	assert.Equal(t, []string{"reflective"}, got.Signals)
	assert.Equal(t, [32]byte{1}, got.ContentHash)
}

func TestUpsertChipWithoutSignals(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChip(ctx, testChip("plain", types.CategoryGeneral)))
	got, err := storage.GetChip(ctx, "plain")
	require.NoError(t, err)
	assert.Empty(t, got.Signals)
}

func TestUpsertChipRejectsInvalid(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		chip *ChipRecord
	}{
		{"missing id", &ChipRecord{Text: "x", Category: types.CategoryGeneral}},
		{"empty text", &ChipRecord{ID: "a", Category: types.CategoryGeneral}},
		{"unknown category", &ChipRecord{ID: "a", Text: "x", Category: "sports"}},
		{"negative position", &ChipRecord{ID: "a", Text: "x", Category: types.CategoryGeneral, Position: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.UpsertChip(ctx, tt.chip)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestGetChipNotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetChip(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChips(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for _, c := range []*ChipRecord{
		testChip("b", types.CategoryAcademics),
		testChip("a", types.CategoryAcademics),
		testChip("c", types.CategoryAwards),
	} {
		require.NoError(t, storage.UpsertChip(ctx, c))
	}

	all, err := storage.ListChips(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)

	academics, err := storage.ListChips(ctx, &ChipFilters{Categories: []types.Category{types.CategoryAcademics}})
	require.NoError(t, err)
	assert.Len(t, academics, 2)

	bySource, err := storage.ListChips(ctx, &ChipFilters{SourcePath: "corpus/awards.yaml"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "c", bySource[0].ID)

	limited, err := storage.ListChips(ctx, &ChipFilters{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteChipCascadesEmbedding(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChip(ctx, testChip("gone", types.CategoryGeneral)))
	storeEmbedding(t, storage, "gone", []float32{1, 0, 0})

	require.NoError(t, storage.DeleteChip(ctx, "gone"))

	_, err := storage.GetChip(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.GetEmbedding(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, storage.DeleteChip(ctx, "gone"), ErrNotFound)
}

func TestRevision(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var prev string
	step := func(name string) {
		t.Helper()
		rev, err := storage.Revision(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, prev, rev, "%s did not change the revision", name)
		prev = rev

		again, err := storage.Revision(ctx)
		require.NoError(t, err)
		assert.Equal(t, rev, again, "revision is stable without writes")
	}

	step("empty")
	require.NoError(t, storage.UpsertChip(ctx, testChip("r1", types.CategoryGeneral)))
	step("insert chip")
	storeEmbedding(t, storage, "r1", []float32{1, 0})
	step("insert embedding")
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, storage.UpsertChip(ctx, testChip("r1", types.CategoryAwards)))
	step("update chip")
	require.NoError(t, storage.DeleteChip(ctx, "r1"))
	step("delete chip")
}

func TestEmbeddingRoundTrip(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChip(ctx, testChip("e1", types.CategoryGeneral)))
	vec := []float32{0.25, -0.5, 0.75, 1}
	storeEmbedding(t, storage, "e1", vec)

	got, err := storage.GetEmbedding(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Dimension)
	assert.Equal(t, "local", got.Provider)
	assert.Equal(t, vec, DeserializeVector(got.Vector))

	// Upsert replaces the vector in place
	storeEmbedding(t, storage, "e1", []float32{1, 1, 1, 1})
	got, err = storage.GetEmbedding(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, DeserializeVector(got.Vector))

	require.NoError(t, storage.DeleteEmbedding(ctx, "e1"))
	_, err = storage.GetEmbedding(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertEmbeddingValidation(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, storage.UpsertChip(ctx, testChip("e1", types.CategoryGeneral)))

	err := storage.UpsertEmbedding(ctx, &Embedding{ChipID: "e1", Vector: []byte{1, 2, 3}, Dimension: 1})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	// Foreign key: no chip, no embedding
	err = storage.UpsertEmbedding(ctx, &Embedding{
		ChipID: "nobody", Vector: SerializeVector([]float32{1}), Dimension: 1, Provider: "local", Model: "m",
	})
	assert.Error(t, err)
}

func TestListEmbeddedChips(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChip(ctx, testChip("with", types.CategoryAwards, "uplifting")))
	require.NoError(t, storage.UpsertChip(ctx, testChip("without", types.CategoryAwards)))
	storeEmbedding(t, storage, "with", []float32{0, 1})

	embedded, err := storage.ListEmbeddedChips(ctx)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, "with", embedded[0].Chip.ID)
	assert.Equal(t, []string{"uplifting"}, embedded[0].Chip.Signals)
	assert.Equal(t, []float32{0, 1}, embedded[0].Vector)
}

func TestSearchCandidates(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	chips := map[string][]float32{
		"near":     {1, 0, 0},
		"mid":      {1, 1, 0},
		"far":      {0, 0, 1},
		"opposite": {-1, 0, 0},
		"twin-b":   {0, 1, 0},
		"twin-a":   {0, 1, 0},
	}
	for id, vec := range chips {
		require.NoError(t, storage.UpsertChip(ctx, testChip(id, types.CategoryGeneral, "guiding")))
		storeEmbedding(t, storage, id, vec)
	}
	// Different dimension is ignored
	require.NoError(t, storage.UpsertChip(ctx, testChip("wide", types.CategoryGeneral)))
	storeEmbedding(t, storage, "wide", []float32{1, 0, 0, 0})

	got, err := storage.SearchCandidates(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 6)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
		assert.GreaterOrEqual(t, c.Similarity, 0.0)
		assert.LessOrEqual(t, c.Similarity, 1.0)
	}
	assert.Equal(t, "near", ids[0])
	assert.Equal(t, "mid", ids[1])
	assert.Equal(t, "opposite", ids[5], "negative similarity clamps to zero and sorts last")
	assert.Equal(t, 0.0, got[5].Similarity)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, []string{"guiding"}, got[0].Signals)

	top, err := storage.SearchCandidates(ctx, []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "twin-a", top[0].ID, "ties break by chip ID")
	assert.Equal(t, "twin-b", top[1].ID)

	none, err := storage.SearchCandidates(ctx, []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordAndListQueries(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	older := types.QueryRecord{
		ID: "q-1", QueryHash: "abc", Intent: types.CategoryAcademics, Mode: types.ModeDirect,
		Archetype: types.ArchetypeHighAchiever, Stage: types.StageExecution, Returned: 3,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := types.QueryRecord{
		ID: "q-2", QueryHash: "def", Intent: types.CategoryEmotionalSupport, Mode: types.ModeSupportive,
		Archetype: types.ArchetypeBurnout, Stage: types.StageOpening, Returned: 0,
		CreatedAt: time.Now(),
	}
	require.NoError(t, storage.RecordQuery(ctx, older))
	require.NoError(t, storage.RecordQuery(ctx, newer))

	got, err := storage.ListQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q-2", got[0].ID)
	assert.Equal(t, types.ModeSupportive, got[0].Mode)
	assert.Equal(t, types.ArchetypeBurnout, got[0].Archetype)
	assert.Equal(t, "q-1", got[1].ID)
	assert.Equal(t, 3, got[1].Returned)

	assert.ErrorIs(t, storage.RecordQuery(ctx, types.QueryRecord{}), ErrInvalidRecord)
	assert.Error(t, storage.RecordQuery(ctx, older), "duplicate id")
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ChipsCount)
	assert.False(t, status.Health.EmbeddingsAvailable)
	assert.True(t, status.LastIndexedAt.IsZero())

	require.NoError(t, storage.UpsertChip(ctx, testChip("a", types.CategoryAwards)))
	require.NoError(t, storage.UpsertChip(ctx, testChip("b", types.CategoryAwards)))
	require.NoError(t, storage.UpsertChip(ctx, testChip("c", types.CategoryNarrative)))
	storeEmbedding(t, storage, "a", []float32{1})
	require.NoError(t, storage.RecordQuery(ctx, types.QueryRecord{ID: "q"}))

	status, err = storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Equal(t, BuildMode, status.BuildMode)
	assert.Equal(t, 3, status.ChipsCount)
	assert.Equal(t, 1, status.EmbeddingsCount)
	assert.Equal(t, 1, status.QueriesCount)
	assert.Equal(t, 2, status.Categories[types.CategoryAwards])
	assert.Equal(t, 1, status.Categories[types.CategoryNarrative])
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.EmbeddingsAvailable)
	assert.Equal(t, VectorExtensionAvailable, status.Health.VectorExtension)
	assert.False(t, status.LastIndexedAt.IsZero())
}

func TestTransactionCommitAndRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertChip(ctx, testChip("kept", types.CategoryGeneral)))
	got, err := tx.GetChip(ctx, "kept")
	require.NoError(t, err, "reads inside the transaction see its writes")
	assert.Equal(t, "kept", got.ID)
	require.NoError(t, tx.Commit())

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertChip(ctx, testChip("dropped", types.CategoryGeneral)))
	require.NoError(t, tx.Rollback())

	_, err = storage.GetChip(ctx, "kept")
	assert.NoError(t, err)
	_, err = storage.GetChip(ctx, "dropped")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNestedTransactionRejected(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
}

func TestChipRecordRoundTrip(t *testing.T) {
	chip := types.Chip{
		ID: "x", Text: "t", Category: types.CategoryAwards, Signals: []string{"uplifting"},
		Source: "s", Position: 1, Size: 2, Similarity: 0.7,
	}
	rec := NewChipRecord(&chip)
	assert.Equal(t, chip.ContentHash(), rec.ContentHash)

	back := rec.Chip()
	chip.Similarity = 0
	assert.Equal(t, chip, back)

	// Records own their signal slices
	rec.Signals[0] = "changed"
	assert.Equal(t, "uplifting", chip.Signals[0])
}
