package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/chiprank/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord is returned when a record fails validation before a write
	ErrInvalidRecord = errors.New("invalid record")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Chip operations

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const chipColumns = `id, text, category, signals, source_path, position, size, content_hash, created_at, updated_at`

func scanChip(row rowScanner) (*ChipRecord, error) {
	var (
		chip       ChipRecord
		category   string
		signals    string
		sourcePath sql.NullString
		hash       []byte
	)
	err := row.Scan(&chip.ID, &chip.Text, &category, &signals, &sourcePath,
		&chip.Position, &chip.Size, &hash, &chip.CreatedAt, &chip.UpdatedAt)
	if err != nil {
		return nil, err
	}
	chip.Category = types.Category(category)
	chip.SourcePath = sourcePath.String
	copy(chip.ContentHash[:], hash)
	if err := json.Unmarshal([]byte(signals), &chip.Signals); err != nil {
		return nil, fmt.Errorf("failed to decode signals of chip %s: %w", chip.ID, err)
	}
	return &chip, nil
}

// upsertChipWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertChipWithQuerier(ctx context.Context, q querier, chip *ChipRecord) error {
	domain := chip.Chip()
	if err := domain.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	signals := chip.Signals
	if signals == nil {
		signals = []string{}
	}
	encoded, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("failed to encode signals: %w", err)
	}

	query := `
		INSERT INTO chips (id, text, category, signals, source_path, position, size, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			category = excluded.category,
			signals = excluded.signals,
			source_path = excluded.source_path,
			position = excluded.position,
			size = excluded.size,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err = q.ExecContext(ctx, query,
		chip.ID, chip.Text, string(chip.Category), string(encoded), chip.SourcePath,
		chip.Position, chip.Size, chip.ContentHash[:], now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert chip: %w", err)
	}

	if chip.CreatedAt.IsZero() {
		chip.CreatedAt = now
	}
	chip.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertChip(ctx context.Context, chip *ChipRecord) error {
	return s.upsertChipWithQuerier(ctx, s.querier(), chip)
}

func (s *SQLiteStorage) getChipWithQuerier(ctx context.Context, q querier, chipID string) (*ChipRecord, error) {
	query := `SELECT ` + chipColumns + ` FROM chips WHERE id = ?`
	chip, err := scanChip(q.QueryRowContext(ctx, query, chipID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chip, nil
}

func (s *SQLiteStorage) GetChip(ctx context.Context, chipID string) (*ChipRecord, error) {
	return s.getChipWithQuerier(ctx, s.querier(), chipID)
}

func (s *SQLiteStorage) listChipsWithQuerier(ctx context.Context, q querier, filters *ChipFilters) ([]*ChipRecord, error) {
	query := `SELECT ` + chipColumns + ` FROM chips WHERE 1=1`
	var args []interface{}

	if filters != nil {
		if len(filters.Categories) > 0 {
			query += " AND category IN (" + placeholders(len(filters.Categories)) + ")"
			for _, c := range filters.Categories {
				args = append(args, string(c))
			}
		}
		if filters.SourcePath != "" {
			query += " AND source_path = ?"
			args = append(args, filters.SourcePath)
		}
	}

	query += " ORDER BY id"
	if filters != nil && filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chips := make([]*ChipRecord, 0)
	for rows.Next() {
		chip, err := scanChip(rows)
		if err != nil {
			return nil, err
		}
		chips = append(chips, chip)
	}
	return chips, rows.Err()
}

func (s *SQLiteStorage) ListChips(ctx context.Context, filters *ChipFilters) ([]*ChipRecord, error) {
	return s.listChipsWithQuerier(ctx, s.querier(), filters)
}

// deleteChipWithQuerier removes a chip; its embedding goes with it through
// the foreign key cascade.
func (s *SQLiteStorage) deleteChipWithQuerier(ctx context.Context, q querier, chipID string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM chips WHERE id = ?`, chipID)
	if err != nil {
		return fmt.Errorf("failed to delete chip: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteChip(ctx context.Context, chipID string) error {
	return s.deleteChipWithQuerier(ctx, s.querier(), chipID)
}

// getChipsByIDs loads the chips named by ids, keyed by ID.
func (s *SQLiteStorage) getChipsByIDs(ctx context.Context, q querier, ids []string) (map[string]*ChipRecord, error) {
	out := make(map[string]*ChipRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + chipColumns + ` FROM chips WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		chip, err := scanChip(rows)
		if err != nil {
			return nil, err
		}
		out[chip.ID] = chip
	}
	return out, rows.Err()
}

// Embedding operations

// upsertEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	if embedding.Dimension <= 0 || len(embedding.Vector) != embedding.Dimension*4 {
		return fmt.Errorf("%w: embedding for chip %s has %d bytes for dimension %d",
			ErrInvalidRecord, embedding.ChipID, len(embedding.Vector), embedding.Dimension)
	}

	query := `
		INSERT INTO chip_embeddings (chip_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chip_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		embedding.ChipID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	if embedding.ID == 0 {
		id, err := result.LastInsertId()
		if err == nil {
			embedding.ID = id
		}
	}

	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, chipID string) (*Embedding, error) {
	query := `
		SELECT id, chip_id, vector, dimension, provider, model, created_at
		FROM chip_embeddings
		WHERE chip_id = ?
	`
	var embedding Embedding
	err := q.QueryRowContext(ctx, query, chipID).Scan(
		&embedding.ID, &embedding.ChipID, &embedding.Vector,
		&embedding.Dimension, &embedding.Provider, &embedding.Model,
		&embedding.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &embedding, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, chipID string) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), chipID)
}

// deleteEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteEmbeddingWithQuerier(ctx context.Context, q querier, chipID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM chip_embeddings WHERE chip_id = ?`, chipID)
	return err
}

func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, chipID string) error {
	return s.deleteEmbeddingWithQuerier(ctx, s.querier(), chipID)
}

func (s *SQLiteStorage) listEmbeddedChipsWithQuerier(ctx context.Context, q querier) ([]*EmbeddedChip, error) {
	query := `
		SELECT c.id, c.text, c.category, c.signals, c.source_path, c.position, c.size,
		       c.content_hash, c.created_at, c.updated_at, e.vector
		FROM chips c
		INNER JOIN chip_embeddings e ON c.id = e.chip_id
		ORDER BY c.id
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded chips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*EmbeddedChip, 0)
	for rows.Next() {
		var blob []byte
		chip, err := scanChip(scannerWithTail{rows, &blob})
		if err != nil {
			return nil, err
		}
		out = append(out, &EmbeddedChip{Chip: chip.Chip(), Vector: deserializeVector(blob)})
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListEmbeddedChips(ctx context.Context) ([]*EmbeddedChip, error) {
	return s.listEmbeddedChipsWithQuerier(ctx, s.querier())
}

// scannerWithTail appends extra destinations after the chip columns.
type scannerWithTail struct {
	rows *sql.Rows
	tail *[]byte
}

func (s scannerWithTail) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.tail)...)
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), vector, limit, filters)
}

// searchCandidatesWithQuerier runs the vector search and joins the hits to
// their chip metadata. Similarity is clamped into [0, 1]; order is
// similarity descending, then chip ID.
func (s *SQLiteStorage) searchCandidatesWithQuerier(ctx context.Context, q querier, vector []float32, k int) ([]types.Chip, error) {
	if k <= 0 || len(vector) == 0 {
		return []types.Chip{}, nil
	}

	hits, err := searchVector(ctx, q, vector, k, nil)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChipID
	}
	records, err := s.getChipsByIDs(ctx, q, ids)
	if err != nil {
		return nil, err
	}

	chips := make([]types.Chip, 0, len(hits))
	for _, h := range hits {
		rec, ok := records[h.ChipID]
		if !ok {
			continue
		}
		chip := rec.Chip()
		chip.Similarity = clampSimilarity(h.Similarity)
		chips = append(chips, chip)
	}
	return chips, nil
}

func (s *SQLiteStorage) SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error) {
	return s.searchCandidatesWithQuerier(ctx, s.querier(), vector, k)
}

// Query log

func (s *SQLiteStorage) recordQueryWithQuerier(ctx context.Context, q querier, rec types.QueryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: query record without id", ErrInvalidRecord)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO query_log (id, query_hash, intent, mode, archetype, stage, returned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.QueryHash, string(rec.Intent), string(rec.Mode),
		string(rec.Archetype), string(rec.Stage), rec.Returned, createdAt)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RecordQuery(ctx context.Context, rec types.QueryRecord) error {
	return s.recordQueryWithQuerier(ctx, s.querier(), rec)
}

func (s *SQLiteStorage) listQueriesWithQuerier(ctx context.Context, q querier, limit int) ([]types.QueryRecord, error) {
	query := `
		SELECT id, query_hash, intent, mode, archetype, stage, returned, created_at
		FROM query_log
		ORDER BY created_at DESC, id
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.QueryRecord, 0)
	for rows.Next() {
		var (
			rec                            types.QueryRecord
			intent, mode, archetype, stage string
		)
		if err := rows.Scan(&rec.ID, &rec.QueryHash, &intent, &mode, &archetype, &stage,
			&rec.Returned, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Intent = types.Category(intent)
		rec.Mode = types.Mode(mode)
		rec.Archetype = types.Archetype(archetype)
		rec.Stage = types.Stage(stage)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListQueries(ctx context.Context, limit int) ([]types.QueryRecord, error) {
	return s.listQueriesWithQuerier(ctx, s.querier(), limit)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}

	status := &Status{
		SchemaVersion: version,
		BuildMode:     BuildMode,
		Categories:    make(map[types.Category]int),
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM chips", &status.ChipsCount},
		{"SELECT COUNT(*) FROM chip_embeddings", &status.EmbeddingsCount},
		{"SELECT COUNT(*) FROM query_log", &status.QueriesCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	rows, err := q.QueryContext(ctx, "SELECT category, COUNT(*) FROM chips GROUP BY category")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.Categories[types.Category(category)] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var lastIndexed time.Time
	err = q.QueryRowContext(ctx, "SELECT updated_at FROM chips ORDER BY updated_at DESC LIMIT 1").Scan(&lastIndexed)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	status.LastIndexedAt = lastIndexed

	// Calculate database size
	var pageCount, pageSize int
	err = q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		VectorExtension:     VectorExtensionAvailable,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Revision returns a token that changes whenever chips or embeddings are
// written or deleted, by this or any other process sharing the database.
func (s *SQLiteStorage) Revision(ctx context.Context) (string, error) {
	var chips, embeddings int
	var last sql.NullString
	err := s.querier().QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM chips),
		       (SELECT COUNT(*) FROM chip_embeddings),
		       (SELECT MAX(updated_at) FROM chips)
	`).Scan(&chips, &embeddings, &last)
	if err != nil {
		return "", fmt.Errorf("failed to read revision: %w", err)
	}
	return fmt.Sprintf("%d/%d/%s", chips, embeddings, last.String), nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Transaction implementations

// Every operation runs on the transaction's querier. With a single pooled
// connection, reaching for the DB handle here would block until commit.

func (t *sqliteTx) UpsertChip(ctx context.Context, chip *ChipRecord) error {
	return t.storage.upsertChipWithQuerier(ctx, t.querier(), chip)
}

func (t *sqliteTx) GetChip(ctx context.Context, chipID string) (*ChipRecord, error) {
	return t.storage.getChipWithQuerier(ctx, t.querier(), chipID)
}

func (t *sqliteTx) ListChips(ctx context.Context, filters *ChipFilters) ([]*ChipRecord, error) {
	return t.storage.listChipsWithQuerier(ctx, t.querier(), filters)
}

func (t *sqliteTx) DeleteChip(ctx context.Context, chipID string) error {
	return t.storage.deleteChipWithQuerier(ctx, t.querier(), chipID)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, chipID string) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), chipID)
}

func (t *sqliteTx) DeleteEmbedding(ctx context.Context, chipID string) error {
	return t.storage.deleteEmbeddingWithQuerier(ctx, t.querier(), chipID)
}

func (t *sqliteTx) ListEmbeddedChips(ctx context.Context) ([]*EmbeddedChip, error) {
	return t.storage.listEmbeddedChipsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit, filters)
}

func (t *sqliteTx) SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error) {
	return t.storage.searchCandidatesWithQuerier(ctx, t.querier(), vector, k)
}

func (t *sqliteTx) RecordQuery(ctx context.Context, rec types.QueryRecord) error {
	return t.storage.recordQueryWithQuerier(ctx, t.querier(), rec)
}

func (t *sqliteTx) ListQueries(ctx context.Context, limit int) ([]types.QueryRecord, error) {
	return t.storage.listQueriesWithQuerier(ctx, t.querier(), limit)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return nil, errors.New("status is not available inside a transaction")
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
