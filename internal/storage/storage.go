package storage

import (
	"context"
	"time"

	"github.com/dshills/chiprank/pkg/types"
)

// Storage defines the interface for persisting chips, their embeddings and
// the query log.
type Storage interface {
	// Chip operations
	UpsertChip(ctx context.Context, chip *ChipRecord) error
	GetChip(ctx context.Context, chipID string) (*ChipRecord, error)
	ListChips(ctx context.Context, filters *ChipFilters) ([]*ChipRecord, error)
	DeleteChip(ctx context.Context, chipID string) error

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, chipID string) (*Embedding, error)
	DeleteEmbedding(ctx context.Context, chipID string) error
	ListEmbeddedChips(ctx context.Context) ([]*EmbeddedChip, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error)

	// Query log
	RecordQuery(ctx context.Context, rec types.QueryRecord) error
	ListQueries(ctx context.Context, limit int) ([]types.QueryRecord, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ChipRecord is a chip as persisted, with bookkeeping columns.
type ChipRecord struct {
	ID          string
	Text        string
	Category    types.Category
	Signals     []string
	SourcePath  string
	Position    int
	Size        int
	ContentHash [32]byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewChipRecord builds the stored form of chip.
func NewChipRecord(chip *types.Chip) *ChipRecord {
	signals := make([]string, len(chip.Signals))
	copy(signals, chip.Signals)
	return &ChipRecord{
		ID:          chip.ID,
		Text:        chip.Text,
		Category:    chip.Category,
		Signals:     signals,
		SourcePath:  chip.Source,
		Position:    chip.Position,
		Size:        chip.Size,
		ContentHash: chip.ContentHash(),
	}
}

// Chip converts the record back into the domain type. Similarity is left
// at zero.
func (r *ChipRecord) Chip() types.Chip {
	signals := make([]string, len(r.Signals))
	copy(signals, r.Signals)
	return types.Chip{
		ID:       r.ID,
		Text:     r.Text,
		Category: r.Category,
		Signals:  signals,
		Source:   r.SourcePath,
		Position: r.Position,
		Size:     r.Size,
	}
}

// Embedding is the vector stored for one chip.
type Embedding struct {
	ID        int64
	ChipID    string
	Vector    []byte // Serialized float32 array, little-endian
	Dimension int
	Provider  string // "jina", "openai" or "local"
	Model     string
	CreatedAt time.Time
}

// EmbeddedChip pairs a chip with its decoded vector.
type EmbeddedChip struct {
	Chip   types.Chip
	Vector []float32
}

// ChipFilters narrows ListChips.
type ChipFilters struct {
	Categories []types.Category
	SourcePath string
	Limit      int
}

// SearchFilters narrows SearchVector.
type SearchFilters struct {
	Categories    []types.Category
	MinSimilarity float64
}

// VectorResult is one hit from SearchVector.
type VectorResult struct {
	ChipID     string
	Similarity float64
}

// Status summarizes the database contents.
type Status struct {
	SchemaVersion   string
	BuildMode       string
	ChipsCount      int
	EmbeddingsCount int
	QueriesCount    int
	Categories      map[types.Category]int
	LastIndexedAt   time.Time
	IndexSizeMB     float64
	Health          HealthStatus
}

// HealthStatus represents the health of the store.
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	VectorExtension     bool
}
