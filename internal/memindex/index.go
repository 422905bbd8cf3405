package memindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/dshills/chiprank/internal/storage"
	"github.com/dshills/chiprank/pkg/types"
)

// CollectionName is the chromem collection holding the chips.
const CollectionName = "chips"

// Metadata keys stored on every document.
const (
	metaCategory = "category"
	metaSignals  = "signals"
	metaSource   = "source"
	metaPosition = "position"
	metaSize     = "size"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the vectors already in the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrZeroVector is returned when a chip's vector has no magnitude.
	ErrZeroVector = errors.New("zero-length embedding vector")
	// errNoEmbedder backs the collection's embedding function. Every document
	// arrives with its vector already computed.
	errNoEmbedder = errors.New("memindex: documents must carry precomputed embeddings")
)

// EmbeddedChipSource lists chips that have a stored embedding.
type EmbeddedChipSource interface {
	ListEmbeddedChips(ctx context.Context) ([]*storage.EmbeddedChip, error)
}

// Index is an in-process candidate index backed by a chromem-go collection.
type Index struct {
	mu         sync.RWMutex
	collection *chromem.Collection
	dimension  int
	logger     *zap.Logger
}

// New creates an empty index. A nil logger disables logging.
func New(logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db := chromem.NewDB()
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedder
	}
	collection, err := db.GetOrCreateCollection(CollectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Index{collection: collection, logger: logger}, nil
}

// Add inserts or replaces one chip.
func (x *Index) Add(ctx context.Context, chip types.Chip, vector []float32) error {
	if err := chip.Validate(); err != nil {
		return err
	}
	if isZero(vector) {
		return fmt.Errorf("%w: chip %s", ErrZeroVector, chip.ID)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dimension != 0 && len(vector) != x.dimension {
		return fmt.Errorf("%w: chip %s has %d, index has %d", ErrDimensionMismatch, chip.ID, len(vector), x.dimension)
	}

	meta, err := chipMetadata(chip)
	if err != nil {
		return err
	}
	embedding := make([]float32, len(vector))
	copy(embedding, vector)

	err = x.collection.AddDocument(ctx, chromem.Document{
		ID:        chip.ID,
		Content:   chip.Text,
		Embedding: embedding,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("add document %s: %w", chip.ID, err)
	}

	x.dimension = len(vector)
	return nil
}

// Delete removes chips by ID. Unknown IDs are ignored.
func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if x.collection.Count() == 0 {
		x.dimension = 0
	}
	return nil
}

// Count returns the number of indexed chips.
func (x *Index) Count() int {
	return x.collection.Count()
}

// Dimension returns the vector length of the indexed chips, or 0 when empty.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// LoadFromStore adds every embedded chip of src and returns how many were
// loaded. Chips whose vectors cannot be indexed are skipped and logged.
func (x *Index) LoadFromStore(ctx context.Context, src EmbeddedChipSource) (int, error) {
	embedded, err := src.ListEmbeddedChips(ctx)
	if err != nil {
		return 0, fmt.Errorf("list embedded chips: %w", err)
	}

	loaded := 0
	for _, e := range embedded {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if err := x.Add(ctx, e.Chip, e.Vector); err != nil {
			if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrZeroVector) || errors.Is(err, types.ErrInvalidCandidate) {
				x.logger.Warn("skipping chip",
					zap.String("chip_id", e.Chip.ID),
					zap.Error(err))
				continue
			}
			return loaded, err
		}
		loaded++
	}

	x.logger.Info("memory index loaded",
		zap.Int("chips", loaded),
		zap.Int("skipped", len(embedded)-loaded),
		zap.Int("dimension", x.Dimension()))
	return loaded, nil
}

// SearchCandidates returns up to k chips nearest to vector. Similarity is
// clamped into [0, 1]; order is similarity descending, then chip ID.
func (x *Index) SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := x.collection.Count()
	if k <= 0 || n == 0 || len(vector) == 0 {
		return []types.Chip{}, nil
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), x.dimension)
	}
	if isZero(vector) {
		return nil, ErrZeroVector
	}

	// Rank the whole collection so ties at the cut are broken by ID rather
	// than by heap order.
	results, err := x.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}

	chips := make([]types.Chip, 0, len(results))
	for _, r := range results {
		chip, err := chipFromResult(r)
		if err != nil {
			return nil, err
		}
		chips = append(chips, chip)
	}
	return chips, nil
}

// chipMetadata flattens chip fields into chromem's string metadata. Signals
// are JSON encoded since a tag may itself contain a comma.
func chipMetadata(chip types.Chip) (map[string]string, error) {
	var signals string
	if len(chip.Signals) > 0 {
		data, err := json.Marshal(chip.Signals)
		if err != nil {
			return nil, fmt.Errorf("chip %s: encode signals: %w", chip.ID, err)
		}
		signals = string(data)
	}
	return map[string]string{
		metaCategory: string(chip.Category),
		metaSignals:  signals,
		metaSource:   chip.Source,
		metaPosition: strconv.Itoa(chip.Position),
		metaSize:     strconv.Itoa(chip.Size),
	}, nil
}

func chipFromResult(r chromem.Result) (types.Chip, error) {
	chip := types.Chip{
		ID:         r.ID,
		Text:       r.Content,
		Category:   types.Category(r.Metadata[metaCategory]),
		Source:     r.Metadata[metaSource],
		Similarity: clamp(float64(r.Similarity)),
	}
	if s := r.Metadata[metaSignals]; s != "" {
		if err := json.Unmarshal([]byte(s), &chip.Signals); err != nil {
			return types.Chip{}, fmt.Errorf("chip %s: bad signals metadata: %w", r.ID, err)
		}
	}

	var err error
	if chip.Position, err = strconv.Atoi(r.Metadata[metaPosition]); err != nil {
		return types.Chip{}, fmt.Errorf("chip %s: bad position metadata: %w", r.ID, err)
	}
	if chip.Size, err = strconv.Atoi(r.Metadata[metaSize]); err != nil {
		return types.Chip{}, fmt.Errorf("chip %s: bad size metadata: %w", r.ID, err)
	}
	return chip, nil
}

func clamp(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
