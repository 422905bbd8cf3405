package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/chiprank/internal/embedder"
	"github.com/dshills/chiprank/internal/metrics"
	"github.com/dshills/chiprank/internal/storage"
	"github.com/dshills/chiprank/pkg/types"
)

const (
	// DefaultBatchSize is the number of chips embedded and committed together
	DefaultBatchSize = 32
)

// ErrIndexingInProgress is returned when another indexing run holds the lock
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Sink receives every chip written by a successful batch, after commit.
// The in-memory candidate index implements it.
type Sink interface {
	Add(ctx context.Context, chip types.Chip, vector []float32) error
}

// Indexer coordinates the indexing pipeline: validate -> embed -> store
type Indexer struct {
	storage  storage.Storage
	embedder embedder.Embedder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	sink     Sink
	lock     IndexLock
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithMetrics records indexing outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithSink forwards committed chips to s
func WithSink(s Sink) Option {
	return func(idx *Indexer) { idx.sink = s }
}

// Config contains configuration for one indexing run
type Config struct {
	Workers   int  // Number of concurrent batches (default: runtime.NumCPU())
	BatchSize int  // Chips per embedding call and transaction (default: 32)
	Force     bool // Re-embed chips even when unchanged
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	ChipsIndexed  int
	ChipsSkipped  int
	ChipsFailed   int
	Batches       int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, opts ...Option) *Indexer {
	idx := &Indexer{
		storage:  store,
		embedder: emb,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexFile loads a corpus file and indexes its chips
func (idx *Indexer) IndexFile(ctx context.Context, path string, config *Config) (*Statistics, error) {
	chips, err := LoadCorpus(path)
	if err != nil {
		return nil, err
	}
	return idx.IndexChips(ctx, chips, config)
}

// IndexChips embeds and stores chips. Chips whose content hash and
// embedding are already current are skipped. Invalid chips and failed
// embedding calls are counted and reported, not returned; storage errors
// and cancellation abort the run.
func (idx *Indexer) IndexChips(ctx context.Context, chips []types.Chip, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	config = normalizeConfig(config)
	startTime := time.Now()

	run := &indexRun{
		idx:    idx,
		config: config,
		stats:  &Statistics{ErrorMessages: make([]string, 0)},
	}

	valid := run.validate(chips)
	batches := splitBatches(valid, config.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for _, batch := range batches {
		g.Go(func() error {
			return run.indexBatch(gctx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := run.stats
	stats.ChipsIndexed = int(run.indexed.Load())
	stats.ChipsSkipped = int(run.skipped.Load())
	stats.ChipsFailed = int(run.failed.Load())
	stats.Batches = len(batches)
	stats.Duration = time.Since(startTime)

	idx.metrics.ObserveIndex(stats.ChipsIndexed, stats.ChipsSkipped, stats.ChipsFailed)
	idx.logger.Info("indexing complete",
		zap.Int("indexed", stats.ChipsIndexed),
		zap.Int("skipped", stats.ChipsSkipped),
		zap.Int("failed", stats.ChipsFailed),
		zap.Int("batches", stats.Batches),
		zap.Duration("duration", stats.Duration))

	return stats, nil
}

func normalizeConfig(config *Config) *Config {
	c := Config{}
	if config != nil {
		c = *config
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > embedder.MaxBatchSize {
		c.BatchSize = embedder.MaxBatchSize
	}
	return &c
}

// indexRun carries the counters of one IndexChips call
type indexRun struct {
	idx    *Indexer
	config *Config

	indexed atomic.Int32
	skipped atomic.Int32
	failed  atomic.Int32

	mu    sync.Mutex // Protects stats.ErrorMessages
	stats *Statistics
}

func (r *indexRun) fail(n int, format string, args ...any) {
	r.failed.Add(int32(n))
	r.mu.Lock()
	r.stats.ErrorMessages = append(r.stats.ErrorMessages, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// validate drops invalid and duplicate chips, recording each as failed
func (r *indexRun) validate(chips []types.Chip) []types.Chip {
	seen := make(map[string]struct{}, len(chips))
	valid := make([]types.Chip, 0, len(chips))
	for i := range chips {
		chip := chips[i]
		if err := chip.Validate(); err != nil {
			r.fail(1, "chip %d: %v", i, err)
			continue
		}
		if _, dup := seen[chip.ID]; dup {
			r.fail(1, "chip %s: duplicate id", chip.ID)
			continue
		}
		seen[chip.ID] = struct{}{}
		valid = append(valid, chip)
	}
	return valid
}

func splitBatches(chips []types.Chip, size int) [][]types.Chip {
	var batches [][]types.Chip
	for i := 0; i < len(chips); i += size {
		end := i + size
		if end > len(chips) {
			end = len(chips)
		}
		batches = append(batches, chips[i:end])
	}
	return batches
}

// indexBatch embeds the changed chips of a batch and writes them in one
// transaction
func (r *indexRun) indexBatch(ctx context.Context, batch []types.Chip) error {
	pending := make([]types.Chip, 0, len(batch))
	for i := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed, err := r.chipChanged(ctx, &batch[i])
		if err != nil {
			return err
		}
		if !changed {
			r.skipped.Add(1)
			continue
		}
		pending = append(pending, batch[i])
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i := range pending {
		texts[i] = pending[i].Text
	}
	resp, err := r.idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.fail(len(pending), "batch %s..%s: %v", pending[0].ID, pending[len(pending)-1].ID, err)
		r.idx.logger.Warn("embedding batch failed",
			zap.Int("chips", len(pending)),
			zap.String("first_chip", pending[0].ID),
			zap.Error(err))
		return nil
	}
	if len(resp.Embeddings) != len(pending) {
		r.fail(len(pending), "batch %s: got %d embeddings for %d chips", pending[0].ID, len(resp.Embeddings), len(pending))
		return nil
	}

	if err := r.store(ctx, pending, resp); err != nil {
		return err
	}
	r.indexed.Add(int32(len(pending)))

	if r.idx.sink != nil {
		for i := range pending {
			if err := r.idx.sink.Add(ctx, pending[i], resp.Embeddings[i].Vector); err != nil {
				r.idx.logger.Warn("memory index update failed",
					zap.String("chip_id", pending[i].ID),
					zap.Error(err))
			}
		}
	}
	return nil
}

// store writes chips and their embeddings in one transaction
func (r *indexRun) store(ctx context.Context, chips []types.Chip, resp *embedder.BatchEmbeddingResponse) error {
	tx, err := r.idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range chips {
		if err := tx.UpsertChip(ctx, storage.NewChipRecord(&chips[i])); err != nil {
			return fmt.Errorf("failed to store chip %s: %w", chips[i].ID, err)
		}
		emb := resp.Embeddings[i]
		record := &storage.Embedding{
			ChipID:    chips[i].ID,
			Vector:    storage.SerializeVector(emb.Vector),
			Dimension: len(emb.Vector),
			Provider:  firstNonEmpty(emb.Provider, resp.Provider, r.idx.embedder.Provider()),
			Model:     firstNonEmpty(emb.Model, resp.Model, r.idx.embedder.Model()),
		}
		if err := tx.UpsertEmbedding(ctx, record); err != nil {
			return fmt.Errorf("failed to store embedding of %s: %w", chips[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// chipChanged reports whether chip needs (re-)embedding
func (r *indexRun) chipChanged(ctx context.Context, chip *types.Chip) (bool, error) {
	if r.config.Force {
		return true, nil
	}

	existing, err := r.idx.storage.GetChip(ctx, chip.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if existing.ContentHash != chip.ContentHash() {
		return true, nil
	}
	// Provenance-only edits still rewrite the row
	if existing.SourcePath != chip.Source || existing.Position != chip.Position || existing.Size != chip.Size {
		return true, nil
	}

	emb, err := r.idx.storage.GetEmbedding(ctx, chip.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	// Vectors from another model are not comparable with query vectors
	return emb.Provider != r.idx.embedder.Provider() || emb.Model != r.idx.embedder.Model(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
