package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/chiprank/internal/embedder"
	"github.com/dshills/chiprank/internal/filter"
	"github.com/dshills/chiprank/internal/metrics"
	"github.com/dshills/chiprank/internal/mode"
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/internal/scorer"
	"github.com/dshills/chiprank/internal/trace"
	"github.com/dshills/chiprank/internal/weights"
	"github.com/dshills/chiprank/pkg/types"
)

// ErrFetchFailed wraps failures of the embedding service or the candidate
// index. The engine does not retry them.
var ErrFetchFailed = errors.New("candidate fetch failed")

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error)
}

// CandidateIndex returns up to k chips nearest to vector, each carrying its
// similarity in [0, 1].
type CandidateIndex interface {
	SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error)
}

// QueryRecorder persists the audit entry of a query.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, rec types.QueryRecord) error
}

// Config holds the engine's ranking parameters.
type Config struct {
	CandidatePool      int
	DefaultLimit       int
	MaxLimit           int
	BlandThreshold     float64
	DiversityCap       int
	NarrowDiversityCap int
	SimilarityWeight   float64
	UseSimilarity      bool
	MinScore           float64
	Workers            int
}

// DefaultConfig returns the default ranking parameters.
func DefaultConfig() Config {
	return Config{
		CandidatePool:      30,
		DefaultLimit:       5,
		MaxLimit:           50,
		BlandThreshold:     filter.DefaultBlandThreshold,
		DiversityCap:       filter.DefaultDiversityCap,
		NarrowDiversityCap: filter.NarrowDiversityCap,
		SimilarityWeight:   scorer.DefaultSimilarityWeight,
		UseSimilarity:      true,
	}
}

// Request is one call to RetrieveRanked.
type Request struct {
	Query     string
	Archetype types.Archetype
	Stage     types.Stage

	Limit        int                    // Zero selects the default limit
	DiversityCap int                    // Zero selects the configured cap
	CategoryCaps map[types.Category]int // Per-category caps; zero removes a category
	SingleTopic  bool                   // Use the narrow diversity cap
}

// Response is the ranked answer to a Request.
type Response struct {
	Results          []types.RankedResult `json:"results"`
	Weights          types.WeightVector   `json:"weights"`
	Mode             types.Mode           `json:"mode"`
	ModeConfidence   float64              `json:"mode_confidence"`
	Intent           types.Category       `json:"intent"`
	IntentConfidence float64              `json:"intent_confidence"`
	Warnings         []mode.Warning       `json:"warnings"`
	TraceSummary     []string             `json:"trace_summary"`
	FilterStats      types.FilterStats    `json:"filter_stats"`
}

// Engine is the retrieval fusion orchestrator. It sequences intent and mode
// resolution, weight blending, the external candidate fetch and the pure
// ranking pipeline. Concurrent queries share only read-only state.
type Engine struct {
	cfg      Config
	resolver *mode.Resolver
	blender  *weights.Blender
	pipeline *Pipeline

	embedder QueryEmbedder
	index    CandidateIndex
	recorder QueryRecorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets where query audit entries are written.
func WithRecorder(r QueryRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics enables Prometheus collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over the rules r, using emb for the query
// embedding and index for candidates.
func NewEngine(r *rules.Rules, emb QueryEmbedder, index CandidateIndex, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		resolver: mode.NewResolver(r),
		blender:  weights.New(r),
		pipeline: NewPipeline(r, cfg.SimilarityWeight),
		embedder: emb,
		index:    index,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RetrieveRanked answers one query. Contract violations and fetch failures
// are errors; an empty result list is not.
func (e *Engine) RetrieveRanked(ctx context.Context, req Request) (*Response, error) {
	limit, caps, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	queryID := uuid.NewString()
	log := e.logger.With(zap.String("query_id", queryID))

	// The resolver classifies intent once for its archetype rule.
	res, err := e.resolver.Resolve(req.Query, req.Archetype, req.Stage)
	if err != nil {
		return nil, err
	}
	detected := res.Intent
	log.Debug("mode resolved",
		zap.String("mode", string(res.Mode)),
		zap.String("rule", res.Rule),
		zap.String("intent", string(detected.Category)),
		zap.Int("warnings", len(res.Warnings)))

	w, err := e.blender.Blend(res.Mode, req.Archetype)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	candidates, err := e.fetch(ctx, req.Query)
	fetchTime := time.Since(start)
	e.metrics.ObserveFetch(fetchTime)
	if err != nil {
		log.Warn("candidate fetch failed", zap.Error(err))
		return nil, err
	}
	log.Debug("candidates fetched", zap.Int("count", len(candidates)), zap.Duration("took", fetchTime))

	ranking, err := e.pipeline.Rank(RankInput{
		Candidates: candidates,
		Intent:     detected.Category,
		Mode:       res.Mode,
		Limit:      limit,
		Options: Options{
			BlandThreshold: e.cfg.BlandThreshold,
			MinScore:       e.cfg.MinScore,
			Caps:           caps,
			UseSimilarity:  e.cfg.UseSimilarity,
			Workers:        e.cfg.Workers,
		},
	})
	if err != nil {
		return nil, err
	}
	stats := ranking.Stats
	log.Debug("candidates ranked",
		zap.Int("incompatible", stats.Incompatible),
		zap.Int("inauthentic", stats.Inauthentic),
		zap.Int("below_min_score", stats.BelowMinScore),
		zap.Int("bland", stats.Bland),
		zap.Int("diversity", stats.Diversity),
		zap.Int("truncated", stats.Truncated))

	resp := &Response{
		Results:          ranking.Results,
		Weights:          w,
		Mode:             res.Mode,
		ModeConfidence:   res.Confidence,
		Intent:           detected.Category,
		IntentConfidence: detected.Confidence,
		Warnings:         res.Warnings,
		FilterStats:      stats,
		TraceSummary: trace.Summary(trace.SummaryInput{
			Resolution:       res,
			Weights:          w,
			IntentConfidence: detected.Confidence,
			Candidates:       stats.Candidates,
			Returned:         stats.Returned,
		}),
	}

	e.metrics.ObserveQuery(res.Mode, detected.Category, stats)
	e.record(ctx, log, types.QueryRecord{
		ID:        queryID,
		QueryHash: embedder.ComputeHash(req.Query),
		Intent:    detected.Category,
		Mode:      res.Mode,
		Archetype: req.Archetype,
		Stage:     req.Stage,
		Returned:  stats.Returned,
		CreatedAt: time.Now().UTC(),
	})

	log.Info("query ranked",
		zap.String("mode", string(res.Mode)),
		zap.String("intent", string(detected.Category)),
		zap.Int("returned", stats.Returned),
		zap.Duration("fetch", fetchTime))

	return resp, nil
}

// fetch embeds the query once and searches the index once.
func (e *Engine) fetch(ctx context.Context, query string) ([]types.Chip, error) {
	emb, err := e.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrFetchFailed, err)
	}
	chips, err := e.index.SearchCandidates(ctx, emb.Vector, e.cfg.CandidatePool)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrFetchFailed, err)
	}
	return chips, nil
}

func (e *Engine) record(ctx context.Context, log *zap.Logger, rec types.QueryRecord) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordQuery(ctx, rec); err != nil {
		log.Warn("failed to record query", zap.Error(err))
	}
}

// validate checks the request against the closed enums and limits and
// resolves the effective limit and diversity caps.
func (e *Engine) validate(req Request) (int, filter.Caps, error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, filter.Caps{}, types.ErrEmptyQuery
	}
	if !req.Archetype.Valid() {
		return 0, filter.Caps{}, fmt.Errorf("%w: %q", types.ErrInvalidArchetype, req.Archetype)
	}
	if !req.Stage.Valid() {
		return 0, filter.Caps{}, fmt.Errorf("%w: %q", types.ErrInvalidStage, req.Stage)
	}

	limit := req.Limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit < 0 || (e.cfg.MaxLimit > 0 && limit > e.cfg.MaxLimit) {
		return 0, filter.Caps{}, fmt.Errorf("%w: %d not in [1, %d]", types.ErrInvalidLimit, req.Limit, e.cfg.MaxLimit)
	}

	caps := filter.Caps{Default: e.cfg.DiversityCap}
	if req.SingleTopic {
		caps.Default = e.cfg.NarrowDiversityCap
	}
	if req.DiversityCap < 0 {
		return 0, filter.Caps{}, fmt.Errorf("%w: diversity cap %d", types.ErrInvalidLimit, req.DiversityCap)
	}
	if req.DiversityCap > 0 {
		caps.Default = req.DiversityCap
	}
	if len(req.CategoryCaps) > 0 {
		caps.PerCategory = make(map[types.Category]int, len(req.CategoryCaps))
		for cat, n := range req.CategoryCaps {
			if !cat.Valid() {
				return 0, filter.Caps{}, fmt.Errorf("%w: %q", types.ErrInvalidCategory, cat)
			}
			if n < 0 {
				return 0, filter.Caps{}, fmt.Errorf("%w: cap %d for %s", types.ErrInvalidLimit, n, cat)
			}
			caps.PerCategory[cat] = n
		}
	}

	return limit, caps, nil
}
