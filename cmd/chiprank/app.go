package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dshills/chiprank/internal/config"
	"github.com/dshills/chiprank/internal/embedder"
	"github.com/dshills/chiprank/internal/indexer"
	"github.com/dshills/chiprank/internal/memindex"
	"github.com/dshills/chiprank/internal/metrics"
	"github.com/dshills/chiprank/internal/retrieval"
	"github.com/dshills/chiprank/internal/rules"
	"github.com/dshills/chiprank/internal/searcher"
	"github.com/dshills/chiprank/internal/storage"
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	memIndex *memindex.Index    // nil unless index.backend is memory
	cache    *searcher.Searcher // nil when neither caching nor reloading is configured
	indexer  *indexer.Indexer
	engine   *retrieval.Engine
}

// openStore opens the SQLite store named by the configuration, creating its
// directory when needed
func openStore(cfg *config.Config) (*storage.SQLiteStorage, error) {
	path, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// newApp wires storage, embedder, rules, metrics, candidate index, indexer
// and engine from the configuration
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	var err error
	a.embedder, err = embedder.New(a.cfg.EmbedderConfig(), a.logger.Named("embedder"))
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	r, err := loadRules(a.cfg.Ranking.RulesPath)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var candidates retrieval.CandidateIndex = a.store
	indexOpts := []indexer.Option{
		indexer.WithLogger(a.logger.Named("indexer")),
		indexer.WithMetrics(a.metrics),
	}
	if a.cfg.Index.Backend == config.BackendMemory {
		a.memIndex, err = memindex.New(a.logger.Named("memindex"))
		if err != nil {
			return err
		}
		candidates = a.memIndex
	}

	// The searcher caches pools and notices chips indexed by another process.
	// The memory backend needs it even without caching, to reload.
	refresh := a.cfg.Index.RefreshInterval > 0
	if a.cfg.Index.CacheSize > 0 || (refresh && a.memIndex != nil) {
		cacheOpts := []searcher.Option{
			searcher.WithTTL(a.cfg.Index.CacheTTL),
			searcher.WithLogger(a.logger.Named("searcher")),
		}
		if a.cfg.Index.CacheSize == 0 {
			cacheOpts = append(cacheOpts, searcher.WithoutCache())
		}
		if refresh {
			cacheOpts = append(cacheOpts, searcher.WithRevision(a.store.Revision, a.cfg.Index.RefreshInterval))
		}
		if a.memIndex != nil {
			cacheOpts = append(cacheOpts,
				searcher.WithSink(a.memIndex),
				searcher.WithReload(a.reloadMemIndex))
		}
		a.cache, err = searcher.New(candidates, a.cfg.Index.CacheSize, cacheOpts...)
		if err != nil {
			return err
		}
		if err := a.cache.SyncRevision(ctx); err != nil {
			return err
		}
		candidates = a.cache
		indexOpts = append(indexOpts, indexer.WithSink(a.cache))
	} else if a.memIndex != nil {
		indexOpts = append(indexOpts, indexer.WithSink(a.memIndex))
	}

	if a.memIndex != nil {
		if _, err := a.memIndex.LoadFromStore(ctx, a.store); err != nil {
			return fmt.Errorf("failed to load memory index: %w", err)
		}
	}

	a.indexer = indexer.New(a.store, a.embedder, indexOpts...)
	a.engine = retrieval.NewEngine(r, a.embedder, candidates, a.cfg.EngineConfig(),
		retrieval.WithLogger(a.logger.Named("retrieval")),
		retrieval.WithRecorder(a.store),
		retrieval.WithMetrics(a.metrics),
	)

	a.logger.Debug("components initialized",
		zap.String("provider", a.embedder.Provider()),
		zap.String("model", a.embedder.Model()),
		zap.String("backend", a.cfg.Index.Backend),
		zap.Int("cache_size", a.cfg.Index.CacheSize),
		zap.String("build_mode", storage.BuildMode))
	return nil
}

func (a *app) reloadMemIndex(ctx context.Context) error {
	_, err := a.memIndex.LoadFromStore(ctx, a.store)
	return err
}

// indexConfig returns the indexer settings from the configuration
func (a *app) indexConfig() indexer.Config {
	return indexer.Config{
		Workers:   a.cfg.Index.Workers,
		BatchSize: a.cfg.Index.BatchSize,
	}
}

// Close releases the embedder and the store
func (a *app) Close() error {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	return a.store.Close()
}

func loadRules(path string) (*rules.Rules, error) {
	if path == "" {
		return rules.Default()
	}
	r, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules %s: %w", path, err)
	}
	return r, nil
}
