package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/chiprank/internal/mcp"
	"github.com/dshills/chiprank/internal/metrics"
)

var serveMetrics bool

// serveCmd runs the MCP server on stdio
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Starts the MCP server on stdin/stdout, exposing the retrieve_ranked,
index_chips and get_status tools. With --metrics (or metrics.enabled in the
config) Prometheus metrics are served on metrics.addr.

Chips indexed by a separate "chiprank index" run become visible within
index.refresh_interval (default 5s): the cached candidate pools are dropped
and the memory backend reloads from the database. With refresh_interval set
to 0 they appear only after cache_ttl expires, or, with the memory backend,
after a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Serve Prometheus metrics on metrics.addr")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	opts := []mcp.Option{
		mcp.WithLogger(logger.Named("mcp")),
		mcp.WithIndexConfig(a.indexConfig()),
	}
	if a.memIndex != nil {
		opts = append(opts, mcp.WithBackend(cfg.Index.Backend, a.memIndex))
	} else {
		opts = append(opts, mcp.WithBackend(cfg.Index.Backend, nil))
	}
	server := mcp.NewServer(a.engine, a.indexer, a.store, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Stdin closing ends the whole process
		defer stop()
		err := server.Serve(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if serveMetrics || cfg.Metrics.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.store.GetStatus(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
