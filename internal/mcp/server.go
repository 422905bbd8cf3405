package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/chiprank/internal/indexer"
	"github.com/dshills/chiprank/internal/retrieval"
	"github.com/dshills/chiprank/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "chiprank"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Ranker answers retrieve_ranked calls
type Ranker interface {
	RetrieveRanked(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

// ChipIndexer answers index_chips calls
type ChipIndexer interface {
	IndexFile(ctx context.Context, path string, config *indexer.Config) (*indexer.Statistics, error)
}

// StatusProvider answers get_status calls
type StatusProvider interface {
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Counter reports the size of an in-memory candidate index
type Counter interface {
	Count() int
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	ranker  Ranker
	indexer ChipIndexer
	status  StatusProvider

	indexConfig indexer.Config
	backend     string
	memIndex    Counter
	logger      *zap.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIndexConfig sets the batch size and worker count used by index_chips
func WithIndexConfig(cfg indexer.Config) Option {
	return func(s *Server) { s.indexConfig = cfg }
}

// WithBackend names the candidate backend reported by get_status. When c is
// non-nil its Count is reported as well.
func WithBackend(name string, c Counter) Option {
	return func(s *Server) {
		s.backend = name
		s.memIndex = c
	}
}

// NewServer creates a new MCP server over the given components
func NewServer(ranker Ranker, idx ChipIndexer, status StatusProvider, opts ...Option) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
		),
		ranker:  ranker,
		indexer: idx,
		status:  status,
		backend: "sqlite",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin
// closes. Stdout carries protocol traffic only.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	s.logger.Info("mcp server started",
		zap.String("name", ServerName),
		zap.String("version", ServerVersion),
		zap.String("backend", s.backend))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(retrieveRankedTool(), s.handleRetrieveRanked)
	s.mcp.AddTool(indexChipsTool(), s.handleIndexChips)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
