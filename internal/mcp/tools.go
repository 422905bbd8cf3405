package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/chiprank/internal/indexer"
	"github.com/dshills/chiprank/internal/retrieval"
	"github.com/dshills/chiprank/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters or contract violation
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeUpstream           = -32005 // Embedding service or candidate search failed
)

// maxReportedErrors bounds the error list of an index_chips response
const maxReportedErrors = 5

// handleRetrieveRanked handles the retrieve_ranked tool invocation
func (s *Server) handleRetrieveRanked(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	req, err := parseRetrieveArgs(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.ranker.RetrieveRanked(ctx, req)
	if err != nil {
		s.logger.Debug("retrieve_ranked failed", zap.Error(err))
		return nil, toMCPError(err)
	}

	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// parseRetrieveArgs validates the shape of the arguments. Enum and range
// checks beyond the JSON types are left to the engine.
func parseRetrieveArgs(args map[string]interface{}) (retrieval.Request, error) {
	var req retrieval.Request

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return req, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	req.Query = query

	archetype, err := requiredString(args, "archetype")
	if err != nil {
		return req, err
	}
	req.Archetype = types.Archetype(strings.ToLower(strings.TrimSpace(archetype)))

	stage, err := requiredString(args, "stage")
	if err != nil {
		return req, err
	}
	req.Stage = types.Stage(strings.ToLower(strings.TrimSpace(stage)))

	if req.Limit, err = optionalInt(args, "limit"); err != nil {
		return req, err
	}
	if req.DiversityCap, err = optionalInt(args, "diversity_cap"); err != nil {
		return req, err
	}
	req.SingleTopic = getBoolDefault(args, "single_topic", false)

	if raw, present := args["category_caps"]; present && raw != nil {
		caps, ok := raw.(map[string]interface{})
		if !ok {
			return req, invalidParam("category_caps", raw, "must be an object")
		}
		req.CategoryCaps = make(map[types.Category]int, len(caps))
		for name, v := range caps {
			cat, err := types.ParseCategory(name)
			if err != nil {
				return req, invalidParam("category_caps", name, err.Error())
			}
			n, ok := toInt(v)
			if !ok {
				return req, invalidParam("category_caps."+name, v, "must be an integer")
			}
			req.CategoryCaps[cat] = n
		}
	}

	return req, nil
}

// handleIndexChips handles the index_chips tool invocation
func (s *Server) handleIndexChips(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validateCorpusPath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	config := s.indexConfig
	config.Force = getBoolDefault(args, "force", false)

	stats, err := s.indexer.IndexFile(ctx, path, &config)
	if err != nil {
		s.logger.Warn("index_chips failed", zap.String("path", path), zap.Error(err))
		return nil, toMCPError(err)
	}

	response := map[string]interface{}{
		"indexed":       true,
		"chips_indexed": stats.ChipsIndexed,
		"chips_skipped": stats.ChipsSkipped,
		"chips_failed":  stats.ChipsFailed,
		"batches":       stats.Batches,
		"duration_ms":   stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.status.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	categories := make(map[string]int, len(status.Categories))
	for cat, n := range status.Categories {
		categories[string(cat)] = n
	}

	index := map[string]interface{}{
		"backend": s.backend,
	}
	if s.memIndex != nil {
		index["memory_chips"] = s.memIndex.Count()
	}
	if busy, ok := s.indexer.(interface{ Indexing() bool }); ok {
		index["indexing"] = busy.Indexing()
	}

	response := map[string]interface{}{
		"schema_version": status.SchemaVersion,
		"build_mode":     status.BuildMode,
		"statistics": map[string]interface{}{
			"chips_count":      status.ChipsCount,
			"embeddings_count": status.EmbeddingsCount,
			"queries_count":    status.QueriesCount,
			"categories":       categories,
			"index_size_mb":    fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"index": index,
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"vector_extension":     status.Health.VectorExtension,
		},
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps engine and indexer errors onto MCP error codes
func toMCPError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", data)
	case types.IsContractViolation(err):
		return newMCPError(ErrorCodeInvalidParams, "invalid request", data)
	case errors.Is(err, indexer.ErrInvalidCorpus):
		return newMCPError(ErrorCodeInvalidParams, "invalid corpus", data)
	case errors.Is(err, retrieval.ErrFetchFailed):
		return newMCPError(ErrorCodeUpstream, "candidate fetch failed", data)
	case errors.Is(err, indexer.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	default:
		return newMCPError(ErrorCodeInternalError, "internal error", data)
	}
}

func invalidParam(param string, value interface{}, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid %s", param), map[string]interface{}{
		"param":  param,
		"value":  value,
		"reason": reason,
	})
}

// validateCorpusPath checks that path names a readable corpus file
func validateCorpusPath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if info.IsDir() {
		return ErrNotFile
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return ErrUnsupportedFormat
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requiredString extracts a non-empty string parameter
func requiredString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// optionalInt extracts an integer parameter; absent means 0
func optionalInt(args map[string]interface{}, key string) (int, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, nil
	}
	n, ok := toInt(raw)
	if !ok {
		return 0, invalidParam(key, raw, "must be an integer")
	}
	return n, nil
}

// toInt accepts JSON numbers with no fractional part
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotAbsolute   = errors.New("path must be absolute")
	ErrPathNotFound      = errors.New("path does not exist")
	ErrPathNotReadable   = errors.New("path is not readable")
	ErrNotFile           = errors.New("path is a directory")
	ErrUnsupportedFormat = errors.New("corpus must be .yaml, .yml or .json")
)
