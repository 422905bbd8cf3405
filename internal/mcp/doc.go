// Package mcp implements the Model Context Protocol (MCP) server for chiprank.
//
// The MCP server exposes three tools to a conversational orchestrator:
//   - retrieve_ranked: Rank knowledge chips for one conversational turn
//   - index_chips: Embed and store a chip corpus file
//   - get_status: Report store statistics and health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only. Logs go to stderr.
//
// # Tool: retrieve_ranked
//
//	Request:
//	{
//	  "name": "retrieve_ranked",
//	  "arguments": {
//	    "query": "I'm overwhelmed by all these deadlines",
//	    "archetype": "high_achiever",
//	    "stage": "diagnostic",
//	    "limit": 5,
//	    "single_topic": false,
//	    "category_caps": {"awards": 0}
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {"id": "calm-1", "category": "emotional_support", "score": 0.82, "rank": 1, "trace": [...]}
//	  ],
//	  "weights": {"topical": 0.25, "tactical": 0.15, "emotional": 0.6},
//	  "mode": "supportive",
//	  "intent": "emotional_support",
//	  "trace_summary": [...],
//	  "filter_stats": {"candidates": 30, "bland": 4, "diversity": 2, "returned": 5}
//	}
//
// An empty results list is a successful answer.
//
// # Tool: index_chips
//
//	{"name": "index_chips", "arguments": {"path": "/data/chips.yaml", "force": false}}
//
// # Tool: get_status
//
//	{"name": "get_status", "arguments": {}}
//
// # Error Handling
//
// Handlers return *MCPError values:
//   - -32602: Invalid params (missing arguments, unknown archetype, stage or category, bad limits)
//   - -32603: Internal error
//   - -32002: Indexing in progress
//   - -32004: Empty query
//   - -32005: Embedding service or candidate search failed
package mcp
