package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/chiprank/pkg/types"
)

// retrieveRankedTool returns the tool definition for retrieve_ranked
func retrieveRankedTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_ranked",
		Description: "Rank knowledge chips for a conversational turn, adapting to the user's archetype and conversation stage",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The user's message for this turn",
				},
				"archetype": map[string]interface{}{
					"type":        "string",
					"description": "Behavioral profile of the user",
					"enum":        names(types.Archetypes),
				},
				"stage": map[string]interface{}{
					"type":        "string",
					"description": "Current conversation stage",
					"enum":        names(types.Stages),
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default from configuration)",
					"minimum":     1,
				},
				"diversity_cap": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results per category (overrides the configured cap)",
					"minimum":     1,
				},
				"single_topic": map[string]interface{}{
					"type":        "boolean",
					"description": "Use the narrow per-category cap for single-topic requests",
					"default":     false,
				},
				"category_caps": map[string]interface{}{
					"type":        "object",
					"description": "Per-category caps keyed by category name; 0 removes a category",
					"additionalProperties": map[string]interface{}{
						"type":    "integer",
						"minimum": 0,
					},
				},
			},
			Required: []string{"query", "archetype", "stage"},
		},
	}
}

// indexChipsTool returns the tool definition for index_chips
func indexChipsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_chips",
		Description: "Embed and store the chips of a YAML or JSON corpus file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the corpus file (.yaml, .yml or .json)",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-embed every chip even when unchanged",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report chip store statistics and health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

func names[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
