// Package tools implements the MCP tool handlers for the task server.
//
// Each tool is a struct that receives its dependencies at construction
// and exposes a Definition for registration plus a Handle method
// compatible with mcp-go's CallToolRequest signature. Validation problems
// come back as tool result errors so the client sees them; only internal
// failures become Go errors.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult marshals v and wraps it as a text tool result. Handlers use
// this for structured responses like listings.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool response: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
