package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/HendryAvila/task-mcp/internal/access"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/mark3labs/mcp-go/mcp"
)

// ListTool handles the changes_list MCP tool. Listings are paginated,
// newest-modified first, and per-change failures appear as error entries
// instead of failing the whole call.
type ListTool struct {
	facade *access.Facade
}

// NewListTool creates a ListTool over the given facade.
func NewListTool(facade *access.Facade) *ListTool {
	return &ListTool{facade: facade}
}

// Definition returns the MCP tool definition for registration.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("changes_list",
		mcp.WithDescription(
			"List changes, newest-modified first. Returns a JSON page with "+
				"slug, title, status, artifact counts, lock state, and "+
				"continuation tokens. Page size is capped at 100.",
		),
		mcp.WithNumber("page",
			mcp.Description("1-based page number. Defaults to 1. Takes precedence over 'page_token' when both are set."),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Entries per page, 1-100. Defaults to 50."),
		),
		mcp.WithString("page_token",
			mcp.Description("Continuation token from a previous page; used when 'page' is not set. Invalidated when the listing changes."),
		),
	)
}

// Handle processes the changes_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := t.facade.List(changes.PageRequest{
		Page:     req.GetInt("page", 0),
		PageSize: req.GetInt("page_size", 0),
		Token:    req.GetString("page_token", ""),
	})
	var tokenErr *changes.TokenInvalidError
	switch {
	case errors.As(err, &tokenErr):
		return mcp.NewToolResultError(
			"page token is no longer valid — the listing changed; restart from page 1"), nil
	case err != nil:
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	return jsonResult(page)
}
