package tools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/task-mcp/internal/audit"
	"github.com/mark3labs/mcp-go/mcp"
)

// AuditTool handles the audit_recent MCP tool.
type AuditTool struct {
	store *audit.Store
}

// NewAuditTool creates an AuditTool over the given store. A nil store is
// allowed; the tool then reports an empty trail.
func NewAuditTool(store *audit.Store) *AuditTool {
	return &AuditTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *AuditTool) Definition() mcp.Tool {
	return mcp.NewTool("audit_recent",
		mcp.WithDescription(
			"Show recent audit events: rejected paths, lock conflicts, "+
				"memory pressure, oversized reads, and change lifecycle. "+
				"Newest first.",
		),
		mcp.WithNumber("limit",
			mcp.Description("How many events to return, 1-200. Defaults to 20."),
		),
		mcp.WithString("kind",
			mcp.Description("Filter to one event kind, e.g. 'path_security' or 'lock_conflict'."),
		),
	)
}

// Handle processes the audit_recent tool call.
func (t *AuditTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	kind := req.GetString("kind", "")

	var (
		events []audit.Event
		err    error
	)
	if kind != "" {
		events, err = t.store.RecentByKind(audit.Kind(kind), limit)
	} else {
		events, err = t.store.Recent(limit)
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	return jsonResult(events)
}
