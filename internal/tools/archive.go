package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/task-mcp/internal/audit"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/mark3labs/mcp-go/mcp"
)

// ArchiveTool handles the change_archive MCP tool.
type ArchiveTool struct {
	root     string
	store    changes.Store
	recorder audit.Recorder
}

// NewArchiveTool creates an ArchiveTool rooted at the workspace.
func NewArchiveTool(root string, store changes.Store, recorder audit.Recorder) *ArchiveTool {
	return &ArchiveTool{root: root, store: store, recorder: recorder}
}

// Definition returns the MCP tool definition for registration.
func (t *ArchiveTool) Definition() mcp.Tool {
	return mcp.NewTool("change_archive",
		mcp.WithDescription(
			"Archive a change: moves changes/<slug>/ to archive/<slug>/. "+
				"Refused while the change is locked by a live lock; a stale "+
				"lock is cleared on the way out.",
		),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("Slug of the change to archive."),
		),
	)
}

// Handle processes the change_archive tool call.
func (t *ArchiveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug := req.GetString("slug", "")
	if strings.TrimSpace(slug) == "" {
		return mcp.NewToolResultError("'slug' is required — name the change to archive"), nil
	}

	if err := t.store.Archive(t.root, slug); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("archiving change: %v", err)), nil
	}
	if t.recorder != nil {
		t.recorder.Record(audit.Event{Kind: audit.KindChangeArchived, Slug: slug})
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"# Change Archived\n\n`%s` moved to `archive/%s/`.", slug, slug,
	)), nil
}
