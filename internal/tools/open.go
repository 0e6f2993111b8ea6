package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/task-mcp/internal/audit"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/HendryAvila/task-mcp/internal/lockfile"
	"github.com/mark3labs/mcp-go/mcp"
)

// OpenTool handles the change_open MCP tool. It creates the directory
// scaffold for a new change and optionally locks it for the caller in the
// same call.
type OpenTool struct {
	root     string
	store    changes.Store
	locks    *lockfile.Manager
	recorder audit.Recorder
}

// NewOpenTool creates an OpenTool rooted at the workspace.
func NewOpenTool(root string, store changes.Store, locks *lockfile.Manager, recorder audit.Recorder) *OpenTool {
	return &OpenTool{root: root, store: store, locks: locks, recorder: recorder}
}

// Definition returns the MCP tool definition for registration.
func (t *OpenTool) Definition() mcp.Tool {
	return mcp.NewTool("change_open",
		mcp.WithDescription(
			"Open a new change: creates changes/<slug>/ with proposal.md and "+
				"empty tasks/, specs/, and deltas/ directories. "+
				"Pass 'owner' to also lock the change for that agent.",
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Human-readable title. Example: 'Fix login session expiry'"),
		),
		mcp.WithString("slug",
			mcp.Description("Explicit slug (lowercase letters, digits, hyphens). Derived from the title when omitted."),
		),
		mcp.WithString("rationale",
			mcp.Description("Why the change is needed; becomes the proposal's first paragraph."),
		),
		mcp.WithString("owner",
			mcp.Description("Agent identity to lock the new change for. No lock is taken when omitted."),
		),
		mcp.WithNumber("ttl_seconds",
			mcp.Description("Lock time-to-live in seconds. Defaults to 600. Only used together with 'owner'."),
		),
	)
}

// Handle processes the change_open tool call.
func (t *OpenTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if strings.TrimSpace(title) == "" {
		return mcp.NewToolResultError("'title' is required — provide a short title for the change"), nil
	}

	entry, err := t.store.Open(t.root, changes.OpenRequest{
		Title:     title,
		Slug:      req.GetString("slug", ""),
		Rationale: req.GetString("rationale", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("opening change: %v", err)), nil
	}

	owner := req.GetString("owner", "")
	if t.recorder != nil {
		t.recorder.Record(audit.Event{Kind: audit.KindChangeOpened, Slug: entry.Slug, Actor: owner})
	}

	var lockLine string
	if owner != "" {
		ttl := int64(req.GetInt("ttl_seconds", int(lockfile.DefaultTTL)))
		rec, err := t.locks.Acquire(changes.ChangePath(t.root, entry.Slug), owner, ttl)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf(
				"change %q created but locking failed: %v", entry.Slug, err)), nil
		}
		if t.recorder != nil {
			t.recorder.Record(audit.Event{Kind: audit.KindChangeLocked, Slug: entry.Slug, Actor: owner})
		}
		lockLine = fmt.Sprintf("\n**Locked by:** %s (ttl %ds)", rec.Owner, rec.TTL)
	}

	response := fmt.Sprintf(
		"# Change Opened\n\n"+
			"**Slug:** `%s`\n"+
			"**Title:** %s\n"+
			"**Status:** %s%s\n\n"+
			"Edit `changes/%s/proposal.md`, add task documents under `tasks/`, "+
			"specs under `specs/`, and code deltas under `deltas/`.",
		entry.Slug, entry.Title, entry.Status, lockLine, entry.Slug,
	)
	return mcp.NewToolResultText(response), nil
}
