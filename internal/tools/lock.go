package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/task-mcp/internal/audit"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/HendryAvila/task-mcp/internal/lockfile"
	"github.com/mark3labs/mcp-go/mcp"
)

// LockTool handles the change_lock MCP tool. Acquisition is atomic:
// exactly one caller wins a contended lock, holders can refresh their own
// lock, and expired locks are reclaimable by anyone.
type LockTool struct {
	root     string
	locks    *lockfile.Manager
	recorder audit.Recorder
}

// NewLockTool creates a LockTool rooted at the workspace.
func NewLockTool(root string, locks *lockfile.Manager, recorder audit.Recorder) *LockTool {
	return &LockTool{root: root, locks: locks, recorder: recorder}
}

// Definition returns the MCP tool definition for registration.
func (t *LockTool) Definition() mcp.Tool {
	return mcp.NewTool("change_lock",
		mcp.WithDescription(
			"Lock a change for exclusive editing. Fails while another agent "+
				"holds a live lock; calling again as the holder refreshes the "+
				"lease, and an expired lock can be taken over.",
		),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("Slug of the change to lock."),
		),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Agent identity taking the lock."),
		),
		mcp.WithNumber("ttl_seconds",
			mcp.Description("Lease duration in seconds. Defaults to 600."),
		),
	)
}

// Handle processes the change_lock tool call.
func (t *LockTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug := req.GetString("slug", "")
	owner := req.GetString("owner", "")
	if strings.TrimSpace(slug) == "" || strings.TrimSpace(owner) == "" {
		return mcp.NewToolResultError("'slug' and 'owner' are both required"), nil
	}
	if err := changes.ValidateSlug(slug); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ttl := int64(req.GetInt("ttl_seconds", int(lockfile.DefaultTTL)))
	rec, err := t.locks.Acquire(changes.ChangePath(t.root, slug), owner, ttl)
	switch {
	case errors.Is(err, lockfile.ErrConflict):
		t.record(audit.KindLockConflict, slug, owner, "acquisition lost")
		return mcp.NewToolResultError(fmt.Sprintf(
			"change %q is locked by another agent; retry after the lease expires", slug)), nil
	case errors.Is(err, lockfile.ErrCorrupt):
		t.record(audit.KindLockCorrupt, slug, owner, "unreadable lock file")
		return mcp.NewToolResultError(fmt.Sprintf(
			"change %q has an unreadable lock file; an operator must clear it", slug)), nil
	case err != nil:
		return nil, fmt.Errorf("locking change %q: %w", slug, err)
	}

	t.record(audit.KindChangeLocked, slug, owner, "")
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Change Locked\n\n`%s` is held by **%s** for %d seconds.",
		slug, rec.Owner, rec.TTL,
	)), nil
}

func (t *LockTool) record(kind audit.Kind, slug, actor, detail string) {
	if t.recorder != nil {
		t.recorder.Record(audit.Event{Kind: kind, Slug: slug, Actor: actor, Detail: detail})
	}
}

// UnlockTool handles the change_unlock MCP tool.
type UnlockTool struct {
	root     string
	locks    *lockfile.Manager
	recorder audit.Recorder
}

// NewUnlockTool creates an UnlockTool rooted at the workspace.
func NewUnlockTool(root string, locks *lockfile.Manager, recorder audit.Recorder) *UnlockTool {
	return &UnlockTool{root: root, locks: locks, recorder: recorder}
}

// Definition returns the MCP tool definition for registration.
func (t *UnlockTool) Definition() mcp.Tool {
	return mcp.NewTool("change_unlock",
		mcp.WithDescription(
			"Release a change lock. Only the holder can release a live lock; "+
				"an expired lock can be released by anyone. Releasing an "+
				"unlocked change is a no-op.",
		),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("Slug of the change to unlock."),
		),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Agent identity releasing the lock."),
		),
	)
}

// Handle processes the change_unlock tool call.
func (t *UnlockTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug := req.GetString("slug", "")
	owner := req.GetString("owner", "")
	if strings.TrimSpace(slug) == "" || strings.TrimSpace(owner) == "" {
		return mcp.NewToolResultError("'slug' and 'owner' are both required"), nil
	}
	if err := changes.ValidateSlug(slug); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	err := t.locks.Release(changes.ChangePath(t.root, slug), owner)
	switch {
	case errors.Is(err, lockfile.ErrNotOwner):
		t.recordConflict(slug, owner)
		return mcp.NewToolResultError(fmt.Sprintf(
			"change %q is locked by a different agent", slug)), nil
	case err != nil:
		return nil, fmt.Errorf("unlocking change %q: %w", slug, err)
	}

	if t.recorder != nil {
		t.recorder.Record(audit.Event{Kind: audit.KindChangeUnlocked, Slug: slug, Actor: owner})
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Change Unlocked\n\n`%s` is available.", slug)), nil
}

func (t *UnlockTool) recordConflict(slug, owner string) {
	if t.recorder != nil {
		t.recorder.Record(audit.Event{
			Kind: audit.KindLockConflict, Slug: slug, Actor: owner,
			Detail: "release by non-holder",
		})
	}
}
