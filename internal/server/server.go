// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates the sandbox validator, lock
// manager, streaming reader, memory monitor, audit store, and access
// facade, and injects them into the tools and resources that depend on
// them. No business logic lives here — only wiring.
package server

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/HendryAvila/task-mcp/internal/access"
	"github.com/HendryAvila/task-mcp/internal/audit"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/HendryAvila/task-mcp/internal/lockfile"
	"github.com/HendryAvila/task-mcp/internal/memwatch"
	"github.com/HendryAvila/task-mcp/internal/prompts"
	"github.com/HendryAvila/task-mcp/internal/resources"
	"github.com/HendryAvila/task-mcp/internal/sandbox"
	"github.com/HendryAvila/task-mcp/internal/streaming"
	"github.com/HendryAvila/task-mcp/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config holds the server's runtime configuration.
type Config struct {
	// Root is the workspace directory holding changes/ and archive/.
	// Defaults to the current working directory.
	Root string
	// DataDir is where the audit database lives. Defaults to ~/.task-mcp.
	DataDir string
	// Streaming tunes chunked reads; zero values take the defaults.
	Streaming streaming.Options
	// Memory tunes the pressure monitor; zero values take the defaults.
	Memory memwatch.Config
}

// New creates and configures the MCP server with all tools and resources
// registered. This is the single place where dependencies are resolved.
//
// The returned cleanup function stops the memory monitor and closes the
// audit database; it must be called on shutdown (typically via defer) and
// is always non-nil.
func New(cfg Config) (*server.MCPServer, func(), error) {
	root := cfg.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, noop, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}

	// Auditing is an independent subsystem: if the database cannot be
	// opened the server still runs, with a nil store that degrades every
	// Record call to a no-op.
	auditCfg := audit.DefaultConfig()
	if cfg.DataDir != "" {
		auditCfg.DataDir = cfg.DataDir
	}
	auditStore, auditErr := audit.Open(auditCfg)
	if auditErr != nil {
		log.Printf("WARNING: audit subsystem disabled: %v", auditErr)
	}

	locks := lockfile.NewManager()
	store := changes.NewFileStore(locks)
	facade, err := access.NewFromContext(sandbox.Context{Root: root}, locks, cfg.Streaming, auditStore)
	if err != nil {
		auditStore.Close()
		return nil, noop, fmt.Errorf("creating sandbox: %w", err)
	}

	// Memory pressure is advisory: breaches are audited and logged, never
	// enforced on running reads. The absolute ceiling still aborts new
	// stream chunks through the reader's own accounting.
	monitor := memwatch.NewMonitor(cfg.Memory)
	monitor.Subscribe(func(s memwatch.Sample, p memwatch.Pressure) {
		auditStore.Record(audit.Event{
			Kind:   audit.KindMemoryPressure,
			Detail: fmt.Sprintf("%s: %.1f%% heap used", p, s.PercentUsed),
		})
		log.Printf("WARNING: memory pressure %s (%.1f%% heap used)", p, s.PercentUsed)
	})

	monCtx, monCancel := context.WithCancel(context.Background())
	if err := monitor.Start(monCtx); err != nil {
		monCancel()
		return nil, noop, fmt.Errorf("starting memory monitor: %w", err)
	}

	cleanup := func() {
		monCancel()
		monitor.Stop()
		if err := auditStore.Close(); err != nil {
			log.Printf("WARNING: audit store close: %v", err)
		}
	}

	s := server.NewMCPServer(
		"task-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register change lifecycle tools ---

	openTool := tools.NewOpenTool(root, store, locks, auditStore)
	s.AddTool(openTool.Definition(), openTool.Handle)

	archiveTool := tools.NewArchiveTool(root, store, auditStore)
	s.AddTool(archiveTool.Definition(), archiveTool.Handle)

	lockTool := tools.NewLockTool(root, locks, auditStore)
	s.AddTool(lockTool.Definition(), lockTool.Handle)

	unlockTool := tools.NewUnlockTool(root, locks, auditStore)
	s.AddTool(unlockTool.Definition(), unlockTool.Handle)

	listTool := tools.NewListTool(facade)
	s.AddTool(listTool.Definition(), listTool.Handle)

	auditTool := tools.NewAuditTool(auditStore)
	s.AddTool(auditTool.Definition(), auditTool.Handle)

	// --- Register prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	openPrompt := prompts.NewOpenPrompt()
	s.AddPrompt(openPrompt.Definition(), openPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(facade)
	s.AddResource(resourceHandler.ListResource(), resourceHandler.HandleList)
	s.AddResourceTemplate(resourceHandler.FileTemplate(), resourceHandler.HandleFile)

	return s, cleanup, nil
}

// noop is the default cleanup when initialization fails early.
func noop() {}

// serverInstructions tells the client how to work with the changes tree.
func serverInstructions() string {
	return `You have access to task-mcp, a change-tracking MCP server.

## The changes tree

Each unit of work is a "change": a directory under changes/<slug>/ holding
proposal.md (why), tasks/*.json (what, each with a "status" field),
specs/*.md (contracts), and deltas/*.diff (the code). Finished changes
move to archive/<slug>/.

## Tools

- change_open — create a change. Pass 'owner' to lock it in the same call.
- change_lock / change_unlock — exclusive editing leases. Locks expire
  after their TTL; take over an expired lock by acquiring it, refresh your
  own by acquiring it again.
- changes_list — paginated listing, newest-modified first. Use the
  continuation token for the next page; if the token is rejected the
  listing changed, restart from page 1.
- change_archive — move a finished change to archive/. Refused while the
  change is locked by a live lease.
- audit_recent — recent security and lifecycle events.

## Resources

- taskmcp://changes — first page of the listing as JSON
- taskmcp://changes/<slug>/<file> — one file from a change, e.g.
  taskmcp://changes/fix-login-bug/specs/api.md

## Rules

- Lock a change before editing it when other agents may be active.
- Release your lock when done; expired locks block nobody but leave
  noise for other agents.
- Entries with status "error" are changes the scanner could not fully
  read — inspect and repair them rather than working around them.`
}
