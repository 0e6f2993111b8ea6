// Task MCP: a change-tracking MCP server.
//
// Serves a workspace of change directories (proposal, tasks, specs,
// deltas) to MCP clients over stdio, with sandboxed reads, atomic change
// locks, streamed large files, and a local audit trail.
//
// Usage:
//
//	task-mcp serve [-root DIR] [-data-dir DIR]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	taskserver "github.com/HendryAvila/task-mcp/internal/server"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("task-mcp v%s\n", taskserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	root := flags.String("root", "", "workspace directory holding changes/ (default: current directory)")
	dataDir := flags.String("data-dir", "", "directory for the audit database (default: ~/.task-mcp)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	s, cleanup, err := taskserver.New(taskserver.Config{
		Root:    *root,
		DataDir: *dataDir,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Run cleanup on interrupt too; ServeStdio returns when stdin closes,
	// but a signal can arrive first.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cleanup()
		os.Exit(0)
	}()

	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `task-mcp v%s — change-tracking MCP server

Usage:
  task-mcp serve [-root DIR] [-data-dir DIR]   Start the MCP server (stdio transport)

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "task-mcp": {
        "command": "task-mcp",
        "args": ["serve", "-root", "/path/to/workspace"]
      }
    }
  }
`, taskserver.Version)
}
