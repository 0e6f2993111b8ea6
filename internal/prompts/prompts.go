// Package prompts implements MCP prompt handlers for the task server.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the changes-status MCP prompt. It instructs the AI
// to read and present the state of the changes tree.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("changes-status",
		mcp.WithPromptDescription(
			"Review the state of all changes: what is in progress, "+
				"what is locked and by whom, what looks stuck, and "+
				"which entries the scanner could not read.",
		),
	)
}

// Handle processes the changes-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Changes status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `changes_list` and review the result.\n\n" +
						"Then:\n" +
						"1. Summarize the listing grouped by status (draft, planned, in-progress, complete, locked, error)\n" +
						"2. For locked changes, show the holder and whether the lease looks abandoned\n" +
						"3. For error entries, read the change's files via taskmcp://changes/<slug>/... and diagnose what is broken\n" +
						"4. Tell me which changes are candidates for archiving",
				),
			},
		},
	}, nil
}

// OpenPrompt handles the change-start MCP prompt. It guides the AI
// through opening and setting up a new change.
type OpenPrompt struct{}

// NewOpenPrompt creates an OpenPrompt.
func NewOpenPrompt() *OpenPrompt {
	return &OpenPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *OpenPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("change-start",
		mcp.WithPromptDescription(
			"Start a new change: opens the directory scaffold, locks it "+
				"for you, and walks through writing the proposal and "+
				"breaking the work into tasks.",
		),
		mcp.WithArgument("title",
			mcp.ArgumentDescription("Short title for the change"),
		),
		mcp.WithArgument("owner",
			mcp.ArgumentDescription("Your agent identity for the lock"),
		),
	)
}

// Handle processes the change-start prompt request.
func (p *OpenPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	title := "my change"
	owner := "me"
	if args := req.Params.Arguments; args != nil {
		if v, ok := args["title"]; ok && v != "" {
			title = v
		}
		if v, ok := args["owner"]; ok && v != "" {
			owner = v
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start change: %s", title),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to start a new change titled '%s'.\n\n"+
						"Please:\n"+
						"1. Ask me for a one-paragraph rationale, then run `change_open` with title='%s', owner='%s', and that rationale\n"+
						"2. Help me flesh out the proposal: problem, approach, out of scope\n"+
						"3. Break the work into task documents (tasks/*.json, each with a title and a status of 'pending')\n"+
						"4. Remind me to run `change_unlock` when I hand the change off",
					title, title, owner,
				)),
			},
		},
	}, nil
}
