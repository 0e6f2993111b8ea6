// Package resources implements the MCP resource handlers for the task
// server.
//
// Resources provide read-only views of the changes tree under URI-based
// addressing (taskmcp://...). The listing resource serves the first page
// of changes; individual files are addressed through a resource template
// and served through the access facade, so every read is sandbox-checked
// and size-limited.
package resources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/HendryAvila/task-mcp/internal/access"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/HendryAvila/task-mcp/internal/streaming"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// ListURI addresses the change listing.
	ListURI = "taskmcp://changes"
	// FileURITemplate addresses one file inside a change.
	FileURITemplate = "taskmcp://changes/{slug}/{file}"
)

// Handler manages the task server's resource endpoints.
type Handler struct {
	facade *access.Facade
}

// NewHandler creates a resource Handler over the access facade.
func NewHandler(facade *access.Facade) *Handler {
	return &Handler{facade: facade}
}

// ListResource returns the MCP resource definition for the change listing.
func (h *Handler) ListResource() mcp.Resource {
	return mcp.NewResource(
		ListURI,
		"Changes",
		mcp.WithResourceDescription("First page of changes, newest-modified first, with status and lock state"),
		mcp.WithMIMEType("application/json"),
	)
}

// FileTemplate returns the MCP resource template for files inside changes.
func (h *Handler) FileTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		FileURITemplate,
		"Change file",
		mcp.WithTemplateDescription("One file inside a change, e.g. taskmcp://changes/fix-login-bug/proposal.md"),
	)
}

// HandleList serves the listing resource with default pagination.
func (h *Handler) HandleList(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	page, err := h.facade.List(changes.PageRequest{})
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	data, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling listing: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// HandleFile serves one file from a change. Large files are consumed
// through the streaming reader chunk by chunk; the assembled response is
// still subject to the reader's file size ceiling.
func (h *Handler) HandleFile(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	slug, name, err := parseFileURI(req.Params.URI)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	doc, err := h.facade.Read(slug, name)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	body := doc.Content
	if doc.Streamed() {
		body, err = drain(doc.Stream)
		if err != nil {
			return errorResource(req.Params.URI, err.Error()), nil
		}
	}

	if doc.MIMEType == "application/octet-stream" {
		return []mcp.ResourceContents{
			mcp.BlobResourceContents{
				URI:      req.Params.URI,
				MIMEType: doc.MIMEType,
				Blob:     base64.StdEncoding.EncodeToString(body),
			},
		}, nil
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: doc.MIMEType,
			Text:     string(body),
		},
	}, nil
}

// parseFileURI splits taskmcp://changes/<slug>/<file...> into its parts.
func parseFileURI(uri string) (slug, name string, err error) {
	rest, ok := strings.CutPrefix(uri, ListURI+"/")
	if !ok {
		return "", "", fmt.Errorf("unsupported resource URI %q", uri)
	}
	slug, name, ok = strings.Cut(rest, "/")
	if !ok || slug == "" || name == "" {
		return "", "", fmt.Errorf("resource URI %q must name a change and a file", uri)
	}
	return slug, name, nil
}

// drain consumes a stream to completion.
func drain(s *streaming.Stream) ([]byte, error) {
	defer s.Close()
	var out []byte
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}
