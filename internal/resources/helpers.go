package resources

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// errorResource returns a resource carrying an error message instead of
// the requested content.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
