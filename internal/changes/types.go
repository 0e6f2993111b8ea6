// Package changes enumerates, paginates, and persists change directories.
//
// A change is a directory under <root>/changes/<slug>/ holding proposal.md,
// tasks/*.json, specs/*.md, and deltas/*.diff, plus an optional lock file.
// Listing entries are derived from the filesystem on every scan — nothing
// about a change is cached between calls.
package changes

import (
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/task-mcp/internal/lockfile"
)

const (
	// ChangesDir is the subdirectory under the workspace root where live
	// changes reside.
	ChangesDir = "changes"
	// ArchiveDir is the subdirectory where archived changes are moved.
	ArchiveDir = "archive"
	// ProposalFile is the change's root document.
	ProposalFile = "proposal.md"
	// TasksDir, SpecsDir, and DeltasDir hold the change's artifacts.
	TasksDir  = "tasks"
	SpecsDir  = "specs"
	DeltasDir = "deltas"
)

// Status is the derived lifecycle state of a change. It is computed from
// the directory's contents during a scan, never stored.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusLocked     Status = "locked"
	StatusError      Status = "error"
)

// Entry is one change as observed during a listing scan.
type Entry struct {
	Slug        string           `json:"slug"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ModifiedAt  time.Time        `json:"modified_at"`
	Locked      bool             `json:"locked"`
	Lock        *lockfile.Record `json:"lock,omitempty"`
	SpecCount   int              `json:"spec_count"`
	TaskCount   int              `json:"task_count"`
	DeltaCount  int              `json:"delta_count"`
	Status      Status           `json:"status"`
	// Error carries the per-entry failure message when Status is
	// StatusError. It references the change by slug, never by path.
	Error string `json:"error,omitempty"`
}

const maxSlugLen = 50

// ValidateSlug returns an error unless s is a well-formed change
// identifier: lowercase letters, digits, and interior hyphens, at most
// 50 characters.
func ValidateSlug(s string) error {
	if s == "" {
		return fmt.Errorf("slug must not be empty")
	}
	if len(s) > maxSlugLen {
		return fmt.Errorf("slug %q exceeds %d characters", s, maxSlugLen)
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return fmt.Errorf("slug %q must not begin or end with a hyphen", s)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return fmt.Errorf("slug %q contains invalid character %q", s, r)
		}
	}
	return nil
}

// Slugify converts a title into a filesystem-safe slug.
// Example: "Fix FTS5 empty query crash" → "fix-fts5-empty-query-crash"
//
// Rules:
//   - Lowercase
//   - Spaces, underscores, and hyphens become single hyphens
//   - Other non-alphanumeric characters are removed
//   - Leading/trailing hyphens are trimmed
//   - Truncated to 50 characters (at a word boundary if possible)
//   - Empty input returns "unnamed-change"
func Slugify(title string) string {
	if strings.TrimSpace(title) == "" {
		return "unnamed-change"
	}

	s := strings.ToLower(strings.TrimSpace(title))

	var b strings.Builder
	prevHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		case r == ' ' || r == '_' || r == '-':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "unnamed-change"
	}
	if len(slug) <= maxSlugLen {
		return slug
	}

	// Truncate at a word boundary if one falls in the back half.
	truncated := slug[:maxSlugLen]
	if lastHyphen := strings.LastIndex(truncated, "-"); lastHyphen > maxSlugLen/2 {
		truncated = truncated[:lastHyphen]
	}
	return strings.TrimRight(truncated, "-")
}
