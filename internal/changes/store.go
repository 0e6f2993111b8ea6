package changes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HendryAvila/task-mcp/internal/lockfile"
)

// proposalTemplate is the scaffold written into a fresh change. The title
// line feeds the listing scanner, so it always comes first.
const proposalTemplate = `# %s

%s

## Tasks

Task documents live in tasks/. Specs live in specs/, code deltas in deltas/.
`

// Store is the write side of the changes tree. Abstracted so tools can be
// tested against a fake.
type Store interface {
	Open(root string, req OpenRequest) (*Entry, error)
	Archive(root, slug string) error
}

// OpenRequest describes a change to create.
type OpenRequest struct {
	Title string
	// Slug overrides the slug derived from Title when set.
	Slug string
	// Rationale becomes the first paragraph of the proposal.
	Rationale string
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	locks *lockfile.Manager
}

// NewFileStore creates a filesystem-backed store. The lock manager guards
// archiving of held changes.
func NewFileStore(locks *lockfile.Manager) *FileStore {
	return &FileStore{locks: locks}
}

// ChangesPath returns the live-changes directory under root.
func ChangesPath(root string) string {
	return filepath.Join(root, ChangesDir)
}

// ArchivePath returns the archive directory under root.
func ArchivePath(root string) string {
	return filepath.Join(root, ArchiveDir)
}

// ChangePath returns a specific change's directory.
func ChangePath(root, slug string) string {
	return filepath.Join(ChangesPath(root), slug)
}

// Open creates the directory scaffold for a new change: proposal.md plus
// empty tasks/, specs/, and deltas/ directories. An existing slug is
// rejected rather than suffixed, so callers stay in control of naming.
func (fs *FileStore) Open(root string, req OpenRequest) (*Entry, error) {
	slug := req.Slug
	if slug == "" {
		slug = Slugify(req.Title)
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	dir := ChangePath(root, slug)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("change %q already exists", slug)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("inspecting change %q: %w", slug, err)
	}

	for _, sub := range []string{TasksDir, SpecsDir, DeltasDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating change %q: %w", slug, err)
		}
	}

	title := req.Title
	if title == "" {
		title = slug
	}
	rationale := req.Rationale
	if rationale == "" {
		rationale = "Why this change is needed."
	}
	proposal := fmt.Sprintf(proposalTemplate, title, rationale)
	if err := os.WriteFile(filepath.Join(dir, ProposalFile), []byte(proposal), 0o644); err != nil {
		return nil, fmt.Errorf("writing proposal for %q: %w", slug, err)
	}

	now := time.Now()
	return &Entry{
		Slug:       slug,
		Title:      title,
		CreatedAt:  now,
		ModifiedAt: now,
		Status:     StatusDraft,
	}, nil
}

// Archive moves a change from changes/ to archive/. A change whose lock is
// still live cannot be archived; a stale lock is removed on the way out.
func (fs *FileStore) Archive(root, slug string) error {
	if err := ValidateSlug(slug); err != nil {
		return err
	}

	src := ChangePath(root, slug)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return fmt.Errorf("change %q not found", slug)
	}

	rec, err := fs.locks.Inspect(src)
	switch {
	case errors.Is(err, lockfile.ErrCorrupt):
		return fmt.Errorf("change %q has an unreadable lock; clear it before archiving", slug)
	case err != nil:
		return fmt.Errorf("inspecting lock for %q: %w", slug, err)
	case rec != nil && !rec.Stale(time.Now()):
		return fmt.Errorf("change %q is locked by %q", slug, rec.Owner)
	case rec != nil:
		if err := fs.locks.Clear(src); err != nil {
			return fmt.Errorf("clearing stale lock for %q: %w", slug, err)
		}
	}

	archiveDir := ArchivePath(root)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	dst := filepath.Join(archiveDir, slug)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("change %q already exists in the archive", slug)
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archiving change %q: %w", slug, err)
	}
	return nil
}
