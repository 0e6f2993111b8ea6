// Package access is the single entry point for reading the changes tree.
// Every path is validated against the sandbox before any filesystem
// operation, listings go through the pagination engine, and file contents
// go through the streaming reader, so no caller can bypass the size,
// memory, or containment rules by reaching the lower layers directly.
package access

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/task-mcp/internal/audit"
	"github.com/HendryAvila/task-mcp/internal/changes"
	"github.com/HendryAvila/task-mcp/internal/lockfile"
	"github.com/HendryAvila/task-mcp/internal/sandbox"
	"github.com/HendryAvila/task-mcp/internal/streaming"
)

// mimeTypes maps file extensions to the content types reported alongside
// reads. Unknown extensions fall back to application/octet-stream.
var mimeTypes = map[string]string{
	".md":    "text/markdown",
	".json":  "application/json",
	".yaml":  "text/yaml",
	".yml":   "text/yaml",
	".diff":  "text/plain",
	".patch": "text/plain",
	".txt":   "text/plain",
}

// MIMEType returns the content type for a filename by extension.
func MIMEType(name string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Document is the result of reading one file from a change.
type Document struct {
	// Slug identifies the owning change.
	Slug string
	// Name is the path of the file relative to the change directory.
	Name string
	// MIMEType is derived from the file extension.
	MIMEType string
	// Size is the file's total size in bytes.
	Size int64
	// Content holds the full body for files below the streaming
	// threshold; Stream is set instead for larger files. Exactly one of
	// the two is populated.
	Content []byte
	Stream  *streaming.Stream
}

// Streamed reports whether the document must be consumed chunk by chunk.
func (d *Document) Streamed() bool {
	return d.Stream != nil
}

// Facade mediates all reads of the changes tree.
type Facade struct {
	validator *sandbox.Validator
	scanner   *changes.Scanner
	reader    *streaming.Reader
	recorder  audit.Recorder
	actor     string
}

// New wires the read path together. The recorder may be nil; auditing is
// then skipped.
func New(validator *sandbox.Validator, scanner *changes.Scanner, reader *streaming.Reader, recorder audit.Recorder) *Facade {
	return &Facade{
		validator: validator,
		scanner:   scanner,
		reader:    reader,
		recorder:  recorder,
	}
}

// NewFromContext builds the whole read path from a security context: the
// validator from the context's root and allowed paths, the reader's
// file-size ceiling from MaxFileSize, and every audit event stamped with
// the context's actor.
func NewFromContext(ctx sandbox.Context, locks *lockfile.Manager, opts streaming.Options, recorder audit.Recorder) (*Facade, error) {
	validator, err := sandbox.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.MaxFileSize > 0 {
		opts.MaxFileSize = ctx.MaxFileSize
	}
	f := New(validator, changes.NewScanner(locks), streaming.NewReader(opts), recorder)
	f.actor = ctx.Actor
	return f, nil
}

// Root returns the sandbox root the facade serves.
func (f *Facade) Root() string {
	return f.validator.Root()
}

// List validates the changes directory, scans it, and returns the
// requested page. A per-change failure appears as an error entry in the
// listing rather than failing the call.
func (f *Facade) List(req changes.PageRequest) (*changes.Page, error) {
	dir, err := f.validator.Validate(changes.ChangesDir)
	if err != nil {
		f.recordSecurity("", err)
		return nil, err
	}
	entries, err := f.scanner.Scan(dir)
	if err != nil {
		return nil, err
	}
	return changes.Paginate(entries, req)
}

// Get returns the listing entry for a single change.
func (f *Facade) Get(slug string) (*changes.Entry, error) {
	dir, err := f.validator.Validate(changes.ChangesDir)
	if err != nil {
		f.recordSecurity(slug, err)
		return nil, err
	}
	entry, err := f.scanner.ScanOne(dir, slug)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Read opens one file inside a change. The slug and the relative file
// name are validated as a unit, so traversal through either component is
// caught before any I/O happens. Files below the streaming threshold come
// back fully buffered; larger files come back as a stream the caller must
// Close.
func (f *Facade) Read(slug, name string) (*Document, error) {
	path, size, err := f.resolve(slug, name)
	if err != nil {
		return nil, err
	}

	res, err := f.reader.Read(path)
	if err != nil {
		if errors.Is(err, streaming.ErrSizeExceeded) {
			f.record(audit.KindSizeExceeded, slug, fmt.Sprintf("%s is %d bytes", name, size))
		}
		return nil, err
	}

	return &Document{
		Slug:     slug,
		Name:     name,
		MIMEType: MIMEType(name),
		Size:     size,
		Content:  res.Content,
		Stream:   res.Stream,
	}, nil
}

// ReadFrom resumes a streamed file at a byte offset previously observed
// in a checkpoint. The caller must Close the returned stream.
func (f *Facade) ReadFrom(slug, name string, offset int64) (*streaming.Stream, error) {
	path, _, err := f.resolve(slug, name)
	if err != nil {
		return nil, err
	}
	return f.reader.StreamFrom(path, offset)
}

// resolve validates slug/name against the sandbox and stats the result.
// No filesystem read happens before validation succeeds.
func (f *Facade) resolve(slug, name string) (path string, size int64, err error) {
	if err := changes.ValidateSlug(slug); err != nil {
		return "", 0, err
	}
	if name == "" {
		name = changes.ProposalFile
	}

	// The name is relative to the change directory; a ".." segment can
	// only point at another change or out of the tree, even when the
	// cleaned path still lands inside the sandbox.
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			err := &sandbox.SecurityError{Reason: sandbox.ReasonTraversal, Segment: seg}
			f.recordSecurity(slug, err)
			return "", 0, err
		}
	}

	candidate := filepath.Join(changes.ChangesDir, slug, name)
	path, err = f.validator.Validate(candidate)
	if err != nil {
		f.recordSecurity(slug, err)
		return "", 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, fmt.Errorf("file %q not found in change %q", name, slug)
		}
		return "", 0, fmt.Errorf("inspecting %q in change %q: %w", name, slug, err)
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("%q in change %q is a directory", name, slug)
	}
	return path, info.Size(), nil
}

// recordSecurity audits sandbox violations; other validation errors pass
// through silently.
func (f *Facade) recordSecurity(slug string, err error) {
	var secErr *sandbox.SecurityError
	if errors.As(err, &secErr) {
		f.record(audit.KindPathSecurity, slug, string(secErr.Reason))
	}
}

func (f *Facade) record(kind audit.Kind, slug, detail string) {
	if f.recorder == nil {
		return
	}
	f.recorder.Record(audit.Event{Kind: kind, Slug: slug, Actor: f.actor, Detail: detail})
}
