// Package sandbox bounds filesystem access to a single root directory.
//
// Every path handed to the resource layer goes through a Validator before
// any I/O happens. Validation resolves symlinks on both the root and the
// candidate and only accepts candidates that canonicalize to a strict
// descendant of the canonical root. Validation is pure — it never creates,
// modifies, or opens anything.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxSymlinkDepth bounds symlink chain resolution. Chains longer than this
// are reported as circular even if they eventually terminate.
const maxSymlinkDepth = 40

// Reason classifies why a candidate path was rejected.
type Reason string

const (
	ReasonTraversal       Reason = "traversal"
	ReasonSymlinkEscape   Reason = "symlink-escape"
	ReasonCircularSymlink Reason = "circular-symlink"
	ReasonNullByte        Reason = "null-byte"
	ReasonHomeReference   Reason = "home-reference"
)

// SecurityError reports a rejected path. Segment holds the offending path
// segment relative to the root — never an absolute path, so messages stay
// safe to surface to callers.
type SecurityError struct {
	Reason  Reason
	Segment string
}

func (e *SecurityError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("path rejected: %s", e.Reason)
	}
	return fmt.Sprintf("path rejected (%s): %q", e.Reason, e.Segment)
}

// Context is the explicit security context consumed by the access layer:
// the sandbox root, optional extra allowed subtrees, the per-file size
// ceiling, and the acting identity (for audit events, may be empty).
type Context struct {
	Root         string
	AllowedPaths []string
	MaxFileSize  int64
	Actor        string
}

// Validator validates candidate paths against one canonical root, plus
// any extra subtrees granted through a Context.
type Validator struct {
	root    string // canonical, symlinks resolved
	allowed []string
}

// New creates a Validator for the given root. The root must exist; its
// symlinks are resolved once here so later comparisons are stable.
func New(root string) (*Validator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	canonical, err := resolveSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing sandbox root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root is not a directory")
	}
	return &Validator{root: canonical}, nil
}

// FromContext creates a Validator from a security context. Each entry in
// ctx.AllowedPaths names an additional existing subtree (absolute, or
// relative to the root) whose contents validate even though they sit
// outside the root itself.
func FromContext(ctx Context) (*Validator, error) {
	v, err := New(ctx.Root)
	if err != nil {
		return nil, err
	}
	for _, p := range ctx.AllowedPaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(v.root, p)
		}
		canonical, err := resolveSymlinks(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("canonicalizing allowed path %q: %w", filepath.Base(p), err)
		}
		v.allowed = append(v.allowed, canonical)
	}
	return v, nil
}

// Root returns the canonical sandbox root.
func (v *Validator) Root() string {
	return v.root
}

// Validate resolves candidate (absolute, or relative to the root) and
// returns its canonical form, or a *SecurityError if the canonical result
// is not a strict descendant of the root.
//
// Candidates that do not exist yet are accepted for creation paths: the
// nearest existing ancestor is canonicalized and the remaining segments
// are checked for traversal tokens, home references, and null bytes.
func (v *Validator) Validate(candidate string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		return "", &SecurityError{Reason: ReasonNullByte}
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(v.root, abs)
	}
	abs = filepath.Clean(abs)

	canonical, err := v.canonicalize(abs)
	if err != nil {
		return "", err
	}

	if !v.isDescendant(canonical) {
		return "", &SecurityError{Reason: ReasonTraversal, Segment: v.relativeHint(abs)}
	}
	return canonical, nil
}

// canonicalize resolves symlinks on abs. When abs does not exist, it walks
// up to the nearest existing ancestor, canonicalizes that, and re-appends
// the remaining (rejected-if-suspicious) segments.
func (v *Validator) canonicalize(abs string) (string, error) {
	resolved, err := resolveSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	var secErr *SecurityError
	if errors.As(err, &secErr) {
		return "", secErr
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	// Creation path: find the nearest existing ancestor.
	ancestor := abs
	var rest []string
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		rest = append(rest, filepath.Base(ancestor))
		ancestor = parent
		if _, statErr := os.Lstat(ancestor); statErr == nil {
			break
		}
	}

	resolvedAncestor, err := resolveSymlinks(ancestor)
	if err != nil {
		if errors.As(err, &secErr) {
			return "", secErr
		}
		return "", fmt.Errorf("resolving ancestor: %w", err)
	}

	// rest was collected leaf-first; validate and append in path order.
	result := resolvedAncestor
	for i := len(rest) - 1; i >= 0; i-- {
		seg := rest[i]
		if err := checkSegment(seg); err != nil {
			return "", err
		}
		result = filepath.Join(result, seg)
	}
	return result, nil
}

// checkSegment rejects traversal tokens, home references, and embedded
// null bytes in a single not-yet-existing path segment.
func checkSegment(seg string) error {
	switch {
	case seg == "..":
		return &SecurityError{Reason: ReasonTraversal, Segment: seg}
	case seg == "~" || strings.HasPrefix(seg, "~"):
		return &SecurityError{Reason: ReasonHomeReference, Segment: seg}
	case strings.ContainsRune(seg, 0):
		return &SecurityError{Reason: ReasonNullByte}
	}
	return nil
}

// isDescendant reports whether canonical is strictly inside the root or
// inside one of the extra allowed subtrees.
func (v *Validator) isDescendant(canonical string) bool {
	if inside(canonical, v.root) {
		return true
	}
	for _, a := range v.allowed {
		if canonical == a || inside(canonical, a) {
			return true
		}
	}
	return false
}

func inside(path, root string) bool {
	return path != root && strings.HasPrefix(path, root+string(filepath.Separator))
}

// relativeHint returns the candidate's path relative to the root when that
// is expressible, otherwise just its base name. Keeps error messages free
// of absolute paths.
func (v *Validator) relativeHint(abs string) string {
	if rel, err := filepath.Rel(v.root, abs); err == nil {
		return rel
	}
	return filepath.Base(abs)
}

// resolveSymlinks canonicalizes path segment by segment with an explicit
// visited set, so cycles are detected and reported as ReasonCircularSymlink
// instead of a generic ELOOP failure. Returns os.ErrNotExist (wrapped) when
// a segment does not exist.
func resolveSymlinks(path string) (string, error) {
	visited := make(map[string]struct{})
	return walkSymlinks(path, visited, 0)
}

func walkSymlinks(path string, visited map[string]struct{}, depth int) (string, error) {
	if depth > maxSymlinkDepth {
		return "", &SecurityError{Reason: ReasonCircularSymlink, Segment: filepath.Base(path)}
	}

	sep := string(filepath.Separator)
	segments := strings.Split(filepath.Clean(path), sep)
	resolved := sep
	if !filepath.IsAbs(path) {
		resolved = "."
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		resolved = filepath.Join(resolved, seg)

		info, err := os.Lstat(resolved)
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		if _, seen := visited[resolved]; seen {
			return "", &SecurityError{Reason: ReasonCircularSymlink, Segment: seg}
		}
		visited[resolved] = struct{}{}

		target, err := os.Readlink(resolved)
		if err != nil {
			return "", fmt.Errorf("reading symlink: %w", err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(resolved), target)
		}
		next, err := walkSymlinks(target, visited, depth+1)
		if err != nil {
			return "", err
		}
		resolved = next
	}
	return resolved, nil
}
