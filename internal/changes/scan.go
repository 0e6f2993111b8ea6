package changes

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/task-mcp/internal/lockfile"
)

// taskDoc is the minimal shape read from tasks/*.json. Unknown fields are
// ignored so richer task documents still count.
type taskDoc struct {
	Status string `json:"status"`
}

// Scanner derives listing entries from change directories.
type Scanner struct {
	locks *lockfile.Manager
}

// NewScanner creates a scanner that consults locks through the given
// manager.
func NewScanner(locks *lockfile.Manager) *Scanner {
	return &Scanner{locks: locks}
}

// Scan reads every change under changesDir and returns one entry per
// change directory. Directories whose name is not a valid slug are not
// changes and are skipped, as are plain files. A failure inside a single
// change degrades that entry to StatusError instead of failing the scan;
// only an unreadable changesDir itself is an error. A missing changesDir
// yields an empty slice.
func (s *Scanner) Scan(changesDir string) ([]Entry, error) {
	dirents, err := os.ReadDir(changesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading changes directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || ValidateSlug(d.Name()) != nil {
			continue
		}
		entries = append(entries, s.scanOne(changesDir, d.Name()))
	}
	return entries, nil
}

// ScanOne derives the entry for a single change by slug.
func (s *Scanner) ScanOne(changesDir, slug string) (Entry, error) {
	if err := ValidateSlug(slug); err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(filepath.Join(changesDir, slug))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, fmt.Errorf("change %q not found", slug)
		}
		return Entry{}, fmt.Errorf("inspecting change %q: %w", slug, err)
	}
	if !info.IsDir() {
		return Entry{}, fmt.Errorf("change %q not found", slug)
	}
	return s.scanOne(changesDir, slug), nil
}

func (s *Scanner) scanOne(changesDir, slug string) Entry {
	dir := filepath.Join(changesDir, slug)
	entry := Entry{Slug: slug, Title: slug}

	info, err := os.Stat(dir)
	if err != nil {
		return degraded(slug, "inspecting change directory")
	}
	entry.ModifiedAt = info.ModTime()
	entry.CreatedAt = info.ModTime()

	// proposal.md supplies the title, description, and creation time.
	proposalPath := filepath.Join(dir, ProposalFile)
	if pinfo, err := os.Stat(proposalPath); err == nil {
		entry.CreatedAt = pinfo.ModTime()
		title, desc, perr := readProposal(proposalPath)
		if perr != nil {
			return degraded(slug, "reading proposal")
		}
		if title != "" {
			entry.Title = title
		}
		entry.Description = desc
		if pinfo.ModTime().After(entry.ModifiedAt) {
			entry.ModifiedAt = pinfo.ModTime()
		}
	}

	entry.SpecCount = countFiles(filepath.Join(dir, SpecsDir), ".md")
	entry.DeltaCount = countFiles(filepath.Join(dir, DeltasDir), ".diff", ".patch")

	taskTotal, taskDone, terr := countTasks(filepath.Join(dir, TasksDir))
	if terr != nil {
		return degraded(slug, "reading tasks")
	}
	entry.TaskCount = taskTotal

	// Lock state. A corrupt lock is reported as locked so callers do not
	// treat the change as available.
	rec, lerr := s.locks.Inspect(dir)
	switch {
	case errors.Is(lerr, lockfile.ErrCorrupt):
		entry.Locked = true
	case lerr != nil:
		return degraded(slug, "inspecting lock")
	case rec != nil && !rec.Stale(time.Now()):
		entry.Locked = true
		entry.Lock = rec
	}

	entry.Status = deriveStatus(entry, taskDone)
	return entry
}

func degraded(slug, context string) Entry {
	return Entry{
		Slug:   slug,
		Title:  slug,
		Status: StatusError,
		Error:  fmt.Sprintf("%s for change %q failed", context, slug),
	}
}

// deriveStatus computes the lifecycle state from what the scan observed.
// A live lock dominates everything except per-entry errors.
func deriveStatus(e Entry, taskDone int) Status {
	if e.Locked {
		return StatusLocked
	}
	switch {
	case e.TaskCount > 0 && taskDone == e.TaskCount:
		return StatusComplete
	case taskDone > 0 || e.DeltaCount > 0:
		return StatusInProgress
	case e.TaskCount > 0 || e.SpecCount > 0:
		return StatusPlanned
	default:
		return StatusDraft
	}
}

// readProposal extracts the title (first "# " heading) and description
// (first non-heading paragraph line) from a proposal document. It reads
// line by line and stops early, so large proposals stay cheap to scan.
func readProposal(path string) (title, description string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if title == "" && strings.HasPrefix(line, "# ") {
				title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			}
			continue
		}
		description = line
		break
	}
	return title, description, sc.Err()
}

// countFiles returns how many regular files under dir carry one of the
// given extensions. A missing dir counts as zero.
func countFiles(dir string, exts ...string) int {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		for _, want := range exts {
			if ext == want {
				n++
				break
			}
		}
	}
	return n
}

// countTasks parses each tasks/*.json far enough to read its status.
// A task counts as done when its status is "done", "complete", or
// "completed".
// A malformed task file is an error so the entry degrades rather than
// silently misreporting progress.
func countTasks(dir string) (total, done int, err error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	for _, d := range dirents {
		if d.IsDir() || strings.ToLower(filepath.Ext(d.Name())) != ".json" {
			continue
		}
		data, rerr := os.ReadFile(filepath.Join(dir, d.Name()))
		if rerr != nil {
			return 0, 0, rerr
		}
		var doc taskDoc
		if jerr := json.Unmarshal(data, &doc); jerr != nil {
			return 0, 0, fmt.Errorf("parsing task %s: %w", d.Name(), jerr)
		}
		total++
		switch strings.ToLower(doc.Status) {
		case "done", "complete", "completed":
			done++
		}
	}
	return total, done, nil
}
