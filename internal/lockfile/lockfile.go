// Package lockfile implements atomic cross-process locks for change
// directories.
//
// A lock is a JSON file `.lock` inside the locked directory holding
// {owner, since, ttl}. Acquisition writes the record to a uniquely named
// temp file beside the target and publishes it atomically: a hard link for
// fresh acquisition (exactly one winner under contention), a rename plus
// ownership re-validation for refresh and stale reclaim. Locks expire after
// their TTL and become reclaimable by any owner.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileName is the lock marker file inside a locked directory.
const FileName = ".lock"

// DefaultTTL is applied when a caller acquires with ttl <= 0.
const DefaultTTL = 600 // seconds

var (
	// ErrConflict means the resource is locked by a different owner and
	// the lock has not expired. Callers retry with their own backoff.
	ErrConflict = errors.New("resource is locked by another owner")
	// ErrCorrupt means the lock file exists but cannot be parsed. The lock
	// is treated as a conservative conflict until cleared manually.
	ErrCorrupt = errors.New("lock file is corrupt")
	// ErrNotOwner means a release was attempted by a non-owner while the
	// lock is still live.
	ErrNotOwner = errors.New("lock is held by a different owner")
)

// Record is the persisted lock content.
type Record struct {
	Owner string `json:"owner"`
	Since int64  `json:"since"` // Unix milliseconds
	TTL   int64  `json:"ttl"`   // seconds
}

// Stale reports whether the lock's TTL has elapsed at the given time.
func (r Record) Stale(now time.Time) bool {
	return now.UnixMilli()-r.Since >= r.TTL*1000
}

// timeNow is a package-level variable for testability.
// Same pattern as changes/time.go.
var timeNow = time.Now

// Manager acquires and releases directory locks.
type Manager struct{}

// NewManager creates a lock Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Path returns the lock file path for a resource directory.
func Path(resourceDir string) string {
	return filepath.Join(resourceDir, FileName)
}

// Acquire takes the lock on resourceDir for owner. A live lock held by the
// same owner is refreshed; a stale lock is reclaimed regardless of owner.
// Returns ErrConflict when a different owner holds a live lock and
// ErrCorrupt when an unparseable lock file is present.
func (m *Manager) Acquire(resourceDir, owner string, ttlSeconds int64) (*Record, error) {
	if owner == "" {
		return nil, fmt.Errorf("lock owner must not be empty")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTL
	}

	now := timeNow()
	existing, err := m.Inspect(resourceDir)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Owner != owner && !existing.Stale(now) {
		return nil, ErrConflict
	}

	record := Record{
		Owner: owner,
		Since: now.UnixMilli(),
		TTL:   ttlSeconds,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshaling lock record: %w", err)
	}

	// Write beside the target, then publish atomically. 0600 keeps the
	// record private to the owning account where the platform honors it.
	tmp := filepath.Join(resourceDir, fmt.Sprintf("%s.%s.tmp", FileName, uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing lock temp file: %w", err)
	}
	defer os.Remove(tmp)

	if existing == nil {
		// Fresh acquisition: link(2) creates the lock only if none exists,
		// so concurrent contenders get exactly one winner.
		if err := os.Link(tmp, Path(resourceDir)); err != nil {
			if os.IsExist(err) {
				return nil, ErrConflict
			}
			return nil, fmt.Errorf("publishing lock: %w", err)
		}
		return &record, nil
	}

	// Refresh or stale reclaim: replace the existing file, then re-validate
	// ownership. Two reclaimers racing here leave whoever renamed last as
	// the owner; the loser sees a foreign record and reports a conflict.
	if err := os.Rename(tmp, Path(resourceDir)); err != nil {
		return nil, fmt.Errorf("publishing lock: %w", err)
	}
	current, err := m.Inspect(resourceDir)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Owner != owner || current.Since != record.Since {
		return nil, ErrConflict
	}
	return current, nil
}

// Release removes the lock if owner matches. Releasing an absent lock is a
// no-op; releasing another owner's live lock fails with ErrNotOwner, unless
// the lock has gone stale, in which case anyone may clear it.
func (m *Manager) Release(resourceDir, owner string) error {
	existing, err := m.Inspect(resourceDir)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.Owner != owner && !existing.Stale(timeNow()) {
		return ErrNotOwner
	}
	return m.removeIfCurrent(resourceDir, *existing)
}

// removeIfCurrent deletes the lock file only while it still holds expect.
// A stale lock can be reclaimed at any moment, and an unconditional remove
// could delete a record published after the caller's check; the re-read
// narrows that window to a single read-to-unlink gap.
func (m *Manager) removeIfCurrent(resourceDir string, expect Record) error {
	current, err := m.Inspect(resourceDir)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if *current != expect {
		return ErrNotOwner
	}
	if err := os.Remove(Path(resourceDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Inspect reads the current lock record. Returns (nil, nil) when no lock
// file exists and ErrCorrupt when one exists but does not parse — corrupt
// locks count as held until explicitly cleared.
func (m *Manager) Inspect(resourceDir string) (*Record, error) {
	data, err := os.ReadFile(Path(resourceDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if record.Owner == "" || record.Since == 0 || record.TTL == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrCorrupt)
	}
	return &record, nil
}

// Clear unconditionally removes the lock file. Intended for operators
// resolving a corrupt lock (Inspect returned ErrCorrupt); it is not part of
// the normal acquire/release protocol.
func (m *Manager) Clear(resourceDir string) error {
	if err := os.Remove(Path(resourceDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing lock file: %w", err)
	}
	return nil
}
