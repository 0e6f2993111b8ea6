package audit

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DataDir: t.TempDir(), RetainLimit: 10000})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.Record(Event{Time: base, Kind: KindChangeOpened, Slug: "fix-login-bug", Actor: "agent-a"})
	s.Record(Event{Time: base.Add(time.Second), Kind: KindLockConflict, Slug: "fix-login-bug", Actor: "agent-b", Detail: "held by agent-a"})

	events, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent() returned %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].Kind != KindLockConflict || events[1].Kind != KindChangeOpened {
		t.Errorf("order = %s, %s; want newest first", events[0].Kind, events[1].Kind)
	}
	if events[0].Slug != "fix-login-bug" || events[0].Actor != "agent-b" {
		t.Errorf("event fields lost: %+v", events[0])
	}
	if !events[0].Time.Equal(base.Add(time.Second)) {
		t.Errorf("Time = %v, want %v", events[0].Time, base.Add(time.Second))
	}
}

func TestRecord_StampsZeroTime(t *testing.T) {
	s := openTestStore(t)
	before := time.Now().Add(-time.Second)
	s.Record(Event{Kind: KindPathSecurity, Detail: "traversal attempt"})

	events, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Time.Before(before) {
		t.Errorf("zero time was not stamped: %+v", events)
	}
}

func TestRecent_LimitClamping(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()
	for i := 0; i < 30; i++ {
		s.Record(Event{Time: base.Add(time.Duration(i) * time.Millisecond), Kind: KindMemoryPressure})
	}

	events, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != defaultRecentLimit {
		t.Errorf("default limit returned %d events, want %d", len(events), defaultRecentLimit)
	}

	events, err = s.Recent(100000)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 30 {
		t.Errorf("oversized limit returned %d events, want all 30", len(events))
	}
}

func TestRecentByKind(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()
	s.Record(Event{Time: base, Kind: KindPathSecurity, Slug: "a"})
	s.Record(Event{Time: base.Add(time.Millisecond), Kind: KindLockConflict, Slug: "b"})
	s.Record(Event{Time: base.Add(2 * time.Millisecond), Kind: KindPathSecurity, Slug: "c"})

	events, err := s.RecentByKind(KindPathSecurity, 10)
	if err != nil {
		t.Fatalf("RecentByKind() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("RecentByKind() returned %d events, want 2", len(events))
	}
	if events[0].Slug != "c" || events[1].Slug != "a" {
		t.Errorf("order = %q, %q; want c then a", events[0].Slug, events[1].Slug)
	}
}

func TestRetentionPrunesOldEvents(t *testing.T) {
	s, err := Open(Config{DataDir: t.TempDir(), RetainLimit: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	base := time.Now()
	for i := 0; i < 12; i++ {
		s.Record(Event{Time: base.Add(time.Duration(i) * time.Millisecond), Kind: KindSizeExceeded, Detail: "big file"})
	}

	events, err := s.Recent(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Errorf("retained %d events, want 5", len(events))
	}
}

func TestNilStoreIsANoOp(t *testing.T) {
	var s *Store
	s.Record(Event{Kind: KindPathSecurity}) // must not panic

	events, err := s.Recent(10)
	if err != nil || len(events) != 0 {
		t.Errorf("nil Recent() = %v, %v; want empty, nil", events, err)
	}
	byKind, err := s.RecentByKind(KindPathSecurity, 10)
	if err != nil || len(byKind) != 0 {
		t.Errorf("nil RecentByKind() = %v, %v; want empty, nil", byKind, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestOpenAgainSeesExistingEvents(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	s.Record(Event{Kind: KindChangeArchived, Slug: "old-change"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(Config{DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	events, err := reopened.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Slug != "old-change" {
		t.Errorf("reopened store lost events: %+v", events)
	}
}
