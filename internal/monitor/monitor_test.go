package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/db"
)

func TestSessionMonitor_RecordAndStats(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "nexus.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	sm := NewSessionMonitor(database)

	sm.RecordSessionEvent(session.EventLogin, "a@x.com")
	sm.RecordSessionEvent(session.EventLogin, "b@x.com")
	sm.RecordSessionEvent(session.EventRemove, "a@x.com")
	sm.RecordSessionEvent(session.EventPrune, "b@x.com")
	sm.RecordSessionEvent(session.EventInvalidate, "c@x.com")

	stats := sm.Stats()
	if stats.TotalEvents != 5 || stats.Logins != 2 || stats.Removals != 2 || stats.Invalidations != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	events := sm.Recent(3, 0)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for _, e := range events {
		if e.ID == "" || e.Timestamp == 0 {
			t.Fatalf("event missing id or timestamp: %+v", e)
		}
	}

	// counters survive a restart
	reopened := NewSessionMonitor(database)
	if got := reopened.Stats(); got != stats {
		t.Fatalf("expected reloaded stats %+v, got %+v", stats, got)
	}
}

func TestSessionMonitor_History(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "nexus.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	sm := NewSessionMonitor(database)
	for i := 0; i < 5; i++ {
		sm.RecordSessionEvent(session.EventSwitch, "a@x.com")
	}
	sm.RecordSessionEvent(session.EventSwitch, "b@y.com")

	page, total := sm.History(1, 4, "")
	if total != 6 || len(page) != 4 {
		t.Fatalf("expected 4 of 6, got %d of %d", len(page), total)
	}
	page, total = sm.History(2, 4, "")
	if len(page) != 2 {
		t.Fatalf("expected 2 events on page 2, got %d", len(page))
	}
	page, total = sm.History(1, 10, "y.com")
	if total != 1 || len(page) != 1 || page[0].Email != "b@y.com" {
		t.Fatalf("unexpected filtered page: %d %+v", total, page)
	}
}

func TestSessionMonitor_Disabled(t *testing.T) {
	sm := NewSessionMonitor(nil)
	sm.SetEnabled(false)
	sm.RecordSessionEvent(session.EventLogin, "a@x.com")
	if sm.Stats().TotalEvents != 0 {
		t.Fatal("disabled monitor should not count events")
	}
	if len(sm.Recent(10, 0)) != 0 {
		t.Fatal("disabled monitor should not keep events")
	}
}

func TestSessionMonitor_MemoryOnly(t *testing.T) {
	sm := NewSessionMonitor(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }
	sm.RecordSessionEvent(session.EventLogin, "old@x.com")

	sm.now = func() time.Time { return base.Add(30 * time.Minute) }
	sm.RecordSessionEvent(session.EventLogin, "new@x.com")

	all := sm.Recent(0, 0)
	if len(all) != 2 || all[0].Email != "new@x.com" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	recent := sm.Recent(10, 10)
	if len(recent) != 1 || recent[0].Email != "new@x.com" {
		t.Fatalf("expected only the last 10 minutes, got %+v", recent)
	}

	if err := sm.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if len(sm.Recent(10, 0)) != 0 || sm.Stats().TotalEvents != 0 {
		t.Fatal("Clear should drop events and counters")
	}
}

func TestSessionMonitor_AsRecorder(t *testing.T) {
	var _ session.Recorder = NewSessionMonitor(nil)
}
