// Package monitor keeps an activity log of session transitions.
package monitor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/db/models"
	"gorm.io/gorm"
)

// MaxMemoryEvents limits the in-memory event cache
const MaxMemoryEvents = 100

// SessionMonitor records session events and keeps running counters.
// A nil database keeps events in memory only.
type SessionMonitor struct {
	db      *gorm.DB
	enabled atomic.Bool
	now     func() time.Time

	recent   []models.SessionEvent
	recentMu sync.RWMutex

	total         atomic.Int64
	logins        atomic.Int64
	removals      atomic.Int64
	invalidations atomic.Int64
}

// NewSessionMonitor creates an enabled monitor and loads counters from db.
func NewSessionMonitor(db *gorm.DB) *SessionMonitor {
	sm := &SessionMonitor{
		db:     db,
		now:    time.Now,
		recent: make([]models.SessionEvent, 0, MaxMemoryEvents),
	}
	if db != nil {
		if err := db.AutoMigrate(&models.SessionEvent{}); err != nil {
			log.Printf("[Monitor] Failed to migrate SessionEvent table: %v", err)
		}
		sm.loadStatsFromDB()
	}
	sm.enabled.Store(true)
	return sm
}

// SetEnabled enables or disables event recording
func (sm *SessionMonitor) SetEnabled(enabled bool) {
	sm.enabled.Store(enabled)
	log.Printf("[Monitor] Session event log %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

// IsEnabled returns whether recording is enabled
func (sm *SessionMonitor) IsEnabled() bool {
	return sm.enabled.Load()
}

// RecordSessionEvent implements session.Recorder.
func (sm *SessionMonitor) RecordSessionEvent(kind session.EventKind, email string) {
	if !sm.IsEnabled() {
		return
	}

	event := models.SessionEvent{
		ID:        uuid.New().String(),
		Timestamp: sm.now().UnixMilli(),
		Kind:      string(kind),
		Email:     email,
	}
	sm.count(kind)

	sm.recentMu.Lock()
	sm.recent = append([]models.SessionEvent{event}, sm.recent...)
	if len(sm.recent) > MaxMemoryEvents {
		sm.recent = sm.recent[:MaxMemoryEvents]
	}
	sm.recentMu.Unlock()

	if sm.db != nil {
		if err := sm.db.Create(&event).Error; err != nil {
			log.Printf("[Monitor] Failed to save session event: %v", err)
		}
	}
}

// Recent returns the newest events first, optionally limited to the last
// sinceMinutes minutes.
func (sm *SessionMonitor) Recent(limit int, sinceMinutes int) []models.SessionEvent {
	if limit <= 0 {
		limit = MaxMemoryEvents
	}
	var since int64
	if sinceMinutes > 0 {
		since = sm.now().Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
	}

	if sm.db != nil {
		var events []models.SessionEvent
		query := sm.db.Order("timestamp DESC").Limit(limit)
		if since > 0 {
			query = query.Where("timestamp >= ?", since)
		}
		err := query.Find(&events).Error
		if err == nil {
			return events
		}
		log.Printf("[Monitor] Failed to get session events from DB: %v", err)
	}

	// Fallback to memory
	sm.recentMu.RLock()
	defer sm.recentMu.RUnlock()
	out := make([]models.SessionEvent, 0, limit)
	for _, e := range sm.recent {
		if len(out) == limit {
			break
		}
		if e.Timestamp >= since {
			out = append(out, e)
		}
	}
	return out
}

// History returns one page of persisted events, filtered by an email substring.
func (sm *SessionMonitor) History(page, pageSize int, email string) ([]models.SessionEvent, int64) {
	if sm.db == nil {
		events := sm.Recent(MaxMemoryEvents, 0)
		return events, int64(len(events))
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	var events []models.SessionEvent
	var total int64

	query := sm.db.Model(&models.SessionEvent{})
	if email != "" {
		query = query.Where("email LIKE ?", "%"+email+"%")
	}
	query.Count(&total)

	offset := (page - 1) * pageSize
	if err := query.Order("timestamp DESC").Offset(offset).Limit(pageSize).Find(&events).Error; err != nil {
		log.Printf("[Monitor] Failed to page session events: %v", err)
		return nil, 0
	}
	return events, total
}

// Stats returns the event counters
func (sm *SessionMonitor) Stats() models.SessionStats {
	return models.SessionStats{
		TotalEvents:   sm.total.Load(),
		Logins:        sm.logins.Load(),
		Removals:      sm.removals.Load(),
		Invalidations: sm.invalidations.Load(),
	}
}

// Clear drops every event from memory and database
func (sm *SessionMonitor) Clear() error {
	sm.recentMu.Lock()
	sm.recent = sm.recent[:0]
	sm.recentMu.Unlock()

	sm.total.Store(0)
	sm.logins.Store(0)
	sm.removals.Store(0)
	sm.invalidations.Store(0)

	if sm.db != nil {
		if err := sm.db.Exec("DELETE FROM session_events").Error; err != nil {
			log.Printf("[Monitor] Failed to clear session events: %v", err)
			return err
		}
	}

	log.Printf("[Monitor] Session events cleared")
	return nil
}

func (sm *SessionMonitor) count(kind session.EventKind) {
	sm.total.Add(1)
	switch kind {
	case session.EventLogin:
		sm.logins.Add(1)
	case session.EventRemove, session.EventPrune:
		sm.removals.Add(1)
	case session.EventInvalidate:
		sm.invalidations.Add(1)
	}
}

// loadStatsFromDB loads counters from earlier runs
func (sm *SessionMonitor) loadStatsFromDB() {
	var total, logins, removals, invalidations int64

	sm.db.Model(&models.SessionEvent{}).Count(&total)
	sm.db.Model(&models.SessionEvent{}).Where("kind = ?", string(session.EventLogin)).Count(&logins)
	sm.db.Model(&models.SessionEvent{}).Where("kind IN ?", []string{string(session.EventRemove), string(session.EventPrune)}).Count(&removals)
	sm.db.Model(&models.SessionEvent{}).Where("kind = ?", string(session.EventInvalidate)).Count(&invalidations)

	sm.total.Store(total)
	sm.logins.Store(logins)
	sm.removals.Store(removals)
	sm.invalidations.Store(invalidations)

	log.Printf("[Monitor] Loaded session stats: total=%d, logins=%d, removals=%d, invalidations=%d",
		total, logins, removals, invalidations)
}
