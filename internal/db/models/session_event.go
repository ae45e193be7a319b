package models

// SessionEvent records one session transition for the activity log.
type SessionEvent struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Timestamp int64  `gorm:"index" json:"timestamp"` // epoch milliseconds
	Kind      string `gorm:"index" json:"kind"`      // login, switch, remove, logout, ...
	Email     string `gorm:"index" json:"email,omitempty"`
}

// SessionStats holds aggregated counters over recorded session events.
type SessionStats struct {
	TotalEvents   int64 `json:"total_events"`
	Logins        int64 `json:"logins"`
	Removals      int64 `json:"removals"`
	Invalidations int64 `json:"invalidations"`
}
