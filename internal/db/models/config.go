package models

import "time"

// Config is a key/value row. It holds application settings such as the API key
// and doubles as the durable store for persisted session blobs.
type Config struct {
	Key       string    `gorm:"primaryKey"` // Config key name
	Value     string    `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
