// Package db opens the SQLite database shared by the API key, the session event
// log and the db session backend.
package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/session-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const apiKeyConfigKey = "api_key"

// InitDB opens the database at dbPath and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: newLogger(log.New(os.Stdout, "\r\n", log.LstdFlags)),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&models.Config{}, &models.SessionEvent{}); err != nil {
		return nil, err
	}

	// Generate the API key on first run
	if _, ok, _ := GetConfigValue(context.Background(), db, apiKeyConfigKey); !ok {
		apiKey := newAPIKey()
		if err := SetConfigValue(context.Background(), db, apiKeyConfigKey, apiKey); err != nil {
			return nil, fmt.Errorf("failed to store api key: %w", err)
		}
		log.Printf("🔑 Generated new API key: %s", apiKey)
	}

	return db, nil
}

// newLogger reports slow queries and real errors only. Session polling reads
// the config table constantly and a missing row is the logged-out state.
func newLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// GetConfigValue reads a config row. ok is false when the key does not exist.
func GetConfigValue(ctx context.Context, db *gorm.DB, key string) (value string, ok bool, err error) {
	var rows []models.Config
	result := db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&rows)
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

// SetConfigValue inserts or replaces a config row.
func SetConfigValue(ctx context.Context, db *gorm.DB, key, value string) error {
	row := models.Config{Key: key, Value: value}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// DeleteConfigValue removes a config row; a missing row is not an error.
func DeleteConfigValue(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Where("key = ?", key).Delete(&models.Config{}).Error
}

// GetAPIKey retrieves the API key, or "" when none is stored.
func GetAPIKey(db *gorm.DB) string {
	value, _, err := GetConfigValue(context.Background(), db, apiKeyConfigKey)
	if err != nil {
		log.Printf("⚠️ Failed to read API key: %v", err)
	}
	return value
}

// RegenerateAPIKey replaces the API key and returns the new one.
func RegenerateAPIKey(db *gorm.DB) string {
	apiKey := newAPIKey()
	if err := SetConfigValue(context.Background(), db, apiKeyConfigKey, apiKey); err != nil {
		log.Printf("❌ Failed to store regenerated API key: %v", err)
		return GetAPIKey(db)
	}
	log.Printf("🔑 Regenerated API key")
	return apiKey
}

// newAPIKey returns sk-<32 hex chars>.
func newAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "sk-" + hex.EncodeToString(keyBytes)
}
