package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mt5-trade-bot-go/internal/config"
	"mt5-trade-bot-go/internal/models"
)

// NewDatabase creates a new database connection and performs auto-migration.
// Stored strategy configurations survive restarts, so existing tables are
// migrated in place rather than rebuilt.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.StrategyRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}
