package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"mt5-trade-bot-go/internal/models"
	"mt5-trade-bot-go/internal/strategy"
)

// StoredStrategy pairs a strategy config with its autostart flag.
type StoredStrategy struct {
	Config  strategy.Config
	Enabled bool
}

// Store reads and writes strategy configurations.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a config store backed by db.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("store"),
	}
}

// Load returns every stored strategy. Rows that no longer decode are
// skipped with a warning so one corrupt record cannot block startup.
func (s *Store) Load() ([]StoredStrategy, error) {
	var records []models.StrategyRecord
	if err := s.db.Order("strategy_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load strategy records: %w", err)
	}

	stored := make([]StoredStrategy, 0, len(records))
	for i := range records {
		cfg, err := records[i].Config()
		if err != nil {
			s.logger.Warn("Skipping unreadable strategy record",
				zap.String("strategy", records[i].StrategyID),
				zap.Error(err))
			continue
		}
		stored = append(stored, StoredStrategy{Config: cfg, Enabled: records[i].Enabled})
	}
	return stored, nil
}

// Get fetches one stored config by strategy id. The second return value
// reports whether the id exists.
func (s *Store) Get(id string) (strategy.Config, bool, error) {
	var rec models.StrategyRecord
	err := s.db.Where("strategy_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return strategy.Config{}, false, nil
	}
	if err != nil {
		return strategy.Config{}, false, fmt.Errorf("failed to load strategy '%s': %w", id, err)
	}

	cfg, err := rec.Config()
	if err != nil {
		return strategy.Config{}, false, err
	}
	return cfg, true, nil
}

// Save upserts a config keyed by its strategy id.
func (s *Store) Save(cfg strategy.Config, enabled bool) error {
	rec, err := models.NewStrategyRecord(cfg, enabled)
	if err != nil {
		return err
	}

	var existing models.StrategyRecord
	lookup := s.db.Where("strategy_id = ?", cfg.ID).First(&existing).Error
	switch {
	case errors.Is(lookup, gorm.ErrRecordNotFound):
		if err := s.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create strategy '%s': %w", cfg.ID, err)
		}
	case lookup != nil:
		return fmt.Errorf("failed to look up strategy '%s': %w", cfg.ID, lookup)
	default:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if err := s.db.Save(&rec).Error; err != nil {
			return fmt.Errorf("failed to update strategy '%s': %w", cfg.ID, err)
		}
	}
	return nil
}

// SetEnabled flips the autostart flag without touching the rest of the config.
func (s *Store) SetEnabled(id string, enabled bool) error {
	res := s.db.Model(&models.StrategyRecord{}).
		Where("strategy_id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("failed to update strategy '%s': %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("strategy '%s' is not stored", id)
	}
	return nil
}

// Delete removes a stored strategy. The delete is unscoped so the unique
// strategy_id index stays free for a later re-create.
func (s *Store) Delete(id string) error {
	if err := s.db.Unscoped().Where("strategy_id = ?", id).Delete(&models.StrategyRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete strategy '%s': %w", id, err)
	}
	return nil
}
