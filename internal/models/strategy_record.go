package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mt5-trade-bot-go/internal/strategy"
	"mt5-trade-bot-go/internal/terminal"
)

// StrategyRecord is the persisted form of a strategy configuration.
// Symbols and Params are stored as JSON so the schema survives new
// strategy families without migrations.
type StrategyRecord struct {
	gorm.Model
	StrategyID           string `gorm:"uniqueIndex;not null"`
	Kind                 string `gorm:"not null"`
	Symbols              string `gorm:"not null"`
	Timeframe            string
	CooldownSeconds      int
	CheckIntervalSeconds int
	LookbackBars         int
	Params               string
	Enabled              bool `gorm:"default:false"`
}

// NewStrategyRecord encodes a strategy config into its row form.
func NewStrategyRecord(cfg strategy.Config, enabled bool) (StrategyRecord, error) {
	symbols, err := json.Marshal(cfg.Symbols)
	if err != nil {
		return StrategyRecord{}, fmt.Errorf("failed to encode symbols: %w", err)
	}
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return StrategyRecord{}, fmt.Errorf("failed to encode params: %w", err)
	}
	return StrategyRecord{
		StrategyID:           cfg.ID,
		Kind:                 string(cfg.Kind),
		Symbols:              string(symbols),
		Timeframe:            string(cfg.Timeframe),
		CooldownSeconds:      int(cfg.Cooldown / time.Second),
		CheckIntervalSeconds: int(cfg.CheckInterval / time.Second),
		LookbackBars:         cfg.LookbackBars,
		Params:               string(params),
		Enabled:              enabled,
	}, nil
}

// Config rebuilds the strategy config stored in the row.
func (r *StrategyRecord) Config() (strategy.Config, error) {
	var symbols []string
	if err := json.Unmarshal([]byte(r.Symbols), &symbols); err != nil {
		return strategy.Config{}, fmt.Errorf("failed to decode symbols for '%s': %w", r.StrategyID, err)
	}
	params := make(map[string]float64)
	if r.Params != "" {
		if err := json.Unmarshal([]byte(r.Params), &params); err != nil {
			return strategy.Config{}, fmt.Errorf("failed to decode params for '%s': %w", r.StrategyID, err)
		}
	}
	return strategy.Config{
		ID:            r.StrategyID,
		Kind:          strategy.Kind(r.Kind),
		Symbols:       symbols,
		Timeframe:     terminal.Timeframe(r.Timeframe),
		Cooldown:      time.Duration(r.CooldownSeconds) * time.Second,
		CheckInterval: time.Duration(r.CheckIntervalSeconds) * time.Second,
		LookbackBars:  r.LookbackBars,
		Params:        params,
	}, nil
}
