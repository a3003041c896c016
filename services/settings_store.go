// services/settings_store.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"quest-reward-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RewardConfigKey is the app_settings row holding the reward configuration.
const RewardConfigKey = "reward_config"

// SettingsStore caches the reward configuration stored in app_settings.
// Fields missing from the stored JSON keep their base values; a row that
// fails validation is ignored and the last good config stays active.
type SettingsStore struct {
	DB *gorm.DB

	mu      sync.RWMutex
	base    RewardConfig
	current RewardConfig
}

func NewSettingsStore(db *gorm.DB, base RewardConfig) *SettingsStore {
	return &SettingsStore{DB: db, base: base.Clone(), current: base.Clone()}
}

func (s *SettingsStore) Current() RewardConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh reloads the stored row if its version changed.
func (s *SettingsStore) Refresh(ctx context.Context) error {
	var row models.AppSetting
	err := s.DB.WithContext(ctx).First(&row, "key = ?", RewardConfigKey).Error
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return infra("load settings", err)
	}

	if row.Version == s.Current().Version {
		return nil
	}

	cfg, err := s.decode(row)
	if err != nil {
		log.Printf("⚠️ [SETTINGS] Ignoring %s v%d: %v", RewardConfigKey, row.Version, err)
		return nil
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	log.Printf("✅ [SETTINGS] Loaded %s v%d", RewardConfigKey, row.Version)
	return nil
}

func (s *SettingsStore) decode(row models.AppSetting) (RewardConfig, error) {
	cfg := s.base.Clone()
	if err := json.Unmarshal([]byte(row.Value), &cfg); err != nil {
		return RewardConfig{}, fmt.Errorf("decode: %w", err)
	}
	cfg.Version = row.Version
	if err := cfg.Validate(); err != nil {
		return RewardConfig{}, err
	}
	return cfg, nil
}

// Save validates cfg and stores it as the next version.
func (s *SettingsStore) Save(ctx context.Context, cfg RewardConfig) (RewardConfig, error) {
	if err := cfg.Validate(); err != nil {
		return RewardConfig{}, &DomainError{Kind: KindInvalidInput, Reason: err.Error()}
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.AppSetting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "key = ?", RewardConfigKey).Error
		switch {
		case isNotFound(err):
			cfg.Version = 1
		case err != nil:
			return err
		default:
			cfg.Version = row.Version + 1
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "value", "updated_at"}),
		}).Create(&models.AppSetting{Key: RewardConfigKey, Version: cfg.Version, Value: string(value)}).Error
	})
	if err != nil {
		return RewardConfig{}, infra("save settings", err)
	}

	s.mu.Lock()
	s.current = cfg.Clone()
	s.mu.Unlock()
	log.Printf("✅ [SETTINGS] Saved %s v%d", RewardConfigKey, cfg.Version)
	return cfg, nil
}
