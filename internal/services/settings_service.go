package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vikasavnish/autotrade/internal/models"
)

// settingsRowID is the single row holding the runtime configuration.
const settingsRowID = 1

// SettingsService persists the auto-trade RuntimeConfig
type SettingsService interface {
	Get() (models.RuntimeConfig, error)
	Save(cfg models.RuntimeConfig) (models.RuntimeConfig, error)
}

type settingsService struct {
	db *gorm.DB
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *gorm.DB) SettingsService {
	return &settingsService{db: db}
}

// Get returns the saved configuration, or the defaults if none is saved
func (s *settingsService) Get() (models.RuntimeConfig, error) {
	var cfg models.RuntimeConfig
	err := s.db.First(&cfg, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultRuntimeConfig(), nil
	}
	if err != nil {
		return models.RuntimeConfig{}, err
	}
	return cfg.WithDefaults(), nil
}

// Save validates and replaces the configuration
func (s *settingsService) Save(cfg models.RuntimeConfig) (models.RuntimeConfig, error) {
	if err := cfg.Validate(); err != nil {
		return models.RuntimeConfig{}, err
	}
	cfg = cfg.WithDefaults()
	cfg.ID = settingsRowID
	cfg.UpdatedAt = time.Now()

	if err := s.db.Save(&cfg).Error; err != nil {
		return models.RuntimeConfig{}, err
	}
	return cfg, nil
}
