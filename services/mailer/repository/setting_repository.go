package repository

import (
	"errors"
	"fmt"

	"mailgate/services/mailer/models"
	"mailgate/shared/database"

	"gorm.io/gorm"
)

// SettingRepository defines the interface for settings data operations.
// Lookups return (nil, nil) when no row matches so callers can distinguish
// absence from storage failure.
type SettingRepository interface {
	GetByKey(tenantID uint, key string) (*models.Setting, error)
	GetByID(tenantID, id uint) (*models.Setting, error)
	Create(setting *models.Setting) error
	Update(setting *models.Setting) error
	DeleteByKey(tenantID uint, key string) error
}

// settingRepository implements SettingRepository interface
type settingRepository struct {
	db *database.DB
}

// NewSettingRepository creates a new setting repository
func NewSettingRepository(db *database.DB) SettingRepository {
	return &settingRepository{
		db: db,
	}
}

// GetByKey retrieves a tenant's setting by its unique key
func (r *settingRepository) GetByKey(tenantID uint, key string) (*models.Setting, error) {
	var setting models.Setting
	err := r.db.Where("tenant_id = ? AND key = ?", tenantID, key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return &setting, nil
}

// GetByID retrieves a tenant's setting by id
func (r *settingRepository) GetByID(tenantID, id uint) (*models.Setting, error) {
	var setting models.Setting
	err := r.db.Where("tenant_id = ?", tenantID).First(&setting, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return &setting, nil
}

// Create persists a new setting; the composite unique index on
// (tenant_id, key) rejects duplicates.
func (r *settingRepository) Create(setting *models.Setting) error {
	if err := r.db.Create(setting).Error; err != nil {
		return fmt.Errorf("failed to create setting: %w", err)
	}
	return nil
}

// Update updates an existing setting
func (r *settingRepository) Update(setting *models.Setting) error {
	if err := r.db.Save(setting).Error; err != nil {
		return fmt.Errorf("failed to update setting: %w", err)
	}
	return nil
}

// DeleteByKey removes a tenant's setting by key
func (r *settingRepository) DeleteByKey(tenantID uint, key string) error {
	result := r.db.Unscoped().
		Where("tenant_id = ? AND key = ?", tenantID, key).
		Delete(&models.Setting{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete setting: %w", result.Error)
	}
	return nil
}
