package repository

import (
	"errors"
	"fmt"

	"mailgate/services/mailer/models"
	"mailgate/shared/database"

	"gorm.io/gorm"
)

// LegacySmtpRepository reads and retires rows of the legacy dedicated SMTP
// configuration table. The table is single-row per tenant by convention; if
// multiple rows exist the oldest wins.
type LegacySmtpRepository interface {
	GetOldest(tenantID uint) (*models.LegacySmtpConfiguration, error)
	Delete(id uint) error
}

type legacySmtpRepository struct {
	db *database.DB
}

// NewLegacySmtpRepository creates a new legacy SMTP configuration repository
func NewLegacySmtpRepository(db *database.DB) LegacySmtpRepository {
	return &legacySmtpRepository{
		db: db,
	}
}

// GetOldest returns the oldest legacy configuration row for a tenant, or
// (nil, nil) when the table has none.
func (r *legacySmtpRepository) GetOldest(tenantID uint) (*models.LegacySmtpConfiguration, error) {
	var legacy models.LegacySmtpConfiguration
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("id ASC").
		First(&legacy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get legacy smtp configuration: %w", err)
	}
	return &legacy, nil
}

// Delete removes a legacy configuration row
func (r *legacySmtpRepository) Delete(id uint) error {
	result := r.db.Unscoped().Delete(&models.LegacySmtpConfiguration{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete legacy smtp configuration: %w", result.Error)
	}
	return nil
}
