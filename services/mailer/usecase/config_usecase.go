package usecase

import (
	"context"
	"errors"
	"time"

	"mailgate/services/mailer/configservice"
	"mailgate/services/mailer/models"
	"mailgate/services/mailer/repository"
	"mailgate/services/mailer/smtp"
	"mailgate/shared/database"
	"mailgate/shared/logger"

	"gorm.io/gorm"
)

// ConfigUsecase resolves, reads and writes tenant SMTP configuration
type ConfigUsecase interface {
	// Resolve produces a validated SMTP configuration for the tenant,
	// migrating from the legacy table or the external configuration service
	// into the settings store as a side effect. It fails with a
	// configuration-stage MailError when no source yields a usable
	// configuration.
	Resolve(ctx context.Context, tenantID uint) (*models.SmtpConfiguration, error)

	// GetSmtpSettings reads the stored configuration without migration.
	GetSmtpSettings(tenantID uint) (*models.SmtpConfiguration, error)

	// SaveSmtpSettings validates and upserts the tenant's configuration and
	// invalidates the tenant's cached client.
	SaveSmtpSettings(tenantID uint, cfg *models.SmtpConfiguration) error
}

// configUsecase implements ConfigUsecase
type configUsecase struct {
	db          *database.DB
	settingRepo repository.SettingRepository
	external    configservice.Client
	cache       *smtp.Cache
	timeout     time.Duration
}

// NewConfigUsecase creates a new configuration usecase. external may be nil
// when no external configuration service is configured.
func NewConfigUsecase(db *database.DB, external configservice.Client, cache *smtp.Cache, lookupTimeout time.Duration) ConfigUsecase {
	return &configUsecase{
		db:          db,
		settingRepo: repository.NewSettingRepository(db),
		external:    external,
		cache:       cache,
		timeout:     lookupTimeout,
	}
}

// Resolve walks the three configuration sources in order inside one
// transaction: the settings store, the legacy table, the external
// configuration service. Source cleanup (legacy row delete, external entry
// deletes) is best effort and never fails the resolution itself.
func (u *configUsecase) Resolve(ctx context.Context, tenantID uint) (*models.SmtpConfiguration, error) {
	var (
		cfg         *models.SmtpConfiguration
		importedIDs []string
	)

	err := u.db.Transaction(func(tx *gorm.DB) error {
		txDB := &database.DB{DB: tx}
		settings := repository.NewSettingRepository(txDB)
		legacy := repository.NewLegacySmtpRepository(txDB)

		setting, err := settings.GetByKey(tenantID, models.SmtpSettingKey)
		if err != nil {
			return err
		}
		if setting != nil {
			cfg, err = setting.SmtpConfiguration()
			if err != nil {
				return err
			}
			if missing := cfg.MissingFields(); len(missing) > 0 {
				return NewConfigurationInvalidError(missing)
			}
			return nil
		}

		legacyRow, err := legacy.GetOldest(tenantID)
		if err != nil {
			return err
		}
		if legacyRow != nil {
			cfg = legacyRow.ToSmtpConfiguration()
			if missing := cfg.MissingFields(); len(missing) > 0 {
				return NewConfigurationInvalidError(missing)
			}
			if err := persistSetting(settings, tenantID, cfg); err != nil {
				return err
			}
			// migration is idempotent, a failed delete just means the next
			// resolve finds the settings row first
			if err := legacy.Delete(legacyRow.ID); err != nil {
				logger.WithFields(map[string]interface{}{
					"tenant_id": tenantID,
					"legacy_id": legacyRow.ID,
					"error":     err.Error(),
				}).Warn("Failed to delete migrated legacy SMTP configuration")
			}
			logger.WithField("tenant_id", tenantID).Info("Migrated legacy SMTP configuration into settings")
			return nil
		}

		if u.external == nil {
			return NewConfigurationNotFoundError()
		}

		lookupCtx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()

		entries, err := u.external.FetchEntries(lookupCtx)
		if err != nil {
			var reqErr *configservice.RequestError
			if errors.As(err, &reqErr) {
				return NewConfigurationServiceError(reqErr.StatusCode, reqErr.Body, nil)
			}
			return NewConfigurationServiceError(0, "", err)
		}
		if len(entries) == 0 {
			return NewConfigurationNotFoundError()
		}

		cfg = configservice.BuildConfiguration(entries)
		if missing := cfg.MissingFields(); len(missing) > 0 {
			return NewConfigurationInvalidError(missing)
		}
		if err := persistSetting(settings, tenantID, cfg); err != nil {
			return err
		}
		for _, entry := range entries {
			importedIDs = append(importedIDs, entry.ID)
		}
		logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"entries":   len(entries),
		}).Info("Imported SMTP configuration from configuration service")
		return nil
	})
	if err != nil {
		return nil, err
	}

	// cleanup only after the imported setting is committed
	if len(importedIDs) > 0 {
		go u.cleanupExternalEntries(importedIDs)
	}

	return cfg, nil
}

// GetSmtpSettings reads the stored configuration
func (u *configUsecase) GetSmtpSettings(tenantID uint) (*models.SmtpConfiguration, error) {
	setting, err := u.settingRepo.GetByKey(tenantID, models.SmtpSettingKey)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return nil, NewConfigurationNotFoundError()
	}
	return setting.SmtpConfiguration()
}

// SaveSmtpSettings validates and upserts the configuration
func (u *configUsecase) SaveSmtpSettings(tenantID uint, cfg *models.SmtpConfiguration) error {
	if missing := cfg.MissingFields(); len(missing) > 0 {
		return NewSettingValidationError(missing)
	}

	err := u.db.Transaction(func(tx *gorm.DB) error {
		settings := repository.NewSettingRepository(&database.DB{DB: tx})

		existing, err := settings.GetByKey(tenantID, models.SmtpSettingKey)
		if err != nil {
			return err
		}
		if existing == nil {
			return persistSetting(settings, tenantID, cfg)
		}

		updated, err := models.NewSmtpSetting(tenantID, cfg)
		if err != nil {
			return err
		}
		existing.Value = updated.Value
		return settings.Update(existing)
	})
	if err != nil {
		return err
	}

	// the next send rebuilds the client from the new configuration
	if u.cache != nil {
		u.cache.Remove(tenantID)
	}
	return nil
}

func persistSetting(settings repository.SettingRepository, tenantID uint, cfg *models.SmtpConfiguration) error {
	setting, err := models.NewSmtpSetting(tenantID, cfg)
	if err != nil {
		return err
	}
	return settings.Create(setting)
}

// cleanupExternalEntries fires best-effort deletes for imported entries. Only
// a 204 counts as success; any other outcome is logged and swallowed.
func (u *configUsecase) cleanupExternalEntries(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	for _, id := range ids {
		if err := u.external.DeleteEntry(ctx, id); err != nil {
			logger.WithFields(map[string]interface{}{
				"entry_id": id,
				"error":    err.Error(),
			}).Warn("Failed to delete imported configuration entry")
		}
	}
}
