package repository

import (
	"errors"
	"fmt"
	"time"

	"mailgate/services/mailer/models"
	"mailgate/shared/database"

	"gorm.io/gorm"
)

// MessageRepository defines the interface for email message data operations
type MessageRepository interface {
	Create(message *models.EmailMessage) error
	Update(message *models.EmailMessage) error
	GetByID(tenantID, id uint) (*models.EmailMessage, error)
	GetMessages(tenantID uint, filter *models.MessageFilterRequest) ([]*models.EmailMessage, int64, error)

	// GetRetryable selects failed messages still eligible for retry, oldest
	// first, up to limit.
	GetRetryable(tenantID uint, limit int) ([]*models.EmailMessage, error)

	// GetUnsent selects messages that have never been attempted, oldest
	// first, up to limit.
	GetUnsent(tenantID uint, limit int) ([]*models.EmailMessage, error)

	// DeleteExpired removes messages older than the given time, optionally
	// restricted to one status, and returns the number of rows removed.
	DeleteExpired(tenantID uint, before time.Time, status *models.MessageStatus) (int64, error)
}

// messageRepository implements MessageRepository interface
type messageRepository struct {
	db *database.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *database.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// Create persists a new email message with its attachments
func (r *messageRepository) Create(message *models.EmailMessage) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("failed to create email message: %w", err)
	}
	return nil
}

// Update updates an existing email message
func (r *messageRepository) Update(message *models.EmailMessage) error {
	if err := r.db.Save(message).Error; err != nil {
		return fmt.Errorf("failed to update email message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by id with attachments
func (r *messageRepository) GetByID(tenantID, id uint) (*models.EmailMessage, error) {
	var message models.EmailMessage
	err := r.db.Preload("Attachments").
		Where("tenant_id = ?", tenantID).
		First(&message, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message not found")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}

// GetMessages retrieves messages for a tenant with filtering and pagination
func (r *messageRepository) GetMessages(tenantID uint, filter *models.MessageFilterRequest) ([]*models.EmailMessage, int64, error) {
	query := r.db.Model(&models.EmailMessage{}).Where("tenant_id = ?", tenantID)

	if filter != nil && filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	limit := 20
	offset := 0
	if filter != nil {
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		if filter.Offset > 0 {
			offset = filter.Offset
		}
	}

	var messages []*models.EmailMessage
	err := query.Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", err)
	}

	return messages, total, nil
}

// GetRetryable selects failed, retry-eligible messages
func (r *messageRepository) GetRetryable(tenantID uint, limit int) ([]*models.EmailMessage, error) {
	var messages []*models.EmailMessage
	err := r.db.Preload("Attachments").
		Where("tenant_id = ? AND status = ? AND should_retry = ?",
			tenantID, models.MessageStatusFailure, true).
		Order("timestamp ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get retryable messages: %w", err)
	}
	return messages, nil
}

// GetUnsent selects messages that are still NEW
func (r *messageRepository) GetUnsent(tenantID uint, limit int) ([]*models.EmailMessage, error) {
	var messages []*models.EmailMessage
	err := r.db.Preload("Attachments").
		Where("tenant_id = ? AND status = ?", tenantID, models.MessageStatusNew).
		Order("timestamp ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get unsent messages: %w", err)
	}
	return messages, nil
}

// DeleteExpired removes messages older than the given time
func (r *messageRepository) DeleteExpired(tenantID uint, before time.Time, status *models.MessageStatus) (int64, error) {
	query := r.db.Unscoped().
		Where("tenant_id = ? AND timestamp < ?", tenantID, before)

	if status != nil {
		query = query.Where("status = ?", *status)
	}

	result := query.Delete(&models.EmailMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}
