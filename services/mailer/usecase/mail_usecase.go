package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"mailgate/services/mailer/models"
	"mailgate/services/mailer/repository"
	"mailgate/services/mailer/smtp"
	"mailgate/shared/logger"

	"gopkg.in/gomail.v2"
)

// defaultExpirationHours applies to expired-message cleanup when the tenant's
// configuration does not set expiration_hours.
const defaultExpirationHours = 168

// DeliveryNotifier receives delivery outcome events. Implementations must not
// block; the hub fans events out to subscribed websocket connections.
type DeliveryNotifier interface {
	NotifyDelivery(message *models.EmailMessage)
}

// MailUsecase submits, delivers, retries and expires email messages
type MailUsecase interface {
	// SendMessage persists the message and attempts synchronous delivery.
	// A transport failure is recorded on the returned message, not returned
	// as an error; configuration-stage failures are returned as MailErrors
	// after the terminal outcome is persisted.
	SendMessage(ctx context.Context, tenantID uint, req *models.SendMessageRequest) (*models.EmailMessage, error)

	GetMessage(tenantID, id uint) (*models.EmailMessage, error)
	GetMessages(tenantID uint, filter *models.MessageFilterRequest) ([]*models.EmailMessage, int64, error)

	// RunRetryBatch replays delivery for failed, retry-eligible messages up
	// to the configured batch cap and returns how many were processed.
	RunRetryBatch(ctx context.Context, tenantID uint) (int, error)

	// SendUnsentBatch delivers messages still in NEW state, oldest first.
	SendUnsentBatch(ctx context.Context, tenantID uint) (int, error)

	// DeleteExpired removes messages older than before, optionally filtered
	// by status. A nil before defaults to now minus the configuration's
	// expiration_hours.
	DeleteExpired(tenantID uint, before *time.Time, status *models.MessageStatus) (int64, error)
}

// mailUsecase implements MailUsecase
type mailUsecase struct {
	messageRepo repository.MessageRepository
	configs     ConfigUsecase
	cache       *smtp.Cache
	notifier    DeliveryNotifier
	maxAttempts int
	batchSize   int
}

// NewMailUsecase creates a new mail usecase. notifier may be nil.
func NewMailUsecase(messageRepo repository.MessageRepository, configs ConfigUsecase, cache *smtp.Cache, notifier DeliveryNotifier, maxAttempts, batchSize int) MailUsecase {
	return &mailUsecase{
		messageRepo: messageRepo,
		configs:     configs,
		cache:       cache,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

// SendMessage persists and delivers one message synchronously
func (u *mailUsecase) SendMessage(ctx context.Context, tenantID uint, req *models.SendMessageRequest) (*models.EmailMessage, error) {
	message := req.ToMessage(tenantID)
	if err := u.messageRepo.Create(message); err != nil {
		return nil, err
	}

	cfg, err := u.configs.Resolve(ctx, tenantID)
	if err != nil {
		u.recordConfigFailure(message, err)
		return message, err
	}

	u.deliver(cfg, message)
	if err := u.persistOutcome(message); err != nil {
		return nil, err
	}
	return message, nil
}

// GetMessage retrieves one message with attachments
func (u *mailUsecase) GetMessage(tenantID, id uint) (*models.EmailMessage, error) {
	return u.messageRepo.GetByID(tenantID, id)
}

// GetMessages retrieves messages with filtering and pagination
func (u *mailUsecase) GetMessages(tenantID uint, filter *models.MessageFilterRequest) ([]*models.EmailMessage, int64, error) {
	return u.messageRepo.GetMessages(tenantID, filter)
}

// RunRetryBatch replays delivery for failed, retry-eligible messages
func (u *mailUsecase) RunRetryBatch(ctx context.Context, tenantID uint) (int, error) {
	messages, err := u.messageRepo.GetRetryable(tenantID, u.batchSize)
	if err != nil {
		return 0, err
	}
	return u.deliverBatch(ctx, tenantID, messages)
}

// SendUnsentBatch delivers messages still in NEW state
func (u *mailUsecase) SendUnsentBatch(ctx context.Context, tenantID uint) (int, error) {
	messages, err := u.messageRepo.GetUnsent(tenantID, u.batchSize)
	if err != nil {
		return 0, err
	}
	return u.deliverBatch(ctx, tenantID, messages)
}

// deliverBatch resolves configuration once and replays delivery per message.
// One message's failure never aborts the rest; when resolution itself fails
// every selected message is terminally failed.
func (u *mailUsecase) deliverBatch(ctx context.Context, tenantID uint, messages []*models.EmailMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	cfg, err := u.configs.Resolve(ctx, tenantID)
	if err != nil {
		for _, message := range messages {
			u.recordConfigFailure(message, err)
		}
		return 0, err
	}

	processed := 0
	for _, message := range messages {
		u.deliver(cfg, message)
		if err := u.persistOutcome(message); err != nil {
			logger.WithFields(map[string]interface{}{
				"tenant_id":  tenantID,
				"message_id": message.ID,
				"error":      err.Error(),
			}).Error("Failed to persist delivery outcome")
		}
		processed++
	}
	return processed, nil
}

// DeleteExpired removes messages older than before
func (u *mailUsecase) DeleteExpired(tenantID uint, before *time.Time, status *models.MessageStatus) (int64, error) {
	cutoff := time.Time{}
	if before != nil {
		cutoff = *before
	} else {
		hours := defaultExpirationHours
		if cfg, err := u.configs.GetSmtpSettings(tenantID); err == nil && cfg.ExpirationHours != nil {
			hours = *cfg.ExpirationHours
		}
		cutoff = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	return u.messageRepo.DeleteExpired(tenantID, cutoff, status)
}

// deliver attempts one transport send and records the outcome on the message.
// Success and transport failure both count as an attempt; should_retry stays
// true only while the attempt cap is not reached.
func (u *mailUsecase) deliver(cfg *models.SmtpConfiguration, message *models.EmailMessage) {
	client := u.cache.Get(message.TenantID, cfg)

	message.Status = models.MessageStatusInProcess
	message.Attempts++

	wire := buildWireMessage(cfg, message)
	if err := client.Send(wire); err != nil {
		message.Status = models.MessageStatusFailure
		message.Result = err.Error()
		message.ShouldRetry = message.Attempts < u.maxAttempts
		logger.WithFields(map[string]interface{}{
			"tenant_id":  message.TenantID,
			"message_id": message.ID,
			"attempts":   message.Attempts,
			"error":      err.Error(),
		}).Warn("Message delivery failed")
		return
	}

	message.Status = models.MessageStatusDelivered
	message.Result = fmt.Sprintf("delivered to %s", message.Recipient)
	message.ShouldRetry = false
}

// recordConfigFailure terminally fails a message without counting an attempt
func (u *mailUsecase) recordConfigFailure(message *models.EmailMessage, err error) {
	message.Status = models.MessageStatusFailure
	message.Result = err.Error()
	message.ShouldRetry = false

	if persistErr := u.persistOutcome(message); persistErr != nil {
		logger.WithFields(map[string]interface{}{
			"tenant_id":  message.TenantID,
			"message_id": message.ID,
			"error":      persistErr.Error(),
		}).Error("Failed to persist configuration failure outcome")
	}
}

func (u *mailUsecase) persistOutcome(message *models.EmailMessage) error {
	if err := u.messageRepo.Update(message); err != nil {
		return err
	}
	if u.notifier != nil {
		u.notifier.NotifyDelivery(message)
	}
	return nil
}

// buildWireMessage assembles the outgoing message: default sender from the
// configuration, body per output format, configured extra headers, decoded
// attachments.
func buildWireMessage(cfg *models.SmtpConfiguration, message *models.EmailMessage) *gomail.Message {
	m := gomail.NewMessage()

	sender := message.Sender
	if sender == "" {
		sender = cfg.From
	}
	m.SetHeader("From", sender)
	m.SetHeader("To", message.Recipient)
	m.SetHeader("Subject", message.Subject)

	for _, header := range cfg.Headers {
		m.SetHeader(header.Name, header.Value)
	}

	contentType := "text/plain"
	if message.OutputFormat == models.OutputFormatHTML {
		contentType = "text/html"
	}
	m.SetBody(contentType, message.Body)

	for _, attachment := range message.Attachments {
		addAttachment(m, message, &attachment)
	}
	return m
}

// addAttachment decodes and attaches one attachment. An empty or undecodable
// payload becomes an empty attachment with a warning so the message itself
// still goes out.
func addAttachment(m *gomail.Message, message *models.EmailMessage, attachment *models.EmailAttachment) {
	data, err := base64.StdEncoding.DecodeString(attachment.Data)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"tenant_id":  message.TenantID,
			"message_id": message.ID,
			"attachment": attachment.Name,
			"error":      err.Error(),
		}).Warn("Attachment payload is not valid base64, attaching empty")
		data = nil
	}
	if len(data) == 0 {
		logger.WithFields(map[string]interface{}{
			"tenant_id":  message.TenantID,
			"message_id": message.ID,
			"attachment": attachment.Name,
		}).Warn("Attachment has no payload")
	}

	settings := []gomail.FileSetting{
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}),
	}
	headers := make(map[string][]string)
	if attachment.ContentType != "" {
		headers["Content-Type"] = []string{attachment.ContentType}
	}
	if attachment.Description != "" {
		headers["Content-Description"] = []string{attachment.Description}
	}
	if len(headers) > 0 {
		settings = append(settings, gomail.SetHeader(headers))
	}

	name := attachment.Name
	if name == "" {
		name = "attachment"
	}

	if attachment.ContentID != "" {
		// inline part addressable from an HTML body via cid
		m.Embed(attachment.ContentID, settings...)
		return
	}
	m.Attach(name, settings...)
}
