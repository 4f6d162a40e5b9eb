package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"mailgate/shared/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SmtpSettingKey is the reserved settings key under which a tenant's SMTP
// configuration is persisted. The settings store holds at most one row per
// (tenant, key) pair.
const SmtpSettingKey = "mailer.smtp"

// SettingScopeMailer is the scope value for settings owned by this service.
const SettingScopeMailer = "mailer"

// LoginOption controls whether SMTP authentication is attempted
type LoginOption string

const (
	LoginNone     LoginOption = "none"
	LoginRequired LoginOption = "required"
	LoginDisabled LoginOption = "disabled"
)

// StartTLSOption controls STARTTLS negotiation on the SMTP connection
type StartTLSOption string

const (
	StartTLSRequired StartTLSOption = "required"
	StartTLSOptional StartTLSOption = "optional"
	StartTLSDisabled StartTLSOption = "disabled"
)

// MailHeader is an extra header attached to every outgoing message
type MailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SmtpConfiguration is the delivery configuration for one tenant. It is
// stored as the JSON value payload of a Setting; the legacy table and the
// external configuration service materialize into the same shape.
type SmtpConfiguration struct {
	Host            string         `json:"host"`
	Port            *int           `json:"port,omitempty"`
	Username        string         `json:"username"`
	Password        string         `json:"password"`
	SSL             bool           `json:"ssl"`
	TrustAll        bool           `json:"trust_all"`
	LoginOption     LoginOption    `json:"login_option,omitempty"`
	StartTLS        StartTLSOption `json:"starttls,omitempty"`
	AuthMethods     string         `json:"auth_methods,omitempty"` // space-delimited
	From            string         `json:"from,omitempty"`
	Headers         []MailHeader   `json:"headers,omitempty"`
	ExpirationHours *int           `json:"expiration_hours,omitempty"`
}

// MissingFields returns the required fields absent from the configuration,
// in canonical order: host, port, username, password. Empty means valid.
func (c *SmtpConfiguration) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if c.Port == nil {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(c.Password) == "" {
		missing = append(missing, "password")
	}
	return missing
}

// IsValid reports whether the configuration meets the minimum requirements
// for attempting delivery.
func (c *SmtpConfiguration) IsValid() bool {
	return len(c.MissingFields()) == 0
}

// Equal reports structural equality. The client cache uses this to decide
// whether a tenant's live client can be reused.
func (c *SmtpConfiguration) Equal(other *SmtpConfiguration) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(c, other)
}

// Setting is a generic keyed value record. Key is unique per tenant; the
// value payload is an arbitrary JSON document interpreted by the owning
// component.
type Setting struct {
	models.BaseModel
	TenantID uint   `gorm:"not null;uniqueIndex:idx_settings_tenant_key" json:"tenant_id"`
	Key      string `gorm:"not null;size:100;uniqueIndex:idx_settings_tenant_key" json:"key"`
	Scope    string `gorm:"not null;size:50;default:'mailer'" json:"scope"`
	Value    string `gorm:"type:jsonb;not null" json:"value"`
	UserID   uint   `json:"user_id,omitempty"`
}

func (Setting) TableName() string {
	return "settings"
}

// SmtpConfiguration decodes the setting's value payload
func (s *Setting) SmtpConfiguration() (*SmtpConfiguration, error) {
	var cfg SmtpConfiguration
	if err := json.Unmarshal([]byte(s.Value), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode setting value: %w", err)
	}
	return &cfg, nil
}

// NewSmtpSetting builds the Setting row for a tenant's SMTP configuration
func NewSmtpSetting(tenantID uint, cfg *SmtpConfiguration) (*Setting, error) {
	value, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return &Setting{
		TenantID: tenantID,
		Key:      SmtpSettingKey,
		Scope:    SettingScopeMailer,
		Value:    string(value),
	}, nil
}

// LegacySmtpConfiguration is the dedicated single-purpose SMTP table kept for
// installations that predate the settings store. Rows are migrated into
// settings on first resolve and then deleted.
type LegacySmtpConfiguration struct {
	models.BaseModel
	TenantID        uint   `gorm:"not null;index" json:"tenant_id"`
	Host            string `gorm:"size:255" json:"host"`
	Port            *int   `json:"port"`
	Username        string `gorm:"size:255" json:"username"`
	Password        string `gorm:"size:255" json:"password"`
	SSL             bool   `json:"ssl"`
	TrustAll        bool   `json:"trust_all"`
	LoginOption     string `gorm:"size:20" json:"login_option"`
	StartTLS        string `gorm:"size:20" json:"starttls"`
	AuthMethods     string `gorm:"size:255" json:"auth_methods"`
	From            string `gorm:"size:255" json:"from"`
	ExpirationHours *int   `json:"expiration_hours"`
}

func (LegacySmtpConfiguration) TableName() string {
	return "legacy_smtp_configurations"
}

// ToSmtpConfiguration converts the legacy row into the settings payload shape
func (l *LegacySmtpConfiguration) ToSmtpConfiguration() *SmtpConfiguration {
	return &SmtpConfiguration{
		Host:            l.Host,
		Port:            l.Port,
		Username:        l.Username,
		Password:        l.Password,
		SSL:             l.SSL,
		TrustAll:        l.TrustAll,
		LoginOption:     LoginOption(l.LoginOption),
		StartTLS:        StartTLSOption(l.StartTLS),
		AuthMethods:     l.AuthMethods,
		From:            l.From,
		ExpirationHours: l.ExpirationHours,
	}
}

// MessageStatus represents the delivery lifecycle state of a message
type MessageStatus string

const (
	MessageStatusNew       MessageStatus = "NEW"
	MessageStatusInProcess MessageStatus = "IN_PROCESS"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusFailure   MessageStatus = "FAILURE"
)

// OutputFormat selects the wire body type of an outgoing message
type OutputFormat string

const (
	OutputFormatPlain OutputFormat = "plain"
	OutputFormatHTML  OutputFormat = "html"
)

// EmailMessage represents one message submitted for delivery
type EmailMessage struct {
	models.BaseModel
	TenantID     uint              `gorm:"not null;index" json:"tenant_id"`
	TrackingID   string            `gorm:"size:36;index" json:"tracking_id"`
	Recipient    string            `gorm:"not null;size:255" json:"recipient" validate:"required,email"`
	Sender       string            `gorm:"size:255" json:"sender,omitempty"`
	Subject      string            `gorm:"size:255" json:"subject"`
	Body         string            `gorm:"type:text" json:"body,omitempty"`
	OutputFormat OutputFormat      `gorm:"not null;default:'plain';size:10" json:"output_format"`
	Attachments  []EmailAttachment `gorm:"foreignKey:EmailMessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Timestamp    time.Time         `gorm:"index" json:"timestamp"`
	Status       MessageStatus     `gorm:"not null;default:'NEW';size:20;index" json:"status"`
	Result       string            `gorm:"type:text" json:"message,omitempty"`
	Attempts     int               `gorm:"not null;default:0" json:"attempts"`
	ShouldRetry  bool              `gorm:"not null;default:false;index" json:"should_retry"`
}

func (EmailMessage) TableName() string {
	return "email_messages"
}

// BeforeCreate hook for EmailMessage
func (m *EmailMessage) BeforeCreate(tx *gorm.DB) error {
	if m.Status == "" {
		m.Status = MessageStatusNew
	}
	if m.OutputFormat == "" {
		m.OutputFormat = OutputFormatPlain
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.TrackingID == "" {
		m.TrackingID = uuid.NewString()
	}
	return nil
}

// EmailAttachment is an attachment carried by a message; Data holds the
// base64-encoded payload.
type EmailAttachment struct {
	models.BaseModel
	EmailMessageID uint   `gorm:"not null;index" json:"email_message_id"`
	ContentID      string `gorm:"size:255" json:"content_id,omitempty"`
	ContentType    string `gorm:"size:255" json:"content_type,omitempty"`
	Name           string `gorm:"size:255" json:"name,omitempty"`
	Description    string `gorm:"size:255" json:"description,omitempty"`
	Disposition    string `gorm:"size:50" json:"disposition,omitempty"`
	Data           string `gorm:"type:text" json:"data,omitempty"`
}

func (EmailAttachment) TableName() string {
	return "email_attachments"
}

// Request/Response Models

// AttachmentRequest represents one attachment in a send request
type AttachmentRequest struct {
	ContentID   string `json:"content_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Data        string `json:"data,omitempty"` // base64
}

// SendMessageRequest represents a request to submit and deliver a message
type SendMessageRequest struct {
	Recipient    string              `json:"recipient" binding:"required,email"`
	Sender       string              `json:"sender,omitempty" binding:"omitempty,email"`
	Subject      string              `json:"subject" binding:"required,min=1,max=255"`
	Body         string              `json:"body,omitempty"`
	OutputFormat OutputFormat        `json:"output_format,omitempty" binding:"omitempty,oneof=plain html"`
	Attachments  []AttachmentRequest `json:"attachments,omitempty"`
}

// ToMessage converts the request into a persistable message for a tenant
func (r *SendMessageRequest) ToMessage(tenantID uint) *EmailMessage {
	msg := &EmailMessage{
		TenantID:     tenantID,
		Recipient:    r.Recipient,
		Sender:       r.Sender,
		Subject:      r.Subject,
		Body:         r.Body,
		OutputFormat: r.OutputFormat,
	}
	for _, a := range r.Attachments {
		msg.Attachments = append(msg.Attachments, EmailAttachment{
			ContentID:   a.ContentID,
			ContentType: a.ContentType,
			Name:        a.Name,
			Description: a.Description,
			Disposition: a.Disposition,
			Data:        a.Data,
		})
	}
	return msg
}

// MessageFilterRequest represents filtering parameters for message listings
type MessageFilterRequest struct {
	Status *MessageStatus `form:"status" binding:"omitempty,oneof=NEW IN_PROCESS DELIVERED FAILURE"`
	Limit  int            `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int            `form:"offset" binding:"omitempty,min=0"`
}

// EmailMessageResponse represents a message in API responses
type EmailMessageResponse struct {
	ID           uint          `json:"id"`
	TrackingID   string        `json:"tracking_id"`
	Recipient    string        `json:"recipient"`
	Sender       string        `json:"sender,omitempty"`
	Subject      string        `json:"subject"`
	OutputFormat OutputFormat  `json:"output_format"`
	Timestamp    time.Time     `json:"timestamp"`
	Status       MessageStatus `json:"status"`
	Message      string        `json:"message,omitempty"`
	Attempts     int           `json:"attempts"`
	ShouldRetry  bool          `json:"should_retry"`
}

// ToResponse converts EmailMessage to EmailMessageResponse
func (m *EmailMessage) ToResponse() *EmailMessageResponse {
	return &EmailMessageResponse{
		ID:           m.ID,
		TrackingID:   m.TrackingID,
		Recipient:    m.Recipient,
		Sender:       m.Sender,
		Subject:      m.Subject,
		OutputFormat: m.OutputFormat,
		Timestamp:    m.Timestamp,
		Status:       m.Status,
		Message:      m.Result,
		Attempts:     m.Attempts,
		ShouldRetry:  m.ShouldRetry,
	}
}

// UpdateSmtpSettingsRequest carries a full SMTP configuration for a tenant
type UpdateSmtpSettingsRequest struct {
	SmtpConfiguration
}
