package configservice

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailgate/services/mailer/models"
	"mailgate/shared/logger"

	"github.com/go-resty/resty/v2"
)

// ModuleTag identifies this service's entries in the external configuration
// service.
const ModuleTag = "mailer"

// Entry is one flat configuration record as returned by the external service
type Entry struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Value      string `json:"value"`
	ConfigName string `json:"configName"`
}

// RequestError is returned when the external service answers with an
// unexpected status. It carries the upstream status and body for diagnostics.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("configuration service returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the external configuration service
type Client interface {
	// FetchEntries returns all entries tagged with this service's module tag.
	// Any non-200 response yields a *RequestError.
	FetchEntries(ctx context.Context) ([]Entry, error)

	// DeleteEntry removes one entry by id. Only a 204 response counts as
	// success; everything else is an error the caller may choose to swallow.
	DeleteEntry(ctx context.Context, id string) error
}

type client struct {
	http *resty.Client
}

// NewClient creates a configuration service client with the given base URL
// and request timeout.
func NewClient(baseURL string, timeout time.Duration) Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &client{http: c}
}

// FetchEntries queries entries by module tag
func (c *client) FetchEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", "module=="+ModuleTag).
		SetResult(&entries).
		Get("/configurations/entries")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch configuration entries: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &RequestError{
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}
	return entries, nil
}

// DeleteEntry issues the cleanup delete for one imported entry
func (c *client) DeleteEntry(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete("/configurations/entries/{id}")
	if err != nil {
		return fmt.Errorf("failed to delete configuration entry %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusNoContent {
		return &RequestError{
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}
	return nil
}

// BuildConfiguration folds flat entries into an SmtpConfiguration. Unknown
// codes are logged and skipped; codes prefixed "header." become extra mail
// headers.
func BuildConfiguration(entries []Entry) *models.SmtpConfiguration {
	cfg := &models.SmtpConfiguration{}
	for _, entry := range entries {
		value := strings.TrimSpace(entry.Value)
		switch entry.Code {
		case "host":
			cfg.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"code":  entry.Code,
					"value": entry.Value,
				}).Warn("Skipping configuration entry with non-numeric port")
				continue
			}
			cfg.Port = &port
		case "username":
			cfg.Username = value
		case "password":
			cfg.Password = entry.Value
		case "ssl":
			cfg.SSL = parseBool(value)
		case "trust_all":
			cfg.TrustAll = parseBool(value)
		case "login_option":
			cfg.LoginOption = models.LoginOption(value)
		case "starttls":
			cfg.StartTLS = models.StartTLSOption(value)
		case "auth_methods":
			cfg.AuthMethods = value
		case "from":
			cfg.From = value
		case "expiration_hours":
			hours, err := strconv.Atoi(value)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"code":  entry.Code,
					"value": entry.Value,
				}).Warn("Skipping configuration entry with non-numeric expiration")
				continue
			}
			cfg.ExpirationHours = &hours
		default:
			if name, ok := strings.CutPrefix(entry.Code, "header."); ok {
				cfg.Headers = append(cfg.Headers, models.MailHeader{
					Name:  name,
					Value: entry.Value,
				})
				continue
			}
			logger.WithField("code", entry.Code).Warn("Ignoring unknown configuration entry code")
		}
	}
	return cfg
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return b
}
