package smtp

import (
	"crypto/tls"
	"fmt"
	"sync"

	"mailgate/services/mailer/models"

	"gopkg.in/gomail.v2"
)

// Client is a live SMTP connection handle for one tenant. Implementations
// must be safe for concurrent use; Close releases the underlying connection.
type Client interface {
	Send(message *gomail.Message) error
	Close() error
}

// Factory builds a client from a validated configuration. The cache uses it
// so tests can substitute fakes.
type Factory func(cfg *models.SmtpConfiguration) Client

// gomailClient keeps a lazily dialed connection and reuses it across sends.
// A send error drops the connection so the next send redials.
type gomailClient struct {
	dialer *gomail.Dialer

	mu   sync.Mutex
	conn gomail.SendCloser
}

// NewClient builds a gomail-backed client from the configuration
func NewClient(cfg *models.SmtpConfiguration) Client {
	port := 0
	if cfg.Port != nil {
		port = *cfg.Port
	}

	dialer := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	dialer.SSL = cfg.SSL
	if cfg.TrustAll {
		dialer.TLSConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: true,
		}
	}
	if cfg.LoginOption == models.LoginDisabled {
		dialer.Username = ""
		dialer.Password = ""
	}

	return &gomailClient{dialer: dialer}
}

// Send delivers one message over the cached connection, dialing if needed
func (c *gomailClient) Send(message *gomail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dialer.Dial()
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		c.conn = conn
	}

	if err := gomail.Send(c.conn, message); err != nil {
		// connection may be broken, drop it so the next send redials
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close releases the cached connection if one is open
func (c *gomailClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close SMTP connection: %w", err)
	}
	return nil
}
