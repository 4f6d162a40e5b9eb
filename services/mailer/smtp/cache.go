package smtp

import (
	"sync"

	"mailgate/services/mailer/models"
	"mailgate/shared/logger"
)

// Cache maps tenant id to a live client and the configuration it was built
// from. The cache exclusively owns client lifetime: callers use a client for
// the duration of one send and never close it themselves.
type Cache struct {
	mu      sync.RWMutex
	slots   map[uint]*slot
	factory Factory
}

// slot serializes client creation per tenant so concurrent sends for the same
// tenant share one client instead of racing to build several.
type slot struct {
	mu     sync.Mutex
	client Client
	config *models.SmtpConfiguration
}

// NewCache creates a client cache using the given factory
func NewCache(factory Factory) *Cache {
	return &Cache{
		slots:   make(map[uint]*slot),
		factory: factory,
	}
}

// Get returns the tenant's live client, creating one if none exists yet or
// replacing it if the configuration changed by value. The replaced client is
// closed; a close failure is logged and never blocks creation.
func (c *Cache) Get(tenantID uint, cfg *models.SmtpConfiguration) Client {
	s := c.slot(tenantID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.config.Equal(cfg) {
		return s.client
	}

	if s.client != nil {
		closeClient(tenantID, s.client)
	}
	s.client = c.factory(cfg)
	s.config = cfg
	return s.client
}

// Remove closes and evicts the tenant's client if one exists
func (c *Cache) Remove(tenantID uint) {
	c.mu.Lock()
	s, ok := c.slots[tenantID]
	if ok {
		delete(c.slots, tenantID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		closeClient(tenantID, s.client)
		s.client = nil
		s.config = nil
	}
}

// CleanAll closes and evicts every tenant's client
func (c *Cache) CleanAll() {
	c.mu.Lock()
	slots := c.slots
	c.slots = make(map[uint]*slot)
	c.mu.Unlock()

	for tenantID, s := range slots {
		s.mu.Lock()
		if s.client != nil {
			closeClient(tenantID, s.client)
			s.client = nil
			s.config = nil
		}
		s.mu.Unlock()
	}
}

func (c *Cache) slot(tenantID uint) *slot {
	c.mu.RLock()
	s, ok := c.slots[tenantID]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[tenantID]; ok {
		return s
	}
	s = &slot{}
	c.slots[tenantID] = s
	return s
}

func closeClient(tenantID uint, client Client) {
	if err := client.Close(); err != nil {
		logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		}).Warn("Failed to close SMTP client")
	}
}
