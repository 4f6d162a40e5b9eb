package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"mailgate/services/mailer/models"
	"mailgate/shared/logger"

	"github.com/gorilla/websocket"
)

// Upgrader with proper configuration
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, implement proper origin checking
		return true
	},
}

// DeliveryEvent is one delivery outcome pushed to subscribers of a tenant
type DeliveryEvent struct {
	tenantID uint

	MessageID   uint                 `json:"message_id"`
	TrackingID  string               `json:"tracking_id"`
	Recipient   string               `json:"recipient"`
	Status      models.MessageStatus `json:"status"`
	Result      string               `json:"result,omitempty"`
	Attempts    int                  `json:"attempts"`
	ShouldRetry bool                 `json:"should_retry"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Hub fans delivery events out to websocket subscribers, partitioned by
// tenant. Subscribers only ever see events for their own tenant.
type Hub struct {
	mutex      sync.RWMutex
	tenants    map[uint]map[*Client]bool
	broadcast  chan *DeliveryEvent
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
}

// NewHub creates a new delivery event hub
func NewHub() *Hub {
	return &Hub{
		tenants:    make(map[uint]map[*Client]bool),
		broadcast:  make(chan *DeliveryEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
	}
}

// Run starts the hub loop; call in a goroutine
func (h *Hub) Run() {
	logger.Info("Delivery event hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-h.shutdown:
			h.cleanup()
			return
		}
	}
}

// Close shuts down the hub gracefully
func (h *Hub) Close() {
	close(h.shutdown)
}

// NotifyDelivery publishes a message's delivery outcome to the tenant's
// subscribers. Never blocks; the event is dropped when the hub is saturated.
func (h *Hub) NotifyDelivery(message *models.EmailMessage) {
	event := &DeliveryEvent{
		tenantID:    message.TenantID,
		MessageID:   message.ID,
		TrackingID:  message.TrackingID,
		Recipient:   message.Recipient,
		Status:      message.Status,
		Result:      message.Result,
		Attempts:    message.Attempts,
		ShouldRetry: message.ShouldRetry,
		Timestamp:   time.Now(),
	}

	select {
	case h.broadcast <- event:
	default:
		logger.WithField("message_id", message.ID).Warn("Event channel full, dropping delivery event")
	}
}

// RegisterClient registers a subscriber with the hub
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient unregisters a subscriber from the hub
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// SubscriberCount returns how many connections a tenant currently has
func (h *Hub) SubscriberCount(tenantID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.tenants[tenantID])
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.tenants[client.tenantID]; !exists {
		h.tenants[client.tenantID] = make(map[*Client]bool)
	}
	h.tenants[client.tenantID][client] = true

	logger.WithFields(map[string]interface{}{
		"tenant_id":   client.tenantID,
		"subscribers": len(h.tenants[client.tenantID]),
	}).Info("Delivery event subscriber registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, exists := h.tenants[client.tenantID]
	if !exists || !clients[client] {
		return
	}

	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.tenants, client.tenantID)
	}

	logger.WithFields(map[string]interface{}{
		"tenant_id":   client.tenantID,
		"subscribers": len(clients),
	}).Info("Delivery event subscriber unregistered")
}

func (h *Hub) broadcastEvent(event *DeliveryEvent) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, exists := h.tenants[event.tenantID]
	if !exists {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithField("error", err.Error()).Error("Failed to marshal delivery event")
		return
	}

	for client := range clients {
		select {
		case client.send <- payload:
		default:
			// slow subscriber, drop it
			close(client.send)
			delete(clients, client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for tenantID, clients := range h.tenants {
		for client := range clients {
			close(client.send)
			client.conn.Close()
		}
		delete(h.tenants, tenantID)
	}

	logger.Info("Delivery event hub shut down")
}
