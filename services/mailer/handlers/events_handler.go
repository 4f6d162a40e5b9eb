package handlers

import (
	"net/http"

	"mailgate/services/mailer/events"
	"mailgate/shared/logger"
	"mailgate/shared/middleware"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// EventsHandler upgrades connections to the delivery event stream
type EventsHandler struct {
	hub *events.Hub
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{
		hub: hub,
	}
}

// Subscribe handles a websocket subscription to the tenant's delivery events
// GET /api/v1/events/ws
func (h *EventsHandler) Subscribe(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	conn, err := events.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Failed to upgrade websocket connection")
		return
	}

	client := events.NewClient(conn, h.hub, tenantID)
	h.hub.RegisterClient(client)

	go client.WritePump()
	go client.ReadPump()
}
