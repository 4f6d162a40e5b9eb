package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mailgate/services/mailer/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHubServer(t *testing.T, hub *Hub, tenantID uint) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		client := NewClient(conn, hub, tenantID)
		hub.RegisterClient(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(tenantID) == 1
	}, time.Second, 10*time.Millisecond)

	return conn
}

func TestHubDeliversEventsToSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	conn := setupHubServer(t, hub, 1)

	hub.NotifyDelivery(&models.EmailMessage{
		TenantID:    1,
		TrackingID:  "t-1",
		Recipient:   "rcpt@example.com",
		Status:      models.MessageStatusDelivered,
		Result:      "delivered to rcpt@example.com",
		Attempts:    1,
		ShouldRetry: false,
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event DeliveryEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "t-1", event.TrackingID)
	assert.Equal(t, models.MessageStatusDelivered, event.Status)
	assert.Equal(t, 1, event.Attempts)
}

func TestHubPartitionsEventsByTenant(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	conn := setupHubServer(t, hub, 1)

	// another tenant's event must not reach this subscriber
	hub.NotifyDelivery(&models.EmailMessage{TenantID: 2, TrackingID: "other"})
	hub.NotifyDelivery(&models.EmailMessage{TenantID: 1, TrackingID: "mine"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event DeliveryEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "mine", event.TrackingID)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	conn := setupHubServer(t, hub, 1)
	conn.Close()

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount(1) == 0
	}, time.Second, 10*time.Millisecond)
}
