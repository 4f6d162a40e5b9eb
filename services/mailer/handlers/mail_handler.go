package handlers

import (
	"net/http"
	"strconv"

	"mailgate/services/mailer/models"
	"mailgate/services/mailer/usecase"
	"mailgate/shared/logger"
	"mailgate/shared/middleware"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// MailHandler handles HTTP requests for message submission and queries
type MailHandler struct {
	mailUsecase usecase.MailUsecase
}

// NewMailHandler creates a new mail handler
func NewMailHandler(mailUsecase usecase.MailUsecase) *MailHandler {
	return &MailHandler{
		mailUsecase: mailUsecase,
	}
}

// statusForConfigError maps a configuration-stage failure to an HTTP status
func statusForConfigError(err error) int {
	kind, ok := usecase.ErrorKindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case usecase.KindConfigurationNotFound:
		return http.StatusNotFound
	case usecase.KindConfigurationInvalid, usecase.KindSettingValidation:
		return http.StatusBadRequest
	case usecase.KindConfigurationService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SendMessage handles submitting a message for synchronous delivery.
// A transport failure is not reflected in the HTTP status: the response is
// still 200 and the body carries the failure text. Only configuration-stage
// failures map to error statuses.
// POST /api/v1/mail
func (h *MailHandler) SendMessage(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Warn("Invalid send message request")

		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid request body",
			"details":    err.Error(),
			"request_id": requestID,
		})
		return
	}

	message, err := h.mailUsecase.SendMessage(c.Request.Context(), tenantID, &req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Message delivery failed at configuration stage")

		if message == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":      "Failed to send message",
				"request_id": requestID,
			})
			return
		}

		c.JSON(statusForConfigError(err), gin.H{
			"error":      err.Error(),
			"message":    message.ToResponse(),
			"request_id": requestID,
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"request_id":  requestID,
		"tenant_id":   tenantID,
		"message_id":  message.ID,
		"tracking_id": message.TrackingID,
		"status":      message.Status,
		"attempts":    message.Attempts,
	}).Info("Message processed")

	c.JSON(http.StatusOK, gin.H{
		"message":    message.ToResponse(),
		"request_id": requestID,
	})
}

// GetMessages handles listing a tenant's messages with filtering and pagination
// GET /api/v1/messages
func (h *MailHandler) GetMessages(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	filter := &models.MessageFilterRequest{}
	if err := c.ShouldBindQuery(filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid query parameters",
			"details":    err.Error(),
			"request_id": requestID,
		})
		return
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	messages, total, err := h.mailUsecase.GetMessages(tenantID, filter)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Failed to get messages")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to get messages",
			"request_id": requestID,
		})
		return
	}

	responses := make([]*models.EmailMessageResponse, 0, len(messages))
	for _, message := range messages {
		responses = append(responses, message.ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":   responses,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
		"request_id": requestID,
	})
}

// GetMessageByID handles getting a single message by ID
// GET /api/v1/messages/:id
func (h *MailHandler) GetMessageByID(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid message ID",
			"request_id": requestID,
		})
		return
	}

	message, err := h.mailUsecase.GetMessage(tenantID, uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "Message not found",
			"request_id": requestID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    message.ToResponse(),
		"request_id": requestID,
	})
}
