package handlers

import (
	"net/http"
	"time"

	"mailgate/services/mailer/models"
	"mailgate/services/mailer/usecase"
	"mailgate/services/mailer/worker"
	"mailgate/shared/logger"
	"mailgate/shared/middleware"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// TriggerHandler handles the collaborator-invoked trigger endpoints: batch
// send, retry and expired-message cleanup. Scheduling is external; these
// endpoints are the only callers of the batch pipelines.
type TriggerHandler struct {
	mailUsecase usecase.MailUsecase
	mailWorker  *worker.Worker
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(mailUsecase usecase.MailUsecase, mailWorker *worker.Worker) *TriggerHandler {
	return &TriggerHandler{
		mailUsecase: mailUsecase,
		mailWorker:  mailWorker,
	}
}

// TriggerSend handles queueing a batch-send run for the tenant. The work
// happens on the background worker; the endpoint only enqueues.
// POST /api/v1/trigger/send
func (h *TriggerHandler) TriggerSend(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	task := &worker.MailTask{
		Type:     worker.TaskTypeSendBatch,
		TenantID: tenantID,
	}
	if err := h.mailWorker.Enqueue(task); err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Failed to enqueue send batch")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to queue send batch",
			"request_id": requestID,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    task.ID,
		"request_id": requestID,
	})
}

// TriggerRetry handles replaying failed, retry-eligible messages. Runs
// synchronously and reports how many messages were processed.
// POST /api/v1/trigger/retry
func (h *TriggerHandler) TriggerRetry(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	count, err := h.mailUsecase.RunRetryBatch(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Retry batch failed")

		c.JSON(statusForConfigError(err), gin.H{
			"error":      err.Error(),
			"processed":  count,
			"request_id": requestID,
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"tenant_id":  tenantID,
		"processed":  count,
	}).Info("Retry batch completed")

	c.JSON(http.StatusOK, gin.H{
		"processed":  count,
		"request_id": requestID,
	})
}

// DeleteExpired handles removing old messages. Accepts an optional before
// timestamp (RFC 3339) and an optional status filter; without before, the
// cutoff comes from the configuration's expiration_hours.
// DELETE /api/v1/messages/expired
func (h *TriggerHandler) DeleteExpired(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Invalid before timestamp, expected RFC 3339",
				"request_id": requestID,
			})
			return
		}
		before = &parsed
	}

	var status *models.MessageStatus
	if raw := c.Query("status"); raw != "" {
		s := models.MessageStatus(raw)
		switch s {
		case models.MessageStatusNew, models.MessageStatusInProcess,
			models.MessageStatusDelivered, models.MessageStatusFailure:
			status = &s
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Invalid status filter",
				"request_id": requestID,
			})
			return
		}
	}

	deleted, err := h.mailUsecase.DeleteExpired(tenantID, before, status)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Failed to delete expired messages")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to delete expired messages",
			"request_id": requestID,
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"tenant_id":  tenantID,
		"deleted":    deleted,
	}).Info("Expired messages deleted")

	c.JSON(http.StatusOK, gin.H{
		"deleted":    deleted,
		"request_id": requestID,
	})
}
