package handlers

import (
	"net/http"

	"mailgate/services/mailer/models"
	"mailgate/services/mailer/usecase"
	"mailgate/shared/logger"
	"mailgate/shared/middleware"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// SettingHandler handles HTTP requests for SMTP settings
type SettingHandler struct {
	configUsecase usecase.ConfigUsecase
}

// NewSettingHandler creates a new setting handler
func NewSettingHandler(configUsecase usecase.ConfigUsecase) *SettingHandler {
	return &SettingHandler{
		configUsecase: configUsecase,
	}
}

// GetSmtpSettings handles reading the tenant's stored SMTP configuration.
// The password is blanked in the response.
// GET /api/v1/settings/smtp
func (h *SettingHandler) GetSmtpSettings(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	cfg, err := h.configUsecase.GetSmtpSettings(tenantID)
	if err != nil {
		kind, ok := usecase.ErrorKindOf(err)
		if ok && kind == usecase.KindConfigurationNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":      "SMTP configuration not found",
				"request_id": requestID,
			})
			return
		}

		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Failed to get SMTP settings")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to get SMTP settings",
			"request_id": requestID,
		})
		return
	}

	redacted := *cfg
	redacted.Password = ""

	c.JSON(http.StatusOK, gin.H{
		"settings":   redacted,
		"request_id": requestID,
	})
}

// UpdateSmtpSettings handles replacing the tenant's SMTP configuration. The
// value must pass structural validation; the tenant's cached client is
// invalidated so the next send uses the new configuration.
// PUT /api/v1/settings/smtp
func (h *SettingHandler) UpdateSmtpSettings(c *gin.Context) {
	requestID := requestid.Get(c)

	tenantID, err := middleware.GetTenantIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "Tenant not authenticated",
			"request_id": requestID,
		})
		return
	}

	var req models.UpdateSmtpSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid request body",
			"details":    err.Error(),
			"request_id": requestID,
		})
		return
	}

	if err := h.configUsecase.SaveSmtpSettings(tenantID, &req.SmtpConfiguration); err != nil {
		kind, ok := usecase.ErrorKindOf(err)
		if ok && kind == usecase.KindSettingValidation {
			logger.WithFields(map[string]interface{}{
				"request_id": requestID,
				"tenant_id":  tenantID,
				"error":      err.Error(),
			}).Warn("Rejected invalid SMTP settings")

			c.JSON(http.StatusBadRequest, gin.H{
				"error":      err.Error(),
				"request_id": requestID,
			})
			return
		}

		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"tenant_id":  tenantID,
			"error":      err.Error(),
		}).Error("Failed to update SMTP settings")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to update SMTP settings",
			"request_id": requestID,
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"tenant_id":  tenantID,
	}).Info("SMTP settings updated")

	c.JSON(http.StatusOK, gin.H{
		"message":    "SMTP settings updated",
		"request_id": requestID,
	})
}
