package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mailgate/services/mailer/models"
	"mailgate/services/mailer/repository"
	"mailgate/services/mailer/smtp"
	"mailgate/services/mailer/usecase"
	"mailgate/shared/database"
	"mailgate/shared/middleware"
	sharedmodels "mailgate/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubClient is a controllable SMTP client for handler tests
type stubClient struct {
	mu      sync.Mutex
	sendErr error
	sent    int
}

func (s *stubClient) Send(*gomail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent++
	return nil
}

func (s *stubClient) Close() error { return nil }

type handlerTestEnv struct {
	db     *database.DB
	router *gin.Engine
	client *stubClient
	token  string
	repo   repository.MessageRepository
}

func setupHandlerTest(t *testing.T) *handlerTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db := &database.DB{DB: gormDB}
	require.NoError(t, db.Migrate(
		&models.Setting{},
		&models.LegacySmtpConfiguration{},
		&models.EmailMessage{},
		&models.EmailAttachment{},
	))

	client := &stubClient{}
	cache := smtp.NewCache(func(*models.SmtpConfiguration) smtp.Client {
		return client
	})

	configUC := usecase.NewConfigUsecase(db, nil, cache, time.Second)
	repo := repository.NewMessageRepository(db)
	mailUC := usecase.NewMailUsecase(repo, configUC, cache, nil, 3, 50)

	jwtConfig := middleware.DefaultJWTConfig("test-secret-key")
	tokens, err := middleware.GenerateTokens(1, 1, "caller@example.com", sharedmodels.RoleService, jwtConfig)
	require.NoError(t, err)

	mailHandler := NewMailHandler(mailUC)
	settingHandler := NewSettingHandler(configUC)
	triggerHandler := NewTriggerHandler(mailUC, nil)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTMiddleware(jwtConfig))
	{
		v1.POST("/mail", mailHandler.SendMessage)
		v1.GET("/messages", mailHandler.GetMessages)
		v1.GET("/messages/:id", mailHandler.GetMessageByID)
		v1.DELETE("/messages/expired", triggerHandler.DeleteExpired)
		v1.GET("/settings/smtp", settingHandler.GetSmtpSettings)
		v1.PUT("/settings/smtp", settingHandler.UpdateSmtpSettings)
		v1.POST("/trigger/retry", triggerHandler.TriggerRetry)
	}

	return &handlerTestEnv{
		db:     db,
		router: router,
		client: client,
		token:  tokens.AccessToken,
		repo:   repo,
	}
}

func (env *handlerTestEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *handlerTestEnv) seedConfig(t *testing.T) {
	t.Helper()
	port := 587
	setting, err := models.NewSmtpSetting(1, &models.SmtpConfiguration{
		Host:     "smtp.example.com",
		Port:     &port,
		Username: "mailer",
		Password: "secret",
		From:     "noreply@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, env.db.Create(setting).Error)
}

func TestSendMessageEndpointDelivered(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedConfig(t)

	w := env.request(t, http.MethodPost, "/api/v1/mail", models.SendMessageRequest{
		Recipient: "rcpt@example.com",
		Subject:   "hello",
		Body:      "world",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Message models.EmailMessageResponse `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.MessageStatusDelivered, resp.Message.Status)
	assert.Equal(t, "delivered to rcpt@example.com", resp.Message.Message)
	assert.Equal(t, 1, resp.Message.Attempts)
}

func TestSendMessageEndpointTransportFailureStill200(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedConfig(t)
	env.client.sendErr = errors.New("connection refused")

	w := env.request(t, http.MethodPost, "/api/v1/mail", models.SendMessageRequest{
		Recipient: "rcpt@example.com",
		Subject:   "hello",
	})

	// transport failure keeps the 200 status, the body carries the failure
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Message models.EmailMessageResponse `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.MessageStatusFailure, resp.Message.Status)
	assert.Contains(t, resp.Message.Message, "connection refused")
	assert.True(t, resp.Message.ShouldRetry)
}

func TestSendMessageEndpointConfigurationNotFound(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.request(t, http.MethodPost, "/api/v1/mail", models.SendMessageRequest{
		Recipient: "rcpt@example.com",
		Subject:   "hello",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "SMTP configuration not found")
}

func TestSendMessageEndpointInvalidConfiguration(t *testing.T) {
	env := setupHandlerTest(t)
	setting, err := models.NewSmtpSetting(1, &models.SmtpConfiguration{Host: "smtp.example.com"})
	require.NoError(t, err)
	require.NoError(t, env.db.Create(setting).Error)

	w := env.request(t, http.MethodPost, "/api/v1/mail", models.SendMessageRequest{
		Recipient: "rcpt@example.com",
		Subject:   "hello",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing: port, username, password")
}

func TestSendMessageEndpointRejectsBadRequest(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.request(t, http.MethodPost, "/api/v1/mail", map[string]string{
		"recipient": "not-an-email",
		"subject":   "hello",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageEndpointRequiresAuth(t *testing.T) {
	env := setupHandlerTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetMessagesEndpoint(t *testing.T) {
	env := setupHandlerTest(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.repo.Create(&models.EmailMessage{
			TenantID:  1,
			Recipient: fmt.Sprintf("r%d@example.com", i),
			Subject:   "s",
		}))
	}
	// another tenant's message must not leak
	require.NoError(t, env.repo.Create(&models.EmailMessage{
		TenantID:  2,
		Recipient: "other@example.com",
		Subject:   "s",
	}))

	w := env.request(t, http.MethodGet, "/api/v1/messages?status=NEW", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []models.EmailMessageResponse `json:"messages"`
		Total    int64                         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Total)
	assert.Len(t, resp.Messages, 3)
}

func TestUpdateSmtpSettingsEndpointValidation(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.request(t, http.MethodPut, "/api/v1/settings/smtp", map[string]interface{}{
		"host": "smtp.example.com",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing: port, username, password")
}

func TestSmtpSettingsRoundTrip(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.request(t, http.MethodPut, "/api/v1/settings/smtp", map[string]interface{}{
		"host":     "smtp.example.com",
		"port":     587,
		"username": "mailer",
		"password": "secret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/settings/smtp", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Settings models.SmtpConfiguration `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "smtp.example.com", resp.Settings.Host)
	assert.Empty(t, resp.Settings.Password, "password must not be echoed back")
}

func TestTriggerRetryEndpoint(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedConfig(t)
	require.NoError(t, env.repo.Create(&models.EmailMessage{
		TenantID:    1,
		Recipient:   "retry@example.com",
		Subject:     "s",
		Status:      models.MessageStatusFailure,
		Attempts:    1,
		ShouldRetry: true,
	}))

	w := env.request(t, http.MethodPost, "/api/v1/trigger/retry", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Processed int `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Processed)
}

func TestDeleteExpiredEndpoint(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedConfig(t)
	require.NoError(t, env.repo.Create(&models.EmailMessage{
		TenantID:  1,
		Recipient: "old@example.com",
		Subject:   "s",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}))

	cutoff := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	w := env.request(t, http.MethodDelete, "/api/v1/messages/expired?before="+cutoff, nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Deleted)
}

func TestDeleteExpiredEndpointRejectsBadTimestamp(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.request(t, http.MethodDelete, "/api/v1/messages/expired?before=yesterday", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
