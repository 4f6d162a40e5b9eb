package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailgate/services/mailer/configservice"
	"mailgate/services/mailer/models"
	"mailgate/services/mailer/repository"
	"mailgate/services/mailer/smtp"
	"mailgate/shared/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	db := &database.DB{DB: gormDB}
	require.NoError(t, db.Migrate(
		&models.Setting{},
		&models.LegacySmtpConfiguration{},
		&models.EmailMessage{},
		&models.EmailAttachment{},
	))
	return db
}

func validConfig() *models.SmtpConfiguration {
	port := 587
	return &models.SmtpConfiguration{
		Host:     "smtp.example.com",
		Port:     &port,
		Username: "mailer",
		Password: "secret",
		From:     "noreply@example.com",
	}
}

func seedSetting(t *testing.T, db *database.DB, tenantID uint, cfg *models.SmtpConfiguration) {
	t.Helper()
	setting, err := models.NewSmtpSetting(tenantID, cfg)
	require.NoError(t, err)
	require.NoError(t, db.Create(setting).Error)
}

func TestResolveNotFound(t *testing.T) {
	db := setupTestDB(t)
	uc := NewConfigUsecase(db, nil, nil, time.Second)

	_, err := uc.Resolve(context.Background(), 1)

	require.Error(t, err)
	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConfigurationNotFound, kind)
}

func TestResolveFromSettings(t *testing.T) {
	db := setupTestDB(t)
	seedSetting(t, db, 1, validConfig())
	uc := NewConfigUsecase(db, nil, nil, time.Second)

	cfg, err := uc.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", cfg.Host)
	assert.Equal(t, "mailer", cfg.Username)
}

func TestResolveSettingsAreTenantScoped(t *testing.T) {
	db := setupTestDB(t)
	seedSetting(t, db, 1, validConfig())
	uc := NewConfigUsecase(db, nil, nil, time.Second)

	_, err := uc.Resolve(context.Background(), 2)

	require.Error(t, err)
	kind, _ := ErrorKindOf(err)
	assert.Equal(t, KindConfigurationNotFound, kind)
}

func TestResolveInvalidStoredConfig(t *testing.T) {
	db := setupTestDB(t)
	cfg := validConfig()
	cfg.Port = nil
	cfg.Password = ""
	seedSetting(t, db, 1, cfg)
	uc := NewConfigUsecase(db, nil, nil, time.Second)

	_, err := uc.Resolve(context.Background(), 1)

	require.Error(t, err)
	var mailErr *MailError
	require.ErrorAs(t, err, &mailErr)
	assert.Equal(t, KindConfigurationInvalid, mailErr.Kind)
	assert.Equal(t, []string{"port", "password"}, mailErr.MissingFields)
	assert.Contains(t, mailErr.Error(), "missing: port, password")
}

func TestResolveMigratesLegacy(t *testing.T) {
	db := setupTestDB(t)
	port := 465
	legacy := &models.LegacySmtpConfiguration{
		TenantID: 1,
		Host:     "legacy.example.com",
		Port:     &port,
		Username: "legacy-user",
		Password: "legacy-pass",
		SSL:      true,
	}
	require.NoError(t, db.Create(legacy).Error)

	uc := NewConfigUsecase(db, nil, nil, time.Second)

	cfg, err := uc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "legacy.example.com", cfg.Host)
	assert.True(t, cfg.SSL)

	// the settings row now exists with equivalent values
	settingRepo := repository.NewSettingRepository(db)
	setting, err := settingRepo.GetByKey(1, models.SmtpSettingKey)
	require.NoError(t, err)
	require.NotNil(t, setting)
	migrated, err := setting.SmtpConfiguration()
	require.NoError(t, err)
	assert.True(t, cfg.Equal(migrated))

	// the legacy row is gone
	var count int64
	db.Model(&models.LegacySmtpConfiguration{}).Where("tenant_id = ?", 1).Count(&count)
	assert.Equal(t, int64(0), count)

	// second resolve serves from the settings store
	again, err := uc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(again))
}

func TestResolveOldestLegacyRowWins(t *testing.T) {
	db := setupTestDB(t)
	port := 25
	for _, host := range []string{"first.example.com", "second.example.com"} {
		require.NoError(t, db.Create(&models.LegacySmtpConfiguration{
			TenantID: 1,
			Host:     host,
			Port:     &port,
			Username: "u",
			Password: "p",
		}).Error)
	}

	uc := NewConfigUsecase(db, nil, nil, time.Second)

	cfg, err := uc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "first.example.com", cfg.Host)
}

// fakeConfigServer is an httptest-backed external configuration service
type fakeConfigServer struct {
	mu      sync.Mutex
	entries []configservice.Entry
	fetches int32
	deleted []string
	status  int
}

func (f *fakeConfigServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.deleted = append(f.deleted, r.URL.Path)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}

		atomic.AddInt32(&f.fetches, 1)
		if f.status != 0 {
			w.WriteHeader(f.status)
			w.Write([]byte("upstream failure"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.entries)
	})
}

func (f *fakeConfigServer) deletedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func TestResolveImportsFromExternalService(t *testing.T) {
	db := setupTestDB(t)
	fake := &fakeConfigServer{
		entries: []configservice.Entry{
			{ID: "e1", Code: "host", Value: "ext.example.com"},
			{ID: "e2", Code: "port", Value: "587"},
			{ID: "e3", Code: "username", Value: "ext-user"},
			{ID: "e4", Code: "password", Value: "ext-pass"},
		},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	external := configservice.NewClient(server.URL, time.Second)
	uc := NewConfigUsecase(db, external, nil, time.Second)

	cfg, err := uc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ext.example.com", cfg.Host)
	assert.Equal(t, "ext-user", cfg.Username)

	// imported configuration is persisted as a setting
	settingRepo := repository.NewSettingRepository(db)
	setting, err := settingRepo.GetByKey(1, models.SmtpSettingKey)
	require.NoError(t, err)
	require.NotNil(t, setting)

	// a second resolve does not hit the external service again
	_, err = uc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.fetches))

	// entry cleanup fires after commit, asynchronously
	assert.Eventually(t, func() bool {
		return len(fake.deletedPaths()) == 4
	}, 2*time.Second, 10*time.Millisecond, "expected delete requests for all imported entries")
	assert.Contains(t, fake.deletedPaths(), "/configurations/entries/e1")
}

func TestResolveExternalServiceError(t *testing.T) {
	db := setupTestDB(t)
	fake := &fakeConfigServer{status: http.StatusBadGateway}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	external := configservice.NewClient(server.URL, time.Second)
	uc := NewConfigUsecase(db, external, nil, time.Second)

	_, err := uc.Resolve(context.Background(), 1)

	require.Error(t, err)
	var mailErr *MailError
	require.ErrorAs(t, err, &mailErr)
	assert.Equal(t, KindConfigurationService, mailErr.Kind)
	assert.Equal(t, http.StatusBadGateway, mailErr.StatusCode)
	assert.Equal(t, "upstream failure", mailErr.Body)
}

func TestResolveExternalIncompleteConfig(t *testing.T) {
	db := setupTestDB(t)
	fake := &fakeConfigServer{
		entries: []configservice.Entry{
			{ID: "e1", Code: "host", Value: "ext.example.com"},
			{ID: "e2", Code: "username", Value: "ext-user"},
		},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	external := configservice.NewClient(server.URL, time.Second)
	uc := NewConfigUsecase(db, external, nil, time.Second)

	_, err := uc.Resolve(context.Background(), 1)

	require.Error(t, err)
	var mailErr *MailError
	require.ErrorAs(t, err, &mailErr)
	assert.Equal(t, KindConfigurationInvalid, mailErr.Kind)
	assert.Equal(t, []string{"port", "password"}, mailErr.MissingFields)

	// nothing was persisted and no cleanup fired
	settingRepo := repository.NewSettingRepository(db)
	setting, err := settingRepo.GetByKey(1, models.SmtpSettingKey)
	require.NoError(t, err)
	assert.Nil(t, setting)
	assert.Empty(t, fake.deletedPaths())
}

func TestSaveSmtpSettingsValidation(t *testing.T) {
	db := setupTestDB(t)
	uc := NewConfigUsecase(db, nil, nil, time.Second)

	cfg := &models.SmtpConfiguration{Username: "only-user"}
	err := uc.SaveSmtpSettings(1, cfg)

	require.Error(t, err)
	var mailErr *MailError
	require.ErrorAs(t, err, &mailErr)
	assert.Equal(t, KindSettingValidation, mailErr.Kind)
	assert.Equal(t, []string{"host", "port", "password"}, mailErr.MissingFields)
}

// closableFake implements smtp.Client for cache interaction tests
type closableFake struct {
	mu     sync.Mutex
	closed bool
}

func (f *closableFake) Send(*gomail.Message) error { return nil }

func (f *closableFake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *closableFake) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestSaveSmtpSettingsUpsertAndCacheInvalidation(t *testing.T) {
	db := setupTestDB(t)
	cache := smtp.NewCache(func(*models.SmtpConfiguration) smtp.Client {
		return &closableFake{}
	})
	uc := NewConfigUsecase(db, nil, cache, time.Second)

	require.NoError(t, uc.SaveSmtpSettings(1, validConfig()))

	stored, err := uc.GetSmtpSettings(1)
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", stored.Host)

	// a live client exists for the tenant
	client := cache.Get(1, stored)

	updated := validConfig()
	updated.Host = "new.example.com"
	require.NoError(t, uc.SaveSmtpSettings(1, updated))

	assert.True(t, client.(*closableFake).isClosed(), "saving settings must evict the cached client")

	stored, err = uc.GetSmtpSettings(1)
	require.NoError(t, err)
	assert.Equal(t, "new.example.com", stored.Host)

	// still exactly one settings row
	var count int64
	db.Model(&models.Setting{}).Where("tenant_id = ?", 1).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestGetSmtpSettingsNotFound(t *testing.T) {
	db := setupTestDB(t)
	uc := NewConfigUsecase(db, nil, nil, time.Second)

	_, err := uc.GetSmtpSettings(1)

	require.Error(t, err)
	kind, _ := ErrorKindOf(err)
	assert.Equal(t, KindConfigurationNotFound, kind)
}
