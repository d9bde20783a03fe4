package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func setupNotificationProviderTest(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	handler := NewNotificationProviderHandler(services.NewNotificationService(db))

	r := newTestRouter()
	providers := r.Group("/api/v1/notifications/providers")
	providers.GET("", handler.List)
	providers.POST("", handler.Create)
	providers.PUT("/:id", handler.Update)
	providers.DELETE("/:id", handler.Delete)
	providers.POST("/test", handler.Test)
	return r, db
}

func TestNotificationProviderHandler_CRUD(t *testing.T) {
	r, db := setupNotificationProviderTest(t)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/providers", gin.H{
		"name":         "SOC Discord",
		"type":         "discord",
		"url":          "https://discord.com/api/webhooks/123/abc",
		"enabled":      true,
		"min_severity": "high",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.NotificationProvider](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "high", created.MinSeverity)

	w = doJSON(r, http.MethodGet, "/api/v1/notifications/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.NotificationProvider](t, w), 1)

	created.Name = "SOC Discord (critical only)"
	created.MinSeverity = "critical"
	w = doJSON(r, http.MethodPut, "/api/v1/notifications/providers/"+created.ID, created)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stored models.NotificationProvider
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	assert.Equal(t, "SOC Discord (critical only)", stored.Name)
	assert.Equal(t, "critical", stored.MinSeverity)

	w = doJSON(r, http.MethodDelete, "/api/v1/notifications/providers/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.NotificationProvider{}).Count(&count)
	assert.Zero(t, count)

	w = doJSON(r, http.MethodDelete, "/api/v1/notifications/providers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationProviderHandler_Validation(t *testing.T) {
	r, _ := setupNotificationProviderTest(t)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/providers", gin.H{"name": "No URL"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/notifications/providers", gin.H{"name": "Bad", "url": "generic://example.com", "min_severity": "urgent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/notifications/providers", "invalid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPut, "/api/v1/notifications/providers/missing", gin.H{"url": "generic://example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationProviderHandler_Test(t *testing.T) {
	r, _ := setupNotificationProviderTest(t)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/providers/test", gin.H{"type": "discord"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/notifications/providers/test", gin.H{"type": "discord", "url": "invalid-url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/notifications/providers/test", "invalid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
