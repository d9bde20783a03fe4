package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func setupAnomalyRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := openTestDB(t)
	service := services.NewAnomalyService(services.NewSessionRepository(db), services.NewAnomalyRepository(db),
		risk.NewClassifier(risk.DefaultConfig()), nil, services.NewAuditService(db), nil)
	h := NewAnomalyHandler(service)

	r := newTestRouter()
	anomalies := r.Group("/anomalies")
	anomalies.GET("", h.List)
	anomalies.GET("/stats", h.Stats)
	anomalies.POST("/scan", h.Scan)
	anomalies.GET("/:id", h.Get)
	anomalies.PATCH("/:id/status", h.UpdateStatus)
	return r, db
}

func seedRiskySession(t *testing.T, db *gorm.DB, sessionID, userID string) *models.UserSession {
	t.Helper()
	s := &models.UserSession{
		SessionID:       sessionID,
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		DeviceType:      "mobile",
		DeviceNew:       true,
		LocationIP:      "203.0.113.7",
		LocationCountry: "Romania",
		MFAStatus:       "required",
		LoginAt:         businessLogin(),
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

func TestAnomalyHandler_ScanListAndStats(t *testing.T) {
	r, db := setupAnomalyRouter(t)
	sess := seedRiskySession(t, db, "idp-1", "alice")

	w := doJSON(r, http.MethodPost, "/anomalies/scan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	scan := decode[services.ScanResult](t, w)
	assert.Equal(t, 1, scan.Scanned)
	assert.Equal(t, 1, scan.New)

	w = doJSON(r, http.MethodGet, "/anomalies?severity=medium", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Anomaly](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, risk.AnomalyIDPrefix+sess.ID, list[0].ID)
	assert.Equal(t, string(risk.AnomalyGeoVelocity), list[0].Type)

	w = doJSON(r, http.MethodGet, "/anomalies?severity=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Anomaly](t, w))

	w = doJSON(r, http.MethodGet, "/anomalies/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[services.AnomalyStats](t, w)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Open)

	w = doJSON(r, http.MethodGet, "/anomalies/"+list[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		Factors []risk.Factor `json:"factors"`
	}](t, w)
	assert.Len(t, detail.Factors, 3)

	w = doJSON(r, http.MethodGet, "/anomalies/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnomalyHandler_UpdateStatus(t *testing.T) {
	r, db := setupAnomalyRouter(t)
	sess := seedRiskySession(t, db, "idp-1", "alice")
	doJSON(r, http.MethodPost, "/anomalies/scan", nil)
	id := risk.AnomalyIDPrefix + sess.ID

	w := doJSON(r, http.MethodPatch, "/anomalies/"+id+"/status", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPatch, "/anomalies/"+id+"/status", gin.H{"status": "investigating", "note": "looking"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "investigating", decode[models.Anomaly](t, w).Status)

	w = doJSON(r, http.MethodPatch, "/anomalies/"+id+"/status", gin.H{"status": "resolved", "note": "user confirmed travel"})
	require.Equal(t, http.StatusOK, w.Code)
	resolved := decode[models.Anomaly](t, w)
	assert.Equal(t, "admin@example.com", resolved.ResolvedBy)
	assert.Equal(t, "user confirmed travel", resolved.ResolutionNote)

	w = doJSON(r, http.MethodPatch, "/anomalies/"+id+"/status", gin.H{"status": "new"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var audits int64
	db.Model(&models.AuditLog{}).Where("action = ?", "anomaly_status").Count(&audits)
	assert.Equal(t, int64(2), audits)
}
