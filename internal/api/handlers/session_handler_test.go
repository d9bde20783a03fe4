package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/cache"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// businessLogin is a login time inside business hours that cannot count as
// a long session.
func businessLogin() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC)
}

func sessionReport(sessionID, userID, country string) gin.H {
	return gin.H{
		"session_id": sessionID,
		"user_id":    userID,
		"client_id":  "console",
		"user":       gin.H{"email": userID + "@example.com", "name": userID, "roles": []string{"engineer"}},
		"device":     gin.H{"type": "desktop", "os": "macOS", "is_new_device": country != "United States"},
		"location":   gin.H{"ip": "203.0.113.7", "country": country},
		"mfa":        gin.H{"status": "passed", "methods": []string{"totp"}},
		"login_at":   businessLogin(),
	}
}

func setupSessionRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := openTestDB(t)
	audit := services.NewAuditService(db)
	quarantine := services.NewQuarantineService(db, cache.NewMemoryQuarantine(), audit)
	service := services.NewSessionService(db, risk.NewScorer(risk.DefaultConfig()), audit, quarantine, nil)
	h := NewSessionHandler(service)

	r := newTestRouter()
	sessions := r.Group("/sessions")
	sessions.GET("", h.List)
	sessions.POST("", h.Record)
	sessions.GET("/analytics", h.Analytics)
	sessions.POST("/bulk", h.Bulk)
	sessions.GET("/:id", h.Get)
	sessions.GET("/:id/risk", h.Risk)
	sessions.POST("/:id/activity", h.Activity)
	sessions.POST("/:id/actions", h.Act)
	return r, db
}

func TestSessionHandler_RecordAndGet(t *testing.T) {
	r, _ := setupSessionRouter(t)

	w := doJSON(r, http.MethodPost, "/sessions", gin.H{"session_id": "idp-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-1", "alice", "Romania"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.UserSession](t, w)
	assert.Equal(t, "idp-1", created.SessionID)
	assert.Equal(t, "console", created.ClientID)
	assert.Equal(t, "engineer", created.UserRoles)
	assert.Equal(t, 35, created.RiskScore) // geo 20 + new device 15

	w = doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-1", "alice", "United States"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.UserSession](t, w).RiskScore)

	w = doJSON(r, http.MethodGet, "/sessions/idp-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[models.UserSession](t, w).ID)

	w = doJSON(r, http.MethodGet, "/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_ListAndRisk(t *testing.T) {
	r, _ := setupSessionRouter(t)
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-1", "alice", "Romania"))
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-2", "bob", "United States"))

	w := doJSON(r, http.MethodGet, "/sessions?country=Romania", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[services.SessionPage](t, w)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, "alice", page.Sessions[0].UserID)

	w = doJSON(r, http.MethodGet, "/sessions?has_anomalies=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/sessions?sort_by=risk_score&sort_order=desc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[services.SessionPage](t, w)
	require.Len(t, page.Sessions, 2)
	assert.Equal(t, "alice", page.Sessions[0].UserID)

	w = doJSON(r, http.MethodGet, "/sessions/idp-1/risk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assessment := decode[risk.Assessment](t, w)
	assert.Equal(t, 35, assessment.Score)
	assert.True(t, assessment.Has(risk.FactorGeoAnomaly))
	assert.True(t, assessment.Has(risk.FactorNewDevice))
}

func TestSessionHandler_ActivityAndActions(t *testing.T) {
	r, db := setupSessionRouter(t)
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-1", "alice", "Romania"))

	w := doJSON(r, http.MethodPost, "/sessions/idp-1/activity", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[models.UserSession](t, w).LastActivity.IsZero())

	w = doJSON(r, http.MethodPost, "/sessions/idp-1/actions", gin.H{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/sessions/idp-1/actions", gin.H{"action": services.ActionRequireMFA})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/sessions/idp-1/actions", gin.H{
		"action": services.ActionRevokeBlockIP, "reason": "impossible travel", "block_duration_minutes": 30,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Success bool               `json:"success"`
		Session models.UserSession `json:"session"`
	}](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, models.SessionRevoked, resp.Session.Status)
	assert.Equal(t, "admin@example.com", resp.Session.RevokedBy)
	assert.True(t, resp.Session.HasFlag(models.FlagRequireMFA))

	var q models.IPQuarantine
	require.NoError(t, db.First(&q, "ip = ?", "203.0.113.7").Error)
	require.NotNil(t, q.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *q.ExpiresAt, time.Minute)

	w = doJSON(r, http.MethodPost, "/sessions/idp-1/actions", gin.H{"action": services.ActionRevoke})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/sessions/idp-1/activity", gin.H{"at": time.Now().UTC()})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionHandler_Bulk(t *testing.T) {
	r, _ := setupSessionRouter(t)
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-1", "alice", "Romania"))
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-2", "bob", "United States"))

	w := doJSON(r, http.MethodPost, "/sessions/bulk", gin.H{"action": services.ActionRevoke, "session_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/sessions/bulk", gin.H{
		"action": services.ActionRevoke, "session_ids": []string{"idp-1", "idp-2", "missing"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[services.BulkResult](t, w)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "missing", result.Errors[0].SessionID)
}

func TestSessionHandler_Analytics(t *testing.T) {
	r, _ := setupSessionRouter(t)
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-1", "alice", "Romania"))
	doJSON(r, http.MethodPost, "/sessions", sessionReport("idp-2", "bob", "United States"))

	w := doJSON(r, http.MethodGet, "/sessions/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	analytics := decode[services.SessionAnalytics](t, w)
	assert.Equal(t, 2, analytics.ActiveSessions)
	assert.Equal(t, 2, analytics.UniqueUsers)
	assert.Len(t, analytics.GeoDistribution, 2)
}
