package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

type SessionHandler struct {
	service *services.SessionService
}

func NewSessionHandler(service *services.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// SessionReport is the session payload pushed by an identity provider.
type SessionReport struct {
	risk.Session
	ClientID  string     `json:"client_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type SessionActionRequest struct {
	Action               string `json:"action" binding:"required"`
	Reason               string `json:"reason"`
	BlockDurationMinutes int    `json:"block_duration_minutes"`
}

type BulkSessionActionRequest struct {
	SessionActionRequest
	SessionIDs []string `json:"session_ids" binding:"required"`
}

type ActivityRequest struct {
	At time.Time `json:"at"`
}

// csvQuery splits a comma separated query parameter.
func csvQuery(c *gin.Context, key string) []string {
	return models.SplitList(c.Query(key))
}

func (h *SessionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	f := services.SessionFilter{
		Search:      strings.TrimSpace(c.Query("search")),
		Statuses:    csvQuery(c, "status"),
		RiskLevels:  csvQuery(c, "risk_level"),
		MFAStatuses: csvQuery(c, "mfa_status"),
		Countries:   csvQuery(c, "country"),
		DeviceTypes: csvQuery(c, "device_type"),
		UserID:      c.Query("user_id"),
		Page:        page,
		PageSize:    pageSize,
		SortBy:      c.Query("sort_by"),
		SortOrder:   c.Query("sort_order"),
	}
	if v := c.Query("has_anomalies"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "has_anomalies must be true or false"})
			return
		}
		f.HasAnomalies = &b
	}

	result, err := h.service.List(f)
	if err != nil {
		respondError(c, err, "Failed to list sessions")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Record stores a session reported by the identity provider.
func (h *SessionHandler) Record(c *gin.Context) {
	var req SessionReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec := models.SessionFromRisk(req.Session)
	rec.ClientID = req.ClientID
	rec.ExpiresAt = req.ExpiresAt

	sess, created, err := h.service.Record(c.Request.Context(), &rec)
	if err != nil {
		respondError(c, err, "Failed to record session")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, sess)
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.service.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Risk returns a fresh assessment with its contributing factors.
func (h *SessionHandler) Risk(c *gin.Context) {
	assessment, err := h.service.Risk(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to score session")
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (h *SessionHandler) Activity(c *gin.Context) {
	var req ActivityRequest
	// an empty body means "now"
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	sess, err := h.service.Touch(c.Request.Context(), c.Param("id"), req.At)
	if err != nil {
		respondError(c, err, "Failed to record activity")
		return
	}
	c.JSON(http.StatusOK, sess)
}

func actionOptions(c *gin.Context, req SessionActionRequest) services.ActionOptions {
	return services.ActionOptions{
		Reason:        req.Reason,
		Actor:         middleware.Actor(c),
		BlockDuration: time.Duration(req.BlockDurationMinutes) * time.Minute,
	}
}

func (h *SessionHandler) Act(c *gin.Context) {
	var req SessionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.service.Act(c.Request.Context(), c.Param("id"), req.Action, actionOptions(c, req))
	if err != nil {
		respondError(c, err, "Failed to apply session action")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": req.Action, "session": sess})
}

func (h *SessionHandler) Bulk(c *gin.Context) {
	var req BulkSessionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.Bulk(c.Request.Context(), req.Action, req.SessionIDs, actionOptions(c, req.SessionActionRequest))
	if err != nil {
		respondError(c, err, "Failed to apply bulk action")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SessionHandler) Analytics(c *gin.Context) {
	analytics, err := h.service.Analytics(time.Now().UTC())
	if err != nil {
		respondError(c, err, "Failed to compute analytics")
		return
	}
	c.JSON(http.StatusOK, analytics)
}
