package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/risk"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

type AnomalyHandler struct {
	service *services.AnomalyService
}

func NewAnomalyHandler(service *services.AnomalyService) *AnomalyHandler {
	return &AnomalyHandler{service: service}
}

func (h *AnomalyHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	anomalies, err := h.service.List(c.Request.Context(), services.AnomalyFilter{
		Statuses:   csvQuery(c, "status"),
		Severities: csvQuery(c, "severity"),
		Types:      csvQuery(c, "type"),
		UserID:     c.Query("user_id"),
		SessionID:  c.Query("session_id"),
		Limit:      limit,
	})
	if err != nil {
		respondError(c, err, "Failed to list anomalies")
		return
	}
	c.JSON(http.StatusOK, anomalies)
}

func (h *AnomalyHandler) Get(c *gin.Context) {
	anomaly, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get anomaly")
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomaly": anomaly, "factors": anomaly.RiskFactors()})
}

func (h *AnomalyHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to compute anomaly stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Scan runs the detector over active sessions immediately.
func (h *AnomalyHandler) Scan(c *gin.Context) {
	result, err := h.service.Scan(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to scan sessions")
		return
	}
	c.JSON(http.StatusOK, result)
}

type AnomalyStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (h *AnomalyHandler) UpdateStatus(c *gin.Context) {
	var req AnomalyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	anomaly, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), risk.Status(req.Status), middleware.Actor(c), req.Note)
	if err != nil {
		respondError(c, err, "Failed to update anomaly")
		return
	}
	c.JSON(http.StatusOK, anomaly)
}
