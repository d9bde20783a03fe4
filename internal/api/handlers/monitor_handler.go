package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// MonitorHandler serves service monitors, their history and incidents.
type MonitorHandler struct {
	service *services.HealthService
}

func NewMonitorHandler(service *services.HealthService) *MonitorHandler {
	return &MonitorHandler{service: service}
}

func (h *MonitorHandler) Overview(c *gin.Context) {
	overview, err := h.service.Overview()
	if err != nil {
		respondError(c, err, "Failed to load health overview")
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *MonitorHandler) List(c *gin.Context) {
	monitors, err := h.service.ListMonitors()
	if err != nil {
		respondError(c, err, "Failed to list monitors")
		return
	}
	c.JSON(http.StatusOK, monitors)
}

func (h *MonitorHandler) Create(c *gin.Context) {
	var monitor models.ServiceMonitor
	if err := c.ShouldBindJSON(&monitor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	monitor.ID = ""
	if err := h.service.CreateMonitor(&monitor); err != nil {
		respondError(c, err, "Failed to create monitor")
		return
	}
	c.JSON(http.StatusCreated, monitor)
}

func (h *MonitorHandler) Get(c *gin.Context) {
	monitor, err := h.service.GetMonitor(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get monitor")
		return
	}
	c.JSON(http.StatusOK, monitor)
}

func (h *MonitorHandler) Update(c *gin.Context) {
	var in models.ServiceMonitor
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	monitor, err := h.service.UpdateMonitor(c.Param("id"), in)
	if err != nil {
		respondError(c, err, "Failed to update monitor")
		return
	}
	c.JSON(http.StatusOK, monitor)
}

// Delete removes a monitor and its heartbeats.
func (h *MonitorHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteMonitor(c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete monitor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Monitor deleted"})
}

func (h *MonitorHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	history, err := h.service.GetMonitorHistory(c.Param("id"), limit)
	if err != nil {
		respondError(c, err, "Failed to get history")
		return
	}
	c.JSON(http.StatusOK, history)
}

// CheckMonitor runs an immediate check for one monitor.
func (h *MonitorHandler) CheckMonitor(c *gin.Context) {
	monitor, err := h.service.GetMonitor(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get monitor")
		return
	}
	c.JSON(http.StatusOK, h.service.CheckMonitor(c.Request.Context(), *monitor))
}

// CheckAll runs every enabled monitor and returns the results.
func (h *MonitorHandler) CheckAll(c *gin.Context) {
	results, err := h.service.CheckAll(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to run health checks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *MonitorHandler) ListIncidents(c *gin.Context) {
	incidents, err := h.service.ListIncidents(c.Query("status"))
	if err != nil {
		respondError(c, err, "Failed to list incidents")
		return
	}
	c.JSON(http.StatusOK, incidents)
}

type IncidentUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *MonitorHandler) UpdateIncident(c *gin.Context) {
	var req IncidentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	incident, err := h.service.UpdateIncident(c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err, "Failed to update incident")
		return
	}
	c.JSON(http.StatusOK, incident)
}
