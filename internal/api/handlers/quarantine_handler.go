package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

type QuarantineHandler struct {
	service *services.QuarantineService
}

func NewQuarantineHandler(service *services.QuarantineService) *QuarantineHandler {
	return &QuarantineHandler{service: service}
}

func (h *QuarantineHandler) List(c *gin.Context) {
	entries, err := h.service.List(c.Query("active") == "true")
	if err != nil {
		respondError(c, err, "Failed to list quarantined addresses")
		return
	}
	c.JSON(http.StatusOK, entries)
}

type QuarantineIPRequest struct {
	IP              string `json:"ip" binding:"required"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *QuarantineHandler) Create(c *gin.Context) {
	var req QuarantineIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.service.Quarantine(c.Request.Context(), services.QuarantineRequest{
		IP:       req.IP,
		Reason:   req.Reason,
		Source:   services.QuarantineManual,
		Actor:    middleware.Actor(c),
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		respondError(c, err, "Failed to quarantine address")
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Check reports whether the address in the path is currently blocked.
func (h *QuarantineHandler) Check(c *gin.Context) {
	ip := c.Param("ip")
	blocked, err := h.service.IsQuarantined(c.Request.Context(), ip)
	if err != nil {
		respondError(c, err, "Failed to check address")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ip": ip, "quarantined": blocked})
}

func (h *QuarantineHandler) Release(c *gin.Context) {
	if err := h.service.Release(c.Request.Context(), c.Param("ip"), middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to release address")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Address released"})
}
