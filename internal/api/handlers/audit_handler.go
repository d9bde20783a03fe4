package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/services"
)

type AuditHandler struct {
	service *services.AuditService
}

func NewAuditHandler(service *services.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List returns recent audit entries, newest first.
func (h *AuditHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.service.List(services.AuditFilter{
		Resource:   c.Query("resource"),
		ResourceID: c.Query("resource_id"),
		UserID:     c.Query("user_id"),
		Action:     c.Query("action"),
		Limit:      limit,
	})
	if err != nil {
		respondError(c, err, "Failed to list audit logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}
