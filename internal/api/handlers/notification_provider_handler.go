package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

type NotificationProviderHandler struct {
	service *services.NotificationService
}

func NewNotificationProviderHandler(service *services.NotificationService) *NotificationProviderHandler {
	return &NotificationProviderHandler{service: service}
}

func (h *NotificationProviderHandler) List(c *gin.Context) {
	providers, err := h.service.ListProviders()
	if err != nil {
		respondError(c, err, "Failed to list providers")
		return
	}
	c.JSON(http.StatusOK, providers)
}

func (h *NotificationProviderHandler) Create(c *gin.Context) {
	var provider models.NotificationProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider.ID = ""
	if err := h.service.CreateProvider(&provider); err != nil {
		respondError(c, err, "Failed to create provider")
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (h *NotificationProviderHandler) Update(c *gin.Context) {
	existing, err := h.service.GetProvider(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get provider")
		return
	}
	var provider models.NotificationProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider.ID = existing.ID
	provider.CreatedAt = existing.CreatedAt
	if err := h.service.UpdateProvider(&provider); err != nil {
		respondError(c, err, "Failed to update provider")
		return
	}
	c.JSON(http.StatusOK, provider)
}

func (h *NotificationProviderHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteProvider(c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete provider")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Provider deleted"})
}

// Test sends a test message through an unsaved provider definition.
func (h *NotificationProviderHandler) Test(c *gin.Context) {
	var provider models.NotificationProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if provider.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidProviderURL.Error()})
		return
	}
	if err := h.service.TestProvider(provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
}
