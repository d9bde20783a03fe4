package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/services"
)

type NotificationHandler struct {
	service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	notifications, err := h.service.List(services.NotificationFilter{
		Type:       c.Query("type"),
		Severity:   c.Query("severity"),
		Status:     c.Query("status"),
		Source:     c.Query("source"),
		UnreadOnly: c.Query("unread") == "true",
		Limit:      limit,
	})
	if err != nil {
		respondError(c, err, "Failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount()
	if err != nil {
		respondError(c, err, "Failed to count notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	if err := h.service.MarkAsRead(c.Param("id")); err != nil {
		respondError(c, err, "Failed to mark notification as read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	if err := h.service.MarkAllAsRead(); err != nil {
		respondError(c, err, "Failed to mark all notifications as read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read"})
}

func (h *NotificationHandler) Archive(c *gin.Context) {
	if err := h.service.Archive(c.Param("id")); err != nil {
		respondError(c, err, "Failed to archive notification")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification archived"})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete notification")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}
