package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationTypeSecurity     NotificationType = "security"
	NotificationTypeSystem       NotificationType = "system"
	NotificationTypeRisk         NotificationType = "risk"
	NotificationTypeUserActivity NotificationType = "user_activity"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

type Notification struct {
	ID          string             `gorm:"primaryKey" json:"id"`
	Type        NotificationType   `gorm:"index" json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Source      string             `gorm:"index" json:"source"` // anomaly_detector, policy_engine, health_monitor, ...
	Severity    string             `gorm:"index" json:"severity"`
	Status      NotificationStatus `gorm:"index;default:'unread'" json:"status"`
	UserID      *string            `gorm:"index" json:"user_id,omitempty"`

	RelatedEntityType string `json:"related_entity_type,omitempty"` // session, anomaly, policy, service
	RelatedEntityID   string `json:"related_entity_id,omitempty"`
	RelatedEntityName string `json:"related_entity_name,omitempty"`

	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	ReadAt     *time.Time     `json:"read_at,omitempty"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = NotificationUnread
	}
	return
}
