package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is an external channel reached through a shoutrrr URL.
type NotificationProvider struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // discord, slack, gotify, telegram, smtp, generic
	URL     string `json:"url"`  // The shoutrrr URL
	Enabled bool   `json:"enabled"`

	// Notification Preferences
	NotifyAnomalies       bool   `json:"notify_anomalies" gorm:"default:true"`
	NotifyPolicyConflicts bool   `json:"notify_policy_conflicts" gorm:"default:true"`
	NotifyHealth          bool   `json:"notify_health" gorm:"default:true"`
	NotifySessions        bool   `json:"notify_sessions" gorm:"default:true"`
	MinSeverity           string `json:"min_severity" gorm:"default:'medium'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if strings.TrimSpace(n.MinSeverity) == "" {
		n.MinSeverity = "medium"
	}
	return
}
