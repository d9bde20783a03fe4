package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records admin actions or important changes for later review.
type AuditLog struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	UserID     string         `json:"user_id" gorm:"index"`
	Action     string         `json:"action" gorm:"index"`
	Resource   string         `json:"resource" gorm:"index"`
	ResourceID string         `json:"resource_id"`
	Details    datatypes.JSON `json:"details"`
	IP         string         `json:"ip"`
	UserAgent  string         `json:"user_agent"`
	Level      string         `json:"level" gorm:"default:'info'"` // info, warning, critical
	CreatedAt  time.Time      `json:"created_at" gorm:"index"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}
