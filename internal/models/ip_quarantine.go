package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IPQuarantine blocks an address from opening new sessions until it expires
// or is released.
type IPQuarantine struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	IP            string     `json:"ip" gorm:"index"`
	Reason        string     `json:"reason"`
	Source        string     `json:"source"` // manual, session_action, anomaly
	QuarantinedAt time.Time  `json:"quarantined_at"`
	QuarantinedBy string     `json:"quarantined_by"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Active        bool       `json:"active" gorm:"index"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (q *IPQuarantine) BeforeCreate(tx *gorm.DB) (err error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return
}

// Expired reports whether the entry has passed its expiry.
func (q *IPQuarantine) Expired(now time.Time) bool {
	return q.ExpiresAt != nil && !q.ExpiresAt.After(now)
}
