package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service health states.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

// ServiceMonitor is a dependency the console watches (IdP, database, cache, APIs).
type ServiceMonitor struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex" json:"name"`
	Type      string    `json:"type"`  // auth, database, cache, api, queue, storage
	Check     string    `json:"check"` // http, tcp, database
	URL       string    `json:"url"`
	Interval  int       `json:"interval"` // seconds
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Current Status (Cached)
	Status           string    `json:"status"`
	LastCheck        time.Time `json:"last_check"`
	Latency          int64     `json:"latency"` // ms
	FailureCount     int       `json:"failure_count"`
	LastStatusChange time.Time `json:"last_status_change"`
	MaxRetries       int       `json:"max_retries" gorm:"default:3"`
	// LatencyWarnMS marks a reachable service as warning when exceeded.
	LatencyWarnMS int64 `json:"latency_warn_ms" gorm:"default:1000"`
}

type ServiceHeartbeat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MonitorID string    `json:"monitor_id" gorm:"index"`
	Status    string    `json:"status"`
	Latency   int64     `json:"latency"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (m *ServiceMonitor) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = HealthUnknown
	}
	return
}

// Incident states.
const (
	IncidentOpen          = "open"
	IncidentInvestigating = "investigating"
	IncidentResolved      = "resolved"
	IncidentClosed        = "closed"
)

// HealthIncident is opened when a monitor turns critical and resolved when
// it recovers.
type HealthIncident struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	Title      string     `json:"title"`
	ServiceID  string     `gorm:"index" json:"service_id"`
	Severity   string     `json:"severity"`
	Status     string     `gorm:"index" json:"status"`
	Details    string     `gorm:"type:text" json:"details"`
	OpenedAt   time.Time  `json:"opened_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (i *HealthIncident) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.Status == "" {
		i.Status = IncidentOpen
	}
	return
}
