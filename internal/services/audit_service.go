package services

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/models"
)

// Audit levels.
const (
	AuditInfo     = "info"
	AuditWarning  = "warning"
	AuditCritical = "critical"
)

// AuditEntry describes one audited change.
type AuditEntry struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Details    map[string]any
	IP         string
	UserAgent  string
	Level      string
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	Resource   string
	ResourceID string
	UserID     string
	Action     string
	Limit      int
}

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record persists an audit entry.
func (s *AuditService) Record(e AuditEntry) error {
	details := datatypes.JSON("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = datatypes.JSON(b)
	}
	level := e.Level
	if level == "" {
		level = AuditInfo
	}
	entry := models.AuditLog{
		UserID:     e.UserID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Details:    details,
		IP:         e.IP,
		UserAgent:  e.UserAgent,
		Level:      level,
	}
	return s.db.Create(&entry).Error
}

// Log records an entry and only logs failures. Used where auditing must not
// fail the surrounding operation.
func (s *AuditService) Log(e AuditEntry) {
	if s == nil {
		return
	}
	if err := s.Record(e); err != nil {
		logger.Log().WithError(err).WithField("action", e.Action).Warn("failed to write audit log")
	}
}

// List returns the most recent audit entries matching the filter.
func (s *AuditService) List(f AuditFilter) ([]models.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := s.db.Order("created_at desc").Limit(limit)
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	var logs []models.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
