package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/cache"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/util"
)

var (
	ErrInvalidIP          = errors.New("invalid IP address")
	ErrQuarantineNotFound = errors.New("ip is not quarantined")
	ErrIPQuarantined      = errors.New("ip address is quarantined")
)

// Quarantine sources.
const (
	QuarantineManual        = "manual"
	QuarantineSessionAction = "session_action"
)

// QuarantineRequest describes an IP block.
type QuarantineRequest struct {
	IP       string
	Reason   string
	Source   string
	Actor    string
	Duration time.Duration // zero blocks until released
}

type QuarantineService struct {
	db     *gorm.DB
	mirror cache.QuarantineMirror
	audit  *AuditService
}

// NewQuarantineService returns a QuarantineService. mirror may be nil.
func NewQuarantineService(db *gorm.DB, mirror cache.QuarantineMirror, audit *AuditService) *QuarantineService {
	return &QuarantineService{db: db, mirror: mirror, audit: audit}
}

// Quarantine blocks an IP. An active entry for the same IP is extended.
func (s *QuarantineService) Quarantine(ctx context.Context, req QuarantineRequest) (*models.IPQuarantine, error) {
	ip := util.NormalizeIP(req.IP)
	if ip == "" {
		return nil, ErrInvalidIP
	}
	if req.Source == "" {
		req.Source = QuarantineManual
	}
	now := time.Now().UTC()
	var expires *time.Time
	if req.Duration > 0 {
		t := now.Add(req.Duration)
		expires = &t
	}

	var entry models.IPQuarantine
	err := s.db.Where("ip = ? AND active = ?", ip, true).First(&entry).Error
	switch {
	case err == nil:
		entry.Reason = req.Reason
		entry.Source = req.Source
		entry.QuarantinedBy = req.Actor
		entry.ExpiresAt = expires
		if err := s.db.Save(&entry).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = models.IPQuarantine{
			IP:            ip,
			Reason:        req.Reason,
			Source:        req.Source,
			QuarantinedAt: now,
			QuarantinedBy: req.Actor,
			ExpiresAt:     expires,
			Active:        true,
		}
		if err := s.db.Create(&entry).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if s.mirror != nil {
		if err := s.mirror.Add(ctx, ip, req.Duration); err != nil {
			logger.Log().WithError(err).WithField("ip", ip).Warn("failed to mirror quarantine")
		}
	}
	s.audit.Log(AuditEntry{
		UserID:     req.Actor,
		Action:     "quarantine_ip",
		Resource:   "ip",
		ResourceID: ip,
		Details:    map[string]any{"reason": req.Reason, "source": req.Source, "duration_seconds": int64(req.Duration.Seconds())},
		Level:      AuditWarning,
	})
	return &entry, nil
}

// Release lifts an active quarantine.
func (s *QuarantineService) Release(ctx context.Context, rawIP, actor string) error {
	ip := util.NormalizeIP(rawIP)
	if ip == "" {
		return ErrInvalidIP
	}
	now := time.Now().UTC()
	res := s.db.Model(&models.IPQuarantine{}).Where("ip = ? AND active = ?", ip, true).
		Updates(map[string]any{"active": false, "released_at": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQuarantineNotFound
	}
	if s.mirror != nil {
		if err := s.mirror.Remove(ctx, ip); err != nil {
			logger.Log().WithError(err).WithField("ip", ip).Warn("failed to remove mirrored quarantine")
		}
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "release_ip", Resource: "ip", ResourceID: ip})
	return nil
}

// List returns quarantine entries, newest first.
func (s *QuarantineService) List(activeOnly bool) ([]models.IPQuarantine, error) {
	var out []models.IPQuarantine
	q := s.db.Order("quarantined_at desc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// IsQuarantined checks the mirror first and falls back to the database.
func (s *QuarantineService) IsQuarantined(ctx context.Context, rawIP string) (bool, error) {
	ip := util.NormalizeIP(rawIP)
	if ip == "" {
		return false, nil
	}
	if s.mirror != nil {
		ok, err := s.mirror.Contains(ctx, ip)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			logger.Log().WithError(err).Debug("quarantine mirror lookup failed")
		}
	}
	var count int64
	err := s.db.Model(&models.IPQuarantine{}).
		Where("ip = ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)", ip, true, time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// SweepExpired deactivates entries whose expiry has passed.
func (s *QuarantineService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []models.IPQuarantine
	if err := s.db.Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).Find(&expired).Error; err != nil {
		return 0, err
	}
	for i := range expired {
		e := &expired[i]
		e.Active = false
		e.ReleasedAt = &now
		if err := s.db.Save(e).Error; err != nil {
			return i, err
		}
		if s.mirror != nil {
			_ = s.mirror.Remove(ctx, e.IP)
		}
	}
	return len(expired), nil
}

// SyncMirror loads every active entry into the mirror.
func (s *QuarantineService) SyncMirror(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	active, err := s.List(true)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, e := range active {
		var ttl time.Duration
		if e.ExpiresAt != nil {
			if ttl = e.ExpiresAt.Sub(now); ttl <= 0 {
				continue
			}
		}
		if err := s.mirror.Add(ctx, e.IP, ttl); err != nil {
			return err
		}
	}
	return nil
}
