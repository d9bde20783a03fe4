package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/models"
)

// SessionRepository is the session store the anomaly scan reads from.
type SessionRepository interface {
	ActiveSessions(ctx context.Context) ([]models.UserSession, error)
	UpdateRiskScores(ctx context.Context, scores map[string]int) error
}

// AnomalyRepository persists detected anomalies.
type AnomalyRepository interface {
	Get(ctx context.Context, id string) (*models.Anomaly, error)
	// Upsert creates the anomaly or refreshes the detection data of an
	// existing one, keeping its status and detection time.
	Upsert(ctx context.Context, a *models.Anomaly) (bool, error)
	List(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, error)
	UpdateStatus(ctx context.Context, id, status, actor, note string) error
}

// AnomalyFilter narrows anomaly listings.
type AnomalyFilter struct {
	Statuses   []string
	Severities []string
	Types      []string
	UserID     string
	SessionID  string
	Limit      int
}

type gormSessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository returns the gorm backed SessionRepository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

func (r *gormSessionRepository) ActiveSessions(ctx context.Context) ([]models.UserSession, error) {
	var out []models.UserSession
	err := r.db.WithContext(ctx).Where("status = ?", models.SessionActive).Order("login_at asc").Find(&out).Error
	return out, err
}

func (r *gormSessionRepository) UpdateRiskScores(ctx context.Context, scores map[string]int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, score := range scores {
			if err := tx.Model(&models.UserSession{}).Where("id = ?", id).
				UpdateColumn("risk_score", score).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

type gormAnomalyRepository struct {
	db *gorm.DB
}

// NewAnomalyRepository returns the gorm backed AnomalyRepository.
func NewAnomalyRepository(db *gorm.DB) AnomalyRepository {
	return &gormAnomalyRepository{db: db}
}

func (r *gormAnomalyRepository) Get(ctx context.Context, id string) (*models.Anomaly, error) {
	var a models.Anomaly
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnomalyNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *gormAnomalyRepository) Upsert(ctx context.Context, a *models.Anomaly) (bool, error) {
	db := r.db.WithContext(ctx)
	var existing models.Anomaly
	err := db.First(&existing, "id = ?", a.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, db.Create(a).Error
	}
	if err != nil {
		return false, err
	}
	err = db.Model(&existing).Updates(map[string]any{
		"type":        a.Type,
		"severity":    a.Severity,
		"score":       a.Score,
		"description": a.Description,
		"factors":     a.Factors,
	}).Error
	if err != nil {
		return false, err
	}
	a.Status = existing.Status
	a.DetectedAt = existing.DetectedAt
	a.CreatedAt = existing.CreatedAt
	return false, nil
}

func (r *gormAnomalyRepository) List(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, error) {
	q := r.db.WithContext(ctx).Order("score desc").Order("detected_at desc").Order("id asc")
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.Severities) > 0 {
		q = q.Where("severity IN ?", f.Severities)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Anomaly
	err := q.Find(&out).Error
	return out, err
}

func (r *gormAnomalyRepository) UpdateStatus(ctx context.Context, id, status, actor, note string) error {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if actor != "" {
		updates["resolved_by"] = actor
	}
	if note != "" {
		updates["resolution_note"] = note
	}
	res := r.db.WithContext(ctx).Model(&models.Anomaly{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAnomalyNotFound
	}
	return nil
}
