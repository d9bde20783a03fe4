package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// Anomaly is a persisted detection. Its ID is derived from the session row id
// so repeated scans update the same record.
type Anomaly struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	SessionID      string         `gorm:"index" json:"session_id"`
	UserID         string         `gorm:"index" json:"user_id"`
	Type           string         `gorm:"index" json:"type"`
	Severity       string         `gorm:"index" json:"severity"`
	Score          int            `json:"score"`
	Description    string         `json:"description"`
	Factors        datatypes.JSON `json:"factors"`
	Status         string         `gorm:"index;default:'new'" json:"status"`
	DetectedAt     time.Time      `json:"detected_at"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	ResolutionNote string         `json:"resolution_note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AnomalyFromRisk builds the record for a classifier result.
func AnomalyFromRisk(a risk.Anomaly) Anomaly {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		factors = []byte("[]")
	}
	return Anomaly{
		ID:          a.ID,
		SessionID:   a.SessionID,
		UserID:      a.UserID,
		Type:        string(a.Type),
		Severity:    string(a.Severity),
		Score:       a.Score,
		Description: a.Description,
		Factors:     datatypes.JSON(factors),
		Status:      string(a.Status),
		DetectedAt:  a.DetectedAt,
	}
}

// RiskFactors decodes the stored factors; malformed data yields nil.
func (a *Anomaly) RiskFactors() []risk.Factor {
	var out []risk.Factor
	if len(a.Factors) == 0 {
		return nil
	}
	if err := json.Unmarshal(a.Factors, &out); err != nil {
		return nil
	}
	return out
}
