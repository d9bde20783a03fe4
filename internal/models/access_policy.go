package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/policy"
)

// AccessPolicy is the stored form of a policy. Structured parts live in JSON
// columns and are decoded through ToPolicy.
type AccessPolicy struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"uniqueIndex" json:"name"`
	Description string         `json:"description"`
	Type        string         `gorm:"index" json:"type"`   // allow, deny, conditional
	Status      string         `gorm:"index" json:"status"` // draft, active, disabled, expired
	Scope       string         `json:"scope"`
	Subjects    datatypes.JSON `json:"subjects"`
	Resources   datatypes.JSON `json:"resources"`
	Rules       datatypes.JSON `json:"rules"`
	Priority    int            `gorm:"index" json:"priority"`
	Version     int            `gorm:"default:1" json:"version"`
	Rollout     datatypes.JSON `json:"rollout"`
	Tags        string         `json:"tags"` // comma separated
	Category    string         `json:"category"`
	CreatedBy   string         `json:"created_by"`
	UpdatedBy   string         `json:"updated_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (p *AccessPolicy) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = string(policy.StatusDraft)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return
}

func decodeJSON(raw datatypes.JSON, into any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, into)
}

func encodeJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// ToPolicy decodes the record into its evaluation form.
func (p *AccessPolicy) ToPolicy() (policy.Policy, error) {
	out := policy.Policy{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Type:        policy.Effect(p.Type),
		Status:      policy.Status(p.Status),
		Scope:       policy.Scope(p.Scope),
		Priority:    p.Priority,
		Version:     p.Version,
		Tags:        SplitList(p.Tags),
		Category:    p.Category,
	}
	if err := decodeJSON(p.Subjects, &out.Subjects); err != nil {
		return out, fmt.Errorf("decode subjects of policy %s: %w", p.ID, err)
	}
	if err := decodeJSON(p.Resources, &out.Resources); err != nil {
		return out, fmt.Errorf("decode resources of policy %s: %w", p.ID, err)
	}
	if err := decodeJSON(p.Rules, &out.Rules); err != nil {
		return out, fmt.Errorf("decode rules of policy %s: %w", p.ID, err)
	}
	if err := decodeJSON(p.Rollout, &out.Rollout); err != nil {
		return out, fmt.Errorf("decode rollout of policy %s: %w", p.ID, err)
	}
	return out, nil
}

// ApplyPolicy copies an evaluation-form policy into the record. Identity,
// version and audit fields are left untouched.
func (p *AccessPolicy) ApplyPolicy(src policy.Policy) error {
	var err error
	p.Name = src.Name
	p.Description = src.Description
	p.Type = string(src.Type)
	if src.Status != "" {
		p.Status = string(src.Status)
	}
	p.Scope = string(src.Scope)
	p.Priority = src.Priority
	p.Tags = JoinList(src.Tags)
	p.Category = src.Category
	if p.Subjects, err = encodeJSON(src.Subjects); err != nil {
		return err
	}
	if p.Resources, err = encodeJSON(src.Resources); err != nil {
		return err
	}
	if p.Rules, err = encodeJSON(src.Rules); err != nil {
		return err
	}
	if p.Rollout, err = encodeJSON(src.Rollout); err != nil {
		return err
	}
	return nil
}
