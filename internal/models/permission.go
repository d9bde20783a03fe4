package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permission grants an action on a resource. Conditions, when present, is a
// JSON document evaluated at check time.
type Permission struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Resource    string    `gorm:"type:text;not null;uniqueIndex:idx_permission_resource_action" json:"resource"`
	Action      string    `gorm:"type:text;not null;uniqueIndex:idx_permission_resource_action" json:"action"`
	Conditions  *string   `gorm:"type:text" json:"conditions,omitempty"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}

// PermissionString renders the permission as resource:action.
func (p *Permission) PermissionString() string {
	return p.Resource + ":" + p.Action
}

// ValidConditions reports whether Conditions is absent or valid JSON.
func (p *Permission) ValidConditions() bool {
	if p.Conditions == nil || *p.Conditions == "" {
		return true
	}
	return json.Valid([]byte(*p.Conditions))
}

// ConditionMap decodes Conditions into a map. Non-object JSON yields nil.
func (p *Permission) ConditionMap() map[string]any {
	if p.Conditions == nil || *p.Conditions == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*p.Conditions), &out); err != nil {
		return nil
	}
	return out
}

// Role groups permissions for console users.
type Role struct {
	ID          string       `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"uniqueIndex" json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}
