package models

import "time"

// Setting is a runtime key/value override editable from the console.
type Setting struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex"`
	Value     string    `json:"value" gorm:"type:text"`
	Type      string    `json:"type"`     // string, int, bool, json
	Category  string    `json:"category"` // risk, notifications, sessions
	UpdatedAt time.Time `json:"updated_at"`
}
