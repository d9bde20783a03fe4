package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// Session lifecycle states.
const (
	SessionActive    = "active"
	SessionExpired   = "expired"
	SessionRevoked   = "revoked"
	SessionSuspended = "suspended"
)

// Session flags set by monitoring actions.
const (
	FlagCompromised   = "compromised"
	FlagRequireMFA    = "require_mfa"
	FlagRequireReauth = "require_reauth"
)

// UserSession is an authenticated end-user session reported by the identity
// provider. Device, location and MFA data are stored flat.
type UserSession struct {
	ID        string `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"uniqueIndex" json:"session_id"`
	UserID    string `gorm:"index" json:"user_id"`
	ClientID  string `json:"client_id"`

	UserEmail  string `json:"user_email"`
	UserName   string `json:"user_name"`
	UserRoles  string `json:"user_roles"` // comma separated
	Department string `json:"department"`

	DeviceType        string `json:"device_type"` // desktop, mobile, tablet, unknown
	DeviceOS          string `json:"device_os"`
	DeviceBrowser     string `json:"device_browser"`
	DeviceFingerprint string `json:"device_fingerprint"`
	DeviceTrusted     bool   `json:"device_trusted"`
	DeviceNew         bool   `json:"device_new"`

	LocationIP          string `gorm:"index" json:"location_ip"`
	LocationCity        string `json:"location_city"`
	LocationCountry     string `gorm:"index" json:"location_country"`
	LocationCountryCode string `json:"location_country_code"`
	LocationTimezone    string `json:"location_timezone"`
	LocationASN         string `json:"location_asn"`
	LocationISP         string `json:"location_isp"`
	LocationVPN         bool   `json:"location_vpn"`
	LocationTor         bool   `json:"location_tor"`
	LocationProxy       bool   `json:"location_proxy"`

	MFAStatus  string `json:"mfa_status"` // passed, required, bypassed, failed
	MFAMethods string `json:"mfa_methods"`

	LoginAt      time.Time  `json:"login_at"`
	LastActivity time.Time  `json:"last_activity"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Status       string     `gorm:"index;default:'active'" json:"status"`
	Flags        string     `json:"flags"`

	// RiskScore caches the last computed score; it is recomputed on every scan.
	RiskScore int `json:"risk_score"`

	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    string     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *UserSession) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.SessionID == "" {
		s.SessionID = s.ID
	}
	if s.Status == "" {
		s.Status = SessionActive
	}
	return
}

// SplitList splits a comma separated column, dropping blanks.
func SplitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	clean := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			clean = append(clean, it)
		}
	}
	return strings.Join(clean, ",")
}

// HasFlag reports whether the session carries the flag.
func (s *UserSession) HasFlag(flag string) bool {
	for _, f := range SplitList(s.Flags) {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag sets a flag once.
func (s *UserSession) AddFlag(flag string) {
	if s.HasFlag(flag) {
		return
	}
	s.Flags = JoinList(append(SplitList(s.Flags), flag))
}

func (s *UserSession) hasLocation() bool {
	return s.LocationIP != "" || s.LocationCountry != "" || s.LocationCountryCode != "" ||
		s.LocationCity != "" || s.LocationTimezone != "" || s.LocationASN != "" ||
		s.LocationVPN || s.LocationTor || s.LocationProxy
}

// ToRisk converts the record into the scoring input. Sections without data
// become nil so they contribute nothing.
func (s *UserSession) ToRisk() risk.Session {
	rs := risk.Session{
		ID:           s.ID,
		SessionID:    s.SessionID,
		UserID:       s.UserID,
		LoginAt:      s.LoginAt,
		LastActivity: s.LastActivity,
		Status:       s.Status,
		User: &risk.User{
			Name:       s.UserName,
			Email:      s.UserEmail,
			Roles:      SplitList(s.UserRoles),
			Department: s.Department,
		},
	}
	if s.DeviceType != "" || s.DeviceOS != "" || s.DeviceBrowser != "" || s.DeviceFingerprint != "" || s.DeviceTrusted || s.DeviceNew {
		rs.Device = &risk.Device{
			Type:        s.DeviceType,
			OS:          s.DeviceOS,
			Browser:     s.DeviceBrowser,
			Fingerprint: s.DeviceFingerprint,
			IsTrusted:   s.DeviceTrusted,
			IsNewDevice: s.DeviceNew,
		}
	}
	if s.hasLocation() {
		rs.Location = &risk.Location{
			IP:          s.LocationIP,
			City:        s.LocationCity,
			Country:     s.LocationCountry,
			CountryCode: s.LocationCountryCode,
			Timezone:    s.LocationTimezone,
			ASN:         s.LocationASN,
			IsVPN:       s.LocationVPN,
			IsTor:       s.LocationTor,
			IsProxy:     s.LocationProxy,
		}
	}
	if s.MFAStatus != "" {
		rs.MFA = &risk.MFA{Status: s.MFAStatus, Methods: SplitList(s.MFAMethods)}
	}
	return rs
}

// SessionFromRisk builds a record from the nested session form reported by
// identity providers.
func SessionFromRisk(rs risk.Session) UserSession {
	s := UserSession{
		ID:           rs.ID,
		SessionID:    rs.SessionID,
		UserID:       rs.UserID,
		LoginAt:      rs.LoginAt.UTC(),
		LastActivity: rs.LastActivity.UTC(),
		Status:       rs.Status,
	}
	if u := rs.User; u != nil {
		s.UserName, s.UserEmail, s.Department = u.Name, u.Email, u.Department
		s.UserRoles = JoinList(u.Roles)
	}
	if d := rs.Device; d != nil {
		s.DeviceType, s.DeviceOS, s.DeviceBrowser, s.DeviceFingerprint = d.Type, d.OS, d.Browser, d.Fingerprint
		s.DeviceTrusted, s.DeviceNew = d.IsTrusted, d.IsNewDevice
	}
	if l := rs.Location; l != nil {
		s.LocationIP, s.LocationCity, s.LocationCountry, s.LocationCountryCode = l.IP, l.City, l.Country, l.CountryCode
		s.LocationTimezone, s.LocationASN = l.Timezone, l.ASN
		s.LocationVPN, s.LocationTor, s.LocationProxy = l.IsVPN, l.IsTor, l.IsProxy
	}
	if m := rs.MFA; m != nil {
		s.MFAStatus = m.Status
		s.MFAMethods = JoinList(m.Methods)
	}
	return s
}
