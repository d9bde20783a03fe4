// Package risk scores authenticated sessions from a fixed set of weighted
// signals and classifies high-scoring sessions into coarse anomaly categories.
//
// The package is pure: it performs no I/O, holds no shared mutable state
// beyond a timezone cache, and is total over any Session value including ones
// with nil Device, Location or MFA.
package risk

import "time"

// FactorType identifies a single risk signal.
type FactorType string

const (
	FactorGeoAnomaly  FactorType = "geo_anomaly"
	FactorNewDevice   FactorType = "new_device"
	FactorMissingMFA  FactorType = "missing_mfa"
	FactorUnusualTime FactorType = "unusual_time"
	FactorLongSession FactorType = "long_session"
)

// AnomalyType is the coarse category assigned to a flagged session.
type AnomalyType string

const (
	// AnomalyGeoVelocity is assigned when the foreign-country signal fired.
	// No travel speed is computed; the label is kept for console compatibility.
	AnomalyGeoVelocity     AnomalyType = "geo_velocity"
	AnomalyDeviceAnomaly   AnomalyType = "device_anomaly"
	AnomalyTimeAnomaly     AnomalyType = "time_anomaly"
	AnomalyBehaviorAnomaly AnomalyType = "behavior_anomaly"
)

// Severity buckets a score. It doubles as the session risk level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can compare them; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Status tracks the triage state of a detected anomaly.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// MFAPassed is the only MFA status that contributes no risk.
const MFAPassed = "passed"

// Factor is one weighted contribution to a session's score.
type Factor struct {
	Type         FactorType `json:"type"`
	Weight       float64    `json:"weight"`
	Value        float64    `json:"value"`
	Contribution float64    `json:"contribution"`
	Description  string     `json:"description"`
}

// User is the identity snapshot attached to a session.
type User struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	Department string   `json:"department"`
}

// Device describes the client the session was opened from.
type Device struct {
	Type        string `json:"type"`
	OS          string `json:"os"`
	Browser     string `json:"browser"`
	Fingerprint string `json:"fingerprint"`
	IsTrusted   bool   `json:"is_trusted"`
	IsNewDevice bool   `json:"is_new_device"`
}

// Location is the network origin of the session.
type Location struct {
	IP          string `json:"ip"`
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Timezone    string `json:"timezone"`
	ASN         string `json:"asn"`
	IsVPN       bool   `json:"is_vpn"`
	IsTor       bool   `json:"is_tor"`
	IsProxy     bool   `json:"is_proxy"`
}

// MFA holds the multi-factor state of the session.
type MFA struct {
	Status  string   `json:"status"`
	Methods []string `json:"methods"`
}

// Session is the scoring input. Nil nested fields contribute nothing.
type Session struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	User         *User     `json:"user,omitempty"`
	Device       *Device   `json:"device,omitempty"`
	Location     *Location `json:"location,omitempty"`
	MFA          *MFA      `json:"mfa,omitempty"`
	LoginAt      time.Time `json:"login_at"`
	LastActivity time.Time `json:"last_activity"`
	Status       string    `json:"status"`
}

// Assessment is the result of scoring one session.
type Assessment struct {
	Score   int      `json:"score"`
	Level   Severity `json:"level"`
	Factors []Factor `json:"factors"`
}

// Has reports whether a factor of the given type fired.
func (a Assessment) Has(t FactorType) bool {
	for _, f := range a.Factors {
		if f.Type == t {
			return true
		}
	}
	return false
}

// Anomaly is a session whose score crossed the flag threshold.
type Anomaly struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	UserID      string      `json:"user_id"`
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Score       int         `json:"score"`
	Description string      `json:"description"`
	Factors     []Factor    `json:"factors"`
	Status      Status      `json:"status"`
	DetectedAt  time.Time   `json:"detected_at"`
}
