// Package policy models access policies and evaluates them: pairwise
// conflict detection and access simulation for a single request.
package policy

import (
	"time"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// Effect is the outcome a rule (or a policy type) produces.
type Effect string

const (
	EffectAllow       Effect = "allow"
	EffectDeny        Effect = "deny"
	EffectConditional Effect = "conditional"
)

// Status is the lifecycle state of a policy. Only active policies are enforced.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusExpired  Status = "expired"
)

type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeRole     Scope = "role"
	ScopeGroup    Scope = "group"
	ScopeUser     Scope = "user"
	ScopeResource Scope = "resource"
)

// AccessLevel is a class of operation on a resource. Full covers every level.
type AccessLevel string

const (
	AccessRead    AccessLevel = "read"
	AccessWrite   AccessLevel = "write"
	AccessExecute AccessLevel = "execute"
	AccessAdmin   AccessLevel = "admin"
	AccessFull    AccessLevel = "full"
)

// AllAccessLevels lists the levels in canonical order.
var AllAccessLevels = []AccessLevel{AccessRead, AccessWrite, AccessExecute, AccessAdmin, AccessFull}

// Subject types.
const (
	SubjectUser     = "user"
	SubjectRole     = "role"
	SubjectGroup    = "group"
	SubjectEveryone = "everyone"
)

type Subject struct {
	Type        string         `json:"type"`
	Identifiers []string       `json:"identifiers"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

type Resource struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Path       string         `json:"path,omitempty"`
	Methods    []string       `json:"methods,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type TimeWindow struct {
	Start string `json:"start"` // "09:00"
	End   string `json:"end"`
}

type DateException struct {
	Dates       []string `json:"dates"` // "2006-01-02"
	Description string   `json:"description"`
}

// TimeCondition restricts access to a daily window and set of weekdays
// (0 = Sunday) in the given timezone.
type TimeCondition struct {
	Enabled      bool            `json:"enabled"`
	AllowedHours *TimeWindow     `json:"allowed_hours,omitempty"`
	AllowedDays  []int           `json:"allowed_days,omitempty"`
	Timezone     string          `json:"timezone,omitempty"`
	Exceptions   []DateException `json:"exceptions,omitempty"`
}

type GeoCondition struct {
	Enabled          bool     `json:"enabled"`
	AllowedCountries []string `json:"allowed_countries,omitempty"`
	DeniedCountries  []string `json:"denied_countries,omitempty"`
	AllowedCities    []string `json:"allowed_cities,omitempty"`
	DeniedCities     []string `json:"denied_cities,omitempty"`
}

// IPCondition entries may be single addresses or CIDR blocks.
type IPCondition struct {
	Enabled     bool     `json:"enabled"`
	AllowedIPs  []string `json:"allowed_ips,omitempty"`
	DeniedIPs   []string `json:"denied_ips,omitempty"`
	AllowedASNs []string `json:"allowed_asns,omitempty"`
	DeniedASNs  []string `json:"denied_asns,omitempty"`
	RequireVPN  bool     `json:"require_vpn,omitempty"`
	DenyVPN     bool     `json:"deny_vpn,omitempty"`
	DenyTor     bool     `json:"deny_tor,omitempty"`
	DenyProxy   bool     `json:"deny_proxy,omitempty"`
}

type DeviceCondition struct {
	Enabled               bool     `json:"enabled"`
	AllowedDeviceTypes    []string `json:"allowed_device_types,omitempty"`
	RequiredDeviceTrust   string   `json:"required_device_trust,omitempty"` // any|trusted|managed
	AllowedOS             []string `json:"allowed_os,omitempty"`
	DeniedOS              []string `json:"denied_os,omitempty"`
	AllowedBrowsers       []string `json:"allowed_browsers,omitempty"`
	DeniedBrowsers        []string `json:"denied_browsers,omitempty"`
	RequireMFA            bool     `json:"require_mfa,omitempty"`
	MaxConcurrentSessions int      `json:"max_concurrent_sessions,omitempty"`
}

type RiskCondition struct {
	Enabled              bool            `json:"enabled"`
	MaxRiskScore         *int            `json:"max_risk_score,omitempty"`
	RequireAdditionalMFA bool            `json:"require_additional_mfa,omitempty"`
	AllowedRiskLevels    []risk.Severity `json:"allowed_risk_levels,omitempty"`
}

// Conditions gate a rule. Custom holds an optional boolean "expression"
// plus attributes that must equal the request's custom attributes.
type Conditions struct {
	Time   *TimeCondition   `json:"time,omitempty"`
	Geo    *GeoCondition    `json:"geo,omitempty"`
	IP     *IPCondition     `json:"ip,omitempty"`
	Device *DeviceCondition `json:"device,omitempty"`
	Risk   *RiskCondition   `json:"risk,omitempty"`
	Custom map[string]any   `json:"custom,omitempty"`
}

type RuleException struct {
	Subjects  []Subject  `json:"subjects,omitempty"`
	Resources []Resource `json:"resources,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type Rule struct {
	Effect       Effect          `json:"effect"`
	AccessLevels []AccessLevel   `json:"access_levels"`
	Conditions   *Conditions     `json:"conditions,omitempty"`
	Exceptions   []RuleException `json:"exceptions,omitempty"`
}

// Rollout limits a policy to a share of users. Disabled means everyone.
type Rollout struct {
	Enabled      bool       `json:"enabled"`
	Percentage   int        `json:"percentage"`
	TargetGroups []string   `json:"target_groups,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	CanaryUsers  []string   `json:"canary_users,omitempty"`
}

// Policy is the evaluation view of an access policy. Higher Priority wins.
type Policy struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        Effect     `json:"type"`
	Status      Status     `json:"status"`
	Scope       Scope      `json:"scope"`
	Subjects    []Subject  `json:"subjects"`
	Resources   []Resource `json:"resources"`
	Rules       []Rule     `json:"rules"`
	Priority    int        `json:"priority"`
	Version     int        `json:"version"`
	Rollout     Rollout    `json:"rollout"`
	Tags        []string   `json:"tags"`
	Category    string     `json:"category,omitempty"`
}

// InEffect reports whether the policy is active and inside its rollout window.
func (p Policy) InEffect(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if p.Rollout.Enabled {
		if p.Rollout.StartDate != nil && now.Before(*p.Rollout.StartDate) {
			return false
		}
		if p.Rollout.EndDate != nil && now.After(*p.Rollout.EndDate) {
			return false
		}
	}
	return true
}

// effectiveRules returns the policy's rules, or a single rule carrying the
// policy type over every access level when none are defined.
func (p Policy) effectiveRules() []Rule {
	if len(p.Rules) > 0 {
		return p.Rules
	}
	return []Rule{{Effect: p.Type, AccessLevels: []AccessLevel{AccessFull}}}
}

type ConflictType string

const (
	ConflictContradiction ConflictType = "contradiction"
	ConflictPriority      ConflictType = "priority"
)

type ConflictingPolicy struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Priority   int    `json:"priority"`
}

type Conflict struct {
	ID                  string              `json:"id"`
	Severity            risk.Severity       `json:"severity"`
	Type                ConflictType        `json:"type"`
	ConflictingPolicies []ConflictingPolicy `json:"conflicting_policies"`
	AffectedResources   []Resource          `json:"affected_resources"`
	AffectedSubjects    []Subject           `json:"affected_subjects"`
	AccessLevels        []AccessLevel       `json:"access_levels"`
	Description         string              `json:"description"`
	Recommendation      string              `json:"recommendation"`
	AutoResolvable      bool                `json:"auto_resolvable"`
	DetectedAt          time.Time           `json:"detected_at"`
}

// Involves reports whether the conflict names the given policy.
func (c Conflict) Involves(policyID string) bool {
	for _, p := range c.ConflictingPolicies {
		if p.PolicyID == policyID {
			return true
		}
	}
	return false
}
