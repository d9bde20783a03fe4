package policy

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// Target is the resource a simulated request addresses.
type Target struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
	Method     string `json:"method"`
}

// Context carries the request attributes conditions are evaluated against.
type Context struct {
	Time               time.Time      `json:"time"`
	Country            string         `json:"country"`
	CountryCode        string         `json:"country_code"`
	City               string         `json:"city"`
	IP                 string         `json:"ip"`
	ASN                string         `json:"asn"`
	DeviceType         string         `json:"device_type"`
	OS                 string         `json:"os"`
	Browser            string         `json:"browser"`
	MFAVerified        bool           `json:"mfa_verified"`
	TrustedDevice      bool           `json:"trusted_device"`
	ManagedDevice      bool           `json:"managed_device"`
	VPN                bool           `json:"vpn"`
	Tor                bool           `json:"tor"`
	Proxy              bool           `json:"proxy"`
	RiskScore          int            `json:"risk_score"`
	RiskLevel          risk.Severity  `json:"risk_level,omitempty"`
	ConcurrentSessions int            `json:"concurrent_sessions"`
	Custom             map[string]any `json:"custom,omitempty"`
}

// Request asks whether a user may perform the given access levels on a target.
type Request struct {
	UserID       string        `json:"user_id"`
	Roles        []string      `json:"roles"`
	Groups       []string      `json:"groups"`
	Target       Target        `json:"target"`
	AccessLevels []AccessLevel `json:"access_levels"`
	Context      Context       `json:"context"`
}

type AppliedPolicy struct {
	PolicyID          string   `json:"policy_id"`
	PolicyName        string   `json:"policy_name"`
	Effect            Effect   `json:"effect"`
	Priority          int      `json:"priority"`
	MatchedConditions []string `json:"matched_conditions"`
	FailedConditions  []string `json:"failed_conditions,omitempty"`
}

type SimulationResult struct {
	Granted         bool            `json:"granted"`
	EffectiveAccess []AccessLevel   `json:"effective_access"`
	DeniedAccess    []AccessLevel   `json:"denied_access"`
	AppliedPolicies []AppliedPolicy `json:"applied_policies"`
	Conflicts       []Conflict      `json:"conflicts"`
	Recommendations []string        `json:"recommendations"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// RolloutBucket maps a policy and user to a stable bucket in [0,100).
func RolloutBucket(policyID, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(policyID + ":" + userID))
	return int(h.Sum32() % 100)
}

// RolloutIncludes reports whether the policy's rollout reaches the requester.
func RolloutIncludes(p Policy, userID string, groups []string) bool {
	r := p.Rollout
	if !r.Enabled {
		return true
	}
	if containsFold(r.CanaryUsers, userID) {
		return true
	}
	for _, g := range groups {
		if containsFold(r.TargetGroups, g) {
			return true
		}
	}
	if r.Percentage >= 100 {
		return true
	}
	if r.Percentage <= 0 {
		return false
	}
	return RolloutBucket(p.ID, userID) < r.Percentage
}

type decision struct {
	allow    bool
	priority int
	policy   string
	reasons  []string
}

// better reports whether d should replace the current decision for a level:
// higher priority wins, deny wins ties.
func (d decision) better(cur *decision) bool {
	if cur == nil {
		return true
	}
	if d.priority != cur.priority {
		return d.priority > cur.priority
	}
	return !d.allow && cur.allow
}

func ruleExcluded(r Rule, req Request) bool {
	for _, ex := range r.Exceptions {
		if anySubjectMatches(ex.Subjects, req) {
			return true
		}
		if anyResourceMatches(ex.Resources, req.Target) {
			return true
		}
	}
	return false
}

// Simulate evaluates the policies for a single request without side effects.
// A zero context time is replaced by the current time.
func Simulate(policies []Policy, req Request) SimulationResult {
	if req.Context.Time.IsZero() {
		req.Context.Time = time.Now().UTC()
	}
	requested := req.AccessLevels
	if len(requested) == 0 {
		requested = []AccessLevel{AccessRead}
	}
	now := req.Context.Time

	result := SimulationResult{
		EffectiveAccess: make([]AccessLevel, 0),
		DeniedAccess:    make([]AccessLevel, 0),
		AppliedPolicies: make([]AppliedPolicy, 0),
		Recommendations: make([]string, 0),
		EvaluatedAt:     now,
	}

	decisions := make(map[AccessLevel]*decision, len(requested))
	var applied []Policy

	for _, p := range policies {
		if !p.InEffect(now) || !anySubjectMatches(p.Subjects, req) || !anyResourceMatches(p.Resources, req.Target) {
			continue
		}
		if !RolloutIncludes(p, req.UserID, req.Groups) {
			continue
		}

		entry := AppliedPolicy{
			PolicyID:          p.ID,
			PolicyName:        p.Name,
			Effect:            p.Type,
			Priority:          p.Priority,
			MatchedConditions: make([]string, 0),
		}
		used := false

		for _, rule := range p.effectiveRules() {
			if ruleExcluded(rule, req) {
				continue
			}
			outcome := evaluateConditions(rule.Conditions, req.Context)
			var d decision
			switch rule.Effect {
			case EffectAllow:
				if !outcome.ok() {
					continue
				}
				d = decision{allow: true}
			case EffectDeny:
				if !outcome.ok() {
					continue
				}
				d = decision{allow: false}
			case EffectConditional:
				d = decision{allow: outcome.ok(), reasons: outcome.failed}
			default:
				continue
			}
			d.priority = p.Priority
			d.policy = p.Name

			ruleUsed := false
			for _, level := range requested {
				if !coversLevel(rule.AccessLevels, level) {
					continue
				}
				ruleUsed = true
				cand := d
				if cand.better(decisions[level]) {
					decisions[level] = &cand
				}
			}
			if ruleUsed {
				used = true
				entry.MatchedConditions = appendUnique(entry.MatchedConditions, outcome.matched...)
				entry.FailedConditions = appendUnique(entry.FailedConditions, outcome.failed...)
			}
		}

		if used {
			result.AppliedPolicies = append(result.AppliedPolicies, entry)
			applied = append(applied, p)
		}
	}

	for _, level := range requested {
		d := decisions[level]
		switch {
		case d == nil:
			result.DeniedAccess = append(result.DeniedAccess, level)
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("No active policy grants %s access to this resource", level))
		case d.allow:
			result.EffectiveAccess = append(result.EffectiveAccess, level)
		default:
			result.DeniedAccess = append(result.DeniedAccess, level)
			if len(d.reasons) > 0 {
				result.Recommendations = append(result.Recommendations,
					fmt.Sprintf("%s access requires %q conditions to pass (%s)", level, d.policy, strings.Join(d.reasons, "; ")))
			}
		}
	}
	result.Granted = len(result.DeniedAccess) == 0

	result.Conflicts = DetectConflicts(applied, now)
	if n := len(result.Conflicts); n > 0 {
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Resolve %d conflict(s) among the applied policies", n))
	}
	return result
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
