package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// DetectConflicts compares every pair of policies in effect at now and
// reports contradictions (overlapping scope, different effects) and priority
// ties (overlapping scope, same effect, same priority). The result is sorted
// by severity, most severe first, then by id.
func DetectConflicts(policies []Policy, now time.Time) []Conflict {
	active := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.InEffect(now) {
			active = append(active, p)
		}
	}

	conflicts := make([]Conflict, 0)
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if c, ok := comparePair(active[i], active[j], now); ok {
				conflicts = append(conflicts, c)
			}
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		ri, rj := conflicts[i].Severity.Rank(), conflicts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return conflicts[i].ID < conflicts[j].ID
	})
	return conflicts
}

func conflictID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "conflict-" + a + "-" + b
}

// restrictiveness orders effects: allow < conditional < deny.
func restrictiveness(e Effect) int {
	switch e {
	case EffectDeny:
		return 2
	case EffectConditional:
		return 1
	}
	return 0
}

func lowerSeverity(s risk.Severity) risk.Severity {
	switch s {
	case risk.SeverityCritical:
		return risk.SeverityHigh
	case risk.SeverityHigh:
		return risk.SeverityMedium
	}
	return risk.SeverityLow
}

type ruleClash struct {
	permissive, restrictive Effect
	restrictiveIsA          bool
	levels                  []AccessLevel
}

func (r *ruleClash) conditional() bool {
	return r.permissive == EffectConditional || r.restrictive == EffectConditional
}

func comparePair(a, b Policy, now time.Time) (Conflict, bool) {
	subjects := overlapSubjects(a.Subjects, b.Subjects)
	if len(subjects) == 0 {
		return Conflict{}, false
	}
	resources := overlapResources(a.Resources, b.Resources)
	if len(resources) == 0 {
		return Conflict{}, false
	}

	var clash *ruleClash
	var sameEffectLevels []AccessLevel
	for _, ra := range a.effectiveRules() {
		for _, rb := range b.effectiveRules() {
			levels := overlapLevels(ra.AccessLevels, rb.AccessLevels)
			if len(levels) == 0 {
				continue
			}
			if ra.Effect == rb.Effect {
				sameEffectLevels = mergeLevels(sameEffectLevels, levels)
				continue
			}
			conditional := ra.Effect == EffectConditional || rb.Effect == EffectConditional
			if clash == nil {
				clash = &ruleClash{}
			}
			clash.levels = mergeLevels(clash.levels, levels)
			// an unconditional pairing outranks a conditional one
			if clash.restrictive == "" || (clash.conditional() && !conditional) {
				clash.permissive, clash.restrictive = ra.Effect, rb.Effect
				clash.restrictiveIsA = false
				if restrictiveness(ra.Effect) > restrictiveness(rb.Effect) {
					clash.permissive, clash.restrictive = rb.Effect, ra.Effect
					clash.restrictiveIsA = true
				}
			}
		}
	}

	c := Conflict{
		ID: conflictID(a.ID, b.ID),
		ConflictingPolicies: []ConflictingPolicy{
			{PolicyID: a.ID, PolicyName: a.Name, Priority: a.Priority},
			{PolicyID: b.ID, PolicyName: b.Name, Priority: b.Priority},
		},
		AffectedResources: resources,
		AffectedSubjects:  subjects,
		DetectedAt:        now,
	}

	switch {
	case clash != nil:
		c.Type = ConflictContradiction
		c.AccessLevels = clash.levels
		permissive, restrictive := a, b
		if clash.restrictiveIsA {
			permissive, restrictive = b, a
		}
		switch {
		case permissive.Priority == restrictive.Priority:
			c.Severity = risk.SeverityCritical
			c.Recommendation = fmt.Sprintf("Give %q and %q distinct priorities so one effect wins deterministically", a.Name, b.Name)
		case permissive.Priority > restrictive.Priority:
			c.Severity = risk.SeverityHigh
			c.Recommendation = fmt.Sprintf("Raise the priority of %q above %q or narrow the subjects of %q", restrictive.Name, permissive.Name, permissive.Name)
		default:
			c.Severity = risk.SeverityMedium
			c.Recommendation = fmt.Sprintf("%q always overrides %q on the shared scope; remove the overlap or retire the shadowed rule", restrictive.Name, permissive.Name)
		}
		if clash.conditional() {
			c.Severity = lowerSeverity(c.Severity)
		}
		c.Description = fmt.Sprintf("%q (%s, priority %d) and %q (%s, priority %d) apply different effects (%s vs %s) to the same subjects and resources",
			a.Name, a.Type, a.Priority, b.Name, b.Type, b.Priority, clash.permissive, clash.restrictive)
		return c, true

	case len(sameEffectLevels) > 0 && a.Priority == b.Priority:
		c.Type = ConflictPriority
		c.AccessLevels = sameEffectLevels
		c.Severity = risk.SeverityLow
		c.AutoResolvable = true
		c.Description = fmt.Sprintf("%q and %q share priority %d and apply the same effect to overlapping subjects and resources", a.Name, b.Name, a.Priority)
		c.Recommendation = fmt.Sprintf("Merge %q and %q or give them distinct priorities", a.Name, b.Name)
		return c, true
	}

	return Conflict{}, false
}

func mergeLevels(dst, add []AccessLevel) []AccessLevel {
	set := make(map[AccessLevel]bool, len(dst)+len(add))
	for _, l := range dst {
		set[l] = true
	}
	for _, l := range add {
		set[l] = true
	}
	out := make([]AccessLevel, 0, len(set))
	for _, l := range AllAccessLevels {
		if set[l] {
			out = append(out, l)
		}
	}
	return out
}
