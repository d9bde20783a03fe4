package policy

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNameRequired     = errors.New("policy name is required")
	ErrInvalidEffect    = errors.New("invalid policy effect")
	ErrInvalidStatus    = errors.New("invalid policy status")
	ErrNoSubjects       = errors.New("policy must have at least one subject")
	ErrNoResources      = errors.New("policy must have at least one resource")
	ErrInvalidRollout   = errors.New("rollout percentage must be within 0-100")
	ErrInvalidCondition = errors.New("invalid rule condition")
)

func validEffect(e Effect) bool {
	return e == EffectAllow || e == EffectDeny || e == EffectConditional
}

func validStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusActive, StatusDisabled, StatusExpired:
		return true
	}
	return false
}

func validLevel(l AccessLevel) bool {
	for _, a := range AllAccessLevels {
		if a == l {
			return true
		}
	}
	return false
}

// Validate checks a policy for structural errors. It compiles custom
// expressions and parses time windows and address lists.
func Validate(p Policy) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if !validEffect(p.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidEffect, p.Type)
	}
	if p.Status != "" && !validStatus(p.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if len(p.Subjects) == 0 {
		return ErrNoSubjects
	}
	for _, s := range p.Subjects {
		switch s.Type {
		case SubjectEveryone:
		case SubjectUser, SubjectRole, SubjectGroup:
			if len(s.Identifiers) == 0 {
				return fmt.Errorf("subject of type %s needs identifiers", s.Type)
			}
		default:
			return fmt.Errorf("invalid subject type %q", s.Type)
		}
	}
	if len(p.Resources) == 0 {
		return ErrNoResources
	}
	for _, r := range p.Resources {
		if r.ID == "" && r.Path == "" {
			return errors.New("resource needs an id or a path")
		}
	}
	for i, r := range p.Rules {
		if !validEffect(r.Effect) {
			return fmt.Errorf("rule %d: %w: %q", i, ErrInvalidEffect, r.Effect)
		}
		for _, l := range r.AccessLevels {
			if !validLevel(l) {
				return fmt.Errorf("rule %d: invalid access level %q", i, l)
			}
		}
		if err := validateConditions(r.Conditions); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if p.Rollout.Percentage < 0 || p.Rollout.Percentage > 100 {
		return ErrInvalidRollout
	}
	if p.Rollout.StartDate != nil && p.Rollout.EndDate != nil && p.Rollout.EndDate.Before(*p.Rollout.StartDate) {
		return errors.New("rollout end date precedes start date")
	}
	return nil
}

func validateConditions(c *Conditions) error {
	if c == nil {
		return nil
	}
	if c.Time != nil && c.Time.AllowedHours != nil {
		if _, err := parseClock(c.Time.AllowedHours.Start); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
		if _, err := parseClock(c.Time.AllowedHours.End); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
	}
	if c.Time != nil {
		for _, d := range c.Time.AllowedDays {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: weekday %d", ErrInvalidCondition, d)
			}
		}
	}
	if c.IP != nil {
		for _, entry := range append(append([]string(nil), c.IP.AllowedIPs...), c.IP.DeniedIPs...) {
			if !validAddress(entry) {
				return fmt.Errorf("%w: address %q", ErrInvalidCondition, entry)
			}
		}
	}
	if c.Risk != nil && c.Risk.MaxRiskScore != nil {
		if m := *c.Risk.MaxRiskScore; m < 0 || m > 100 {
			return fmt.Errorf("%w: max risk score %d", ErrInvalidCondition, m)
		}
	}
	if raw, ok := c.Custom[CustomExpressionKey]; ok {
		expr, isString := raw.(string)
		if !isString {
			return fmt.Errorf("%w: expression must be a string", ErrInvalidCondition)
		}
		if _, err := CompileExpression(expr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
	}
	return nil
}

func validAddress(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
