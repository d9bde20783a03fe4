package policy

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// CustomExpressionKey names the govaluate expression inside Conditions.Custom.
const CustomExpressionKey = "expression"

// conditionOutcome records which condition groups passed and why others failed.
type conditionOutcome struct {
	matched []string
	failed  []string
}

func (o conditionOutcome) ok() bool { return len(o.failed) == 0 }

func (o *conditionOutcome) check(name string, pass bool, reason string) {
	if pass {
		o.matched = append(o.matched, name)
		return
	}
	o.failed = append(o.failed, fmt.Sprintf("%s: %s", name, reason))
}

func evaluateConditions(c *Conditions, ctx Context) conditionOutcome {
	var out conditionOutcome
	if c == nil {
		return out
	}
	if c.Time != nil && c.Time.Enabled {
		pass, reason := checkTime(c.Time, ctx.Time)
		out.check("time", pass, reason)
	}
	if c.Geo != nil && c.Geo.Enabled {
		pass, reason := checkGeo(c.Geo, ctx)
		out.check("geo", pass, reason)
	}
	if c.IP != nil && c.IP.Enabled {
		pass, reason := checkIP(c.IP, ctx)
		out.check("ip", pass, reason)
	}
	if c.Device != nil && c.Device.Enabled {
		pass, reason := checkDevice(c.Device, ctx)
		out.check("device", pass, reason)
	}
	if c.Risk != nil && c.Risk.Enabled {
		pass, reason := checkRisk(c.Risk, ctx)
		out.check("risk", pass, reason)
	}
	if len(c.Custom) > 0 {
		pass, reason := checkCustom(c.Custom, ctx)
		out.check("custom", pass, reason)
	}
	return out
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func checkTime(tc *TimeCondition, at time.Time) (bool, string) {
	loc := time.UTC
	if tc.Timezone != "" {
		if l, err := time.LoadLocation(tc.Timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)

	day := local.Format("2006-01-02")
	for _, ex := range tc.Exceptions {
		for _, d := range ex.Dates {
			if d == day {
				return false, "date is excluded (" + ex.Description + ")"
			}
		}
	}

	if len(tc.AllowedDays) > 0 {
		wd := int(local.Weekday())
		found := false
		for _, d := range tc.AllowedDays {
			if d == wd {
				found = true
				break
			}
		}
		if !found {
			return false, local.Weekday().String() + " is not an allowed day"
		}
	}

	if tc.AllowedHours != nil {
		start, err := parseClock(tc.AllowedHours.Start)
		if err != nil {
			return false, err.Error()
		}
		end, err := parseClock(tc.AllowedHours.End)
		if err != nil {
			return false, err.Error()
		}
		m := local.Hour()*60 + local.Minute()
		var inside bool
		if start <= end {
			inside = m >= start && m <= end
		} else {
			inside = m >= start || m <= end
		}
		if !inside {
			return false, fmt.Sprintf("%s is outside %s-%s", local.Format("15:04"), tc.AllowedHours.Start, tc.AllowedHours.End)
		}
	}
	return true, ""
}

func matchesCountry(list []string, ctx Context) bool {
	return containsFold(list, ctx.Country) || (ctx.CountryCode != "" && containsFold(list, ctx.CountryCode))
}

func checkGeo(gc *GeoCondition, ctx Context) (bool, string) {
	if len(gc.DeniedCountries) > 0 && matchesCountry(gc.DeniedCountries, ctx) {
		return false, "country " + ctx.Country + " is denied"
	}
	if len(gc.AllowedCountries) > 0 && !matchesCountry(gc.AllowedCountries, ctx) {
		return false, "country " + ctx.Country + " is not allowed"
	}
	if len(gc.DeniedCities) > 0 && containsFold(gc.DeniedCities, ctx.City) {
		return false, "city " + ctx.City + " is denied"
	}
	if len(gc.AllowedCities) > 0 && !containsFold(gc.AllowedCities, ctx.City) {
		return false, "city " + ctx.City + " is not allowed"
	}
	return true, ""
}

// ipInList matches an address against plain addresses and CIDR blocks.
func ipInList(list []string, raw string) bool {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return false
	}
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, block, err := net.ParseCIDR(entry); err == nil && block.Contains(ip) {
				return true
			}
			continue
		}
		if other := net.ParseIP(entry); other != nil && other.Equal(ip) {
			return true
		}
	}
	return false
}

func checkIP(ic *IPCondition, ctx Context) (bool, string) {
	if len(ic.DeniedIPs) > 0 && ipInList(ic.DeniedIPs, ctx.IP) {
		return false, "address " + ctx.IP + " is denied"
	}
	if len(ic.AllowedIPs) > 0 && !ipInList(ic.AllowedIPs, ctx.IP) {
		return false, "address " + ctx.IP + " is not allowed"
	}
	if len(ic.DeniedASNs) > 0 && containsFold(ic.DeniedASNs, ctx.ASN) {
		return false, "network " + ctx.ASN + " is denied"
	}
	if len(ic.AllowedASNs) > 0 && !containsFold(ic.AllowedASNs, ctx.ASN) {
		return false, "network " + ctx.ASN + " is not allowed"
	}
	switch {
	case ic.RequireVPN && !ctx.VPN:
		return false, "VPN is required"
	case ic.DenyVPN && ctx.VPN:
		return false, "VPN connections are denied"
	case ic.DenyTor && ctx.Tor:
		return false, "Tor connections are denied"
	case ic.DenyProxy && ctx.Proxy:
		return false, "proxy connections are denied"
	}
	return true, ""
}

func checkDevice(dc *DeviceCondition, ctx Context) (bool, string) {
	if len(dc.AllowedDeviceTypes) > 0 && !containsFold(dc.AllowedDeviceTypes, ctx.DeviceType) {
		return false, "device type " + ctx.DeviceType + " is not allowed"
	}
	switch dc.RequiredDeviceTrust {
	case "trusted":
		if !ctx.TrustedDevice && !ctx.ManagedDevice {
			return false, "a trusted device is required"
		}
	case "managed":
		if !ctx.ManagedDevice {
			return false, "a managed device is required"
		}
	}
	if len(dc.DeniedOS) > 0 && containsFold(dc.DeniedOS, ctx.OS) {
		return false, "operating system " + ctx.OS + " is denied"
	}
	if len(dc.AllowedOS) > 0 && !containsFold(dc.AllowedOS, ctx.OS) {
		return false, "operating system " + ctx.OS + " is not allowed"
	}
	if len(dc.DeniedBrowsers) > 0 && containsFold(dc.DeniedBrowsers, ctx.Browser) {
		return false, "browser " + ctx.Browser + " is denied"
	}
	if len(dc.AllowedBrowsers) > 0 && !containsFold(dc.AllowedBrowsers, ctx.Browser) {
		return false, "browser " + ctx.Browser + " is not allowed"
	}
	if dc.RequireMFA && !ctx.MFAVerified {
		return false, "multi-factor authentication is required"
	}
	if dc.MaxConcurrentSessions > 0 && ctx.ConcurrentSessions > dc.MaxConcurrentSessions {
		return false, fmt.Sprintf("%d concurrent sessions exceed the limit of %d", ctx.ConcurrentSessions, dc.MaxConcurrentSessions)
	}
	return true, ""
}

func checkRisk(rc *RiskCondition, ctx Context) (bool, string) {
	if rc.MaxRiskScore != nil && ctx.RiskScore > *rc.MaxRiskScore {
		return false, fmt.Sprintf("risk score %d exceeds %d", ctx.RiskScore, *rc.MaxRiskScore)
	}
	if len(rc.AllowedRiskLevels) > 0 {
		level := ctx.riskLevel()
		found := false
		for _, l := range rc.AllowedRiskLevels {
			if l == level {
				found = true
				break
			}
		}
		if !found {
			return false, "risk level " + string(level) + " is not allowed"
		}
	}
	if rc.RequireAdditionalMFA && !ctx.MFAVerified {
		return false, "additional multi-factor authentication is required"
	}
	return true, ""
}

func checkCustom(custom map[string]any, ctx Context) (bool, string) {
	for key, want := range custom {
		if key == CustomExpressionKey {
			continue
		}
		got, ok := ctx.Custom[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false, fmt.Sprintf("attribute %s does not match", key)
		}
	}

	raw, ok := custom[CustomExpressionKey]
	if !ok {
		return true, ""
	}
	expr, ok := raw.(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return false, "expression must be a non-empty string"
	}
	pass, err := EvaluateExpression(expr, ctx.Parameters())
	if err != nil {
		return false, err.Error()
	}
	if !pass {
		return false, "expression evaluated to false"
	}
	return true, ""
}

// CompileExpression parses a govaluate expression without evaluating it.
func CompileExpression(expr string) (*govaluate.EvaluableExpression, error) {
	e, err := govaluate.NewEvaluableExpression(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	return e, nil
}

// EvaluateExpression evaluates a boolean govaluate expression. Variables the
// parameters do not define evaluate as nil.
func EvaluateExpression(expr string, params map[string]any) (bool, error) {
	e, err := CompileExpression(expr)
	if err != nil {
		return false, err
	}
	p := make(map[string]interface{}, len(params))
	for k, v := range params {
		p[k] = v
	}
	for _, v := range e.Vars() {
		if _, ok := p[v]; !ok {
			p[v] = nil
		}
	}
	result, err := e.Evaluate(p)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression result is not boolean: %v", result)
	}
	return b, nil
}

func (c Context) riskLevel() risk.Severity {
	if c.RiskLevel != "" {
		return c.RiskLevel
	}
	return risk.DefaultConfig().SeverityFor(c.RiskScore)
}

// Parameters exposes the context to custom expressions. Custom attributes
// override built-in names.
func (c Context) Parameters() map[string]any {
	p := map[string]any{
		"hour":                float64(c.Time.Hour()),
		"weekday":             float64(c.Time.Weekday()),
		"country":             c.Country,
		"country_code":        c.CountryCode,
		"city":                c.City,
		"ip":                  c.IP,
		"asn":                 c.ASN,
		"device_type":         c.DeviceType,
		"os":                  c.OS,
		"browser":             c.Browser,
		"mfa_verified":        c.MFAVerified,
		"trusted_device":      c.TrustedDevice,
		"managed_device":      c.ManagedDevice,
		"vpn":                 c.VPN,
		"tor":                 c.Tor,
		"proxy":               c.Proxy,
		"risk_score":          float64(c.RiskScore),
		"risk_level":          string(c.riskLevel()),
		"concurrent_sessions": float64(c.ConcurrentSessions),
	}
	for k, v := range c.Custom {
		p[k] = v
	}
	return p
}
