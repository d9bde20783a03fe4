package risk

import (
	"errors"
	"fmt"
	"time"
)

// Weights are the per-factor contributions. LongSession is multiplied by the
// capped session age in days.
type Weights struct {
	GeoAnomaly  float64 `json:"geo_anomaly" yaml:"geo_anomaly"`
	NewDevice   float64 `json:"new_device" yaml:"new_device"`
	MissingMFA  float64 `json:"missing_mfa" yaml:"missing_mfa"`
	UnusualTime float64 `json:"unusual_time" yaml:"unusual_time"`
	LongSession float64 `json:"long_session" yaml:"long_session"`
}

// Tiers are the lower bounds of the medium, high and critical severities.
type Tiers struct {
	Medium   int `json:"medium" yaml:"medium"`
	High     int `json:"high" yaml:"high"`
	Critical int `json:"critical" yaml:"critical"`
}

// Config drives both the scorer and the classifier.
type Config struct {
	Weights Weights `json:"weights" yaml:"weights"`

	// TrustedCountries lists the countries that do not raise geo_anomaly.
	// The default of only "United States" mirrors the legacy console and is
	// almost certainly not what a Turkey-based deployment wants; operators
	// are expected to override it.
	TrustedCountries []string `json:"trusted_countries" yaml:"trusted_countries"`

	// A login hour h is unusual when h < BusinessHoursStart or h > BusinessHoursEnd.
	BusinessHoursStart int `json:"business_hours_start" yaml:"business_hours_start"`
	BusinessHoursEnd   int `json:"business_hours_end" yaml:"business_hours_end"`

	LongSessionHours float64 `json:"long_session_hours" yaml:"long_session_hours"`
	LongSessionCap   float64 `json:"long_session_cap" yaml:"long_session_cap"`

	FlagThreshold int   `json:"flag_threshold" yaml:"flag_threshold"`
	Tiers         Tiers `json:"tiers" yaml:"tiers"`

	// Precedence decides the anomaly type: the first listed factor that fired wins.
	Precedence []FactorType `json:"precedence" yaml:"precedence"`

	// DefaultTimezone is used when a session carries no usable timezone.
	DefaultTimezone string `json:"default_timezone" yaml:"default_timezone"`
}

// DefaultPrecedence is the legacy classification order.
var DefaultPrecedence = []FactorType{
	FactorGeoAnomaly,
	FactorNewDevice,
	FactorUnusualTime,
	FactorLongSession,
}

// anomalyTypeFor maps a fired factor to the category it implies.
var anomalyTypeFor = map[FactorType]AnomalyType{
	FactorGeoAnomaly:  AnomalyGeoVelocity,
	FactorNewDevice:   AnomalyDeviceAnomaly,
	FactorUnusualTime: AnomalyTimeAnomaly,
	FactorLongSession: AnomalyBehaviorAnomaly,
	FactorMissingMFA:  AnomalyBehaviorAnomaly,
}

// DefaultConfig returns the weights and thresholds of the legacy console.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			GeoAnomaly:  20,
			NewDevice:   15,
			MissingMFA:  25,
			UnusualTime: 10,
			LongSession: 5,
		},
		TrustedCountries:   []string{"United States"},
		BusinessHoursStart: 6,
		BusinessHoursEnd:   22,
		LongSessionHours:   12,
		LongSessionCap:     2,
		FlagThreshold:      40,
		Tiers:              Tiers{Medium: 50, High: 70, Critical: 80},
		Precedence:         append([]FactorType(nil), DefaultPrecedence...),
		DefaultTimezone:    "UTC",
	}
}

// ApplyDefaults fills fields left empty by a partial config file.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.TrustedCountries == nil {
		c.TrustedCountries = def.TrustedCountries
	}
	if c.BusinessHoursStart == 0 && c.BusinessHoursEnd == 0 {
		c.BusinessHoursStart = def.BusinessHoursStart
		c.BusinessHoursEnd = def.BusinessHoursEnd
	}
	if c.LongSessionHours <= 0 {
		c.LongSessionHours = def.LongSessionHours
	}
	if c.LongSessionCap <= 0 {
		c.LongSessionCap = def.LongSessionCap
	}
	if c.Tiers == (Tiers{}) {
		c.Tiers = def.Tiers
	}
	if len(c.Precedence) == 0 {
		c.Precedence = def.Precedence
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = def.DefaultTimezone
	}
}

// Validate rejects configurations the scorer cannot apply consistently.
func (c Config) Validate() error {
	w := c.Weights
	if w.GeoAnomaly < 0 || w.NewDevice < 0 || w.MissingMFA < 0 || w.UnusualTime < 0 || w.LongSession < 0 {
		return errors.New("risk weights must not be negative")
	}
	if c.BusinessHoursStart < 0 || c.BusinessHoursStart > 23 || c.BusinessHoursEnd < 0 || c.BusinessHoursEnd > 23 {
		return errors.New("business hours must be within 0-23")
	}
	if c.BusinessHoursStart > c.BusinessHoursEnd {
		return errors.New("business_hours_start must not exceed business_hours_end")
	}
	if c.FlagThreshold < 0 || c.FlagThreshold > 100 {
		return errors.New("flag_threshold must be within 0-100")
	}
	t := c.Tiers
	if t.Medium <= 0 || t.Medium > t.High || t.High > t.Critical || t.Critical > 100 {
		return errors.New("severity tiers must satisfy 0 < medium <= high <= critical <= 100")
	}
	for _, p := range c.Precedence {
		if _, ok := anomalyTypeFor[p]; !ok {
			return fmt.Errorf("unknown factor in precedence: %q", p)
		}
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("default_timezone: %w", err)
	}
	return nil
}

// SeverityFor buckets a score into a severity tier.
func (c Config) SeverityFor(score int) Severity {
	switch {
	case score >= c.Tiers.Critical:
		return SeverityCritical
	case score >= c.Tiers.High:
		return SeverityHigh
	case score >= c.Tiers.Medium:
		return SeverityMedium
	}
	return SeverityLow
}
