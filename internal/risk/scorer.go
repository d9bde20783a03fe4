package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	// Embedded zone database so location timezones resolve on minimal images.
	_ "time/tzdata"
)

// Scorer computes risk assessments. It is safe for concurrent use.
type Scorer struct {
	cfg        Config
	trusted    map[string]struct{}
	defaultLoc *time.Location
	zones      sync.Map // timezone name -> *time.Location, or nil when unknown
}

// NewScorer builds a Scorer. An unloadable default timezone falls back to UTC.
func NewScorer(cfg Config) *Scorer {
	s := &Scorer{
		cfg:        cfg,
		trusted:    make(map[string]struct{}, len(cfg.TrustedCountries)),
		defaultLoc: time.UTC,
	}
	for _, c := range cfg.TrustedCountries {
		s.trusted[normalizeCountry(c)] = struct{}{}
	}
	if cfg.DefaultTimezone != "" {
		if loc, err := time.LoadLocation(cfg.DefaultTimezone); err == nil {
			s.defaultLoc = loc
		}
	}
	return s
}

// Config returns the configuration the scorer was built with.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score evaluates every signal against the session at instant now.
func (s *Scorer) Score(sess Session, now time.Time) Assessment {
	w := s.cfg.Weights
	factors := make([]Factor, 0, 5)
	total := 0.0

	add := func(t FactorType, weight, value, contribution float64, desc string) {
		factors = append(factors, Factor{
			Type:         t,
			Weight:       weight,
			Value:        value,
			Contribution: contribution,
			Description:  desc,
		})
		total += contribution
	}

	if loc := sess.Location; loc != nil && !s.isTrusted(loc.Country) {
		add(FactorGeoAnomaly, w.GeoAnomaly, 1, w.GeoAnomaly, "Login from foreign country")
	}

	if dev := sess.Device; dev != nil && dev.IsNewDevice {
		add(FactorNewDevice, w.NewDevice, 1, w.NewDevice, "First-time device detection")
	}

	if mfa := sess.MFA; mfa != nil && mfa.Status != MFAPassed {
		add(FactorMissingMFA, w.MissingMFA, 1, w.MissingMFA, "Multi-factor authentication not verified")
	}

	if !sess.LoginAt.IsZero() {
		hour := sess.LoginAt.In(s.zoneFor(sess.Location)).Hour()
		if hour < s.cfg.BusinessHoursStart || hour > s.cfg.BusinessHoursEnd {
			add(FactorUnusualTime, w.UnusualTime, 1, w.UnusualTime, "Login outside normal business hours")
		}

		hours := now.Sub(sess.LoginAt).Hours()
		if hours > s.cfg.LongSessionHours {
			value := hours / 24
			contribution := w.LongSession * math.Min(value, s.cfg.LongSessionCap)
			add(FactorLongSession, w.LongSession, value, contribution,
				fmt.Sprintf("Unusually long session duration (%dh)", int(math.Round(hours))))
		}
	}

	score := clampScore(total)
	return Assessment{
		Score:   score,
		Level:   s.cfg.SeverityFor(score),
		Factors: factors,
	}
}

func (s *Scorer) isTrusted(country string) bool {
	_, ok := s.trusted[normalizeCountry(country)]
	return ok
}

func (s *Scorer) zoneFor(loc *Location) *time.Location {
	if loc == nil || loc.Timezone == "" {
		return s.defaultLoc
	}
	if v, ok := s.zones.Load(loc.Timezone); ok {
		if z, _ := v.(*time.Location); z != nil {
			return z
		}
		return s.defaultLoc
	}
	z, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		s.zones.Store(loc.Timezone, (*time.Location)(nil))
		return s.defaultLoc
	}
	s.zones.Store(loc.Timezone, z)
	return z
}

func normalizeCountry(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func clampScore(total float64) int {
	if math.IsNaN(total) || total <= 0 {
		return 0
	}
	if total >= 100 {
		return 100
	}
	return int(math.Round(total))
}
