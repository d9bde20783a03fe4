package risk

import (
	"sort"
	"strings"
	"time"
)

// AnomalyIDPrefix prefixes the session row id to form a stable anomaly id.
const AnomalyIDPrefix = "anomaly-"

// Classifier turns scored sessions into anomalies.
type Classifier struct {
	cfg    Config
	scorer *Scorer
}

// NewClassifier builds a Classifier and the Scorer it uses.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg, scorer: NewScorer(cfg)}
}

// Scorer exposes the underlying scorer.
func (c *Classifier) Scorer() *Scorer {
	return c.scorer
}

// Classify returns nil when the session's score stays below the flag threshold.
func (c *Classifier) Classify(sess Session, now time.Time) *Anomaly {
	a := c.scorer.Score(sess, now)
	return c.FromAssessment(sess, a, now)
}

// FromAssessment classifies an already computed assessment.
func (c *Classifier) FromAssessment(sess Session, a Assessment, now time.Time) *Anomaly {
	if a.Score < c.cfg.FlagThreshold {
		return nil
	}

	descs := make([]string, 0, len(a.Factors))
	for _, f := range a.Factors {
		descs = append(descs, f.Description)
	}

	return &Anomaly{
		ID:          AnomalyIDPrefix + sess.ID,
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		Type:        c.typeFor(a),
		Severity:    c.cfg.SeverityFor(a.Score),
		Score:       a.Score,
		Description: strings.Join(descs, ", "),
		Factors:     a.Factors,
		Status:      StatusNew,
		DetectedAt:  now,
	}
}

func (c *Classifier) typeFor(a Assessment) AnomalyType {
	for _, p := range c.cfg.Precedence {
		if a.Has(p) {
			if t, ok := anomalyTypeFor[p]; ok {
				return t
			}
		}
	}
	return AnomalyBehaviorAnomaly
}

// Detect classifies every session and returns the flagged ones, highest
// score first. Sessions with equal scores keep their input order.
func (c *Classifier) Detect(sessions []Session, now time.Time) []Anomaly {
	out := make([]Anomaly, 0)
	for _, s := range sessions {
		if a := c.Classify(s, now); a != nil {
			out = append(out, *a)
		}
	}
	SortByScore(out)
	return out
}

// SortByScore orders anomalies by score descending, stable on ties.
func SortByScore(anomalies []Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Score > anomalies[j].Score
	})
}
