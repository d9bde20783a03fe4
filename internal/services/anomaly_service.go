package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
)

var (
	ErrAnomalyNotFound   = errors.New("anomaly not found")
	ErrInvalidTransition = errors.New("invalid anomaly status transition")
)

var anomalyTransitions = map[risk.Status][]risk.Status{
	risk.StatusNew:           {risk.StatusInvestigating, risk.StatusResolved, risk.StatusFalsePositive},
	risk.StatusInvestigating: {risk.StatusResolved, risk.StatusFalsePositive},
}

// CanTransition reports whether an anomaly may move from one status to another.
func CanTransition(from, to risk.Status) bool {
	for _, s := range anomalyTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ScanResult summarizes one anomaly scan.
type ScanResult struct {
	Scanned  int           `json:"scanned"`
	Flagged  int           `json:"flagged"`
	New      int           `json:"new"`
	Duration time.Duration `json:"duration"`
}

// AnomalyStats counts anomalies by status, severity and type.
type AnomalyStats struct {
	Total      int            `json:"total"`
	Open       int            `json:"open"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	ByType     map[string]int `json:"by_type"`
	AvgScore   float64        `json:"avg_score"`
}

type AnomalyService struct {
	sessions      SessionRepository
	anomalies     AnomalyRepository
	classifier    *risk.Classifier
	notifications *NotificationService
	audit         *AuditService
	publisher     events.Publisher
	now           func() time.Time
}

// NewAnomalyService wires the detector. notifications, audit and publisher may be nil.
func NewAnomalyService(sessions SessionRepository, anomalies AnomalyRepository, classifier *risk.Classifier, notifications *NotificationService, audit *AuditService, publisher events.Publisher) *AnomalyService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &AnomalyService{
		sessions:      sessions,
		anomalies:     anomalies,
		classifier:    classifier,
		notifications: notifications,
		audit:         audit,
		publisher:     publisher,
		now:           time.Now,
	}
}

// Scan scores every active session, caches the score on the session and
// persists the anomalies that cross the flag threshold.
func (s *AnomalyService) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	now := s.now().UTC()
	sessions, err := s.sessions.ActiveSessions(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("load active sessions: %w", err)
	}

	scores := make(map[string]int, len(sessions))
	detected := make([]risk.Anomaly, 0)
	for _, sess := range sessions {
		rs := sess.ToRisk()
		a := s.classifier.Scorer().Score(rs, now)
		if a.Score != sess.RiskScore {
			scores[sess.ID] = a.Score
		}
		if anomaly := s.classifier.FromAssessment(rs, a, now); anomaly != nil {
			detected = append(detected, *anomaly)
		}
	}
	risk.SortByScore(detected)

	if len(scores) > 0 {
		if err := s.sessions.UpdateRiskScores(ctx, scores); err != nil {
			return ScanResult{}, fmt.Errorf("cache risk scores: %w", err)
		}
	}

	res := ScanResult{Scanned: len(sessions), Flagged: len(detected)}
	for _, d := range detected {
		rec := models.AnomalyFromRisk(d)
		created, err := s.anomalies.Upsert(ctx, &rec)
		if err != nil {
			return res, fmt.Errorf("store anomaly %s: %w", rec.ID, err)
		}
		if created {
			res.New++
			s.announce(ctx, rec)
		}
	}

	res.Duration = time.Since(start)
	metrics.AddSessionsScored(len(sessions))
	metrics.SetActiveSessions(len(sessions))
	metrics.ObserveScan(res.Duration.Seconds())
	if res.New > 0 {
		logger.Log().WithField("scanned", res.Scanned).WithField("new", res.New).Info("anomaly scan detected new anomalies")
	}
	return res, nil
}

func (s *AnomalyService) announce(ctx context.Context, a models.Anomaly) {
	metrics.IncAnomalyDetected(a.Type, a.Severity)
	title := fmt.Sprintf("Anomaly detected (%s)", a.Type)
	s.notifications.Notify(models.Notification{
		Type:              models.NotificationTypeRisk,
		Title:             title,
		Description:       a.Description,
		Source:            "anomaly_detector",
		Severity:          a.Severity,
		RelatedEntityType: "session",
		RelatedEntityID:   a.SessionID,
		RelatedEntityName: a.UserID,
	}, map[string]any{"anomaly_id": a.ID, "score": a.Score})
	if s.notifications != nil {
		s.notifications.SendExternal(CategoryAnomaly, a.Severity, title,
			fmt.Sprintf("User %s, score %d: %s", a.UserID, a.Score, a.Description))
	}
	evt := events.New(events.AnomalyDetected, a.SessionID, a.UserID, map[string]any{
		"anomaly_id": a.ID,
		"type":       a.Type,
		"severity":   a.Severity,
		"score":      a.Score,
	})
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.Log().WithError(err).Debug("anomaly event not delivered")
	}
}

// List returns anomalies ordered by score, highest first.
func (s *AnomalyService) List(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, error) {
	return s.anomalies.List(ctx, f)
}

func (s *AnomalyService) Get(ctx context.Context, id string) (*models.Anomaly, error) {
	return s.anomalies.Get(ctx, id)
}

// UpdateStatus moves an anomaly through its triage workflow.
func (s *AnomalyService) UpdateStatus(ctx context.Context, id string, to risk.Status, actor, note string) (*models.Anomaly, error) {
	a, err := s.anomalies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := risk.Status(a.Status)
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := s.anomalies.UpdateStatus(ctx, id, string(to), actor, note); err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{
		UserID:     actor,
		Action:     "anomaly_status",
		Resource:   "anomaly",
		ResourceID: id,
		Details:    map[string]any{"from": string(from), "to": string(to), "note": note},
	})
	return s.anomalies.Get(ctx, id)
}

// Stats aggregates every stored anomaly.
func (s *AnomalyService) Stats(ctx context.Context) (AnomalyStats, error) {
	all, err := s.anomalies.List(ctx, AnomalyFilter{})
	if err != nil {
		return AnomalyStats{}, err
	}
	st := AnomalyStats{
		Total:      len(all),
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
		ByType:     map[string]int{},
	}
	sum := 0
	for _, a := range all {
		st.ByStatus[a.Status]++
		st.BySeverity[a.Severity]++
		st.ByType[a.Type]++
		sum += a.Score
		if a.Status == string(risk.StatusNew) || a.Status == string(risk.StatusInvestigating) {
			st.Open++
		}
	}
	if len(all) > 0 {
		st.AvgScore = float64(sum) / float64(len(all))
	}
	return st, nil
}
