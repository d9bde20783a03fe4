package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrUnknownAction    = errors.New("unknown session action")
	ErrNoSessions       = errors.New("no session ids given")
	ErrSessionNoIP      = errors.New("session has no IP address")
	ErrSessionNoUser    = errors.New("user_id is required")
)

// Session actions.
const (
	ActionRevoke          = "revoke"
	ActionRevokeBlockIP   = "revoke_block_ip"
	ActionRequireMFA      = "require_mfa"
	ActionQuarantineIP    = "quarantine_ip"
	ActionFlagCompromised = "flag_compromised"
	ActionRequireReauth   = "require_reauth"
)

// DefaultBlockDuration applies to IP blocks requested without a duration.
const DefaultBlockDuration = 24 * time.Hour

// ValidSessionAction reports whether action is a known session action.
func ValidSessionAction(action string) bool {
	switch action {
	case ActionRevoke, ActionRevokeBlockIP, ActionRequireMFA, ActionQuarantineIP, ActionFlagCompromised, ActionRequireReauth:
		return true
	}
	return false
}

// SessionFilter narrows session listings. Empty fields do not filter.
type SessionFilter struct {
	Search       string
	Statuses     []string
	RiskLevels   []string
	MFAStatuses  []string
	Countries    []string
	DeviceTypes  []string
	UserID       string
	HasAnomalies *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// SessionPage is one page of sessions.
type SessionPage struct {
	Sessions []models.UserSession `json:"sessions"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ActionOptions tune a session action.
type ActionOptions struct {
	Reason        string
	Actor         string
	BlockDuration time.Duration
}

// BulkError reports a failed session in a bulk action.
type BulkError struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// BulkResult summarizes a bulk action.
type BulkResult struct {
	Success   bool        `json:"success"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors"`
}

// Distribution is a labelled count with its share of the total.
type Distribution struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// RiskyUser aggregates a user's active sessions.
type RiskyUser struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	RiskScore    int    `json:"risk_score"`
	SessionCount int    `json:"session_count"`
}

// SessionAnalytics is the dashboard summary over active sessions.
type SessionAnalytics struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	ActiveSessions     int            `json:"active_sessions"`
	UniqueUsers        int            `json:"unique_users"`
	HighRiskSessions   int            `json:"high_risk_sessions"`
	RevokedToday       int64          `json:"revoked_today"`
	GeoDistribution    []Distribution `json:"geo_distribution"`
	DeviceDistribution []Distribution `json:"device_distribution"`
	RiskDistribution   []Distribution `json:"risk_distribution"`
	AnomalyCounts      []Distribution `json:"anomaly_counts"`
	TopRiskyUsers      []RiskyUser    `json:"top_risky_users"`
}

var sessionSortColumns = map[string]string{
	"login_at":      "login_at",
	"last_activity": "last_activity",
	"risk_score":    "risk_score",
	"user_email":    "user_email",
	"country":       "location_country",
	"status":        "status",
}

type SessionService struct {
	db         *gorm.DB
	scorer     *risk.Scorer
	audit      *AuditService
	quarantine *QuarantineService
	publisher  events.Publisher
	now        func() time.Time
}

// NewSessionService wires the session store. quarantine and publisher may be nil.
func NewSessionService(db *gorm.DB, scorer *risk.Scorer, audit *AuditService, quarantine *QuarantineService, publisher events.Publisher) *SessionService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &SessionService{
		db:         db,
		scorer:     scorer,
		audit:      audit,
		quarantine: quarantine,
		publisher:  publisher,
		now:        time.Now,
	}
}

func sessionEventData(s *models.UserSession) map[string]any {
	return map[string]any{
		"status":     s.Status,
		"risk_score": s.RiskScore,
		"ip":         s.LocationIP,
		"country":    s.LocationCountry,
		"flags":      models.SplitList(s.Flags),
	}
}

func (s *SessionService) publish(ctx context.Context, eventType string, sess *models.UserSession) {
	evt := events.New(eventType, sess.ID, sess.UserID, sessionEventData(sess))
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.Log().WithError(err).WithField("session_id", sess.ID).Debug("session event not delivered")
	}
}

// Record creates a session or updates the one with the same session_id.
// Logins from quarantined addresses are rejected.
func (s *SessionService) Record(ctx context.Context, in *models.UserSession) (*models.UserSession, bool, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, false, ErrSessionNoUser
	}
	if s.quarantine != nil && in.LocationIP != "" {
		blocked, err := s.quarantine.IsQuarantined(ctx, in.LocationIP)
		if err != nil {
			return nil, false, err
		}
		if blocked {
			return nil, false, ErrIPQuarantined
		}
	}
	now := s.now().UTC()
	if in.LoginAt.IsZero() {
		in.LoginAt = now
	}
	if in.LastActivity.IsZero() {
		in.LastActivity = in.LoginAt
	}

	created := true
	if in.SessionID != "" {
		var existing models.UserSession
		err := s.db.Where("session_id = ?", in.SessionID).First(&existing).Error
		if err == nil {
			created = false
			in.ID = existing.ID
			in.CreatedAt = existing.CreatedAt
			// Revocation and suspension are console decisions the provider cannot undo.
			if in.Status == "" || existing.Status == models.SessionRevoked || existing.Status == models.SessionSuspended {
				in.Status = existing.Status
			}
			in.Flags = existing.Flags
			in.RevokedAt, in.RevokedBy, in.RevokeReason = existing.RevokedAt, existing.RevokedBy, existing.RevokeReason
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	in.RiskScore = s.scorer.Score(in.ToRisk(), now).Score
	if created {
		if err := s.db.Create(in).Error; err != nil {
			return nil, false, err
		}
		s.publish(ctx, events.SessionCreated, in)
	} else {
		if err := s.db.Save(in).Error; err != nil {
			return nil, false, err
		}
		s.publish(ctx, events.SessionUpdated, in)
	}
	metrics.AddSessionsScored(1)
	return in, created, nil
}

// Get looks a session up by row id or by provider session id.
func (s *SessionService) Get(id string) (*models.UserSession, error) {
	var sess models.UserSession
	if err := s.db.Where("id = ? OR session_id = ?", id, id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Risk scores the session now.
func (s *SessionService) Risk(id string) (risk.Assessment, error) {
	sess, err := s.Get(id)
	if err != nil {
		return risk.Assessment{}, err
	}
	return s.scorer.Score(sess.ToRisk(), s.now()), nil
}

func (s *SessionService) riskRange(level string) (int, int, bool) {
	tiers := s.scorer.Config().Tiers
	switch risk.Severity(strings.ToLower(level)) {
	case risk.SeverityLow:
		return 0, tiers.Medium - 1, true
	case risk.SeverityMedium:
		return tiers.Medium, tiers.High - 1, true
	case risk.SeverityHigh:
		return tiers.High, tiers.Critical - 1, true
	case risk.SeverityCritical:
		return tiers.Critical, 100, true
	}
	return 0, 0, false
}

// List returns a filtered, sorted page of sessions.
func (s *SessionService) List(f SessionFilter) (SessionPage, error) {
	q := s.db.Model(&models.UserSession{})
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(user_email) LIKE ? OR LOWER(user_name) LIKE ? OR location_ip LIKE ? OR LOWER(device_fingerprint) LIKE ? OR user_id = ?)",
			like, like, like, like, term)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.MFAStatuses) > 0 {
		q = q.Where("mfa_status IN ?", f.MFAStatuses)
	}
	if len(f.Countries) > 0 {
		q = q.Where("(location_country IN ? OR location_country_code IN ?)", f.Countries, f.Countries)
	}
	if len(f.DeviceTypes) > 0 {
		q = q.Where("device_type IN ?", f.DeviceTypes)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.RiskLevels) > 0 {
		cond := s.db.Where("1 = 0")
		for _, lvl := range f.RiskLevels {
			if lo, hi, ok := s.riskRange(lvl); ok {
				cond = cond.Or("risk_score BETWEEN ? AND ?", lo, hi)
			}
		}
		q = q.Where(cond)
	}
	if f.HasAnomalies != nil {
		sub := s.db.Model(&models.Anomaly{}).Select("session_id")
		if *f.HasAnomalies {
			q = q.Where("id IN (?)", sub)
		} else {
			q = q.Where("id NOT IN (?)", sub)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return SessionPage{}, err
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	col, ok := sessionSortColumns[f.SortBy]
	if !ok {
		col = "login_at"
	}
	dir := "desc"
	if strings.EqualFold(f.SortOrder, "asc") {
		dir = "asc"
	}

	var sessions []models.UserSession
	err := q.Order(fmt.Sprintf("%s %s", col, dir)).Order("id asc").
		Offset((page - 1) * size).Limit(size).Find(&sessions).Error
	if err != nil {
		return SessionPage{}, err
	}
	return SessionPage{Sessions: sessions, Total: total, Page: page, PageSize: size}, nil
}

// Touch records activity on an active session.
func (s *SessionService) Touch(ctx context.Context, id string, at time.Time) (*models.UserSession, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionActive {
		return nil, ErrSessionNotActive
	}
	if at.IsZero() {
		at = s.now()
	}
	sess.LastActivity = at.UTC()
	if err := s.db.Model(sess).Update("last_activity", sess.LastActivity).Error; err != nil {
		return nil, err
	}
	s.publish(ctx, events.SessionUpdated, sess)
	return sess, nil
}

// Act applies a monitoring action to one session.
func (s *SessionService) Act(ctx context.Context, id, action string, opts ActionOptions) (*models.UserSession, error) {
	sess, err := s.act(ctx, id, action, opts)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if ValidSessionAction(action) {
		metrics.IncSessionAction(action, outcome)
	}
	return sess, err
}

func (s *SessionService) act(ctx context.Context, id, action string, opts ActionOptions) (*models.UserSession, error) {
	if !ValidSessionAction(action) {
		return nil, ErrUnknownAction
	}
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	eventType := events.SessionUpdated
	level := AuditInfo
	switch action {
	case ActionRevoke, ActionRevokeBlockIP:
		if sess.Status == models.SessionRevoked {
			return nil, ErrSessionNotActive
		}
		if action == ActionRevokeBlockIP {
			if err := s.blockIP(ctx, sess, opts); err != nil {
				return nil, err
			}
		}
		now := s.now().UTC()
		sess.Status = models.SessionRevoked
		sess.RevokedAt = &now
		sess.RevokedBy = opts.Actor
		sess.RevokeReason = opts.Reason
		eventType = events.SessionRevoked
		level = AuditWarning
	case ActionQuarantineIP:
		if err := s.blockIP(ctx, sess, opts); err != nil {
			return nil, err
		}
		level = AuditWarning
	case ActionRequireMFA:
		sess.AddFlag(models.FlagRequireMFA)
	case ActionRequireReauth:
		sess.AddFlag(models.FlagRequireReauth)
	case ActionFlagCompromised:
		sess.AddFlag(models.FlagCompromised)
		sess.Status = models.SessionSuspended
		level = AuditCritical
	}

	if err := s.db.Save(sess).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{
		UserID:     opts.Actor,
		Action:     action,
		Resource:   "session",
		ResourceID: sess.ID,
		Details:    map[string]any{"reason": opts.Reason, "user_id": sess.UserID, "ip": sess.LocationIP},
		Level:      level,
	})
	s.publish(ctx, eventType, sess)
	logger.Log().WithField("session_id", sess.ID).WithField("action", action).Info("session action applied")
	return sess, nil
}

func (s *SessionService) blockIP(ctx context.Context, sess *models.UserSession, opts ActionOptions) error {
	if sess.LocationIP == "" {
		return ErrSessionNoIP
	}
	if s.quarantine == nil {
		return errors.New("ip quarantine is not available")
	}
	d := opts.BlockDuration
	if d <= 0 {
		d = DefaultBlockDuration
	}
	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("blocked from session %s", sess.ID)
	}
	_, err := s.quarantine.Quarantine(ctx, QuarantineRequest{
		IP:       sess.LocationIP,
		Reason:   reason,
		Source:   QuarantineSessionAction,
		Actor:    opts.Actor,
		Duration: d,
	})
	return err
}

// Bulk applies an action to many sessions and reports failures per session.
func (s *SessionService) Bulk(ctx context.Context, action string, ids []string, opts ActionOptions) (BulkResult, error) {
	if !ValidSessionAction(action) {
		return BulkResult{}, ErrUnknownAction
	}
	if len(ids) == 0 {
		return BulkResult{}, ErrNoSessions
	}
	res := BulkResult{Errors: []BulkError{}}
	for _, id := range ids {
		if _, err := s.Act(ctx, id, action, opts); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{SessionID: id, Error: err.Error()})
			continue
		}
		res.Processed++
	}
	res.Success = res.Failed == 0
	return res, nil
}

// ExpireIdle expires active sessions past their expiry time or idle for
// longer than idle.
func (s *SessionService) ExpireIdle(ctx context.Context, now time.Time, idle time.Duration) (int, error) {
	q := s.db.Where("status = ?", models.SessionActive)
	if idle > 0 {
		q = q.Where("((expires_at IS NOT NULL AND expires_at <= ?) OR last_activity <= ?)", now, now.Add(-idle))
	} else {
		q = q.Where("expires_at IS NOT NULL AND expires_at <= ?", now)
	}
	var stale []models.UserSession
	if err := q.Find(&stale).Error; err != nil {
		return 0, err
	}
	for i := range stale {
		sess := &stale[i]
		sess.Status = models.SessionExpired
		if err := s.db.Model(sess).Update("status", models.SessionExpired).Error; err != nil {
			return i, err
		}
		s.publish(ctx, events.SessionExpired, sess)
	}
	if len(stale) > 0 {
		logger.Log().WithField("count", len(stale)).Info("expired idle sessions")
	}
	return len(stale), nil
}

func distribution(counts map[string]int, total int) []Distribution {
	out := make([]Distribution, 0, len(counts))
	for label, n := range counts {
		pct := 0.0
		if total > 0 {
			pct = float64(n) * 100 / float64(total)
		}
		out = append(out, Distribution{Label: label, Count: n, Percentage: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Analytics summarizes active sessions.
func (s *SessionService) Analytics(now time.Time) (SessionAnalytics, error) {
	var active []models.UserSession
	if err := s.db.Where("status = ?", models.SessionActive).Find(&active).Error; err != nil {
		return SessionAnalytics{}, err
	}
	cfg := s.scorer.Config()
	out := SessionAnalytics{GeneratedAt: now.UTC(), ActiveSessions: len(active)}

	geo := map[string]int{}
	devices := map[string]int{}
	levels := map[string]int{}
	users := map[string]*RiskyUser{}
	for _, sess := range active {
		country := sess.LocationCountry
		if country == "" {
			country = "unknown"
		}
		geo[country]++
		device := sess.DeviceType
		if device == "" {
			device = "unknown"
		}
		devices[device]++
		sev := cfg.SeverityFor(sess.RiskScore)
		levels[string(sev)]++
		if sev.Rank() >= risk.SeverityHigh.Rank() {
			out.HighRiskSessions++
		}

		u, ok := users[sess.UserID]
		if !ok {
			u = &RiskyUser{UserID: sess.UserID, Email: sess.UserEmail, Name: sess.UserName}
			users[sess.UserID] = u
		}
		u.SessionCount++
		if sess.RiskScore > u.RiskScore {
			u.RiskScore = sess.RiskScore
		}
	}
	out.UniqueUsers = len(users)
	out.GeoDistribution = distribution(geo, len(active))
	out.DeviceDistribution = distribution(devices, len(active))
	out.RiskDistribution = distribution(levels, len(active))

	top := make([]RiskyUser, 0, len(users))
	for _, u := range users {
		if u.RiskScore > 0 {
			top = append(top, *u)
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].RiskScore != top[j].RiskScore {
			return top[i].RiskScore > top[j].RiskScore
		}
		return top[i].UserID < top[j].UserID
	})
	if len(top) > 10 {
		top = top[:10]
	}
	out.TopRiskyUsers = top

	y, m, d := now.UTC().Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if err := s.db.Model(&models.UserSession{}).
		Where("status = ? AND revoked_at >= ?", models.SessionRevoked, startOfDay).
		Count(&out.RevokedToday).Error; err != nil {
		return SessionAnalytics{}, err
	}

	type typeCount struct {
		Type  string
		Count int
	}
	var rows []typeCount
	if err := s.db.Model(&models.Anomaly{}).Select("type, COUNT(*) as count").
		Where("status IN ?", []string{string(risk.StatusNew), string(risk.StatusInvestigating)}).
		Group("type").Scan(&rows).Error; err != nil {
		return SessionAnalytics{}, err
	}
	anomalyCounts := map[string]int{}
	total := 0
	for _, r := range rows {
		anomalyCounts[r.Type] = r.Count
		total += r.Count
	}
	out.AnomalyCounts = distribution(anomalyCounts, total)
	return out, nil
}
