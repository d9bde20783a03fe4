package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/models"
)

var (
	ErrMonitorNotFound  = errors.New("monitor not found")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrInvalidIncident  = errors.New("invalid incident status")
	ErrInvalidMonitor   = errors.New("monitor needs a name, a check of http, tcp or database, and a target")
)

const checkTimeout = 10 * time.Second

// CheckResult is the outcome of one monitor check.
type CheckResult struct {
	MonitorID string `json:"monitor_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Previous  string `json:"previous"`
	Latency   int64  `json:"latency"`
	Message   string `json:"message"`
}

// HealthOverview summarizes every monitor.
type HealthOverview struct {
	Status        string                  `json:"status"`
	Total         int                     `json:"total"`
	ByStatus      map[string]int          `json:"by_status"`
	OpenIncidents int64                   `json:"open_incidents"`
	Services      []models.ServiceMonitor `json:"services"`
	CheckedAt     time.Time               `json:"checked_at"`
}

type HealthService struct {
	DB                  *gorm.DB
	NotificationService *NotificationService
	publisher           events.Publisher
	client              *http.Client
}

func NewHealthService(db *gorm.DB, ns *NotificationService, publisher events.Publisher) *HealthService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &HealthService{
		DB:                  db,
		NotificationService: ns,
		publisher:           publisher,
		client:              &http.Client{Timeout: checkTimeout},
	}
}

func validateMonitor(m *models.ServiceMonitor) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return ErrInvalidMonitor
	}
	switch m.Check {
	case "http", "tcp":
		if strings.TrimSpace(m.URL) == "" {
			return ErrInvalidMonitor
		}
	case "database":
	default:
		return ErrInvalidMonitor
	}
	if m.MaxRetries < 0 || m.LatencyWarnMS < 0 {
		return ErrInvalidMonitor
	}
	return nil
}

// Monitors CRUD

func (s *HealthService) ListMonitors() ([]models.ServiceMonitor, error) {
	var monitors []models.ServiceMonitor
	result := s.DB.Order("name ASC").Find(&monitors)
	return monitors, result.Error
}

func (s *HealthService) GetMonitor(id string) (*models.ServiceMonitor, error) {
	var m models.ServiceMonitor
	if err := s.DB.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMonitorNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *HealthService) CreateMonitor(m *models.ServiceMonitor) error {
	if err := validateMonitor(m); err != nil {
		return err
	}
	return s.DB.Create(m).Error
}

func (s *HealthService) UpdateMonitor(id string, in models.ServiceMonitor) (*models.ServiceMonitor, error) {
	m, err := s.GetMonitor(id)
	if err != nil {
		return nil, err
	}
	m.Name, m.Type, m.Check, m.URL = in.Name, in.Type, in.Check, in.URL
	m.Interval, m.Enabled = in.Interval, in.Enabled
	if in.MaxRetries > 0 {
		m.MaxRetries = in.MaxRetries
	}
	if in.LatencyWarnMS > 0 {
		m.LatencyWarnMS = in.LatencyWarnMS
	}
	if err := validateMonitor(m); err != nil {
		return nil, err
	}
	if err := s.DB.Save(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (s *HealthService) DeleteMonitor(id string) error {
	res := s.DB.Delete(&models.ServiceMonitor{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMonitorNotFound
	}
	return s.DB.Where("monitor_id = ?", id).Delete(&models.ServiceHeartbeat{}).Error
}

func (s *HealthService) GetMonitorHistory(id string, limit int) ([]models.ServiceHeartbeat, error) {
	if limit <= 0 {
		limit = 50
	}
	var heartbeats []models.ServiceHeartbeat
	result := s.DB.Where("monitor_id = ?", id).Order("created_at desc").Limit(limit).Find(&heartbeats)
	return heartbeats, result.Error
}

// Checks

// CheckAll checks every enabled monitor concurrently and waits for the results.
func (s *HealthService) CheckAll(ctx context.Context) ([]CheckResult, error) {
	var monitors []models.ServiceMonitor
	if err := s.DB.Where("enabled = ?", true).Find(&monitors).Error; err != nil {
		return nil, fmt.Errorf("fetch monitors: %w", err)
	}

	results := make([]CheckResult, len(monitors))
	var wg sync.WaitGroup
	for i := range monitors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.CheckMonitor(ctx, monitors[i])
		}(i)
	}
	wg.Wait()
	return results, nil
}

func (s *HealthService) probe(ctx context.Context, m models.ServiceMonitor) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	switch m.Check {
	case "http":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
		if err != nil {
			return false, err.Error()
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return false, err.Error()
		}
		defer resp.Body.Close()
		// 401/403 mean the service is up but protected
		ok := (resp.StatusCode >= 200 && resp.StatusCode < 400) || resp.StatusCode == 401 || resp.StatusCode == 403
		return ok, fmt.Sprintf("HTTP %d", resp.StatusCode)
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", m.URL)
		if err != nil {
			return false, err.Error()
		}
		conn.Close()
		return true, "Connection successful"
	case "database":
		sqlDB, err := s.DB.DB()
		if err != nil {
			return false, err.Error()
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return false, err.Error()
		}
		return true, "Ping successful"
	}
	return false, "Unknown check type"
}

// CheckMonitor runs one check, records a heartbeat and applies the status
// transition.
func (s *HealthService) CheckMonitor(ctx context.Context, monitor models.ServiceMonitor) CheckResult {
	start := time.Now()
	success, msg := s.probe(ctx, monitor)
	latency := time.Since(start).Milliseconds()

	status := models.HealthHealthy
	if success {
		monitor.FailureCount = 0
		if monitor.LatencyWarnMS > 0 && latency > monitor.LatencyWarnMS {
			status = models.HealthWarning
			msg = fmt.Sprintf("%s (slow: %dms)", msg, latency)
		}
	} else {
		monitor.FailureCount++
		retries := monitor.MaxRetries
		if retries <= 0 {
			retries = 1
		}
		status = models.HealthWarning
		if monitor.FailureCount >= retries {
			status = models.HealthCritical
		}
	}

	heartbeat := models.ServiceHeartbeat{
		MonitorID: monitor.ID,
		Status:    status,
		Latency:   latency,
		Message:   msg,
	}
	if err := s.DB.Create(&heartbeat).Error; err != nil {
		logger.Log().WithError(err).WithField("monitor", monitor.Name).Warn("failed to record heartbeat")
	}

	oldStatus := monitor.Status
	now := time.Now()
	monitor.Status = status
	monitor.LastCheck = now
	monitor.Latency = latency
	if oldStatus != status {
		monitor.LastStatusChange = now
	}
	if err := s.DB.Save(&monitor).Error; err != nil {
		logger.Log().WithError(err).WithField("monitor", monitor.Name).Warn("failed to update monitor")
	}

	if oldStatus != status {
		s.onTransition(ctx, monitor, oldStatus, msg)
	}
	return CheckResult{
		MonitorID: monitor.ID,
		Name:      monitor.Name,
		Status:    status,
		Previous:  oldStatus,
		Latency:   latency,
		Message:   msg,
	}
}

func (s *HealthService) onTransition(ctx context.Context, monitor models.ServiceMonitor, oldStatus, msg string) {
	switch {
	case monitor.Status == models.HealthCritical:
		s.openIncident(monitor, msg)
	case oldStatus == models.HealthCritical:
		s.resolveIncidents(monitor.ID)
	}

	evt := events.New(events.HealthChanged, "", "", map[string]any{
		"monitor_id": monitor.ID,
		"name":       monitor.Name,
		"from":       oldStatus,
		"to":         monitor.Status,
	})
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.Log().WithError(err).Debug("health event not delivered")
	}

	// First check of a healthy service is not news.
	if oldStatus == models.HealthUnknown && monitor.Status == models.HealthHealthy {
		return
	}
	title := fmt.Sprintf("Service %s is %s", monitor.Name, monitor.Status)
	severity := "low"
	switch monitor.Status {
	case models.HealthCritical:
		severity = "critical"
	case models.HealthWarning:
		severity = "medium"
	}
	s.NotificationService.Notify(models.Notification{
		Type:              models.NotificationTypeSystem,
		Title:             title,
		Description:       fmt.Sprintf("Service %s changed status from %s to %s. Latency: %dms. Message: %s", monitor.Name, oldStatus, monitor.Status, monitor.Latency, msg),
		Source:            "health_monitor",
		Severity:          severity,
		RelatedEntityType: "service",
		RelatedEntityID:   monitor.ID,
		RelatedEntityName: monitor.Name,
	}, nil)
	if s.NotificationService != nil {
		s.NotificationService.SendExternal(CategoryHealth, severity, title, msg)
	}
}

func (s *HealthService) openIncident(monitor models.ServiceMonitor, msg string) {
	var open int64
	s.DB.Model(&models.HealthIncident{}).
		Where("service_id = ? AND status IN ?", monitor.ID, []string{models.IncidentOpen, models.IncidentInvestigating}).
		Count(&open)
	if open > 0 {
		return
	}
	incident := models.HealthIncident{
		Title:     fmt.Sprintf("%s is unavailable", monitor.Name),
		ServiceID: monitor.ID,
		Severity:  "critical",
		Details:   msg,
		OpenedAt:  time.Now().UTC(),
	}
	if err := s.DB.Create(&incident).Error; err != nil {
		logger.Log().WithError(err).WithField("monitor", monitor.Name).Error("failed to open incident")
	}
}

func (s *HealthService) resolveIncidents(serviceID string) {
	now := time.Now().UTC()
	err := s.DB.Model(&models.HealthIncident{}).
		Where("service_id = ? AND status IN ?", serviceID, []string{models.IncidentOpen, models.IncidentInvestigating}).
		Updates(map[string]any{"status": models.IncidentResolved, "resolved_at": &now}).Error
	if err != nil {
		logger.Log().WithError(err).WithField("service_id", serviceID).Error("failed to resolve incidents")
	}
}

// Incidents

func (s *HealthService) ListIncidents(status string) ([]models.HealthIncident, error) {
	var out []models.HealthIncident
	q := s.DB.Order("opened_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&out).Error
	return out, err
}

// UpdateIncident sets an incident's status.
func (s *HealthService) UpdateIncident(id, status string) (*models.HealthIncident, error) {
	switch status {
	case models.IncidentOpen, models.IncidentInvestigating, models.IncidentResolved, models.IncidentClosed:
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidIncident, status)
	}
	var inc models.HealthIncident
	if err := s.DB.First(&inc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIncidentNotFound
		}
		return nil, err
	}
	inc.Status = status
	if status == models.IncidentResolved || status == models.IncidentClosed {
		if inc.ResolvedAt == nil {
			now := time.Now().UTC()
			inc.ResolvedAt = &now
		}
	}
	if err := s.DB.Save(&inc).Error; err != nil {
		return nil, err
	}
	return &inc, nil
}

var healthRank = map[string]int{
	models.HealthUnknown:  0,
	models.HealthHealthy:  1,
	models.HealthWarning:  2,
	models.HealthCritical: 3,
}

// Overview reports the worst status across enabled monitors.
func (s *HealthService) Overview() (HealthOverview, error) {
	monitors, err := s.ListMonitors()
	if err != nil {
		return HealthOverview{}, err
	}
	out := HealthOverview{
		Status:    models.HealthUnknown,
		ByStatus:  map[string]int{},
		Services:  monitors,
		CheckedAt: time.Now().UTC(),
	}
	for _, m := range monitors {
		if !m.Enabled {
			continue
		}
		out.Total++
		out.ByStatus[m.Status]++
		if healthRank[m.Status] > healthRank[out.Status] {
			out.Status = m.Status
		}
	}
	err = s.DB.Model(&models.HealthIncident{}).
		Where("status IN ?", []string{models.IncidentOpen, models.IncidentInvestigating}).
		Count(&out.OpenIncidents).Error
	return out, err
}
