package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/containrrr/shoutrrr"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrProviderNotFound     = errors.New("notification provider not found")
	ErrInvalidProviderURL   = errors.New("invalid notification provider url")
	ErrInvalidMinSeverity   = errors.New("unknown min_severity")
)

// External notification categories matched against provider preferences.
const (
	CategoryAnomaly        = "anomaly"
	CategoryPolicyConflict = "policy_conflict"
	CategoryHealth         = "health"
	CategorySession        = "session"
	CategoryTest           = "test"
)

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	Type       string
	Severity   string
	Status     string
	Source     string
	UnreadOnly bool
	Limit      int
}

type NotificationService struct {
	DB *gorm.DB
	// send delivers a message to a shoutrrr URL.
	send func(url, message string) error
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{DB: db, send: shoutrrr.Send}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
		}
	}
	return rawURL
}

// Internal notifications (DB)

// Create stores an in-app notification.
func (s *NotificationService) Create(n *models.Notification) error {
	if n.Severity == "" {
		n.Severity = "info"
	}
	return s.DB.Create(n).Error
}

// Notify stores n with optional metadata. Failures are logged so callers
// raising notifications as a side effect are never failed by them.
func (s *NotificationService) Notify(n models.Notification, metadata map[string]any) {
	if s == nil {
		return
	}
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			n.Metadata = datatypes.JSON(b)
		}
	}
	if err := s.Create(&n); err != nil {
		logger.Log().WithError(err).WithField("source", n.Source).Warn("failed to store notification")
	}
}

func (s *NotificationService) List(f NotificationFilter) ([]models.Notification, error) {
	var notifications []models.Notification
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.DB.Order("created_at desc").Limit(limit)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	switch {
	case f.UnreadOnly:
		query = query.Where("status = ?", models.NotificationUnread)
	case f.Status != "":
		query = query.Where("status = ?", f.Status)
	default:
		query = query.Where("status <> ?", models.NotificationArchived)
	}
	result := query.Find(&notifications)
	return notifications, result.Error
}

func (s *NotificationService) UnreadCount() (int64, error) {
	var count int64
	err := s.DB.Model(&models.Notification{}).Where("status = ?", models.NotificationUnread).Count(&count).Error
	return count, err
}

func (s *NotificationService) MarkAsRead(id string) error {
	now := time.Now()
	res := s.DB.Model(&models.Notification{}).Where("id = ?", id).
		Updates(map[string]any{"status": models.NotificationRead, "read_at": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) MarkAllAsRead() error {
	now := time.Now()
	return s.DB.Model(&models.Notification{}).Where("status = ?", models.NotificationUnread).
		Updates(map[string]any{"status": models.NotificationRead, "read_at": &now}).Error
}

func (s *NotificationService) Archive(id string) error {
	now := time.Now()
	res := s.DB.Model(&models.Notification{}).Where("id = ?", id).
		Updates(map[string]any{"status": models.NotificationArchived, "archived_at": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) Delete(id string) error {
	res := s.DB.Delete(&models.Notification{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// External notifications (shoutrrr)

func providerWants(p models.NotificationProvider, category string) bool {
	switch category {
	case CategoryAnomaly:
		return p.NotifyAnomalies
	case CategoryPolicyConflict:
		return p.NotifyPolicyConflicts
	case CategoryHealth:
		return p.NotifyHealth
	case CategorySession:
		return p.NotifySessions
	default:
		return true
	}
}

func meetsSeverity(minSeverity, severity string) bool {
	minRank := risk.Severity(strings.ToLower(minSeverity)).Rank()
	if minRank == 0 {
		return true
	}
	return risk.Severity(strings.ToLower(severity)).Rank() >= minRank
}

// SendExternal dispatches a message to every enabled provider subscribed to
// the category whose minimum severity is met. Delivery runs on goroutines;
// the number of dispatched providers is returned.
func (s *NotificationService) SendExternal(category, severity, title, message string) int {
	var providers []models.NotificationProvider
	if err := s.DB.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Log().WithError(err).Error("Failed to fetch notification providers")
		return 0
	}

	dispatched := 0
	for _, provider := range providers {
		if !providerWants(provider, category) || !meetsSeverity(provider.MinSeverity, severity) {
			continue
		}
		dispatched++
		go func(p models.NotificationProvider) {
			url := normalizeURL(p.Type, p.URL)
			if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
				if _, err := validateWebhookURL(url); err != nil {
					logger.Log().WithField("provider", p.Name).Warn("Skipping notification due to invalid destination")
					metrics.IncNotificationSent("error")
					return
				}
			}
			msg := fmt.Sprintf("%s\n\n%s", title, message)
			if err := s.send(url, msg); err != nil {
				logger.Log().WithError(err).WithField("provider", p.Name).Warn("Failed to send notification")
				metrics.IncNotificationSent("error")
				return
			}
			metrics.IncNotificationSent("success")
		}(provider)
	}
	return dispatched
}

// isPrivateIP returns true for RFC1918, loopback and link-local addresses.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() {
		return true
	}
	return false
}

// validateWebhookURL parses http(s) destinations and ensures the resolved
// addresses are not private.
func validateWebhookURL(raw string) (*neturl.URL, error) {
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}

	// Allow explicit loopback/localhost addresses for local tests.
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return u, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("disallowed host IP: %s", ip.String())
		}
	}
	return u, nil
}

// TestProvider sends a synchronous test message.
func (s *NotificationService) TestProvider(provider models.NotificationProvider) error {
	url := normalizeURL(provider.Type, provider.URL)
	return s.send(url, "Test notification from Vigil")
}

// Provider management

func validateProvider(p *models.NotificationProvider) error {
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" || !strings.Contains(normalizeURL(p.Type, p.URL), "://") {
		return ErrInvalidProviderURL
	}
	if p.MinSeverity != "" && risk.Severity(strings.ToLower(p.MinSeverity)).Rank() == 0 {
		return fmt.Errorf("%w %q", ErrInvalidMinSeverity, p.MinSeverity)
	}
	return nil
}

func (s *NotificationService) ListProviders() ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	result := s.DB.Order("name asc").Find(&providers)
	return providers, result.Error
}

func (s *NotificationService) GetProvider(id string) (*models.NotificationProvider, error) {
	var p models.NotificationProvider
	if err := s.DB.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *NotificationService) CreateProvider(provider *models.NotificationProvider) error {
	if err := validateProvider(provider); err != nil {
		return err
	}
	return s.DB.Create(provider).Error
}

func (s *NotificationService) UpdateProvider(provider *models.NotificationProvider) error {
	if err := validateProvider(provider); err != nil {
		return err
	}
	return s.DB.Save(provider).Error
}

func (s *NotificationService) DeleteProvider(id string) error {
	res := s.DB.Delete(&models.NotificationProvider{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}
