package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/policy"
	"github.com/vigil-iam/vigil/backend/internal/risk"
)

var (
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrPolicyNameTaken = errors.New("a policy with this name already exists")
	ErrInvalidPolicy   = errors.New("invalid policy")
)

// PolicyFilter narrows policy listings.
type PolicyFilter struct {
	Status   string
	Type     string
	Category string
	Search   string
}

type PolicyService struct {
	db            *gorm.DB
	notifications *NotificationService
	audit         *AuditService
	publisher     events.Publisher
	now           func() time.Time
}

// NewPolicyService wires the policy store. notifications, audit and publisher may be nil.
func NewPolicyService(db *gorm.DB, notifications *NotificationService, audit *AuditService, publisher events.Publisher) *PolicyService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &PolicyService{db: db, notifications: notifications, audit: audit, publisher: publisher, now: time.Now}
}

func (s *PolicyService) List(f PolicyFilter) ([]models.AccessPolicy, error) {
	q := s.db.Order("priority desc").Order("name asc")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	var out []models.AccessPolicy
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PolicyService) Get(id string) (*models.AccessPolicy, error) {
	var p models.AccessPolicy
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PolicyService) nameTaken(name, exceptID string) (bool, error) {
	var count int64
	q := s.db.Model(&models.AccessPolicy{}).Where("name = ?", name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// Create validates and stores a new policy.
func (s *PolicyService) Create(ctx context.Context, p policy.Policy, actor string) (*models.AccessPolicy, error) {
	if p.Status == "" {
		p.Status = policy.StatusDraft
	}
	if err := policy.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if taken, err := s.nameTaken(p.Name, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrPolicyNameTaken
	}

	rec := &models.AccessPolicy{CreatedBy: actor, UpdatedBy: actor}
	if err := rec.ApplyPolicy(p); err != nil {
		return nil, err
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "create_policy", Resource: "policy", ResourceID: rec.ID,
		Details: map[string]any{"name": rec.Name, "status": rec.Status}})
	s.afterChange(ctx, rec)
	return rec, nil
}

// Update replaces a policy's definition and bumps its version.
func (s *PolicyService) Update(ctx context.Context, id string, p policy.Policy, actor string) (*models.AccessPolicy, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = policy.Status(rec.Status)
	}
	if err := policy.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if taken, err := s.nameTaken(p.Name, id); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrPolicyNameTaken
	}
	if err := rec.ApplyPolicy(p); err != nil {
		return nil, err
	}
	rec.Version++
	rec.UpdatedBy = actor
	if err := s.db.Save(rec).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "update_policy", Resource: "policy", ResourceID: rec.ID,
		Details: map[string]any{"name": rec.Name, "version": rec.Version}})
	s.afterChange(ctx, rec)
	return rec, nil
}

// SetStatus activates, disables or expires a policy.
func (s *PolicyService) SetStatus(ctx context.Context, id string, status policy.Status, actor string) (*models.AccessPolicy, error) {
	switch status {
	case policy.StatusDraft, policy.StatusActive, policy.StatusDisabled, policy.StatusExpired:
	default:
		return nil, policy.ErrInvalidStatus
	}
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	rec.Status = string(status)
	rec.UpdatedBy = actor
	if err := s.db.Model(rec).Updates(map[string]any{"status": rec.Status, "updated_by": actor}).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "policy_status", Resource: "policy", ResourceID: rec.ID,
		Details: map[string]any{"from": from, "to": rec.Status}})
	s.afterChange(ctx, rec)
	return rec, nil
}

func (s *PolicyService) Delete(id, actor string) error {
	res := s.db.Delete(&models.AccessPolicy{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPolicyNotFound
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "delete_policy", Resource: "policy", ResourceID: id, Level: AuditWarning})
	return nil
}

// Policies decodes every stored policy. Undecodable rows are skipped.
func (s *PolicyService) Policies() ([]policy.Policy, error) {
	var recs []models.AccessPolicy
	if err := s.db.Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]policy.Policy, 0, len(recs))
	for i := range recs {
		p, err := recs[i].ToPolicy()
		if err != nil {
			logger.Log().WithError(err).WithField("policy_id", recs[i].ID).Warn("skipping undecodable policy")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Conflicts detects conflicts among the stored policies in effect now.
func (s *PolicyService) Conflicts() ([]policy.Conflict, error) {
	policies, err := s.Policies()
	if err != nil {
		return nil, err
	}
	conflicts := policy.DetectConflicts(policies, s.now().UTC())
	counts := map[string]int{}
	for _, c := range conflicts {
		counts[string(c.Severity)]++
	}
	metrics.SetPolicyConflicts(counts)
	return conflicts, nil
}

// Simulate evaluates an access request against the stored policies.
func (s *PolicyService) Simulate(req policy.Request) (policy.SimulationResult, error) {
	policies, err := s.Policies()
	if err != nil {
		return policy.SimulationResult{}, err
	}
	if req.Context.Time.IsZero() {
		req.Context.Time = s.now().UTC()
	}
	return policy.Simulate(policies, req), nil
}

// afterChange announces critical and high conflicts an active policy takes part in.
func (s *PolicyService) afterChange(ctx context.Context, rec *models.AccessPolicy) {
	if rec.Status != string(policy.StatusActive) {
		return
	}
	conflicts, err := s.Conflicts()
	if err != nil {
		logger.Log().WithError(err).Warn("conflict detection failed")
		return
	}
	for _, c := range conflicts {
		if !c.Involves(rec.ID) || c.Severity.Rank() < risk.SeverityHigh.Rank() {
			continue
		}
		title := fmt.Sprintf("Policy conflict: %s", rec.Name)
		s.notifications.Notify(models.Notification{
			Type:              models.NotificationTypeSecurity,
			Title:             title,
			Description:       c.Description,
			Source:            "policy_engine",
			Severity:          string(c.Severity),
			RelatedEntityType: "policy",
			RelatedEntityID:   rec.ID,
			RelatedEntityName: rec.Name,
		}, map[string]any{"conflict_id": c.ID, "recommendation": c.Recommendation})
		if s.notifications != nil {
			s.notifications.SendExternal(CategoryPolicyConflict, string(c.Severity), title, c.Description)
		}
		evt := events.New(events.PolicyConflict, "", "", map[string]any{
			"conflict_id": c.ID,
			"severity":    string(c.Severity),
			"policy_id":   rec.ID,
		})
		if err := s.publisher.Publish(ctx, evt); err != nil {
			logger.Log().WithError(err).Debug("policy conflict event not delivered")
		}
	}
}
