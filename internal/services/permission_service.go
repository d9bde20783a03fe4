package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/policy"
)

var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrPermissionExists   = errors.New("permission for this resource and action already exists")
	ErrInvalidPermission  = errors.New("resource and action are required")
	ErrInvalidConditions  = errors.New("conditions must be a JSON object")
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleExists         = errors.New("role already exists")
	ErrRoleNameRequired   = errors.New("role name is required")
)

// Wildcard matches any resource or action.
const Wildcard = "*"

type PermissionService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewPermissionService(db *gorm.DB, audit *AuditService) *PermissionService {
	return &PermissionService{db: db, audit: audit}
}

func validatePermission(p *models.Permission) error {
	p.Resource = strings.TrimSpace(p.Resource)
	p.Action = strings.TrimSpace(p.Action)
	if p.Resource == "" || p.Action == "" {
		return ErrInvalidPermission
	}
	if p.Conditions == nil || strings.TrimSpace(*p.Conditions) == "" {
		p.Conditions = nil
		return nil
	}
	cond := p.ConditionMap()
	if cond == nil {
		return ErrInvalidConditions
	}
	if expr, ok := cond[policy.CustomExpressionKey].(string); ok {
		if _, err := policy.CompileExpression(expr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConditions, err)
		}
	}
	return nil
}

func (s *PermissionService) exists(resource, action, exceptID string) (bool, error) {
	var count int64
	q := s.db.Model(&models.Permission{}).Where("resource = ? AND action = ?", resource, action)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// Permissions

func (s *PermissionService) ListPermissions(resource string) ([]models.Permission, error) {
	var out []models.Permission
	q := s.db.Order("resource asc").Order("action asc")
	if resource != "" {
		q = q.Where("resource = ?", resource)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *PermissionService) GetPermission(id string) (*models.Permission, error) {
	var p models.Permission
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermissionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PermissionService) CreatePermission(p *models.Permission, actor string) error {
	if err := validatePermission(p); err != nil {
		return err
	}
	if dup, err := s.exists(p.Resource, p.Action, ""); err != nil {
		return err
	} else if dup {
		return ErrPermissionExists
	}
	if err := s.db.Create(p).Error; err != nil {
		return err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "create_permission", Resource: "permission", ResourceID: p.ID,
		Details: map[string]any{"permission": p.PermissionString()}})
	return nil
}

func (s *PermissionService) UpdatePermission(id string, in models.Permission, actor string) (*models.Permission, error) {
	p, err := s.GetPermission(id)
	if err != nil {
		return nil, err
	}
	p.Resource, p.Action, p.Conditions, p.Description = in.Resource, in.Action, in.Conditions, in.Description
	if err := validatePermission(p); err != nil {
		return nil, err
	}
	if dup, err := s.exists(p.Resource, p.Action, id); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrPermissionExists
	}
	if err := s.db.Save(p).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "update_permission", Resource: "permission", ResourceID: p.ID,
		Details: map[string]any{"permission": p.PermissionString()}})
	return p, nil
}

func (s *PermissionService) DeletePermission(id, actor string) error {
	p, err := s.GetPermission(id)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM role_permissions WHERE permission_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(p).Error
	})
	if err != nil {
		return err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "delete_permission", Resource: "permission", ResourceID: id, Level: AuditWarning})
	return nil
}

// Roles

func (s *PermissionService) ListRoles() ([]models.Role, error) {
	var out []models.Role
	err := s.db.Preload("Permissions").Order("name asc").Find(&out).Error
	return out, err
}

func (s *PermissionService) GetRole(id string) (*models.Role, error) {
	var r models.Role
	if err := s.db.Preload("Permissions").First(&r, "id = ? OR name = ?", id, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *PermissionService) CreateRole(r *models.Role, actor string) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrRoleNameRequired
	}
	var count int64
	if err := s.db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrRoleExists
	}
	perms := r.Permissions
	r.Permissions = nil
	if err := s.db.Create(r).Error; err != nil {
		return err
	}
	if len(perms) > 0 {
		ids := make([]string, 0, len(perms))
		for _, p := range perms {
			ids = append(ids, p.ID)
		}
		if _, err := s.SetRolePermissions(r.ID, ids, actor); err != nil {
			return err
		}
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "create_role", Resource: "role", ResourceID: r.ID,
		Details: map[string]any{"name": r.Name}})
	return nil
}

func (s *PermissionService) UpdateRole(id, name, description, actor string) (*models.Role, error) {
	r, err := s.GetRole(id)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" && name != r.Name {
		var count int64
		if err := s.db.Model(&models.Role{}).Where("name = ? AND id <> ?", name, r.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrRoleExists
		}
		r.Name = name
	}
	r.Description = description
	if err := s.db.Model(r).Updates(map[string]any{"name": r.Name, "description": r.Description}).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "update_role", Resource: "role", ResourceID: r.ID})
	return r, nil
}

func (s *PermissionService) DeleteRole(id, actor string) error {
	r, err := s.GetRole(id)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(r).Association("Permissions").Clear(); err != nil {
			return err
		}
		return tx.Delete(r).Error
	})
	if err != nil {
		return err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "delete_role", Resource: "role", ResourceID: r.ID, Level: AuditWarning})
	return nil
}

// SetRolePermissions replaces the role's permission set.
func (s *PermissionService) SetRolePermissions(roleID string, permissionIDs []string, actor string) (*models.Role, error) {
	r, err := s.GetRole(roleID)
	if err != nil {
		return nil, err
	}
	perms := []models.Permission{}
	if len(permissionIDs) > 0 {
		if err := s.db.Where("id IN ?", permissionIDs).Find(&perms).Error; err != nil {
			return nil, err
		}
		if len(perms) != len(uniqueStrings(permissionIDs)) {
			return nil, ErrPermissionNotFound
		}
	}
	if err := s.db.Model(r).Association("Permissions").Replace(perms); err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "set_role_permissions", Resource: "role", ResourceID: r.ID,
		Details: map[string]any{"permissions": len(perms)}})
	return s.GetRole(r.ID)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func matchesPart(pattern, value string) bool {
	return pattern == Wildcard || strings.EqualFold(pattern, value)
}

// conditionsHold evaluates a permission's conditions against attrs. Plain
// keys must equal the attribute; the expression key is evaluated.
func conditionsHold(p models.Permission, attrs map[string]any) bool {
	cond := p.ConditionMap()
	for key, want := range cond {
		if key == policy.CustomExpressionKey {
			expr, ok := want.(string)
			if !ok {
				return false
			}
			pass, err := policy.EvaluateExpression(expr, attrs)
			if err != nil || !pass {
				return false
			}
			continue
		}
		got, ok := attrs[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// HasPermission reports whether the named role may perform action on resource.
func (s *PermissionService) HasPermission(roleName, resource, action string, attrs map[string]any) (bool, error) {
	var r models.Role
	err := s.db.Preload("Permissions").Where("name = ?", roleName).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, p := range r.Permissions {
		if matchesPart(p.Resource, resource) && matchesPart(p.Action, action) && conditionsHold(p, attrs) {
			return true, nil
		}
	}
	return false, nil
}
