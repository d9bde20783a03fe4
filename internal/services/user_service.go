package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already in use")
	ErrEmailRequired = errors.New("email is required")
	ErrInvalidRole   = errors.New("invalid role")
	ErrLastAdmin     = errors.New("cannot remove the last admin")
)

// UserInput carries editable user fields. Nil pointers are left unchanged.
type UserInput struct {
	Email      string
	Name       string
	Password   string
	Role       string
	Department string
	Enabled    *bool
}

type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewUserService(db *gorm.DB, audit *AuditService) *UserService {
	return &UserService{db: db, audit: audit}
}

// validRole accepts the built-in console roles and any stored role name.
func (s *UserService) validRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RoleAnalyst, models.RoleViewer:
		return true
	}
	var count int64
	s.db.Model(&models.Role{}).Where("name = ?", role).Count(&count)
	return count > 0
}

func (s *UserService) List() ([]models.User, error) {
	var users []models.User
	err := s.db.Order("email asc").Find(&users).Error
	return users, err
}

func (s *UserService) Get(id uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *UserService) Create(in UserInput, actor string) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}
	role := in.Role
	if role == "" {
		role = models.RoleViewer
	}
	if !s.validRole(role) {
		return nil, ErrInvalidRole
	}
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	u := &models.User{Email: email, Name: in.Name, Role: role, Department: in.Department, Enabled: true}
	if in.Enabled != nil {
		u.Enabled = *in.Enabled
	}
	if err := u.SetPassword(in.Password); err != nil {
		return nil, err
	}
	if err := s.db.Create(u).Error; err != nil {
		return nil, err
	}
	// gorm skips false on create when the column has a default
	if !u.Enabled {
		s.db.Model(u).Update("enabled", false)
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "create_user", Resource: "user", ResourceID: u.UUID,
		Details: map[string]any{"email": u.Email, "role": u.Role}})
	return u, nil
}

func (s *UserService) adminCount() (int64, error) {
	var n int64
	err := s.db.Model(&models.User{}).Where("role = ? AND enabled = ?", models.RoleAdmin, true).Count(&n).Error
	return n, err
}

func (s *UserService) Update(id uint, in UserInput, actor string) (*models.User, error) {
	u, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	wasActiveAdmin := u.Role == models.RoleAdmin && u.Enabled
	if email := strings.ToLower(strings.TrimSpace(in.Email)); email != "" && email != u.Email {
		var count int64
		if err := s.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, u.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrEmailTaken
		}
		u.Email = email
	}
	if in.Name != "" {
		u.Name = in.Name
	}
	if in.Department != "" {
		u.Department = in.Department
	}
	if in.Role != "" {
		if !s.validRole(in.Role) {
			return nil, ErrInvalidRole
		}
		u.Role = in.Role
	}
	if in.Enabled != nil {
		u.Enabled = *in.Enabled
	}
	if in.Password != "" {
		if len(in.Password) < 8 {
			return nil, ErrWeakPassword
		}
		if err := u.SetPassword(in.Password); err != nil {
			return nil, err
		}
	}
	if wasActiveAdmin && (u.Role != models.RoleAdmin || !u.Enabled) {
		n, err := s.adminCount()
		if err != nil {
			return nil, err
		}
		if n <= 1 {
			return nil, ErrLastAdmin
		}
	}
	if err := s.db.Save(u).Error; err != nil {
		return nil, err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "update_user", Resource: "user", ResourceID: u.UUID})
	return u, nil
}

func (s *UserService) Delete(id uint, actor string) error {
	u, err := s.Get(id)
	if err != nil {
		return err
	}
	if u.Role == models.RoleAdmin && u.Enabled {
		n, err := s.adminCount()
		if err != nil {
			return err
		}
		if n <= 1 {
			return ErrLastAdmin
		}
	}
	if err := s.db.Delete(u).Error; err != nil {
		return err
	}
	s.audit.Log(AuditEntry{UserID: actor, Action: "delete_user", Resource: "user", ResourceID: u.UUID, Level: AuditWarning})
	return nil
}
