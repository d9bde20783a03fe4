package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/models"
)

// Lockout policy for console logins.
const (
	MaxFailedLogins = 5
	LockoutDuration = 15 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Claims are carried in console access tokens.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	db     *gorm.DB
	config config.Config
	now    func() time.Time
}

func NewAuthService(db *gorm.DB, cfg config.Config) *AuthService {
	return &AuthService{db: db, config: cfg, now: time.Now}
}

func (s *AuthService) tokenTTL() time.Duration {
	if s.config.TokenTTL > 0 {
		return s.config.TokenTTL
	}
	return 24 * time.Hour
}

// Register creates a console user. The first user becomes admin.
func (s *AuthService) Register(email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return nil, err
	}
	role := models.RoleViewer
	if count == 0 {
		role = models.RoleAdmin
	}
	user := &models.User{Email: email, Name: name, Role: role, Enabled: true}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and returns a signed token. Repeated failures
// lock the account.
func (s *AuthService) Login(email, password string) (string, error) {
	var user models.User
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		return "", ErrInvalidCredentials
	}
	now := s.now()
	if user.IsLocked(now) {
		return "", ErrAccountLocked
	}
	if !user.Enabled {
		return "", ErrAccountDisabled
	}
	if !user.CheckPassword(password) {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= MaxFailedLogins {
			until := now.Add(LockoutDuration)
			user.LockedUntil = &until
		}
		s.db.Model(&user).Updates(map[string]any{
			"failed_login_attempts": user.FailedLoginAttempts,
			"locked_until":          user.LockedUntil,
		})
		return "", ErrInvalidCredentials
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now
	s.db.Model(&user).Updates(map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login":            &now,
	})
	return s.GenerateToken(&user)
}

// GenerateToken issues an HS256 token for the user.
func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UUID,
			Issuer:    "vigil",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL())),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// ValidateToken parses and verifies a token.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *AuthService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(oldPassword) {
		return ErrInvalidCredentials
	}
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	return s.db.Model(user).Update("password_hash", user.PasswordHash).Error
}

// SetupRequired reports whether no console user exists yet.
func (s *AuthService) SetupRequired() (bool, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}
