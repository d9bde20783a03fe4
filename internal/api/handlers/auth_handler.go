package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

type AuthHandler struct {
	authService   *services.AuthService
	audit         *services.AuditService
	secureCookies bool
}

// NewAuthHandler builds the handler. secureCookies marks the auth cookie
// HTTPS only and is set in production.
func NewAuthHandler(authService *services.AuthService, audit *services.AuditService, secureCookies bool) *AuthHandler {
	return &AuthHandler{authService: authService, audit: audit, secureCookies: secureCookies}
}

// setSecureCookie sets an HttpOnly SameSite=Strict cookie.
func (h *AuthHandler) setSecureCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, maxAge, "/", "", h.secureCookies, true)
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		h.audit.Log(services.AuditEntry{
			UserID:    req.Email,
			Action:    "login_failed",
			Resource:  "auth",
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Level:     services.AuditWarning,
			Details:   map[string]any{"reason": err.Error()},
		})
		status := http.StatusUnauthorized
		if errors.Is(err, services.ErrAccountLocked) {
			status = http.StatusLocked
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.audit.Log(services.AuditEntry{
		UserID:    req.Email,
		Action:    "login",
		Resource:  "auth",
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	h.setSecureCookie(c, middleware.AuthCookie, token, 3600*24)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// SetupStatus tells the console whether the first admin still has to be created.
func (h *AuthHandler) SetupStatus(c *gin.Context) {
	required, err := h.authService.SetupRequired()
	if err != nil {
		respondError(c, err, "Failed to check setup status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"setup_required": required})
}

// Register creates the first admin. Later accounts go through the user API.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	required, err := h.authService.SetupRequired()
	if err != nil {
		respondError(c, err, "Failed to check setup status")
		return
	}
	if !required {
		c.JSON(http.StatusForbidden, gin.H{"error": "Setup already completed"})
		return
	}

	user, err := h.authService.Register(req.Email, req.Password, req.Name)
	if err != nil {
		respondError(c, err, "Failed to register user")
		return
	}
	h.audit.Log(services.AuditEntry{
		UserID:     user.Email,
		Action:     "setup",
		Resource:   "user",
		ResourceID: user.UUID,
		IP:         c.ClientIP(),
	})

	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	h.setSecureCookie(c, middleware.AuthCookie, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetUint(middleware.UserIDKey)

	u, err := h.authService.GetUserByID(userID)
	if err != nil {
		respondError(c, err, "Failed to load user")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    u.ID,
		"uuid":       u.UUID,
		"role":       u.Role,
		"name":       u.Name,
		"email":      u.Email,
		"department": u.Department,
	})
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.authService.ChangePassword(userID.(uint), req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Current password is incorrect"})
			return
		}
		respondError(c, err, "Failed to update password")
		return
	}
	h.audit.Log(services.AuditEntry{
		UserID:   middleware.Actor(c),
		Action:   "change_password",
		Resource: "user",
		IP:       c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}
