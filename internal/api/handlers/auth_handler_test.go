package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func setupAuthHandler(t *testing.T) (*AuthHandler, *services.AuthService, *gorm.DB) {
	db := openTestDB(t)
	authService := services.NewAuthService(db, config.Config{JWTSecret: "test-secret"})
	return NewAuthHandler(authService, services.NewAuditService(db), false), authService, db
}

func TestAuthHandler_SetupAndRegister(t *testing.T) {
	handler, _, db := setupAuthHandler(t)
	r := newTestRouter()
	r.GET("/auth/setup", handler.SetupStatus)
	r.POST("/auth/register", handler.Register)

	w := doJSON(r, http.MethodGet, "/auth/setup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"setup_required": true}`, w.Body.String())

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{"email": "bad", "password": "password123", "name": "Admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{"email": "Admin@Example.com", "password": "password123", "name": "Admin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[models.User](t, w)
	assert.Equal(t, "admin@example.com", user.Email)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.NotContains(t, w.Body.String(), "password")

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{"email": "second@example.com", "password": "password123", "name": "Second"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, http.MethodGet, "/auth/setup", nil)
	assert.JSONEq(t, `{"setup_required": false}`, w.Body.String())

	var audits int64
	db.Model(&models.AuditLog{}).Where("action = ?", "setup").Count(&audits)
	assert.Equal(t, int64(1), audits)
}

func TestAuthHandler_Login(t *testing.T) {
	handler, authService, db := setupAuthHandler(t)
	_, err := authService.Register("test@example.com", "password123", "Test User")
	require.NoError(t, err)

	r := newTestRouter()
	r.POST("/login", handler.Login)

	w := doJSON(r, http.MethodPost, "/login", gin.H{"email": "test@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]string](t, w)
	assert.NotEmpty(t, resp["token"])
	cookie := w.Result().Cookies()
	require.Len(t, cookie, 1)
	assert.Equal(t, middleware.AuthCookie, cookie[0].Name)
	assert.True(t, cookie[0].HttpOnly)
	assert.False(t, cookie[0].Secure)

	w = doJSON(r, http.MethodPost, "/login", gin.H{"email": "test@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/login", gin.H{"email": "test@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var failed int64
	db.Model(&models.AuditLog{}).Where("action = ?", "login_failed").Count(&failed)
	assert.Equal(t, int64(1), failed)
}

func TestAuthHandler_LoginLockout(t *testing.T) {
	handler, authService, _ := setupAuthHandler(t)
	_, err := authService.Register("test@example.com", "password123", "Test User")
	require.NoError(t, err)

	r := newTestRouter()
	r.POST("/login", handler.Login)
	for i := 0; i < services.MaxFailedLogins; i++ {
		doJSON(r, http.MethodPost, "/login", gin.H{"email": "test@example.com", "password": "wrong-password"})
	}
	w := doJSON(r, http.MethodPost, "/login", gin.H{"email": "test@example.com", "password": "password123"})
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestAuthHandler_SecureCookie(t *testing.T) {
	db := openTestDB(t)
	authService := services.NewAuthService(db, config.Config{JWTSecret: "test-secret"})
	_, err := authService.Register("test@example.com", "password123", "Test User")
	require.NoError(t, err)
	handler := NewAuthHandler(authService, nil, true)

	r := newTestRouter()
	r.POST("/login", handler.Login)
	w := doJSON(r, http.MethodPost, "/login", gin.H{"email": "test@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, w.Result().Cookies()[0].Secure)
}

func TestAuthHandler_Logout(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)
	r := newTestRouter()
	r.POST("/logout", handler.Logout)

	w := doJSON(r, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Logged out")
	assert.Contains(t, w.Header().Get("Set-Cookie"), middleware.AuthCookie+"=;")
}

func TestAuthHandler_MeAndChangePassword(t *testing.T) {
	handler, authService, _ := setupAuthHandler(t)
	_, err := authService.Register("admin@example.com", "password123", "Admin")
	require.NoError(t, err)

	r := newTestRouter()
	r.GET("/me", handler.Me)
	r.POST("/change-password", handler.ChangePassword)

	w := doJSON(r, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "admin@example.com", me["email"])
	assert.Equal(t, models.RoleAdmin, me["role"])

	w = doJSON(r, http.MethodPost, "/change-password", gin.H{"old_password": "nope-nope", "new_password": "newpassword123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Current password is incorrect")

	w = doJSON(r, http.MethodPost, "/change-password", gin.H{"old_password": "password123", "new_password": "newpassword123"})
	assert.Equal(t, http.StatusOK, w.Code)

	_, err = authService.Login("admin@example.com", "newpassword123")
	assert.NoError(t, err)
}

func TestAuthHandler_MeUnknownUser(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)
	r := newTestRouter()
	r.GET("/me", handler.Me)

	w := doJSON(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
