package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey   = "userID"
	UserUUIDKey = "userUUID"
	EmailKey    = "email"
	RoleKey     = "role"
)

// AuthCookie carries the console token for browser sessions.
const AuthCookie = "auth_token"

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(AuthCookie); err == nil && cookie != "" {
		return cookie
	}
	// Browsers cannot set headers on WebSocket upgrades.
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// AuthMiddleware validates the bearer token and stores the caller in the context.
func AuthMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(UserUUIDKey, claims.Subject)
		c.Set(EmailKey, claims.Email)
		c.Set(RoleKey, claims.Role)
		if entry := GetRequestLogger(c); entry != nil {
			c.Set(loggerKey, entry.WithField("user_id", claims.UserID))
		}
		c.Next()
	}
}

// RequireRole allows only the listed roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	}
}

// RequirePermission checks the caller's role against the permission store.
// Admins always pass.
func RequirePermission(perms *services.PermissionService, resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		if role == models.RoleAdmin {
			c.Next()
			return
		}
		ok, err := perms.HasPermission(role, resource, action, map[string]any{
			"email": c.GetString(EmailKey),
			"ip":    c.ClientIP(),
		})
		if err != nil {
			GetRequestLogger(c).WithError(err).Error("permission check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "permission check failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// Actor names the caller for audit entries.
func Actor(c *gin.Context) string {
	if email := c.GetString(EmailKey); email != "" {
		return email
	}
	if id := c.GetString(UserUUIDKey); id != "" {
		return id
	}
	return "system"
}
