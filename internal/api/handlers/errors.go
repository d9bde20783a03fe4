package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/policy"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

var notFoundErrors = []error{
	services.ErrSessionNotFound,
	services.ErrAnomalyNotFound,
	services.ErrPolicyNotFound,
	services.ErrPermissionNotFound,
	services.ErrRoleNotFound,
	services.ErrUserNotFound,
	services.ErrNotificationNotFound,
	services.ErrProviderNotFound,
	services.ErrMonitorNotFound,
	services.ErrIncidentNotFound,
	services.ErrQuarantineNotFound,
}

var conflictErrors = []error{
	services.ErrPolicyNameTaken,
	services.ErrPermissionExists,
	services.ErrRoleExists,
	services.ErrEmailTaken,
	services.ErrSessionNotActive,
	services.ErrInvalidTransition,
	services.ErrLastAdmin,
}

var badRequestErrors = []error{
	services.ErrInvalidPolicy,
	services.ErrInvalidPermission,
	services.ErrInvalidConditions,
	services.ErrInvalidRole,
	services.ErrRoleNameRequired,
	services.ErrWeakPassword,
	services.ErrEmailRequired,
	services.ErrUnknownAction,
	services.ErrNoSessions,
	services.ErrSessionNoIP,
	services.ErrSessionNoUser,
	services.ErrInvalidIP,
	services.ErrInvalidProviderURL,
	services.ErrInvalidMinSeverity,
	services.ErrInvalidMonitor,
	services.ErrInvalidIncident,
	policy.ErrInvalidStatus,
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound
	case matchesAny(err, conflictErrors):
		return http.StatusConflict
	case matchesAny(err, badRequestErrors):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrIPQuarantined):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Unexpected errors are logged and replaced
// with fallback so internals do not leak.
func respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		middleware.GetRequestLogger(c).WithError(err).Error(fallback)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
