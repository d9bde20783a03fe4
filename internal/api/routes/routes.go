package routes

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/api/handlers"
	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/cache"
	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// Deps are collaborators built outside the router. Zero values fall back to
// in-process implementations.
type Deps struct {
	Risk      *risk.Config
	Hub       *events.Hub
	Publisher events.Publisher
	Mirror    cache.QuarantineMirror
}

// Services are the domain services behind the API. Background jobs reuse
// the same instances.
type Services struct {
	Auth          *services.AuthService
	Audit         *services.AuditService
	Users         *services.UserService
	Sessions      *services.SessionService
	Anomalies     *services.AnomalyService
	Policies      *services.PolicyService
	Permissions   *services.PermissionService
	Notifications *services.NotificationService
	Quarantine    *services.QuarantineService
	Health        *services.HealthService
	Hub           *events.Hub
}

func buildServices(db *gorm.DB, cfg config.Config, deps Deps) *Services {
	riskCfg := risk.DefaultConfig()
	if deps.Risk != nil {
		riskCfg = *deps.Risk
	}
	hub := deps.Hub
	if hub == nil {
		hub = events.NewHub()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = hub
	}
	mirror := deps.Mirror
	if mirror == nil {
		mirror = cache.NewMemoryQuarantine()
	}

	classifier := risk.NewClassifier(riskCfg)
	audit := services.NewAuditService(db)
	notifications := services.NewNotificationService(db)
	quarantine := services.NewQuarantineService(db, mirror, audit)

	return &Services{
		Auth:          services.NewAuthService(db, cfg),
		Audit:         audit,
		Users:         services.NewUserService(db, audit),
		Sessions:      services.NewSessionService(db, classifier.Scorer(), audit, quarantine, publisher),
		Anomalies:     services.NewAnomalyService(services.NewSessionRepository(db), services.NewAnomalyRepository(db), classifier, notifications, audit, publisher),
		Policies:      services.NewPolicyService(db, notifications, audit, publisher),
		Permissions:   services.NewPermissionService(db, audit),
		Notifications: notifications,
		Quarantine:    quarantine,
		Health:        services.NewHealthService(db, notifications, publisher),
		Hub:           hub,
	}
}

// Register migrates the schema and wires up API routes.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, deps Deps) (*Services, error) {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	svc := buildServices(db, cfg, deps)
	if err := svc.Quarantine.SyncMirror(context.Background()); err != nil {
		logger.Log().WithError(err).Warn("failed to load quarantine mirror")
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/v1/health", handlers.HealthHandler)

	api := router.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(svc.Auth, svc.Audit, cfg.IsProduction())
	authMiddleware := middleware.AuthMiddleware(svc.Auth)
	admin := middleware.RequireRole(models.RoleAdmin)

	api.POST("/auth/login", authHandler.Login)
	api.GET("/auth/setup", authHandler.SetupStatus)
	api.POST("/auth/register", authHandler.Register)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/auth/change-password", authHandler.ChangePassword)

		// Sessions
		sessionHandler := handlers.NewSessionHandler(svc.Sessions)
		protected.GET("/sessions", sessionHandler.List)
		protected.POST("/sessions", sessionHandler.Record)
		protected.GET("/sessions/analytics", sessionHandler.Analytics)
		protected.POST("/sessions/bulk", middleware.RequirePermission(svc.Permissions, "sessions", "manage"), sessionHandler.Bulk)
		protected.GET("/sessions/:id", sessionHandler.Get)
		protected.GET("/sessions/:id/risk", sessionHandler.Risk)
		protected.POST("/sessions/:id/activity", sessionHandler.Activity)
		protected.POST("/sessions/:id/actions", middleware.RequirePermission(svc.Permissions, "sessions", "manage"), sessionHandler.Act)

		// Anomalies
		anomalyHandler := handlers.NewAnomalyHandler(svc.Anomalies)
		protected.GET("/anomalies", anomalyHandler.List)
		protected.GET("/anomalies/stats", anomalyHandler.Stats)
		protected.POST("/anomalies/scan", anomalyHandler.Scan)
		protected.GET("/anomalies/:id", anomalyHandler.Get)
		protected.PUT("/anomalies/:id/status", middleware.RequirePermission(svc.Permissions, "anomalies", "manage"), anomalyHandler.UpdateStatus)

		// Policies
		policyHandler := handlers.NewPolicyHandler(svc.Policies)
		managePolicies := middleware.RequirePermission(svc.Permissions, "policies", "manage")
		protected.GET("/policies", policyHandler.List)
		protected.GET("/policies/conflicts", policyHandler.Conflicts)
		protected.POST("/policies/simulate", policyHandler.Simulate)
		protected.POST("/policies", managePolicies, policyHandler.Create)
		protected.GET("/policies/:id", policyHandler.Get)
		protected.PUT("/policies/:id", managePolicies, policyHandler.Update)
		protected.PUT("/policies/:id/status", managePolicies, policyHandler.SetStatus)
		protected.DELETE("/policies/:id", managePolicies, policyHandler.Delete)

		// Permissions and roles
		permissionHandler := handlers.NewPermissionHandler(svc.Permissions)
		protected.GET("/permissions", permissionHandler.ListPermissions)
		protected.POST("/permissions/check", permissionHandler.Check)
		protected.GET("/permissions/:id", permissionHandler.GetPermission)
		protected.POST("/permissions", admin, permissionHandler.CreatePermission)
		protected.PUT("/permissions/:id", admin, permissionHandler.UpdatePermission)
		protected.DELETE("/permissions/:id", admin, permissionHandler.DeletePermission)
		protected.GET("/roles", permissionHandler.ListRoles)
		protected.GET("/roles/:id", permissionHandler.GetRole)
		protected.POST("/roles", admin, permissionHandler.CreateRole)
		protected.PUT("/roles/:id", admin, permissionHandler.UpdateRole)
		protected.DELETE("/roles/:id", admin, permissionHandler.DeleteRole)
		protected.PUT("/roles/:id/permissions", admin, permissionHandler.SetRolePermissions)

		// Users
		userHandler := handlers.NewUserHandler(svc.Users)
		userHandler.RegisterRoutes(protected.Group("/", admin))

		// Notifications
		notificationHandler := handlers.NewNotificationHandler(svc.Notifications)
		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		protected.POST("/notifications/read-all", notificationHandler.MarkAllAsRead)
		protected.POST("/notifications/:id/read", notificationHandler.MarkAsRead)
		protected.POST("/notifications/:id/archive", notificationHandler.Archive)
		protected.DELETE("/notifications/:id", notificationHandler.Delete)

		// Notification providers
		providerHandler := handlers.NewNotificationProviderHandler(svc.Notifications)
		providers := protected.Group("/notifications/providers", admin)
		providers.GET("", providerHandler.List)
		providers.POST("", providerHandler.Create)
		providers.POST("/test", providerHandler.Test)
		providers.PUT("/:id", providerHandler.Update)
		providers.DELETE("/:id", providerHandler.Delete)

		// Audit logs
		auditHandler := handlers.NewAuditHandler(svc.Audit)
		protected.GET("/audit-logs", admin, auditHandler.List)

		// Quarantine
		quarantineHandler := handlers.NewQuarantineHandler(svc.Quarantine)
		manageQuarantine := middleware.RequirePermission(svc.Permissions, "quarantine", "manage")
		protected.GET("/quarantine", quarantineHandler.List)
		protected.POST("/quarantine", manageQuarantine, quarantineHandler.Create)
		protected.GET("/quarantine/:ip", quarantineHandler.Check)
		protected.DELETE("/quarantine/:ip", manageQuarantine, quarantineHandler.Release)

		// Service health
		monitorHandler := handlers.NewMonitorHandler(svc.Health)
		protected.GET("/health/overview", monitorHandler.Overview)
		protected.GET("/health/monitors", monitorHandler.List)
		protected.POST("/health/monitors", admin, monitorHandler.Create)
		protected.GET("/health/monitors/:id", monitorHandler.Get)
		protected.PUT("/health/monitors/:id", admin, monitorHandler.Update)
		protected.DELETE("/health/monitors/:id", admin, monitorHandler.Delete)
		protected.GET("/health/monitors/:id/history", monitorHandler.GetHistory)
		protected.POST("/health/monitors/:id/check", monitorHandler.CheckMonitor)
		protected.POST("/health/check", monitorHandler.CheckAll)
		protected.GET("/health/incidents", monitorHandler.ListIncidents)
		protected.PUT("/health/incidents/:id", monitorHandler.UpdateIncident)

		// Settings
		settingsHandler := handlers.NewSettingsHandler(db)
		protected.GET("/settings", admin, settingsHandler.GetSettings)
		protected.POST("/settings", admin, settingsHandler.UpdateSetting)
		protected.DELETE("/settings/:key", admin, settingsHandler.DeleteSetting)

		// Live events
		protected.GET("/ws/events", func(c *gin.Context) {
			svc.Hub.ServeWS(c.Writer, c.Request)
		})
	}

	return svc, nil
}
