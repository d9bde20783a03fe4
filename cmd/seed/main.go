package main

import (
	"fmt"
	"log"
	"time"

	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/database"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/policy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Connect to database
	db, err := database.Open(cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto migrate
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	fmt.Println("✓ Database migrated successfully")

	// Seed Permissions
	permissions := []models.Permission{
		{Resource: "sessions", Action: "read"},
		{Resource: "sessions", Action: "manage"},
		{Resource: "anomalies", Action: "read"},
		{Resource: "anomalies", Action: "manage"},
		{Resource: "policies", Action: "read"},
		{Resource: "quarantine", Action: "manage"},
	}
	for i := range permissions {
		p := &permissions[i]
		result := db.Where("resource = ? AND action = ?", p.Resource, p.Action).FirstOrCreate(p)
		if result.Error != nil {
			log.Printf("Failed to seed permission %s: %v", p.PermissionString(), result.Error)
		} else if result.RowsAffected > 0 {
			fmt.Printf("✓ Created permission: %s\n", p.PermissionString())
		}
	}

	// Analysts may act on sessions and anomalies; viewers only read.
	roles := map[string][]models.Permission{
		models.RoleAnalyst: permissions,
		models.RoleViewer:  {permissions[0], permissions[2], permissions[4]},
	}
	for name, perms := range roles {
		role := models.Role{Name: name, Description: "Built-in " + name + " role"}
		result := db.Where("name = ?", name).FirstOrCreate(&role)
		if result.Error != nil {
			log.Printf("Failed to seed role %s: %v", name, result.Error)
			continue
		}
		if err := db.Model(&role).Association("Permissions").Replace(perms); err != nil {
			log.Printf("Failed to assign permissions to %s: %v", name, err)
			continue
		}
		fmt.Printf("✓ Role %s has %d permissions\n", name, len(perms))
	}

	// Seed Sessions
	now := time.Now().UTC()
	sessions := []models.UserSession{
		{
			SessionID: "seed-session-1", UserID: "u-1001", ClientID: "portal",
			UserEmail: "jordan@example.com", UserName: "Jordan Lee", UserRoles: "engineer",
			DeviceType: "desktop", DeviceOS: "macOS", DeviceBrowser: "Safari", DeviceTrusted: true,
			LocationIP: "203.0.113.10", LocationCountry: "United States", LocationCity: "Denver",
			LocationTimezone: "America/Denver", MFAStatus: "passed", MFAMethods: "totp",
			LoginAt: now.Add(-2 * time.Hour), LastActivity: now.Add(-5 * time.Minute),
		},
		{
			SessionID: "seed-session-2", UserID: "u-1002", ClientID: "portal",
			UserEmail: "sam@example.com", UserName: "Sam Rivera", UserRoles: "finance",
			DeviceType: "mobile", DeviceOS: "Android", DeviceBrowser: "Chrome", DeviceNew: true,
			LocationIP: "198.51.100.23", LocationCountry: "Romania", LocationCity: "Bucharest",
			LocationTimezone: "Europe/Bucharest", MFAStatus: "bypassed",
			LoginAt: now.Add(-14 * time.Hour), LastActivity: now.Add(-time.Minute),
		},
		{
			SessionID: "seed-session-3", UserID: "u-1003", ClientID: "admin-console",
			UserEmail: "alex@example.com", UserName: "Alex Kim", UserRoles: "admin",
			DeviceType: "desktop", DeviceOS: "Windows", DeviceBrowser: "Edge", DeviceNew: true,
			LocationIP: "192.0.2.44", LocationCountry: "United States", LocationCity: "Austin",
			LocationTimezone: "America/Chicago", MFAStatus: "required",
			LoginAt: now.Add(-30 * time.Minute), LastActivity: now,
		},
	}
	for _, s := range sessions {
		result := db.Where("session_id = ?", s.SessionID).FirstOrCreate(&s)
		if result.Error != nil {
			log.Printf("Failed to seed session %s: %v", s.SessionID, result.Error)
		} else if result.RowsAffected > 0 {
			fmt.Printf("✓ Created session: %s (%s from %s)\n", s.SessionID, s.UserEmail, s.LocationCountry)
		}
	}

	// Seed Policies
	engineers := []policy.Subject{{Type: policy.SubjectRole, Identifiers: []string{"engineer"}}}
	prodAPI := []policy.Resource{{ID: "prod-api", Name: "Production API", Type: "api", Path: "/api/*"}}
	policies := []policy.Policy{
		{
			Name: "Engineers read production API", Type: policy.EffectAllow, Status: policy.StatusActive,
			Scope: policy.ScopeRole, Subjects: engineers, Resources: prodAPI, Priority: 50,
			Rules: []policy.Rule{{Effect: policy.EffectAllow, AccessLevels: []policy.AccessLevel{policy.AccessRead}}},
		},
		{
			Name: "Block production access outside business hours", Type: policy.EffectDeny, Status: policy.StatusActive,
			Scope: policy.ScopeGlobal, Subjects: []policy.Subject{{Type: policy.SubjectEveryone}}, Resources: prodAPI, Priority: 50,
			Rules: []policy.Rule{{Effect: policy.EffectDeny, AccessLevels: []policy.AccessLevel{policy.AccessFull}}},
		},
	}
	for _, p := range policies {
		var rec models.AccessPolicy
		if err := rec.ApplyPolicy(p); err != nil {
			log.Printf("Failed to encode policy %s: %v", p.Name, err)
			continue
		}
		rec.CreatedBy = "seed"
		result := db.Where("name = ?", rec.Name).FirstOrCreate(&rec)
		if result.Error != nil {
			log.Printf("Failed to seed policy %s: %v", p.Name, result.Error)
		} else if result.RowsAffected > 0 {
			fmt.Printf("✓ Created policy: %s\n", p.Name)
		}
	}

	// Seed Monitors
	monitors := []models.ServiceMonitor{
		{Name: "Identity Provider", Type: "auth", Check: "http", URL: "http://localhost:8180/health", Interval: 60, Enabled: true},
		{Name: "Console Database", Type: "database", Check: "database", Interval: 60, Enabled: true},
		{Name: "Redis", Type: "cache", Check: "tcp", URL: "localhost:6379", Interval: 60, Enabled: false},
	}
	for _, m := range monitors {
		result := db.Where("name = ?", m.Name).FirstOrCreate(&m)
		if result.Error != nil {
			log.Printf("Failed to seed monitor %s: %v", m.Name, result.Error)
		} else if result.RowsAffected > 0 {
			fmt.Printf("✓ Created monitor: %s (%s)\n", m.Name, m.Check)
		}
	}

	// Seed Settings
	settings := []models.Setting{
		{Key: "app_name", Value: "Vigil", Type: "string", Category: "general"},
		{Key: "sessions.auto_quarantine", Value: "false", Type: "bool", Category: "sessions"},
		{Key: "notifications.min_severity", Value: "medium", Type: "string", Category: "notifications"},
	}
	for _, setting := range settings {
		result := db.Where("key = ?", setting.Key).FirstOrCreate(&setting)
		if result.Error != nil {
			log.Printf("Failed to seed setting %s: %v", setting.Key, result.Error)
		} else if result.RowsAffected > 0 {
			fmt.Printf("✓ Created setting: %s = %s\n", setting.Key, setting.Value)
		}
	}

	fmt.Println("\n✓ Database seeding completed successfully!")
	fmt.Println("  Create the first admin with POST /api/v1/auth/register")
}
