package models

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Role{},
		&Permission{},
		&UserSession{},
		&Anomaly{},
		&AccessPolicy{},
		&AuditLog{},
		&Notification{},
		&NotificationProvider{},
		&ServiceMonitor{},
		&ServiceHeartbeat{},
		&HealthIncident{},
		&IPQuarantine{},
		&Setting{},
	}
}
