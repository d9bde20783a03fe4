package models

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(All()...))
	return db
}

func TestBeforeCreateHooks(t *testing.T) {
	db := setupTestDB(t)

	s := &UserSession{UserID: "u1"}
	require.NoError(t, db.Create(s).Error)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, s.ID, s.SessionID)
	assert.Equal(t, SessionActive, s.Status)

	p := &AccessPolicy{Name: "p", Type: "allow"}
	require.NoError(t, db.Create(p).Error)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "draft", p.Status)
	assert.Equal(t, 1, p.Version)

	n := &Notification{Title: "hello"}
	require.NoError(t, db.Create(n).Error)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, NotificationUnread, n.Status)

	np := &NotificationProvider{Name: "ops"}
	require.NoError(t, db.Create(np).Error)
	assert.Equal(t, "medium", np.MinSeverity)

	m := &ServiceMonitor{Name: "keycloak"}
	require.NoError(t, db.Create(m).Error)
	assert.Equal(t, HealthUnknown, m.Status)

	inc := &HealthIncident{Title: "down"}
	require.NoError(t, db.Create(inc).Error)
	assert.Equal(t, IncidentOpen, inc.Status)

	u := &User{Email: "a@example.com"}
	require.NoError(t, db.Create(u).Error)
	assert.NotEmpty(t, u.UUID)

	for _, rec := range []interface{ BeforeCreate(*gorm.DB) error }{&Permission{}, &Role{}, &AuditLog{}, &IPQuarantine{}} {
		require.NoError(t, rec.BeforeCreate(db))
	}
}
