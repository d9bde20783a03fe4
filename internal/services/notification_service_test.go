package services

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-iam/vigil/backend/internal/models"
)

func TestNotificationService_CreateAndList(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	require.NoError(t, svc.Create(&models.Notification{Type: models.NotificationTypeRisk, Title: "Risky session", Source: "anomaly_detector", Severity: "high"}))
	require.NoError(t, svc.Create(&models.Notification{Type: models.NotificationTypeSystem, Title: "Health", Source: "health_monitor"}))
	svc.Notify(models.Notification{Type: models.NotificationTypeSecurity, Title: "Conflict", Source: "policy_engine", Severity: "critical"},
		map[string]any{"conflicts": 2})

	all, err := svc.List(NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	bySource, err := svc.List(NotificationFilter{Source: "health_monitor"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "info", bySource[0].Severity)
	assert.Equal(t, models.NotificationUnread, bySource[0].Status)

	byType, err := svc.List(NotificationFilter{Type: string(models.NotificationTypeSecurity)})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.JSONEq(t, `{"conflicts": 2}`, string(byType[0].Metadata))

	bySeverity, err := svc.List(NotificationFilter{Severity: "high"})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, "Risky session", bySeverity[0].Title)
}

func TestNotificationService_ReadArchiveDelete(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	a := &models.Notification{Title: "A"}
	b := &models.Notification{Title: "B"}
	c := &models.Notification{Title: "C"}
	for _, n := range []*models.Notification{a, b, c} {
		require.NoError(t, svc.Create(n))
	}

	count, err := svc.UnreadCount()
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	require.NoError(t, svc.MarkAsRead(a.ID))
	count, err = svc.UnreadCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	unread, err := svc.List(NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	require.NoError(t, svc.Archive(b.ID))
	visible, err := svc.List(NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	archived, err := svc.List(NotificationFilter{Status: string(models.NotificationArchived)})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, b.ID, archived[0].ID)
	assert.NotNil(t, archived[0].ArchivedAt)

	require.NoError(t, svc.MarkAllAsRead())
	count, err = svc.UnreadCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, svc.Delete(c.ID))
	assert.ErrorIs(t, svc.Delete(c.ID), ErrNotificationNotFound)
	assert.ErrorIs(t, svc.MarkAsRead("missing"), ErrNotificationNotFound)
	assert.ErrorIs(t, svc.Archive("missing"), ErrNotificationNotFound)
}

func TestNotificationService_NotifyOnNilService(t *testing.T) {
	var svc *NotificationService
	assert.NotPanics(t, func() {
		svc.Notify(models.Notification{Title: "dropped"}, nil)
	})
}

func TestNotificationService_Providers(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	assert.ErrorIs(t, svc.CreateProvider(&models.NotificationProvider{Name: "empty", Type: "generic"}), ErrInvalidProviderURL)
	assert.Error(t, svc.CreateProvider(&models.NotificationProvider{Name: "bad", Type: "generic", URL: "generic://hooks.example.com", MinSeverity: "urgent"}))

	p := &models.NotificationProvider{Name: "ops", Type: "generic", URL: " generic://hooks.example.com ", Enabled: true}
	require.NoError(t, svc.CreateProvider(p))
	assert.Equal(t, "generic://hooks.example.com", p.URL)
	assert.Equal(t, "medium", p.MinSeverity)

	p.MinSeverity = "high"
	require.NoError(t, svc.UpdateProvider(p))
	got, err := svc.GetProvider(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "high", got.MinSeverity)

	list, err := svc.ListProviders()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteProvider(p.ID))
	assert.ErrorIs(t, svc.DeleteProvider(p.ID), ErrProviderNotFound)
	_, err = svc.GetProvider(p.ID)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestNotificationService_SendExternalFiltersProviders(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)
	sent := make(chan string, 8)
	svc.send = func(url, msg string) error {
		sent <- url
		return nil
	}

	providers := []*models.NotificationProvider{
		{Name: "all", Type: "generic", URL: "generic://all.example.com", Enabled: true, MinSeverity: "low"},
		{Name: "critical-only", Type: "generic", URL: "generic://critical.example.com", Enabled: true, MinSeverity: "critical"},
		{Name: "no-health", Type: "generic", URL: "generic://nohealth.example.com", Enabled: true, MinSeverity: "low"},
		{Name: "disabled", Type: "generic", URL: "generic://disabled.example.com", Enabled: false, MinSeverity: "low"},
	}
	for _, p := range providers {
		require.NoError(t, svc.CreateProvider(p))
	}
	require.NoError(t, db.Model(providers[2]).Update("notify_health", false).Error)

	assert.Equal(t, 2, svc.SendExternal(CategoryAnomaly, "high", "Anomaly", "session flagged"))
	got := collect(t, sent, 2)
	assert.Equal(t, []string{"generic://all.example.com", "generic://nohealth.example.com"}, got)

	assert.Equal(t, 2, svc.SendExternal(CategoryHealth, "critical", "Down", "db unreachable"))
	assert.Equal(t, []string{"generic://all.example.com", "generic://critical.example.com"}, collect(t, sent, 2))

	assert.Equal(t, 0, svc.SendExternal(CategoryAnomaly, "info", "FYI", "nothing"))
}

func TestNotificationService_SendExternalFailureDoesNotPanic(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)
	done := make(chan struct{})
	svc.send = func(url, msg string) error {
		defer close(done)
		return errors.New("boom")
	}
	require.NoError(t, svc.CreateProvider(&models.NotificationProvider{Name: "x", Type: "generic", URL: "generic://x.example.com", Enabled: true}))

	assert.Equal(t, 1, svc.SendExternal(CategoryTest, "medium", "t", "m"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send was not attempted")
	}
}

func TestNotificationService_TestProviderNormalizesDiscord(t *testing.T) {
	svc := NewNotificationService(setupTestDB(t))
	var gotURL string
	svc.send = func(url, msg string) error {
		gotURL = url
		return nil
	}
	err := svc.TestProvider(models.NotificationProvider{Type: "discord", URL: "https://discord.com/api/webhooks/123456/abc_DEF-1"})
	require.NoError(t, err)
	assert.Equal(t, "discord://abc_DEF-1@123456", gotURL)
}

func TestMeetsSeverity(t *testing.T) {
	assert.True(t, meetsSeverity("", "low"))
	assert.True(t, meetsSeverity("medium", "HIGH"))
	assert.True(t, meetsSeverity("high", "high"))
	assert.False(t, meetsSeverity("high", "medium"))
	assert.False(t, meetsSeverity("low", "info"))
}

// collect reads n values from ch and returns them sorted.
func collect(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d messages", len(out), n)
		}
	}
	sort.Strings(out)
	return out
}
