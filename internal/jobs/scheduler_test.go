package jobs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/cache"
	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/risk"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func TestScheduler_AddValidates(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Spec: "@every 1m", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "bad", Spec: "not a spec", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "off", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1m", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "tick", Spec: "@every 1m", Run: noop}))

	assert.Equal(t, []string{"tick"}, s.Names())
	assert.Len(t, s.Cron.Entries(), 1)
}

func TestScheduler_RunNowRecoversFailures(t *testing.T) {
	s := NewScheduler()
	calls := 0
	require.NoError(t, s.Add(Job{Name: "fails", Spec: "@hourly", Run: func(context.Context) error {
		calls++
		return errors.New("boom")
	}}))
	require.NoError(t, s.Add(Job{Name: "panics", Spec: "@hourly", Run: func(context.Context) error {
		panic("unexpected")
	}}))

	require.NoError(t, s.RunNow("fails"))
	assert.Equal(t, 1, calls)
	assert.NotPanics(t, func() { _ = s.RunNow("panics") })
	assert.ErrorIs(t, s.RunNow("missing"), ErrUnknownJob)
}

func TestScheduler_RunsWithDeadline(t *testing.T) {
	s := NewScheduler()
	s.Timeout = time.Second
	var hadDeadline bool
	require.NoError(t, s.Add(Job{Name: "deadline", Spec: "@hourly", Run: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}}))
	require.NoError(t, s.RunNow("deadline"))
	assert.True(t, hadDeadline)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1h", Run: func(context.Context) error { return nil }}))
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestRegister_BuiltinJobs(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "jobs.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.IPQuarantine{}, &models.AuditLog{}, &models.ServiceMonitor{}, &models.ServiceHeartbeat{}, &models.HealthIncident{}))

	quarantine := services.NewQuarantineService(db, cache.NewMemoryQuarantine(), nil)
	health := services.NewHealthService(db, nil, nil)
	cfg := config.Config{
		HealthCheckSchedule:     "@every 1m",
		QuarantineSweepSchedule: "@every 5m",
		AnomalyScanSchedule:     "@every 15s",
	}

	s := NewScheduler()
	require.NoError(t, Register(s, cfg, Services{Health: health, Quarantine: quarantine}))
	names := s.Names()
	sort.Strings(names)
	assert.Equal(t, []string{HealthCheck, QuarantineSweep}, names)

	_, err = quarantine.Quarantine(context.Background(), services.QuarantineRequest{IP: "192.0.2.1", Duration: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.RunNow(QuarantineSweep))

	active, err := quarantine.List(true)
	require.NoError(t, err)
	assert.Empty(t, active)
	require.NoError(t, s.RunNow(HealthCheck))
}

func TestAnomalyScanJob_LogsNewAnomaliesOnce(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "scan.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	require.NoError(t, db.Create(&models.UserSession{
		SessionID:       "idp-9",
		UserID:          "mallory",
		LocationIP:      "203.0.113.9",
		LocationCountry: "Romania",
		DeviceType:      "mobile",
		DeviceNew:       true,
		MFAStatus:       "required",
		LoginAt:         time.Now().UTC(),
	}).Error)

	anomalies := services.NewAnomalyService(services.NewSessionRepository(db), services.NewAnomalyRepository(db),
		risk.NewClassifier(risk.DefaultConfig()), services.NewNotificationService(db), services.NewAuditService(db), nil)

	var buf bytes.Buffer
	logger.Init(false, &buf)
	t.Cleanup(func() { logger.Init(false, os.Stdout) })

	s := NewScheduler()
	require.NoError(t, Register(s, config.Config{AnomalyScanSchedule: "@every 15s"}, Services{Anomalies: anomalies}))
	require.NoError(t, s.RunNow(AnomalyScan))

	var count int64
	require.NoError(t, db.Model(&models.Anomaly{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 1, strings.Count(buf.String(), "new anomalies"))
}
