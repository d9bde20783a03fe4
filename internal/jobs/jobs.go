package jobs

import (
	"context"
	"time"

	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// Job names.
const (
	AnomalyScan     = "anomaly_scan"
	SessionExpiry   = "session_expiry"
	HealthCheck     = "health_check"
	QuarantineSweep = "quarantine_sweep"
)

// Services are the collaborators the built-in jobs drive. Nil entries skip
// their job.
type Services struct {
	Anomalies  *services.AnomalyService
	Sessions   *services.SessionService
	Health     *services.HealthService
	Quarantine *services.QuarantineService
}

// Builtin returns the background jobs configured by cfg.
func Builtin(cfg config.Config, svc Services) []Job {
	var out []Job
	if svc.Anomalies != nil {
		out = append(out, Job{Name: AnomalyScan, Spec: cfg.AnomalyScanSchedule, Run: func(ctx context.Context) error {
			_, err := svc.Anomalies.Scan(ctx)
			return err
		}})
	}
	if svc.Sessions != nil && cfg.SessionIdleTimeout > 0 {
		out = append(out, Job{Name: SessionExpiry, Spec: cfg.SessionExpirySchedule, Run: func(ctx context.Context) error {
			_, err := svc.Sessions.ExpireIdle(ctx, time.Now().UTC(), cfg.SessionIdleTimeout)
			return err
		}})
	}
	if svc.Health != nil {
		out = append(out, Job{Name: HealthCheck, Spec: cfg.HealthCheckSchedule, Run: func(ctx context.Context) error {
			_, err := svc.Health.CheckAll(ctx)
			return err
		}})
	}
	if svc.Quarantine != nil {
		out = append(out, Job{Name: QuarantineSweep, Spec: cfg.QuarantineSweepSchedule, Run: func(ctx context.Context) error {
			n, err := svc.Quarantine.SweepExpired(ctx, time.Now().UTC())
			if n > 0 {
				logger.Log().WithField("count", n).Info("released expired quarantines")
			}
			return err
		}})
	}
	return out
}

// Register adds the built-in jobs to s.
func Register(s *Scheduler, cfg config.Config, svc Services) error {
	for _, j := range Builtin(cfg, svc) {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}
