package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/api/routes"
	"github.com/vigil-iam/vigil/backend/internal/cache"
	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/database"
	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/jobs"
	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/server"
	"github.com/vigil-iam/vigil/backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Log to both stdout and a rotated file
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, logger.RotatingFile(cfg.LogDir, "vigil.log")))

	if err := cfg.Validate(); err != nil {
		logger.Log().WithError(err).Fatal("invalid config")
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}

	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if len(os.Args) != 4 {
			logger.Log().Fatalf("Usage: %s reset-password <email> <new-password>", os.Args[0])
		}
		resetPassword(db, os.Args[2], os.Args[3])
		return
	}

	logger.Log().WithField("version", version.Full()).Infof("starting %s backend", version.Name)

	riskCfg, err := config.LoadRiskConfig(cfg.RiskConfigPath)
	if err != nil {
		logger.Log().WithError(err).Fatal("load risk config")
	}
	if len(riskCfg.TrustedCountries) == 1 && riskCfg.TrustedCountries[0] == "United States" {
		logger.Log().Warn("trusted countries default to United States only; set trusted_countries in the risk config")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub()
	publishers := events.Multi{hub}
	var kafkaPublisher *events.KafkaPublisher
	if cfg.KafkaEnabled {
		kafkaPublisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publishers = append(publishers, kafkaPublisher)
	}

	var mirror cache.QuarantineMirror
	var redisCloser io.Closer
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Log().WithError(err).Warn("redis unavailable, quarantine lookups use the database")
		} else {
			mirror = cache.NewRedisQuarantine(client)
			redisCloser = client
		}
	}

	srv, err := server.New(db, cfg, routes.Deps{
		Risk:      &riskCfg,
		Hub:       hub,
		Publisher: publishers,
		Mirror:    mirror,
	})
	if err != nil {
		logger.Log().WithError(err).Fatal("build server")
	}

	scheduler := jobs.NewScheduler()
	if err := jobs.Register(scheduler, cfg, jobs.Services{
		Anomalies:  srv.Services.Anomalies,
		Sessions:   srv.Services.Sessions,
		Health:     srv.Services.Health,
		Quarantine: srv.Services.Quarantine,
	}); err != nil {
		logger.Log().WithError(err).Fatal("register jobs")
	}
	scheduler.Start()

	logger.Log().WithField("port", cfg.HTTPPort).Info("listening")
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Error("server error")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		logger.Log().WithError(err).Warn("scheduler did not stop cleanly")
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Log().WithError(err).Warn("close kafka writer")
		}
	}
	if redisCloser != nil {
		_ = redisCloser.Close()
	}
	logger.Log().Info("shutdown complete")
}

func resetPassword(db *gorm.DB, email, password string) {
	var user models.User
	if err := db.Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		logger.Log().WithError(err).Fatal("user not found")
	}
	if err := user.SetPassword(password); err != nil {
		logger.Log().WithError(err).Fatal("failed to hash password")
	}

	// Unlock account if locked
	user.LockedUntil = nil
	user.FailedLoginAttempts = 0

	if err := db.Save(&user).Error; err != nil {
		logger.Log().WithError(err).Fatal("failed to save user")
	}
	logger.Log().WithField("email", email).Info("password updated")
}
