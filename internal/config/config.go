package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

// DefaultJWTSecret is rejected outside development.
const DefaultJWTSecret = "change-me-in-production"

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment string `env:"VIGIL_ENV" envDefault:"development"`
	HTTPPort    string `env:"VIGIL_HTTP_PORT" envDefault:"8080"`
	Debug       bool   `env:"VIGIL_DEBUG" envDefault:"false"`
	LogDir      string `env:"VIGIL_LOG_DIR" envDefault:"data/logs"`
	FrontendDir string `env:"VIGIL_FRONTEND_DIR" envDefault:"../frontend/dist"`

	// Database
	DatabaseDriver string `env:"VIGIL_DB_DRIVER" envDefault:"sqlite"`
	DatabasePath   string `env:"VIGIL_DB_PATH" envDefault:"data/vigil.db"`
	DatabaseURL    string `env:"VIGIL_DATABASE_URL"`

	// JWT
	JWTSecret string        `env:"VIGIL_JWT_SECRET" envDefault:"change-me-in-production"`
	TokenTTL  time.Duration `env:"VIGIL_TOKEN_TTL" envDefault:"24h"`

	// Redis
	RedisAddr     string `env:"VIGIL_REDIS_ADDR"`
	RedisPassword string `env:"VIGIL_REDIS_PASSWORD"`
	RedisDB       int    `env:"VIGIL_REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"VIGIL_KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"VIGIL_KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic   string   `env:"VIGIL_KAFKA_TOPIC" envDefault:"vigil.session-events"`

	// Risk configuration file (YAML or JSON). Empty uses built-in defaults.
	RiskConfigPath string `env:"VIGIL_RISK_CONFIG"`

	// Schedules (robfig/cron specs)
	AnomalyScanSchedule     string `env:"VIGIL_ANOMALY_SCAN_SCHEDULE" envDefault:"@every 15s"`
	SessionExpirySchedule   string `env:"VIGIL_SESSION_EXPIRY_SCHEDULE" envDefault:"@every 1m"`
	HealthCheckSchedule     string `env:"VIGIL_HEALTH_CHECK_SCHEDULE" envDefault:"@every 1m"`
	QuarantineSweepSchedule string `env:"VIGIL_QUARANTINE_SWEEP_SCHEDULE" envDefault:"@every 5m"`

	// SessionIdleTimeout expires active sessions without activity.
	SessionIdleTimeout time.Duration `env:"VIGIL_SESSION_IDLE_TIMEOUT" envDefault:"12h"`
}

// Load reads .env files and environment variables and falls back to defaults
// so the server can boot with zero configuration.
func Load() (Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			// godotenv never overrides variables that are already set
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.FrontendDir = filepath.Clean(cfg.FrontendDir)

	if cfg.DatabaseDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate rejects configurations that must not run.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("VIGIL_DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return errors.New("VIGIL_TOKEN_TTL must be positive")
	}
	if c.IsProduction() {
		if c.JWTSecret == DefaultJWTSecret {
			return errors.New("VIGIL_JWT_SECRET is set to the insecure default")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("VIGIL_JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
		}
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("VIGIL_KAFKA_BROKERS is required when Kafka is enabled")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DatabaseDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

// LoadRiskConfig reads a YAML or JSON risk configuration. Keys absent from
// the file keep their default values. An empty path returns the defaults.
func LoadRiskConfig(path string) (risk.Config, error) {
	cfg := risk.DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return risk.Config{}, fmt.Errorf("read risk config: %w", err)
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return risk.Config{}, errors.New("risk config file is empty")
	}

	if looksLikeJSON(trimmed) {
		err = json.Unmarshal([]byte(trimmed), &cfg)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), &cfg)
	}
	if err != nil {
		return risk.Config{}, fmt.Errorf("decode risk config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return risk.Config{}, fmt.Errorf("invalid risk config: %w", err)
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{")
}
