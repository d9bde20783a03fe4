package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-iam/vigil/backend/internal/risk"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VIGIL_DB_PATH", filepath.Join(t.TempDir(), "nested", "vigil.db"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "@every 15s", cfg.AnomalyScanSchedule)
	assert.DirExists(t, filepath.Dir(cfg.DatabasePath))
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverridesAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".env", []byte("VIGIL_HTTP_PORT=9090\nVIGIL_KAFKA_BROKERS=a:1,b:2\n"), 0o600))
	t.Setenv("VIGIL_DB_PATH", filepath.Join(dir, "vigil.db"))
	t.Setenv("VIGIL_TOKEN_TTL", "2h")
	t.Setenv("VIGIL_HTTP_PORT", "7070")
	defer os.Unsetenv("VIGIL_KAFKA_BROKERS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTPPort)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	base := Config{DatabaseDriver: "sqlite", TokenTTL: time.Hour, JWTSecret: DefaultJWTSecret}
	require.NoError(t, base.Validate())

	prod := base
	prod.Environment = "production"
	assert.Error(t, prod.Validate())
	prod.JWTSecret = "short"
	assert.Error(t, prod.Validate())
	prod.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, prod.Validate())

	pg := base
	pg.DatabaseDriver = "postgres"
	assert.Error(t, pg.Validate())
	pg.DatabaseURL = "postgres://vigil@localhost/vigil"
	assert.NoError(t, pg.Validate())
	assert.Equal(t, pg.DatabaseURL, pg.DSN())

	bad := base
	bad.DatabaseDriver = "mysql"
	assert.Error(t, bad.Validate())

	kafka := base
	kafka.KafkaEnabled = true
	assert.Error(t, kafka.Validate())
}

func TestLoadRiskConfig(t *testing.T) {
	cfg, err := LoadRiskConfig("")
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultConfig(), cfg)

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "risk.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
weights:
  geo_anomaly: 30
  new_device: 15
  missing_mfa: 25
  unusual_time: 10
  long_session: 5
trusted_countries: ["Turkey", "United States"]
default_timezone: Europe/Istanbul
`), 0o600))
	cfg, err = LoadRiskConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Weights.GeoAnomaly)
	assert.Equal(t, []string{"Turkey", "United States"}, cfg.TrustedCountries)
	assert.Equal(t, "Europe/Istanbul", cfg.DefaultTimezone)
	assert.Equal(t, 40, cfg.FlagThreshold)

	jsonPath := filepath.Join(dir, "risk.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"flag_threshold": 55, "precedence": ["new_device", "geo_anomaly"]}`), 0o600))
	cfg, err = LoadRiskConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 55, cfg.FlagThreshold)
	assert.Equal(t, []risk.FactorType{risk.FactorNewDevice, risk.FactorGeoAnomaly}, cfg.Precedence)
	assert.Equal(t, 20.0, cfg.Weights.GeoAnomaly)

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("flag_threshold: 400\n"), 0o600))
	_, err = LoadRiskConfig(badPath)
	assert.Error(t, err)

	emptyPath := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(emptyPath, []byte("  \n"), 0o600))
	_, err = LoadRiskConfig(emptyPath)
	assert.Error(t, err)

	_, err = LoadRiskConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
