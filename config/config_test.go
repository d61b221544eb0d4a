package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
env: prod
server:
  port: 9090
  cors_origins: ["https://example.com"]
store:
  driver: memory
  max_tx_retries: 2
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout(), "unset keys keep defaults")
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Store.MaxTxRetries)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  port: 9090\n")
	t.Setenv("BOOKING_PORT", "7070")
	t.Setenv("BOOKING_STORE_DRIVER", "postgres")
	t.Setenv("BOOKING_POSTGRES_DSN", "postgres://localhost/booking")
	t.Setenv("BOOKING_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BOOKING_PG_MAX_CONNS", "20")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/booking", cfg.Store.PostgresDSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int32(20), cfg.Store.MaxConns)
}

func TestLoad_DotEnvFile(t *testing.T) {
	// t.Setenv registers cleanup; godotenv only sets unset variables.
	t.Setenv("BOOKING_LOG_LEVEL", "")
	os.Unsetenv("BOOKING_LOG_LEVEL")

	envFile := writeFile(t, ".env", "BOOKING_LOG_LEVEL=debug\n")
	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_UnparsableEnv(t *testing.T) {
	t.Setenv("BOOKING_PORT", "eighty")

	_, err := Load("", "")
	assert.Error(t, err)
}

func TestValidate_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port out of range":  {"BOOKING_PORT": "70000"},
		"unknown driver":     {"BOOKING_STORE_DRIVER": "mongo"},
		"postgres needs dsn": {"BOOKING_STORE_DRIVER": "postgres"},
		"negative retries":   {"BOOKING_MAX_TX_RETRIES": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("BOOKING_POSTGRES_DSN", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			cfg, err := Load("", "")
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_ValidationWaitsForOverrides(t *testing.T) {
	// GIVEN: a config file naming postgres without a DSN
	// WHEN:  it is loaded and the driver is then overridden, as -driver does
	// THEN:  Load succeeds and only the final configuration is validated

	t.Setenv("DATABASE_URL", "")
	t.Setenv("BOOKING_POSTGRES_DSN", "")
	path := writeFile(t, "config.yaml", "store:\n  driver: postgres\n")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = DriverMemory
	assert.NoError(t, cfg.Validate())
}
