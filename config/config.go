// Package config loads service configuration.
//
// Layers, later wins: built-in defaults, YAML file, .env file, BOOKING_*
// environment variables. cmd/server applies command-line flags last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the overall application configuration.
type Config struct {
	Env      string       `yaml:"env"`
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	Store    StoreConfig  `yaml:"store"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	ReadTimeoutSeconds     int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds     int      `yaml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	CORSOrigins            []string `yaml:"cors_origins"`
	RateLimitPerSec        float64  `yaml:"rate_limit_per_sec"` // 0 disables
	RateLimitBurst         int      `yaml:"rate_limit_burst"`
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StoreConfig selects and configures the persistence engine.
type StoreConfig struct {
	Driver       string `yaml:"driver"`
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	MinConns     int32  `yaml:"min_conns"`
	MaxConns     int32  `yaml:"max_conns"`
	MaxTxRetries int    `yaml:"max_tx_retries"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Env:      "dev",
		LogLevel: "info",
		Server: ServerConfig{
			Port:                   8080,
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    15,
			IdleTimeoutSeconds:     60,
			ShutdownTimeoutSeconds: 30,
			CORSOrigins:            []string{"*"},
			RateLimitBurst:         20,
		},
		Store: StoreConfig{
			Driver:       DriverSQLite,
			SQLitePath:   "booking.db",
			MinConns:     1,
			MaxConns:     10,
			MaxTxRetries: 5,
		},
	}
}

// Load builds the configuration. path (YAML) and envFile are optional;
// a missing envFile is not an error. The result is not validated: callers
// apply their last overrides (flags) and then call Validate.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("BOOKING_ENV", &cfg.Env)
	str("BOOKING_LOG_LEVEL", &cfg.LogLevel)
	str("BOOKING_STORE_DRIVER", &cfg.Store.Driver)
	str("BOOKING_SQLITE_PATH", &cfg.Store.SQLitePath)
	str("DATABASE_URL", &cfg.Store.PostgresDSN)
	str("BOOKING_POSTGRES_DSN", &cfg.Store.PostgresDSN)

	if v, ok := lookup("BOOKING_CORS_ORIGINS"); ok && v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("BOOKING_RATE_LIMIT_PER_SEC"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BOOKING_RATE_LIMIT_PER_SEC: %w", err)
		}
		cfg.Server.RateLimitPerSec = f
	}

	minConns, maxConns := int(cfg.Store.MinConns), int(cfg.Store.MaxConns)
	for key, dst := range map[string]*int{
		"BOOKING_PORT":             &cfg.Server.Port,
		"BOOKING_RATE_LIMIT_BURST": &cfg.Server.RateLimitBurst,
		"BOOKING_MAX_TX_RETRIES":   &cfg.Store.MaxTxRetries,
		"BOOKING_PG_MIN_CONNS":     &minConns,
		"BOOKING_PG_MAX_CONNS":     &maxConns,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	cfg.Store.MinConns, cfg.Store.MaxConns = int32(minConns), int32(maxConns)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Server.RateLimitPerSec < 0 {
		return errors.New("server.rate_limit_per_sec must not be negative")
	}
	if c.Store.MaxTxRetries < 0 {
		return errors.New("store.max_tx_retries must not be negative")
	}
	return nil
}
