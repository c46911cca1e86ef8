package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"librarium/pkg/sqldb"
)

// Config holds all application configuration.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
	Limits    LimitsConfig
	LogLevel  slog.Level
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Driver       string // postgres, pgx or sqlite3
	URL          string
	MaxOpenConns int
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // empty disables auth
}

// TelemetryConfig contains OpenTelemetry export settings.
type TelemetryConfig struct {
	OTLPEndpoint string // empty disables trace export
	ServiceName  string
}

// LimitsConfig contains request throttling settings.
type LimitsConfig struct {
	RegistrationsPerMinute int // 0 means unlimited
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", sqldb.DriverSQLite),
			URL:    getEnv("DATABASE_URL", "file:librarium.db?_foreign_keys=on"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "librarium"),
		},
	}

	var errs []error
	var err error
	if cfg.Database.MaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.Limits.RegistrationsPerMinute, err = getEnvInt("REGISTRATION_RATE_PER_MINUTE", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.Limits.RegistrationsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("REGISTRATION_RATE_PER_MINUTE must not be negative"))
	}
	timeout, err := getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 5)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.HTTP.ShutdownTimeout = time.Duration(timeout) * time.Second

	if _, err := sqldb.DialectName(cfg.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER: %w", err))
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return defaultVal
}

// getEnvInt retrieves an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists {
		intVal, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return intVal, nil
	}
	return defaultVal, nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	secret := "disabled"
	if c.Auth.JWTSecret != "" {
		secret = "*** (masked) ***"
	}
	return fmt.Sprintf("Config{HTTP: :%s, DB: %s %s, Auth: %s, OTLP: %q, Log: %s}",
		c.HTTP.Port, c.Database.Driver, maskDSN(c.Database.URL), secret, c.Telemetry.OTLPEndpoint, c.LogLevel)
}

// maskDSN hides the password of URL-style DSNs.
func maskDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":***"
	}
	return dsn[:scheme+3] + userinfo + dsn[at:]
}
