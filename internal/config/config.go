package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string `yaml:"host" env:"DB_HOST"`
	Port               string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User               string `yaml:"user" env:"DB_USER"`
	Password           string `yaml:"password" env:"DB_PASSWORD"`
	Name               string `yaml:"name" env:"DB_NAME"`
	SSLMode            string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`
	MaxOpenConns       int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns       int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec" env:"DB_CONN_MAX_LIFETIME_SEC" env-default:"300"`
	ConnectTimeoutSec  int    `yaml:"connect_timeout_sec" env:"DB_CONNECT_TIMEOUT_SEC" env-default:"5"`
	// ApplicationName tags server-side sessions so export traffic shows up in pg_stat_activity.
	ApplicationName string `yaml:"application_name" env:"DB_APPLICATION_NAME" env-default:"personnelexport"`
}

// ConnectTimeout bounds the initial connectivity check. Zero means five seconds.
func (c DatabaseConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint         string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey        string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey        string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket           string `yaml:"bucket" env:"MINIO_BUCKET"`
	UseSSL           bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
	PresignExpirySec int    `yaml:"presign_expiry_sec" env:"MINIO_PRESIGN_EXPIRY_SEC" env-default:"900"`
}

// PresignExpiry returns the lifetime of pre-signed download URLs.
func (c MinIOConfig) PresignExpiry() time.Duration {
	return time.Duration(c.PresignExpirySec) * time.Second
}

// Query styles accepted by the personnel data endpoint.
const (
	QueryStyleSimple     = "simple"
	QueryStyleDataTables = "datatables"
)

// PortalConfig describes the remote personnel portal and how it is queried.
type PortalConfig struct {
	BaseURL       string   `yaml:"base_url" env:"PORTAL_BASE_URL" env-default:"https://sims.texsar.org"`
	TimeoutSec    int      `yaml:"timeout_sec" env:"PORTAL_TIMEOUT_SEC" env-default:"30"`
	SessionCookie string   `yaml:"session_cookie" env:"PORTAL_SESSION_COOKIE" env-default:"laravel_session"`
	UserAgent     string   `yaml:"user_agent" env:"PORTAL_USER_AGENT" env-default:"personnelexport/1.0"`
	DefaultLimit  int      `yaml:"default_limit" env:"PORTAL_DEFAULT_LIMIT" env-default:"100"`
	MaxLimit      int      `yaml:"max_limit" env:"PORTAL_MAX_LIMIT" env-default:"500"`
	Division      int      `yaml:"division" env:"PORTAL_DIVISION" env-default:"0"`
	QueryStyle    string   `yaml:"query_style" env:"PORTAL_QUERY_STYLE" env-default:"simple"`
	Columns       []string `yaml:"columns" env:"PORTAL_COLUMNS" env-separator:","`
	OrderColumn   int      `yaml:"order_column" env:"PORTAL_ORDER_COLUMN" env-default:"0"`
	OrderDir      string   `yaml:"order_dir" env:"PORTAL_ORDER_DIR" env-default:"asc"`
}

// Timeout returns the per-request timeout of the portal HTTP client.
func (c PortalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables, optionally layered over a YAML file.
type AppConfig struct {
	AppHost  string         `yaml:"app_host" env:"APP_HOST" env-default:"localhost:8080"`
	Port     string         `yaml:"port" env:"PORT" env-default:"8080"`
	Timezone string         `yaml:"timezone" env:"APP_TIMEZONE" env-default:"UTC"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Portal   PortalConfig   `yaml:"portal"`
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from environment variables.
// When CONFIG_PATH points at a YAML file it is read first and the environment
// overrides it. A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
func Load() (*AppConfig, error) {
	var cfg AppConfig

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Portal.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the portal settings that cannot be defaulted.
func (c PortalConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid portal base url %q", c.BaseURL)
	}
	if c.TimeoutSec < 1 {
		return fmt.Errorf("portal timeout must be at least 1 second, got %d", c.TimeoutSec)
	}
	if c.MaxLimit < 1 {
		return fmt.Errorf("portal max limit must be positive, got %d", c.MaxLimit)
	}
	if c.DefaultLimit < 1 || c.DefaultLimit > c.MaxLimit {
		return fmt.Errorf("portal default limit must be between 1 and %d, got %d", c.MaxLimit, c.DefaultLimit)
	}
	switch c.QueryStyle {
	case QueryStyleSimple:
	case QueryStyleDataTables:
		if len(c.Columns) == 0 {
			return fmt.Errorf("portal query style %q requires PORTAL_COLUMNS", c.QueryStyle)
		}
	default:
		return fmt.Errorf("unsupported portal query style %q", c.QueryStyle)
	}
	return nil
}
