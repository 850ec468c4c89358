package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sundayezeilo/shortspace/sluggen"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Badger        BadgerConfig
	SQLite        SQLiteConfig
	Slug          SlugConfig
	Clicks        ClicksConfig
	Namespaces    NamespacesConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`

	CORSOrigins []string `envconfig:"SERVER_CORS_ORIGINS"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// StoreConfig selects the link store.
type StoreConfig struct {
	Driver  string        `envconfig:"STORE_DRIVER" default:"postgres"`
	Timeout time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverPostgres, DriverRedis, DriverBadger, DriverSQLite:
	default:
		return fmt.Errorf("invalid store driver: %s (must be one of: memory, postgres, redis, badger, sqlite)", c.Driver)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}

// DatabaseConfig holds database connection configuration. It is only
// required when the postgres driver is selected.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"false"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig is used by the redis driver.
type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"shortspace"`
}

// Validate validates the redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("db index cannot be negative")
	}
	return nil
}

// BadgerConfig is used by the badger driver.
type BadgerConfig struct {
	Path       string `envconfig:"BADGER_PATH" default:"data/badger"`
	SyncWrites bool   `envconfig:"BADGER_SYNC_WRITES" default:"false"`
}

// Validate validates the badger configuration.
func (c *BadgerConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	return nil
}

// SQLiteConfig is used by the sqlite driver.
type SQLiteConfig struct {
	Path string `envconfig:"SQLITE_PATH" default:"data/shortspace.db"`
}

// Validate validates the sqlite configuration.
func (c *SQLiteConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	return nil
}

// SlugConfig controls slug allocation.
type SlugConfig struct {
	Length      int `envconfig:"SLUG_LENGTH" default:"8"`
	MinLength   int `envconfig:"SLUG_MIN_LENGTH" default:"3"`
	MaxLength   int `envconfig:"SLUG_MAX_LENGTH" default:"50"`
	MaxAttempts int `envconfig:"SLUG_MAX_ATTEMPTS" default:"10"`
}

// Validate validates the slug configuration.
func (c *SlugConfig) Validate() error {
	if c.Length < 4 || c.Length > 32 {
		return fmt.Errorf("slug length must be between 4 and 32, got %d", c.Length)
	}
	if c.MinLength <= 0 {
		return fmt.Errorf("min slug length must be positive")
	}
	if c.MaxLength < c.MinLength {
		return fmt.Errorf("max slug length (%d) cannot be less than min slug length (%d)", c.MaxLength, c.MinLength)
	}
	if c.MaxLength > sluggen.MaxLength {
		return fmt.Errorf("max slug length cannot exceed %d, got %d", sluggen.MaxLength, c.MaxLength)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// ClicksConfig controls the background click recorder.
type ClicksConfig struct {
	QueueSize  int           `envconfig:"CLICKS_QUEUE_SIZE" default:"1024"`
	Workers    int           `envconfig:"CLICKS_WORKERS" default:"4"`
	MaxRetries int           `envconfig:"CLICKS_MAX_RETRIES" default:"2"`
	Timeout    time.Duration `envconfig:"CLICKS_TIMEOUT" default:"2s"`
	Rate       float64       `envconfig:"CLICKS_RATE" default:"0"` // increments per second; 0 is unlimited
	Burst      int           `envconfig:"CLICKS_BURST" default:"50"`
}

// Validate validates the clicks configuration.
func (c *ClicksConfig) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if c.Rate > 0 && c.Burst <= 0 {
		return fmt.Errorf("burst must be positive when rate is set")
	}
	return nil
}

// NamespacesConfig points at the namespace definitions.
type NamespacesConfig struct {
	File           string `envconfig:"NAMESPACES_FILE" required:"true"`
	ShortURLScheme string `envconfig:"SHORT_URL_SCHEME" default:"https"`
}

// Validate validates the namespaces configuration.
func (c *NamespacesConfig) Validate() error {
	if c.File == "" {
		return fmt.Errorf("namespaces file cannot be empty")
	}
	if c.ShortURLScheme != "http" && c.ShortURLScheme != "https" {
		return fmt.Errorf("invalid short url scheme: %s (must be http or https)", c.ShortURLScheme)
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"` // json, text
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}
	return nil
}

// ObservabilityConfig names the service on logs and the health endpoint.
type ObservabilityConfig struct {
	ServiceName    string `envconfig:"SERVICE_NAME" default:"shortspace"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	return nil
}

type section struct {
	name     string
	target   any
	validate func() error
}

// Load loads configuration from environment variables only.
// (Do .env loading in the app, not here.)
//
// Driver-specific sections are validated only for the selected driver.
func Load() (*Config, error) {
	cfg := &Config{}

	common := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Store", &cfg.Store, cfg.Store.Validate},
		{"Slug", &cfg.Slug, cfg.Slug.Validate},
		{"Clicks", &cfg.Clicks, cfg.Clicks.Validate},
		{"Namespaces", &cfg.Namespaces, cfg.Namespaces.Validate},
		{"App", &cfg.App, cfg.App.Validate},
		{"Observability", &cfg.Observability, cfg.Observability.Validate},
	}
	if err := process(common); err != nil {
		return nil, err
	}

	drivers := map[string]section{
		DriverPostgres: {"Database", &cfg.Database, cfg.Database.Validate},
		DriverRedis:    {"Redis", &cfg.Redis, cfg.Redis.Validate},
		DriverBadger:   {"Badger", &cfg.Badger, cfg.Badger.Validate},
		DriverSQLite:   {"SQLite", &cfg.SQLite, cfg.SQLite.Validate},
	}
	if s, ok := drivers[cfg.Store.Driver]; ok {
		if err := process([]section{s}); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func process(sections []section) error {
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}
	return nil
}
