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

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Email transports.
const (
	TransportLog  = "log"
	TransportSMTP = "smtp"
	TransportMQTT = "mqtt"
)

// Config is the root configuration structure for tempsys.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Email    EmailConfig    `yaml:"email"`
	Reaper   ReaperConfig   `yaml:"reaper"`
}

// SiteConfig identifies the deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig selects and configures the credential and token store.
type DatabaseConfig struct {
	Driver      string         `yaml:"driver"`
	Path        string         `yaml:"path"`
	WALMode     bool           `yaml:"wal_mode"`
	BusyTimeout int            `yaml:"busy_timeout"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL pool settings.
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Cookie   CookieConfig     `yaml:"cookie"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name   string `yaml:"name"`
	Secure bool   `yaml:"secure"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// SecurityConfig groups token, signing and password-hashing settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Tokens    TokenConfig     `yaml:"tokens"`
	Password  PasswordConfig  `yaml:"password"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// JWTConfig contains access token signing settings.
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// TokenConfig contains lifetimes for the opaque tokens.
type TokenConfig struct {
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	VerificationTokenTTL time.Duration `yaml:"verification_token_ttl"`
}

// PasswordConfig contains Argon2id cost parameters.
type PasswordConfig struct {
	Parallelism uint8  `yaml:"parallelism"`
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	SaltLength  uint32 `yaml:"salt_length"`
	HashLength  uint32 `yaml:"hash_length"`
}

// BootstrapConfig controls the first-boot admin account.
type BootstrapConfig struct {
	AdminEmail string `yaml:"admin_email"`
}

// EmailConfig selects how verification emails leave the service.
type EmailConfig struct {
	Transport       string     `yaml:"transport"`
	Sender          string     `yaml:"sender"`
	VerificationURL string     `yaml:"verification_url"`
	SMTP            SMTPConfig `yaml:"smtp"`
}

// SMTPConfig contains relay settings for the smtp transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReaperConfig controls the background token sweep.
type ReaperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file entries, for variables not already set in the environment
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: TEMPSYS_SECTION_KEY
// For example: TEMPSYS_DATABASE_PATH, TEMPSYS_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv populates the environment from a .env file when one exists.
// Variables already present in the environment win.
func loadDotEnv() error {
	path := os.Getenv("TEMPSYS_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Temperature System",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Path:        "./data/tempsys.db",
			WALMode:     true,
			BusyTimeout: 5,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tempsys-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Cookie: CookieConfig{
				Name: "refreshToken",
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:         "tempsys",
				Audience:       "tempsys-clients",
				AccessTokenTTL: 15 * time.Minute,
			},
			Tokens: TokenConfig{
				RefreshTokenTTL:      7 * 24 * time.Hour,
				VerificationTokenTTL: 30 * 24 * time.Hour,
			},
			Password: PasswordConfig{
				Parallelism: 8,
				MemoryKiB:   128 * 1024,
				Iterations:  4,
				SaltLength:  16,
				HashLength:  32,
			},
		},
		Email: EmailConfig{
			Transport:       TransportLog,
			Sender:          "no-reply@localhost",
			VerificationURL: "http://localhost:8080/api/auth/verify",
			SMTP: SMTPConfig{
				Port: 587,
			},
		},
		Reaper: ReaperConfig{
			Enabled:  true,
			Interval: 24 * time.Hour,
			Timeout:  5 * time.Minute,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TEMPSYS_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("TEMPSYS_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TEMPSYS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TEMPSYS_DATABASE_URL"); v != "" {
		cfg.Database.Postgres.URL = v
	}

	// MQTT
	if v := os.Getenv("TEMPSYS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TEMPSYS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TEMPSYS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TEMPSYS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TEMPSYS_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TEMPSYS_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("TEMPSYS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("TEMPSYS_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("TEMPSYS_BOOTSTRAP_ADMIN_EMAIL"); v != "" {
		cfg.Security.Bootstrap.AdminEmail = v
	}

	// Email
	if v := os.Getenv("TEMPSYS_EMAIL_TRANSPORT"); v != "" {
		cfg.Email.Transport = v
	}
	if v := os.Getenv("TEMPSYS_SMTP_PASSWORD"); v != "" {
		cfg.Email.SMTP.Password = v
	}

	// Reaper
	if v := os.Getenv("TEMPSYS_REAPER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TEMPSYS_REAPER_INTERVAL: %w", err)
		}
		cfg.Reaper.Interval = d
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Postgres.URL == "" {
			errs = append(errs, "database.postgres.url is required for the postgres driver (set TEMPSYS_DATABASE_URL)")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be %q or %q", DriverSQLite, DriverPostgres))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Cookie.Name == "" {
		errs = append(errs, "api.cookie.name is required")
	}

	errs = append(errs, c.Security.validate()...)
	errs = append(errs, c.validateEmail()...)

	if c.Reaper.Enabled && c.Reaper.Interval <= 0 {
		errs = append(errs, "reaper.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s SecurityConfig) validate() []string {
	var errs []string

	// A short or empty secret lets anyone forge access tokens.
	const minJWTSecretLength = 32
	switch {
	case s.JWT.Secret == "":
		errs = append(errs, "security.jwt.secret is required (set TEMPSYS_JWT_SECRET environment variable)")
	case len(s.JWT.Secret) < minJWTSecretLength:
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if s.JWT.Issuer == "" {
		errs = append(errs, "security.jwt.issuer is required")
	}
	if s.JWT.Audience == "" {
		errs = append(errs, "security.jwt.audience is required")
	}
	if s.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}

	if s.Tokens.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.tokens.refresh_token_ttl must be positive")
	}
	if s.Tokens.VerificationTokenTTL <= 0 {
		errs = append(errs, "security.tokens.verification_token_ttl must be positive")
	}

	p := s.Password
	if p.Parallelism == 0 || p.Iterations == 0 || p.SaltLength == 0 || p.HashLength == 0 {
		errs = append(errs, "security.password parallelism, iterations, salt_length and hash_length must be positive")
	}
	// Argon2 requires at least 8 KiB per lane.
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		errs = append(errs, "security.password.memory_kib must be at least 8 * parallelism")
	}

	return errs
}

func (c *Config) validateEmail() []string {
	var errs []string

	switch c.Email.Transport {
	case TransportLog:
	case TransportSMTP:
		if c.Email.SMTP.Host == "" {
			errs = append(errs, "email.smtp.host is required for the smtp transport")
		}
		if c.Email.SMTP.Port < 1 || c.Email.SMTP.Port > 65535 {
			errs = append(errs, "email.smtp.port must be between 1 and 65535")
		}
	case TransportMQTT:
		if !c.MQTT.Enabled {
			errs = append(errs, "mqtt.enabled must be true for the mqtt email transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("email.transport must be one of %q, %q, %q", TransportLog, TransportSMTP, TransportMQTT))
	}

	if c.Email.Sender == "" {
		errs = append(errs, "email.sender is required")
	}
	if c.Email.VerificationURL == "" {
		errs = append(errs, "email.verification_url is required")
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
