package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	MaxIdleTime    time.Duration `yaml:"max_idle_time"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis: the plan
// cache runs L1 only and rate limits are kept per instance.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// CacheConfig holds plan cache settings
type CacheConfig struct {
	L1Size int           `yaml:"l1_size"`
	L1TTL  time.Duration `yaml:"l1_ttl"`
	L2TTL  time.Duration `yaml:"l2_ttl"`
}

// AuthConfig holds OIDC token verification settings
type AuthConfig struct {
	IssuerURL    string  `yaml:"issuer_url"`
	ClientID     string  `yaml:"client_id"`
	UserIDClaim  string  `yaml:"user_id_claim"`
	AdminUserIDs []int64 `yaml:"admin_user_ids"`
}

// PaymentsConfig holds checkout gateway settings
type PaymentsConfig struct {
	CheckoutBaseURL string `yaml:"checkout_base_url"`
	WebhookSecret   string `yaml:"webhook_secret"`
}

// SweeperConfig holds expiry and renewal job settings
type SweeperConfig struct {
	Schedule       string        `yaml:"schedule"`
	PendingTimeout time.Duration `yaml:"pending_timeout"`
	RunOnStart     bool          `yaml:"run_on_start"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return parseLogLevel(o.LogLevel)
}

// OTel returns the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxConns:       25,
			MinConns:       5,
			Timeout:        5 * time.Second,
			MaxLifetime:    30 * time.Minute,
			MaxIdleTime:    5 * time.Minute,
			MigrateOnStart: true,
		},
		Redis: RedisConfig{
			DB:         -1,
			MaxRetries: 3,
			PoolSize:   10,
		},
		Cache: CacheConfig{
			L1Size: 256,
			L1TTL:  30 * time.Second,
			L2TTL:  5 * time.Minute,
		},
		Auth: AuthConfig{
			UserIDClaim: "sub",
		},
		Sweeper: SweeperConfig{
			Schedule:       "@every 5m",
			PendingTimeout: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenancy",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load builds the configuration from defaults, the YAML file at path (if any)
// and then the environment, which always wins
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("TENANCY_HOST", s.Host)
	s.Port = getEnv("TENANCY_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("TENANCY_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("TENANCY_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("TENANCY_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("TENANCY_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("TENANCY_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv("TENANCY_HEALTH_PORT", s.HealthPort)

	d := &cfg.Database
	d.URL = getEnv("TENANCY_POSTGRES_URL", d.URL)
	d.MaxConns = getEnvInt("TENANCY_POSTGRES_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("TENANCY_POSTGRES_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("TENANCY_POSTGRES_TIMEOUT", d.Timeout)
	d.MigrateOnStart = getEnvBool("TENANCY_MIGRATE_ON_START", d.MigrateOnStart)

	r := &cfg.Redis
	r.URL = getEnv("TENANCY_REDIS_URL", r.URL)
	r.Password = getEnv("TENANCY_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("TENANCY_REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt("TENANCY_REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt("TENANCY_REDIS_POOL_SIZE", r.PoolSize)

	c := &cfg.Cache
	c.L1Size = getEnvInt("TENANCY_CACHE_L1_SIZE", c.L1Size)
	c.L1TTL = getEnvDuration("TENANCY_CACHE_L1_TTL", c.L1TTL)
	c.L2TTL = getEnvDuration("TENANCY_CACHE_L2_TTL", c.L2TTL)

	a := &cfg.Auth
	a.IssuerURL = getEnv("TENANCY_OIDC_ISSUER_URL", a.IssuerURL)
	a.ClientID = getEnv("TENANCY_OIDC_CLIENT_ID", a.ClientID)
	a.UserIDClaim = getEnv("TENANCY_OIDC_USER_ID_CLAIM", a.UserIDClaim)
	a.AdminUserIDs = getEnvInt64List("TENANCY_ADMIN_USER_IDS", a.AdminUserIDs)

	p := &cfg.Payments
	p.CheckoutBaseURL = getEnv("TENANCY_CHECKOUT_BASE_URL", p.CheckoutBaseURL)
	p.WebhookSecret = getEnv("TENANCY_WEBHOOK_SECRET", p.WebhookSecret)

	sw := &cfg.Sweeper
	sw.Schedule = getEnv("TENANCY_SWEEPER_SCHEDULE", sw.Schedule)
	sw.PendingTimeout = getEnvDuration("TENANCY_PENDING_TIMEOUT", sw.PendingTimeout)
	sw.RunOnStart = getEnvBool("TENANCY_SWEEPER_RUN_ON_START", sw.RunOnStart)

	o := &cfg.Observability
	o.LogLevel = getEnv("TENANCY_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("TENANCY_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("TENANCY_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("TENANCY_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("TENANCY_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("TENANCY_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("TENANCY_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("TENANCY_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Auth.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer URL is required")
	}
	if c.Auth.ClientID == "" {
		return fmt.Errorf("OIDC client ID is required")
	}

	if c.Payments.CheckoutBaseURL == "" {
		return fmt.Errorf("checkout base URL is required")
	}
	if c.Payments.WebhookSecret == "" {
		return fmt.Errorf("payment webhook secret is required")
	}

	if c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweeper schedule is required")
	}
	if c.Sweeper.PendingTimeout <= 0 {
		return fmt.Errorf("pending timeout must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %g", r)
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvInt64List parses a comma separated list of IDs. Invalid entries are skipped.
func getEnvInt64List(key string, defaultValue []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
