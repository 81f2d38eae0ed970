package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Auth      AuthConfig      `json:"auth"`
	Redis     RedisConfig     `json:"redis"`
	Tracing   TracingConfig   `json:"tracing"`
	Storage   StorageConfig   `json:"storage"`
	Support   SupportConfig   `json:"support"`
	Features  FeaturesConfig  `json:"features"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port        string `json:"port"`
	Host        string `json:"host"`
	Environment string `json:"environment"`
	EnableTLS   bool   `json:"enable_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// AuthConfig holds the bearer token settings of the identity provider.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// RedisConfig holds the shared cache settings. When disabled an in-process
// cache is used.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
}

// StorageConfig holds payment-proof storage settings.
type StorageConfig struct {
	ProofDir     string `json:"proof_dir"`
	MaxProofSize int64  `json:"max_proof_size"`
}

// SupportConfig is the bootstrap support contact used until staff configure one.
type SupportConfig struct {
	DefaultEmail string `json:"default_email"`
	DefaultPhone string `json:"default_phone"`
}

// FeaturesConfig holds the initial state of the feature flags.
type FeaturesConfig struct {
	CacheEnabled      bool `json:"cache_enabled"`
	EventHooksEnabled bool `json:"event_hooks_enabled"`
	LegacyTransitions bool `json:"legacy_transitions"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Host:        getEnv("SERVER_HOST", ""),
			Environment: getEnv("ENVIRONMENT", "development"),
			EnableTLS:   getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:    getEnv("SERVER_CERT_FILE", ""),
			KeyFile:     getEnv("SERVER_KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./box_claims.db"),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 10<<20), // 10MB default
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnvInt("RATE_LIMIT_RATE", 100),
			Window:  getEnvInt("RATE_LIMIT_WINDOW", 60),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "box-claims-api"),
		},
		Storage: StorageConfig{
			ProofDir:     getEnv("PROOF_DIR", "./proofs"),
			MaxProofSize: getEnvInt64("MAX_PROOF_SIZE", 5<<20), // 5MB default
		},
		Support: SupportConfig{
			DefaultEmail: getEnv("SUPPORT_DEFAULT_EMAIL", "soporte@example.com"),
			DefaultPhone: getEnv("SUPPORT_DEFAULT_PHONE", "+58 000-0000000"),
		},
		Features: FeaturesConfig{
			CacheEnabled:      getEnvBool("FEATURE_CACHE_ENABLED", true),
			EventHooksEnabled: getEnvBool("FEATURE_EVENT_HOOKS_ENABLED", true),
			LegacyTransitions: getEnvBool("FEATURE_LEGACY_TRANSITIONS", false),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// AllowedOriginsList splits the comma-separated CORS origins.
func (c *Config) AllowedOriginsList() []string {
	var origins []string
	for _, o := range strings.Split(c.Security.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	overrideString(&cfg.Server.Port, "SERVER_PORT")
	overrideString(&cfg.Server.Host, "SERVER_HOST")
	overrideString(&cfg.Server.Environment, "ENVIRONMENT")
	overrideBool(&cfg.Server.EnableTLS, "SERVER_ENABLE_TLS")
	overrideString(&cfg.Server.CertFile, "SERVER_CERT_FILE")
	overrideString(&cfg.Server.KeyFile, "SERVER_KEY_FILE")
	overrideString(&cfg.Database.Path, "DATABASE_PATH")
	overrideInt64(&cfg.Security.MaxRequestBodySize, "MAX_REQUEST_BODY_SIZE")
	overrideString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")
	overrideBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	overrideInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	overrideInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")
	overrideString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	overrideBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "REDIS_PASSWORD")
	overrideInt(&cfg.Redis.DB, "REDIS_DB")
	overrideBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	overrideString(&cfg.Tracing.Endpoint, "TRACING_ENDPOINT")
	overrideString(&cfg.Tracing.ServiceName, "TRACING_SERVICE_NAME")
	overrideString(&cfg.Storage.ProofDir, "PROOF_DIR")
	overrideInt64(&cfg.Storage.MaxProofSize, "MAX_PROOF_SIZE")
	overrideString(&cfg.Support.DefaultEmail, "SUPPORT_DEFAULT_EMAIL")
	overrideString(&cfg.Support.DefaultPhone, "SUPPORT_DEFAULT_PHONE")
	overrideBool(&cfg.Features.CacheEnabled, "FEATURE_CACHE_ENABLED")
	overrideBool(&cfg.Features.EventHooksEnabled, "FEATURE_EVENT_HOOKS_ENABLED")
	overrideBool(&cfg.Features.LegacyTransitions, "FEATURE_LEGACY_TRANSITIONS")
	overrideString(&cfg.Logging.Level, "LOG_LEVEL")
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func overrideBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = parseBool(value)
	}
}

func overrideInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func overrideInt64(dst *int64, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			*dst = i
		}
	}
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value)
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires both cert_file and key_file")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Storage.ProofDir == "" {
		return fmt.Errorf("proof storage directory is required")
	}
	if c.Support.DefaultEmail == "" {
		return fmt.Errorf("default support email is required")
	}
	return nil
}
