package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	IPFS      IPFSConfig
	Storage   StorageConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	Environment string
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=text json"`

	// AllowedOrigins feeds the CORS middleware
	AllowedOrigins []string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	Database    string `validate:"required"`
	User        string
	Password    string
	MaxConns    int `validate:"min=1"`
	MinConns    int `validate:"min=0"`
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
// An empty Host disables every Redis-backed component.
type RedisConfig struct {
	Host     string
	Port     int `validate:"min=1,max=65535"`
	Password string
	DB       int `validate:"min=0"`
}

// IPFSConfig holds settings for the content-addressed backend
type IPFSConfig struct {
	APIURL  string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

// StorageConfig holds quota settings
type StorageConfig struct {
	// MaxStorage is the per-owner byte ceiling
	MaxStorage int64 `validate:"gt=0"`
}

// AuthConfig holds DID challenge-response session settings
type AuthConfig struct {
	Backend         string        `validate:"oneof=memory redis"`
	ChallengeTTL    time.Duration `validate:"gt=0"`
	AccessTokenTTL  time.Duration `validate:"gt=0"`
	RefreshTokenTTL time.Duration `validate:"gtfield=AccessTokenTTL"`
}

// RateLimitConfig holds request rate limits (requests per window)
type RateLimitConfig struct {
	Enabled bool
	Global  int64 `validate:"min=1"`
	PerDID  int64 `validate:"min=1"`
	Window  time.Duration
}

// QueueConfig holds message queue settings
type QueueConfig struct {
	Type string `validate:"oneof=memory"`
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development

			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "vault"),
			User:        getEnv("POSTGRES_USER", "vault"),
			Password:    getEnv("POSTGRES_PASSWORD", "vault"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		IPFS: IPFSConfig{
			APIURL:  getEnv("IPFS_API_URL", "http://localhost:5001"),
			Timeout: getEnvDuration("IPFS_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			MaxStorage: getEnvInt64("MAX_STORAGE", 10*1024*1024),
		},
		Auth: AuthConfig{
			Backend:         getEnv("AUTH_BACKEND", "memory"),
			ChallengeTTL:    getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
			AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", false),
			Global:  getEnvInt64("RATE_LIMIT_GLOBAL", 1000),
			PerDID:  getEnvInt64("RATE_LIMIT_PER_DID", 100),
			Window:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Queue: QueueConfig{
			Type: getEnv("QUEUE_TYPE", "memory"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Auth.Backend == "redis" && !c.RedisEnabled() {
		return fmt.Errorf("auth backend redis requires REDIS_HOST")
	}

	return nil
}

// RedisEnabled reports whether a Redis server is configured
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// RedisAddr returns the host:port address of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
