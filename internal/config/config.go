// Package config loads the admission gateway configuration from environment
// variables with sensible defaults and validates it before startup.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - ENVIRONMENT: development, staging or production (default: production)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Rotated log file path; empty logs to stdout
//   - UPSTREAM_URL: Service the gateway proxies admitted requests to; empty serves a built-in echo
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - STORE_TIMEOUT: Per-call timeout for store operations (default: 2s)
//   - STORE_CONNECT_ATTEMPTS: Connection attempts at startup, with backoff (default: 3)
//   - BREAKER_MAX_FAILURES: Consecutive store failures that open the circuit (default: 5)
//   - BREAKER_TIMEOUT: How long the circuit stays open (default: 30s)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable admission control (default: true)
//   - RATE_LIMIT_POLICY_FILE: YAML file with the ordered policy table
//   - RATE_LIMIT_API_PREFIX: Prefix of the built-in auth policies (default: /api/v1)
//   - RATE_LIMIT_SKIP_PATHS: Comma separated paths that bypass admission
//   - TRUSTED_PROXY_HEADERS: Comma separated proxy headers, in trust order
//
// Security Configuration:
//   - SECRET_KEY: Salt for client identities (required, minimum 16 characters)
//   - JWT_SECRET: HS256 secret for bearer tokens; empty disables token verification
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environments recognised by ENVIRONMENT
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// DefaultProxyHeaders lists the proxy headers consulted for the real client
// IP, most trusted first
var DefaultProxyHeaders = []string{
	"CF-Connecting-IP",
	"X-Real-IP",
	"X-Forwarded-For",
	"X-Client-IP",
	"X-Forwarded",
	"Forwarded-For",
	"Forwarded",
}

// DefaultSkipPaths bypass admission entirely
var DefaultSkipPaths = []string{"/health", "/docs", "/redoc", "/openapi.json"}

// Config holds all configuration values for the gateway
type Config struct {
	// Application settings
	Port        string
	Environment string
	LogLevel    string
	LogFile     string
	UpstreamURL string

	// Shared store
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	RedisPoolSize      int
	StoreTimeout       time.Duration
	ConnectAttempts    int
	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	// Admission control
	RateLimitEnabled    bool
	PolicyFile          string
	APIPrefix           string
	SkipPaths           []string
	TrustedProxyHeaders []string

	// Security
	SecretKey string
	JWTSecret string

	// parse failures collected by Load and reported by Validate
	invalid []string
}

// Load creates a new Config with values from environment variables. It does
// not validate; call Validate on the result.
func Load() *Config {
	c := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: NormalizeEnvironment(getEnv("ENVIRONMENT", EnvProduction)),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		UpstreamURL: getEnv("UPSTREAM_URL", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		RateLimitEnabled:    getBoolEnv("RATE_LIMIT_ENABLED", true),
		PolicyFile:          getEnv("RATE_LIMIT_POLICY_FILE", ""),
		APIPrefix:           getEnv("RATE_LIMIT_API_PREFIX", "/api/v1"),
		SkipPaths:           getListEnv("RATE_LIMIT_SKIP_PATHS", DefaultSkipPaths),
		TrustedProxyHeaders: getListEnv("TRUSTED_PROXY_HEADERS", DefaultProxyHeaders),

		SecretKey: getEnv("SECRET_KEY", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),
	}

	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)
	c.StoreTimeout = c.getDurationEnv("STORE_TIMEOUT", 2*time.Second)
	c.ConnectAttempts = c.getIntEnv("STORE_CONNECT_ATTEMPTS", 3)
	c.BreakerMaxFailures = c.getIntEnv("BREAKER_MAX_FAILURES", 5)
	c.BreakerTimeout = c.getDurationEnv("BREAKER_TIMEOUT", 30*time.Second)

	return c
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(c.invalid, "; "))
	}

	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY environment variable is required")
	}
	if len(c.SecretKey) < 16 {
		return fmt.Errorf("SECRET_KEY must be at least 16 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production")
	}

	if c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be a positive duration")
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("STORE_CONNECT_ATTEMPTS must be a positive number")
	}
	if c.BreakerMaxFailures < 1 {
		return fmt.Errorf("BREAKER_MAX_FAILURES must be a positive number")
	}
	if c.BreakerTimeout <= 0 {
		return fmt.Errorf("BREAKER_TIMEOUT must be a positive duration")
	}

	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("RATE_LIMIT_API_PREFIX must start with '/'")
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long when provided")
	}

	return nil
}

// IsDevelopment reports whether the relaxed development profile applies
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// NormalizeEnvironment maps the aliases accepted for ENVIRONMENT onto the
// three canonical names. Unknown values are returned lower-cased so that
// Validate can reject them.
func NormalizeEnvironment(env string) string {
	switch e := strings.ToLower(strings.TrimSpace(env)); e {
	case "development", "dev", "local":
		return EnvDevelopment
	case "staging", "stage", "test":
		return EnvStaging
	case "production", "prod", "":
		return EnvProduction
	default:
		return e
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping empty items
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s=%q is not a number", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s=%q is not a duration", key, value))
		return defaultValue
	}
	return parsed
}
