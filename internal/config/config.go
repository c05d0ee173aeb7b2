// Package config loads and validates gateway configuration from the
// environment. Configuration is read once at startup and immutable for
// the process lifetime.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Mode selects how much error detail the gateway exposes to clients.
type Mode string

const (
	// ModeDevelopment includes internal error detail in 500 responses.
	ModeDevelopment Mode = "development"
	// ModeProduction suppresses internal error detail.
	ModeProduction Mode = "production"
)

// Upstream service names. The set is fixed; one base URL per service is
// required at startup.
const (
	ServiceAuth         = "auth"
	ServiceUser         = "user"
	ServiceProduct      = "product"
	ServiceOrder        = "order"
	ServicePayment      = "payment"
	ServiceNotification = "notification"
	ServiceAdmin        = "admin"
)

// ServiceNames lists all upstream services in a stable order.
var ServiceNames = []string{
	ServiceAuth,
	ServiceUser,
	ServiceProduct,
	ServiceOrder,
	ServicePayment,
	ServiceNotification,
	ServiceAdmin,
}

// Default rate limit policy values.
const (
	DefaultRateLimitWindow  = 15 * time.Minute
	DefaultRateLimitMax     = 1000
	DefaultRateLimitAuthMax = 20
)

// Config holds the gateway configuration.
type Config struct {
	// Port is the listening port.
	Port int

	// JWTSecret is the shared signing secret for bearer token verification.
	JWTSecret string

	// Services maps service name to its base URL.
	Services map[string]string

	// AllowedOrigin is the browser origin allowed for cross-origin requests.
	AllowedOrigin string

	// Mode controls error detail exposure.
	Mode Mode

	// RateLimitWindow is the fixed rate-limit window shared by both policies.
	RateLimitWindow time.Duration

	// RateLimitMax is the general per-client request budget per window.
	RateLimitMax int

	// RateLimitAuthMax is the stricter budget for auth-sensitive paths.
	RateLimitAuthMax int

	// UpstreamTimeout bounds a single upstream call.
	UpstreamTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// LogLevel and LogFormat configure the logger.
	LogLevel  string
	LogFormat string
}

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             envInt("PORT", 8080),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedOrigin:    envOrDefault("ALLOWED_ORIGIN", "http://localhost:3000"),
		Mode:             Mode(envOrDefault("GATEWAY_MODE", string(ModeProduction))),
		RateLimitWindow:  envDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RateLimitMax:     envInt("RATE_LIMIT_MAX", DefaultRateLimitMax),
		RateLimitAuthMax: envInt("RATE_LIMIT_AUTH_MAX", DefaultRateLimitAuthMax),
		UpstreamTimeout:  envDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		ShutdownTimeout:  envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
	}

	cfg.Services = make(map[string]string, len(ServiceNames))
	for _, name := range ServiceNames {
		cfg.Services[name] = os.Getenv(serviceEnvVar(name))
	}

	return cfg, nil
}

// serviceEnvVar returns the environment variable name for a service URL,
// e.g. "auth" -> "AUTH_SERVICE_URL".
func serviceEnvVar(name string) string {
	upper := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return string(upper) + "_SERVICE_URL"
}

// Validate checks that the configuration is complete and well formed.
func Validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ConfigError{Field: "PORT", Message: fmt.Sprintf("invalid port %d", cfg.Port)}
	}

	if cfg.JWTSecret == "" {
		return &ConfigError{Field: "JWT_SECRET", Message: "signing secret is required"}
	}

	if cfg.Mode != ModeDevelopment && cfg.Mode != ModeProduction {
		return &ConfigError{Field: "GATEWAY_MODE", Message: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}

	for _, name := range ServiceNames {
		raw := cfg.Services[name]
		if raw == "" {
			return &ConfigError{Field: serviceEnvVar(name), Message: "base URL is required"}
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{
				Field:   serviceEnvVar(name),
				Message: fmt.Sprintf("invalid base URL %q", raw),
				Cause:   err,
			}
		}
	}

	if cfg.RateLimitWindow <= 0 {
		return &ConfigError{Field: "RATE_LIMIT_WINDOW", Message: "window must be positive"}
	}
	if cfg.RateLimitMax <= 0 {
		return &ConfigError{Field: "RATE_LIMIT_MAX", Message: "limit must be positive"}
	}
	if cfg.RateLimitAuthMax <= 0 {
		return &ConfigError{Field: "RATE_LIMIT_AUTH_MAX", Message: "limit must be positive"}
	}

	return nil
}

// envOrDefault returns the environment variable value or a default.
func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envInt returns an integer environment variable or a default.
func envInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// envDuration returns a duration environment variable or a default.
func envDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
