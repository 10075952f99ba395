// Package config loads service configuration from environment variables with
// sensible local-development defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Handlers  HandlersConfig
	RateLimit RateLimitConfig
	Plugin    PluginConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	// WebhookSecret signs inbound webhook tokens; empty disables webhooks.
	WebhookSecret string
}

// DatabaseConfig holds Postgres connection settings. Host left empty runs
// the service on in-memory stores.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis settings for event fan-out and rate limiting.
// Addr left empty keeps both in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	// Parallelism caps concurrently executing nodes per execution.
	Parallelism int
	// DefaultTimeout bounds an execution when the request sets none.
	DefaultTimeout time.Duration
	// DispatchRPS paces node dispatches; 0 disables pacing.
	DispatchRPS float64
	// TimerInterval is the due-timer poll cadence.
	TimerInterval time.Duration
}

// HandlersConfig controls built-in handler policy.
type HandlersConfig struct {
	// CommandEnabled turns on the executeCommand node. Off by default.
	CommandEnabled bool
	// AllowPrivateHTTP lets the httpRequest node reach private address
	// space. Off by default outside development.
	AllowPrivateHTTP bool
	// AllowedHTTPHosts restricts httpRequest targets when non-empty.
	AllowedHTTPHosts []string
}

// RateLimitConfig controls run admission.
type RateLimitConfig struct {
	Enabled bool
}

// PluginConfig controls the plugin runtime.
type PluginConfig struct {
	// Runtime selects the orchestrator: "auto", "docker", or "kubernetes".
	Runtime string
	// TrustedRegistries is the image registry allow-list. Empty disables
	// installs.
	TrustedRegistries []string
	// Namespace hosts plugin workloads on Kubernetes.
	Namespace string
	// HealthTimeout bounds the install health-check stage.
	HealthTimeout time.Duration
	// InstallWorkers sizes the install worker pool.
	InstallWorkers int
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:          serviceName,
			Port:          getEnvInt("PORT", 8080),
			Environment:   getEnv("ENVIRONMENT", "development"),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			LogFormat:     getEnv("LOG_FORMAT", "text"),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", ""),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flowcore"),
			User:        getEnv("POSTGRES_USER", "flowcore"),
			Password:    getEnv("POSTGRES_PASSWORD", "flowcore"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			Parallelism:    getEnvInt("ENGINE_PARALLELISM", 4),
			DefaultTimeout: getEnvDuration("ENGINE_DEFAULT_TIMEOUT", 10*time.Minute),
			DispatchRPS:    getEnvFloat("ENGINE_DISPATCH_RPS", 0),
			TimerInterval:  getEnvDuration("ENGINE_TIMER_INTERVAL", time.Second),
		},
		Handlers: HandlersConfig{
			CommandEnabled:   getEnvBool("COMMAND_NODE_ENABLED", false),
			AllowPrivateHTTP: getEnvBool("HTTP_ALLOW_PRIVATE", false),
			AllowedHTTPHosts: getEnvSlice("HTTP_ALLOWED_HOSTS", nil),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		},
		Plugin: PluginConfig{
			Runtime:           getEnv("PLUGIN_RUNTIME", "auto"),
			TrustedRegistries: getEnvSlice("PLUGIN_TRUSTED_REGISTRIES", nil),
			Namespace:         getEnv("PLUGIN_NAMESPACE", "default"),
			HealthTimeout:     getEnvDuration("PLUGIN_HEALTH_TIMEOUT", 2*time.Minute),
			InstallWorkers:    getEnvInt("PLUGIN_INSTALL_WORKERS", 2),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host != "" && c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Engine.Parallelism < 1 {
		return fmt.Errorf("engine parallelism must be at least 1")
	}
	switch c.Plugin.Runtime {
	case "auto", "docker", "kubernetes":
	default:
		return fmt.Errorf("unknown plugin runtime: %s", c.Plugin.Runtime)
	}
	return nil
}

// UsePostgres reports whether persistent stores are configured.
func (c *Config) UsePostgres() bool { return c.Database.Host != "" }

// UseRedis reports whether Redis-backed fan-out and limits are configured.
func (c *Config) UseRedis() bool { return c.Redis.Addr != "" }

// DatabaseURL returns the PostgreSQL connection string.
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
