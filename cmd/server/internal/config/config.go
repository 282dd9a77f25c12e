package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the unified server configuration.
type Config struct {
	Server   ServerConfig
	Data     DataConfig
	Log      LogConfig
	Security SecurityConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Room     RoomConfig
	Sandbox  SandboxConfig
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	Env  string // dev, staging, production
	Port string
}

// DataConfig holds the directory for file-backed stores.
type DataConfig struct {
	Dir string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console, json
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	JWTSecret string
}

// DatabaseConfig selects the PostgreSQL stores when URL is set;
// otherwise documents and memberships live in file-backed stores.
type DatabaseConfig struct {
	URL string
}

// RedisConfig enables the room event mirror when Addr is set.
type RedisConfig struct {
	Addr string
}

// RoomConfig holds collaboration session policy.
type RoomConfig struct {
	// LinkAccessOwnerOnly gates change_link_access behind Owner access.
	// Off by default: any connected member may change the link default.
	LinkAccessOwnerOnly bool
}

// SandboxConfig holds execution supervisor settings.
type SandboxConfig struct {
	// Dir is where document content is materialized before a run.
	Dir string
	// WhitelistPath optionally points at a YAML language whitelist;
	// when empty the built-in defaults apply.
	WhitelistPath string
	// AuditLogPath is the rotated execution audit log.
	AuditLogPath string
	// MaxRunTime bounds a single execution.
	MaxRunTime time.Duration
	// IdleFlush is how long the output relay waits on a partial line
	// before flushing it to the room.
	IdleFlush time.Duration
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	maxRun, err := time.ParseDuration(getEnv("SANDBOX_MAX_RUN_TIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SANDBOX_MAX_RUN_TIME: %w", err)
	}
	idleFlush, err := time.ParseDuration(getEnv("SANDBOX_IDLE_FLUSH", "200ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid SANDBOX_IDLE_FLUSH: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "8000"),
		},
		Data: DataConfig{
			Dir: getEnv("DATA_DIR", "./data"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("USER_JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", ""),
		},
		Room: RoomConfig{
			LinkAccessOwnerOnly: getBool("ROOM_LINK_ACCESS_OWNER_ONLY", false),
		},
		Sandbox: SandboxConfig{
			Dir:           getEnv("SANDBOX_DIR", "./running_files"),
			WhitelistPath: getEnv("SANDBOX_WHITELIST", ""),
			AuditLogPath:  getEnv("SANDBOX_AUDIT_LOG", "./data/audit/runs.log"),
			MaxRunTime:    maxRun,
			IdleFlush:     idleFlush,
		},
	}

	return cfg, nil
}

// ValidateConfig checks the loaded configuration for obvious mistakes.
func ValidateConfig(cfg *Config) error {
	var errs []string

	if cfg.Security.JWTSecret == "" {
		errs = append(errs, "USER_JWT_SECRET is required")
	} else if len(cfg.Security.JWTSecret) < 32 {
		errs = append(errs, "USER_JWT_SECRET must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errs = append(errs, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	if cfg.Sandbox.MaxRunTime <= 0 {
		errs = append(errs, "SANDBOX_MAX_RUN_TIME must be positive")
	}
	if cfg.Sandbox.IdleFlush <= 0 {
		errs = append(errs, "SANDBOX_IDLE_FLUSH must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr returns the listen address.
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// getEnv reads an environment variable with a fallback default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBool reads a boolean environment variable with a fallback default.
func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
