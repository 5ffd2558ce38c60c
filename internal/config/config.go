// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Risk window backends.
const (
	RiskBackendMemory = "memory"
	RiskBackendRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection used by the redis risk backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdminConfig holds admin access configuration.
// APIKey guards every /admin route; IDs lists the operators allowed to change
// settings and ManipulationIDs the subset allowed to touch manipulation.
type AdminConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	IDs             []int64 `mapstructure:"ids"`
	ManipulationIDs []int64 `mapstructure:"manipulation_ids"`
}

// EngineConfig holds wager engine tuning.
type EngineConfig struct {
	Timezone              string          `mapstructure:"timezone"`
	LiveMoney             bool            `mapstructure:"live_money"`
	SettingsFile          string          `mapstructure:"settings_file"`
	LockTimeout           time.Duration   `mapstructure:"lock_timeout"`
	IOTimeout             time.Duration   `mapstructure:"io_timeout"`
	AuditFailureThreshold int             `mapstructure:"audit_failure_threshold"`
	LargeWinThreshold     int64           `mapstructure:"large_win_threshold"`
	RiskBackend           string          `mapstructure:"risk_backend"`
	RiskRetentionDays     int             `mapstructure:"risk_retention_days"`
	JanitorInterval       time.Duration   `mapstructure:"janitor_interval"`
	RateLimit             RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds the per-user wager rate limit.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the engine timezone used for risk buckets.
func (e *EngineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

// RiskRetention returns how long risk buckets are kept.
func (e *EngineConfig) RiskRetention() time.Duration {
	return time.Duration(e.RiskRetentionDays) * 24 * time.Hour
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, ENGINE_TIMEZONE, ADMIN_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that viper cannot check for us.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Engine.RiskBackend {
	case RiskBackendMemory, RiskBackendRedis:
	default:
		return fmt.Errorf("unknown risk backend %q", c.Engine.RiskBackend)
	}
	if c.Engine.RiskBackend == RiskBackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis risk backend requires redis.addr")
	}
	if _, err := c.Engine.Location(); err != nil {
		return err
	}
	if c.Engine.AuditFailureThreshold < 1 {
		return fmt.Errorf("engine.audit_failure_threshold must be at least 1")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wager")
	v.SetDefault("database.name", "wager")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.db", 0)

	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.live_money", true)
	v.SetDefault("engine.lock_timeout", "5s")
	v.SetDefault("engine.io_timeout", "3s")
	v.SetDefault("engine.audit_failure_threshold", 3)
	v.SetDefault("engine.large_win_threshold", 100000)
	v.SetDefault("engine.risk_backend", RiskBackendMemory)
	v.SetDefault("engine.risk_retention_days", 7)
	v.SetDefault("engine.janitor_interval", "10m")
	v.SetDefault("engine.rate_limit.per_second", 5)
	v.SetDefault("engine.rate_limit.burst", 10)

	v.SetDefault("storage.driver", StoragePostgres)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.Admin.IDs, userID)
}

// CanManipulate reports whether the admin may change manipulation settings.
func (c *Config) CanManipulate(userID int64) bool {
	return c.IsAdmin(userID) && slices.Contains(c.Admin.ManipulationIDs, userID)
}
