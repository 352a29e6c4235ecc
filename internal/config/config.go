package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"Solar/internal/runner"
)

type Config struct {
	Application   ApplicationConfig   `mapstructure:"application"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceLock  InstanceLockConfig  `mapstructure:"instance_lock"`
	Store         StoreConfig         `mapstructure:"store"`
	Blackboard    BlackboardConfig    `mapstructure:"blackboard"`
	Runners       map[string]any      `mapstructure:"runners"`
	LogLevel      string              `mapstructure:"log_level"`
}

type ApplicationConfig struct {
	Name                string        `mapstructure:"name"`
	Production          bool          `mapstructure:"production"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	AutoRestart         bool          `mapstructure:"auto_restart"`
	RestartCooldown     time.Duration `mapstructure:"restart_cooldown"`
	MaxRestarts         int           `mapstructure:"max_restarts"`
}

type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Address        string        `mapstructure:"address"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	APIKey         string        `mapstructure:"api_key"`
	EnableAuth     bool          `mapstructure:"enable_auth"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type ObservabilityConfig struct {
	EnableMetrics   bool   `mapstructure:"enable_metrics"`
	MetricsPath     string `mapstructure:"metrics_path"`
	HealthCheckPath string `mapstructure:"health_check_path"`
	ReadinessPath   string `mapstructure:"readiness_path"`
}

type InstanceLockConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LockFilePath string `mapstructure:"lock_file_path"`
}

type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Path      string `mapstructure:"path"`
	MaxEvents int    `mapstructure:"max_events"`
}

type BlackboardConfig struct {
	Type          string `mapstructure:"type"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Key           string `mapstructure:"key"`
	Prefix        string `mapstructure:"prefix"`
}

// Load reads configuration from environment variables and optional config file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SOLAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Runners = normalizeRunners(cfg.Runners)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Application defaults
	v.SetDefault("application.name", "solar")
	v.SetDefault("application.production", false)
	v.SetDefault("application.shutdown_timeout", 5*time.Second)
	v.SetDefault("application.health_check_interval", 10*time.Second)
	v.SetDefault("application.auto_restart", false)
	v.SetDefault("application.restart_cooldown", 30*time.Second)
	v.SetDefault("application.max_restarts", 5)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.enable_auth", false)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)

	// Observability defaults
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.metrics_path", "/metrics")
	v.SetDefault("observability.health_check_path", "/health")
	v.SetDefault("observability.readiness_path", "/ready")

	// Instance lock defaults
	v.SetDefault("instance_lock.enabled", false)
	v.SetDefault("instance_lock.lock_file_path", "/tmp/solar.lock")

	// Store defaults
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "/tmp/solar-events.json")
	v.SetDefault("store.max_events", 1000)

	// Blackboard defaults
	v.SetDefault("blackboard.type", "memory")
	v.SetDefault("blackboard.redis_addr", "localhost:6379")
	v.SetDefault("blackboard.redis_db", 0)

	v.SetDefault("log_level", "info")
}

func (c *Config) Validate() error {
	// Application validation
	if c.Application.ShutdownTimeout <= 0 {
		return fmt.Errorf("application.shutdown_timeout must be > 0")
	}
	if c.Application.HealthCheckInterval <= 0 {
		return fmt.Errorf("application.health_check_interval must be > 0")
	}
	if c.Application.RestartCooldown < 0 {
		return fmt.Errorf("application.restart_cooldown must be >= 0")
	}
	if c.Application.MaxRestarts < 0 {
		return fmt.Errorf("application.max_restarts must be >= 0")
	}

	// Server validation
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535")
		}
		if c.Server.EnableAuth && c.Server.APIKey == "" {
			return fmt.Errorf("server.api_key is required when server.enable_auth is true")
		}
		if c.Server.RateLimitRPS < 0 {
			return fmt.Errorf("server.rate_limit_rps must be >= 0")
		}
	}

	// Store validation
	if c.Store.Enabled {
		if c.Store.Type != "file" && c.Store.Type != "sqlite" {
			return fmt.Errorf("store.type must be either 'file' or 'sqlite'")
		}
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store is enabled")
		}
		if c.Store.MaxEvents <= 0 {
			return fmt.Errorf("store.max_events must be > 0")
		}
	}

	// Blackboard validation
	switch c.Blackboard.Type {
	case "memory":
	case "redis":
		if c.Blackboard.RedisAddr == "" {
			return fmt.Errorf("blackboard.redis_addr is required when blackboard.type is 'redis'")
		}
	default:
		return fmt.Errorf("blackboard.type must be either 'memory' or 'redis'")
	}

	// Instance lock validation
	if c.InstanceLock.Enabled && c.InstanceLock.LockFilePath == "" {
		return fmt.Errorf("instance_lock.lock_file_path is required when enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	return nil
}

// RunnerProblems checks every runner block without building it. Bad blocks do
// not fail Load since the manager skips them at registration.
func (c *Config) RunnerProblems() map[string]error {
	problems := make(map[string]error)
	for _, id := range c.RunnerIDs() {
		block, ok := c.Runners[id].(map[string]any)
		if !ok {
			problems[id] = fmt.Errorf("runners.%s must be a mapping", id)
			continue
		}
		if t, _ := block["type"].(string); t == "" {
			problems[id] = fmt.Errorf("runners.%s.type is required", id)
			continue
		}
		if _, err := runner.DecodeSettings(block); err != nil {
			problems[id] = fmt.Errorf("runners.%s: %w", id, err)
		}
	}
	return problems
}

// RunnerIDs returns the configured runner ids in sorted order.
func (c *Config) RunnerIDs() []string {
	ids := make([]string, 0, len(c.Runners))
	for id := range c.Runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalizeRunners converts nested maps to map[string]any so runner blocks
// can be handed to the manager as-is.
func normalizeRunners(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for id, block := range in {
		m, err := cast.ToStringMapE(block)
		if err != nil {
			out[id] = block
			continue
		}
		out[id] = m
	}
	return out
}
