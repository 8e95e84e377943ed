// Package config handles application configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Sources    SourcesConfig   `yaml:"sources"`
	Cache      CacheConfig     `yaml:"cache"`
	Sync       SyncConfig      `yaml:"sync"`
	Alerts     AlertsConfig    `yaml:"alerts"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // must cover bulk sync
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite
	Path   string `yaml:"path"`
}

type SourcesConfig struct {
	BOE    SourceConfig `yaml:"boe"`
	CENDOJ SourceConfig `yaml:"cendoj"`
}

// SourceConfig tunes one upstream client.
type SourceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	UserAgent   string        `yaml:"user_agent"`
	MinInterval time.Duration `yaml:"min_interval"`
	CacheTTL    time.Duration `yaml:"cache_ttl"` // 0 disables caching for this source
	Timeout     time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Backend    string      `yaml:"backend"` // memory, redis
	MaxEntries int         `yaml:"max_entries"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SyncConfig struct {
	MaxRangeDays int           `yaml:"max_range_days"`
	Timeout      time.Duration `yaml:"timeout"`
}

type AlertsConfig struct {
	MatchLimit int `yaml:"match_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"default_requests_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/lexsync.db",
		},
		Sources: SourcesConfig{
			BOE: SourceConfig{
				BaseURL:     "https://www.boe.es/datosabiertos",
				UserAgent:   "LexSync/1.0 (legislation monitor)",
				MinInterval: time.Second,
				CacheTTL:    time.Hour,
				Timeout:     20 * time.Second,
			},
			CENDOJ: SourceConfig{
				BaseURL:     "https://www.poderjudicial.es/search",
				UserAgent:   "LexSync/1.0 (legislation monitor)",
				MinInterval: 3 * time.Second,
				CacheTTL:    24 * time.Hour,
				Timeout:     30 * time.Second,
			},
		},
		Cache: CacheConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "lexsync:",
			},
		},
		Sync: SyncConfig{
			MaxRangeDays: 30,
			Timeout:      5 * time.Minute,
		},
		Alerts: AlertsConfig{
			MatchLimit: 5,
		},
		RateLimits: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'lexsync generate-config' to create one)", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content := interpolateEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// GenerateSample creates a sample configuration file.
func GenerateSample(path string) error {
	sample := `# LexSync Configuration

server:
  port: 8080
  read_timeout: 15s
  write_timeout: 5m   # bulk sync runs inside the request

database:
  driver: sqlite
  path: ./data/lexsync.db

sources:
  boe:
    base_url: https://www.boe.es/datosabiertos
    user_agent: "LexSync/1.0 (legislation monitor)"
    min_interval: 1s
    cache_ttl: 1h     # 0 disables sumario caching
    timeout: 20s
  cendoj:
    base_url: https://www.poderjudicial.es/search
    user_agent: "LexSync/1.0 (legislation monitor; contact ${LEXSYNC_CONTACT})"
    min_interval: 3s
    cache_ttl: 24h
    timeout: 30s

cache:
  backend: memory   # memory or redis
  max_entries: 0    # memory backend only; 0 = unbounded
  redis:
    addr: localhost:6379
    password: ${REDIS_PASSWORD}
    db: 0
    prefix: "lexsync:"

sync:
  max_range_days: 30
  timeout: 5m

alerts:
  match_limit: 5

rate_limits:
  default_requests_per_minute: 60

logging:
  level: info  # debug, info, warn, error
  format: json # json or text
`
	return os.WriteFile(path, []byte(sample), 0644)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	for name, src := range map[string]SourceConfig{"boe": c.Sources.BOE, "cendoj": c.Sources.CENDOJ} {
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", name)
		}
		if src.MinInterval <= 0 {
			return fmt.Errorf("sources.%s.min_interval must be positive", name)
		}
		if src.Timeout <= 0 {
			return fmt.Errorf("sources.%s.timeout must be positive", name)
		}
		if src.CacheTTL < 0 {
			return fmt.Errorf("sources.%s.cache_ttl cannot be negative", name)
		}
	}
	// The portal rejects anonymous clients.
	if strings.TrimSpace(c.Sources.CENDOJ.UserAgent) == "" {
		return fmt.Errorf("sources.cendoj.user_agent is required")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative")
	}

	if c.Sync.MaxRangeDays < 1 {
		return fmt.Errorf("sync.max_range_days must be at least 1")
	}
	if c.Alerts.MatchLimit < 1 {
		return fmt.Errorf("alerts.match_limit must be at least 1")
	}

	return nil
}

// interpolateEnvVars replaces ${VAR_NAME} with environment variable values.
func interpolateEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match // Keep original if not set
	})
}
