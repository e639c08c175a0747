package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: DNCR_CACHE__BLACKLIST_TTL sets cache.blacklist_ttl.
const EnvPrefix = "DNCR_"

// DefaultConfigFile is read when present and no explicit path is given.
const DefaultConfigFile = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Cache     CacheConfig     `koanf:"cache"`
	Blacklist ListConfig      `koanf:"blacklist"`
	National  ListConfig      `koanf:"national"`
	CRM       CRMConfig       `koanf:"crm"`
	OAuth     OAuthConfig     `koanf:"oauth"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Webhook   WebhookConfig   `koanf:"webhook"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	AdminAPIKey     string        `koanf:"admin_api_key"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// CacheConfig selects the DNC cache backend and its freshness windows.
type CacheConfig struct {
	Backend      string        `koanf:"backend"` // postgres or redis
	BlacklistTTL time.Duration `koanf:"blacklist_ttl"`
	NationalTTL  time.Duration `koanf:"national_ttl"`
	Retention    time.Duration `koanf:"retention"`
	Timeout      time.Duration `koanf:"timeout"`
	KeyPrefix    string        `koanf:"key_prefix"`
}

// ListConfig configures one remote do-not-call list.
type ListConfig struct {
	BaseURL      string        `koanf:"base_url"`
	Path         string        `koanf:"path"`
	APIKey       string        `koanf:"api_key"`
	APIKeyHeader string        `koanf:"api_key_header"`
	Timeout      time.Duration `koanf:"timeout"`
	RateLimitRPS int           `koanf:"rate_limit_rps"`

	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type CRMConfig struct {
	BaseURL      string        `koanf:"base_url"`
	APIVersion   string        `koanf:"api_version"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RateLimitRPS int           `koanf:"rate_limit_rps"`
}

type OAuthConfig struct {
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	AuthURL      string        `koanf:"auth_url"`
	TokenURL     string        `koanf:"token_url"`
	RedirectURL  string        `koanf:"redirect_url"`
	Scopes       []string      `koanf:"scopes"`
	StateSecret  string        `koanf:"state_secret"`
	StateTTL     time.Duration `koanf:"state_ttl"`
}

type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ServiceName    string  `koanf:"service_name"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	Insecure       bool    `koanf:"insecure"`
	SampleRate     float64 `koanf:"sample_rate"`
	MetricsEnabled bool    `koanf:"metrics_enabled"`
}

type WebhookConfig struct {
	DedupTTL   time.Duration `koanf:"dedup_ttl"`
	Timeout    time.Duration `koanf:"timeout"`
	SigningKey string        `koanf:"signing_key"`
}

// Defaults returns the configuration used before file and env overrides.
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     20,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Cache: CacheConfig{
			Backend:      "postgres",
			BlacklistTTL: 12 * time.Hour,
			NationalTTL:  12 * time.Hour,
			Retention:    30 * 24 * time.Hour,
			Timeout:      2 * time.Second,
			KeyPrefix:    "dnc:",
		},
		Blacklist: ListConfig{
			APIKeyHeader:    "X-API-Key",
			Timeout:         8 * time.Second,
			RateLimitRPS:    20,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		National: ListConfig{
			APIKeyHeader:    "X-API-Key",
			Timeout:         8 * time.Second,
			RateLimitRPS:    20,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		CRM: CRMConfig{
			APIVersion:   "2021-07-28",
			Timeout:      10 * time.Second,
			MaxRetries:   2,
			RateLimitRPS: 10,
		},
		OAuth: OAuthConfig{
			Scopes:   []string{"contacts.readonly", "contacts.write"},
			StateTTL: 10 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "crm-dnc-relay",
			SampleRate:  0.1,
		},
		Webhook: WebhookConfig{
			DedupTTL: 24 * time.Hour,
			Timeout:  25 * time.Second,
		},
	}
}

// Load layers struct defaults, the YAML file at path (or DefaultConfigFile
// when path is empty and the file exists) and DNCR_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}
	switch c.Cache.Backend {
	case "postgres":
	case "redis":
		if c.Redis.URL == "" {
			problems = append(problems, "redis.url is required for the redis cache backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q must be postgres or redis", c.Cache.Backend))
	}
	if c.Cache.BlacklistTTL <= 0 || c.Cache.NationalTTL <= 0 {
		problems = append(problems, "cache TTLs must be positive")
	}
	if c.Cache.Retention <= 0 {
		problems = append(problems, "cache.retention must be positive")
	}
	for name, list := range map[string]ListConfig{"blacklist": c.Blacklist, "national": c.National} {
		if list.BaseURL == "" {
			problems = append(problems, name+".base_url is required")
		}
		if list.APIKey == "" {
			problems = append(problems, name+".api_key is required")
		}
	}
	if c.CRM.BaseURL == "" {
		problems = append(problems, "crm.base_url is required")
	}
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		problems = append(problems, "oauth client credentials are required")
	}
	if c.OAuth.TokenURL == "" {
		problems = append(problems, "oauth.token_url is required")
	}
	if c.OAuth.StateSecret == "" {
		problems = append(problems, "oauth.state_secret is required")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateStorage checks only what storage-only commands need.
func (c *Config) ValidateStorage() error {
	if c.Database.URL == "" && c.Cache.Backend != "redis" {
		return fmt.Errorf("invalid configuration: database.url is required")
	}
	if c.Cache.Retention <= 0 {
		return fmt.Errorf("invalid configuration: cache.retention must be positive")
	}
	return nil
}
