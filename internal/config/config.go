// Package config loads and validates the Review Acquisition Engine's
// configuration via Viper, following the teacher's config.Load pattern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob the engine needs, loaded from an
// optional file and overridden by YANDEX_-prefixed environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Sync    SyncConfig    `mapstructure:"sync"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Captcha CaptchaConfig `mapstructure:"captcha"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the metrics/health HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for any outward admin surface.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SyncConfig governs the Engine's sync-all sweep behavior.
type SyncConfig struct {
	LockTTLSec   int `mapstructure:"lock_ttl_seconds"`
	GlobalBudget int `mapstructure:"global_budget_seconds"`
}

// HTTPConfig configures the outbound HTTP Client's proxy pool and request
// pacing.
type HTTPConfig struct {
	Proxies           []string `mapstructure:"proxies"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
}

// CaptchaConfig holds the external solving service's endpoint and
// credentials.
type CaptchaConfig struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"api_url"`
}

// DBConfig controls access to the Postgres review store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_life_minutes"`
}

// RedisConfig controls the distributed sync lock's backing store.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional file on disk, then environment
// overrides under the YANDEX_ prefix (spec.md §6: YANDEX_PROXIES,
// CAPTCHA_API_KEY, CAPTCHA_API_URL).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YANDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	// CAPTCHA_ and YANDEX_PROXIES are named directly by spec.md §6 without
	// the YANDEX_ prefix bound elsewhere, so bind them explicitly.
	_ = v.BindEnv("captcha.api_key", "CAPTCHA_API_KEY")
	_ = v.BindEnv("captcha.api_url", "CAPTCHA_API_URL")
	_ = v.BindEnv("http.proxies", "YANDEX_PROXIES")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("sync.lock_ttl_seconds", 300)
	v.SetDefault("sync.global_budget_seconds", 480)
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_life_minutes", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Captcha.APIKey != "" && c.Captcha.URL == "" {
		return fmt.Errorf("captcha.api_url must be set when captcha.api_key is set")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	return nil
}

// LockTTL converts the configured lock TTL to a time.Duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Sync.LockTTLSec) * time.Second
}

// MaxConnLifetime converts the configured pool lifetime to a time.Duration.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifeMins) * time.Minute
}
