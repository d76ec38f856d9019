package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
sync:
  lock_ttl_seconds: 600
  global_budget_seconds: 500
http:
  proxies: ["http://p1:8080"]
  requests_per_second: 3.5
  timeout_seconds: 45
captcha:
  api_key: ck-123
  api_url: https://2captcha.com
db:
  dsn: "postgres://localhost/reviews"
  max_conns: 20
  min_conns: 4
  max_conn_life_minutes: 15
redis:
  addr: "redis:6379"
  db: 2
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Sync.LockTTLSec != 600 {
		t.Fatalf("expected sync overrides to apply: %+v", cfg.Sync)
	}
	if len(cfg.HTTP.Proxies) != 1 || cfg.HTTP.Proxies[0] != "http://p1:8080" {
		t.Fatalf("expected proxies to load: %+v", cfg.HTTP.Proxies)
	}
	if cfg.Captcha.APIKey != "ck-123" || cfg.Captcha.URL != "https://2captcha.com" {
		t.Fatalf("expected captcha config to load: %+v", cfg.Captcha)
	}
	if cfg.DB.DSN == "" {
		t.Fatalf("expected db dsn to load")
	}
	if got := cfg.LockTTL(); got != 600*time.Second {
		t.Fatalf("expected lock ttl 600s, got %v", got)
	}
	if got := cfg.DB.MaxConnLifetime(); got != 15*time.Minute {
		t.Fatalf("expected max conn lifetime 15m, got %v", got)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("db:\n  dsn: postgres://localhost/reviews\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("CAPTCHA_API_KEY", "env-key")
	t.Setenv("CAPTCHA_API_URL", "https://anti-captcha.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Captcha.APIKey != "env-key" || cfg.Captcha.URL != "https://anti-captcha.example" {
		t.Fatalf("expected env overrides to apply: %+v", cfg.Captcha)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		HTTP:   HTTPConfig{TimeoutSeconds: 10},
		DB:     DBConfig{DSN: "postgres://localhost/reviews"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "captcha key without url",
			cfg: func() Config {
				c := base
				c.Captcha.APIKey = "ck-123"
				return c
			}(),
			want: "captcha.api_url",
		},
		{
			name: "missing dsn",
			cfg: func() Config {
				c := base
				c.DB.DSN = ""
				return c
			}(),
			want: "db.dsn",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
