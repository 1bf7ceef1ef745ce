package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validConfig = `
server:
  addr: ":9090"
auth:
  issuer: "https://idp.example.com/pool"
  audience: "client-123"
  jwks:
    url: "https://idp.example.com/pool/.well-known/jwks.json"
    cache_ttl: 2m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return dir
}

func TestLoad_ValidConfigWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.JWKS.CacheTTL != 2*time.Minute {
		t.Errorf("expected cache ttl 2m, got %v", cfg.Auth.JWKS.CacheTTL)
	}
	if cfg.Auth.JWKS.FetchTimeout != 5*time.Second {
		t.Errorf("expected default fetch timeout 5s, got %v", cfg.Auth.JWKS.FetchTimeout)
	}
	if cfg.Auth.JWKS.MinRefreshInterval != 30*time.Second {
		t.Errorf("expected default min refresh interval 30s, got %v", cfg.Auth.JWKS.MinRefreshInterval)
	}
	if len(cfg.Auth.AllowedAlgorithms) != 1 || cfg.Auth.AllowedAlgorithms[0] != "RS256" {
		t.Errorf("expected default algorithms [RS256], got %v", cfg.Auth.AllowedAlgorithms)
	}
	if cfg.Auth.AdminGroup != "admin" {
		t.Errorf("expected default admin group, got %s", cfg.Auth.AdminGroup)
	}
	if cfg.Auth.Resource.CollectionPath != "/users" {
		t.Errorf("expected default collection path /users, got %s", cfg.Auth.Resource.CollectionPath)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REQUEST_AUTHORIZER_AUTH_ADMIN_GROUP", "operators")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.AdminGroup != "operators" {
		t.Errorf("expected env override, got %s", cfg.Auth.AdminGroup)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	if _, err := Load(writeConfig(t, "server:\n  addr: \":1\"\n")); err == nil {
		t.Fatal("expected validation error for missing auth settings")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.Auth.Issuer = "iss"
		c.Auth.Audience = "aud"
		c.Auth.JWKS.URL = "http://jwks"
		c.Auth.JWKS.CacheTTL = time.Minute
		c.Auth.JWKS.FetchTimeout = time.Second
		c.Auth.AllowedAlgorithms = []string{"RS256"}
		c.Auth.AdminGroup = "admin"
		c.Auth.Resource.CollectionPath = "/users"
		return c
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "none algorithm", mutate: func(c *Config) { c.Auth.AllowedAlgorithms = []string{"RS256", "None"} }, expectError: true},
		{name: "no algorithms", mutate: func(c *Config) { c.Auth.AllowedAlgorithms = nil }, expectError: true},
		{name: "zero ttl", mutate: func(c *Config) { c.Auth.JWKS.CacheTTL = 0 }, expectError: true},
		{name: "negative min refresh", mutate: func(c *Config) { c.Auth.JWKS.MinRefreshInterval = -time.Second }, expectError: true},
		{name: "relative collection", mutate: func(c *Config) { c.Auth.Resource.CollectionPath = "users" }, expectError: true},
		{name: "missing admin group", mutate: func(c *Config) { c.Auth.AdminGroup = "" }, expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if tc.expectError && err == nil {
				t.Errorf("expected validation error but got none")
			}
			if !tc.expectError && err != nil {
				t.Errorf("expected no validation error but got: %v", err)
			}
		})
	}
}
