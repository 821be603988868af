package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown mode":         func(c *Config) { c.Mode = "auction" },
		"bad port":             func(c *Config) { c.Server.Port = -1 },
		"bad escrow":           func(c *Config) { c.Operator.EscrowAddress = "not-an-address" },
		"chain without key":    func(c *Config) { c.Chain.RPCURL = "http://localhost:8545" },
		"archive no bucket":    func(c *Config) { c.Archive.Enabled = true },
		"bad chain id": func(c *Config) {
			c.Chain.RPCURL = "http://localhost:8545"
			c.Operator.PrivateKey = "ab"
			c.Chain.ChainID = 0
		},
	}

	for name, mutate := range cases {
		cfg := Defaults()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", name)
		}
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "demo"
log_level = "debug"

[server]
port = 9090

[redis]
addr = "redis.internal:6379"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MARKETD_SERVER_PORT", "7070")
	t.Setenv("MARKETD_POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "demo" {
		t.Errorf("Mode = %q, want demo", cfg.Mode)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	// Env override wins over the file.
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("Postgres.Password = %q", cfg.Postgres.Password)
	}
	// Defaults survive the merge.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want 5432", cfg.Postgres.Port)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "secret"
	cfg.Server.APIKey = "key"

	red := RedactedConfig(&cfg)
	if red.Operator.PrivateKey != "***" || red.Postgres.Password != "***" || red.Server.APIKey != "***" {
		t.Error("secrets not redacted")
	}
	if cfg.Operator.PrivateKey != "deadbeef" {
		t.Error("original mutated")
	}
	// Empty fields stay empty rather than becoming "***".
	if red.Redis.Password != "" {
		t.Errorf("Redis.Password = %q, want empty", red.Redis.Password)
	}
}
