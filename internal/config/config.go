// Package config defines the top-level configuration for the marketplace
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETD_* environment
// variables.
type Config struct {
	Operator OperatorConfig `toml:"operator"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OperatorConfig holds the marketplace operator account. Sellers approve
// this account to move their assets; it is also the escrow account payments
// pass through.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	EscrowAddress    string `toml:"escrow_address"`
}

// ChainConfig holds the JSON-RPC endpoint for the eth custody gateway. When
// RPCURL is empty the daemon runs against the in-memory gateway (demo and
// test deployments).
type ChainConfig struct {
	RPCURL                string `toml:"rpc_url"`
	ChainID               int64  `toml:"chain_id"`
	ReceiptTimeoutSeconds int    `toml:"receipt_timeout_seconds"`
}

// PostgresConfig holds PostgreSQL connection parameters for the indexing
// mirror.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the signal bus, lock
// manager, and listing cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for sales archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP/WebSocket API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps requests per client IP per minute. Zero disables
	// limiting.
	RateLimit int `toml:"rate_limit"`
}

// ArchiveConfig controls sales-ledger snapshots to object storage.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration a TOML file is merged on top
// of.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:               1,
			ReceiptTimeoutSeconds: 120,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would surface
// as confusing runtime failures.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "demo", "archive":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Chain.RPCURL != "" {
		if c.Chain.ChainID <= 0 {
			return fmt.Errorf("config: chain_id must be positive, got %d", c.Chain.ChainID)
		}
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			return fmt.Errorf("config: eth gateway requires an operator key (private_key or encrypted_key_path)")
		}
	}

	if c.Operator.EscrowAddress != "" && !common.IsHexAddress(c.Operator.EscrowAddress) {
		return fmt.Errorf("config: escrow_address %q is not a valid address", c.Operator.EscrowAddress)
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: archive enabled but s3 bucket is empty")
		}
		if c.Archive.RetentionDays <= 0 {
			return fmt.Errorf("config: archive retention_days must be positive, got %d", c.Archive.RetentionDays)
		}
	}

	return nil
}
