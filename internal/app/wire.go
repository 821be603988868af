package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/nftbazaar/marketd/internal/blob/s3"
	"github.com/nftbazaar/marketd/internal/cache/redis"
	"github.com/nftbazaar/marketd/internal/config"
	"github.com/nftbazaar/marketd/internal/crypto"
	"github.com/nftbazaar/marketd/internal/domain"
	ethgw "github.com/nftbazaar/marketd/internal/gateway/eth"
	"github.com/nftbazaar/marketd/internal/gateway/mem"
	"github.com/nftbazaar/marketd/internal/ledger"
	"github.com/nftbazaar/marketd/internal/notify"
	"github.com/nftbazaar/marketd/internal/service"
	"github.com/nftbazaar/marketd/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Gateway domain.AssetGateway
	Bank    domain.Bank
	Escrow  common.Address
	Ledger  *ledger.Ledger
	Market  *service.Marketplace

	// In-memory backends, set only when running without a chain RPC. Demo
	// mode uses them to mint assets and fund accounts.
	MemRegistry *mem.Registry
	MemBank     *mem.Bank

	// Stores
	ListingStore domain.ListingStore
	SaleStore    domain.SaleStore
	AuditStore   domain.AuditStore

	// Redis
	SignalBus    domain.SignalBus
	LockManager  domain.LockManager
	RateLimiter  domain.RateLimiter
	ListingCache domain.ListingCache

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require the indexing mirror.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "archive":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that use the bus, locks or caches. Demo
// mode runs entirely in process.
func needsRedis(mode string) bool {
	return mode != "demo"
}

// needsS3 returns true when object storage must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Operator account and escrow address ---
	var operator common.Address
	keyHex, keyErr := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if keyErr == nil && keyHex != "" {
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		operator = signer.Address()
	}

	escrow := operator
	if cfg.Operator.EscrowAddress != "" {
		escrow = common.HexToAddress(cfg.Operator.EscrowAddress)
	}
	deps.Escrow = escrow

	// --- Asset custody gateway ---
	if cfg.Chain.RPCURL != "" {
		if keyErr != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: eth gateway requires operator key: %w", keyErr)
		}
		gw, err := ethgw.New(ctx, ethgw.Config{
			RPCURL:         cfg.Chain.RPCURL,
			ChainID:        cfg.Chain.ChainID,
			OperatorKeyHex: keyHex,
			ReceiptTimeout: time.Duration(cfg.Chain.ReceiptTimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: eth gateway: %w", err)
		}
		closers = append(closers, gw.Close)
		deps.Gateway = gw
	} else {
		// Without an RPC endpoint custody and payments run in process.
		if operator == (common.Address{}) {
			operator = common.HexToAddress("0x00000000000000000000000000000000004d6b74")
			if cfg.Operator.EscrowAddress == "" {
				deps.Escrow = operator
			}
		}
		reg := mem.NewRegistry(operator)
		deps.MemRegistry = reg
		deps.Gateway = reg
	}

	// Payments settle against the in-process bank. Chain deployments keep
	// custody on chain but still clear payment balances here.
	bank := mem.NewBank()
	deps.MemBank = bank
	deps.Bank = bank

	// --- Ledger and marketplace service ---
	deps.Ledger = ledger.New(deps.Gateway, deps.Bank, deps.Escrow, logger)

	// --- PostgreSQL (only for modes that need the mirror) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ListingStore = postgres.NewListingStore(pool)
		deps.SaleStore = postgres.NewSaleStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.ListingCache = redis.NewListingCache(redisClient)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if deps.SaleStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.SaleStore, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	deps.Market = service.NewMarketplace(deps.Ledger, service.Options{
		Listings: deps.ListingStore,
		Sales:    deps.SaleStore,
		Audit:    deps.AuditStore,
		Bus:      deps.SignalBus,
		Cache:    deps.ListingCache,
		Notifier: deps.Notifier,
	}, logger)

	return deps, cleanup, nil
}
