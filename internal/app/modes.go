package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/server"
	"github.com/nftbazaar/marketd/internal/server/handler"
	"github.com/nftbazaar/marketd/internal/server/ws"
)

// archiveLockKey guards the periodic archive run so only one daemon instance
// uploads a given snapshot.
const archiveLockKey = "archive:sales"

// ServeMode runs the HTTP + WebSocket API and, when configured, the periodic
// sales archiver. It blocks until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	startedAt := time.Now().UTC()

	// WebSocket hub.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// HTTP server.
	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: time.Minute,
		}, server.Handlers{
			Health:   handler.NewHealthHandler(startedAt),
			Listings: handler.NewListingHandler(deps.Market, a.logger),
			Sales:    handler.NewSaleHandler(deps.Market, a.logger),
		}, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Periodic archiver.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runArchiveLoop uploads a sales snapshot once a day. A distributed lock
// keeps concurrent daemon instances from double-uploading.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.archiveOnce(ctx, deps); err != nil {
				a.logger.ErrorContext(ctx, "scheduled archive failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archiveOnce runs a single archive pass behind the distributed lock.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, 10*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive already running elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	count, err := deps.Archiver.ArchiveSales(ctx, cutoff)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "sales archive complete",
		slog.Int64("records", count),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// ArchiveMode runs one archive pass and exits. Intended for cron jobs.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (s3 and postgres required)")
	}
	return a.archiveOnce(ctx, deps)
}

// DemoMode exercises the full listing lifecycle against the in-process
// gateway and bank: mint, approve, list, a rejected underpayment, the
// purchase, and the resulting custody and balance changes. Useful as a smoke
// test of a fresh deployment.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting demo mode")

	if deps.MemRegistry == nil || deps.MemBank == nil {
		return fmt.Errorf("demo mode requires the in-memory gateway (unset chain.rpc_url)")
	}

	var (
		nft    = common.HexToAddress("0x000000000000000000000000000000000000beef")
		seller = common.HexToAddress("0x0000000000000000000000000000000000001001")
		buyer  = common.HexToAddress("0x0000000000000000000000000000000000002002")
		oneEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	)
	asset := domain.AssetRef{Contract: nft, TokenID: big.NewInt(1)}

	if err := deps.MemRegistry.Mint(nft, asset.TokenID, seller); err != nil {
		return fmt.Errorf("demo: mint: %w", err)
	}
	deps.MemRegistry.SetApprovalForAll(seller, deps.MemRegistry.Operator(), true)
	deps.MemBank.Deposit(buyer, new(big.Int).Mul(oneEth, big.NewInt(10)))

	l, err := deps.Market.ListItem(ctx, seller, asset, oneEth)
	if err != nil {
		return fmt.Errorf("demo: list: %w", err)
	}
	a.logger.InfoContext(ctx, "demo: listed",
		slog.Uint64("index", l.Index),
		slog.String("price", l.Price.String()),
	)

	// An underpayment must be rejected without touching custody.
	half := new(big.Int).Div(oneEth, big.NewInt(2))
	if _, err := deps.Market.Buy(ctx, buyer, l.Index, half); !errors.Is(err, domain.ErrWrongPayment) {
		return fmt.Errorf("demo: underpayment should be rejected, got %v", err)
	}
	a.logger.InfoContext(ctx, "demo: underpayment rejected")

	sale, err := deps.Market.Buy(ctx, buyer, l.Index, oneEth)
	if err != nil {
		return fmt.Errorf("demo: buy: %w", err)
	}
	a.logger.InfoContext(ctx, "demo: sold",
		slog.String("sale_id", sale.ID),
		slog.String("buyer", sale.Buyer.Hex()),
	)

	owner, err := deps.MemRegistry.OwnerOf(ctx, nft, asset.TokenID)
	if err != nil {
		return fmt.Errorf("demo: owner lookup: %w", err)
	}
	sellerBalance, _ := deps.MemBank.BalanceOf(ctx, seller)
	a.logger.InfoContext(ctx, "demo: complete",
		slog.String("owner", owner.Hex()),
		slog.String("seller_balance", sellerBalance.String()),
		slog.Bool("asset_sold", deps.Market.IsSold(asset)),
	)
	return nil
}
