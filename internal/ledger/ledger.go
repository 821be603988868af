// Package ledger implements the marketplace's listing/exchange ledger: the
// registry of fixed-price sale offers, the atomic exchange engine, and the
// append-only sales history. The ledger is the in-process source of truth;
// durable stores and event consumers observe committed transitions through
// the service layer.
//
// Every mutating operation is serialized through a single mutex, so an
// operation either fully commits or fails with no observable side effect.
// The one external interaction, the custody transfer inside Buy, happens
// after the listing is marked sold (checks-effects-interactions); a failed
// transfer rolls the listing back to active.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Ledger owns the listing arena and the sale log. Listing indices are
// assigned at creation, never reused, and remain valid forever; finalized
// listings are retained for history and indexing.
type Ledger struct {
	mu sync.Mutex

	listings []domain.Listing
	sales    []domain.Sale

	// active maps an asset key to its currently active listing index,
	// making the one-active-listing-per-asset invariant an O(1) check.
	active map[string]uint64

	// soldAssets counts completed sales per asset key so IsSold stays
	// correct across re-listings of the same asset.
	soldAssets map[string]int

	gateway domain.AssetGateway
	bank    domain.Bank

	// escrow is the marketplace's own account. Buy moves the payment here
	// before touching custody, mirroring a contract holding msg.value, and
	// forwards it to the seller only once custody has moved.
	escrow common.Address

	logger *slog.Logger

	now func() time.Time
}

// New creates an empty ledger operating against the given custody gateway
// and payment bank, using escrow as the marketplace's holding account.
func New(gateway domain.AssetGateway, bank domain.Bank, escrow common.Address, logger *slog.Logger) *Ledger {
	return &Ledger{
		active:     make(map[string]uint64),
		soldAssets: make(map[string]int),
		gateway:    gateway,
		bank:       bank,
		escrow:     escrow,
		logger:     logger.With(slog.String("component", "ledger")),
		now:        time.Now,
	}
}

// ListItem appends a new active listing for the asset and returns its index.
//
// The caller must currently own the asset; transfer approval is deliberately
// not verified here, matching the observed contract behavior, so a listing
// whose approval is revoked later simply fails at purchase time.
func (ld *Ledger) ListItem(ctx context.Context, seller common.Address, asset domain.AssetRef, price *big.Int) (domain.Listing, error) {
	if price == nil || price.Sign() <= 0 {
		return domain.Listing{}, domain.ErrInvalidPrice
	}

	owner, err := ld.gateway.OwnerOf(ctx, asset.Contract, asset.TokenID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("ledger: owner lookup for %s: %w", asset, err)
	}
	if owner != seller {
		return domain.Listing{}, domain.ErrNotOwner
	}

	ld.mu.Lock()
	defer ld.mu.Unlock()

	key := asset.Key()
	if _, exists := ld.active[key]; exists {
		return domain.Listing{}, domain.ErrAssetListed
	}

	now := ld.now().UTC()
	l := domain.Listing{
		Index:     uint64(len(ld.listings)),
		Seller:    seller,
		Asset:     asset,
		Price:     new(big.Int).Set(price),
		Status:    domain.ListingStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ld.listings = append(ld.listings, l)
	ld.active[key] = l.Index

	ld.logger.InfoContext(ctx, "listing created",
		slog.Uint64("index", l.Index),
		slog.String("seller", seller.Hex()),
		slog.String("asset", asset.String()),
		slog.String("price_wei", price.String()),
	)
	return l.Clone(), nil
}

// CancelListing transitions an active listing to cancelled. Only the
// recorded seller may cancel; no asset movement occurs since the asset never
// left the seller's custody.
func (ld *Ledger) CancelListing(ctx context.Context, caller common.Address, index uint64) (domain.Listing, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	l, err := ld.get(index)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Seller != caller {
		return domain.Listing{}, domain.ErrNotSeller
	}
	if l.Finalized() {
		return domain.Listing{}, domain.ErrAlreadyFinalized
	}

	l.Status = domain.ListingStatusCancelled
	l.UpdatedAt = ld.now().UTC()
	ld.listings[index] = *l
	delete(ld.active, l.Asset.Key())

	ld.logger.InfoContext(ctx, "listing cancelled",
		slog.Uint64("index", index),
		slog.String("seller", caller.Hex()),
	)
	return l.Clone(), nil
}

// UpdatePrice mutates the price of an active listing in place. Only the
// recorded seller may reprice, and the new price must be positive.
func (ld *Ledger) UpdatePrice(ctx context.Context, caller common.Address, index uint64, newPrice *big.Int) (domain.Listing, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	l, err := ld.get(index)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Seller != caller {
		return domain.Listing{}, domain.ErrNotSeller
	}
	if l.Finalized() {
		return domain.Listing{}, domain.ErrAlreadyFinalized
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return domain.Listing{}, domain.ErrInvalidPrice
	}

	l.Price = new(big.Int).Set(newPrice)
	l.UpdatedAt = ld.now().UTC()
	ld.listings[index] = *l

	ld.logger.InfoContext(ctx, "listing repriced",
		slog.Uint64("index", index),
		slog.String("price_wei", newPrice.String()),
	)
	return l.Clone(), nil
}

// Get returns the listing at index.
func (ld *Ledger) Get(index uint64) (domain.Listing, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	l, err := ld.get(index)
	if err != nil {
		return domain.Listing{}, err
	}
	return l.Clone(), nil
}

// Listings returns the full ordered sequence, finalized listings included.
// Callers filter by status themselves.
func (ld *Ledger) Listings() []domain.Listing {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	out := make([]domain.Listing, len(ld.listings))
	for i, l := range ld.listings {
		out[i] = l.Clone()
	}
	return out
}

// ActiveListings returns only the listings currently open for purchase. The
// index entry of a listing mid-purchase is retained until the sale commits,
// so the status check here filters those out.
func (ld *Ledger) ActiveListings() []domain.Listing {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	out := make([]domain.Listing, 0, len(ld.active))
	for _, idx := range ld.active {
		if l := ld.listings[idx]; l.Status == domain.ListingStatusActive {
			out = append(out, l.Clone())
		}
	}
	return out
}

// get returns a pointer-free copy of the listing at index. Callers must hold
// ld.mu.
func (ld *Ledger) get(index uint64) (*domain.Listing, error) {
	if index >= uint64(len(ld.listings)) {
		return nil, domain.ErrListingNotFound
	}
	l := ld.listings[index]
	return &l, nil
}
