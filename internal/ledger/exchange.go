package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Buy executes the atomic payment-for-ownership swap against the listing at
// index. The payment must exactly match the listing price.
//
// Ordering follows checks-effects-interactions: the listing flips to sold
// under the ledger mutex before any external call, so a second buyer or a
// reentrant call from the gateway observes the terminal state and fails with
// ErrAlreadyFinalized instead of double-spending. The payment is pulled into
// the marketplace escrow account first, custody moves second, and the escrow
// forwards to the seller last; a failure at any step refunds and rolls the
// listing back to active with no sale recorded.
func (ld *Ledger) Buy(ctx context.Context, buyer common.Address, index uint64, payment *big.Int) (domain.Sale, error) {
	ld.mu.Lock()
	l, err := ld.get(index)
	if err != nil {
		ld.mu.Unlock()
		return domain.Sale{}, err
	}
	if l.Finalized() {
		ld.mu.Unlock()
		return domain.Sale{}, domain.ErrAlreadyFinalized
	}
	if payment == nil || payment.Cmp(l.Price) != 0 {
		ld.mu.Unlock()
		return domain.Sale{}, domain.ErrWrongPayment
	}

	// Effects before interactions: mark sold so no concurrent buyer, cancel
	// or reprice can pass the status check. The active index entry stays in
	// place until the sale commits; it is what keeps ListItem from opening a
	// second listing for the asset while the swap is in flight.
	l.Status = domain.ListingStatusSold
	l.UpdatedAt = ld.now().UTC()
	ld.listings[index] = *l
	ld.mu.Unlock()

	// Pull the payment into escrow.
	if err := ld.bank.Transfer(ctx, buyer, ld.escrow, l.Price); err != nil {
		ld.rollback(index)
		return domain.Sale{}, fmt.Errorf("ledger: collect payment for listing %d: %w", index, err)
	}

	// Move custody. A revoked approval or an out-of-band ownership change
	// surfaces here; refund the buyer and reopen the listing.
	if err := ld.gateway.TransferFrom(ctx, l.Asset.Contract, l.Seller, buyer, l.Asset.TokenID); err != nil {
		if rerr := ld.bank.Transfer(ctx, ld.escrow, buyer, l.Price); rerr != nil {
			ld.logger.ErrorContext(ctx, "refund failed after custody failure",
				slog.Uint64("index", index),
				slog.String("buyer", buyer.Hex()),
				slog.String("refund_error", rerr.Error()),
			)
		}
		ld.rollback(index)
		return domain.Sale{}, fmt.Errorf("ledger: custody transfer for listing %d: %w", index, err)
	}

	// Forward the escrowed payment to the seller. Escrow is the
	// marketplace's own account, so a failure here is an operational fault,
	// not a caller error: custody already moved, the sale stands, and the
	// stuck funds need operator reconciliation.
	if err := ld.bank.Transfer(ctx, ld.escrow, l.Seller, l.Price); err != nil {
		ld.logger.ErrorContext(ctx, "seller payout failed, funds held in escrow",
			slog.Uint64("index", index),
			slog.String("seller", l.Seller.Hex()),
			slog.String("error", err.Error()),
		)
	}

	sale := domain.Sale{
		ID:           uuid.NewString(),
		ListingIndex: index,
		Seller:       l.Seller,
		Buyer:        buyer,
		Asset:        l.Asset,
		Price:        new(big.Int).Set(l.Price),
		Timestamp:    ld.now().UTC(),
	}

	ld.mu.Lock()
	ld.sales = append(ld.sales, sale)
	ld.soldAssets[l.Asset.Key()]++
	delete(ld.active, l.Asset.Key())
	ld.mu.Unlock()

	ld.logger.InfoContext(ctx, "listing sold",
		slog.Uint64("index", index),
		slog.String("seller", l.Seller.Hex()),
		slog.String("buyer", buyer.Hex()),
		slog.String("price_wei", l.Price.String()),
		slog.String("sale_id", sale.ID),
	)
	return sale.Clone(), nil
}

// rollback reopens a listing after a failed external interaction. The
// active-index entry was never removed for an in-flight buy, so resetting the
// status is the whole undo.
func (ld *Ledger) rollback(index uint64) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	l := ld.listings[index]
	l.Status = domain.ListingStatusActive
	l.UpdatedAt = ld.now().UTC()
	ld.listings[index] = l
}

// Sales returns the full ordered sale history.
func (ld *Ledger) Sales() []domain.Sale {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	out := make([]domain.Sale, len(ld.sales))
	for i, s := range ld.sales {
		out[i] = s.Clone()
	}
	return out
}

// SalesByAsset returns all sale records for one asset identity, oldest first.
func (ld *Ledger) SalesByAsset(asset domain.AssetRef) []domain.Sale {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	key := asset.Key()
	var out []domain.Sale
	for _, s := range ld.sales {
		if s.Asset.Key() == key {
			out = append(out, s.Clone())
		}
	}
	return out
}

// IsSold reports whether any sale record exists for the asset identity. It
// consults the sale history, not listing status, so prior sales are still
// reported after the asset is re-listed by a new owner.
func (ld *Ledger) IsSold(asset domain.AssetRef) bool {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.soldAssets[asset.Key()] > 0
}
