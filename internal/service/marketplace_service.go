// Package service orchestrates marketplace operations: it drives the ledger,
// mirrors committed state into durable storage, and fans events out to
// real-time consumers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/ledger"
	"github.com/nftbazaar/marketd/internal/notify"
)

// Bus channel and stream names for marketplace events. Channels are
// per-event-type so subscribers can pick what they care about; the stream is
// a single ordered log of everything.
const (
	ChannelListings = "ch:market:listings"
	ChannelSales    = "ch:market:sales"
	StreamEvents    = "stream:market:events"
)

// Marketplace wraps the ledger with persistence, caching, event publication
// and operator notifications. The ledger remains the source of truth; every
// side effect here is best-effort and never rolls a committed transition
// back.
type Marketplace struct {
	ledger   *ledger.Ledger
	listings domain.ListingStore
	sales    domain.SaleStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	cache    domain.ListingCache
	notifier *notify.Notifier
	logger   *slog.Logger
}

// Options carries the optional collaborators. Any nil field disables that
// side effect; the ledger operations still run.
type Options struct {
	Listings domain.ListingStore
	Sales    domain.SaleStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Cache    domain.ListingCache
	Notifier *notify.Notifier
}

// NewMarketplace creates the marketplace service.
func NewMarketplace(ld *ledger.Ledger, opts Options, logger *slog.Logger) *Marketplace {
	return &Marketplace{
		ledger:   ld,
		listings: opts.Listings,
		sales:    opts.Sales,
		audit:    opts.Audit,
		bus:      opts.Bus,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		logger:   logger.With(slog.String("component", "marketplace")),
	}
}

// ListItem creates a listing and publishes the listed event.
func (m *Marketplace) ListItem(ctx context.Context, seller common.Address, asset domain.AssetRef, price *big.Int) (domain.Listing, error) {
	l, err := m.ledger.ListItem(ctx, seller, asset, price)
	if err != nil {
		return domain.Listing{}, err
	}

	m.mirrorListing(ctx, l)
	m.publish(ctx, ChannelListings, domain.NewListingEvent(domain.EventListed, l))
	m.auditLog(ctx, "listing.created", map[string]any{
		"index":  l.Index,
		"seller": l.Seller.Hex(),
		"asset":  l.Asset.Key(),
		"price":  l.Price.String(),
	})
	return l, nil
}

// Buy executes a purchase and publishes the sold event.
func (m *Marketplace) Buy(ctx context.Context, buyer common.Address, index uint64, payment *big.Int) (domain.Sale, error) {
	sale, err := m.ledger.Buy(ctx, buyer, index, payment)
	if err != nil {
		return domain.Sale{}, err
	}

	if l, lerr := m.ledger.Get(index); lerr == nil {
		m.mirrorListing(ctx, l)
	}
	if m.sales != nil {
		if err := m.sales.Insert(ctx, sale); err != nil {
			m.logger.ErrorContext(ctx, "sale mirror failed",
				slog.String("sale_id", sale.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.publish(ctx, ChannelSales, domain.NewSaleEvent(sale))
	m.auditLog(ctx, "listing.sold", map[string]any{
		"index":   sale.ListingIndex,
		"sale_id": sale.ID,
		"buyer":   sale.Buyer.Hex(),
		"price":   sale.Price.String(),
	})
	m.notifySale(ctx, sale)
	return sale, nil
}

// CancelListing cancels a listing and publishes the cancelled event.
func (m *Marketplace) CancelListing(ctx context.Context, caller common.Address, index uint64) (domain.Listing, error) {
	l, err := m.ledger.CancelListing(ctx, caller, index)
	if err != nil {
		return domain.Listing{}, err
	}

	m.mirrorListing(ctx, l)
	m.publish(ctx, ChannelListings, domain.NewListingEvent(domain.EventCancelled, l))
	m.auditLog(ctx, "listing.cancelled", map[string]any{
		"index":  l.Index,
		"seller": l.Seller.Hex(),
	})
	return l, nil
}

// UpdatePrice reprices a listing and publishes the price_updated event.
func (m *Marketplace) UpdatePrice(ctx context.Context, caller common.Address, index uint64, newPrice *big.Int) (domain.Listing, error) {
	l, err := m.ledger.UpdatePrice(ctx, caller, index, newPrice)
	if err != nil {
		return domain.Listing{}, err
	}

	m.mirrorListing(ctx, l)
	m.publish(ctx, ChannelListings, domain.NewListingEvent(domain.EventPriceUpdated, l))
	m.auditLog(ctx, "listing.repriced", map[string]any{
		"index": l.Index,
		"price": l.Price.String(),
	})
	return l, nil
}

// GetListing returns the listing with the given index.
func (m *Marketplace) GetListing(index uint64) (domain.Listing, error) {
	return m.ledger.Get(index)
}

// AllListings returns every listing ever created, ordered by index.
func (m *Marketplace) AllListings() []domain.Listing {
	return m.ledger.Listings()
}

// ActiveListings returns the active set, served from cache when warm.
func (m *Marketplace) ActiveListings(ctx context.Context) []domain.Listing {
	if m.cache != nil {
		if cached, err := m.cache.GetActive(ctx); err == nil {
			return cached
		}
	}

	active := m.ledger.ActiveListings()
	if m.cache != nil {
		if err := m.cache.SetActive(ctx, active); err != nil {
			m.logger.WarnContext(ctx, "active listing cache refresh failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return active
}

// Sales returns the full sale history in order of occurrence.
func (m *Marketplace) Sales() []domain.Sale {
	return m.ledger.Sales()
}

// SalesByAsset returns all sales of one asset, oldest first.
func (m *Marketplace) SalesByAsset(asset domain.AssetRef) []domain.Sale {
	return m.ledger.SalesByAsset(asset)
}

// IsSold reports whether the asset has ever been sold through the
// marketplace.
func (m *Marketplace) IsSold(asset domain.AssetRef) bool {
	return m.ledger.IsSold(asset)
}

// mirrorListing writes the listing row to durable storage and invalidates
// the active-set cache. Mirror failures are logged, not returned: the ledger
// already committed.
func (m *Marketplace) mirrorListing(ctx context.Context, l domain.Listing) {
	if m.listings != nil {
		if err := m.listings.Upsert(ctx, l); err != nil {
			m.logger.ErrorContext(ctx, "listing mirror failed",
				slog.Uint64("index", l.Index),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx); err != nil {
			m.logger.WarnContext(ctx, "listing cache invalidate failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Marketplace) publish(ctx context.Context, channel string, ev domain.Event) {
	if m.bus == nil {
		return
	}
	payload := ev.Marshal()
	if payload == nil {
		return
	}
	if err := m.bus.Publish(ctx, channel, payload); err != nil {
		m.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := m.bus.StreamAppend(ctx, StreamEvents, payload); err != nil {
		m.logger.WarnContext(ctx, "event stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Marketplace) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Marketplace) notifySale(ctx context.Context, sale domain.Sale) {
	if m.notifier == nil {
		return
	}
	title := "Sale completed"
	message := fmt.Sprintf("%s sold to %s for %s wei (listing %d)",
		sale.Asset.String(), sale.Buyer.Hex(), sale.Price.String(), sale.ListingIndex)
	if err := m.notifier.Notify(ctx, "sold", title, message); err != nil {
		m.logger.WarnContext(ctx, "sale notification failed",
			slog.String("sale_id", sale.ID),
			slog.String("error", err.Error()),
		)
	}
}
