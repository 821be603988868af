package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/gateway/mem"
	"github.com/nftbazaar/marketd/internal/ledger"
)

var (
	nftContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	marketAddr  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	sellerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	buyerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// fakeListingStore records listing upserts in memory.
type fakeListingStore struct {
	mu       sync.Mutex
	listings map[uint64]domain.Listing
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{listings: make(map[uint64]domain.Listing)}
}

func (f *fakeListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[l.Index] = l
	return nil
}

func (f *fakeListingStore) GetByIndex(ctx context.Context, index uint64) (domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[index]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return l, nil
}

func (f *fakeListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	return nil, nil
}

func (f *fakeListingStore) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error) {
	return nil, nil
}

func (f *fakeListingStore) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.listings)), nil
}

func (f *fakeListingStore) status(index uint64) domain.ListingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings[index].Status
}

// fakeSaleStore records inserted sales.
type fakeSaleStore struct {
	mu    sync.Mutex
	sales []domain.Sale
}

func (f *fakeSaleStore) Insert(ctx context.Context, s domain.Sale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sales = append(f.sales, s)
	return nil
}

func (f *fakeSaleStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Sale, error) {
	return nil, nil
}

func (f *fakeSaleStore) ListByAsset(ctx context.Context, assetKey string) ([]domain.Sale, error) {
	return nil, nil
}

func (f *fakeSaleStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Sale, error) {
	return nil, nil
}

func (f *fakeSaleStore) all() []domain.Sale {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Sale(nil), f.sales...)
}

// fakeAuditStore records audit event names.
type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// fakeBus captures published events per channel.
type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	stream   [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{messages: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *fakeBus) events(t *testing.T, channel string) []domain.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Event
	for _, raw := range b.messages[channel] {
		var ev domain.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func (b *fakeBus) streamLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stream)
}

type fixture struct {
	market   *Marketplace
	listings *fakeListingStore
	sales    *fakeSaleStore
	audit    *fakeAuditStore
	bus      *fakeBus
	asset    domain.AssetRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := mem.NewRegistry(marketAddr)
	bank := mem.NewBank()
	asset := domain.AssetRef{Contract: nftContract, TokenID: big.NewInt(1)}
	if err := reg.Mint(nftContract, asset.TokenID, sellerAddr); err != nil {
		t.Fatalf("mint: %v", err)
	}
	reg.SetApprovalForAll(sellerAddr, marketAddr, true)
	bank.Deposit(buyerAddr, new(big.Int).Mul(oneEther, big.NewInt(10)))

	ld := ledger.New(reg, bank, marketAddr, logger)
	f := &fixture{
		listings: newFakeListingStore(),
		sales:    &fakeSaleStore{},
		audit:    &fakeAuditStore{},
		bus:      newFakeBus(),
		asset:    asset,
	}
	f.market = NewMarketplace(ld, Options{
		Listings: f.listings,
		Sales:    f.sales,
		Audit:    f.audit,
		Bus:      f.bus,
	}, logger)
	return f
}

func TestListItemPublishesAndMirrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.market.ListItem(ctx, sellerAddr, f.asset, oneEther)
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}

	if _, err := f.listings.GetByIndex(ctx, l.Index); err != nil {
		t.Fatal("listing was not mirrored to the store")
	}

	evs := f.bus.events(t, ChannelListings)
	if len(evs) != 1 {
		t.Fatalf("expected 1 listing event, got %d", len(evs))
	}
	if evs[0].Type != domain.EventListed {
		t.Fatalf("expected %q event, got %q", domain.EventListed, evs[0].Type)
	}
	if evs[0].Price != oneEther.String() {
		t.Fatalf("event price = %s, want %s", evs[0].Price, oneEther)
	}
	if f.bus.streamLen() != 1 {
		t.Fatalf("expected 1 stream append, got %d", f.bus.streamLen())
	}
}

func TestBuyPublishesSoldEventAndRecordsSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.market.ListItem(ctx, sellerAddr, f.asset, oneEther)
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}

	sale, err := f.market.Buy(ctx, buyerAddr, l.Index, oneEther)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}

	mirrored := f.sales.all()
	if len(mirrored) != 1 || mirrored[0].ID != sale.ID {
		t.Fatalf("sale was not mirrored: %+v", mirrored)
	}
	if got := f.listings.status(l.Index); got != domain.ListingStatusSold {
		t.Fatalf("mirrored listing status = %q, want sold", got)
	}

	evs := f.bus.events(t, ChannelSales)
	if len(evs) != 1 {
		t.Fatalf("expected 1 sale event, got %d", len(evs))
	}
	if evs[0].Type != domain.EventSold {
		t.Fatalf("expected %q event, got %q", domain.EventSold, evs[0].Type)
	}
	if evs[0].SaleID != sale.ID {
		t.Fatalf("event sale id = %s, want %s", evs[0].SaleID, sale.ID)
	}
	if evs[0].Buyer != buyerAddr.Hex() {
		t.Fatalf("event buyer = %s, want %s", evs[0].Buyer, buyerAddr.Hex())
	}
}

func TestBuyFailureEmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.market.ListItem(ctx, sellerAddr, f.asset, oneEther)
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}

	half := new(big.Int).Div(oneEther, big.NewInt(2))
	if _, err := f.market.Buy(ctx, buyerAddr, l.Index, half); err == nil {
		t.Fatal("expected wrong payment error")
	}

	if len(f.bus.events(t, ChannelSales)) != 0 {
		t.Fatal("failed buy must not publish a sale event")
	}
	if len(f.sales.all()) != 0 {
		t.Fatal("failed buy must not record a sale")
	}
}

func TestCancelAndRepriceEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.market.ListItem(ctx, sellerAddr, f.asset, oneEther)
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}

	twoEther := new(big.Int).Mul(oneEther, big.NewInt(2))
	if _, err := f.market.UpdatePrice(ctx, sellerAddr, l.Index, twoEther); err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}
	if _, err := f.market.CancelListing(ctx, sellerAddr, l.Index); err != nil {
		t.Fatalf("CancelListing: %v", err)
	}

	evs := f.bus.events(t, ChannelListings)
	if len(evs) != 3 {
		t.Fatalf("expected 3 listing events, got %d", len(evs))
	}
	if evs[1].Type != domain.EventPriceUpdated || evs[1].Price != twoEther.String() {
		t.Fatalf("unexpected reprice event: %+v", evs[1])
	}
	if evs[2].Type != domain.EventCancelled {
		t.Fatalf("unexpected final event: %+v", evs[2])
	}

	if got := f.listings.status(l.Index); got != domain.ListingStatusCancelled {
		t.Fatalf("mirrored status = %q, want cancelled", got)
	}
}

func TestAuditTrailNamesEveryTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.market.ListItem(ctx, sellerAddr, f.asset, oneEther)
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}
	if _, err := f.market.Buy(ctx, buyerAddr, l.Index, oneEther); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	want := []string{"listing.created", "listing.sold"}
	f.audit.mu.Lock()
	got := append([]string(nil), f.audit.events...)
	f.audit.mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("audit events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit events = %v, want %v", got, want)
		}
	}
}

func TestSideEffectsAreOptional(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := mem.NewRegistry(marketAddr)
	bank := mem.NewBank()
	asset := domain.AssetRef{Contract: nftContract, TokenID: big.NewInt(7)}
	if err := reg.Mint(nftContract, asset.TokenID, sellerAddr); err != nil {
		t.Fatalf("mint: %v", err)
	}
	reg.SetApprovalForAll(sellerAddr, marketAddr, true)
	bank.Deposit(buyerAddr, oneEther)

	market := NewMarketplace(ledger.New(reg, bank, marketAddr, logger), Options{}, logger)

	ctx := context.Background()
	l, err := market.ListItem(ctx, sellerAddr, asset, oneEther)
	if err != nil {
		t.Fatalf("ListItem with no collaborators: %v", err)
	}
	if _, err := market.Buy(ctx, buyerAddr, l.Index, oneEther); err != nil {
		t.Fatalf("Buy with no collaborators: %v", err)
	}
	if !market.IsSold(asset) {
		t.Fatal("IsSold should be true after the purchase")
	}
}
