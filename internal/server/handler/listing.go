package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/crypto"
	"github.com/nftbazaar/marketd/internal/domain"
)

// MarketplaceService defines the methods the listing and sale handlers
// require from the service layer.
type MarketplaceService interface {
	ListItem(ctx context.Context, seller common.Address, asset domain.AssetRef, price *big.Int) (domain.Listing, error)
	Buy(ctx context.Context, buyer common.Address, index uint64, payment *big.Int) (domain.Sale, error)
	CancelListing(ctx context.Context, caller common.Address, index uint64) (domain.Listing, error)
	UpdatePrice(ctx context.Context, caller common.Address, index uint64, newPrice *big.Int) (domain.Listing, error)
	GetListing(index uint64) (domain.Listing, error)
	AllListings() []domain.Listing
	ActiveListings(ctx context.Context) []domain.Listing
	Sales() []domain.Sale
	SalesByAsset(asset domain.AssetRef) []domain.Sale
	IsSold(asset domain.AssetRef) bool
}

// ListingHandler serves listing lifecycle HTTP endpoints. Mutating requests
// carry an EIP-191 signature over a canonical payload; the recovered address
// is the acting party, so callers cannot act on each other's behalf.
type ListingHandler struct {
	market MarketplaceService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(market MarketplaceService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		market: market,
		logger: logger,
	}
}

// Canonical payloads signed by callers. Fields are joined in request order;
// addresses are lowercased, amounts are decimal wei.
//
//	marketd:list:<contract>:<token_id>:<price>
//	marketd:buy:<index>:<payment>
//	marketd:cancel:<index>
//	marketd:reprice:<index>:<new_price>
func listPayload(contract common.Address, tokenID, price *big.Int) string {
	return fmt.Sprintf("marketd:list:%s:%s:%s",
		strings.ToLower(contract.Hex()), tokenID.String(), price.String())
}

func buyPayload(index uint64, payment *big.Int) string {
	return fmt.Sprintf("marketd:buy:%d:%s", index, payment.String())
}

func cancelPayload(index uint64) string {
	return fmt.Sprintf("marketd:cancel:%d", index)
}

func repricePayload(index uint64, newPrice *big.Int) string {
	return fmt.Sprintf("marketd:reprice:%d:%s", index, newPrice.String())
}

type listListingsResponse struct {
	Listings []listingJSON `json:"listings"`
	Total    int           `json:"total"`
}

// ListListings returns listings. By default the full history is returned in
// index order; ?status=active narrows to the active set.
// GET /api/listings?status=active&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	var listings []domain.Listing
	switch r.URL.Query().Get("status") {
	case "", "all":
		listings = h.market.AllListings()
	case "active":
		listings = h.market.ActiveListings(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "status must be active or all")
		return
	}

	total := len(listings)
	opts := parseListOpts(r)
	listings = page(listings, opts)

	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: toListingsJSON(listings),
		Total:    total,
	})
}

// GetListing returns a single listing by its index.
// GET /api/listings/{index}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing index")
		return
	}

	l, err := h.market.GetListing(index)
	if err != nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(l))
}

type createListingRequest struct {
	Seller        string `json:"seller"`
	AssetContract string `json:"asset_contract"`
	AssetID       string `json:"asset_id"`
	Price         string `json:"price"`
	Signature     string `json:"signature"`
}

// CreateListing lists an asset for sale.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	seller, ok := parseAddress(req.Seller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid seller address")
		return
	}
	contract, ok := parseAddress(req.AssetContract)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset contract address")
		return
	}
	tokenID, ok := parseWei(req.AssetID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	price, ok := parseWei(req.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	if err := crypto.Verify(seller, listPayload(contract, tokenID, price), req.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	asset := domain.AssetRef{Contract: contract, TokenID: tokenID}
	l, err := h.market.ListItem(r.Context(), seller, asset, price)
	if err != nil {
		h.writeDomainError(w, r, "create listing", err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingJSON(l))
}

type buyRequest struct {
	Buyer     string `json:"buyer"`
	Payment   string `json:"payment"`
	Signature string `json:"signature"`
}

// Buy purchases an active listing at its exact asking price.
// POST /api/listings/{index}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing index")
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	buyer, ok := parseAddress(req.Buyer)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid buyer address")
		return
	}
	payment, ok := parseWei(req.Payment)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment amount")
		return
	}

	if err := crypto.Verify(buyer, buyPayload(index, payment), req.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	sale, err := h.market.Buy(r.Context(), buyer, index, payment)
	if err != nil {
		h.writeDomainError(w, r, "buy", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSaleJSON(sale))
}

type cancelRequest struct {
	Caller    string `json:"caller"`
	Signature string `json:"signature"`
}

// CancelListing withdraws an active listing.
// DELETE /api/listings/{index}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing index")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := crypto.Verify(caller, cancelPayload(index), req.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	l, err := h.market.CancelListing(r.Context(), caller, index)
	if err != nil {
		h.writeDomainError(w, r, "cancel listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingJSON(l))
}

type updatePriceRequest struct {
	Caller    string `json:"caller"`
	NewPrice  string `json:"new_price"`
	Signature string `json:"signature"`
}

// UpdatePrice changes the asking price of an active listing.
// PUT /api/listings/{index}/price
func (h *ListingHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing index")
		return
	}

	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	newPrice, ok := parseWei(req.NewPrice)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid new price")
		return
	}

	if err := crypto.Verify(caller, repricePayload(index, newPrice), req.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	l, err := h.market.UpdatePrice(r.Context(), caller, index, newPrice)
	if err != nil {
		h.writeDomainError(w, r, "update price", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingJSON(l))
}

// writeDomainError maps ledger errors onto HTTP status codes. Unknown errors
// are logged and surfaced as a generic 500.
func (h *ListingHandler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrListingNotFound):
		writeError(w, http.StatusNotFound, "listing not found")
	case errors.Is(err, domain.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, "price must be greater than zero")
	case errors.Is(err, domain.ErrWrongPayment):
		writeError(w, http.StatusBadRequest, "payment must equal the asking price")
	case errors.Is(err, domain.ErrNotSeller):
		writeError(w, http.StatusForbidden, "caller is not the seller")
	case errors.Is(err, domain.ErrNotOwner):
		writeError(w, http.StatusForbidden, "caller does not own the asset")
	case errors.Is(err, domain.ErrAlreadyFinalized):
		writeError(w, http.StatusConflict, "listing is no longer active")
	case errors.Is(err, domain.ErrAssetListed):
		writeError(w, http.StatusConflict, "asset already has an active listing")
	case errors.Is(err, domain.ErrNotApproved):
		writeError(w, http.StatusConflict, "marketplace is not approved to transfer the asset")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, "insufficient funds")
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

// page applies limit/offset to an in-memory slice.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
