package handler

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseIndex parses a listing index path parameter.
func parseIndex(r *http.Request) (uint64, bool) {
	v := pathParam(r, "index")
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseAddress validates and normalizes a hex address field.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseWei parses a decimal wei amount.
func parseWei(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, false
	}
	return n, true
}

// listingJSON is the wire representation of a listing. Big integers go out as
// decimal strings so clients never hit float precision.
type listingJSON struct {
	Index         uint64 `json:"index"`
	Seller        string `json:"seller"`
	AssetContract string `json:"asset_contract"`
	AssetID       string `json:"asset_id"`
	Price         string `json:"price"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toListingJSON(l domain.Listing) listingJSON {
	return listingJSON{
		Index:         l.Index,
		Seller:        l.Seller.Hex(),
		AssetContract: l.Asset.Contract.Hex(),
		AssetID:       l.Asset.TokenID.String(),
		Price:         l.Price.String(),
		Status:        string(l.Status),
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     l.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toListingsJSON(listings []domain.Listing) []listingJSON {
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingJSON(l))
	}
	return out
}

// saleJSON is the wire representation of a sale record.
type saleJSON struct {
	ID            string `json:"id"`
	ListingIndex  uint64 `json:"listing_index"`
	Seller        string `json:"seller"`
	Buyer         string `json:"buyer"`
	AssetContract string `json:"asset_contract"`
	AssetID       string `json:"asset_id"`
	Price         string `json:"price"`
	Timestamp     string `json:"timestamp"`
}

func toSaleJSON(s domain.Sale) saleJSON {
	return saleJSON{
		ID:            s.ID,
		ListingIndex:  s.ListingIndex,
		Seller:        s.Seller.Hex(),
		Buyer:         s.Buyer.Hex(),
		AssetContract: s.Asset.Contract.Hex(),
		AssetID:       s.Asset.TokenID.String(),
		Price:         s.Price.String(),
		Timestamp:     s.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func toSalesJSON(sales []domain.Sale) []saleJSON {
	out := make([]saleJSON, 0, len(sales))
	for _, s := range sales {
		out = append(out, toSaleJSON(s))
	}
	return out
}
