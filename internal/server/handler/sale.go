package handler

import (
	"log/slog"
	"net/http"

	"github.com/nftbazaar/marketd/internal/domain"
)

// SaleHandler serves sale history HTTP endpoints.
type SaleHandler struct {
	market MarketplaceService
	logger *slog.Logger
}

// NewSaleHandler creates a SaleHandler with the given service and logger.
func NewSaleHandler(market MarketplaceService, logger *slog.Logger) *SaleHandler {
	return &SaleHandler{
		market: market,
		logger: logger,
	}
}

type listSalesResponse struct {
	Sales []saleJSON `json:"sales"`
	Total int        `json:"total"`
}

// ListSales returns the sale history in order of occurrence, optionally
// narrowed to one asset.
// GET /api/sales?asset_contract=0x...&asset_id=1&limit=50&offset=0
func (h *SaleHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contractHex := q.Get("asset_contract")
	tokenIDStr := q.Get("asset_id")

	var sales []domain.Sale
	if contractHex != "" || tokenIDStr != "" {
		contract, ok := parseAddress(contractHex)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid contract address")
			return
		}
		tokenID, ok := parseWei(tokenIDStr)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid token id")
			return
		}
		sales = h.market.SalesByAsset(domain.AssetRef{Contract: contract, TokenID: tokenID})
	} else {
		sales = h.market.Sales()
	}

	total := len(sales)
	sales = page(sales, parseListOpts(r))

	writeJSON(w, http.StatusOK, listSalesResponse{
		Sales: toSalesJSON(sales),
		Total: total,
	})
}

type soldResponse struct {
	AssetContract string `json:"asset_contract"`
	AssetID       string `json:"asset_id"`
	Sold          bool   `json:"sold"`
	SaleCount     int    `json:"sale_count"`
}

// IsSold reports whether the asset has ever been sold through the
// marketplace, regardless of its current listing status.
// GET /api/assets/{contract}/{id}/sold
func (h *SaleHandler) IsSold(w http.ResponseWriter, r *http.Request) {
	contract, ok := parseAddress(pathParam(r, "contract"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid contract address")
		return
	}
	tokenID, ok := parseWei(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	asset := domain.AssetRef{Contract: contract, TokenID: tokenID}
	writeJSON(w, http.StatusOK, soldResponse{
		AssetContract: contract.Hex(),
		AssetID:       tokenID.String(),
		Sold:          h.market.IsSold(asset),
		SaleCount:     len(h.market.SalesByAsset(asset)),
	})
}
