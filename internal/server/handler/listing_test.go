package handler

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nftbazaar/marketd/internal/crypto"
	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/gateway/mem"
	"github.com/nftbazaar/marketd/internal/ledger"
	"github.com/nftbazaar/marketd/internal/service"
)

var (
	testContract = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	testEscrow   = common.HexToAddress("0x0000000000000000000000000000000000000e5c")
)

var testEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type httpFixture struct {
	mux    *http.ServeMux
	seller *crypto.Signer
	buyer  *crypto.Signer
	asset  domain.AssetRef
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

// newHTTPFixture wires the real ledger and service behind the handlers so
// requests exercise the full path from JSON body to state transition. The
// seller owns token 1 and the buyer holds 10 ETH.
func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seller := newSigner(t)
	buyer := newSigner(t)

	reg := mem.NewRegistry(testEscrow)
	bank := mem.NewBank()
	asset := domain.AssetRef{Contract: testContract, TokenID: big.NewInt(1)}
	if err := reg.Mint(testContract, asset.TokenID, seller.Address()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	reg.SetApprovalForAll(seller.Address(), testEscrow, true)
	bank.Deposit(buyer.Address(), new(big.Int).Mul(testEther, big.NewInt(10)))

	market := service.NewMarketplace(
		ledger.New(reg, bank, testEscrow, logger),
		service.Options{},
		logger,
	)

	listings := NewListingHandler(market, logger)
	sales := NewSaleHandler(market, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/listings", listings.ListListings)
	mux.HandleFunc("POST /api/listings", listings.CreateListing)
	mux.HandleFunc("GET /api/listings/{index}", listings.GetListing)
	mux.HandleFunc("POST /api/listings/{index}/buy", listings.Buy)
	mux.HandleFunc("DELETE /api/listings/{index}", listings.CancelListing)
	mux.HandleFunc("PUT /api/listings/{index}/price", listings.UpdatePrice)
	mux.HandleFunc("GET /api/sales", sales.ListSales)
	mux.HandleFunc("GET /api/assets/{contract}/{id}/sold", sales.IsSold)

	return &httpFixture{mux: mux, seller: seller, buyer: buyer, asset: asset}
}

func (f *httpFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func sign(t *testing.T, s *crypto.Signer, payload string) string {
	t.Helper()
	sig, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

// list creates an active listing at the given price and returns its index.
func (f *httpFixture) list(t *testing.T, price *big.Int) uint64 {
	t.Helper()

	payload := fmt.Sprintf("marketd:list:%s:%s:%s",
		strings.ToLower(f.asset.Contract.Hex()), f.asset.TokenID, price)
	rec := f.do(t, http.MethodPost, "/api/listings", map[string]string{
		"seller":         f.seller.Address().Hex(),
		"asset_contract": f.asset.Contract.Hex(),
		"asset_id":       f.asset.TokenID.String(),
		"price":          price.String(),
		"signature":      sign(t, f.seller, payload),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create listing status = %d, body %s", rec.Code, rec.Body)
	}

	var l listingJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	return l.Index
}

func TestCreateAndGetListing(t *testing.T) {
	f := newHTTPFixture(t)
	index := f.list(t, testEther)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/listings/%d", index), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get listing status = %d", rec.Code)
	}

	var l listingJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l.Seller != f.seller.Address().Hex() {
		t.Errorf("seller = %s, want %s", l.Seller, f.seller.Address().Hex())
	}
	if l.Price != testEther.String() {
		t.Errorf("price = %s, want %s", l.Price, testEther)
	}
	if l.Status != "active" {
		t.Errorf("status = %q, want active", l.Status)
	}
}

func TestListListingsFiltersByStatus(t *testing.T) {
	f := newHTTPFixture(t)
	index := f.list(t, testEther)

	cancelSig := sign(t, f.seller, fmt.Sprintf("marketd:cancel:%d", index))
	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/listings/%d", index), map[string]string{
		"caller":    f.seller.Address().Hex(),
		"signature": cancelSig,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/api/listings?status=active", nil)
	var active listListingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &active); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if active.Total != 0 {
		t.Errorf("active total = %d, want 0", active.Total)
	}

	rec = f.do(t, http.MethodGet, "/api/listings", nil)
	var all listListingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if all.Total != 1 {
		t.Errorf("all total = %d, want 1", all.Total)
	}
	if all.Listings[0].Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", all.Listings[0].Status)
	}

	rec = f.do(t, http.MethodGet, "/api/listings?status=stale", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", rec.Code)
	}
}

func TestBuyRecordsSaleAndMarksSold(t *testing.T) {
	f := newHTTPFixture(t)
	index := f.list(t, testEther)

	buySig := sign(t, f.buyer, fmt.Sprintf("marketd:buy:%d:%s", index, testEther))
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/listings/%d/buy", index), map[string]string{
		"buyer":     f.buyer.Address().Hex(),
		"payment":   testEther.String(),
		"signature": buySig,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("buy status = %d, body %s", rec.Code, rec.Body)
	}

	var sale saleJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.Buyer != f.buyer.Address().Hex() {
		t.Errorf("buyer = %s, want %s", sale.Buyer, f.buyer.Address().Hex())
	}
	if sale.ID == "" {
		t.Error("sale id is empty")
	}

	rec = f.do(t, http.MethodGet, "/api/sales", nil)
	var resp listSalesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sales: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("sales total = %d, want 1", resp.Total)
	}

	// Narrowed to the sold asset by query parameter.
	filtered := fmt.Sprintf("/api/sales?asset_contract=%s&asset_id=%s", f.asset.Contract.Hex(), f.asset.TokenID)
	rec = f.do(t, http.MethodGet, filtered, nil)
	resp = listSalesResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode filtered sales: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("filtered sales total = %d, want 1", resp.Total)
	}

	path := fmt.Sprintf("/api/assets/%s/%s/sold", f.asset.Contract.Hex(), f.asset.TokenID)
	rec = f.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sold status = %d", rec.Code)
	}
	var sold soldResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sold); err != nil {
		t.Fatalf("decode sold: %v", err)
	}
	if !sold.Sold || sold.SaleCount != 1 {
		t.Errorf("sold = %+v, want sold with one sale", sold)
	}
}

func TestUpdatePrice(t *testing.T) {
	f := newHTTPFixture(t)
	index := f.list(t, testEther)

	twoEther := new(big.Int).Mul(testEther, big.NewInt(2))
	sig := sign(t, f.seller, fmt.Sprintf("marketd:reprice:%d:%s", index, twoEther))
	rec := f.do(t, http.MethodPut, fmt.Sprintf("/api/listings/%d/price", index), map[string]string{
		"caller":    f.seller.Address().Hex(),
		"new_price": twoEther.String(),
		"signature": sig,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update price status = %d, body %s", rec.Code, rec.Body)
	}

	var l listingJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l.Price != twoEther.String() {
		t.Errorf("price = %s, want %s", l.Price, twoEther)
	}
}

func TestRejectsBadSignature(t *testing.T) {
	f := newHTTPFixture(t)
	index := f.list(t, testEther)

	// Signed by the buyer but claiming to be the seller.
	sig := sign(t, f.buyer, fmt.Sprintf("marketd:cancel:%d", index))
	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/listings/%d", index), map[string]string{
		"caller":    f.seller.Address().Hex(),
		"signature": sig,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged cancel status = %d, want 401", rec.Code)
	}

	// Valid signature over a different price than the request carries.
	twoEther := new(big.Int).Mul(testEther, big.NewInt(2))
	sig = sign(t, f.seller, fmt.Sprintf("marketd:reprice:%d:%s", index, testEther))
	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/listings/%d/price", index), map[string]string{
		"caller":    f.seller.Address().Hex(),
		"new_price": twoEther.String(),
		"signature": sig,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered reprice status = %d, want 401", rec.Code)
	}
}

func TestDomainErrorMapping(t *testing.T) {
	f := newHTTPFixture(t)
	index := f.list(t, testEther)

	// Underpayment maps to 400.
	half := new(big.Int).Div(testEther, big.NewInt(2))
	sig := sign(t, f.buyer, fmt.Sprintf("marketd:buy:%d:%s", index, half))
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/listings/%d/buy", index), map[string]string{
		"buyer":     f.buyer.Address().Hex(),
		"payment":   half.String(),
		"signature": sig,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("underpaid buy status = %d, want 400", rec.Code)
	}

	// A stranger cancelling maps to 403.
	sig = sign(t, f.buyer, fmt.Sprintf("marketd:cancel:%d", index))
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/listings/%d", index), map[string]string{
		"caller":    f.buyer.Address().Hex(),
		"signature": sig,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger cancel status = %d, want 403", rec.Code)
	}

	// Cancelling twice maps to 409.
	sig = sign(t, f.seller, fmt.Sprintf("marketd:cancel:%d", index))
	body := map[string]string{
		"caller":    f.seller.Address().Hex(),
		"signature": sig,
	}
	if rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/listings/%d", index), body); rec.Code != http.StatusOK {
		t.Fatalf("first cancel status = %d, body %s", rec.Code, rec.Body)
	}
	if rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/listings/%d", index), body); rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}

	// Unknown index maps to 404.
	sig = sign(t, f.buyer, fmt.Sprintf("marketd:buy:99:%s", testEther))
	rec = f.do(t, http.MethodPost, "/api/listings/99/buy", map[string]string{
		"buyer":     f.buyer.Address().Hex(),
		"payment":   testEther.String(),
		"signature": sig,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing listing buy status = %d, want 404", rec.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/api/listings", map[string]string{
		"seller":         "not-an-address",
		"asset_contract": testContract.Hex(),
		"asset_id":       "1",
		"price":          "100",
		"signature":      "0x00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad seller status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/listings/notanumber", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad index status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/sales?asset_contract=bogus&asset_id=1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad sales filter status = %d, want 400", rec.Code)
	}
}

func TestPagination(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	got := page(items, domain.ListOpts{Limit: 2, Offset: 1})
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("page = %v, want [2 3]", got)
	}
	if got := page(items, domain.ListOpts{Offset: 10}); got != nil {
		t.Errorf("out of range page = %v, want nil", got)
	}
	if got := page(items, domain.ListOpts{Limit: 10}); len(got) != 5 {
		t.Errorf("oversized limit page = %v, want all items", got)
	}
}
