package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbazaar/marketd/internal/domain"
)

// SaleStore implements domain.SaleStore using PostgreSQL. Sales are
// append-only; there is no update or delete path.
type SaleStore struct {
	pool *pgxpool.Pool
}

// NewSaleStore creates a new SaleStore backed by the given connection pool.
func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// Insert appends a sale record.
func (s *SaleStore) Insert(ctx context.Context, sale domain.Sale) error {
	const query = `
		INSERT INTO sales (id, listing_index, seller, buyer, asset_contract, asset_token_id, price_wei, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		sale.ID,
		int64(sale.ListingIndex),
		strings.ToLower(sale.Seller.Hex()),
		strings.ToLower(sale.Buyer.Hex()),
		strings.ToLower(sale.Asset.Contract.Hex()),
		sale.Asset.TokenID.String(),
		sale.Price.String(),
		sale.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert sale %s: %w", sale.ID, err)
	}
	return nil
}

// List returns sales ordered by occurrence time with pagination.
func (s *SaleStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Sale, error) {
	query := `
		SELECT id, listing_index, seller, buyer, asset_contract, asset_token_id, price_wei, occurred_at
		FROM sales ORDER BY occurred_at`
	query, args := paginate(query, nil, opts)

	return s.querySales(ctx, query, args...)
}

// ListByAsset returns every sale of the asset identified by the canonical
// asset key, oldest first.
func (s *SaleStore) ListByAsset(ctx context.Context, assetKey string) ([]domain.Sale, error) {
	contract, tokenID, ok := strings.Cut(assetKey, ":")
	if !ok {
		return nil, fmt.Errorf("postgres: malformed asset key %q", assetKey)
	}

	const query = `
		SELECT id, listing_index, seller, buyer, asset_contract, asset_token_id, price_wei, occurred_at
		FROM sales WHERE asset_contract = $1 AND asset_token_id = $2 ORDER BY occurred_at`

	return s.querySales(ctx, query, strings.ToLower(contract), tokenID)
}

// ListBefore returns sales that occurred strictly before the given time,
// oldest first. Used by the archiver to select rows for cold storage.
func (s *SaleStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Sale, error) {
	const query = `
		SELECT id, listing_index, seller, buyer, asset_contract, asset_token_id, price_wei, occurred_at
		FROM sales WHERE occurred_at < $1 ORDER BY occurred_at`

	return s.querySales(ctx, query, before)
}

func (s *SaleStore) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query sales: %w", err)
	}
	defer rows.Close()

	var sales []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sales rows: %w", err)
	}
	return sales, nil
}

func scanSale(row pgx.Row) (domain.Sale, error) {
	var (
		sale     domain.Sale
		index    int64
		seller   string
		buyer    string
		contract string
		tokenID  string
		price    string
	)
	err := row.Scan(&sale.ID, &index, &seller, &buyer, &contract, &tokenID, &price, &sale.Timestamp)
	if err != nil {
		return domain.Sale{}, err
	}

	sale.ListingIndex = uint64(index)
	sale.Seller = common.HexToAddress(seller)
	sale.Buyer = common.HexToAddress(buyer)
	sale.Asset.Contract = common.HexToAddress(contract)
	if sale.Asset.TokenID, err = parseNumeric(tokenID); err != nil {
		return domain.Sale{}, err
	}
	if sale.Price, err = parseNumeric(price); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}
