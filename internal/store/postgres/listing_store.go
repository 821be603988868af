package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbazaar/marketd/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Upsert writes the listing row, replacing any prior state for the same index.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (listing_index, seller, asset_contract, asset_token_id, price_wei, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (listing_index) DO UPDATE SET
			price_wei = EXCLUDED.price_wei,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(l.Index),
		strings.ToLower(l.Seller.Hex()),
		strings.ToLower(l.Asset.Contract.Hex()),
		l.Asset.TokenID.String(),
		l.Price.String(),
		string(l.Status),
		l.CreatedAt,
		l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.Index, err)
	}
	return nil
}

// GetByIndex returns the listing with the given index.
func (s *ListingStore) GetByIndex(ctx context.Context, index uint64) (domain.Listing, error) {
	const query = `
		SELECT listing_index, seller, asset_contract, asset_token_id, price_wei, status, created_at, updated_at
		FROM listings WHERE listing_index = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, int64(index)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", index, err)
	}
	return l, nil
}

// List returns listings ordered by index with pagination.
func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `
		SELECT listing_index, seller, asset_contract, asset_token_id, price_wei, status, created_at, updated_at
		FROM listings ORDER BY listing_index`
	query, args := paginate(query, nil, opts)

	return s.queryListings(ctx, query, args...)
}

// ListBySeller returns the seller's listings ordered by index.
func (s *ListingStore) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `
		SELECT listing_index, seller, asset_contract, asset_token_id, price_wei, status, created_at, updated_at
		FROM listings WHERE seller = $1 ORDER BY listing_index`
	query, args := paginate(query, []any{strings.ToLower(seller)}, opts)

	return s.queryListings(ctx, query, args...)
}

// Count returns the total number of listing rows.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return n, nil
}

func (s *ListingStore) queryListings(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: listings rows: %w", err)
	}
	return listings, nil
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l        domain.Listing
		index    int64
		seller   string
		contract string
		tokenID  string
		price    string
		status   string
	)
	err := row.Scan(&index, &seller, &contract, &tokenID, &price, &status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return domain.Listing{}, err
	}

	l.Index = uint64(index)
	l.Seller = common.HexToAddress(seller)
	l.Asset.Contract = common.HexToAddress(contract)
	l.Status = domain.ListingStatus(status)
	if l.Asset.TokenID, err = parseNumeric(tokenID); err != nil {
		return domain.Listing{}, err
	}
	if l.Price, err = parseNumeric(price); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

// paginate appends LIMIT/OFFSET clauses to the query for non-zero opts.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func parseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return n, nil
}
