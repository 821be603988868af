package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nftbazaar/marketd/internal/domain"
)

const activeListingsTTL = time.Minute

// activeListingsKey holds the JSON-serialized active listing set.
const activeListingsKey = "listings:active"

// ListingCache implements domain.ListingCache using a single Redis string
// holding the JSON-encoded active set. The set is small by construction (one
// entry per listed asset) so whole-set replacement is cheaper than per-entry
// bookkeeping.
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

// SetActive replaces the cached active listing set.
func (lc *ListingCache) SetActive(ctx context.Context, listings []domain.Listing) error {
	data, err := json.Marshal(listings)
	if err != nil {
		return fmt.Errorf("redis: marshal active listings: %w", err)
	}
	if err := lc.rdb.Set(ctx, activeListingsKey, data, activeListingsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set active listings: %w", err)
	}
	return nil
}

// GetActive returns the cached active listing set.
// It returns domain.ErrNotFound when the cache is cold or expired.
func (lc *ListingCache) GetActive(ctx context.Context) ([]domain.Listing, error) {
	data, err := lc.rdb.Get(ctx, activeListingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get active listings: %w", err)
	}

	var listings []domain.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("redis: unmarshal active listings: %w", err)
	}
	return listings, nil
}

// Invalidate drops the cached active set.
func (lc *ListingCache) Invalidate(ctx context.Context) error {
	if err := lc.rdb.Del(ctx, activeListingsKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate active listings: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
