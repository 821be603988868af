package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ListingStore mirrors committed listing state into durable storage so
// off-chain indexers can query without touching the ledger.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	GetByIndex(ctx context.Context, index uint64) (Listing, error)
	List(ctx context.Context, opts ListOpts) ([]Listing, error)
	ListBySeller(ctx context.Context, seller string, opts ListOpts) ([]Listing, error)
	Count(ctx context.Context) (int64, error)
}

// SaleStore persists the append-only sale history.
type SaleStore interface {
	Insert(ctx context.Context, s Sale) error
	List(ctx context.Context, opts ListOpts) ([]Sale, error)
	ListByAsset(ctx context.Context, assetKey string) ([]Sale, error)
	ListBefore(ctx context.Context, before time.Time) ([]Sale, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SignalBus publishes marketplace events for real-time consumers and appends
// them to a durable stream for catch-up reads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// LockManager provides distributed mutual exclusion. The returned unlock
// function must be called to release the lock; it is safe to call twice.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ListingCache caches the active listing set for cheap market-page reads.
type ListingCache interface {
	SetActive(ctx context.Context, listings []Listing) error
	GetActive(ctx context.Context) ([]Listing, error)
	Invalidate(ctx context.Context) error
}
