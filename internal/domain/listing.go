package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingStatus tracks the listing lifecycle. Sold and Cancelled are
// terminal; no operation transitions out of them.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// AssetRef is the composite identity of an NFT: the collection contract plus
// the token ID within it.
type AssetRef struct {
	Contract common.Address
	TokenID  *big.Int
}

// Key returns a canonical string form usable as a map key and as the asset
// identity in persisted rows ("0x<contract>:<tokenID decimal>").
func (a AssetRef) Key() string {
	return strings.ToLower(a.Contract.Hex()) + ":" + a.TokenID.String()
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s#%s", a.Contract.Hex(), a.TokenID.String())
}

// Listing is one fixed-price sale offer. Listings are never deleted: the
// index assigned at creation is the stable external handle for buy, cancel
// and reprice operations, and finalized listings are retained for indexing.
type Listing struct {
	Index     uint64
	Seller    common.Address
	Asset     AssetRef
	Price     *big.Int // in wei, strictly positive
	Status    ListingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Finalized reports whether the listing has reached a terminal state.
func (l Listing) Finalized() bool {
	return l.Status != ListingStatusActive
}

// Clone returns a deep copy so callers cannot mutate ledger state through a
// returned listing.
func (l Listing) Clone() Listing {
	out := l
	out.Asset.TokenID = new(big.Int).Set(l.Asset.TokenID)
	out.Price = new(big.Int).Set(l.Price)
	return out
}
