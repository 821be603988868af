package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sale is the immutable record of one completed exchange. Seller and buyer
// are value copies taken at purchase time, not references into the listing.
type Sale struct {
	ID           string // uuid assigned by the exchange engine
	ListingIndex uint64
	Seller       common.Address
	Buyer        common.Address
	Asset        AssetRef
	Price        *big.Int
	Timestamp    time.Time
}

// Clone returns a deep copy of the sale record.
func (s Sale) Clone() Sale {
	out := s
	out.Asset.TokenID = new(big.Int).Set(s.Asset.TokenID)
	out.Price = new(big.Int).Set(s.Price)
	return out
}
