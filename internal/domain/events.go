package domain

import (
	"encoding/json"
	"math/big"
	"time"
)

// EventType identifies a marketplace state transition. One event is emitted
// for every committed transition so external indexers can reconstruct state
// without replaying queries.
type EventType string

const (
	EventListed       EventType = "listed"
	EventPriceUpdated EventType = "price_updated"
	EventCancelled    EventType = "cancelled"
	EventSold         EventType = "sold"
)

// Event is the envelope published on the signal bus and forwarded to
// WebSocket subscribers.
type Event struct {
	Type          EventType `json:"type"`
	ListingIndex  uint64    `json:"listing_index"`
	Seller        string    `json:"seller"`
	Buyer         string    `json:"buyer,omitempty"`
	AssetContract string    `json:"asset_contract"`
	AssetID       string    `json:"asset_id"`
	Price         string    `json:"price"` // wei, decimal string
	SaleID        string    `json:"sale_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewListingEvent builds an event from a listing transition.
func NewListingEvent(typ EventType, l Listing) Event {
	return Event{
		Type:          typ,
		ListingIndex:  l.Index,
		Seller:        l.Seller.Hex(),
		AssetContract: l.Asset.Contract.Hex(),
		AssetID:       l.Asset.TokenID.String(),
		Price:         l.Price.String(),
		Timestamp:     l.UpdatedAt,
	}
}

// NewSaleEvent builds the sold event from a completed sale.
func NewSaleEvent(s Sale) Event {
	return Event{
		Type:          EventSold,
		ListingIndex:  s.ListingIndex,
		Seller:        s.Seller.Hex(),
		Buyer:         s.Buyer.Hex(),
		AssetContract: s.Asset.Contract.Hex(),
		AssetID:       s.Asset.TokenID.String(),
		Price:         s.Price.String(),
		SaleID:        s.ID,
		Timestamp:     s.Timestamp,
	}
}

// Marshal serializes the event for bus publication.
func (e Event) Marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// PriceWei parses the event price back into a big integer. Returns nil when
// the payload is malformed.
func (e Event) PriceWei() *big.Int {
	v, ok := new(big.Int).SetString(e.Price, 10)
	if !ok {
		return nil
	}
	return v
}
