// Package model defines the core domain types shared across the economy engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a player's spendable cash balance. Mutated only through the
// ledger transfer primitive; balance never goes negative.
type Wallet struct {
	PlayerID string          `json:"player_id" db:"player_id"`
	Balance  decimal.Decimal `json:"balance" db:"balance"`
}

// InventoryLine is one player's holding of one good, with weighted-average
// acquisition cost. AvgCost is recomputed on every inbound credit; outbound
// debits only reduce Quantity. Lines at quantity zero are deleted.
type InventoryLine struct {
	PlayerID string          `json:"player_id" db:"player_id"`
	GoodID   string          `json:"good_id" db:"good_id"`
	Quantity int64           `json:"quantity" db:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// ListingStatus is the lifecycle state of a marketplace listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

// listingTransitions is the exhaustive transition table. Sold, cancelled
// and expired are terminal.
var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingActive: {ListingSold, ListingCancelled, ListingExpired},
}

// CanTransitionTo reports whether the status may move to next.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	for _, t := range listingTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Listing is a fixed-price sell order. The listed goods are escrowed out of
// the seller's inventory at creation, so a buy never debits the seller.
type Listing struct {
	ID           string          `json:"id" db:"id"`
	SellerID     string          `json:"seller_id" db:"seller_id"`
	GoodID       string          `json:"good_id" db:"good_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	DistrictID   string          `json:"district_id" db:"district_id"`
	Status       ListingStatus   `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
}

// OfferStatus is the lifecycle state of a trade offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferPending: {OfferAccepted, OfferDeclined, OfferExpired},
}

// CanTransitionTo reports whether the status may move to next.
func (s OfferStatus) CanTransitionTo(next OfferStatus) bool {
	for _, t := range offerTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TradeOffer is a bilateral barter/cash proposal between two players.
// Nothing is escrowed at creation: both sides are re-validated at acceptance.
type TradeOffer struct {
	ID           string           `json:"id" db:"id"`
	SenderID     string           `json:"sender_id" db:"sender_id"`
	ReceiverID   string           `json:"receiver_id" db:"receiver_id"`
	OfferGoods   map[string]int64 `json:"offer_goods" db:"offer_goods"`
	OfferCash    decimal.Decimal  `json:"offer_cash" db:"offer_cash"`
	RequestGoods map[string]int64 `json:"request_goods" db:"request_goods"`
	RequestCash  decimal.Decimal  `json:"request_cash" db:"request_cash"`
	DistrictID   string           `json:"district_id" db:"district_id"`
	Status       OfferStatus      `json:"status" db:"status"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at" db:"expires_at"`
}

// AuctionStatus is the lifecycle state of a live auction. Expired is a
// transient label (time passed, not yet claimed); claimed is terminal.
type AuctionStatus string

const (
	AuctionActive  AuctionStatus = "active"
	AuctionExpired AuctionStatus = "expired"
	AuctionClaimed AuctionStatus = "claimed"
)

var auctionTransitions = map[AuctionStatus][]AuctionStatus{
	AuctionActive:  {AuctionExpired, AuctionClaimed},
	AuctionExpired: {AuctionClaimed},
}

// CanTransitionTo reports whether the status may move to next.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	for _, t := range auctionTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Auction item types.
const (
	ItemTypeGood    = "good"
	ItemTypeVehicle = "vehicle"
)

// LiveAuction is an open-bid, time-boxed auction. The item is escrowed from
// the seller at creation. EndsAt is mutable (anti-snipe extension);
// OriginalEndsAt is immutable and kept for audit.
type LiveAuction struct {
	ID              string          `json:"id" db:"id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	ItemType        string          `json:"item_type" db:"item_type"` // "good" or "vehicle"
	ItemID          string          `json:"item_id" db:"item_id"`
	Quantity        int64           `json:"quantity" db:"quantity"`
	StartingPrice   decimal.Decimal `json:"starting_price" db:"starting_price"`
	CurrentBid      decimal.Decimal `json:"current_bid" db:"current_bid"`
	CurrentBidderID string          `json:"current_bidder_id" db:"current_bidder_id"`
	BidCount        int             `json:"bid_count" db:"bid_count"`
	MinIncrement    decimal.Decimal `json:"min_increment" db:"min_increment"`
	EndsAt          time.Time       `json:"ends_at" db:"ends_at"`
	OriginalEndsAt  time.Time       `json:"original_ends_at" db:"original_ends_at"`
	Status          AuctionStatus   `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Trend is a market price direction indicator.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// MarketPriceEntry is the simulated market price for one good in one
// district, with rolling buy/sell volume counters.
type MarketPriceEntry struct {
	DistrictID   string          `json:"district_id" db:"district_id"`
	GoodID       string          `json:"good_id" db:"good_id"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	Trend        Trend           `json:"trend" db:"trend"`
	BuyVolume    int64           `json:"buy_volume" db:"buy_volume"`
	SellVolume   int64           `json:"sell_volume" db:"sell_volume"`
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
}

// Trade types recorded on PlayerTradeRecord.
const (
	TradeTypeMarket  = "market"
	TradeTypeOffer   = "offer"
	TradeTypeAuction = "auction"
)

// PlayerTradeRecord is an immutable record of a completed player-to-player
// trade. Once created, these are never modified or deleted. They double as
// the audit trail and the input to the price influence engine.
type PlayerTradeRecord struct {
	ID           string          `json:"id" db:"id"`
	BuyerID      string          `json:"buyer_id" db:"buyer_id"`
	SellerID     string          `json:"seller_id" db:"seller_id"`
	GoodID       string          `json:"good_id" db:"good_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	DistrictID   string          `json:"district_id" db:"district_id"`
	TradeType    string          `json:"trade_type" db:"trade_type"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Vehicle is an auctionable non-stackable item with a single owner.
// InEscrow is set while the vehicle backs an active auction.
type Vehicle struct {
	ID       string `json:"id" db:"id"`
	OwnerID  string `json:"owner_id" db:"owner_id"`
	Model    string `json:"model" db:"model"`
	InEscrow bool   `json:"in_escrow" db:"in_escrow"`
}
