// Package store defines the persistence interface for the economy engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Status transitions are
// compare-and-swap: the update applies only if the record is still in the
// expected state, otherwise model.ErrNotActive is returned. That is what
// makes two concurrent buyers of the same listing serialize cleanly.
type Store interface {
	// --- Ledger: wallets and inventory ---

	// GetWallet retrieves a player's wallet. Unknown players have a zero
	// balance rather than an error.
	GetWallet(ctx context.Context, playerID string) (*model.Wallet, error)

	// GetInventory returns all inventory lines for a player.
	GetInventory(ctx context.Context, playerID string) ([]model.InventoryLine, error)

	// GetInventoryLine returns one player's holding of one good, or
	// model.ErrNotFound if the player holds none.
	GetInventoryLine(ctx context.Context, playerID, goodID string) (*model.InventoryLine, error)

	// Transfer applies a batch of debits and credits atomically. All debits
	// are validated before any mutation; a single underflow fails the whole
	// batch with model.ErrInsufficientFunds or model.ErrInsufficientInventory.
	Transfer(ctx context.Context, t *ledger.Transfer) error

	// --- Listings ---

	CreateListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id string) (*model.Listing, error)

	// ListActiveListings returns active listings, optionally filtered by
	// district and/or good, sorted by ascending price per unit.
	ListActiveListings(ctx context.Context, districtID, goodID string) ([]model.Listing, error)

	// ListListingsBySeller returns all of a seller's listings, newest first.
	ListListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error)

	// TransitionListing moves a listing from one status to another if and
	// only if it is still in the expected status.
	TransitionListing(ctx context.Context, id string, from, to model.ListingStatus) error

	// --- Trade offers ---

	CreateOffer(ctx context.Context, o *model.TradeOffer) error
	GetOffer(ctx context.Context, id string) (*model.TradeOffer, error)

	// ListPendingOffers returns pending offers sent by or addressed to the
	// player, newest first.
	ListPendingOffers(ctx context.Context, playerID string) ([]model.TradeOffer, error)

	// TransitionOffer moves an offer between statuses with the same CAS
	// discipline as TransitionListing.
	TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus) error

	// --- Auctions ---

	CreateAuction(ctx context.Context, a *model.LiveAuction) error
	GetAuction(ctx context.Context, id string) (*model.LiveAuction, error)
	ListActiveAuctions(ctx context.Context) ([]model.LiveAuction, error)

	// PlaceAuctionBid records a new current bid if and only if the auction
	// has seen exactly expectBidCount bids so far. A concurrent bid that
	// committed first makes this return model.ErrOutbid.
	PlaceAuctionBid(ctx context.Context, id string, expectBidCount int, bid decimal.Decimal, bidderID string, endsAt time.Time) error

	// TransitionAuction moves an auction between statuses (CAS).
	TransitionAuction(ctx context.Context, id string, from, to model.AuctionStatus) error

	// --- Market prices ---

	GetMarketPrice(ctx context.Context, districtID, goodID string) (*model.MarketPriceEntry, error)
	ListMarketPrices(ctx context.Context, districtID string) ([]model.MarketPriceEntry, error)

	// UpsertMarketPrice creates or replaces a price entry (seeding and the
	// external drift process).
	UpsertMarketPrice(ctx context.Context, e *model.MarketPriceEntry) error

	// UpdateMarketPrice applies fn to the current entry under a lock, so the
	// read-modify-write composes with the independent drift process.
	UpdateMarketPrice(ctx context.Context, districtID, goodID string, fn func(*model.MarketPriceEntry) error) error

	// --- Immutable trade log ---

	InsertTradeRecord(ctx context.Context, r *model.PlayerTradeRecord) error
	ListTradeRecordsByPlayer(ctx context.Context, playerID string) ([]model.PlayerTradeRecord, error)

	// --- Vehicles ---

	CreateVehicle(ctx context.Context, v *model.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*model.Vehicle, error)

	// SetVehicleEscrow flips the escrow flag if the vehicle is owned by
	// ownerID and currently has escrow == !escrow.
	SetVehicleEscrow(ctx context.Context, id, ownerID string, escrow bool) error

	// TransferVehicle moves ownership from one player to another and clears
	// the escrow flag.
	TransferVehicle(ctx context.Context, id, fromOwnerID, toOwnerID string) error
}
