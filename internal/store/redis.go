package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: market prices, individual listings and
// auctions. Writes go to the primary store and invalidate the cache. Ledger
// reads are never cached: balances back concurrency decisions and must
// always reflect the committed state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func cacheListingKey(id string) string           { return fmt.Sprintf("listing:%s", id) }
func cacheAuctionKey(id string) string           { return fmt.Sprintf("auction:%s", id) }
func cachePriceKey(district, good string) string { return fmt.Sprintf("price:%s:%s", district, good) }

// --- Ledger (always primary) ---

func (s *CachedStore) GetWallet(ctx context.Context, playerID string) (*model.Wallet, error) {
	return s.primary.GetWallet(ctx, playerID)
}

func (s *CachedStore) GetInventory(ctx context.Context, playerID string) ([]model.InventoryLine, error) {
	return s.primary.GetInventory(ctx, playerID)
}

func (s *CachedStore) GetInventoryLine(ctx context.Context, playerID, goodID string) (*model.InventoryLine, error) {
	return s.primary.GetInventoryLine(ctx, playerID, goodID)
}

func (s *CachedStore) Transfer(ctx context.Context, t *ledger.Transfer) error {
	return s.primary.Transfer(ctx, t)
}

// --- Listings ---

func (s *CachedStore) CreateListing(ctx context.Context, l *model.Listing) error {
	if err := s.primary.CreateListing(ctx, l); err != nil {
		return err
	}
	s.cacheJSON(ctx, cacheListingKey(l.ID), l)
	return nil
}

func (s *CachedStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var l model.Listing
	if s.readJSON(ctx, cacheListingKey(id), &l) {
		return &l, nil
	}

	fresh, err := s.primary.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, cacheListingKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListActiveListings(ctx context.Context, districtID, goodID string) ([]model.Listing, error) {
	return s.primary.ListActiveListings(ctx, districtID, goodID)
}

func (s *CachedStore) ListListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error) {
	return s.primary.ListListingsBySeller(ctx, sellerID)
}

func (s *CachedStore) TransitionListing(ctx context.Context, id string, from, to model.ListingStatus) error {
	if err := s.primary.TransitionListing(ctx, id, from, to); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, cacheListingKey(id))
	return nil
}

// --- Trade offers (not cached: always re-validated at use) ---

func (s *CachedStore) CreateOffer(ctx context.Context, o *model.TradeOffer) error {
	return s.primary.CreateOffer(ctx, o)
}

func (s *CachedStore) GetOffer(ctx context.Context, id string) (*model.TradeOffer, error) {
	return s.primary.GetOffer(ctx, id)
}

func (s *CachedStore) ListPendingOffers(ctx context.Context, playerID string) ([]model.TradeOffer, error) {
	return s.primary.ListPendingOffers(ctx, playerID)
}

func (s *CachedStore) TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus) error {
	return s.primary.TransitionOffer(ctx, id, from, to)
}

// --- Auctions ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.LiveAuction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cacheJSON(ctx, cacheAuctionKey(a.ID), a)
	return nil
}

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.LiveAuction, error) {
	var a model.LiveAuction
	if s.readJSON(ctx, cacheAuctionKey(id), &a) {
		return &a, nil
	}

	fresh, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, cacheAuctionKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListActiveAuctions(ctx context.Context) ([]model.LiveAuction, error) {
	return s.primary.ListActiveAuctions(ctx)
}

func (s *CachedStore) PlaceAuctionBid(ctx context.Context, id string, expectBidCount int, bid decimal.Decimal, bidderID string, endsAt time.Time) error {
	if err := s.primary.PlaceAuctionBid(ctx, id, expectBidCount, bid, bidderID, endsAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheAuctionKey(id))
	return nil
}

func (s *CachedStore) TransitionAuction(ctx context.Context, id string, from, to model.AuctionStatus) error {
	if err := s.primary.TransitionAuction(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheAuctionKey(id))
	return nil
}

// --- Market prices ---

func (s *CachedStore) GetMarketPrice(ctx context.Context, districtID, goodID string) (*model.MarketPriceEntry, error) {
	var e model.MarketPriceEntry
	if s.readJSON(ctx, cachePriceKey(districtID, goodID), &e) {
		return &e, nil
	}

	fresh, err := s.primary.GetMarketPrice(ctx, districtID, goodID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, cachePriceKey(districtID, goodID), fresh)
	return fresh, nil
}

func (s *CachedStore) ListMarketPrices(ctx context.Context, districtID string) ([]model.MarketPriceEntry, error) {
	return s.primary.ListMarketPrices(ctx, districtID)
}

func (s *CachedStore) UpsertMarketPrice(ctx context.Context, e *model.MarketPriceEntry) error {
	if err := s.primary.UpsertMarketPrice(ctx, e); err != nil {
		return err
	}
	s.cacheJSON(ctx, cachePriceKey(e.DistrictID, e.GoodID), e)
	return nil
}

func (s *CachedStore) UpdateMarketPrice(ctx context.Context, districtID, goodID string, fn func(*model.MarketPriceEntry) error) error {
	if err := s.primary.UpdateMarketPrice(ctx, districtID, goodID, fn); err != nil {
		return err
	}
	s.rdb.Del(ctx, cachePriceKey(districtID, goodID))
	return nil
}

// --- Trade log / vehicles (passthrough) ---

func (s *CachedStore) InsertTradeRecord(ctx context.Context, r *model.PlayerTradeRecord) error {
	return s.primary.InsertTradeRecord(ctx, r)
}

func (s *CachedStore) ListTradeRecordsByPlayer(ctx context.Context, playerID string) ([]model.PlayerTradeRecord, error) {
	return s.primary.ListTradeRecordsByPlayer(ctx, playerID)
}

func (s *CachedStore) CreateVehicle(ctx context.Context, v *model.Vehicle) error {
	return s.primary.CreateVehicle(ctx, v)
}

func (s *CachedStore) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	return s.primary.GetVehicle(ctx, id)
}

func (s *CachedStore) SetVehicleEscrow(ctx context.Context, id, ownerID string, escrow bool) error {
	return s.primary.SetVehicleEscrow(ctx, id, ownerID, escrow)
}

func (s *CachedStore) TransferVehicle(ctx context.Context, id, fromOwnerID, toOwnerID string) error {
	return s.primary.TransferVehicle(ctx, id, fromOwnerID, toOwnerID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) readJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
