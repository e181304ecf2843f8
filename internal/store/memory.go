package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single RWMutex
// guards all state, which makes every Transfer and CAS transition atomic
// relative to concurrent readers.
type MemoryStore struct {
	mu          sync.RWMutex
	wallets     map[string]decimal.Decimal
	inventories map[string]map[string]model.InventoryLine // playerID → goodID → line
	listings    map[string]*model.Listing
	offers      map[string]*model.TradeOffer
	auctions    map[string]*model.LiveAuction
	prices      map[string]*model.MarketPriceEntry // districtID|goodID
	trades      []model.PlayerTradeRecord
	vehicles    map[string]*model.Vehicle
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:     make(map[string]decimal.Decimal),
		inventories: make(map[string]map[string]model.InventoryLine),
		listings:    make(map[string]*model.Listing),
		offers:      make(map[string]*model.TradeOffer),
		auctions:    make(map[string]*model.LiveAuction),
		prices:      make(map[string]*model.MarketPriceEntry),
		vehicles:    make(map[string]*model.Vehicle),
	}
}

func priceKey(districtID, goodID string) string { return districtID + "|" + goodID }

// --- Ledger ---

func (s *MemoryStore) GetWallet(_ context.Context, playerID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &model.Wallet{PlayerID: playerID, Balance: s.wallets[playerID]}, nil
}

func (s *MemoryStore) GetInventory(_ context.Context, playerID string) ([]model.InventoryLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]model.InventoryLine, 0, len(s.inventories[playerID]))
	for _, line := range s.inventories[playerID] {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].GoodID < lines[j].GoodID })
	return lines, nil
}

func (s *MemoryStore) GetInventoryLine(_ context.Context, playerID, goodID string) (*model.InventoryLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.inventories[playerID][goodID]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := line
	return &copy, nil
}

// Transfer validates every debit against current balances before mutating
// anything, then applies the whole batch under one lock. Concurrent readers
// never observe a partially applied transfer.
func (s *MemoryStore) Transfer(_ context.Context, t *ledger.Transfer) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Aggregate debits per player (cash) and per player+good so that two
	// debit legs against the same balance are checked together.
	cashNeeded := make(map[string]decimal.Decimal)
	goodsNeeded := make(map[string]map[string]int64)
	for _, d := range t.Debits {
		if d.Kind == ledger.KindCash {
			cashNeeded[d.PlayerID] = cashNeeded[d.PlayerID].Add(d.Amount)
			continue
		}
		if goodsNeeded[d.PlayerID] == nil {
			goodsNeeded[d.PlayerID] = make(map[string]int64)
		}
		goodsNeeded[d.PlayerID][d.GoodID] += d.Quantity
	}

	for playerID, needed := range cashNeeded {
		if s.wallets[playerID].LessThan(needed) {
			return model.ErrInsufficientFunds
		}
	}
	for playerID, goods := range goodsNeeded {
		for goodID, qty := range goods {
			if s.inventories[playerID][goodID].Quantity < qty {
				return model.ErrInsufficientInventory
			}
		}
	}

	// All checks passed; apply.
	for _, d := range t.Debits {
		if d.Kind == ledger.KindCash {
			s.wallets[d.PlayerID] = s.wallets[d.PlayerID].Sub(d.Amount)
			continue
		}
		line := s.inventories[d.PlayerID][d.GoodID]
		line.Quantity -= d.Quantity
		if line.Quantity == 0 {
			delete(s.inventories[d.PlayerID], d.GoodID)
		} else {
			s.inventories[d.PlayerID][d.GoodID] = line
		}
	}

	for _, c := range t.Credits {
		if c.Kind == ledger.KindCash {
			s.wallets[c.PlayerID] = s.wallets[c.PlayerID].Add(c.Amount)
			continue
		}
		if s.inventories[c.PlayerID] == nil {
			s.inventories[c.PlayerID] = make(map[string]model.InventoryLine)
		}
		var existing *model.InventoryLine
		if line, ok := s.inventories[c.PlayerID][c.GoodID]; ok {
			existing = &line
		}
		s.inventories[c.PlayerID][c.GoodID] = ledger.ApplyCredit(existing, c.PlayerID, c.GoodID, c.Quantity, c.UnitPrice)
	}

	return nil
}

// --- Listings ---

func (s *MemoryStore) CreateListing(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *l
	s.listings[l.ID] = &copy
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) ListActiveListings(_ context.Context, districtID, goodID string) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Listing
	for _, l := range s.listings {
		if l.Status != model.ListingActive {
			continue
		}
		if districtID != "" && l.DistrictID != districtID {
			continue
		}
		if goodID != "" && l.GoodID != goodID {
			continue
		}
		result = append(result, *l)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PricePerUnit.LessThan(result[j].PricePerUnit)
	})
	return result, nil
}

func (s *MemoryStore) ListListingsBySeller(_ context.Context, sellerID string) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Listing
	for _, l := range s.listings {
		if l.SellerID == sellerID {
			result = append(result, *l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) TransitionListing(_ context.Context, id string, from, to model.ListingStatus) error {
	if !from.CanTransitionTo(to) {
		return model.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return model.ErrNotFound
	}
	if l.Status != from {
		return model.ErrNotActive
	}
	l.Status = to
	return nil
}

// --- Trade offers ---

func (s *MemoryStore) CreateOffer(_ context.Context, o *model.TradeOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *o
	s.offers[o.ID] = &copy
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (*model.TradeOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListPendingOffers(_ context.Context, playerID string) ([]model.TradeOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeOffer
	for _, o := range s.offers {
		if o.Status != model.OfferPending {
			continue
		}
		if o.SenderID == playerID || o.ReceiverID == playerID {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) TransitionOffer(_ context.Context, id string, from, to model.OfferStatus) error {
	if !from.CanTransitionTo(to) {
		return model.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return model.ErrNotFound
	}
	if o.Status != from {
		return model.ErrNotActive
	}
	o.Status = to
	return nil
}

// --- Auctions ---

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.LiveAuction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *a
	s.auctions[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.LiveAuction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListActiveAuctions(_ context.Context) ([]model.LiveAuction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiveAuction
	for _, a := range s.auctions {
		if a.Status == model.AuctionActive {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EndsAt.Before(result[j].EndsAt)
	})
	return result, nil
}

// PlaceAuctionBid commits a bid only if no other bid landed since the caller
// read the auction (compare-and-swap on BidCount). EndsAt is only ever moved
// forward, never back.
func (s *MemoryStore) PlaceAuctionBid(_ context.Context, id string, expectBidCount int, bid decimal.Decimal, bidderID string, endsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return model.ErrNotFound
	}
	if a.Status != model.AuctionActive {
		return model.ErrNotActive
	}
	if a.BidCount != expectBidCount {
		return model.ErrOutbid
	}

	a.CurrentBid = bid
	a.CurrentBidderID = bidderID
	a.BidCount++
	if endsAt.After(a.EndsAt) {
		a.EndsAt = endsAt
	}
	return nil
}

func (s *MemoryStore) TransitionAuction(_ context.Context, id string, from, to model.AuctionStatus) error {
	if !from.CanTransitionTo(to) {
		return model.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return model.ErrNotFound
	}
	if a.Status != from {
		return model.ErrNotActive
	}
	a.Status = to
	return nil
}

// --- Market prices ---

func (s *MemoryStore) GetMarketPrice(_ context.Context, districtID, goodID string) (*model.MarketPriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.prices[priceKey(districtID, goodID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := *e
	return &copy, nil
}

func (s *MemoryStore) ListMarketPrices(_ context.Context, districtID string) ([]model.MarketPriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MarketPriceEntry
	for _, e := range s.prices {
		if districtID != "" && e.DistrictID != districtID {
			continue
		}
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DistrictID != result[j].DistrictID {
			return result[i].DistrictID < result[j].DistrictID
		}
		return result[i].GoodID < result[j].GoodID
	})
	return result, nil
}

func (s *MemoryStore) UpsertMarketPrice(_ context.Context, e *model.MarketPriceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *e
	s.prices[priceKey(e.DistrictID, e.GoodID)] = &copy
	return nil
}

// UpdateMarketPrice runs fn on the live entry while holding the store lock,
// so the read-modify-write cannot race the external drift process.
func (s *MemoryStore) UpdateMarketPrice(_ context.Context, districtID, goodID string, fn func(*model.MarketPriceEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.prices[priceKey(districtID, goodID)]
	if !ok {
		return model.ErrNotFound
	}
	working := *e
	if err := fn(&working); err != nil {
		return err
	}
	*e = working
	return nil
}

// --- Trade log ---

func (s *MemoryStore) InsertTradeRecord(_ context.Context, r *model.PlayerTradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *r)
	return nil
}

func (s *MemoryStore) ListTradeRecordsByPlayer(_ context.Context, playerID string) ([]model.PlayerTradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PlayerTradeRecord
	for _, r := range s.trades {
		if r.BuyerID == playerID || r.SellerID == playerID {
			result = append(result, r)
		}
	}
	return result, nil
}

// --- Vehicles ---

func (s *MemoryStore) CreateVehicle(_ context.Context, v *model.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *v
	s.vehicles[v.ID] = &copy
	return nil
}

func (s *MemoryStore) GetVehicle(_ context.Context, id string) (*model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := *v
	return &copy, nil
}

func (s *MemoryStore) SetVehicleEscrow(_ context.Context, id, ownerID string, escrow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return model.ErrNotFound
	}
	if v.OwnerID != ownerID {
		return model.ErrUnauthorized
	}
	if v.InEscrow == escrow {
		return model.ErrNotActive
	}
	v.InEscrow = escrow
	return nil
}

func (s *MemoryStore) TransferVehicle(_ context.Context, id, fromOwnerID, toOwnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return model.ErrNotFound
	}
	if v.OwnerID != fromOwnerID {
		return model.ErrUnauthorized
	}
	v.OwnerID = toOwnerID
	v.InEscrow = false
	return nil
}
