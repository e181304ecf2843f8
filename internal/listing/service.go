// Package listing implements the fixed-price marketplace: sell orders whose
// goods are escrowed out of the seller's inventory for the lifetime of the
// listing.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/market"
	"github.com/onderwereld/economy-engine/internal/metrics"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/notify"
	"github.com/onderwereld/economy-engine/internal/store"
	"github.com/onderwereld/economy-engine/internal/web"
)

// TTL is how long a listing stays purchasable after creation.
const TTL = 24 * time.Hour

// Service handles marketplace listings. Uses a mutex for serialized
// execution of mutating operations (single-instance). For horizontal
// scaling, replace with database-level row locking; the store's CAS
// transitions are the second line of defense either way.
type Service struct {
	store    store.Store
	market   *market.Service
	notifier notify.Notifier
	hub      *notify.Hub // optional
	mu       sync.Mutex
	now      func() time.Time
}

// NewService creates a listing service. Pass nil for hub if WebSocket
// broadcasting is not needed and nil for clock to use wall time.
func NewService(st store.Store, mkt *market.Service, notifier notify.Notifier, hub *notify.Hub, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:    st,
		market:   mkt,
		notifier: notifier,
		hub:      hub,
		now:      clock,
	}
}

// Create escrows the goods out of the seller's inventory and creates an
// active listing. If the listing row cannot be written after the escrow
// debit succeeded, the goods are credited back (compensating transfer).
func (s *Service) Create(ctx context.Context, sellerID, goodID string, quantity int64, pricePerUnit decimal.Decimal, districtID string) (*model.Listing, error) {
	if sellerID == "" || goodID == "" || districtID == "" {
		return nil, fmt.Errorf("seller, good and district are required")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if pricePerUnit.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("price per unit must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	escrow := &ledger.Transfer{
		Debits: []ledger.Entry{ledger.GoodsDebit(sellerID, goodID, quantity)},
	}
	if err := s.store.Transfer(ctx, escrow); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	l := &model.Listing{
		ID:           uuid.New().String(),
		SellerID:     sellerID,
		GoodID:       goodID,
		Quantity:     quantity,
		PricePerUnit: pricePerUnit,
		DistrictID:   districtID,
		Status:       model.ListingActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(TTL),
	}

	if err := s.store.CreateListing(ctx, l); err != nil {
		// Escrow succeeded but the row did not: return the goods.
		s.returnEscrow(ctx, sellerID, goodID, quantity, pricePerUnit)
		return nil, fmt.Errorf("create listing: %w", err)
	}

	metrics.ListingsCreated.Inc()
	slog.Info("listing created",
		"id", l.ID,
		"seller", sellerID,
		"good", goodID,
		"qty", quantity,
		"price", pricePerUnit.String(),
		"district", districtID,
	)

	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:       notify.EventListingCreated,
			ListingID:  l.ID,
			DistrictID: districtID,
			GoodID:     goodID,
			Price:      pricePerUnit.String(),
			Quantity:   fmt.Sprintf("%d", quantity),
		})
	}

	return l, nil
}

// Buy purchases the full listing for the buyer at the listed price. The
// status transition to sold and the fund transfer commit as one unit: a
// concurrent second buyer observes either "still active" or "already sold",
// never both succeeding.
func (s *Service) Buy(ctx context.Context, listingID, buyerID string) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status != model.ListingActive {
		return nil, model.ErrNotActive
	}
	if l.SellerID == buyerID {
		return nil, model.ErrSelfTrade
	}

	now := s.now().UTC()
	if !now.Before(l.ExpiresAt) {
		// Lazy expiry: the stored status still says active, but time has
		// passed. Expire it, return the escrow, and refuse the buy.
		s.expireLocked(ctx, l)
		return nil, model.ErrExpired
	}

	totalCost := l.PricePerUnit.Mul(decimal.NewFromInt(l.Quantity))
	buyerWallet, err := s.store.GetWallet(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyerWallet.Balance.LessThan(totalCost) {
		return nil, model.ErrInsufficientFunds
	}

	// Goods were escrowed out of the seller at creation, so no seller-side
	// inventory debit here.
	trade := &ledger.Transfer{
		Debits: []ledger.Entry{ledger.CashDebit(buyerID, totalCost)},
		Credits: []ledger.Entry{
			ledger.CashCredit(l.SellerID, totalCost),
			ledger.GoodsCredit(buyerID, l.GoodID, l.Quantity, l.PricePerUnit),
		},
	}
	if err := s.store.Transfer(ctx, trade); err != nil {
		return nil, err
	}

	if err := s.store.TransitionListing(ctx, listingID, model.ListingActive, model.ListingSold); err != nil {
		// Lost a race despite the mutex; undo the transfer.
		s.store.Transfer(ctx, &ledger.Transfer{
			Debits: []ledger.Entry{
				ledger.CashDebit(l.SellerID, totalCost),
				ledger.GoodsDebit(buyerID, l.GoodID, l.Quantity),
			},
			Credits: []ledger.Entry{ledger.CashCredit(buyerID, totalCost)},
		})
		return nil, err
	}
	l.Status = model.ListingSold

	record := &model.PlayerTradeRecord{
		ID:           uuid.New().String(),
		BuyerID:      buyerID,
		SellerID:     l.SellerID,
		GoodID:       l.GoodID,
		Quantity:     l.Quantity,
		PricePerUnit: l.PricePerUnit,
		DistrictID:   l.DistrictID,
		TradeType:    model.TradeTypeMarket,
		CreatedAt:    now,
	}
	if err := s.store.InsertTradeRecord(ctx, record); err != nil {
		slog.Error("failed to record trade", "listing", listingID, "err", err)
	}

	if err := s.market.ApplyInfluence(ctx, l.DistrictID, l.GoodID, l.Quantity, l.PricePerUnit); err != nil {
		slog.Error("price influence failed", "listing", listingID, "err", err)
	}

	metrics.TradesTotal.WithLabelValues(model.TradeTypeMarket).Inc()
	metrics.TradeVolume.WithLabelValues(l.GoodID).Add(float64(l.Quantity))

	slog.Info("listing sold",
		"id", l.ID,
		"buyer", buyerID,
		"seller", l.SellerID,
		"good", l.GoodID,
		"qty", l.Quantity,
		"total", totalCost.String(),
	)

	s.notifier.Notify(ctx, l.SellerID, "Listing sold",
		fmt.Sprintf("Your listing of %d x %s sold for %s.", l.Quantity, l.GoodID, totalCost.String()))

	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:       notify.EventListingSold,
			ListingID:  l.ID,
			DistrictID: l.DistrictID,
			GoodID:     l.GoodID,
			Price:      l.PricePerUnit.String(),
			Quantity:   fmt.Sprintf("%d", l.Quantity),
		})
	}

	return l, nil
}

// Cancel returns the escrowed goods to the seller and cancels the listing.
// Only the seller may cancel, and only while the listing is active.
func (s *Service) Cancel(ctx context.Context, listingID, callerID string) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != callerID {
		return nil, model.ErrUnauthorized
	}
	if l.Status != model.ListingActive {
		return nil, model.ErrNotActive
	}
	if !s.now().UTC().Before(l.ExpiresAt) {
		s.expireLocked(ctx, l)
		return nil, model.ErrExpired
	}

	if err := s.store.TransitionListing(ctx, listingID, model.ListingActive, model.ListingCancelled); err != nil {
		return nil, err
	}
	l.Status = model.ListingCancelled
	s.returnEscrow(ctx, l.SellerID, l.GoodID, l.Quantity, l.PricePerUnit)

	slog.Info("listing cancelled", "id", l.ID, "seller", l.SellerID)
	return l, nil
}

// expireLocked lazily expires an active listing whose time has passed and
// returns the escrow. Callers hold s.mu.
func (s *Service) expireLocked(ctx context.Context, l *model.Listing) {
	if err := s.store.TransitionListing(ctx, l.ID, model.ListingActive, model.ListingExpired); err != nil {
		slog.Error("failed to expire listing", "id", l.ID, "err", err)
		return
	}
	l.Status = model.ListingExpired
	s.returnEscrow(ctx, l.SellerID, l.GoodID, l.Quantity, l.PricePerUnit)
	s.notifier.Notify(ctx, l.SellerID, "Listing expired",
		fmt.Sprintf("Your listing of %d x %s expired; the goods are back in your inventory.", l.Quantity, l.GoodID))
}

// returnEscrow credits escrowed goods back to the seller.
func (s *Service) returnEscrow(ctx context.Context, sellerID, goodID string, quantity int64, unitCost decimal.Decimal) {
	back := &ledger.Transfer{
		Credits: []ledger.Entry{ledger.GoodsCredit(sellerID, goodID, quantity, unitCost)},
	}
	if err := s.store.Transfer(ctx, back); err != nil {
		slog.Error("failed to return escrow", "seller", sellerID, "good", goodID, "err", err)
	}
}

// --- HTTP handlers ---

// CreateRequest is the JSON body for POST /api/v1/listings.
type CreateRequest struct {
	SellerID     string          `json:"seller_id"`
	GoodID       string          `json:"good_id"`
	Quantity     int64           `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	DistrictID   string          `json:"district_id"`
}

// HandleCreate handles POST /api/v1/listings.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	l, err := s.Create(r.Context(), req.SellerID, req.GoodID, req.Quantity, req.PricePerUnit, req.DistrictID)
	if err != nil {
		if isDomain(err) {
			web.WriteDomainError(w, err)
		} else {
			web.WriteError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	web.WriteJSON(w, http.StatusCreated, l)
}

// BuyRequest is the JSON body for POST /api/v1/listings/{listingID}/buy.
type BuyRequest struct {
	BuyerID string `json:"buyer_id"`
}

// HandleBuy handles POST /api/v1/listings/{listingID}/buy.
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BuyerID == "" {
		web.WriteError(w, "buyer_id is required", http.StatusBadRequest)
		return
	}

	l, err := s.Buy(r.Context(), chi.URLParam(r, "listingID"), req.BuyerID)
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, l)
}

// CancelRequest is the JSON body for POST /api/v1/listings/{listingID}/cancel.
type CancelRequest struct {
	SellerID string `json:"seller_id"`
}

// HandleCancel handles POST /api/v1/listings/{listingID}/cancel.
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SellerID == "" {
		web.WriteError(w, "seller_id is required", http.StatusBadRequest)
		return
	}

	l, err := s.Cancel(r.Context(), chi.URLParam(r, "listingID"), req.SellerID)
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, l)
}

// HandleList handles GET /api/v1/listings?district=<id>&good=<id>.
// Time-expired listings are filtered out even when their stored status has
// not been swept yet.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListActiveListings(r.Context(),
		r.URL.Query().Get("district"), r.URL.Query().Get("good"))
	if err != nil {
		web.WriteError(w, "failed to list listings", http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	visible := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		if now.Before(l.ExpiresAt) {
			visible = append(visible, l)
		}
	}
	web.WriteJSON(w, http.StatusOK, visible)
}

// HandleListBySeller handles GET /api/v1/listings/seller/{sellerID}.
func (s *Service) HandleListBySeller(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListListingsBySeller(r.Context(), chi.URLParam(r, "sellerID"))
	if err != nil {
		web.WriteError(w, "failed to list listings", http.StatusInternalServerError)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	web.WriteJSON(w, http.StatusOK, listings)
}

// isDomain reports whether err is one of the typed domain errors, as
// opposed to an input validation failure.
func isDomain(err error) bool {
	return errors.Is(err, model.ErrInsufficientFunds) ||
		errors.Is(err, model.ErrInsufficientInventory) ||
		errors.Is(err, model.ErrNotFound)
}
