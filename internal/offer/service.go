// Package offer implements bilateral trade offers: barter/cash proposals
// between two specific players. Nothing is escrowed at creation: both
// sides' holdings are re-validated at acceptance time, so a sender can
// render their own offer un-acceptable by spending the promised resources
// elsewhere. That is the designed behavior, not a bug to fix here.
package offer

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

// TTL is how long an offer stays acceptable after creation.
const TTL = 12 * time.Hour

// Service handles trade offers. Mutating operations are serialized with a
// mutex (single-instance discipline, same as the listing service).
type Service struct {
	store    store.Store
	market   *market.Service
	notifier notify.Notifier
	hub      *notify.Hub // optional
	mu       sync.Mutex
	now      func() time.Time
}

// NewService creates a trade offer service. Pass nil for hub if WebSocket
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

// Create validates that the sender currently holds the offered cash and
// goods (read-only check, no escrow) and creates a pending offer addressed
// to the receiver.
func (s *Service) Create(ctx context.Context, senderID, receiverID string, offerGoods map[string]int64, offerCash decimal.Decimal, requestGoods map[string]int64, requestCash decimal.Decimal, districtID string) (*model.TradeOffer, error) {
	if senderID == "" || receiverID == "" || districtID == "" {
		return nil, fmt.Errorf("sender, receiver and district are required")
	}
	if senderID == receiverID {
		return nil, model.ErrSelfTrade
	}
	if offerCash.IsNegative() || requestCash.IsNegative() {
		return nil, fmt.Errorf("cash amounts must not be negative")
	}
	for goodID, qty := range offerGoods {
		if qty <= 0 {
			return nil, fmt.Errorf("offered quantity for %s must be positive", goodID)
		}
	}
	for goodID, qty := range requestGoods {
		if qty <= 0 {
			return nil, fmt.Errorf("requested quantity for %s must be positive", goodID)
		}
	}
	if len(offerGoods) == 0 && offerCash.IsZero() && len(requestGoods) == 0 && requestCash.IsZero() {
		return nil, fmt.Errorf("offer is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateHoldings(ctx, senderID, offerGoods, offerCash); err != nil {
		return nil, fmt.Errorf("sender cannot cover the offer: %w", err)
	}

	now := s.now().UTC()
	o := &model.TradeOffer{
		ID:           uuid.New().String(),
		SenderID:     senderID,
		ReceiverID:   receiverID,
		OfferGoods:   offerGoods,
		OfferCash:    offerCash,
		RequestGoods: requestGoods,
		RequestCash:  requestCash,
		DistrictID:   districtID,
		Status:       model.OfferPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(TTL),
	}
	if o.OfferGoods == nil {
		o.OfferGoods = map[string]int64{}
	}
	if o.RequestGoods == nil {
		o.RequestGoods = map[string]int64{}
	}

	if err := s.store.CreateOffer(ctx, o); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	slog.Info("offer created",
		"id", o.ID,
		"sender", senderID,
		"receiver", receiverID,
		"offer_cash", offerCash.String(),
		"request_cash", requestCash.String(),
	)

	s.notifier.Notify(ctx, receiverID, "Trade offer received",
		fmt.Sprintf("%s sent you a trade offer.", senderID))

	return o, nil
}

// Accept re-validates both parties' current holdings against the offer
// terms and performs the two-directional exchange as one atomic transfer.
// A shortfall on either side returns the specific error and leaves the
// offer pending; the receiver may retry later or decline explicitly.
func (s *Service) Accept(ctx context.Context, offerID, callerID string) (*model.TradeOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OfferPending {
		return nil, model.ErrNotActive
	}
	if o.ReceiverID != callerID {
		return nil, model.ErrUnauthorized
	}

	now := s.now().UTC()
	if !now.Before(o.ExpiresAt) {
		if err := s.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferExpired); err != nil {
			slog.Error("failed to expire offer", "id", offerID, "err", err)
		}
		return nil, model.ErrExpired
	}

	// Time has passed since creation: both sides may have spent what the
	// offer promises. Validate each separately so the error names the
	// failing party.
	if err := s.validateHoldings(ctx, o.SenderID, o.OfferGoods, o.OfferCash); err != nil {
		return nil, fmt.Errorf("sender no longer holds the offered resources: %w", err)
	}
	if err := s.validateHoldings(ctx, o.ReceiverID, o.RequestGoods, o.RequestCash); err != nil {
		return nil, fmt.Errorf("you do not hold the requested resources: %w", err)
	}

	t := s.buildTransfer(ctx, o)
	if err := s.store.Transfer(ctx, t); err != nil {
		return nil, err
	}

	if err := s.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferAccepted); err != nil {
		// Lost a race despite the mutex; undo the exchange.
		s.store.Transfer(ctx, reverse(t))
		return nil, err
	}
	o.Status = model.OfferAccepted

	s.recordTrades(ctx, o, now)

	metrics.TradesTotal.WithLabelValues(model.TradeTypeOffer).Inc()
	slog.Info("offer accepted", "id", o.ID, "sender", o.SenderID, "receiver", o.ReceiverID)

	s.notifier.Notify(ctx, o.SenderID, "Trade offer accepted",
		fmt.Sprintf("%s accepted your trade offer.", o.ReceiverID))

	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:       notify.EventOfferAccepted,
			OfferID:    o.ID,
			DistrictID: o.DistrictID,
		})
	}

	return o, nil
}

// Decline marks a pending offer declined. Nothing was escrowed, so no funds
// move.
func (s *Service) Decline(ctx context.Context, offerID, callerID string) (*model.TradeOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OfferPending {
		return nil, model.ErrNotActive
	}
	if o.ReceiverID != callerID {
		return nil, model.ErrUnauthorized
	}

	if err := s.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferDeclined); err != nil {
		return nil, err
	}
	o.Status = model.OfferDeclined

	slog.Info("offer declined", "id", o.ID, "receiver", callerID)
	s.notifier.Notify(ctx, o.SenderID, "Trade offer declined",
		fmt.Sprintf("%s declined your trade offer.", callerID))

	return o, nil
}

// validateHoldings checks that a player currently holds the given cash and
// goods. Read-only; the authoritative check is the transfer itself.
func (s *Service) validateHoldings(ctx context.Context, playerID string, goods map[string]int64, cash decimal.Decimal) error {
	if cash.IsPositive() {
		w, err := s.store.GetWallet(ctx, playerID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(cash) {
			return model.ErrInsufficientFunds
		}
	}
	for goodID, qty := range goods {
		line, err := s.store.GetInventoryLine(ctx, playerID, goodID)
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrInsufficientInventory
		}
		if err != nil {
			return err
		}
		if line.Quantity < qty {
			return model.ErrInsufficientInventory
		}
	}
	return nil
}

// buildTransfer assembles the atomic two-directional exchange. Inbound
// goods are valued at the implied unit price when one side is pure cash,
// falling back to the district's current market price for true barter.
func (s *Service) buildTransfer(ctx context.Context, o *model.TradeOffer) *ledger.Transfer {
	t := &ledger.Transfer{}

	if o.OfferCash.IsPositive() {
		t.Debits = append(t.Debits, ledger.CashDebit(o.SenderID, o.OfferCash))
		t.Credits = append(t.Credits, ledger.CashCredit(o.ReceiverID, o.OfferCash))
	}
	if o.RequestCash.IsPositive() {
		t.Debits = append(t.Debits, ledger.CashDebit(o.ReceiverID, o.RequestCash))
		t.Credits = append(t.Credits, ledger.CashCredit(o.SenderID, o.RequestCash))
	}

	offerPrices := s.legUnitPrices(ctx, o.OfferGoods, o.RequestGoods, o.RequestCash, o.DistrictID)
	for goodID, qty := range o.OfferGoods {
		t.Debits = append(t.Debits, ledger.GoodsDebit(o.SenderID, goodID, qty))
		t.Credits = append(t.Credits, ledger.GoodsCredit(o.ReceiverID, goodID, qty, offerPrices[goodID]))
	}

	requestPrices := s.legUnitPrices(ctx, o.RequestGoods, o.OfferGoods, o.OfferCash, o.DistrictID)
	for goodID, qty := range o.RequestGoods {
		t.Debits = append(t.Debits, ledger.GoodsDebit(o.ReceiverID, goodID, qty))
		t.Credits = append(t.Credits, ledger.GoodsCredit(o.SenderID, goodID, qty, requestPrices[goodID]))
	}

	return t
}

// legUnitPrices values goods moving one way. When the opposite side is
// cash-only, the cash is an implied price allocated per unit; otherwise the
// district market price stands in so acquired inventory keeps a sane cost
// basis.
func (s *Service) legUnitPrices(ctx context.Context, goods map[string]int64, counterGoods map[string]int64, counterCash decimal.Decimal, districtID string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(goods))

	if len(counterGoods) == 0 && counterCash.IsPositive() {
		var total int64
		for _, qty := range goods {
			total += qty
		}
		if total > 0 {
			perUnit := counterCash.Div(decimal.NewFromInt(total))
			for goodID := range goods {
				prices[goodID] = perUnit
			}
			return prices
		}
	}

	for goodID := range goods {
		if e, err := s.store.GetMarketPrice(ctx, districtID, goodID); err == nil {
			prices[goodID] = e.CurrentPrice
		} else {
			prices[goodID] = decimal.Zero
		}
	}
	return prices
}

// recordTrades appends a trade record per goods leg and feeds legs with an
// implied cash price into the price influence engine. Influence reflects
// realized cash-for-goods trades only; pure barter has no price signal.
func (s *Service) recordTrades(ctx context.Context, o *model.TradeOffer, now time.Time) {
	record := func(buyerID, sellerID, goodID string, qty int64, unitPrice decimal.Decimal, influence bool) {
		r := &model.PlayerTradeRecord{
			ID:           uuid.New().String(),
			BuyerID:      buyerID,
			SellerID:     sellerID,
			GoodID:       goodID,
			Quantity:     qty,
			PricePerUnit: unitPrice,
			DistrictID:   o.DistrictID,
			TradeType:    model.TradeTypeOffer,
			CreatedAt:    now,
		}
		if err := s.store.InsertTradeRecord(ctx, r); err != nil {
			slog.Error("failed to record trade", "offer", o.ID, "good", goodID, "err", err)
		}
		metrics.TradeVolume.WithLabelValues(goodID).Add(float64(qty))
		if influence {
			if err := s.market.ApplyInfluence(ctx, o.DistrictID, goodID, qty, unitPrice); err != nil {
				slog.Error("price influence failed", "offer", o.ID, "good", goodID, "err", err)
			}
		}
	}

	offerImplied := len(o.RequestGoods) == 0 && o.RequestCash.IsPositive()
	offerPrices := s.legUnitPrices(ctx, o.OfferGoods, o.RequestGoods, o.RequestCash, o.DistrictID)
	for goodID, qty := range o.OfferGoods {
		record(o.ReceiverID, o.SenderID, goodID, qty, offerPrices[goodID], offerImplied)
	}

	requestImplied := len(o.OfferGoods) == 0 && o.OfferCash.IsPositive()
	requestPrices := s.legUnitPrices(ctx, o.RequestGoods, o.OfferGoods, o.OfferCash, o.DistrictID)
	for goodID, qty := range o.RequestGoods {
		record(o.SenderID, o.ReceiverID, goodID, qty, requestPrices[goodID], requestImplied)
	}
}

// reverse swaps a transfer's debits and credits to undo it.
func reverse(t *ledger.Transfer) *ledger.Transfer {
	r := &ledger.Transfer{}
	for _, d := range t.Debits {
		r.Credits = append(r.Credits, d)
	}
	for _, c := range t.Credits {
		r.Debits = append(r.Debits, c)
	}
	return r
}

// --- HTTP handlers ---

// CreateRequest is the JSON body for POST /api/v1/offers.
type CreateRequest struct {
	SenderID     string           `json:"sender_id"`
	ReceiverID   string           `json:"receiver_id"`
	OfferGoods   map[string]int64 `json:"offer_goods"`
	OfferCash    decimal.Decimal  `json:"offer_cash"`
	RequestGoods map[string]int64 `json:"request_goods"`
	RequestCash  decimal.Decimal  `json:"request_cash"`
	DistrictID   string           `json:"district_id"`
}

// HandleCreate handles POST /api/v1/offers.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o, err := s.Create(r.Context(), req.SenderID, req.ReceiverID,
		req.OfferGoods, req.OfferCash, req.RequestGoods, req.RequestCash, req.DistrictID)
	if err != nil {
		if web.StatusFor(err) != http.StatusInternalServerError {
			web.WriteDomainError(w, err)
		} else {
			web.WriteError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	web.WriteJSON(w, http.StatusCreated, o)
}

// ActionRequest is the JSON body for accept/decline calls.
type ActionRequest struct {
	ReceiverID string `json:"receiver_id"`
}

// HandleAccept handles POST /api/v1/offers/{offerID}/accept.
func (s *Service) HandleAccept(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReceiverID == "" {
		web.WriteError(w, "receiver_id is required", http.StatusBadRequest)
		return
	}

	o, err := s.Accept(r.Context(), chi.URLParam(r, "offerID"), req.ReceiverID)
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, o)
}

// HandleDecline handles POST /api/v1/offers/{offerID}/decline.
func (s *Service) HandleDecline(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReceiverID == "" {
		web.WriteError(w, "receiver_id is required", http.StatusBadRequest)
		return
	}

	o, err := s.Decline(r.Context(), chi.URLParam(r, "offerID"), req.ReceiverID)
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, o)
}

// HandleListPending handles GET /api/v1/offers/pending/{playerID}.
// Time-expired offers are filtered out even before the lazy status sweep.
func (s *Service) HandleListPending(w http.ResponseWriter, r *http.Request) {
	offers, err := s.store.ListPendingOffers(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		web.WriteError(w, "failed to list offers", http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	visible := make([]model.TradeOffer, 0, len(offers))
	for _, o := range offers {
		if now.Before(o.ExpiresAt) {
			visible = append(visible, o)
		}
	}
	web.WriteJSON(w, http.StatusOK, visible)
}
