// Package auction implements open-bid live auctions with anti-snipe end
// time extension. The item (a stack of goods or a vehicle) is escrowed from
// the seller at creation; bid money is NOT escrowed, only validated, so the
// winner is re-validated at claim time and a broke winner forfeits the item
// back to the seller.
package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/metrics"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/notify"
	"github.com/onderwereld/economy-engine/internal/store"
	"github.com/onderwereld/economy-engine/internal/web"
)

const (
	// Duration is the initial auction window.
	Duration = 30 * time.Minute

	// SnipeWindow is the anti-snipe threshold: a bid landing with less
	// than this much time left pushes the end out to now + SnipeWindow.
	SnipeWindow = 2 * time.Minute
)

// feeRate is the platform cut withheld from the seller's proceeds. The fee
// leaves the player economy entirely (money sink).
var feeRate = decimal.RequireFromString("0.05")

// Service handles live auctions. Mutating operations are serialized with a
// mutex; the store's bid-count CAS is the second line of defense against
// concurrent bids.
type Service struct {
	store    store.Store
	notifier notify.Notifier
	hub      *notify.Hub // optional
	mu       sync.Mutex
	now      func() time.Time
}

// NewService creates an auction service. Pass nil for hub if WebSocket
// broadcasting is not needed and nil for clock to use wall time.
func NewService(st store.Store, notifier notify.Notifier, hub *notify.Hub, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:    st,
		notifier: notifier,
		hub:      hub,
		now:      clock,
	}
}

// Create escrows the item from the seller and opens a 30 minute auction.
// Goods are debited from the seller's inventory; a vehicle gets its escrow
// flag set instead.
func (s *Service) Create(ctx context.Context, sellerID, itemType, itemID string, quantity int64, startingPrice, minIncrement decimal.Decimal) (*model.LiveAuction, error) {
	if sellerID == "" || itemID == "" {
		return nil, fmt.Errorf("seller and item are required")
	}
	if !startingPrice.IsPositive() {
		return nil, fmt.Errorf("starting price must be positive")
	}

	switch itemType {
	case model.ItemTypeGood:
		if quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive")
		}
	case model.ItemTypeVehicle:
		quantity = 1
	default:
		return nil, fmt.Errorf("unknown item type %q", itemType)
	}

	if !minIncrement.IsPositive() {
		minIncrement = startingPrice.Mul(feeRate) // default 5% of start
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch itemType {
	case model.ItemTypeGood:
		t := &ledger.Transfer{Debits: []ledger.Entry{ledger.GoodsDebit(sellerID, itemID, quantity)}}
		if err := s.store.Transfer(ctx, t); err != nil {
			return nil, err
		}
	case model.ItemTypeVehicle:
		if err := s.store.SetVehicleEscrow(ctx, itemID, sellerID, true); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	endsAt := now.Add(Duration)
	a := &model.LiveAuction{
		ID:             uuid.New().String(),
		SellerID:       sellerID,
		ItemType:       itemType,
		ItemID:         itemID,
		Quantity:       quantity,
		StartingPrice:  startingPrice,
		CurrentBid:     decimal.Zero,
		MinIncrement:   minIncrement,
		EndsAt:         endsAt,
		OriginalEndsAt: endsAt,
		Status:         model.AuctionActive,
		CreatedAt:      now,
	}

	if err := s.store.CreateAuction(ctx, a); err != nil {
		s.returnItem(ctx, a)
		return nil, fmt.Errorf("create auction: %w", err)
	}

	slog.Info("auction created",
		"id", a.ID,
		"seller", sellerID,
		"item_type", itemType,
		"item", itemID,
		"starting_price", startingPrice.String(),
		"ends_at", endsAt,
	)
	return a, nil
}

// Bid places a bid. The bidder's funds are validated but not escrowed. A
// bid landing inside the snipe window pushes the end time out so rivals get
// a chance to respond; the end time only ever moves forward.
func (s *Service) Bid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*model.LiveAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AuctionActive {
		return nil, model.ErrNotActive
	}
	if a.SellerID == bidderID {
		return nil, model.ErrSelfBid
	}

	now := s.now().UTC()
	if !now.Before(a.EndsAt) {
		if err := s.store.TransitionAuction(ctx, auctionID, model.AuctionActive, model.AuctionExpired); err != nil {
			slog.Error("failed to expire auction", "id", auctionID, "err", err)
		}
		return nil, model.ErrExpired
	}

	minBid := a.StartingPrice
	if a.BidCount > 0 {
		minBid = a.CurrentBid.Add(a.MinIncrement)
	}
	if amount.LessThan(minBid) {
		return nil, fmt.Errorf("bid %s below minimum %s: %w", amount, minBid, model.ErrBelowMinimumBid)
	}

	w, err := s.store.GetWallet(ctx, bidderID)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, model.ErrInsufficientFunds
	}

	endsAt := a.EndsAt
	extended := false
	if a.EndsAt.Sub(now) < SnipeWindow {
		endsAt = now.Add(SnipeWindow)
		extended = true
	}

	if err := s.store.PlaceAuctionBid(ctx, auctionID, a.BidCount, amount, bidderID, endsAt); err != nil {
		return nil, err
	}

	previousBidder := a.CurrentBidderID
	a.CurrentBid = amount
	a.CurrentBidderID = bidderID
	a.BidCount++
	a.EndsAt = endsAt

	metrics.BidsTotal.Inc()
	if extended {
		metrics.AuctionExtensions.Inc()
		slog.Info("auction extended", "id", a.ID, "ends_at", endsAt)
	}
	slog.Info("bid placed", "id", a.ID, "bidder", bidderID, "amount", amount.String(), "count", a.BidCount)

	if previousBidder != "" && previousBidder != bidderID {
		s.notifier.Notify(ctx, previousBidder, "Outbid",
			fmt.Sprintf("You have been outbid on auction %s. Current bid: %s.", a.ID, amount))
	}
	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:      notify.EventBidPlaced,
			AuctionID: a.ID,
			Price:     amount.String(),
		})
	}

	return a, nil
}

// Claim settles an ended auction. Callable by the winner or the seller.
// Claiming an already-claimed auction returns the settled record unchanged,
// so retries are harmless. The winner is re-validated: if the money is gone
// the item returns to the seller and the sale is void.
func (s *Service) Claim(ctx context.Context, auctionID, callerID string) (*model.LiveAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AuctionClaimed {
		return a, nil
	}

	now := s.now().UTC()
	if a.Status == model.AuctionActive && now.Before(a.EndsAt) {
		return nil, fmt.Errorf("auction still running: %w", model.ErrNotActive)
	}
	if callerID != a.SellerID && callerID != a.CurrentBidderID {
		return nil, model.ErrUnauthorized
	}

	from := a.Status

	// No bids: the seller reclaims the item.
	if a.BidCount == 0 {
		if err := s.returnItem(ctx, a); err != nil {
			return nil, err
		}
		if err := s.store.TransitionAuction(ctx, auctionID, from, model.AuctionClaimed); err != nil {
			s.reEscrowItem(ctx, a)
			return nil, err
		}
		a.Status = model.AuctionClaimed
		slog.Info("auction closed without bids", "id", a.ID, "seller", a.SellerID)
		s.notifier.Notify(ctx, a.SellerID, "Auction ended",
			fmt.Sprintf("Your auction %s ended without bids. The item was returned.", a.ID))
		return a, nil
	}

	winnerID := a.CurrentBidderID
	bid := a.CurrentBid

	w, err := s.store.GetWallet(ctx, winnerID)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(bid) {
		// Winner went broke between bidding and claiming. Sale is void,
		// item back to the seller.
		if err := s.returnItem(ctx, a); err != nil {
			return nil, err
		}
		if err := s.store.TransitionAuction(ctx, auctionID, from, model.AuctionClaimed); err != nil {
			s.reEscrowItem(ctx, a)
			return nil, err
		}
		a.Status = model.AuctionClaimed
		slog.Warn("auction winner could not pay", "id", a.ID, "winner", winnerID, "bid", bid.String())
		s.notifier.Notify(ctx, a.SellerID, "Auction sale failed",
			fmt.Sprintf("The winning bidder on auction %s could not pay. The item was returned.", a.ID))
		s.notifier.Notify(ctx, winnerID, "Auction forfeited",
			fmt.Sprintf("You could not cover your winning bid on auction %s.", a.ID))
		return a, nil
	}

	fee := bid.Mul(feeRate)
	proceeds := bid.Sub(fee)

	t := &ledger.Transfer{
		Debits:  []ledger.Entry{ledger.CashDebit(winnerID, bid)},
		Credits: []ledger.Entry{ledger.CashCredit(a.SellerID, proceeds)},
	}
	if a.ItemType == model.ItemTypeGood {
		unitPrice := bid.Div(decimal.NewFromInt(a.Quantity))
		t.Credits = append(t.Credits, ledger.GoodsCredit(winnerID, a.ItemID, a.Quantity, unitPrice))
	}
	if err := s.store.Transfer(ctx, t); err != nil {
		return nil, err
	}

	if a.ItemType == model.ItemTypeVehicle {
		if err := s.store.TransferVehicle(ctx, a.ItemID, a.SellerID, winnerID); err != nil {
			s.store.Transfer(ctx, &ledger.Transfer{
				Debits:  []ledger.Entry{ledger.CashDebit(a.SellerID, proceeds)},
				Credits: []ledger.Entry{ledger.CashCredit(winnerID, bid)},
			})
			return nil, err
		}
	}

	if err := s.store.TransitionAuction(ctx, auctionID, from, model.AuctionClaimed); err != nil {
		// Lost a race despite the mutex; undo the settlement so a retry sees
		// the auction exactly as it was before this attempt.
		undo := &ledger.Transfer{
			Debits:  []ledger.Entry{ledger.CashDebit(a.SellerID, proceeds)},
			Credits: []ledger.Entry{ledger.CashCredit(winnerID, bid)},
		}
		if a.ItemType == model.ItemTypeGood {
			undo.Debits = append(undo.Debits, ledger.GoodsDebit(winnerID, a.ItemID, a.Quantity))
		}
		if uerr := s.store.Transfer(ctx, undo); uerr != nil {
			slog.Error("failed to undo auction settlement", "auction", a.ID, "err", uerr)
		}
		if a.ItemType == model.ItemTypeVehicle {
			if uerr := s.store.TransferVehicle(ctx, a.ItemID, winnerID, a.SellerID); uerr != nil {
				slog.Error("failed to undo vehicle transfer", "auction", a.ID, "err", uerr)
			} else {
				s.reEscrowItem(ctx, a)
			}
		}
		return nil, err
	}
	a.Status = model.AuctionClaimed

	if a.ItemType == model.ItemTypeGood {
		r := &model.PlayerTradeRecord{
			ID:           uuid.New().String(),
			BuyerID:      winnerID,
			SellerID:     a.SellerID,
			GoodID:       a.ItemID,
			Quantity:     a.Quantity,
			PricePerUnit: bid.Div(decimal.NewFromInt(a.Quantity)),
			TradeType:    model.TradeTypeAuction,
			CreatedAt:    now,
		}
		if err := s.store.InsertTradeRecord(ctx, r); err != nil {
			slog.Error("failed to record trade", "auction", a.ID, "err", err)
		}
		metrics.TradeVolume.WithLabelValues(a.ItemID).Add(float64(a.Quantity))
	}

	metrics.TradesTotal.WithLabelValues(model.TradeTypeAuction).Inc()
	feeF, _ := fee.Float64()
	metrics.PlatformFees.Add(feeF)

	slog.Info("auction claimed",
		"id", a.ID,
		"winner", winnerID,
		"bid", bid.String(),
		"fee", fee.String(),
		"seller_proceeds", proceeds.String(),
	)

	s.notifier.Notify(ctx, a.SellerID, "Auction sold",
		fmt.Sprintf("Your auction %s sold for %s. You received %s after fees.", a.ID, bid, proceeds))
	s.notifier.Notify(ctx, winnerID, "Auction won",
		fmt.Sprintf("You won auction %s for %s.", a.ID, bid))

	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:      notify.EventAuctionClaimed,
			AuctionID: a.ID,
			Price:     bid.String(),
		})
	}

	return a, nil
}

// returnItem puts the escrowed item back with the seller. Goods come back
// at the auction's starting price per unit for cost basis purposes.
func (s *Service) returnItem(ctx context.Context, a *model.LiveAuction) error {
	switch a.ItemType {
	case model.ItemTypeGood:
		unitPrice := a.StartingPrice.Div(decimal.NewFromInt(a.Quantity))
		t := &ledger.Transfer{
			Credits: []ledger.Entry{ledger.GoodsCredit(a.SellerID, a.ItemID, a.Quantity, unitPrice)},
		}
		return s.store.Transfer(ctx, t)
	case model.ItemTypeVehicle:
		return s.store.SetVehicleEscrow(ctx, a.ItemID, a.SellerID, false)
	}
	return fmt.Errorf("unknown item type %q", a.ItemType)
}

// reEscrowItem takes a just-returned item back out of the seller's hands after
// the status transition that was supposed to close the auction failed. Without
// it a retried claim would return the item a second time.
func (s *Service) reEscrowItem(ctx context.Context, a *model.LiveAuction) {
	switch a.ItemType {
	case model.ItemTypeGood:
		t := &ledger.Transfer{
			Debits: []ledger.Entry{ledger.GoodsDebit(a.SellerID, a.ItemID, a.Quantity)},
		}
		if err := s.store.Transfer(ctx, t); err != nil {
			slog.Error("failed to re-escrow auction item", "auction", a.ID, "err", err)
		}
	case model.ItemTypeVehicle:
		if err := s.store.SetVehicleEscrow(ctx, a.ItemID, a.SellerID, true); err != nil {
			slog.Error("failed to re-escrow auction vehicle", "auction", a.ID, "err", err)
		}
	}
}

// --- HTTP handlers ---

// CreateRequest is the JSON body for POST /api/v1/auctions.
type CreateRequest struct {
	SellerID      string          `json:"seller_id"`
	ItemType      string          `json:"item_type"`
	ItemID        string          `json:"item_id"`
	Quantity      int64           `json:"quantity"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	MinIncrement  decimal.Decimal `json:"min_increment"`
}

// HandleCreate handles POST /api/v1/auctions.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := s.Create(r.Context(), req.SellerID, req.ItemType, req.ItemID,
		req.Quantity, req.StartingPrice, req.MinIncrement)
	if err != nil {
		if web.StatusFor(err) != http.StatusInternalServerError {
			web.WriteDomainError(w, err)
		} else {
			web.WriteError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	web.WriteJSON(w, http.StatusCreated, a)
}

// BidRequest is the JSON body for POST /api/v1/auctions/{auctionID}/bids.
type BidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// HandleBid handles POST /api/v1/auctions/{auctionID}/bids.
func (s *Service) HandleBid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BidderID == "" {
		web.WriteError(w, "bidder_id and amount are required", http.StatusBadRequest)
		return
	}

	a, err := s.Bid(r.Context(), chi.URLParam(r, "auctionID"), req.BidderID, req.Amount)
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, a)
}

// ClaimRequest is the JSON body for POST /api/v1/auctions/{auctionID}/claim.
type ClaimRequest struct {
	PlayerID string `json:"player_id"`
}

// HandleClaim handles POST /api/v1/auctions/{auctionID}/claim.
func (s *Service) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		web.WriteError(w, "player_id is required", http.StatusBadRequest)
		return
	}

	a, err := s.Claim(r.Context(), chi.URLParam(r, "auctionID"), req.PlayerID)
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, a)
}

// HandleList handles GET /api/v1/auctions.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.store.ListActiveAuctions(r.Context())
	if err != nil {
		web.WriteError(w, "failed to list auctions", http.StatusInternalServerError)
		return
	}
	// The store returns anything still marked active; hide auctions whose
	// timer has run out but that nobody has claimed yet.
	now := s.now().UTC()
	visible := make([]model.LiveAuction, 0, len(auctions))
	for _, a := range auctions {
		if now.Before(a.EndsAt) {
			visible = append(visible, a)
		}
	}
	web.WriteJSON(w, http.StatusOK, visible)
}
