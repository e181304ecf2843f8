package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// grant credits a player directly, bypassing validation.
func grant(t *testing.T, ms *store.MemoryStore, playerID string, cash float64, goodID string, qty int64, unitCost float64) {
	t.Helper()
	tr := &ledger.Transfer{}
	if cash > 0 {
		tr.Credits = append(tr.Credits, ledger.CashCredit(playerID, d(cash)))
	}
	if qty > 0 {
		tr.Credits = append(tr.Credits, ledger.GoodsCredit(playerID, goodID, qty, d(unitCost)))
	}
	if err := ms.Transfer(context.Background(), tr); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
}

// --- Transfer tests ---

func TestTransfer_MovesCashAndGoods(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	grant(t, ms, "buyer", 2000, "", 0, 0)
	grant(t, ms, "seller", 0, "drugs", 10, 60)

	tr := &ledger.Transfer{
		Debits: []ledger.Entry{
			ledger.CashDebit("buyer", d(1000)),
			ledger.GoodsDebit("seller", "drugs", 10),
		},
		Credits: []ledger.Entry{
			ledger.CashCredit("seller", d(1000)),
			ledger.GoodsCredit("buyer", "drugs", 10, d(100)),
		},
	}
	if err := ms.Transfer(ctx, tr); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	buyer, _ := ms.GetWallet(ctx, "buyer")
	if !buyer.Balance.Equal(d(1000)) {
		t.Errorf("expected buyer balance 1000, got %s", buyer.Balance)
	}
	seller, _ := ms.GetWallet(ctx, "seller")
	if !seller.Balance.Equal(d(1000)) {
		t.Errorf("expected seller balance 1000, got %s", seller.Balance)
	}

	line, err := ms.GetInventoryLine(ctx, "buyer", "drugs")
	if err != nil {
		t.Fatalf("buyer should hold drugs: %v", err)
	}
	if line.Quantity != 10 || !line.AvgCost.Equal(d(100)) {
		t.Errorf("expected 10 @ 100, got %d @ %s", line.Quantity, line.AvgCost)
	}

	if _, err := ms.GetInventoryLine(ctx, "seller", "drugs"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("emptied line should be deleted, got %v", err)
	}
}

func TestTransfer_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	grant(t, ms, "buyer", 500, "", 0, 0)
	grant(t, ms, "seller", 0, "drugs", 10, 60)

	tr := &ledger.Transfer{
		Debits: []ledger.Entry{
			ledger.CashDebit("buyer", d(1000)),
			ledger.GoodsDebit("seller", "drugs", 10),
		},
		Credits: []ledger.Entry{
			ledger.CashCredit("seller", d(1000)),
			ledger.GoodsCredit("buyer", "drugs", 10, d(100)),
		},
	}
	if err := ms.Transfer(ctx, tr); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	buyer, _ := ms.GetWallet(ctx, "buyer")
	if !buyer.Balance.Equal(d(500)) {
		t.Errorf("failed transfer must not touch balances, got %s", buyer.Balance)
	}
	line, err := ms.GetInventoryLine(ctx, "seller", "drugs")
	if err != nil || line.Quantity != 10 {
		t.Errorf("failed transfer must not touch inventory: %v", err)
	}
}

func TestTransfer_InsufficientInventory(t *testing.T) {
	ms := store.NewMemoryStore()
	grant(t, ms, "seller", 0, "weapons", 3, 250)

	tr := &ledger.Transfer{
		Debits: []ledger.Entry{ledger.GoodsDebit("seller", "weapons", 5)},
	}
	if err := ms.Transfer(context.Background(), tr); !errors.Is(err, model.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
}

func TestTransfer_AggregatesDebitsAgainstSameWallet(t *testing.T) {
	ms := store.NewMemoryStore()
	grant(t, ms, "p1", 100, "", 0, 0)

	// Each debit alone is covered; together they are not.
	tr := &ledger.Transfer{
		Debits: []ledger.Entry{
			ledger.CashDebit("p1", d(60)),
			ledger.CashDebit("p1", d(60)),
		},
	}
	if err := ms.Transfer(context.Background(), tr); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for aggregated debits, got %v", err)
	}
}

func TestTransfer_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	grant(t, ms, "p1", 50, "", 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := &ledger.Transfer{
				Debits:  []ledger.Entry{ledger.CashDebit("p1", d(1))},
				Credits: []ledger.Entry{ledger.CashCredit("p2", d(1))},
			}
			if err := ms.Transfer(ctx, tr); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Errorf("expected exactly 50 transfers to succeed, got %d", succeeded)
	}
	w, _ := ms.GetWallet(ctx, "p1")
	if !w.Balance.Equal(decimal.Zero) {
		t.Errorf("expected p1 drained to zero, got %s", w.Balance)
	}
	if w.Balance.IsNegative() {
		t.Errorf("balance went negative: %s", w.Balance)
	}
}

func TestGetWallet_UnknownPlayerHasZeroBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	w, err := ms.GetWallet(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Balance.Equal(decimal.Zero) {
		t.Errorf("expected zero balance, got %s", w.Balance)
	}
}

// --- CAS transition tests ---

func seedListing(t *testing.T, ms *store.MemoryStore, id string, status model.ListingStatus) {
	t.Helper()
	err := ms.CreateListing(context.Background(), &model.Listing{
		ID:           id,
		SellerID:     "seller",
		GoodID:       "drugs",
		Quantity:     10,
		PricePerUnit: d(100),
		DistrictID:   "centrum",
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed listing: %v", err)
	}
}

func TestTransitionListing_CAS(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedListing(t, ms, "l1", model.ListingActive)

	if err := ms.TransitionListing(ctx, "l1", model.ListingActive, model.ListingSold); err != nil {
		t.Fatalf("first transition should succeed: %v", err)
	}
	// Second buyer loses the race.
	if err := ms.TransitionListing(ctx, "l1", model.ListingActive, model.ListingSold); !errors.Is(err, model.ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestTransitionListing_NotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.TransitionListing(context.Background(), "missing", model.ListingActive, model.ListingSold)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Auction bid CAS tests ---

func seedAuction(t *testing.T, ms *store.MemoryStore, id string, endsAt time.Time) {
	t.Helper()
	err := ms.CreateAuction(context.Background(), &model.LiveAuction{
		ID:             id,
		SellerID:       "seller",
		ItemType:       model.ItemTypeGood,
		ItemID:         "drugs",
		Quantity:       10,
		StartingPrice:  d(500),
		CurrentBid:     decimal.Zero,
		MinIncrement:   d(25),
		EndsAt:         endsAt,
		OriginalEndsAt: endsAt,
		Status:         model.AuctionActive,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed auction: %v", err)
	}
}

func TestPlaceAuctionBid_StaleBidCountIsOutbid(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	endsAt := time.Now().UTC().Add(30 * time.Minute)
	seedAuction(t, ms, "a1", endsAt)

	if err := ms.PlaceAuctionBid(ctx, "a1", 0, d(500), "b1", endsAt); err != nil {
		t.Fatalf("first bid should succeed: %v", err)
	}
	// A rival bid computed against bid count 0 must lose.
	if err := ms.PlaceAuctionBid(ctx, "a1", 0, d(600), "b2", endsAt); !errors.Is(err, model.ErrOutbid) {
		t.Errorf("expected ErrOutbid, got %v", err)
	}

	a, _ := ms.GetAuction(ctx, "a1")
	if a.CurrentBidderID != "b1" || a.BidCount != 1 {
		t.Errorf("losing bid must not apply: bidder=%s count=%d", a.CurrentBidderID, a.BidCount)
	}
}

func TestPlaceAuctionBid_EndTimeOnlyMovesForward(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	endsAt := time.Now().UTC().Add(30 * time.Minute)
	seedAuction(t, ms, "a1", endsAt)

	later := endsAt.Add(2 * time.Minute)
	if err := ms.PlaceAuctionBid(ctx, "a1", 0, d(500), "b1", later); err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	a, _ := ms.GetAuction(ctx, "a1")
	if !a.EndsAt.Equal(later) {
		t.Errorf("expected extension to %v, got %v", later, a.EndsAt)
	}

	earlier := endsAt.Add(-10 * time.Minute)
	if err := ms.PlaceAuctionBid(ctx, "a1", 1, d(600), "b2", earlier); err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	a, _ = ms.GetAuction(ctx, "a1")
	if !a.EndsAt.Equal(later) {
		t.Errorf("end time must never move backward: got %v", a.EndsAt)
	}
}

// --- Market price tests ---

func TestUpdateMarketPrice_MissingEntry(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.UpdateMarketPrice(context.Background(), "centrum", "drugs", func(e *model.MarketPriceEntry) error {
		return nil
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMarketPrice_ReadModifyWrite(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.UpsertMarketPrice(ctx, &model.MarketPriceEntry{
		DistrictID:   "centrum",
		GoodID:       "drugs",
		CurrentPrice: d(100),
		Trend:        model.TrendStable,
	})

	err := ms.UpdateMarketPrice(ctx, "centrum", "drugs", func(e *model.MarketPriceEntry) error {
		e.CurrentPrice = d(110)
		e.BuyVolume += 5
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	e, _ := ms.GetMarketPrice(ctx, "centrum", "drugs")
	if !e.CurrentPrice.Equal(d(110)) || e.BuyVolume != 5 {
		t.Errorf("update not applied: price=%s vol=%d", e.CurrentPrice, e.BuyVolume)
	}
}

func TestUpdateMarketPrice_ErrorDiscardsChanges(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.UpsertMarketPrice(ctx, &model.MarketPriceEntry{
		DistrictID:   "centrum",
		GoodID:       "drugs",
		CurrentPrice: d(100),
	})

	sentinel := errors.New("boom")
	err := ms.UpdateMarketPrice(ctx, "centrum", "drugs", func(e *model.MarketPriceEntry) error {
		e.CurrentPrice = d(999)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	e, _ := ms.GetMarketPrice(ctx, "centrum", "drugs")
	if !e.CurrentPrice.Equal(d(100)) {
		t.Errorf("failed update must not apply, got %s", e.CurrentPrice)
	}
}

// --- Vehicle tests ---

func TestVehicleEscrowAndTransfer(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.CreateVehicle(ctx, &model.Vehicle{ID: "v1", OwnerID: "p1", Model: "Sedan"})

	if err := ms.SetVehicleEscrow(ctx, "v1", "p2", true); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("non-owner escrow should fail, got %v", err)
	}
	if err := ms.SetVehicleEscrow(ctx, "v1", "p1", true); err != nil {
		t.Fatalf("escrow failed: %v", err)
	}
	if err := ms.SetVehicleEscrow(ctx, "v1", "p1", true); err == nil {
		t.Error("double escrow should fail")
	}

	if err := ms.TransferVehicle(ctx, "v1", "p1", "p2"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	v, _ := ms.GetVehicle(ctx, "v1")
	if v.OwnerID != "p2" || v.InEscrow {
		t.Errorf("expected owner p2 out of escrow, got %+v", v)
	}
}
