package offer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/market"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/notify"
	"github.com/onderwereld/economy-engine/internal/offer"
	"github.com/onderwereld/economy-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

func newTestEnv(t *testing.T) (*offer.Service, *store.MemoryStore, *clock) {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := newClock()
	mkt := market.NewService(ms, nil, clk.Now)
	svc := offer.NewService(ms, mkt, notify.NopNotifier{}, nil, clk.Now)
	return svc, ms, clk
}

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

// --- Create tests ---

func TestCreate_ValidatesSenderHoldings(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 100, "weapons", 3, 250)

	// Alice offers 5 weapons but holds only 3.
	_, err := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1000), "centrum")
	if !errors.Is(err, model.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
}

func TestCreate_NoEscrow(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)

	_, err := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1000), "centrum")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Offered goods remain in Alice's inventory until acceptance.
	line, err := ms.GetInventoryLine(ctx, "alice", "weapons")
	if err != nil || line.Quantity != 5 {
		t.Errorf("offer must not escrow goods: %v", err)
	}
}

func TestCreate_RejectsSelfTrade(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	_, err := svc.Create(context.Background(), "alice", "alice",
		nil, d(10), nil, d(20), "centrum")
	if !errors.Is(err, model.ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}
}

func TestCreate_RejectsEmptyOffer(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	_, err := svc.Create(context.Background(), "alice", "bob",
		nil, decimal.Zero, nil, decimal.Zero, "centrum")
	if err == nil {
		t.Fatal("expected error for empty offer")
	}
}

// --- Accept tests ---

func TestAccept_GoodsForCash(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)
	grant(t, ms, "bob", 2000, "", 0, 0)

	o, err := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	accepted, err := svc.Accept(ctx, o.ID, "bob")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if accepted.Status != model.OfferAccepted {
		t.Errorf("expected accepted, got %s", accepted.Status)
	}

	alice, _ := ms.GetWallet(ctx, "alice")
	if !alice.Balance.Equal(d(1500)) {
		t.Errorf("expected alice balance 1500, got %s", alice.Balance)
	}
	bob, _ := ms.GetWallet(ctx, "bob")
	if !bob.Balance.Equal(d(500)) {
		t.Errorf("expected bob balance 500, got %s", bob.Balance)
	}

	// Bob's new weapons carry the implied unit price 1500/5 = 300.
	line, err := ms.GetInventoryLine(ctx, "bob", "weapons")
	if err != nil {
		t.Fatalf("bob should hold weapons: %v", err)
	}
	if line.Quantity != 5 || !line.AvgCost.Equal(d(300)) {
		t.Errorf("expected 5 @ 300, got %d @ %s", line.Quantity, line.AvgCost)
	}

	trades, _ := ms.ListTradeRecordsByPlayer(ctx, "bob")
	if len(trades) != 1 || trades[0].TradeType != model.TradeTypeOffer {
		t.Fatalf("expected one offer trade record, got %+v", trades)
	}
	if !trades[0].PricePerUnit.Equal(d(300)) {
		t.Errorf("expected recorded price 300, got %s", trades[0].PricePerUnit)
	}
}

func TestAccept_SenderShortfallLeavesPending(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)
	grant(t, ms, "bob", 2000, "", 0, 0)

	o, err := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Alice sells 2 weapons elsewhere before Bob accepts.
	drain := &ledger.Transfer{Debits: []ledger.Entry{ledger.GoodsDebit("alice", "weapons", 2)}}
	if err := ms.Transfer(ctx, drain); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	_, err = svc.Accept(ctx, o.ID, "bob")
	if !errors.Is(err, model.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}

	// The offer stays pending; no money moved.
	got, _ := ms.GetOffer(ctx, o.ID)
	if got.Status != model.OfferPending {
		t.Errorf("offer should remain pending, got %s", got.Status)
	}
	bob, _ := ms.GetWallet(ctx, "bob")
	if !bob.Balance.Equal(d(2000)) {
		t.Errorf("no funds may move on shortfall, got %s", bob.Balance)
	}
}

func TestAccept_ReceiverShortfall(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)
	grant(t, ms, "bob", 1000, "", 0, 0)

	o, _ := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")

	if _, err := svc.Accept(ctx, o.ID, "bob"); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	got, _ := ms.GetOffer(ctx, o.ID)
	if got.Status != model.OfferPending {
		t.Errorf("offer should remain pending, got %s", got.Status)
	}
}

func TestAccept_OnlyReceiver(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)

	o, _ := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")

	if _, err := svc.Accept(ctx, o.ID, "mallory"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// The sender cannot accept their own offer either.
	if _, err := svc.Accept(ctx, o.ID, "alice"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for sender, got %v", err)
	}
}

func TestAccept_Expired(t *testing.T) {
	svc, ms, clk := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)
	grant(t, ms, "bob", 2000, "", 0, 0)

	o, _ := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")

	clk.Advance(offer.TTL + time.Minute)

	if _, err := svc.Accept(ctx, o.ID, "bob"); !errors.Is(err, model.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	got, _ := ms.GetOffer(ctx, o.ID)
	if got.Status != model.OfferExpired {
		t.Errorf("expected expired status, got %s", got.Status)
	}
}

func TestAccept_Barter(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 2, 250)
	grant(t, ms, "bob", 0, "drugs", 20, 60)
	ms.UpsertMarketPrice(ctx, &model.MarketPriceEntry{
		DistrictID: "centrum", GoodID: "weapons", CurrentPrice: d(300), Trend: model.TrendStable,
	})
	ms.UpsertMarketPrice(ctx, &model.MarketPriceEntry{
		DistrictID: "centrum", GoodID: "drugs", CurrentPrice: d(80), Trend: model.TrendStable,
	})

	o, err := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 2}, decimal.Zero,
		map[string]int64{"drugs": 10}, decimal.Zero, "centrum")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Accept(ctx, o.ID, "bob"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	// Barter legs are valued at market price for cost basis.
	weapons, _ := ms.GetInventoryLine(ctx, "bob", "weapons")
	if weapons.Quantity != 2 || !weapons.AvgCost.Equal(d(300)) {
		t.Errorf("expected 2 weapons @ 300, got %d @ %s", weapons.Quantity, weapons.AvgCost)
	}
	drugs, _ := ms.GetInventoryLine(ctx, "alice", "drugs")
	if drugs.Quantity != 10 || !drugs.AvgCost.Equal(d(80)) {
		t.Errorf("expected 10 drugs @ 80, got %d @ %s", drugs.Quantity, drugs.AvgCost)
	}

	// Pure barter has no price signal: market prices stay put.
	e, _ := ms.GetMarketPrice(ctx, "centrum", "weapons")
	if !e.CurrentPrice.Equal(d(300)) {
		t.Errorf("barter must not move prices, got %s", e.CurrentPrice)
	}
}

func TestAccept_CashForGoodsMovesPrice(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "drugs", 10, 60)
	grant(t, ms, "bob", 2000, "", 0, 0)
	ms.UpsertMarketPrice(ctx, &model.MarketPriceEntry{
		DistrictID: "centrum", GoodID: "drugs", CurrentPrice: d(90), Trend: model.TrendStable,
	})

	// 10 drugs for 1000: implied unit price 100, influence 0.15.
	o, _ := svc.Create(ctx, "alice", "bob",
		map[string]int64{"drugs": 10}, decimal.Zero,
		nil, d(1000), "centrum")
	if _, err := svc.Accept(ctx, o.ID, "bob"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	e, _ := ms.GetMarketPrice(ctx, "centrum", "drugs")
	if !e.CurrentPrice.Equal(d(91)) {
		t.Errorf("expected influenced price 91, got %s", e.CurrentPrice)
	}
}

// --- Decline tests ---

func TestDecline(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)

	o, _ := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")

	declined, err := svc.Decline(ctx, o.ID, "bob")
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if declined.Status != model.OfferDeclined {
		t.Errorf("expected declined, got %s", declined.Status)
	}

	// Declined offers cannot be accepted afterwards.
	if _, err := svc.Accept(ctx, o.ID, "bob"); !errors.Is(err, model.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestDecline_OnlyReceiver(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	grant(t, ms, "alice", 0, "weapons", 5, 250)

	o, _ := svc.Create(ctx, "alice", "bob",
		map[string]int64{"weapons": 5}, decimal.Zero,
		nil, d(1500), "centrum")

	if _, err := svc.Decline(ctx, o.ID, "alice"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
