package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Weighted-average cost tests ---

func TestApplyCredit_NewLine(t *testing.T) {
	line := ApplyCredit(nil, "p1", "drugs", 10, d(100))
	if line.Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", line.Quantity)
	}
	if !line.AvgCost.Equal(d(100)) {
		t.Errorf("expected avg cost 100, got %s", line.AvgCost)
	}
}

func TestApplyCredit_WeightedAverage(t *testing.T) {
	line := &model.InventoryLine{PlayerID: "p1", GoodID: "drugs", Quantity: 10, AvgCost: d(100)}
	updated := ApplyCredit(line, "p1", "drugs", 10, d(200))

	if updated.Quantity != 20 {
		t.Errorf("expected quantity 20, got %d", updated.Quantity)
	}
	// (100*10 + 200*10) / 20 = 150
	if !updated.AvgCost.Equal(d(150)) {
		t.Errorf("expected avg cost 150, got %s", updated.AvgCost)
	}
}

func TestApplyCredit_UnevenQuantities(t *testing.T) {
	line := &model.InventoryLine{PlayerID: "p1", GoodID: "weapons", Quantity: 3, AvgCost: d(250)}
	updated := ApplyCredit(line, "p1", "weapons", 1, d(450))

	// (250*3 + 450*1) / 4 = 300
	if !updated.AvgCost.Equal(d(300)) {
		t.Errorf("expected avg cost 300, got %s", updated.AvgCost)
	}
}

func TestApplyCredit_ZeroQuantityLineResets(t *testing.T) {
	line := &model.InventoryLine{PlayerID: "p1", GoodID: "drugs", Quantity: 0, AvgCost: d(100)}
	updated := ApplyCredit(line, "p1", "drugs", 5, d(40))

	if !updated.AvgCost.Equal(d(40)) {
		t.Errorf("stale avg cost should not survive an empty line, got %s", updated.AvgCost)
	}
}

// --- Transfer validation tests ---

func TestValidate_OK(t *testing.T) {
	tr := &Transfer{
		Debits:  []Entry{CashDebit("p1", d(100)), GoodsDebit("p2", "drugs", 5)},
		Credits: []Entry{CashCredit("p2", d(100)), GoodsCredit("p1", "drugs", 5, d(20))},
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NegativeCash(t *testing.T) {
	tr := &Transfer{Debits: []Entry{CashDebit("p1", d(-1))}}
	if err := tr.Validate(); err == nil {
		t.Error("expected error for negative cash amount")
	}
}

func TestValidate_ZeroQuantity(t *testing.T) {
	tr := &Transfer{Debits: []Entry{GoodsDebit("p1", "drugs", 0)}}
	if err := tr.Validate(); err == nil {
		t.Error("expected error for zero quantity")
	}
}

func TestValidate_MissingGoodID(t *testing.T) {
	tr := &Transfer{Credits: []Entry{GoodsCredit("p1", "", 5, d(10))}}
	if err := tr.Validate(); err == nil {
		t.Error("expected error for missing good id")
	}
}

func TestValidate_MissingPlayer(t *testing.T) {
	tr := &Transfer{Credits: []Entry{CashCredit("", d(10))}}
	if err := tr.Validate(); err == nil {
		t.Error("expected error for missing player id")
	}
}
