// Package ledger defines the transfer primitive that moves cash and goods
// between players. A Transfer is a batch of debits and credits executed as a
// single atomic unit by the store: every debit is validated against current
// balances before any mutation, and a single underflow fails the whole batch.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/model"
)

// Kind discriminates cash entries from goods entries.
type Kind string

const (
	KindCash Kind = "cash"
	KindGood Kind = "good"
)

// Entry is one leg of a transfer. For cash entries GoodID is empty and
// Amount carries the value. For goods entries Quantity carries the count and
// UnitPrice (credits only) feeds the weighted-average cost recomputation.
type Entry struct {
	PlayerID  string
	Kind      Kind
	GoodID    string
	Amount    decimal.Decimal
	Quantity  int64
	UnitPrice decimal.Decimal
}

// Transfer is an atomic batch of debits and credits. Either every entry
// applies or none do; no partial application is observable.
type Transfer struct {
	Debits  []Entry
	Credits []Entry
}

// CashDebit removes amount from the player's wallet.
func CashDebit(playerID string, amount decimal.Decimal) Entry {
	return Entry{PlayerID: playerID, Kind: KindCash, Amount: amount}
}

// CashCredit adds amount to the player's wallet.
func CashCredit(playerID string, amount decimal.Decimal) Entry {
	return Entry{PlayerID: playerID, Kind: KindCash, Amount: amount}
}

// GoodsDebit removes qty of a good from the player's inventory. Debits never
// change the line's average cost.
func GoodsDebit(playerID, goodID string, qty int64) Entry {
	return Entry{PlayerID: playerID, Kind: KindGood, GoodID: goodID, Quantity: qty}
}

// GoodsCredit adds qty of a good to the player's inventory at the given unit
// price, recomputing the weighted-average cost.
func GoodsCredit(playerID, goodID string, qty int64, unitPrice decimal.Decimal) Entry {
	return Entry{PlayerID: playerID, Kind: KindGood, GoodID: goodID, Quantity: qty, UnitPrice: unitPrice}
}

// Validate checks the structural well-formedness of a transfer: positive
// amounts and quantities, good IDs present on goods entries. Balance checks
// happen inside the store, under its lock.
func (t *Transfer) Validate() error {
	for i, e := range append(append([]Entry{}, t.Debits...), t.Credits...) {
		switch e.Kind {
		case KindCash:
			if e.Amount.IsNegative() {
				return fmt.Errorf("transfer entry %d: negative cash amount %s", i, e.Amount)
			}
		case KindGood:
			if e.GoodID == "" {
				return fmt.Errorf("transfer entry %d: goods entry without good id", i)
			}
			if e.Quantity <= 0 {
				return fmt.Errorf("transfer entry %d: non-positive quantity %d", i, e.Quantity)
			}
			if e.UnitPrice.IsNegative() {
				return fmt.Errorf("transfer entry %d: negative unit price %s", i, e.UnitPrice)
			}
		default:
			return fmt.Errorf("transfer entry %d: unknown kind %q", i, e.Kind)
		}
		if e.PlayerID == "" {
			return fmt.Errorf("transfer entry %d: missing player id", i)
		}
	}
	return nil
}

// ApplyCredit merges qty units at unitPrice into an inventory line and
// returns the updated line. The weighted-average cost is
//
//	(oldAvg*oldQty + unitPrice*qty) / (oldQty + qty)
//
// A nil line means the player holds none of the good yet: the new line
// starts at avgCost = unitPrice.
func ApplyCredit(line *model.InventoryLine, playerID, goodID string, qty int64, unitPrice decimal.Decimal) model.InventoryLine {
	if line == nil || line.Quantity == 0 {
		return model.InventoryLine{
			PlayerID: playerID,
			GoodID:   goodID,
			Quantity: qty,
			AvgCost:  unitPrice,
		}
	}

	oldQty := decimal.NewFromInt(line.Quantity)
	newQty := decimal.NewFromInt(qty)
	totalCost := line.AvgCost.Mul(oldQty).Add(unitPrice.Mul(newQty))
	avg := totalCost.Div(oldQty.Add(newQty))

	return model.InventoryLine{
		PlayerID: playerID,
		GoodID:   goodID,
		Quantity: line.Quantity + qty,
		AvgCost:  avg,
	}
}
