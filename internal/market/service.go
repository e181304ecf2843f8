// Package market maintains the simulated per-district price table and lets
// completed player trades perturb it through the price influence engine.
package market

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/metrics"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/notify"
	"github.com/onderwereld/economy-engine/internal/pricing"
	"github.com/onderwereld/economy-engine/internal/store"
	"github.com/onderwereld/economy-engine/internal/web"
)

// Service applies price influence from realized trades and serves the
// read-only price query surface. The external price-drift process writes the
// same table independently; every mutation here goes through the store's
// locked read-modify-write so the two compose.
type Service struct {
	store store.Store
	hub   *notify.Hub // optional WebSocket hub for price broadcasts
	now   func() time.Time
}

// NewService creates a market service. Pass nil for hub if WebSocket
// broadcasting is not needed and nil for clock to use wall time.
func NewService(st store.Store, hub *notify.Hub, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: st, hub: hub, now: clock}
}

// ApplyInfluence nudges the market price for (districtID, goodID) toward
// tradePrice after a realized trade of the given size. Trades below the
// anti-manipulation floor only bump the volume counters. A missing price
// entry is logged and skipped: price influence must never fail the trade
// that triggered it.
func (s *Service) ApplyInfluence(ctx context.Context, districtID, goodID string, quantity int64, tradePrice decimal.Decimal) error {
	var moved bool
	var newPrice decimal.Decimal
	var trend model.Trend

	err := s.store.UpdateMarketPrice(ctx, districtID, goodID, func(e *model.MarketPriceEntry) error {
		e.BuyVolume += quantity
		e.SellVolume += quantity

		price, t := pricing.Apply(e.CurrentPrice, tradePrice, quantity)
		if price.Equal(e.CurrentPrice) && quantity < pricing.MinInfluenceQuantity {
			return nil
		}
		e.CurrentPrice = price
		e.Trend = t
		e.LastUpdated = s.now().UTC()
		moved = true
		newPrice = price
		trend = t
		return nil
	})
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("price influence skipped, no market entry",
			"district", districtID, "good", goodID)
		return nil
	}
	if err != nil {
		return err
	}

	if moved {
		metrics.PriceInfluenceApplied.WithLabelValues(districtID).Inc()
		slog.Info("market price influenced",
			"district", districtID,
			"good", goodID,
			"qty", quantity,
			"trade_price", tradePrice.String(),
			"new_price", newPrice.String(),
			"trend", string(trend),
		)
		if s.hub != nil {
			s.hub.Broadcast(notify.Event{
				Type:       notify.EventPriceMoved,
				DistrictID: districtID,
				GoodID:     goodID,
				Price:      newPrice.String(),
				Trend:      string(trend),
			})
		}
	}
	return nil
}

// Seed writes base price entries for every (district, good) pair that does
// not exist yet. Called once at startup from the configured catalog.
func (s *Service) Seed(ctx context.Context, entries []model.MarketPriceEntry) error {
	for i := range entries {
		e := entries[i]
		if _, err := s.store.GetMarketPrice(ctx, e.DistrictID, e.GoodID); err == nil {
			continue // already seeded; the drift process owns it now
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if e.Trend == "" {
			e.Trend = model.TrendStable
		}
		if e.LastUpdated.IsZero() {
			e.LastUpdated = s.now().UTC()
		}
		if err := s.store.UpsertMarketPrice(ctx, &e); err != nil {
			return err
		}
	}
	return nil
}

// GetPrices handles GET /api/v1/market/prices?district=<id>
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListMarketPrices(r.Context(), r.URL.Query().Get("district"))
	if err != nil {
		web.WriteError(w, "failed to list market prices", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.MarketPriceEntry{}
	}
	web.WriteJSON(w, http.StatusOK, entries)
}
