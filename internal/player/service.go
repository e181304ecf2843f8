// Package player exposes read endpoints over wallets, inventory, and trade
// history, plus the admin grant used to inject cash, goods, and vehicles
// into the economy.
package player

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/store"
	"github.com/onderwereld/economy-engine/internal/web"
)

// Service serves player-facing reads and admin grants.
type Service struct {
	store store.Store
}

// NewService creates a player service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// HandleWallet handles GET /api/v1/players/{playerID}/wallet.
func (s *Service) HandleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.store.GetWallet(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, wallet)
}

// HandleInventory handles GET /api/v1/players/{playerID}/inventory.
func (s *Service) HandleInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := s.store.GetInventory(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, inv)
}

// HandleTrades handles GET /api/v1/players/{playerID}/trades.
func (s *Service) HandleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTradeRecordsByPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, trades)
}

// GrantRequest is the JSON body for POST /admin/grant. Goods are credited
// at the given unit cost so the recipient's average cost stays meaningful.
type GrantRequest struct {
	PlayerID string           `json:"player_id"`
	Cash     decimal.Decimal  `json:"cash"`
	Goods    map[string]int64 `json:"goods"`
	UnitCost decimal.Decimal  `json:"unit_cost"`
	Vehicle  string           `json:"vehicle,omitempty"` // vehicle model to mint
}

// HandleGrant handles POST /admin/grant. This is the faucet side of the
// economy: game systems (job rewards, NPC payouts) call it to create value.
func (s *Service) HandleGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		web.WriteError(w, "player_id is required", http.StatusBadRequest)
		return
	}
	if req.Cash.IsNegative() {
		web.WriteError(w, "cash must not be negative", http.StatusBadRequest)
		return
	}

	t := &ledger.Transfer{}
	if req.Cash.IsPositive() {
		t.Credits = append(t.Credits, ledger.CashCredit(req.PlayerID, req.Cash))
	}
	for goodID, qty := range req.Goods {
		if qty <= 0 {
			web.WriteError(w, fmt.Sprintf("quantity for %s must be positive", goodID), http.StatusBadRequest)
			return
		}
		t.Credits = append(t.Credits, ledger.GoodsCredit(req.PlayerID, goodID, qty, req.UnitCost))
	}

	if len(t.Credits) > 0 {
		if err := s.store.Transfer(r.Context(), t); err != nil {
			web.WriteDomainError(w, err)
			return
		}
	}

	var vehicle *model.Vehicle
	if req.Vehicle != "" {
		vehicle = &model.Vehicle{
			ID:      uuid.New().String(),
			OwnerID: req.PlayerID,
			Model:   req.Vehicle,
		}
		if err := s.store.CreateVehicle(r.Context(), vehicle); err != nil {
			web.WriteDomainError(w, err)
			return
		}
	}

	slog.Info("grant applied", "player", req.PlayerID, "cash", req.Cash.String(), "goods", len(req.Goods))
	web.WriteJSON(w, http.StatusOK, map[string]any{
		"player_id": req.PlayerID,
		"vehicle":   vehicle,
	})
}

// HandleVehicle handles GET /api/v1/vehicles/{vehicleID}.
func (s *Service) HandleVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetVehicle(r.Context(), chi.URLParam(r, "vehicleID"))
	if err != nil {
		web.WriteDomainError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, v)
}
