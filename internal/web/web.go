// Package web holds the small JSON response helpers shared by the HTTP
// handler packages, including the mapping from typed domain errors to HTTP
// status codes.
package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onderwereld/economy-engine/internal/model"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteDomainError maps a typed domain error to its HTTP status and writes
// it, keeping failure classes distinguishable for the client: affordability
// (402), races and terminal-state reuse (409), authorization (403),
// absence (404), expiry (410), invalid intents (422).
func WriteDomainError(w http.ResponseWriter, err error) {
	WriteError(w, err.Error(), StatusFor(err))
}

// StatusFor returns the HTTP status for a typed domain error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientInventory):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotActive),
		errors.Is(err, model.ErrOutbid),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrExpired):
		return http.StatusGone
	case errors.Is(err, model.ErrSelfTrade),
		errors.Is(err, model.ErrSelfBid),
		errors.Is(err, model.ErrBelowMinimumBid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
