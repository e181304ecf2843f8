package web

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/onderwereld/economy-engine/internal/model"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrInsufficientFunds, http.StatusPaymentRequired},
		{model.ErrInsufficientInventory, http.StatusPaymentRequired},
		{model.ErrUnauthorized, http.StatusForbidden},
		{model.ErrNotActive, http.StatusConflict},
		{model.ErrOutbid, http.StatusConflict},
		{model.ErrExpired, http.StatusGone},
		{model.ErrSelfTrade, http.StatusUnprocessableEntity},
		{model.ErrSelfBid, http.StatusUnprocessableEntity},
		{model.ErrBelowMinimumBid, http.StatusUnprocessableEntity},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStatusFor_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("sender cannot cover the offer: %w", model.ErrInsufficientFunds)
	if got := StatusFor(wrapped); got != http.StatusPaymentRequired {
		t.Errorf("wrapped error should keep its status, got %d", got)
	}
}
