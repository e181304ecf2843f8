package model

import "testing"

func TestListingTransitions(t *testing.T) {
	valid := []struct{ from, to ListingStatus }{
		{ListingActive, ListingSold},
		{ListingActive, ListingCancelled},
		{ListingActive, ListingExpired},
	}
	for _, tt := range valid {
		if !tt.from.CanTransitionTo(tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	invalid := []struct{ from, to ListingStatus }{
		{ListingSold, ListingActive},
		{ListingSold, ListingCancelled},
		{ListingCancelled, ListingSold},
		{ListingExpired, ListingActive},
	}
	for _, tt := range invalid {
		if tt.from.CanTransitionTo(tt.to) {
			t.Errorf("%s -> %s must be rejected", tt.from, tt.to)
		}
	}
}

func TestOfferTransitions(t *testing.T) {
	for _, to := range []OfferStatus{OfferAccepted, OfferDeclined, OfferExpired} {
		if !OfferPending.CanTransitionTo(to) {
			t.Errorf("pending -> %s should be allowed", to)
		}
	}
	if OfferAccepted.CanTransitionTo(OfferPending) {
		t.Error("accepted -> pending must be rejected")
	}
	if OfferDeclined.CanTransitionTo(OfferAccepted) {
		t.Error("declined -> accepted must be rejected")
	}
}

func TestAuctionTransitions(t *testing.T) {
	if !AuctionActive.CanTransitionTo(AuctionExpired) {
		t.Error("active -> expired should be allowed")
	}
	if !AuctionActive.CanTransitionTo(AuctionClaimed) {
		t.Error("active -> claimed should be allowed")
	}
	if !AuctionExpired.CanTransitionTo(AuctionClaimed) {
		t.Error("expired -> claimed should be allowed")
	}
	if AuctionClaimed.CanTransitionTo(AuctionActive) {
		t.Error("claimed is terminal")
	}
	if AuctionExpired.CanTransitionTo(AuctionActive) {
		t.Error("expired -> active must be rejected")
	}
}
