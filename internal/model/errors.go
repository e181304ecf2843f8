package model

import "errors"

// Typed domain errors. Callers discriminate with errors.Is so the UI can
// tell "you can't afford this" from "someone beat you to it". Concurrency
// races (ErrNotActive, ErrOutbid) are expected steady-state outcomes, not
// bugs; every error path leaves the store in a valid state.
var (
	// ErrInsufficientFunds is returned when a cash debit would underflow
	// the player's wallet balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientInventory is returned when a goods debit would
	// underflow the player's inventory line.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrNotFound is returned when a listing, offer, auction, player or
	// market price entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotActive is returned on an attempt to act on a record that has
	// already reached a terminal state.
	ErrNotActive = errors.New("no longer active")

	// ErrSelfTrade is returned when a player tries to buy their own listing
	// or trade with themselves.
	ErrSelfTrade = errors.New("cannot trade with yourself")

	// ErrSelfBid is returned when a seller bids on their own auction.
	ErrSelfBid = errors.New("cannot bid on your own auction")

	// ErrExpired is returned when the record's expiry time has passed.
	ErrExpired = errors.New("expired")

	// ErrUnauthorized is returned when the caller is not the required party.
	ErrUnauthorized = errors.New("caller is not authorized for this action")

	// ErrBelowMinimumBid is returned when a bid does not reach the starting
	// price or the current bid plus the minimum increment.
	ErrBelowMinimumBid = errors.New("bid below required minimum")

	// ErrOutbid is returned when a concurrent bid committed first.
	ErrOutbid = errors.New("outbid by a concurrent bid")

	// ErrInvalidTransition is returned when a status change is not in the
	// transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
)
