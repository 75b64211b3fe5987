package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced auction does not exist.
	ErrNotFound = errors.New("auction not found")

	// ErrAuctionNotRegistered is returned when a bid targets an auction the
	// store has never seen. The caller must register/track it first; bids
	// never create auctions implicitly.
	ErrAuctionNotRegistered = errors.New("auction not registered")

	// ErrNoAmountFound is returned when a bid message contains no digits.
	ErrNoAmountFound = errors.New("no amount found in text")

	// ErrInvalidAmount is returned for amounts that parse but are not
	// positive.
	ErrInvalidAmount = errors.New("invalid bid amount")

	// ErrInvalidDuration is returned for reminders with a zero or negative
	// offset.
	ErrInvalidDuration = errors.New("invalid reminder duration")

	// ErrInvalidTransition is returned when a status change would move an
	// auction backwards (e.g. activating an ended auction).
	ErrInvalidTransition = errors.New("invalid auction status transition")

	// ErrNoEndTime is returned when an operation needs an end time the
	// auction does not have yet.
	ErrNoEndTime = errors.New("auction has no end time")
)

// BidTooLowError rejects a bid that does not strictly beat the current
// leader. Leading carries the actual leading amount at rejection time so the
// user can retry correctly.
type BidTooLowError struct {
	Offered int64
	Leading int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid of %d must be higher than the current bid (%d)", e.Offered, e.Leading)
}
