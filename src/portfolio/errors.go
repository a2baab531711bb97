package portfolio

import "errors"

var (
	// ErrInsufficientFunds is returned when cost plus commission exceeds available cash.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoOpenPosition is returned when exiting a pair that holds nothing.
	ErrNoOpenPosition = errors.New("no open position")
	// ErrOverSell is returned when an exit asks for more than the position holds.
	ErrOverSell = errors.New("exit quantity exceeds position")
	// ErrPositionLimit is returned when an entry would open more positions than allowed.
	ErrPositionLimit = errors.New("open position limit reached")
	// ErrInvalidOrder covers non-positive prices or quantities.
	ErrInvalidOrder = errors.New("invalid order")
)
