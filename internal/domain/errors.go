package domain

import "errors"

var (
	// ErrInvalidAmount rejects any mutation with a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientBalance rejects a payout larger than the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNotFound means the release/reversal target transaction does not exist.
	// Soft: callers log it and move on.
	ErrNotFound = errors.New("transaction not found")
	// ErrNegativeBalance means a reversal would push the available balance
	// below zero; the wallet cannot claw back money already withdrawn.
	ErrNegativeBalance = errors.New("reversal would drive available balance negative")
	// ErrVersionConflict means a concurrent writer updated the wallet first.
	ErrVersionConflict = errors.New("wallet version conflict")
	// ErrDuplicateTransaction means a commission for the same order already exists.
	ErrDuplicateTransaction = errors.New("duplicate commission transaction")
)
