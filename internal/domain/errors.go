package domain

import "errors"

// Storage error taxonomy. Adapters map engine-specific failures onto these so
// callers never branch on driver errors.
var (
	// ErrNotFound is returned when a requested identifier is absent.
	// Surfaced to the caller, never retried.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned on a uniqueness violation or when an
	// optimistic update loses its race past the bounded retry budget.
	// The caller may retry the whole operation.
	ErrConflict = errors.New("record conflict")

	// ErrTransient is returned after an adapter exhausts its internal
	// retries against a network or availability failure.
	ErrTransient = errors.New("storage temporarily unavailable")
)

// Banking operation errors.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotActive  = errors.New("account is not active")
	ErrSameAccount       = errors.New("source and target must be different accounts")
)

// ErrInvalidCredentials covers both an unknown email and a wrong password, so
// login failures leak nothing about which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")
