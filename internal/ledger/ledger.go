// Package ledger owns per-owner, per-currency wallet balances and the immutable
// entries that record every change to them.
package ledger

import (
	"errors"
)

var (
	// ErrInvalidAmount is returned when an amount is zero or negative after
	// quantization to eight fractional digits, or does not fit numeric(20,8).
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds occurs when the wallet's available balance cannot
	// cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState is returned when confirming or cancelling an entry that is
	// no longer pending.
	ErrInvalidState = errors.New("transaction is not pending")

	// ErrNotFound indicates the referenced wallet or entry does not exist.
	ErrNotFound = errors.New("transaction not found")

	// ErrTransient marks datastore failures that are safe to retry.
	ErrTransient = errors.New("transient datastore failure")

	// ErrIdempotencyConflict is returned when an external id is already held by
	// an entry that cannot be replayed for the requested operation.
	ErrIdempotencyConflict = errors.New("external id already used")

	// ErrDuplicateExternalID is raised by stores when an insert violates the
	// external id unique constraint.
	ErrDuplicateExternalID = errors.New("duplicate external id")
)

// Kind classifies ledger failures so callers can handle them exhaustively.
type Kind string

const (
	KindNone              Kind = ""
	KindInvalidAmount     Kind = "invalid_amount"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidState      Kind = "invalid_state"
	KindNotFound          Kind = "not_found"
	KindTransient         Kind = "transient"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// KindOf maps an error returned by the engine to its Kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrIdempotencyConflict), errors.Is(err, ErrDuplicateExternalID):
		return KindConflict
	default:
		return KindInternal
	}
}

// Retryable reports whether a failed call may be retried as-is.
func (k Kind) Retryable() bool {
	return k == KindTransient
}
