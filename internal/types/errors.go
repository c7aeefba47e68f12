package types

import "errors"

// Domain errors surfaced by the stores. The API layer maps these onto stable
// response codes in pkg/response.
var (
	// ErrInvalidOrderSpec rejects an order whose type/price combination is
	// inconsistent or whose quantity is not positive.
	ErrInvalidOrderSpec = errors.New("invalid order specification")

	// ErrInvalidStateTransition rejects a status change out of a terminal
	// state or outside the allowed transition set. This is a data-integrity
	// failure, never retried.
	ErrInvalidStateTransition = errors.New("invalid order state transition")

	// ErrInvalidTrade rejects a trade with non-positive price or quantity, or
	// with the same user on both sides.
	ErrInvalidTrade = errors.New("invalid trade")

	// ErrInvalidAlertSpec rejects an alert with a missing symbol, an unknown
	// condition or a non-positive target price.
	ErrInvalidAlertSpec = errors.New("invalid alert specification")

	// ErrDuplicateAlert rejects a second active alert for the same
	// (user, symbol, condition, target price) tuple.
	ErrDuplicateAlert = errors.New("duplicate active alert")

	// ErrSymbolUnavailable indicates the ticker source has no recent price
	// for the requested symbol.
	ErrSymbolUnavailable = errors.New("symbol unavailable")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)
