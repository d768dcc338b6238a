// Package common defines shared constants and sentinel errors used across
// the get-key server. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrorConflict is returned by conditional updates that matched no row
	// because a concurrent request changed the row first.
	ErrorConflict = errors.New("concurrent update conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// ErrBadRequest rejects input the request itself should have carried.
	ErrBadRequest = errors.New("bad request")

	// Session token errors.
	ErrInvalidToken   = errors.New("invalid session token")
	ErrDeviceMismatch = errors.New("session token belongs to another device")
	ErrIPMismatch     = errors.New("session was started from another network address")
	ErrExpired        = errors.New("session expired")

	// Checkpoint progression errors.
	ErrInvalidIndex = errors.New("checkpoint index out of range")
	ErrOutOfOrder   = errors.New("previous checkpoint not completed")
	ErrIncomplete   = errors.New("session steps are not completed")

	// Challenge errors.
	ErrChallengeFailed  = errors.New("challenge verification failed")
	ErrUpstreamVerifier = errors.New("challenge verifier unavailable")

	// Quota errors.
	ErrRateLimited   = errors.New("too many keys issued for this address")
	ErrQuotaExceeded = errors.New("owner key quota exceeded")
)

// RateLimitError is returned when the requester already obtained the allowed
// number of keys for a resource within the cooldown window.
type RateLimitError struct {
	CooldownHours int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry within %d hours", ErrRateLimited.Error(), e.CooldownHours)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
