package common

import "errors"

// Error kinds reported to clients in the "error" field.
const (
	KindInvalidToken     = "InvalidToken"
	KindDeviceMismatch   = "DeviceMismatch"
	KindIPMismatch       = "IpMismatch"
	KindExpired          = "Expired"
	KindNotFound         = "NotFound"
	KindInvalidIndex     = "InvalidIndex"
	KindOutOfOrder       = "OutOfOrder"
	KindChallengeFailed  = "ChallengeFailed"
	KindRateLimited      = "RateLimited"
	KindQuotaExceeded    = "QuotaExceeded"
	KindIncomplete       = "Incomplete"
	KindUpstreamVerifier = "UpstreamVerifierError"
	KindBadRequest       = "BadRequest"
	KindInternal         = "Internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidToken, KindInvalidToken},
	{ErrDeviceMismatch, KindDeviceMismatch},
	{ErrIPMismatch, KindIPMismatch},
	{ErrExpired, KindExpired},
	{ErrorNotFound, KindNotFound},
	{ErrInvalidIndex, KindInvalidIndex},
	{ErrOutOfOrder, KindOutOfOrder},
	{ErrChallengeFailed, KindChallengeFailed},
	{ErrRateLimited, KindRateLimited},
	{ErrQuotaExceeded, KindQuotaExceeded},
	{ErrIncomplete, KindIncomplete},
	{ErrUpstreamVerifier, KindUpstreamVerifier},
	{ErrBadRequest, KindBadRequest},
}

// KindOf maps err to its client-facing kind. Unknown errors are Internal.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
