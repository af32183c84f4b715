// Package retry decides what happens to the outcome of one exchange call and
// paces the replays of calls that should be tried again.
package retry

import (
	"errors"

	"trade-adapter/internal/core"
)

type Kind int

const (
	KindSuccess Kind = iota
	// KindFatal ends the process. The caller never sees the result.
	KindFatal
	// KindRetry replays the call after the policy delay.
	KindRetry
	// KindSurface hands the error to the caller's callback.
	KindSurface
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFatal:
		return "fatal"
	case KindRetry:
		return "retry"
	case KindSurface:
		return "surface"
	}
	return "unknown"
}

const (
	ReasonOK               = "ok"
	ReasonUnknownAssetPair = "unknown_asset_pair"
	ReasonInvalidNonce     = "invalid_nonce"
	ReasonCallerRetry      = "caller_retry"
	ReasonCallerSurface    = "caller_surface"
)

type Decision struct {
	Kind   Kind
	Reason string
	Err    error
}

// Classify checks, in order: unknown asset pair (fatal whatever retryAllowed
// says), invalid nonce (always retried), then the caller's retry choice.
func Classify(err error, retryAllowed bool) Decision {
	switch {
	case err == nil:
		return Decision{Kind: KindSuccess, Reason: ReasonOK}
	case errors.Is(err, core.ErrUnknownAssetPair):
		return Decision{Kind: KindFatal, Reason: ReasonUnknownAssetPair, Err: err}
	case errors.Is(err, core.ErrInvalidNonce):
		return Decision{Kind: KindRetry, Reason: ReasonInvalidNonce, Err: err}
	case retryAllowed:
		return Decision{Kind: KindRetry, Reason: ReasonCallerRetry, Err: err}
	default:
		return Decision{Kind: KindSurface, Reason: ReasonCallerSurface, Err: err}
	}
}
