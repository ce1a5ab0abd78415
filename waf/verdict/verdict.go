// Package verdict holds the reason codes the guard attaches to every
// decision, and the sentinel errors that map onto them.
package verdict

import (
	"errors"
	"net/http"
)

type Reason string

const (
	Allowed              Reason = "allowed"
	RateExceeded         Reason = "rate_exceeded"
	Banned               Reason = "banned"
	PayloadTooLarge      Reason = "payload_too_large"
	SuspiciousSignature  Reason = "suspicious_signature"
	DownstreamFault      Reason = "downstream_fault"
	IdentityUnresolvable Reason = "identity_unresolvable"
)

var (
	ErrRateExceeded        = errors.New("rate limit exceeded")
	ErrBanned              = errors.New("client is banned")
	ErrPayloadTooLarge     = errors.New("request payload too large")
	ErrSuspiciousSignature = errors.New("suspicious request signature")
	ErrDownstreamFault     = errors.New("downstream handler fault")
)

// Blocked reports whether the reason ends the request with a block response.
// IdentityUnresolvable is recovered locally and never blocks.
func (r Reason) Blocked() bool {
	switch r {
	case RateExceeded, Banned, PayloadTooLarge, SuspiciousSignature, DownstreamFault:
		return true
	}
	return false
}

// Escalates reports whether the reason counts as a strike against the client
func (r Reason) Escalates() bool {
	return r == RateExceeded || r == SuspiciousSignature
}

// Status is the HTTP status sent for a blocked request
func (r Reason) Status() int {
	switch r {
	case RateExceeded:
		return http.StatusTooManyRequests
	case Banned, SuspiciousSignature:
		return http.StatusForbidden
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case DownstreamFault:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func (r Reason) Err() error {
	switch r {
	case RateExceeded:
		return ErrRateExceeded
	case Banned:
		return ErrBanned
	case PayloadTooLarge:
		return ErrPayloadTooLarge
	case SuspiciousSignature:
		return ErrSuspiciousSignature
	case DownstreamFault:
		return ErrDownstreamFault
	}
	return nil
}

func (r Reason) String() string {
	return string(r)
}

// FromError maps a (possibly wrapped) sentinel error back to its reason.
// Unknown errors are treated as downstream faults.
func FromError(err error) Reason {
	switch {
	case err == nil:
		return Allowed
	case errors.Is(err, ErrRateExceeded):
		return RateExceeded
	case errors.Is(err, ErrBanned):
		return Banned
	case errors.Is(err, ErrPayloadTooLarge):
		return PayloadTooLarge
	case errors.Is(err, ErrSuspiciousSignature):
		return SuspiciousSignature
	}
	return DownstreamFault
}
