// Package apierr enumerates the error taxonomy shared by the coordinator
// and the HTTP layer. Handlers switch on Kind to pick a status code instead
// of pattern-matching ad hoc strings.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is a sentinel error identifying one class of failure. Wrap it with
// fmt.Errorf("...: %w", kind) to attach detail while keeping errors.Is working.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// BadParameters marks a malformed id, replicas, or start/end parameter.
	BadParameters Kind = "bad parameters"
	// MethodNotAllowed marks an HTTP method with no matching operation.
	MethodNotAllowed Kind = "method not allowed"
	// Overloaded marks local admission control rejecting new work.
	Overloaded Kind = "overloaded"
	// InsufficientReplicas marks a QuorumCollector that could not reach ack.
	InsufficientReplicas Kind = "insufficient replicas"
	// TransportFailure marks a single peer call failure; never surfaced
	// directly, only counted as a replica failure.
	TransportFailure Kind = "transport failure"
	// InternalFailure marks an unexpected engine or serialization error.
	InternalFailure Kind = "internal failure"
	// ShuttingDown marks a server that is no longer accepting new requests.
	ShuttingDown Kind = "shutting down"
)

// Is reports whether err's chain already carries a Kind, returning it. Use
// this to avoid double-wrapping an error that has already been classified.
func Is(err error) (Kind, bool) {
	var k Kind
	if errors.As(err, &k) {
		return k, true
	}
	return "", false
}

// StatusFor maps a Kind (found anywhere in err's chain via errors.Is) to
// its HTTP status. Unmatched errors map to 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, BadParameters):
		return http.StatusBadRequest
	case errors.Is(err, MethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, Overloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, InsufficientReplicas):
		return http.StatusGatewayTimeout
	case errors.Is(err, ShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, InternalFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
