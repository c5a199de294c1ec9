// Error taxonomy for the resilience chain, mirroring cache.Kind (spec.md
// §7) without importing the cache package: resilience is a standalone
// backend-calling layer, reusable regardless of what sits above it. The
// proxy package's Backend adapter maps each Kind value across the package
// boundary into the matching cache.Kind of a cache.Error.
package resilience

import "fmt"

// Kind classifies why a backend call ultimately failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindCircuitOpen
	KindTimeout
	KindTransport
	KindUpstreamServer
	KindUpstreamClient
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindCircuitOpen:
		return "circuit_open"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindUpstreamServer:
		return "upstream_server"
	case KindUpstreamClient:
		return "upstream_client"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retriable reports whether §4.7.3's retry predicate allows retrying an
// error of this Kind. CircuitOpen and 4xx errors are never retried.
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindTransport, KindUpstreamServer:
		return true
	default:
		return false
	}
}

// Error is the tagged error type returned by Caller.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a tagged Error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsKind extracts the Kind of err, defaulting to KindInternal.
func AsKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
