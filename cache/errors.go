package cache

import "fmt"

// ValidationError reports a malformed ingress request. The proxy layer
// surfaces this as a transport 400; it is never retried and never reaches
// the Deduper or Resilience layers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Kind classifies an error the core surfaces to callers, independent of
// whatever concrete error type produced it. Followers receive a Deduper
// error's Kind, not the leader's original error instance (spec.md §7).
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
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
	case KindValidation:
		return "validation"
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

// Error is the tagged error variant returned by the Router and Deduper.
// It carries a Kind so callers (including re-queried followers) can make
// retry/fallback decisions without inspecting a wrapped error chain.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a tagged Error of the given Kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsKind extracts the Kind of err, defaulting to KindInternal for errors
// that don't carry one of their own.
func AsKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	if _, ok := err.(*ValidationError); ok {
		return KindValidation
	}
	return KindInternal
}
