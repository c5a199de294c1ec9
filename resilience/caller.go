// Caller ties the bounded pool, per-source breaker, and retrier together
// into the single entrypoint the proxy package's Backend adapter invokes
// for every cache-miss backend call (spec.md §4.7, module index "Resilient
// backend caller").
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

var errSlowCall = errors.New("resilience: call exceeded slow threshold")

// Monitor receives a remote.call{result,source_id} + remote.call.duration
// event for every attempt that actually reached the backend (an attempt
// short-circuited by an open breaker never reaches the backend and is not
// reported here — that is a circuit_open business error instead). Kept to
// this one method, independent of cache.Monitor's full interface, so this
// package stays free of any import on cache (see errors.go); cache.Monitor
// satisfies this interface structurally.
type Monitor interface {
	RemoteCall(result string, sourceID string, duration time.Duration)
}

type noopMonitor struct{}

func (noopMonitor) RemoteCall(string, string, time.Duration) {}

// Caller composes retry -> pool -> circuit breaker, in that order: retry
// governs the overall attempt budget, each attempt runs on the isolation
// pool, and each pool execution is gated by that source's breaker.
type Caller struct {
	pool       *Pool
	breakers   *BreakerRegistry
	retrier    *Retrier
	breakerCfg BreakerConfig
	monitor    Monitor
}

// NewCaller wires the three resilience mechanisms together. monitor may be
// nil, in which case remote-call events are discarded.
func NewCaller(pool *Pool, breakers *BreakerRegistry, retrier *Retrier, breakerCfg BreakerConfig, monitor Monitor) *Caller {
	if monitor == nil {
		monitor = noopMonitor{}
	}
	return &Caller{pool: pool, breakers: breakers, retrier: retrier, breakerCfg: breakerCfg, monitor: monitor}
}

// Call runs fn for sourceID. fn performs the actual remote invocation and
// should tag any error it returns with a Kind (via NewError) so the
// retrier's predicate can classify it.
func (c *Caller) Call(ctx context.Context, sourceID string, fn func(ctx context.Context) error) error {
	return c.retrier.Do(ctx, sourceID, func(callCtx context.Context) error {
		return c.pool.Execute(callCtx, func() error {
			return c.throughBreaker(callCtx, sourceID, fn)
		})
	})
}

// throughBreaker runs fn under sourceID's circuit breaker. A call that
// succeeds but ran slower than the configured slow threshold still counts
// as a breaker failure (spec.md §4.7.2's "failures + slow_calls" trip
// condition) without that classification leaking back to the caller as an
// error — the backend call itself succeeded.
func (c *Caller) throughBreaker(ctx context.Context, sourceID string, fn func(ctx context.Context) error) error {
	cb := c.breakers.For(sourceID)

	var attempted bool
	start := time.Now()
	_, err := cb.Execute(func() (any, error) {
		attempted = true
		innerErr := fn(ctx)
		if innerErr == nil && c.breakerCfg.IsSlow(time.Since(start)) {
			return nil, errSlowCall
		}
		return nil, innerErr
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		c.monitor.RemoteCall("success", sourceID, duration)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return NewError(KindCircuitOpen, "circuit open for source %s", sourceID)
	case errors.Is(err, errSlowCall):
		c.monitor.RemoteCall("success", sourceID, duration)
		return nil
	default:
		if attempted {
			c.monitor.RemoteCall("error", sourceID, duration)
		}
		return err
	}
}
