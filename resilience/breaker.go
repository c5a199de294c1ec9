// Breaker: a per-source-id circuit breaker, built on sony/gobreaker the
// way the 2lar-b2 pack member's middleware.CircuitBreaker wires gobreaker
// up for an HTTP handler — generalized here to a map keyed by source_id
// (spec.md §4.7.2, Design Note §9: "per-source circuit breakers keyed by
// string -> map of source_id to breaker struct; GC breakers idle >= 1h").
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures a single source's circuit breaker (spec.md
// §4.7.2).
type BreakerConfig struct {
	MinCalls     uint32
	FailureRatio float64
	OpenWait     time.Duration
	TrialCount   uint32
	SlowThreshold time.Duration
}

// DefaultBreakerConfig returns the values spec.md §4.7.2 names.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinCalls:      5,
		FailureRatio:  0.5,
		OpenWait:      10 * time.Second,
		TrialCount:    3,
		SlowThreshold: 2 * time.Second,
	}
}

type sourceBreaker struct {
	cb       *gobreaker.CircuitBreaker
	lastUsed time.Time
}

// BreakerRegistry owns one gobreaker.CircuitBreaker per source_id,
// lazily created and garbage-collected after an hour of inactivity.
type BreakerRegistry struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	logger  *zap.Logger
	sources map[string]*sourceBreaker
	idleTTL time.Duration
}

// NewBreakerRegistry builds an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		cfg:     cfg,
		logger:  logger,
		sources: make(map[string]*sourceBreaker),
		idleTTL: time.Hour,
	}
}

// For returns the circuit breaker for sourceID, creating one on first use.
func (r *BreakerRegistry) For(sourceID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sb, ok := r.sources[sourceID]; ok {
		sb.lastUsed = time.Now()
		return sb.cb
	}

	settings := gobreaker.Settings{
		Name:        sourceID,
		MaxRequests: r.cfg.TrialCount,
		Interval:    0, // counts reset only by ReadyToTrip / state transitions
		Timeout:     r.cfg.OpenWait,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.cfg.MinCalls {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= r.cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("circuit breaker state change",
				zap.String("source_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	r.sources[sourceID] = &sourceBreaker{cb: cb, lastUsed: time.Now()}
	return cb
}

// SweepIdle drops breakers idle for at least an hour, bounding the
// registry's memory under a growing set of distinct source ids.
func (r *BreakerRegistry) SweepIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, sb := range r.sources {
		if now.Sub(sb.lastUsed) >= r.idleTTL {
			delete(r.sources, id)
			dropped++
		}
	}
	return dropped
}

// IsSlow reports whether duration exceeds the configured slow-call
// threshold (spec.md §4.7.2's "slow call" definition).
func (cfg BreakerConfig) IsSlow(d time.Duration) bool {
	return d > cfg.SlowThreshold
}
