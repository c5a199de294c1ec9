// Retry: bounded retry with exponential backoff and two cooperating
// deadlines (spec.md §4.7.3).
//
// Grounded on the 2lar-b2 pack member's persistence.RetryNodeRepository
// executeWithRetry — same exponential-backoff-with-jitter shape and the
// same "only retry what's safe" predicate — generalized from a per-method
// decorator into a single Retrier.Do usable by any backend call, and
// rewired to the kind-based predicate spec.md §4.7.3 specifies instead of
// 2lar-b2's ad-hoc isNetworkError/isTimeoutError stubs.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures Retrier (spec.md §4.7.3).
type RetryConfig struct {
	MaxRetries      int
	SingleCallDeadline time.Duration
	OverallDeadline    time.Duration
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	// NearDeadlineGuard: stop retrying once less than this remains on the
	// overall deadline ("within 1s of expiry" per spec.md §4.7.3).
	NearDeadlineGuard time.Duration
}

// DefaultRetryConfig returns the values spec.md §4.7.3 names.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         2,
		SingleCallDeadline: 5 * time.Second,
		OverallDeadline:    8 * time.Second,
		InitialBackoff:     100 * time.Millisecond,
		MaxBackoff:         500 * time.Millisecond,
		NearDeadlineGuard:  time.Second,
	}
}

// Retrier drives a single call through §4.7.3's retry predicate, backoff,
// and deadlines.
type Retrier struct {
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetrier builds a Retrier. logger may be nil (defaults to a no-op
// logger).
func NewRetrier(cfg RetryConfig, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{cfg: cfg, logger: logger}
}

// Do runs fn under the overall deadline, retrying per the predicate in
// shouldRetry. fn is expected to tag its error with a Kind via
// resilience.Error so the predicate can classify it; untagged errors are
// treated as KindInternal and not retried.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	overallCtx, cancel := context.WithTimeout(ctx, r.cfg.OverallDeadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if overallCtx.Err() != nil {
			return NewError(KindTimeout, "%s: overall deadline exceeded", operation)
		}

		callCtx, callCancel := context.WithTimeout(overallCtx, r.cfg.SingleCallDeadline)
		err := fn(callCtx)
		callCancel()

		if err == nil {
			if attempt > 0 {
				r.logger.Info("backend call succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if attempt >= r.cfg.MaxRetries {
			break
		}
		if !r.shouldRetry(overallCtx, err) {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("retrying backend call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-overallCtx.Done():
			timer.Stop()
			return NewError(KindTimeout, "%s: overall deadline exceeded during backoff", operation)
		}
	}
	return lastErr
}

// shouldRetry implements spec.md §4.7.3's predicate: retry on timeout,
// transport, and 5xx; never on CircuitOpen, 4xx, or when the overall
// deadline is within NearDeadlineGuard of expiry.
func (r *Retrier) shouldRetry(overallCtx context.Context, err error) bool {
	if !AsKind(err).Retriable() {
		return false
	}
	if deadline, ok := overallCtx.Deadline(); ok {
		if time.Until(deadline) < r.cfg.NearDeadlineGuard {
			return false
		}
	}
	return true
}

func (r *Retrier) backoff(attempt int) time.Duration {
	base := float64(r.cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(r.cfg.MaxBackoff) {
		base = float64(r.cfg.MaxBackoff)
	}
	jitter := base * 0.1 * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
