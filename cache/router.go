// Router: the NoCache / Passive / Active state machine tying the
// StrategyResolver, TwoTierCache, Deduper, and an injected Backend together
// (spec.md §4.5).
//
// Grounded on the teacher's cache-manager/service.go Get() handler, which
// walks the same rule-resolve -> lookup -> deduper -> fetch -> write shape;
// generalized here into an explicit three-path state machine and split from
// any RPC framing, which spec.md §1 treats as an external collaborator.
package cache

import (
	"context"
	"time"
)

// Backend performs the actual remote call for a cache miss. The Router
// never talks to a transport directly — callers hand in an implementation
// that already wraps the Resilience package's pool+breaker+retry chain.
type Backend interface {
	Call(ctx context.Context, sourceID string, req Request) (Response, error)
}

// Refresher schedules a non-blocking background refresh of an entry
// already served stale or nearing its refresh_interval. Implemented by
// RefreshWorker; kept as an interface here so Router has no import-time
// dependency on the scheduling details.
type Refresher interface {
	Schedule(sourceID string, fp string, rule Rule, req Request)
}

// Router drives a single query through the strategy state machine.
type Router struct {
	resolver *StrategyResolver
	store    *TwoTierCache
	dedup    *Deduper
	backend  Backend
	refresh  Refresher
	monitor  Monitor
}

// NewRouter wires the four core subsystems plus an injected Backend.
// refresh may be nil if Active/stale-serving refresh scheduling is not
// needed (e.g. in tests exercising only Passive/NoCache paths).
func NewRouter(resolver *StrategyResolver, store *TwoTierCache, dedup *Deduper, backend Backend, refresh Refresher, monitor Monitor) *Router {
	if monitor == nil {
		monitor = NoopMonitor{}
	}
	return &Router{resolver: resolver, store: store, dedup: dedup, backend: backend, refresh: refresh, monitor: monitor}
}

// Handle resolves a rule once and drives req through whichever path that
// rule's Strategy selects. The same rule snapshot governs freshness, cache
// write, and any refresh scheduled from this call (spec.md §4.5 tie-break).
func (rt *Router) Handle(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	rule := rt.resolver.Resolve(req)
	fp := Fingerprint(req.SourceID, req)

	switch rule.Strategy {
	case NoCache:
		return rt.noCache(ctx, req, fp)
	case Active:
		return rt.cached(ctx, req, fp, rule, true)
	default:
		return rt.cached(ctx, req, fp, rule, false)
	}
}

// noCache always reaches the backend and never writes the cache; it reads
// the cache only when a backend error sends it to fallback.
func (rt *Router) noCache(ctx context.Context, req Request, fp string) (Response, error) {
	rt.monitor.CacheAccess("miss", "", NoCache, req.SourceID)
	resp, err := rt.callThroughDeduper(ctx, req, fp, NoCache, Rule{Strategy: NoCache})
	if err != nil {
		return rt.fallback(fp, req, err)
	}
	return resp, nil
}

// cached implements both Passive and Active: only the refresh-scheduling
// trigger on a fresh hit differs between them (active==true adds the
// age-based proactive refresh kick).
func (rt *Router) cached(ctx context.Context, req Request, fp string, rule Rule, active bool) (Response, error) {
	entry, tier, ok := rt.store.Get(fp)
	if ok {
		switch Freshness(time.Now(), entry, rt.staleTTL()) {
		case StateFresh:
			rt.monitor.CacheAccess("hit", tier, rule.Strategy, req.SourceID)
			if active && rule.RefreshInterval > 0 && time.Since(entry.CachedAt) >= rule.RefreshInterval {
				rt.scheduleRefresh(req.SourceID, fp, rule, req)
			}
			return entry.Payload, nil
		case StateStaleUsable:
			rt.monitor.CacheAccess("hit", "stale", rule.Strategy, req.SourceID)
			rt.scheduleRefresh(req.SourceID, fp, rule, req)
			return entry.Payload, nil
		}
	}

	rt.monitor.CacheAccess("miss", "", rule.Strategy, req.SourceID)
	resp, err := rt.callThroughDeduper(ctx, req, fp, rule.Strategy, rule)
	if err != nil {
		return rt.fallback(fp, req, err)
	}
	if resp.Success() {
		rt.store.Put(fp, CacheEntry{Fingerprint: fp, Payload: resp, CachedAt: time.Now(), RuleSnapshot: rule})
	}
	return resp, nil
}

// callThroughDeduper coalesces concurrent callers on fp. A follower that
// wakes to a cache miss (the leader's result wasn't cacheable) re-enters
// the strategy path from scratch, racing its own new deduper slot — the
// re-query semantics spec.md Design Note §9 selects as canonical.
func (rt *Router) callThroughDeduper(ctx context.Context, req Request, fp string, strategy Strategy, rule Rule) (Response, error) {
	var resp Response
	waitStart := time.Now()

	leader, err := rt.dedup.Do(ctx, fp, func(ctx context.Context) error {
		r, callErr := rt.backend.Call(ctx, req.SourceID, req)
		if callErr != nil {
			return callErr
		}
		// Written inside the producer so the entry is in place before the
		// Deduper wakes followers for their cache re-query.
		if strategy != NoCache && r.Success() {
			rt.store.Put(fp, CacheEntry{Fingerprint: fp, Payload: r, CachedAt: time.Now(), RuleSnapshot: rule})
		}
		resp = r
		return nil
	})

	rt.monitor.Deduplication(!leader, req.SourceID)
	if !leader {
		rt.monitor.RequestWait(time.Since(waitStart))
	}

	if leader {
		return resp, err
	}

	if err != nil {
		return Response{}, err
	}

	// Follower woke to leader success: re-query the cache-strategy path.
	if strategy == NoCache {
		return rt.noCache(ctx, req, fp)
	}
	if entry, tier, ok := rt.store.Get(fp); ok {
		if Freshness(time.Now(), entry, rt.staleTTL()) != StateMiss {
			rt.monitor.CacheAccess("hit", tier, strategy, req.SourceID)
			return entry.Payload, nil
		}
	}
	return rt.cached(ctx, req, fp, rule, strategy == Active)
}

// fallback implements spec.md §7's backend-path error policy: prefer a
// stale-usable entry, else a synthetic 500 envelope. Never returns an error
// to the caller — the contract is "always a successful transport response".
func (rt *Router) fallback(fp string, req Request, cause error) (Response, error) {
	if entry, _, ok := rt.store.Get(fp); ok && Freshness(time.Now(), entry, rt.staleTTL()) == StateStaleUsable {
		rt.monitor.FallbackTriggered("stale_cache", req.SourceID)
		return entry.Payload, nil
	}
	rt.monitor.FallbackTriggered("error_response", req.SourceID)
	rt.monitor.BusinessError(businessErrorLabel(cause), req.SourceID)
	return Response{
		StatusCode: 500,
		StatusMsg:  "service temporarily unavailable, please retry",
	}, nil
}

// businessErrorLabel maps an error's Kind to the business.error{type}
// label spec.md §6/§8 fixes. Circuit-open gets its own literal
// ("circuit_breaker_open") distinct from resilience.Kind's own
// "circuit_open" string, per spec.md §8 scenario 4.
func businessErrorLabel(cause error) string {
	if AsKind(cause) == KindCircuitOpen {
		return "circuit_breaker_open"
	}
	return AsKind(cause).String()
}

func (rt *Router) scheduleRefresh(sourceID, fp string, rule Rule, req Request) {
	if rt.refresh == nil {
		return
	}
	rt.refresh.Schedule(sourceID, fp, rule, req)
}

// staleTTL reads the configured stale TTL off the store so Freshness checks
// here and in SweepExpired agree. TwoTierCache has no exported accessor for
// it, so Router reads the store's cfg field directly (same package).
func (rt *Router) staleTTL() time.Duration {
	return rt.store.cfg.StaleTTL
}
