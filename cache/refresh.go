// RefreshWorker: non-blocking background repopulation of Active (or
// stale-served Passive) entries (spec.md §4.6).
//
// Grounded on the teacher's warming/service.go, which dedups concurrent
// origin-warming fetches for the same key with a singleflight.Group; the
// same primitive here doubles as the "single-active-refresh per
// fingerprint" guard spec.md asks for, since singleflight.Group already
// collapses concurrent Do calls on one key into a single execution and
// simply discards the duplicate callers' results.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshDeadline bounds a single background refresh attempt (spec.md §4.6,
// §5). A var so tests can shrink it.
var RefreshDeadline = 10 * time.Second

// RefreshWorker dispatches background refreshes onto a bounded pool,
// guarding against duplicate concurrent refreshes of the same fingerprint.
type RefreshWorker struct {
	store     *TwoTierCache
	backend   Backend
	monitor   Monitor
	pool      Dispatcher
	publisher Publisher

	group singleflight.Group
}

// RefreshEvent is the completion notification a RefreshWorker emits after
// every background refresh attempt, success or failure. Other instances'
// monitoring observes these; spec.md's Non-goals exclude cross-instance
// cache *coherence*, not cross-instance *observability* of refresh outcomes.
type RefreshEvent struct {
	SourceID    string
	Fingerprint string
	OK          bool
}

// Publisher fans RefreshEvent out to whatever cross-instance transport the
// owning service wires in (proxy wires encore.dev/pubsub). Kept as an
// interface so this package never imports encore.dev directly, the same
// seam Dispatcher and Backend use.
type Publisher interface {
	PublishRefresh(RefreshEvent)
}

type noopPublisher struct{}

func (noopPublisher) PublishRefresh(RefreshEvent) {}

// Dispatcher abstracts the bounded isolation pool from resilience.Pool so
// this package never imports resilience directly. Submit runs fn
// asynchronously, or on the calling goroutine when the pool's own saturation
// policy says so (resilience.Pool's caller-runs).
type Dispatcher interface {
	Submit(fn func())
}

// inlineDispatcher runs fn on a new goroutine. Used when no bounded pool is
// supplied — e.g. in tests — while still keeping Schedule non-blocking.
type inlineDispatcher struct{}

func (inlineDispatcher) Submit(fn func()) { go fn() }

// NewRefreshWorker builds a RefreshWorker. pool may be nil, in which case
// each refresh runs on its own goroutine rather than a bounded pool.
// publisher may be nil, in which case refresh completions are not fanned out.
func NewRefreshWorker(store *TwoTierCache, backend Backend, pool Dispatcher, monitor Monitor, publisher Publisher) *RefreshWorker {
	if pool == nil {
		pool = inlineDispatcher{}
	}
	if monitor == nil {
		monitor = NoopMonitor{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &RefreshWorker{store: store, backend: backend, pool: pool, monitor: monitor, publisher: publisher}
}

// Schedule kicks off a background refresh of fp if one isn't already in
// flight, and never propagates an error to any caller (spec.md §4.6:
// "refresh never propagates errors to any user request"). It returns without
// waiting for the refresh unless the Dispatcher runs fn on the calling
// goroutine (resilience.Pool does so when its queue and overflow workers are
// full or its limiter denies admission); the calling request then waits for
// the refresh, or for the one already in flight for fp, to finish.
func (w *RefreshWorker) Schedule(sourceID, fp string, rule Rule, req Request) {
	w.pool.Submit(func() {
		_, _, _ = w.group.Do(fp, func() (any, error) {
			w.run(sourceID, fp, rule, req)
			return nil, nil
		})
	})
}

func (w *RefreshWorker) run(sourceID, fp string, rule Rule, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), RefreshDeadline)
	defer cancel()

	resp, err := w.backend.Call(ctx, sourceID, req)
	if err != nil || !resp.Success() {
		w.monitor.CacheRefresh("err", sourceID)
		w.publisher.PublishRefresh(RefreshEvent{SourceID: sourceID, Fingerprint: fp, OK: false})
		return
	}

	w.store.Put(fp, CacheEntry{
		Fingerprint:  fp,
		Payload:      resp,
		CachedAt:     time.Now(),
		RuleSnapshot: rule,
	})
	w.monitor.CacheRefresh("ok", sourceID)
	w.publisher.PublishRefresh(RefreshEvent{SourceID: sourceID, Fingerprint: fp, OK: true})
}
