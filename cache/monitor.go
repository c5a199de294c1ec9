// Monitoring facade: spec.md §1 treats monitoring sinks as an external
// collaborator — "interfaces only" — so Monitor is a pure interface with a
// no-op default. AtomicMonitor is a reference implementation grounded on
// the teacher's monitoring/metrics.go (atomic counters keyed by event tag),
// provided for tests and local development, not a hard dependency of the
// core.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Monitor is the tag-structured counters/timers/gauges facade from
// spec.md §6. Every method must be safe to call with no sink attached
// (NoopMonitor satisfies that trivially) and must never block a request.
type Monitor interface {
	// CacheAccess records cache.access{result,strategy,source_id}.
	// result is one of "hit", "miss".
	CacheAccess(result, tier string, strategy Strategy, sourceID string)
	// CacheRefresh records cache.refresh{result,source_id}.
	CacheRefresh(result string, sourceID string)
	// CacheEviction is an internal-only counter for eviction reason codes.
	CacheEviction(fingerprint, reason string)
	// RemoteCall records remote.call{result,source_id} and the
	// remote.call.duration timer.
	RemoteCall(result string, sourceID string, duration time.Duration)
	// Deduplication records request.deduplication{deduplicated,source_id}.
	Deduplication(deduplicated bool, sourceID string)
	// FallbackTriggered records fallback.triggered{type,source_id}.
	FallbackTriggered(kind string, sourceID string)
	// BusinessError records business.error{type,source_id}.
	BusinessError(kind string, sourceID string)
	// RequestWait records the request.wait.duration timer (time spent
	// blocked as a Deduper follower).
	RequestWait(duration time.Duration)
	// Gauges reports the point-in-time gauges from spec.md §6.
	Gauges(primarySize, staleSize int, hitRate float64, pending int)
}

// NoopMonitor discards every event. Used whenever no sink is configured.
type NoopMonitor struct{}

func (NoopMonitor) CacheAccess(string, string, Strategy, string)      {}
func (NoopMonitor) CacheRefresh(string, string)                       {}
func (NoopMonitor) CacheEviction(string, string)                      {}
func (NoopMonitor) RemoteCall(string, string, time.Duration)          {}
func (NoopMonitor) Deduplication(bool, string)                        {}
func (NoopMonitor) FallbackTriggered(string, string)                  {}
func (NoopMonitor) BusinessError(string, string)                      {}
func (NoopMonitor) RequestWait(time.Duration)                         {}
func (NoopMonitor) Gauges(int, int, float64, int)                     {}

// AtomicMonitor is a lock-free, in-process Monitor reference implementation,
// useful for tests and for exposing metrics without a full sink wired up.
// Grounded on monitoring/metrics.go's atomic-counter MetricsCollector.
type AtomicMonitor struct {
	hits            atomic.Int64
	misses          atomic.Int64
	refreshOK       atomic.Int64
	refreshErr      atomic.Int64
	remoteOK        atomic.Int64
	remoteErr       atomic.Int64
	deduplicated    atomic.Int64
	notDeduplicated atomic.Int64
	fallbackStale   atomic.Int64
	fallbackError   atomic.Int64
	businessErrors  atomic.Int64
	evictions       atomic.Int64

	gaugesMu sync.Mutex
	gauges   gaugeSnapshot
}

type gaugeSnapshot struct {
	primarySize, staleSize, pending int
	hitRate                         float64
}

// NewAtomicMonitor returns an empty AtomicMonitor.
func NewAtomicMonitor() *AtomicMonitor { return &AtomicMonitor{} }

func (m *AtomicMonitor) CacheAccess(result, _ string, _ Strategy, _ string) {
	if result == "hit" {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func (m *AtomicMonitor) CacheRefresh(result string, _ string) {
	if result == "ok" {
		m.refreshOK.Add(1)
	} else {
		m.refreshErr.Add(1)
	}
}

func (m *AtomicMonitor) CacheEviction(string, string) { m.evictions.Add(1) }

func (m *AtomicMonitor) RemoteCall(result string, _ string, _ time.Duration) {
	if result == "success" {
		m.remoteOK.Add(1)
	} else {
		m.remoteErr.Add(1)
	}
}

func (m *AtomicMonitor) Deduplication(deduplicated bool, _ string) {
	if deduplicated {
		m.deduplicated.Add(1)
	} else {
		m.notDeduplicated.Add(1)
	}
}

func (m *AtomicMonitor) FallbackTriggered(kind string, _ string) {
	if kind == "stale_cache" {
		m.fallbackStale.Add(1)
	} else {
		m.fallbackError.Add(1)
	}
}

func (m *AtomicMonitor) BusinessError(string, string) { m.businessErrors.Add(1) }

func (m *AtomicMonitor) RequestWait(time.Duration) {}

func (m *AtomicMonitor) Gauges(primarySize, staleSize int, hitRate float64, pending int) {
	m.gaugesMu.Lock()
	defer m.gaugesMu.Unlock()
	m.gauges = gaugeSnapshot{primarySize: primarySize, staleSize: staleSize, hitRate: hitRate, pending: pending}
}

// Snapshot is a point-in-time view of AtomicMonitor's counters and the most
// recently reported gauges.
type Snapshot struct {
	Hits, Misses                  int64
	RefreshOK, RefreshErr         int64
	RemoteOK, RemoteErr           int64
	Deduplicated, NotDeduplicated int64
	FallbackStale, FallbackError  int64
	BusinessErrors                int64
	Evictions                     int64
	PrimarySize, StaleSize        int
	HitRate                       float64
	Pending                       int
}

// Snapshot reads all counters plus the last-reported gauge values.
func (m *AtomicMonitor) Snapshot() Snapshot {
	m.gaugesMu.Lock()
	g := m.gauges
	m.gaugesMu.Unlock()
	return Snapshot{
		Hits:            m.hits.Load(),
		Misses:          m.misses.Load(),
		RefreshOK:       m.refreshOK.Load(),
		RefreshErr:      m.refreshErr.Load(),
		RemoteOK:        m.remoteOK.Load(),
		RemoteErr:       m.remoteErr.Load(),
		Deduplicated:    m.deduplicated.Load(),
		NotDeduplicated: m.notDeduplicated.Load(),
		FallbackStale:   m.fallbackStale.Load(),
		FallbackError:   m.fallbackError.Load(),
		BusinessErrors:  m.businessErrors.Load(),
		Evictions:       m.evictions.Load(),
		PrimarySize:     g.primarySize,
		StaleSize:       g.staleSize,
		HitRate:         g.hitRate,
		Pending:         g.pending,
	}
}
