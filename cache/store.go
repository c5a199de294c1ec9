// TwoTierCache: primary (fresh) + stale (post-eviction) storage, keyed by
// fingerprint, with LRU-by-size and TTL-by-time eviction.
//
// Grounded on the teacher's cache-manager/cache.go L1Cache: a
// sync.RWMutex-protected map plus container/list for O(1) LRU bookkeeping.
// The teacher's comment on that file explains the trade-off this package
// keeps: "sync.Map lacks ordered iteration needed for LRU... global lock on
// write is acceptable for <100K ops/sec; shard for higher loads." The
// demotion-to-stale behavior generalizes cache-manager/policies.go's
// CombinedPolicy (TTL + LRU) into the two-tier model spec.md mandates.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason classifies why an entry left the primary tier. Exposed only
// to the monitoring facade (spec.md §4.3).
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictSize     EvictReason = "size"
	EvictExplicit EvictReason = "explicit"
)

// CacheEntry is an immutable-after-insert cache record. Mutation always
// means "replace the entry", never in-place edit.
type CacheEntry struct {
	Fingerprint  string
	Payload      Response
	CachedAt     time.Time
	RuleSnapshot Rule
}

// FreshState is the Router's freshness verdict for a looked-up entry.
type FreshState int

const (
	StateMiss FreshState = iota
	StateFresh
	StateStaleUsable
)

// Freshness classifies a CacheEntry against now and the configured stale
// tier TTL, per spec.md §4.3:
//   - fresh: now < cached_at + rule_snapshot.ttl
//   - stale_usable: rule_snapshot.allow_stale && now < cached_at + staleTTL
//   - otherwise: miss
func Freshness(now time.Time, e CacheEntry, staleTTL time.Duration) FreshState {
	if now.Before(e.CachedAt.Add(e.RuleSnapshot.TTL)) {
		return StateFresh
	}
	if e.RuleSnapshot.AllowStale && now.Before(e.CachedAt.Add(staleTTL)) {
		return StateStaleUsable
	}
	return StateMiss
}

// StoreConfig configures TwoTierCache sizing and TTLs (spec.md §4.3).
type StoreConfig struct {
	PrimaryMaxEntries int
	StaleMaxEntries   int
	StaleTTL          time.Duration
	RecordStats       bool
}

// DefaultStoreConfig returns the mid-point of the ranges spec.md §4.3 lists.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		PrimaryMaxEntries: 6500,
		StaleMaxEntries:   1500,
		StaleTTL:          90 * time.Minute,
		RecordStats:       true,
	}
}

// Stats is a point-in-time snapshot for the monitoring facade and
// spec.md §6 gauges (cache.primary.size, cache.stale.size, hit_rate).
type Stats struct {
	PrimarySize int
	StaleSize   int
	Hits        int64
	Misses      int64
	Evictions   int64
}

type tierNode struct {
	entry   CacheEntry
	element *list.Element
}

// TwoTierCache implements spec.md §4.3: primary/stale tiers, demotion on
// eviction, non-blocking reads/writes, and a fingerprint present in at most
// one tier at any instant.
type TwoTierCache struct {
	mu sync.Mutex

	primary     map[string]*tierNode
	primaryList *list.List

	stale     map[string]*tierNode
	staleList *list.List

	cfg StoreConfig

	hits      int64
	misses    int64
	evictions int64

	monitor Monitor
}

// NewTwoTierCache builds an empty store. monitor may be nil (treated as
// NoopMonitor) since monitoring is an external, no-op-compatible concern.
func NewTwoTierCache(cfg StoreConfig, monitor Monitor) *TwoTierCache {
	if monitor == nil {
		monitor = NoopMonitor{}
	}
	return &TwoTierCache{
		primary:     make(map[string]*tierNode),
		primaryList: list.New(),
		stale:       make(map[string]*tierNode),
		staleList:   list.New(),
		cfg:         cfg,
		monitor:     monitor,
	}
}

// Get checks primary, then stale. Returns the entry and which tier it was
// found in ("primary" or "stale"), or (_, "", false) on a full miss. The
// caller (Router) applies Freshness to decide what to do with the result.
func (c *TwoTierCache) Get(fp string) (CacheEntry, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.primary[fp]; ok {
		c.primaryList.MoveToFront(n.element)
		c.recordHitLocked()
		return n.entry, "primary", true
	}
	if n, ok := c.stale[fp]; ok {
		c.staleList.MoveToFront(n.element)
		c.recordHitLocked()
		return n.entry, "stale", true
	}
	c.recordMissLocked()
	return CacheEntry{}, "", false
}

// Put inserts/replaces an entry in the primary tier, removing it from the
// stale tier first to preserve the at-most-one-tier invariant, then evicts
// the oldest primary entry if over capacity (demoting it to stale).
func (c *TwoTierCache) Put(fp string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeFromStaleLocked(fp)

	if n, exists := c.primary[fp]; exists {
		n.entry = entry
		c.primaryList.MoveToFront(n.element)
		return
	}

	if c.primaryList.Len() >= c.cfg.PrimaryMaxEntries && c.cfg.PrimaryMaxEntries > 0 {
		c.evictOldestPrimaryLocked(EvictSize)
	}

	n := &tierNode{entry: entry}
	n.element = c.primaryList.PushFront(n)
	c.primary[fp] = n
}

// Invalidate removes fp from both tiers without demotion: explicit
// invalidation is the one eviction cause that does not repopulate stale.
func (c *TwoTierCache) Invalidate(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.primary[fp]; ok {
		c.primaryList.Remove(n.element)
		delete(c.primary, fp)
		c.monitor.CacheEviction(fp, string(EvictExplicit))
	}
	c.removeFromStaleLocked(fp)
}

// SweepExpired demotes primary entries whose rule TTL has elapsed into the
// stale tier, and drops stale entries whose stale TTL has elapsed. Intended
// to run on a periodic ticker, the way the teacher's runTTLCleanup does.
func (c *TwoTierCache) SweepExpired(now time.Time) (demoted, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiredFPs []string
	for fp, n := range c.primary {
		if now.After(n.entry.CachedAt.Add(n.entry.RuleSnapshot.TTL)) {
			expiredFPs = append(expiredFPs, fp)
		}
	}
	for _, fp := range expiredFPs {
		n := c.primary[fp]
		c.primaryList.Remove(n.element)
		delete(c.primary, fp)
		c.demoteLocked(n.entry, EvictExpired)
		demoted++
	}

	var deadFPs []string
	for fp, n := range c.stale {
		if now.After(n.entry.CachedAt.Add(c.cfg.StaleTTL)) {
			deadFPs = append(deadFPs, fp)
		}
	}
	for _, fp := range deadFPs {
		n := c.stale[fp]
		c.staleList.Remove(n.element)
		delete(c.stale, fp)
		dropped++
	}

	c.evictions += int64(demoted + dropped)
	return demoted, dropped
}

// Stats returns a point-in-time snapshot.
func (c *TwoTierCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PrimarySize: c.primaryList.Len(),
		StaleSize:   c.staleList.Len(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
	}
}

func (c *TwoTierCache) recordHitLocked() {
	if c.cfg.RecordStats {
		c.hits++
	}
}

func (c *TwoTierCache) recordMissLocked() {
	if c.cfg.RecordStats {
		c.misses++
	}
}

// evictOldestPrimaryLocked removes the LRU entry from primary and demotes
// it to stale. Must be called with c.mu held.
func (c *TwoTierCache) evictOldestPrimaryLocked(reason EvictReason) {
	oldest := c.primaryList.Back()
	if oldest == nil {
		return
	}
	n := oldest.Value.(*tierNode)
	c.primaryList.Remove(oldest)
	for fp, candidate := range c.primary {
		if candidate == n {
			delete(c.primary, fp)
			break
		}
	}
	c.demoteLocked(n.entry, reason)
	c.evictions++
}

// demoteLocked inserts entry into the stale tier, evicting the stale tier's
// own LRU entry if at capacity. Must be called with c.mu held.
func (c *TwoTierCache) demoteLocked(entry CacheEntry, reason EvictReason) {
	c.monitor.CacheEviction(entry.Fingerprint, string(reason))

	if c.cfg.StaleMaxEntries > 0 && c.staleList.Len() >= c.cfg.StaleMaxEntries {
		oldest := c.staleList.Back()
		if oldest != nil {
			n := oldest.Value.(*tierNode)
			c.staleList.Remove(oldest)
			delete(c.stale, n.entry.Fingerprint)
		}
	}

	n := &tierNode{entry: entry}
	n.element = c.staleList.PushFront(n)
	c.stale[entry.Fingerprint] = n
}

// removeFromStaleLocked removes fp from the stale tier if present. Must be
// called with c.mu held.
func (c *TwoTierCache) removeFromStaleLocked(fp string) {
	if n, ok := c.stale[fp]; ok {
		c.staleList.Remove(n.element)
		delete(c.stale, fp)
	}
}
