// Package cache implements the reactive caching proxy's core: the cache
// strategy engine (rule resolution, TTL, stale-while-revalidate, active
// refresh), the two-tier cache store, and the request-deduplication
// coordinator. It drives calls to a backend through the resilience package
// but never imports it directly — callers hand in a Backend implementation
// so this package stays testable without a real resilience stack wired up.
//
// Design Choices (in the teacher's terms):
//   - Rule list: immutable slice behind an atomic.Pointer, swapped wholesale
//     on config change. Readers never see a torn update.
//   - TwoTierCache: sync.Mutex-protected maps plus LRU lists, chosen over
//     sync.Map for the same reason the teacher's L1Cache picked a locked map —
//     ordered eviction needs a real data structure, not just a concurrent map.
//     Reads take the same exclusive lock because Get reorders the LRU list.
//   - Deduper: leader/follower coalescing with followers re-querying the
//     cache path rather than receiving the leader's payload directly (the
//     canonical choice per the source's two competing semantics).
package cache
