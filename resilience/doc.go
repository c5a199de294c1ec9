// Package resilience implements the backend-calling chain that sits
// between the cache package's Router and the real remote service: a
// bounded isolation pool, a per-source circuit breaker, and retry with
// deadlines and backoff.
//
// Grounded on the teacher's warming.WorkerPool (fixed worker goroutines
// draining a buffered queue) for pool shape, and on the 2lar-b2 pack
// member's middleware.CircuitBreaker / persistence.RetryNodeRepository for
// breaker and retry shape — the teacher itself has neither a circuit
// breaker nor a generalized retry decorator, so those two pieces are
// enrichment from the rest of the retrieved corpus.
package resilience
