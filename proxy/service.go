// Package proxy is the thin external-collaborator layer spec.md §1 scopes
// out of the core: ingress RPC framing, header/body validation, and
// startup wiring. It exists only so the cache/resilience core is reachable
// as a deployable Encore service, the way the teacher wraps every internal
// subsystem (cache-manager, warming, invalidation) with a thin
// //encore:service layer.
//
// Grounded on cache-manager/service.go's initService/once.Do singleton and
// package-level //encore:api functions delegating to *Service methods.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riftcache/proxy/cache"
	"github.com/riftcache/proxy/resilience"
)

// Service wires the cache core to Encore's RPC layer.
//
//encore:service
type Service struct {
	router *cache.Router
}

var (
	svc  *Service
	once sync.Once
)

// initService builds the full dependency graph: resilience chain, cache
// store/resolver/deduper/refresh worker, and the Router tying them
// together. Called once by Encore at process startup.
func initService() (*Service, error) {
	var initErr error
	once.Do(func() {
		cfg := LoadConfig()

		monitor := cache.NewAtomicMonitor()

		pool := resilience.NewPool(cfg.Pool)
		breakers := resilience.NewBreakerRegistry(cfg.Breaker, nil)
		retrier := resilience.NewRetrier(cfg.Retry, nil)
		caller := resilience.NewCaller(pool, breakers, retrier, cfg.Breaker, monitor)

		rules, err := cache.DecodeRules(cfg.RuleDocs)
		if err != nil {
			initErr = err
			return
		}
		resolver, err := cache.NewStrategyResolver(rules)
		if err != nil {
			initErr = err
			return
		}

		store := cache.NewTwoTierCache(cfg.Store, monitor)
		dedup := cache.NewDeduper()
		backend := NewBackendClient(cfg.Backend, caller)
		refresher := cache.NewRefreshWorker(store, backend, pool, monitor, topicPublisher{})

		router := cache.NewRouter(resolver, store, dedup, backend, refresher, monitor)
		svc = &Service{router: router}

		go runSweeper(store, dedup, breakers, monitor)
	})
	return svc, initErr
}

// runSweeper periodically demotes/drops expired entries the way the
// teacher's runTTLCleanup does for L1Cache, drops idle circuit breakers, and
// reports the spec.md §6 point-in-time gauges (cache.primary.size,
// cache.stale.size, hit_rate, request.pending.count) off the same tick.
func runSweeper(store *cache.TwoTierCache, dedup *cache.Deduper, breakers *resilience.BreakerRegistry, monitor cache.Monitor) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		store.SweepExpired(time.Now())
		breakers.SweepIdle(time.Now())

		stats := store.Stats()
		var hitRate float64
		if total := stats.Hits + stats.Misses; total > 0 {
			hitRate = float64(stats.Hits) / float64(total)
		}
		monitor.Gauges(stats.PrimarySize, stats.StaleSize, hitRate, dedup.InFlight())
	}
}

// QueryRequest is the ingress body shape (spec.md §6).
type QueryRequest struct {
	Codes   []cache.CodeSelector  `json:"codes"`
	Indexes []cache.IndexSelector `json:"indexes"`
	Page    cache.Page            `json:"page"`
}

// QueryResponse mirrors cache.Response over the wire.
type QueryResponse struct {
	StatusCode int32           `json:"status_code"`
	StatusMsg  string          `json:"status_msg"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Query is the single ingress endpoint named in spec.md §6. The source id
// is taken from the context value WithSourceID sets, defaulting to
// "default" when absent or empty; Query does not itself read the Source-Id
// header, and nothing in this package copies that header into the context.
//
//encore:api public method=POST path=/v1/query
func Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	if svc == nil {
		return nil, errors.New("proxy: service not initialized")
	}
	return svc.handleQuery(ctx, req, headerSourceID(ctx))
}

func (s *Service) handleQuery(ctx context.Context, req *QueryRequest, sourceID string) (*QueryResponse, error) {
	start := time.Now()
	coreReq := cache.Request{
		SourceID: sourceID,
		Codes:    req.Codes,
		Indexes:  req.Indexes,
		Page:     req.Page,
	}

	// Only ingress validation yields a non-200 transport code (spec.md §6);
	// every other outcome is a 200 with a body-level status_code, which is
	// why the core never returns a non-validation error from Handle.
	resp, err := s.router.Handle(ctx, coreReq)
	if err != nil {
		logQuery(ctx, sourceID, 400, time.Since(start))
		return nil, err
	}

	logQuery(ctx, sourceID, int(resp.StatusCode), time.Since(start))
	return &QueryResponse{StatusCode: resp.StatusCode, StatusMsg: resp.StatusMsg, Body: resp.Body}, nil
}

// logQuery writes a structured JSON log line, the shape
// pkg/middleware/logging.go's logRequest uses for the teacher's HTTP
// surface, keyed by the same request-id correlation mechanism.
func logQuery(ctx context.Context, sourceID string, statusCode int, duration time.Duration) {
	entry := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"request_id":  requestIDFromCtx(ctx),
		"source_id":   sourceID,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[ERROR] failed to marshal log entry: %v", err)
		return
	}
	if statusCode >= 500 {
		log.Printf("[ERROR] %s", data)
	} else {
		log.Printf("[INFO] %s", data)
	}
}

// requestIDKey correlates a request across log lines, the way
// pkg/middleware/logging.go's contextKey does for the teacher's HTTP
// surface.
type requestIDKey struct{}

// sourceIDKey carries the Source-Id header value through context. Encore
// header binding normally does this via a typed request field; kept as an
// explicit context key here so headerSourceID has a single, testable seam.
type sourceIDKeyType struct{}

var sourceIDKey sourceIDKeyType

// WithSourceID attaches sourceID to ctx, defaulting to "default" when
// blank (spec.md §6).
func WithSourceID(ctx context.Context, sourceID string) context.Context {
	if sourceID == "" {
		sourceID = "default"
	}
	return context.WithValue(ctx, sourceIDKey, sourceID)
}

// WithRequestID attaches a correlation id to ctx, generating one if id is
// blank.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func headerSourceID(ctx context.Context) string {
	if v, ok := ctx.Value(sourceIDKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

func requestIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
