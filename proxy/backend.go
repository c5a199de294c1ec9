// BackendClient is the egress RPC client (spec.md §6): POSTs the request
// JSON to the configured remote service, routes the call through the
// resilience chain, and maps resilience.Kind back into cache.Kind so the
// Router's fallback/error-taxonomy logic (spec.md §7) works unmodified
// across the package boundary.
//
// Grounded on cache-manager.Service's OriginFetcher seam (an interface the
// cache layer calls into, implemented by whatever talks to the real source
// of truth) generalized from an in-process fetch to an HTTP POST, the
// transport spec.md §6 specifies.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/riftcache/proxy/cache"
	"github.com/riftcache/proxy/resilience"
)

// BackendConfig configures the egress call (the `remote.service.config`
// key of spec.md §6).
type BackendConfig struct {
	URL      string
	Endpoint string
	Timeout  time.Duration
}

// DefaultBackendConfig is a development-only placeholder; production
// deployments always override URL/Endpoint from config.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{URL: "http://localhost:8081", Endpoint: "/query", Timeout: 5 * time.Second}
}

// BackendClient implements cache.Backend by POSTing to the remote service
// through the resilience.Caller chain.
type BackendClient struct {
	cfg    BackendConfig
	caller *resilience.Caller
	client *http.Client
}

// NewBackendClient builds a BackendClient.
func NewBackendClient(cfg BackendConfig, caller *resilience.Caller) *BackendClient {
	return &BackendClient{
		cfg:    cfg,
		caller: caller,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Call implements cache.Backend. It delegates to the resilience chain so
// pool isolation, circuit breaking, and retry all apply uniformly to every
// cache-miss backend invocation.
func (b *BackendClient) Call(ctx context.Context, sourceID string, req cache.Request) (cache.Response, error) {
	var resp cache.Response
	err := b.caller.Call(ctx, sourceID, func(callCtx context.Context) error {
		r, callErr := b.doRequest(callCtx, sourceID, req)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return cache.Response{}, translateError(err)
	}
	return resp, nil
}

func (b *BackendClient) doRequest(ctx context.Context, sourceID string, req cache.Request) (cache.Response, error) {
	body, err := json.Marshal(struct {
		Codes   []cache.CodeSelector  `json:"codes"`
		Indexes []cache.IndexSelector `json:"indexes"`
		Page    cache.Page            `json:"page"`
	}{req.Codes, req.Indexes, req.Page})
	if err != nil {
		return cache.Response{}, resilience.NewError(resilience.KindInternal, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL+b.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return cache.Response{}, resilience.NewError(resilience.KindInternal, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Source-Id", sourceID)

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return cache.Response{}, classifyTransportError(ctx, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return cache.Response{}, resilience.NewError(resilience.KindTransport, "read response: %v", err)
	}

	if httpResp.StatusCode >= 500 {
		return cache.Response{}, resilience.NewError(resilience.KindUpstreamServer, "backend returned %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		return cache.Response{}, resilience.NewError(resilience.KindUpstreamClient, "backend returned %d", httpResp.StatusCode)
	}

	var parsed cache.Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return cache.Response{}, resilience.NewError(resilience.KindUpstreamServer, "decode response: %v", err)
	}
	return parsed, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return resilience.NewError(resilience.KindCancelled, "%v", ctx.Err())
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return resilience.NewError(resilience.KindTimeout, "%v", err)
	}
	return resilience.NewError(resilience.KindTransport, "%v", err)
}

// translateError maps a resilience.Error's Kind into a cache.Error,
// preserving the message, so the Router's fallback/error-taxonomy logic
// (which is written purely in terms of cache.Kind) is unaffected by the
// resilience layer's independence from the cache package.
func translateError(err error) error {
	re, ok := err.(*resilience.Error)
	if !ok {
		return cache.NewError(cache.KindInternal, "%v", err)
	}
	var kind cache.Kind
	switch re.Kind {
	case resilience.KindCircuitOpen:
		kind = cache.KindCircuitOpen
	case resilience.KindTimeout:
		kind = cache.KindTimeout
	case resilience.KindTransport:
		kind = cache.KindTransport
	case resilience.KindUpstreamServer:
		kind = cache.KindUpstreamServer
	case resilience.KindUpstreamClient:
		kind = cache.KindUpstreamClient
	case resilience.KindCancelled:
		kind = cache.KindCancelled
	default:
		kind = cache.KindInternal
	}
	return cache.NewError(kind, "%s", re.Message)
}
