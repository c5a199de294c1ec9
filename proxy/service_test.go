package proxy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/riftcache/proxy/cache"
)

type stubBackend struct {
	resp cache.Response
	err  error
}

func (b *stubBackend) Call(ctx context.Context, sourceID string, req cache.Request) (cache.Response, error) {
	return b.resp, b.err
}

func newTestService(t *testing.T, backend cache.Backend) *Service {
	t.Helper()
	p, err := cache.CompilePattern("", "", "")
	if err != nil {
		t.Fatalf("CompilePattern: %v", err)
	}
	resolver, err := cache.NewStrategyResolver([]cache.Rule{
		{Name: "default", Strategy: cache.Passive, TTL: time.Minute, AllowStale: true, Pattern: p},
	})
	if err != nil {
		t.Fatalf("NewStrategyResolver: %v", err)
	}
	monitor := cache.NewAtomicMonitor()
	store := cache.NewTwoTierCache(cache.DefaultStoreConfig(), monitor)
	dedup := cache.NewDeduper()
	router := cache.NewRouter(resolver, store, dedup, backend, nil, monitor)
	return &Service{router: router}
}

func TestHandleQuery_SuccessPassthrough(t *testing.T) {
	s := newTestService(t, &stubBackend{resp: cache.Response{StatusCode: 0, Body: []byte(`{"total":1}`)}})
	req := &QueryRequest{
		Codes:   []cache.CodeSelector{{Type: "isin", Values: []string{"A"}}},
		Indexes: []cache.IndexSelector{{IndexID: "i1"}},
		Page:    cache.Page{Size: 1},
	}
	resp, err := s.handleQuery(context.Background(), req, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 0 {
		t.Fatalf("expected status_code 0, got %d", resp.StatusCode)
	}
}

func TestHandleQuery_ValidationErrorPropagates(t *testing.T) {
	s := newTestService(t, &stubBackend{})
	req := &QueryRequest{Page: cache.Page{Size: 1}} // no codes, no indexes
	if _, err := s.handleQuery(context.Background(), req, "s1"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestHeaderSourceID_DefaultsWhenAbsent(t *testing.T) {
	if got := headerSourceID(context.Background()); got != "default" {
		t.Fatalf("expected default source id, got %q", got)
	}
	ctx := WithSourceID(context.Background(), "s1")
	if got := headerSourceID(ctx); got != "s1" {
		t.Fatalf("expected s1, got %q", got)
	}
	ctx = WithSourceID(context.Background(), "")
	if got := headerSourceID(ctx); got != "default" {
		t.Fatalf("expected blank Source-Id to default, got %q", got)
	}
}

func TestEncoreConfig_PublishNotifiesAndUpdatesRules(t *testing.T) {
	cfg := NewEncoreConfig(map[string]json.RawMessage{
		"default": json.RawMessage(`{"strategy":"no_cache"}`),
	})
	cfg.Publish(map[string]json.RawMessage{
		"default": json.RawMessage(`{"strategy":"passive","cache_ttl":"1m"}`),
	})
	select {
	case <-cfg.Changed():
	default:
		t.Fatalf("expected a pending change notification after Publish")
	}
	rules := cfg.Rules()
	if string(rules["default"]) != `{"strategy":"passive","cache_ttl":"1m"}` {
		t.Fatalf("unexpected rules after publish: %s", rules["default"])
	}
}

func TestWatchAndRepublish_AppliesDecodedRulesOnChange(t *testing.T) {
	p, err := cache.CompilePattern("", "", "")
	if err != nil {
		t.Fatalf("CompilePattern: %v", err)
	}
	resolver, err := cache.NewStrategyResolver([]cache.Rule{
		{Name: "default", Strategy: cache.NoCache, Pattern: p},
	})
	if err != nil {
		t.Fatalf("NewStrategyResolver: %v", err)
	}

	cfg := NewEncoreConfig(map[string]json.RawMessage{
		"default": json.RawMessage(`{"strategy":"no_cache"}`),
	})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		WatchAndRepublish(cfg, resolver, stop)
		close(done)
	}()

	cfg.Publish(map[string]json.RawMessage{
		"default": json.RawMessage(`{"strategy":"passive","cache_ttl":"1m"}`),
	})

	req := cache.Request{SourceID: "default", Codes: []cache.CodeSelector{{Type: "isin", Values: []string{"A"}}}, Indexes: []cache.IndexSelector{{IndexID: "i1"}}, Page: cache.Page{Size: 1}}
	deadline := time.After(time.Second)
	for {
		rule := resolver.Resolve(req)
		if rule.Strategy == cache.Passive {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("republished rule never took effect")
		case <-time.After(time.Millisecond):
		}
	}

	close(stop)
	<-done
}
