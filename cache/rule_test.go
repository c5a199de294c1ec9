package cache

import (
	"testing"
	"time"
)

func mustPattern(t *testing.T, code, index, source string) Pattern {
	t.Helper()
	p, err := CompilePattern(code, index, source)
	if err != nil {
		t.Fatalf("CompilePattern: %v", err)
	}
	return p
}

func TestRuleSet_DefaultAlwaysPresent(t *testing.T) {
	rs, err := NewRuleSet(nil)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	r := rs.Resolve("anything", "anything", "anything")
	if r.Name != "default" {
		t.Fatalf("expected default rule to match everything, got %q", r.Name)
	}
}

func TestRuleSet_PriorityWins(t *testing.T) {
	rules := []Rule{
		{Name: "low-priority", Strategy: Passive, TTL: time.Minute, Priority: 10, Pattern: mustPattern(t, "isin", "", "")},
		{Name: "high-priority", Strategy: Active, TTL: time.Minute, RefreshInterval: time.Second, Priority: 1, Pattern: mustPattern(t, "isin", "", "")},
	}
	rs, err := NewRuleSet(rules)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	r := rs.Resolve("isin", "i1", "s1")
	if r.Name != "high-priority" {
		t.Fatalf("expected high-priority rule (lower Priority value) to win, got %q", r.Name)
	}
}

func TestRuleSet_TieBreakFirstInList(t *testing.T) {
	rules := []Rule{
		{Name: "first", Strategy: Passive, TTL: time.Minute, Priority: 5, Pattern: mustPattern(t, "isin", "", "")},
		{Name: "second", Strategy: Passive, TTL: time.Minute, Priority: 5, Pattern: mustPattern(t, "isin", "", "")},
	}
	rs, err := NewRuleSet(rules)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	r := rs.Resolve("isin", "i1", "s1")
	if r.Name != "first" {
		t.Fatalf("expected tie-break to prefer first-in-list rule, got %q", r.Name)
	}
}

func TestRuleSet_NoMatchFallsBackToDefault(t *testing.T) {
	rules := []Rule{
		{Name: "isin-only", Strategy: Passive, TTL: time.Minute, Priority: 1, Pattern: mustPattern(t, "isin", "", "")},
	}
	rs, err := NewRuleSet(rules)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	r := rs.Resolve("cusip", "i1", "s1")
	if r.Name != "default" {
		t.Fatalf("expected fallback to default rule, got %q", r.Name)
	}
}

func TestRule_ActiveRefreshMustBeLessThanTTL(t *testing.T) {
	r := Rule{Name: "bad", Strategy: Active, TTL: time.Minute, RefreshInterval: time.Minute, Pattern: mustPattern(t, "", "", "")}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected validation error when refresh_interval >= ttl")
	}
}

func TestStrategyResolver_PublishSwapsAtomically(t *testing.T) {
	sr, err := NewStrategyResolver([]Rule{
		{Name: "v1", Strategy: NoCache, Priority: 1, Pattern: mustPattern(t, "", "", "")},
	})
	if err != nil {
		t.Fatalf("NewStrategyResolver: %v", err)
	}
	req := Request{SourceID: "s1", Codes: []CodeSelector{{Type: "isin", Values: []string{"A"}}}, Indexes: []IndexSelector{{IndexID: "i"}}, Page: Page{Size: 1}}
	if got := sr.Resolve(req); got.Name != "v1" {
		t.Fatalf("expected v1, got %q", got.Name)
	}

	if err := sr.Publish([]Rule{
		{Name: "v2", Strategy: Passive, TTL: time.Minute, Priority: 1, Pattern: mustPattern(t, "", "", "")},
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := sr.Resolve(req); got.Name != "v2" {
		t.Fatalf("expected v2 after publish, got %q", got.Name)
	}
}
