// Config: the dynamic rule-list view spec.md §1 and §6 describe as an
// external collaborator ("assume a Config view with change notifications").
// RuleDoc is the wire shape of a single rule JSON (spec.md §6's
// "cache.strategy.<name>" keys); DecodeRuleDoc turns it into a cache.Rule.
//
// Grounded on the teacher's cache-manager.Config / warming.Config structs,
// which are themselves thin JSON-tagged views over Encore config keys;
// generalized here to the hot-reloadable rule list Design Note §9 calls for.
package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleDoc is the JSON document shape for one rule, as delivered by the
// `cache.strategy.default` / `cache.strategy.<name>` config keys.
type RuleDoc struct {
	Pattern struct {
		Code     string `json:"code"`
		Index    string `json:"index"`
		SourceID string `json:"source_id"`
	} `json:"pattern"`
	Strategy        string `json:"strategy"`
	CacheTTL        string `json:"cache_ttl"`
	RefreshInterval string `json:"refresh_interval"`
	AllowStaleData  bool   `json:"allow_stale_data"`
	Priority        int    `json:"priority"`
}

// DecodeRuleDoc parses a rule JSON document into a compiled Rule.
func DecodeRuleDoc(name string, raw json.RawMessage) (Rule, error) {
	var doc RuleDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}

	strategy, err := parseStrategy(doc.Strategy)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}

	ttl, err := parseDuration(doc.CacheTTL)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: cache_ttl: %w", name, err)
	}

	var refresh time.Duration
	if doc.RefreshInterval != "" {
		refresh, err = parseDuration(doc.RefreshInterval)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: refresh_interval: %w", name, err)
		}
	}

	pattern, err := CompilePattern(doc.Pattern.Code, doc.Pattern.Index, doc.Pattern.SourceID)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}

	rule := Rule{
		Name:            name,
		Strategy:        strategy,
		TTL:             ttl,
		RefreshInterval: refresh,
		AllowStale:      doc.AllowStaleData,
		Priority:        doc.Priority,
		Pattern:         pattern,
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func parseStrategy(s string) (Strategy, error) {
	switch s {
	case "no_cache", "NoCache", "NO_CACHE":
		return NoCache, nil
	case "passive", "Passive", "PASSIVE", "":
		return Passive, nil
	case "active", "Active", "ACTIVE":
		return Active, nil
	default:
		return NoCache, fmt.Errorf("unknown strategy %q", s)
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Config is the view the Router's owner polls/subscribes to for rule
// changes. Implementations (proxy.EncoreConfig) bridge a live config
// source; RuleDoc decoding is owned here so that bridge stays thin.
type Config interface {
	// Rules returns the currently published set of raw rule documents,
	// keyed by rule name (mirrors the `cache.strategy.<name>` keys).
	Rules() map[string]json.RawMessage
	// Changed returns a channel that receives a value whenever the rule
	// set changes. Callers re-read Rules() and republish a StrategyResolver.
	Changed() <-chan struct{}
}

// DecodeRules decodes every document in docs into a Rule, returning the
// first decode error encountered (config publication is all-or-nothing —
// a single malformed rule must not partially apply).
func DecodeRules(docs map[string]json.RawMessage) ([]Rule, error) {
	rules := make([]Rule, 0, len(docs))
	for name, raw := range docs {
		rule, err := DecodeRuleDoc(name, raw)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
