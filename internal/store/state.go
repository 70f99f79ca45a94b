package store

import (
	"fmt"
	"strings"
)

type RuleKind string

const (
	RuleDomain  RuleKind = "domain"
	RuleSuffix  RuleKind = "suffix"
	RuleKeyword RuleKind = "keyword"
)

// ParseRuleKind accepts domain, keyword or suffix (case-insensitive). An empty
// string means suffix.
func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "suffix", "domain-suffix":
		return RuleSuffix, nil
	case "domain":
		return RuleDomain, nil
	case "keyword", "domain-keyword":
		return RuleKeyword, nil
	default:
		return "", fmt.Errorf("unknown rule kind %q (want domain, suffix or keyword)", s)
	}
}

// RuleType is the Mihomo rule keyword for the kind.
func (k RuleKind) RuleType() string {
	switch k {
	case RuleDomain:
		return "DOMAIN"
	case RuleKeyword:
		return "DOMAIN-KEYWORD"
	default:
		return "DOMAIN-SUFFIX"
	}
}

// CustomRule is a user quick rule routing one domain to a policy.
type CustomRule struct {
	Domain string   `yaml:"domain"`
	Kind   RuleKind `yaml:"kind"`
	Via    string   `yaml:"via"`
}

// String renders the rule line, e.g. "DOMAIN-SUFFIX,example.com,DIRECT".
func (r CustomRule) String() string {
	return r.Kind.RuleType() + "," + r.Domain + "," + r.Via
}

// NormalizeVia maps the lowercase shorthands direct, reject and proxy to the
// policy names Mihomo expects. Anything else is kept verbatim.
func NormalizeVia(via string) string {
	v := strings.TrimSpace(via)
	switch strings.ToLower(v) {
	case "direct":
		return "DIRECT"
	case "reject":
		return "REJECT"
	case "proxy":
		return "Proxy"
	default:
		return v
	}
}

// AppState is the small bag of values remembered between runs.
type AppState struct {
	LastSubscriptionURL string       `yaml:"last_subscription_url,omitempty"`
	CustomRules         []CustomRule `yaml:"custom_rules,omitempty"`
}

// AddCustomRule normalizes r and appends it unless an identical rule is
// already present. It reports whether the rule was added.
func (s *AppState) AddCustomRule(r CustomRule) bool {
	r.Domain = strings.TrimSpace(r.Domain)
	r.Via = NormalizeVia(r.Via)
	if r.Kind == "" {
		r.Kind = RuleSuffix
	}
	for _, existing := range s.CustomRules {
		if existing == r {
			return false
		}
	}
	s.CustomRules = append(s.CustomRules, r)
	return true
}

// RemoveCustomRules drops every rule for domain; a non-empty via narrows the
// match to that policy. It returns the number of rules removed.
func (s *AppState) RemoveCustomRules(domain, via string) int {
	domain = strings.TrimSpace(domain)
	via = NormalizeVia(via)
	kept := s.CustomRules[:0]
	removed := 0
	for _, r := range s.CustomRules {
		if r.Domain == domain && (via == "" || r.Via == via) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.CustomRules = kept
	return removed
}

// LoadAppState reads path; a missing file yields the zero state.
func LoadAppState(path string) (*AppState, error) {
	st := &AppState{}
	if _, err := loadYAML(path, st); err != nil {
		return nil, err
	}
	return st, nil
}

func SaveAppState(path string, st *AppState) error {
	return saveYAML(path, st)
}
