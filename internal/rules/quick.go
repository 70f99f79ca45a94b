package rules

import (
	"strings"

	"github.com/samber/lo"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/store"
)

// QuickRules renders user custom rules in their stored order. The policy is
// used verbatim.
func QuickRules(custom []store.CustomRule) []string {
	return lo.Map(custom, func(r store.CustomRule, _ int) string { return r.String() })
}

// DomainMatches reports whether domain is matched by a DOMAIN, DOMAIN-SUFFIX
// or DOMAIN-KEYWORD rule on target. Comparison ignores case.
func DomainMatches(ruleType, target, domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	t := strings.ToLower(strings.TrimSpace(target))
	switch strings.ToUpper(ruleType) {
	case "DOMAIN":
		return d == t
	case "DOMAIN-SUFFIX":
		return d == t || strings.HasSuffix(d, "."+t)
	case "DOMAIN-KEYWORD":
		return strings.Contains(d, t)
	default:
		return false
	}
}

type Route string

const (
	RouteDirect Route = "direct"
	RouteProxy  Route = "proxy"
)

// Verdict explains how Check decided.
type Verdict struct {
	Route Route
	// Rule is the matching rule line, empty for the default.
	Rule string
}

// Check tells whether domain would go direct or through the proxy. Custom
// rules are consulted first, then the developer catalog; anything unmatched
// goes direct.
func Check(domain string, custom []store.CustomRule) Verdict {
	for _, r := range custom {
		if DomainMatches(r.Kind.RuleType(), r.Domain, domain) {
			route := RouteProxy
			if strings.EqualFold(r.Via, model.Direct) {
				route = RouteDirect
			}
			return Verdict{Route: route, Rule: r.String()}
		}
	}
	for _, t := range DevCatalog {
		if DomainMatches(t.Type, t.Domain, domain) {
			return Verdict{Route: RouteProxy, Rule: t.Type + "," + t.Domain}
		}
	}
	return Verdict{Route: RouteDirect}
}

// MatchDomain walks rule lines in order and returns the first domain rule
// matching domain, or the MATCH rule when one is reached first. Lines that
// do not parse and non-domain rules are skipped.
func MatchDomain(lines []string, domain string) (model.Rule, bool) {
	for _, line := range lines {
		r, err := ParseRule(line)
		if err != nil {
			continue
		}
		if r.Type == "MATCH" {
			return r, true
		}
		if DomainMatches(r.Type, r.Value, domain) {
			return r, true
		}
	}
	return model.Rule{}, false
}
