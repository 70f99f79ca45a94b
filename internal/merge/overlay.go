package merge

import (
	"github.com/samber/lo"

	"github.com/John-Robertt/mihomocli/internal/model"
)

// BuiltinPolicies are policy names Mihomo resolves without a group or proxy.
var BuiltinPolicies = []string{"DIRECT", "REJECT", "REJECT-DROP", "PASS", "COMPATIBLE"}

// IsBuiltinPolicy reports whether name is one of BuiltinPolicies.
func IsBuiltinPolicy(name string) bool {
	return lo.Contains(BuiltinPolicies, name)
}

// Overlay lays base over merged and returns a new document. A nil base
// returns a copy of merged.
//
// Base rules and group structure replace the merged ones. Each base group's
// references are rebuilt from the merged proxy names. References to another
// base group or a built-in policy are kept ahead of those names so selector
// chains in the base file survive; references to unknown nodes are dropped.
func Overlay(merged, base *model.Document) *model.Document {
	out := merged.Clone()
	if out == nil {
		out = model.NewDocument()
	}
	if base == nil {
		return out
	}
	pol := OverlayPolicies

	out.Port = mergePort(pol.Ports, out.Port, base.Port)
	out.SocksPort = mergePort(pol.Ports, out.SocksPort, base.SocksPort)
	out.RedirPort = mergePort(pol.Ports, out.RedirPort, base.RedirPort)

	out.Proxies = mergeValues(pol.Proxies, out.Proxies, base.Proxies)
	out.Rules = mergeRules(pol.Rules, out.Rules, base.Rules)

	nodes := UniqueProxyNames(out)
	out.ProxyGroups = mergeValues(pol.ProxyGroups, out.ProxyGroups, base.ProxyGroups)
	if pol.ProxyGroups == Replace {
		rebuildGroupRefs(out.ProxyGroups, nodes)
	}

	if out.Extra == nil {
		out.Extra = model.NewMapping()
	}
	mergeExtra(pol.Extra, out.Extra, base.Extra)
	return out
}

func rebuildGroupRefs(groups []model.Value, nodes []string) {
	names := lo.SliceToMap(recordNames(groups), func(n string) (string, struct{}) { return n, struct{}{} })
	for _, g := range groups {
		if _, ok := g.AsMapping(); !ok {
			continue
		}
		kept := lo.Filter(model.GroupRefs(g), func(ref string, _ int) bool {
			if IsBuiltinPolicy(ref) {
				return true
			}
			_, isGroup := names[ref]
			return isGroup
		})
		model.SetGroupRefs(g, lo.Uniq(append(kept, nodes...)))
	}
}

func recordNames(values []model.Value) []string {
	return lo.FilterMap(values, func(v model.Value, _ int) (string, bool) {
		return model.RecordName(v)
	})
}
