package merge

import (
	"github.com/samber/lo"

	"github.com/John-Robertt/mihomocli/internal/model"
)

// Merge folds subs into a copy of template in order. Neither template nor
// subs are modified.
//
// After folding, the group named model.DefaultSelectorName lists every unique
// proxy name in first-seen order, template proxies first.
func Merge(template *model.Document, subs []*model.Document) *model.Document {
	return mergeWith(MergePolicies, template, subs)
}

func mergeWith(pol Policies, template *model.Document, subs []*model.Document) *model.Document {
	out := template.Clone()
	if out == nil {
		out = model.NewDocument()
	}
	if out.Extra == nil {
		out.Extra = model.NewMapping()
	}

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		out.Port = mergePort(pol.Ports, out.Port, sub.Port)
		out.SocksPort = mergePort(pol.Ports, out.SocksPort, sub.SocksPort)
		out.RedirPort = mergePort(pol.Ports, out.RedirPort, sub.RedirPort)

		out.Proxies = mergeValues(pol.Proxies, out.Proxies, sub.Proxies)
		out.Rules = mergeRules(pol.Rules, out.Rules, sub.Rules)

		switch pol.ProxyGroups {
		case MergeByName:
			out.ProxyGroups = mergeGroupsByName(out.ProxyGroups, sub.ProxyGroups)
		default:
			out.ProxyGroups = mergeValues(pol.ProxyGroups, out.ProxyGroups, sub.ProxyGroups)
		}

		mergeExtra(pol.Extra, out.Extra, sub.Extra)
	}

	if i := out.GroupIndex(model.DefaultSelectorName); i >= 0 {
		model.SetGroupRefs(out.ProxyGroups[i], UniqueProxyNames(out))
	}
	return out
}

// UniqueProxyNames lists proxy names in document order with repeats removed.
func UniqueProxyNames(doc *model.Document) []string {
	return lo.Uniq(doc.ProxyNames())
}

func mergeValues(p Policy, acc, in []model.Value) []model.Value {
	switch p {
	case Append:
		for _, v := range in {
			acc = append(acc, v.Clone())
		}
	case Replace:
		return lo.Map(in, func(v model.Value, _ int) model.Value { return v.Clone() })
	case TemplateWins:
		if len(acc) == 0 {
			return lo.Map(in, func(v model.Value, _ int) model.Value { return v.Clone() })
		}
	}
	return acc
}

func mergeRules(p Policy, acc, in []string) []string {
	switch p {
	case Append:
		return append(acc, in...)
	case Replace:
		return append([]string(nil), in...)
	case TemplateWins:
		if len(acc) == 0 {
			return append([]string(nil), in...)
		}
	}
	return acc
}

// mergeGroupsByName unions incoming groups into acc. A group whose name is
// already present contributes only the references acc does not list yet;
// everything else is appended.
func mergeGroupsByName(acc, in []model.Value) []model.Value {
	index := make(map[string]int, len(acc))
	for i, g := range acc {
		if name, ok := model.RecordName(g); ok {
			if _, dup := index[name]; !dup {
				index[name] = i
			}
		}
	}
	for _, g := range in {
		name, ok := model.RecordName(g)
		if !ok {
			acc = append(acc, g.Clone())
			continue
		}
		i, exists := index[name]
		if !exists {
			index[name] = len(acc)
			acc = append(acc, g.Clone())
			continue
		}
		refs := model.GroupRefs(acc[i])
		seen := lo.SliceToMap(refs, func(r string) (string, struct{}) { return r, struct{}{} })
		for _, r := range model.GroupRefs(g) {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				refs = append(refs, r)
			}
		}
		model.SetGroupRefs(acc[i], refs)
	}
	return acc
}

func mergeExtra(p Policy, acc, in *model.Mapping) {
	in.Range(func(key string, v model.Value) bool {
		switch p {
		case TemplateWins:
			acc.SetDefault(key, v.Clone())
		case BaseWins, Replace:
			acc.Set(key, v.Clone())
		}
		return true
	})
}
