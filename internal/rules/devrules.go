// Package rules generates the rules and DNS settings mihomocli adds on top
// of a merged document: developer routing rules, user quick rules, fake-IP
// bypass filters, Kubernetes helpers and the external controller override.
//
// Functions here mutate the document they are given and report what they
// changed as warnings; none of them log.
package rules

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/John-Robertt/mihomocli/internal/model"
)

const stage = "inject"

// DefaultDevVia is the policy developer rules ask for unless told otherwise.
const DefaultDevVia = "Proxy"

// DevTarget is one entry of the developer catalog.
type DevTarget struct {
	Type   string // DOMAIN or DOMAIN-SUFFIX
	Domain string
}

// DevCatalog lists endpoints developers routinely need through a proxy.
var DevCatalog = []DevTarget{
	// code hosting
	{"DOMAIN-SUFFIX", "github.com"},
	{"DOMAIN-SUFFIX", "githubusercontent.com"},
	{"DOMAIN-SUFFIX", "gitlab.com"},
	{"DOMAIN-SUFFIX", "bitbucket.org"},
	// package registries and toolchains
	{"DOMAIN-SUFFIX", "registry.npmjs.org"},
	{"DOMAIN-SUFFIX", "nodejs.org"},
	{"DOMAIN-SUFFIX", "pypi.org"},
	{"DOMAIN-SUFFIX", "files.pythonhosted.org"},
	{"DOMAIN-SUFFIX", "crates.io"},
	{"DOMAIN-SUFFIX", "static.crates.io"},
	{"DOMAIN-SUFFIX", "rubygems.org"},
	{"DOMAIN-SUFFIX", "golang.org"},
	{"DOMAIN-SUFFIX", "go.dev"},
	{"DOMAIN-SUFFIX", "golang.google.cn"},
	{"DOMAIN-SUFFIX", "rust-lang.org"},
	// kubernetes
	{"DOMAIN-SUFFIX", "k8s.io"},
	{"DOMAIN-SUFFIX", "dl.k8s.io"},
	{"DOMAIN-SUFFIX", "k3s.io"},
	// container registries
	{"DOMAIN-SUFFIX", "docker.com"},
	{"DOMAIN-SUFFIX", "docker.io"},
	{"DOMAIN-SUFFIX", "registry-1.docker.io"},
	{"DOMAIN-SUFFIX", "ghcr.io"},
	{"DOMAIN-SUFFIX", "gcr.io"},
	{"DOMAIN-SUFFIX", "pkg.dev"},
	{"DOMAIN-SUFFIX", "quay.io"},
	// nix
	{"DOMAIN", "cache.nixos.org"},
	// AI APIs
	{"DOMAIN-SUFFIX", "api.openai.com"},
	{"DOMAIN-SUFFIX", "claude.ai"},
}

// BuildDevRules renders the catalog as rule lines routed to via.
func BuildDevRules(via string) []string {
	return lo.Map(DevCatalog, func(t DevTarget, _ int) string {
		return t.Type + "," + t.Domain + "," + via
	})
}

// DevDomains returns the catalog domains sorted and without repeats.
func DevDomains() []string {
	out := lo.Uniq(lo.Map(DevCatalog, func(t DevTarget, _ int) string { return t.Domain }))
	slices.Sort(out)
	return out
}

// ResolveVia picks the policy developer rules route to. The requested name
// is used when doc has a group or proxy of that name; otherwise the default
// selector, the first group, the first proxy and finally DIRECT are tried in
// that order. Any fallback comes with a warning naming the choice.
func ResolveVia(requested string, doc *model.Document) (string, *model.Warning) {
	groups := doc.GroupNames()
	proxies := doc.ProxyNames()
	if requested != "" && (slices.Contains(groups, requested) || slices.Contains(proxies, requested)) {
		return requested, nil
	}

	var via string
	switch {
	case slices.Contains(groups, model.DefaultSelectorName):
		via = model.DefaultSelectorName
	case len(groups) > 0:
		via = groups[0]
	case len(proxies) > 0:
		via = proxies[0]
	default:
		via = model.Direct
	}
	return via, &model.Warning{
		Code:    "DEV_VIA_FALLBACK",
		Message: fmt.Sprintf("策略 %q 不存在，开发者规则改用 %q", requested, via),
		Stage:   stage,
	}
}

// Prepend puts lines ahead of the document's existing rules.
func Prepend(doc *model.Document, lines []string) {
	if len(lines) == 0 {
		return
	}
	doc.Rules = append(slices.Clone(lines), doc.Rules...)
}
