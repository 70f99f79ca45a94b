package rules

import (
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/store"
)

type DevOptions struct {
	Enabled bool
	// Via is the requested policy; empty means DefaultDevVia.
	Via string
}

type Options struct {
	Dev          DevOptions
	CustomRules  []store.CustomRule
	Controller   Controller
	FakeIPBypass []string
	// FakeIPFilterAdd entries join dns.fake-ip-filter like FakeIPBypass but
	// do not block an explicit whitelist mode.
	FakeIPFilterAdd  []string
	FakeIPFilterMode string
	K8sCIDRExclude   []string
}

// Report describes what Apply generated.
type Report struct {
	// DevRules is the rendered catalog for the resolved policy, even when
	// developer rules were not applied.
	DevRules      []string
	DevVia        string
	DevAdded      int
	QuickAdded    int
	K8sDNSAdded   []string
	K8sRouteAdded []string
}

// Apply runs every injection step on doc in a fixed order: developer rules,
// quick rules ahead of them, the controller override, fake-IP bypass, the
// explicit filter mode, then the Kubernetes helpers.
func Apply(doc *model.Document, opt Options) (*Report, []model.Warning) {
	var warnings []model.Warning
	rep := &Report{}

	requested := opt.Dev.Via
	if requested == "" {
		requested = DefaultDevVia
	}
	via, w := ResolveVia(requested, doc)
	rep.DevVia = via
	rep.DevRules = BuildDevRules(via)
	if opt.Dev.Enabled {
		if w != nil {
			warnings = append(warnings, *w)
		}
		Prepend(doc, rep.DevRules)
		rep.DevAdded = len(rep.DevRules)
	}

	quick := QuickRules(opt.CustomRules)
	Prepend(doc, quick)
	rep.QuickAdded = len(quick)

	ApplyController(doc, opt.Controller)

	filter := append(append([]string(nil), opt.FakeIPBypass...), opt.FakeIPFilterAdd...)
	warnings = append(warnings, ApplyFakeIPBypass(doc, filter)...)
	warnings = append(warnings, ApplyFilterMode(doc, opt.FakeIPFilterMode, len(opt.FakeIPBypass) > 0)...)

	rep.K8sDNSAdded = ApplyK8sDNS(doc)
	var rw []model.Warning
	rep.K8sRouteAdded, rw = ApplyK8sRouteExclude(doc, opt.K8sCIDRExclude)
	warnings = append(warnings, rw...)
	return rep, warnings
}
