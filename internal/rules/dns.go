package rules

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/mihomocli/internal/model"
)

const (
	keyDNS          = "dns"
	keyFakeIPFilter = "fake-ip-filter"
	keyFilterMode   = "fake-ip-filter-mode"
	keyEnhancedMode = "enhanced-mode"
	keyTun          = "tun"
	keyRouteExclude = "route-exclude-address"
)

const (
	ModeBlacklist = "blacklist"
	ModeWhitelist = "whitelist"
)

// K8sFakeIPBypass keeps cluster DNS names out of the fake-IP range.
var K8sFakeIPBypass = []string{"+.cluster.local", "*.cluster.local.*"}

// K8sRouteExclude are the default k3s pod and service CIDRs.
var K8sRouteExclude = []string{"10.42.0.0/16", "10.43.0.0/16"}

// ApplyFakeIPBypass appends patterns to dns.fake-ip-filter and forces
// dns.fake-ip-filter-mode to blacklist, creating the dns block and the list
// as needed.
func ApplyFakeIPBypass(doc *model.Document, patterns []string) []model.Warning {
	if len(patterns) == 0 {
		return nil
	}
	dns, w := ensureBlock(doc, keyDNS)
	if dns == nil {
		return w
	}
	appendStrings(dns, keyFakeIPFilter, patterns, false)

	current, _ := dns.GetString(keyFilterMode)
	if !strings.EqualFold(current, ModeBlacklist) {
		if current != "" {
			w = append(w, model.Warning{
				Code:    "FAKE_IP_MODE_OVERRIDDEN",
				Message: fmt.Sprintf("fake-ip-filter-mode 由 %q 改为 blacklist 以使 bypass 生效", current),
				Stage:   stage,
			})
		}
		dns.Set(keyFilterMode, model.String(ModeBlacklist))
	}
	return w
}

// ApplyFilterMode sets dns.fake-ip-filter-mode explicitly. Whitelist is
// refused while bypass patterns are in use; unknown modes are ignored. Both
// cases warn.
func ApplyFilterMode(doc *model.Document, mode string, bypassInUse bool) []model.Warning {
	if mode == "" {
		return nil
	}
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case ModeBlacklist, ModeWhitelist:
	default:
		return []model.Warning{{
			Code:    "FAKE_IP_MODE_INVALID",
			Message: fmt.Sprintf("fake-ip-filter-mode 只能是 blacklist 或 whitelist，忽略 %q", mode),
			Stage:   stage,
		}}
	}
	if m == ModeWhitelist && bypassInUse {
		return []model.Warning{{
			Code:    "FAKE_IP_WHITELIST_REFUSED",
			Message: "fake-ip bypass 仅适用于 blacklist 模式，保留 blacklist",
			Stage:   stage,
		}}
	}
	dns, w := ensureBlock(doc, keyDNS)
	if dns == nil {
		return w
	}
	dns.Set(keyFilterMode, model.String(m))
	return w
}

// ApplyK8sDNS adds K8sFakeIPBypass to the fake-IP filter when the existing
// dns block runs in fake-ip mode and the filter is not a whitelist. It
// returns the patterns it added.
func ApplyK8sDNS(doc *model.Document) []string {
	v, ok := doc.Extra.Get(keyDNS)
	if !ok {
		return nil
	}
	dns, ok := v.AsMapping()
	if !ok {
		return nil
	}
	if enhanced, _ := dns.GetString(keyEnhancedMode); !strings.EqualFold(enhanced, "fake-ip") {
		return nil
	}
	if mode, _ := dns.GetString(keyFilterMode); strings.EqualFold(mode, ModeWhitelist) {
		return nil
	}
	return appendStrings(dns, keyFakeIPFilter, K8sFakeIPBypass, true)
}

// ApplyK8sRouteExclude adds K8sRouteExclude and extra to
// tun.route-exclude-address, skipping entries already present. Nothing
// happens when the document has no tun block and extra is empty. Entries
// without a prefix length are skipped with a warning.
func ApplyK8sRouteExclude(doc *model.Document, extra []string) ([]string, []model.Warning) {
	if !doc.Extra.Has(keyTun) && len(extra) == 0 {
		return nil, nil
	}
	var warnings []model.Warning
	var cidrs []string
	for _, c := range append(append([]string(nil), K8sRouteExclude...), extra...) {
		if !strings.Contains(c, "/") {
			warnings = append(warnings, model.Warning{
				Code:    "K8S_CIDR_INVALID",
				Message: fmt.Sprintf("CIDR 不合法（应形如 10.42.0.0/16）：%s", c),
				Stage:   stage,
			})
			continue
		}
		cidrs = append(cidrs, c)
	}
	tun, w := ensureBlock(doc, keyTun)
	warnings = append(warnings, w...)
	if tun == nil {
		return nil, warnings
	}
	return appendStrings(tun, keyRouteExclude, cidrs, true), warnings
}

// ensureBlock returns the mapping under a top-level key, creating it when
// absent. A key holding something other than a mapping is left alone.
func ensureBlock(doc *model.Document, key string) (*model.Mapping, []model.Warning) {
	if v, ok := doc.Extra.Get(key); ok && !v.IsNull() {
		m, ok := v.AsMapping()
		if !ok {
			return nil, []model.Warning{{
				Code:    "BLOCK_NOT_MAPPING",
				Message: fmt.Sprintf("顶层字段 %s 不是 mapping，跳过修改", key),
				Stage:   stage,
			}}
		}
		return m, nil
	}
	m := model.NewMapping()
	_ = doc.SetExtra(key, model.Map(m))
	return m, nil
}

// appendStrings appends items to the sequence under key, replacing a
// missing or non-sequence value. With unique set, items already present are
// skipped. It returns the items actually appended.
func appendStrings(m *model.Mapping, key string, items []string, unique bool) []string {
	var seq []model.Value
	if v, ok := m.Get(key); ok {
		seq, _ = v.AsSequence()
	}
	present := make(map[string]bool, len(seq))
	for _, v := range seq {
		if s, ok := v.AsString(); ok {
			present[s] = true
		}
	}
	var added []string
	for _, item := range items {
		if unique && present[item] {
			continue
		}
		present[item] = true
		seq = append(seq, model.String(item))
		added = append(added, item)
	}
	m.Set(key, model.Seq(seq...))
	return added
}
