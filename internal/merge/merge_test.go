package merge

import (
	"reflect"
	"testing"

	"github.com/John-Robertt/mihomocli/internal/model"
)

func doc(t *testing.T, src string) *model.Document {
	t.Helper()
	d, err := model.ParseDocument("test", "inline", []byte(src))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return d
}

func groupRefs(t *testing.T, d *model.Document, name string) []string {
	t.Helper()
	i := d.GroupIndex(name)
	if i < 0 {
		t.Fatalf("group %q missing", name)
	}
	return model.GroupRefs(d.ProxyGroups[i])
}

const template = `
port: 7890
mode: rule
proxies:
  - {name: T1, type: http, server: t.example.com, port: 80}
proxy-groups:
  - name: 🚀 节点选择
    type: select
    proxies: [stale]
  - name: Media
    type: select
    proxies: [T1]
rules:
  - DOMAIN,template.example,DIRECT
`

const subA = `
port: 8888
mode: global
log-level: debug
proxies:
  - {name: A1, type: ss, server: a.example.com, port: 1, cipher: aes-128-gcm, password: x}
  - {name: T1, type: ss, server: dup.example.com, port: 2, cipher: aes-128-gcm, password: y}
proxy-groups:
  - name: Media
    type: select
    proxies: [T1, A1]
  - name: A-only
    type: url-test
    proxies: [A1]
rules:
  - DOMAIN,a.example,A-only
`

const subB = `
socks-port: 7891
proxies:
  - {name: B1, type: trojan, server: b.example.com, port: 443, password: z}
rules:
  - MATCH,Media
`

func TestMerge(t *testing.T) {
	tpl := doc(t, template)
	a, b := doc(t, subA), doc(t, subB)
	before := tpl.Clone()

	out := Merge(tpl, []*model.Document{a, b})

	if *out.Port != 7890 {
		t.Fatalf("port=%d, want template port 7890", *out.Port)
	}
	if out.SocksPort != nil {
		t.Fatalf("socks-port=%d, want=nil (template has none)", *out.SocksPort)
	}

	if got, want := out.ProxyNames(), []string{"T1", "A1", "T1", "B1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("proxies=%v, want=%v", got, want)
	}
	wantRules := []string{"DOMAIN,template.example,DIRECT", "DOMAIN,a.example,A-only", "MATCH,Media"}
	if !reflect.DeepEqual(out.Rules, wantRules) {
		t.Fatalf("rules=%v, want=%v", out.Rules, wantRules)
	}

	if got, want := out.GroupNames(), []string{"🚀 节点选择", "Media", "A-only"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("groups=%v, want=%v", got, want)
	}
	if got, want := groupRefs(t, out, "Media"), []string{"T1", "A1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Media=%v, want=%v", got, want)
	}
	if got, want := groupRefs(t, out, model.DefaultSelectorName), []string{"T1", "A1", "B1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("selector=%v, want=%v", got, want)
	}

	if mode, _ := out.Extra.GetString("mode"); mode != "rule" {
		t.Fatalf("mode=%q, want template value", mode)
	}
	if lvl, _ := out.Extra.GetString("log-level"); lvl != "debug" {
		t.Fatalf("log-level=%q, want filled from subscription", lvl)
	}

	if !reflect.DeepEqual(tpl.ProxyNames(), before.ProxyNames()) || !reflect.DeepEqual(tpl.Rules, before.Rules) {
		t.Fatalf("template was mutated")
	}
	if got := groupRefs(t, tpl, model.DefaultSelectorName); !reflect.DeepEqual(got, []string{"stale"}) {
		t.Fatalf("template selector mutated: %v", got)
	}
}

func TestMerge_SelectorIsSupersetOfEveryProxy(t *testing.T) {
	out := Merge(doc(t, template), []*model.Document{doc(t, subA), doc(t, subB)})
	refs := groupRefs(t, out, model.DefaultSelectorName)
	set := make(map[string]bool, len(refs))
	for _, r := range refs {
		set[r] = true
	}
	for _, name := range out.ProxyNames() {
		if !set[name] {
			t.Fatalf("selector lacks %q", name)
		}
	}
}

func TestMerge_NoSubscriptions(t *testing.T) {
	out := Merge(doc(t, template), nil)
	if got := groupRefs(t, out, model.DefaultSelectorName); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Fatalf("selector=%v, want=[T1]", got)
	}
}

func TestMerge_NamelessGroupsAppended(t *testing.T) {
	sub := doc(t, "proxy-groups:\n  - {type: select, proxies: [X]}\n  - {type: select, proxies: [Y]}\n")
	out := Merge(doc(t, template), []*model.Document{sub})
	if len(out.ProxyGroups) != 4 {
		t.Fatalf("groups=%d, want=4", len(out.ProxyGroups))
	}
}

func TestMerge_GroupWithoutProxiesGetsList(t *testing.T) {
	tpl := doc(t, "proxy-groups:\n  - {name: G, type: select}\n")
	sub := doc(t, "proxy-groups:\n  - {name: G, type: select, proxies: [X, X, Y]}\n")
	out := Merge(tpl, []*model.Document{sub})
	if got, want := groupRefs(t, out, "G"), []string{"X", "Y"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("G=%v, want=%v", got, want)
	}
}

const base = `
port: 9000
mode: rule
tun:
  enable: true
proxy-groups:
  - name: Proxy
    type: select
    proxies: [Auto, DIRECT, gone-node]
  - name: Auto
    type: url-test
    proxies: []
rules:
  - GEOIP,CN,DIRECT
  - MATCH,Proxy
`

func TestOverlay(t *testing.T) {
	merged := Merge(doc(t, template), []*model.Document{doc(t, subA)})
	b := doc(t, base)
	out := Overlay(merged, b)

	if *out.Port != 9000 {
		t.Fatalf("port=%d, want base port", *out.Port)
	}
	if !reflect.DeepEqual(out.Rules, b.Rules) {
		t.Fatalf("rules=%v, want base rules %v", out.Rules, b.Rules)
	}
	if got, want := out.ProxyNames(), merged.ProxyNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("proxies=%v, want merged set %v", got, want)
	}
	if got, want := out.GroupNames(), []string{"Proxy", "Auto"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("groups=%v, want=%v", got, want)
	}
	if got, want := groupRefs(t, out, "Proxy"), []string{"Auto", "DIRECT", "T1", "A1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Proxy=%v, want=%v", got, want)
	}
	if got, want := groupRefs(t, out, "Auto"), []string{"T1", "A1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Auto=%v, want=%v", got, want)
	}
	if !out.Extra.Has("tun") {
		t.Fatalf("base-only key tun missing")
	}
	if lvl, _ := out.Extra.GetString("log-level"); lvl != "debug" {
		t.Fatalf("result-only key log-level lost")
	}
	if got := groupRefs(t, b, "Proxy"); !reflect.DeepEqual(got, []string{"Auto", "DIRECT", "gone-node"}) {
		t.Fatalf("base was mutated: %v", got)
	}
}

func TestOverlay_NilBase(t *testing.T) {
	merged := Merge(doc(t, template), nil)
	out := Overlay(merged, nil)
	if !reflect.DeepEqual(out.Rules, merged.Rules) || !reflect.DeepEqual(out.ProxyNames(), merged.ProxyNames()) {
		t.Fatalf("nil base must pass through")
	}
	out.Rules[0] = "changed"
	if merged.Rules[0] == "changed" {
		t.Fatalf("Overlay returned an alias of merged")
	}
}

func TestMerge_SubscriptionPortsIgnored(t *testing.T) {
	tpl := doc(t, "mixed-port: 7890\nmode: rule\n")
	sub := doc(t, "port: 7890\nsocks-port: 7891\nredir-port: 7892\nproxies:\n  - {name: P, type: socks5, server: p.example.com, port: 1080}\n")

	out := Merge(tpl, []*model.Document{sub})

	if out.Port != nil || out.SocksPort != nil || out.RedirPort != nil {
		t.Fatalf("ports=%v/%v/%v, want all nil", out.Port, out.SocksPort, out.RedirPort)
	}
	v, _ := out.Extra.Get("mixed-port")
	if n, ok := v.AsInt(); !ok || n != 7890 {
		t.Fatalf("mixed-port=%v, want=7890", n)
	}
	if got := out.ProxyNames(); !reflect.DeepEqual(got, []string{"P"}) {
		t.Fatalf("proxies=%v, want=[P]", got)
	}
}

func TestPolicyTables(t *testing.T) {
	if MergePolicies.Proxies != Append || MergePolicies.ProxyGroups != MergeByName || MergePolicies.Ports != Keep {
		t.Fatalf("MergePolicies=%+v", MergePolicies)
	}
	if OverlayPolicies.Rules != Replace || OverlayPolicies.Proxies != Keep || OverlayPolicies.Extra != BaseWins {
		t.Fatalf("OverlayPolicies=%+v", OverlayPolicies)
	}
	if MergeByName.String() != "MERGE_BY_NAME" {
		t.Fatalf("String()=%q", MergeByName.String())
	}
}
