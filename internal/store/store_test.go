package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSubscriptionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.yaml")
	data := "current: a\nitems:\n  - name: a\n    url: https://example.com/a\n  - name: b\n    path: /tmp/b.yaml\n    enabled: false\n    kind: merge\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := LoadSubscriptionList(path)
	if err != nil {
		t.Fatalf("LoadSubscriptionList: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("items=%d, want=2", len(list.Items))
	}
	a, b := list.Items[0], list.Items[1]
	if !a.Enabled || a.Kind != KindClash {
		t.Fatalf("a enabled=%v kind=%q, want=true clash", a.Enabled, a.Kind)
	}
	if a.ID != "https://example.com/a" {
		t.Fatalf("a id=%q", a.ID)
	}
	if b.Enabled || b.Kind != KindMerge || b.ID != "/tmp/b.yaml" {
		t.Fatalf("b=%+v", b)
	}
	if got := len(list.Enabled()); got != 1 {
		t.Fatalf("enabled=%d, want=1", got)
	}
}

func TestSubscriptionListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "subscriptions.yaml")
	list, err := LoadSubscriptionList(path)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("items=%d, want=0", len(list.Items))
	}
	list.Items = append(list.Items, FromInput(0, "https://sub.example.com/api?token=x"))
	list.Items[0].ETag = `"abc"`
	if err := SaveSubscriptionList(path, list); err != nil {
		t.Fatalf("SaveSubscriptionList: %v", err)
	}
	got, err := LoadSubscriptionList(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ETag != `"abc"` || got.Items[0].Name != "sub.example.com" {
		t.Fatalf("reloaded=%+v", got.Items)
	}
}

func TestEnsureIDFallsBackToUUID(t *testing.T) {
	s := Subscription{Name: "x"}
	s.EnsureID()
	if len(s.ID) != 36 {
		t.Fatalf("id=%q, want uuid", s.ID)
	}
	keep := s.ID
	s.EnsureID()
	if s.ID != keep {
		t.Fatalf("EnsureID changed an existing id")
	}
}

func TestFromInput(t *testing.T) {
	s := FromInput(2, "/data/subs/airport.yaml")
	if s.Path != "/data/subs/airport.yaml" || s.Name != "airport" || s.URL != "" {
		t.Fatalf("path source=%+v", s)
	}
	s = FromInput(3, "http://10.0.0.1:8080/sub")
	if s.Name != "10.0.0.1:8080" || s.URL == "" {
		t.Fatalf("url source=%+v", s)
	}
	s = FromInput(4, "https:///nohost")
	if s.Name != "cli-4" {
		t.Fatalf("name=%q, want=cli-4", s.Name)
	}
}

func TestCustomRules(t *testing.T) {
	var st AppState
	if !st.AddCustomRule(CustomRule{Domain: "example.com", Via: "direct"}) {
		t.Fatalf("first add should succeed")
	}
	if st.AddCustomRule(CustomRule{Domain: " example.com ", Kind: RuleSuffix, Via: "DIRECT"}) {
		t.Fatalf("duplicate add should be refused")
	}
	st.AddCustomRule(CustomRule{Domain: "example.com", Kind: RuleDomain, Via: "proxy"})
	st.AddCustomRule(CustomRule{Domain: "ads", Kind: RuleKeyword, Via: "reject"})

	want := []string{
		"DOMAIN-SUFFIX,example.com,DIRECT",
		"DOMAIN,example.com,Proxy",
		"DOMAIN-KEYWORD,ads,REJECT",
	}
	for i, r := range st.CustomRules {
		if r.String() != want[i] {
			t.Fatalf("rule[%d]=%q, want=%q", i, r.String(), want[i])
		}
	}

	if n := st.RemoveCustomRules("example.com", "proxy"); n != 1 {
		t.Fatalf("removed=%d, want=1", n)
	}
	if n := st.RemoveCustomRules("example.com", ""); n != 1 {
		t.Fatalf("removed=%d, want=1", n)
	}
	if len(st.CustomRules) != 1 || st.CustomRules[0].Domain != "ads" {
		t.Fatalf("left=%+v", st.CustomRules)
	}
}

func TestParseRuleKind(t *testing.T) {
	for in, want := range map[string]RuleKind{"": RuleSuffix, "Domain": RuleDomain, "keyword": RuleKeyword, "suffix": RuleSuffix} {
		got, err := ParseRuleKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseRuleKind(%q)=%q,%v, want=%q", in, got, err, want)
		}
	}
	if _, err := ParseRuleKind("regex"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestAppStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	st := &AppState{LastSubscriptionURL: "https://example.com/sub"}
	st.AddCustomRule(CustomRule{Domain: "corp.internal", Kind: RuleSuffix, Via: "DIRECT"})
	if err := SaveAppState(path, st); err != nil {
		t.Fatalf("SaveAppState: %v", err)
	}
	got, err := LoadAppState(path)
	if err != nil {
		t.Fatalf("LoadAppState: %v", err)
	}
	if got.LastSubscriptionURL != st.LastSubscriptionURL || len(got.CustomRules) != 1 || got.CustomRules[0] != st.CustomRules[0] {
		t.Fatalf("got=%+v", got)
	}
}

func TestLoadAppStateParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte("custom_rules: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadAppState(path)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StoreError, got %T (%v)", err, err)
	}
	if se.AppError.Code != "STORE_PARSE_ERROR" || se.AppError.Stage != "store" {
		t.Fatalf("code=%q stage=%q", se.AppError.Code, se.AppError.Stage)
	}
}

func TestEnsureRuntimeDirsSeedsTemplate(t *testing.T) {
	root := t.TempDir()
	p := Paths{ConfigDir: filepath.Join(root, "cfg"), CacheDir: filepath.Join(root, "cache")}
	if err := p.EnsureRuntimeDirs(); err != nil {
		t.Fatalf("EnsureRuntimeDirs: %v", err)
	}
	data, err := os.ReadFile(p.DefaultTemplatePath())
	if err != nil {
		t.Fatalf("template not seeded: %v", err)
	}
	if !strings.Contains(string(data), "🚀 节点选择") {
		t.Fatalf("seeded template lacks the selector group")
	}

	if err := os.WriteFile(p.DefaultTemplatePath(), []byte("custom: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.EnsureRuntimeDirs(); err != nil {
		t.Fatalf("second EnsureRuntimeDirs: %v", err)
	}
	data, _ = os.ReadFile(p.DefaultTemplatePath())
	if string(data) != "custom: true\n" {
		t.Fatalf("existing template was overwritten")
	}
	for _, dir := range []string{p.ResourcesDir(), p.OutputDir(), p.SubscriptionCacheDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("dir %s missing", dir)
		}
	}
}

func TestResolvePaths(t *testing.T) {
	root := t.TempDir()
	p := Paths{ConfigDir: root}
	if got := p.ResolveTemplatePath("mine.yaml"); got != filepath.Join(root, "templates", "mine.yaml") {
		t.Fatalf("template=%q", got)
	}
	if got := p.ResolveTemplatePath("/abs/t.yaml"); got != "/abs/t.yaml" {
		t.Fatalf("abs template=%q", got)
	}
	if _, ok := p.ResolveBasePath(""); ok {
		t.Fatalf("no base-config.yaml yet, want ok=false")
	}
	if err := os.WriteFile(p.BaseConfigPath(), []byte("port: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, ok := p.ResolveBasePath(""); !ok || got != p.BaseConfigPath() {
		t.Fatalf("base=%q ok=%v", got, ok)
	}
	if got, _ := p.ResolveBasePath("other.yaml"); got != filepath.Join(root, "other.yaml") {
		t.Fatalf("relative base=%q", got)
	}
}
