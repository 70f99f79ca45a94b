package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/mihomocli/internal/store"
)

type env struct {
	paths store.Paths
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	p := store.Paths{ConfigDir: filepath.Join(root, "config"), CacheDir: filepath.Join(root, "cache")}
	// Pre-seed resources so merge never reaches for the mirrors.
	if err := os.MkdirAll(p.ResourcesDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Country.mmdb", "geoip.dat", "geosite.dat"} {
		if err := os.WriteFile(filepath.Join(p.ResourcesDir(), name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return env{paths: p}
}

func (e env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--config-dir", e.paths.ConfigDir, "--cache-dir", e.paths.CacheDir}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\nstderr=%s", args, err, errOut)
	}
	return out
}

func writeSub(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "local-sub.yaml")
	body := "proxies:\n  - {name: jp-1, type: ss, server: jp.example, port: 443, cipher: aes-128-gcm, password: p}\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInit(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun(t, "init")
	if !strings.HasPrefix(out, "Initialized at: "+e.paths.ConfigDir+"\n") {
		t.Fatalf("out=%q", out)
	}
	if _, err := os.Stat(e.paths.DefaultTemplatePath()); err != nil {
		t.Fatalf("default template not seeded: %v", err)
	}
}

func TestMerge_LocalSourceToFile(t *testing.T) {
	e := newEnv(t)
	src := writeSub(t, t.TempDir())

	out := e.mustRun(t, "merge", "-s", src)
	want := "merged config written to " + e.paths.OutputConfigPath() + "\n"
	if out != want {
		t.Fatalf("out=%q, want=%q", out, want)
	}
	data, err := os.ReadFile(e.paths.OutputConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	cfg := string(data)
	if !strings.Contains(cfg, "jp-1") {
		t.Fatalf("merged config lacks proxy:\n%s", cfg)
	}
	if !strings.Contains(cfg, "DOMAIN-SUFFIX,github.com,") {
		t.Fatalf("merged config lacks dev rules:\n%s", cfg)
	}
}

func TestMerge_StdoutWithoutDevRules(t *testing.T) {
	e := newEnv(t)
	src := writeSub(t, t.TempDir())

	out := e.mustRun(t, "merge", "--stdout", "--dev-rules=false", "-s", src)
	if !strings.Contains(out, "jp-1") {
		t.Fatalf("stdout lacks proxy:\n%s", out)
	}
	if strings.Contains(out, "github.com") {
		t.Fatalf("dev rules present although disabled:\n%s", out)
	}
	if _, err := os.Stat(e.paths.OutputConfigPath()); !os.IsNotExist(err) {
		t.Fatalf("output file written in --stdout mode: %v", err)
	}
}

func TestMerge_DryRun(t *testing.T) {
	e := newEnv(t)
	src := writeSub(t, t.TempDir())

	out, errOut, err := e.run(t, "merge", "--dry-run", "--dev-rules-show", "--fake-ip-bypass", "+.corp.example", "-s", src)
	if err != nil {
		t.Fatalf("merge: %v\nstderr=%s", err, errOut)
	}
	for _, want := range []string{
		"dry-run summary:\n- proxies: 1,",
		"filter+=1 (requested)",
		"- dev-rules: enabled=true,",
		"would write to " + e.paths.OutputConfigPath() + " (suppressed by --dry-run)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary lacks %q:\n%s", want, out)
		}
	}
	if !strings.Contains(errOut, "dev-rule: DOMAIN-SUFFIX,github.com,") {
		t.Fatalf("stderr lacks dev rules:\n%s", errOut)
	}
	if _, err := os.Stat(e.paths.OutputConfigPath()); !os.IsNotExist(err) {
		t.Fatalf("output file written in dry-run: %v", err)
	}
}

func TestMerge_NoSources(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "merge")
	if err == nil || !strings.Contains(err.Error(), "no subscription provided") {
		t.Fatalf("err=%v", err)
	}
	_, _, err = e.run(t, "merge", "--use-last")
	if err == nil || !strings.Contains(err.Error(), "no cached last subscription URL") {
		t.Fatalf("err=%v", err)
	}
}

func TestMerge_RemembersAndReusesLastURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("proxies:\n  - {name: us-1, type: http, server: us.example, port: 80}\n"))
	}))
	defer ts.Close()

	e := newEnv(t)
	e.mustRun(t, "merge", "-s", ts.URL+"/sub")
	if out := e.mustRun(t, "manage", "cache", "show"); !strings.HasPrefix(out, "last-subscription-url: "+ts.URL+"/sub\n") {
		t.Fatalf("cache show=%q", out)
	}

	out := e.mustRun(t, "merge", "--use-last", "--stdout")
	if !strings.Contains(out, "us-1") {
		t.Fatalf("use-last output lacks proxy:\n%s", out)
	}

	if out := e.mustRun(t, "manage", "cache", "clear"); out != "cleared last-subscription-url\n" {
		t.Fatalf("cache clear=%q", out)
	}
	if out := e.mustRun(t, "manage", "cache", "show"); !strings.HasPrefix(out, "last-subscription-url: <none>\ncached subscriptions: <none>\n") {
		t.Fatalf("cache show after clear=%q", out)
	}
}

func TestManageCustom(t *testing.T) {
	e := newEnv(t)
	if out := e.mustRun(t, "manage", "custom", "list"); out != "<no custom rules>\n" {
		t.Fatalf("empty list=%q", out)
	}
	if out := e.mustRun(t, "manage", "custom", "add", "--domain", "example.com", "--via", "direct"); out != "custom rule added\n" {
		t.Fatalf("add=%q", out)
	}
	if out := e.mustRun(t, "manage", "custom", "add", "--domain", "example.com", "--via", "DIRECT"); out != "custom rule already exists\n" {
		t.Fatalf("duplicate add=%q", out)
	}
	e.mustRun(t, "manage", "custom", "add", "--domain", "corp.example", "--via", "proxy", "--kind", "keyword")

	want := "DOMAIN-SUFFIX,example.com,DIRECT\nDOMAIN-KEYWORD,corp.example,Proxy\n"
	if out := e.mustRun(t, "manage", "custom", "list"); out != want {
		t.Fatalf("list=%q, want=%q", out, want)
	}

	if out := e.mustRun(t, "manage", "check", "--domain", "www.example.com"); out != "direct\n" {
		t.Fatalf("check custom=%q", out)
	}
	if out := e.mustRun(t, "manage", "check", "--domain", "api.github.com"); out != "proxy\n" {
		t.Fatalf("check dev=%q", out)
	}

	if out := e.mustRun(t, "manage", "custom", "remove", "--domain", "example.com"); out != "removed 1 rule(s)\n" {
		t.Fatalf("remove=%q", out)
	}
	if out := e.mustRun(t, "manage", "custom", "remove", "--domain", "nothing.example"); out != "removed 0 rule(s)\n" {
		t.Fatalf("remove missing=%q", out)
	}

	if _, _, err := e.run(t, "manage", "custom", "add", "--domain", "x.example", "--via", "direct", "--kind", "regex"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestManageCheck_AgainstConfig(t *testing.T) {
	e := newEnv(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	body := "rules:\n  - DOMAIN-SUFFIX,example.com,DIRECT\n  - MATCH,Proxy\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if out := e.mustRun(t, "manage", "check", "--domain", "a.example.com", "--config", cfg); out != "direct\tDOMAIN-SUFFIX,example.com,DIRECT\n" {
		t.Fatalf("check=%q", out)
	}
	if out := e.mustRun(t, "manage", "check", "--domain", "other.test", "--config", cfg); out != "proxy\tMATCH,Proxy\n" {
		t.Fatalf("check=%q", out)
	}
}

func TestManageDevList(t *testing.T) {
	e := newEnv(t)
	plain := e.mustRun(t, "manage", "dev-list")
	if !strings.Contains(plain, "github.com\n") || !strings.Contains(plain, "cache.nixos.org\n") {
		t.Fatalf("plain=%q", plain)
	}
	js := e.mustRun(t, "manage", "dev-list", "--format", "json")
	if !strings.HasPrefix(js, "[\n  \"") || !strings.Contains(js, `"claude.ai"`) {
		t.Fatalf("json=%q", js)
	}
	y := e.mustRun(t, "manage", "dev-list", "--format", "yaml")
	if !strings.Contains(y, "- github.com\n") {
		t.Fatalf("yaml=%q", y)
	}
}
