package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/store"
)

func newTestPaths(t *testing.T) store.Paths {
	t.Helper()
	root := t.TempDir()
	p := store.Paths{ConfigDir: filepath.Join(root, "config"), CacheDir: filepath.Join(root, "cache")}
	if err := p.EnsureRuntimeDirs(); err != nil {
		t.Fatalf("EnsureRuntimeDirs: %v", err)
	}
	return p
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("proxies:\n  - {name: hk-1, type: ss, server: hk.example, port: 443, cipher: aes-128-gcm, password: p}\n"))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.AppError {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nbody=%q", err, rr.Body.String())
	}
	return resp.Error
}

func TestHealthz(t *testing.T) {
	h := NewHandler(Options{Paths: newTestPaths(t)})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestConfig_MergesPersistedList(t *testing.T) {
	ts := upstream(t)
	paths := newTestPaths(t)
	sub := store.FromInput(0, ts.URL+"/sub")
	if err := store.SaveSubscriptionList(paths.SubscriptionsFile(), &store.SubscriptionList{Items: []store.Subscription{sub}}); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(Options{Paths: paths})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/config", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/yaml; charset=utf-8" {
		t.Fatalf("Content-Type=%q", got)
	}
	if got := rr.Header().Get("X-Mihomocli-Warnings"); got != "0" {
		t.Fatalf("warnings header=%q, want=0", got)
	}

	doc, err := model.ParseDocument("test", "response", rr.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a config: %v", err)
	}
	if names := doc.ProxyNames(); len(names) != 1 || names[0] != "hk-1" {
		t.Fatalf("proxies=%v, want=[hk-1]", names)
	}
	refs := model.GroupRefs(doc.ProxyGroups[doc.GroupIndex(model.DefaultSelectorName)])
	found := false
	for _, r := range refs {
		if r == "hk-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("selector refs=%v lack hk-1", refs)
	}

	list, err := store.LoadSubscriptionList(paths.SubscriptionsFile())
	if err != nil {
		t.Fatal(err)
	}
	if list.Items[0].ETag != `"v1"` || list.Items[0].LastUpdated == nil {
		t.Fatalf("persisted validators not updated: %+v", list.Items[0])
	}
}

func TestConfig_InvalidQuery(t *testing.T) {
	h := NewHandler(Options{Paths: newTestPaths(t)})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/config?dev_rules=maybe", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if app := decodeError(t, rr); app.Code != "INVALID_ARGUMENT" || app.Stage != "validate_request" {
		t.Fatalf("error=%+v", app)
	}
}

func TestConfig_MissingTemplate(t *testing.T) {
	paths := newTestPaths(t)
	if err := os.Remove(paths.DefaultTemplatePath()); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(Options{Paths: paths})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/config", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if app := decodeError(t, rr); app.Code != "TEMPLATE_READ_ERROR" {
		t.Fatalf("code=%q, want=TEMPLATE_READ_ERROR", app.Code)
	}
}

func TestMetrics_CountsRequestsAndErrors(t *testing.T) {
	h := NewHandler(Options{Paths: newTestPaths(t)})

	for _, target := range []string{"/healthz", "/config?dev_rules=x"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{
		`mihomocli_http_requests_total{pattern="GET /healthz",status="200"} 1`,
		`mihomocli_http_requests_total{pattern="GET /config",status="400"} 1`,
		`mihomocli_app_errors_total{code="INVALID_ARGUMENT",stage="validate_request"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics body missing %q, got:\n%s", want, body)
		}
	}
}
