package vmess

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/John-Robertt/mihomocli/internal/model"
)

func link(json string) string {
	return Scheme + base64.StdEncoding.EncodeToString([]byte(json))
}

func TestParseURI_WebSocketTLS(t *testing.T) {
	v, err := ParseURI(link(`{"v":"2","ps":"Test Node","add":"vmess.example.com","port":"443","id":"123e4567-e89b-12d3-a456-426614174000","aid":"0","net":"ws","path":"/ws","host":"ws.example.com","tls":"tls","sni":"sni.example.com","fp":"chrome","alpn":"h2, http/1.1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, _ := v.AsMapping()
	want := map[string]string{
		"name":               "Test Node",
		"type":               "vmess",
		"server":             "vmess.example.com",
		"uuid":               "123e4567-e89b-12d3-a456-426614174000",
		"network":            "ws",
		"servername":         "sni.example.com",
		"client-fingerprint": "chrome",
	}
	for k, w := range want {
		if got, _ := m.GetString(k); got != w {
			t.Fatalf("%s=%q, want=%q", k, got, w)
		}
	}
	if p, _ := m.Get("port"); !p.Equal(model.Int(443)) {
		t.Fatalf("port=%s, want=443", p.Text())
	}
	if a, _ := m.Get("alterId"); !a.Equal(model.Int(0)) {
		t.Fatalf("alterId=%s, want=0", a.Text())
	}
	if tls, _ := m.Get("tls"); !tls.Equal(model.Bool(true)) {
		t.Fatalf("tls=%s, want=true", tls.Text())
	}
	if alpn, _ := m.Get("alpn"); !alpn.Equal(model.Strings([]string{"h2", "http/1.1"})) {
		t.Fatalf("alpn mismatch")
	}
	wsv, _ := m.Get("ws-opts")
	ws, ok := wsv.AsMapping()
	if !ok {
		t.Fatalf("ws-opts missing")
	}
	if p, _ := ws.GetString("path"); p != "/ws" {
		t.Fatalf("ws path=%q, want=/ws", p)
	}
	hv, _ := ws.Get("headers")
	headers, _ := hv.AsMapping()
	if h, _ := headers.GetString("Host"); h != "ws.example.com" {
		t.Fatalf("ws host=%q, want=ws.example.com", h)
	}
}

func TestParseURI_NumericPortAndDefaultName(t *testing.T) {
	v, err := ParseURI(link(`{"add":"1.2.3.4","port":8443,"id":"abc","aid":2,"scy":"auto","allowInsecure":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, _ := v.AsMapping()
	if n, _ := m.GetString("name"); n != "1.2.3.4" {
		t.Fatalf("name=%q, want=%q", n, "1.2.3.4")
	}
	if p, _ := m.Get("port"); !p.Equal(model.Int(8443)) {
		t.Fatalf("port=%s, want=8443", p.Text())
	}
	if a, _ := m.Get("alterId"); !a.Equal(model.Int(2)) {
		t.Fatalf("alterId=%s, want=2", a.Text())
	}
	if c, _ := m.GetString("cipher"); c != "auto" {
		t.Fatalf("cipher=%q, want=auto", c)
	}
	if s, _ := m.Get("skip-cert-verify"); !s.Equal(model.Bool(true)) {
		t.Fatalf("skip-cert-verify missing")
	}
	if m.Has("tls") || m.Has("network") {
		t.Fatalf("unexpected keys: %v", m.Keys())
	}
}

func TestParseURI_UnpaddedBase64(t *testing.T) {
	raw := Scheme + base64.RawURLEncoding.EncodeToString([]byte(`{"add":"h","port":"1","id":"u"}`))
	if _, err := ParseURI(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseURI_MissingFields(t *testing.T) {
	for _, js := range []string{
		`{"port":"443","id":"u"}`,
		`{"add":"h","id":"u"}`,
		`{"add":"h","port":"70000","id":"u"}`,
		`{"add":"h","port":"443"}`,
		`not json`,
	} {
		_, err := ParseURI(link(js))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: expected *ParseError, got %T: %v", js, err, err)
		}
		if pe.AppError.Stage != "parse_sub" {
			t.Fatalf("stage=%q, want=%q", pe.AppError.Stage, "parse_sub")
		}
	}
}
