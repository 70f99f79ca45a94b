package sub

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const ssLine = "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201"
const trojanLine = "trojan://password@example.com:443?allowInsecure=1&sni=example.com#Example"

func TestDecode_NativeYAML(t *testing.T) {
	src := "proxies:\n  - {name: a, type: ss, server: s, port: 1, cipher: c, password: p}\nmode: rule\n"
	doc, warns, err := Decode("https://example.com/sub", []byte(src), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warns) != 0 {
		t.Fatalf("warnings=%v, want none", warns)
	}
	if got := doc.ProxyNames(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("proxies=%v, want=[a]", got)
	}
	if !doc.Extra.Has("mode") {
		t.Fatalf("extra key mode dropped")
	}
}

func TestDecode_AlternateDisabledIsSoftFailure(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(ssLine + "\n"))
	_, _, err := Decode("https://example.com/sub", []byte(payload), Options{AllowAlternate: false})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
	if de.AppError.Stage != "parse_sub" {
		t.Fatalf("stage=%q, want=%q", de.AppError.Stage, "parse_sub")
	}
	if de.AppError.URL != "https://example.com/sub" {
		t.Fatalf("url=%q", de.AppError.URL)
	}
}

func TestDecode_Base64ShareLinks(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(trojanLine))
	doc, _, err := Decode("src", []byte(payload), Options{AllowAlternate: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Proxies) != 1 {
		t.Fatalf("len=%d, want=1", len(doc.Proxies))
	}
	m, _ := doc.Proxies[0].AsMapping()
	if typ, _ := m.GetString("type"); typ != "trojan" {
		t.Fatalf("type=%q, want=trojan", typ)
	}
	if s, _ := m.GetString("server"); s != "example.com" {
		t.Fatalf("server=%q, want=example.com", s)
	}
	if doc.Extra.Len() != 0 || len(doc.Rules) != 0 || len(doc.ProxyGroups) != 0 {
		t.Fatalf("share-link decode must yield proxies only")
	}
}

func TestDecode_Base64WrappedYAML(t *testing.T) {
	yml := "proxies:\n  - {name: wrapped, type: ss, server: s, port: 1, cipher: c, password: p}\n"
	payload := base64.StdEncoding.EncodeToString([]byte(yml))
	doc, _, err := Decode("src", []byte(payload), Options{AllowAlternate: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.ProxyNames(); len(got) != 1 || got[0] != "wrapped" {
		t.Fatalf("proxies=%v, want=[wrapped]", got)
	}
}

func TestDecode_PlainListWithBadLineAndUnknownScheme(t *testing.T) {
	payload := strings.Join([]string{
		ssLine,
		"hysteria2://unsupported@example.com:443",
		"ss://!!!broken",
		trojanLine,
	}, "\r\n")
	doc, warns, err := Decode("https://example.com/list", []byte(payload), Options{AllowAlternate: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(doc.ProxyNames(), ","); got != "Node 1,Example" {
		t.Fatalf("proxies=%q, want=%q", got, "Node 1,Example")
	}
	if len(warns) != 1 {
		t.Fatalf("warnings=%d, want=1: %+v", len(warns), warns)
	}
	if warns[0].Line != 3 {
		t.Fatalf("warning line=%d, want=3", warns[0].Line)
	}
	if warns[0].URL != "https://example.com/list" {
		t.Fatalf("warning url=%q", warns[0].URL)
	}
}

func TestDecode_NothingUsable(t *testing.T) {
	_, _, err := Decode("src", []byte("hello there\nnot a config\n"), Options{AllowAlternate: true})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
	if de.AppError.Code != "SUB_NO_PROXIES" {
		t.Fatalf("code=%q, want=%q", de.AppError.Code, "SUB_NO_PROXIES")
	}
}
