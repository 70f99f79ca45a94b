package vmess

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/sub/b64"
)

const Scheme = "vmess://"

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseURI converts a v2rayN style vmess:// link (base64 of a JSON object)
// into a Mihomo proxy record.
func ParseURI(line string) (model.Value, error) {
	fail := func(msg string, cause error) (model.Value, error) {
		return model.Value{}, &ParseError{
			AppError: model.AppError{
				Code:    "SUB_PARSE_ERROR",
				Message: msg,
				Stage:   "parse_sub",
				Snippet: model.TruncateSnippet(line, 200),
			},
			Cause: cause,
		}
	}

	body, err := b64.Decode(strings.TrimPrefix(strings.TrimSpace(line), Scheme))
	if err != nil {
		return fail("vmess base64 解码失败", err)
	}
	if !utf8.Valid(body) || !gjson.ValidBytes(body) {
		return fail("vmess 内容不是合法 JSON", nil)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return fail("vmess 内容不是 JSON 对象", nil)
	}

	server := doc.Get("add")
	if server.Type != gjson.String || server.String() == "" {
		return fail("vmess 缺少服务器地址 add", nil)
	}
	port, ok := portOf(doc.Get("port"))
	if !ok {
		return fail("vmess 缺少或非法的端口 port", nil)
	}
	uuid := doc.Get("id")
	if uuid.Type != gjson.String || uuid.String() == "" {
		return fail("vmess 缺少 uuid（id）", nil)
	}

	name := server.String()
	if ps := doc.Get("ps"); ps.Type == gjson.String {
		name = ps.String()
	}

	m := model.NewMapping()
	m.Set("name", model.String(name))
	m.Set("type", model.String("vmess"))
	m.Set("server", model.String(server.String()))
	m.Set("port", model.Int(int64(port)))
	m.Set("uuid", model.String(uuid.String()))

	if aid, ok := uintOf(doc.Get("aid")); ok {
		m.Set("alterId", model.Int(int64(aid)))
	}
	cipher := doc.Get("scy")
	if !cipher.Exists() {
		cipher = doc.Get("cipher")
	}
	if s := stringOf(cipher); s != "" {
		m.Set("cipher", model.String(s))
	}

	if network := stringOf(doc.Get("net")); network != "" {
		m.Set("network", model.String(network))
		if strings.EqualFold(network, "ws") {
			ws := model.NewMapping()
			if path := stringOf(doc.Get("path")); path != "" {
				ws.Set("path", model.String(path))
			}
			if host := stringOf(doc.Get("host")); host != "" {
				headers := model.NewMapping()
				headers.Set("Host", model.String(host))
				ws.Set("headers", model.Map(headers))
			}
			if ws.Len() > 0 {
				m.Set("ws-opts", model.Map(ws))
			}
		}
	}

	if tls := stringOf(doc.Get("tls")); strings.EqualFold(tls, "tls") || tls == "1" {
		m.Set("tls", model.Bool(true))
	}
	if sni := stringOf(doc.Get("sni")); sni != "" {
		m.Set("servername", model.String(sni))
	}
	if fp := stringOf(doc.Get("fp")); fp != "" {
		m.Set("client-fingerprint", model.String(fp))
	}
	if alpn := stringOf(doc.Get("alpn")); alpn != "" {
		m.Set("alpn", model.Strings(splitList(alpn)))
	}
	if ai := doc.Get("allowInsecure"); ai.Type == gjson.True || (ai.Type == gjson.String && ai.String() == "1") {
		m.Set("skip-cert-verify", model.Bool(true))
	}
	return model.Map(m), nil
}

// portOf accepts "443" as well as 443.
func portOf(r gjson.Result) (int, bool) {
	n, ok := uintOf(r)
	if !ok || n < 1 || n > 65535 {
		return 0, false
	}
	return int(n), true
}

func uintOf(r gjson.Result) (uint64, bool) {
	switch r.Type {
	case gjson.String:
		n, err := strconv.ParseUint(strings.TrimSpace(r.String()), 10, 64)
		return n, err == nil
	case gjson.Number:
		if r.Num < 0 || r.Num != float64(uint64(r.Num)) {
			return 0, false
		}
		return r.Uint(), true
	default:
		return 0, false
	}
}

func stringOf(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(r.String())
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
